package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML policy document from path, validates it with
// validator, and returns it only if validation finds no errors. A policy
// that fails validation is never returned, so a caller cannot accidentally
// bind a malformed document to a SecurityCore.
func LoadFile(path string, validator *Validator) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading %s: %w", path, err)
	}

	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("policy: parsing %s: %w", path, err)
	}

	if errs := validator.Validate(&p); len(errs) > 0 {
		return nil, fmt.Errorf("policy: %s failed validation (%d error(s)): %w", path, len(errs), joinErrors(errs))
	}

	return &p, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
