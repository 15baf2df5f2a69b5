// Package config defines the mediator's on-disk/CLI-overridable
// configuration, following the teacher's mapstructure+json dual-tag struct
// convention and its JSON-string Duration wrapper.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration marshals as a Go duration string ("5s", "250ms") in JSON/YAML
// instead of zap's/viper's default nanosecond integer, so hand-edited policy
// and config files stay readable.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val)
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("config: invalid duration type %T", v)
	}
}

// LogConfig controls the zap+lumberjack logging stack, mirroring the
// teacher's internal/logs configuration shape.
type LogConfig struct {
	Level         string `mapstructure:"level" json:"level"`
	EnableFile    bool   `mapstructure:"enable_file" json:"enable_file"`
	EnableConsole bool   `mapstructure:"enable_console" json:"enable_console"`
	Filename      string `mapstructure:"filename" json:"filename"`
	LogDir        string `mapstructure:"log_dir" json:"log_dir"`
	MaxSize       int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge        int    `mapstructure:"max_age" json:"max_age"`
	Compress      bool   `mapstructure:"compress" json:"compress"`
	JSONFormat    bool   `mapstructure:"json_format" json:"json_format"`
}

// UpstreamConfig describes the single tool-providing process the mediator
// spawns and supervises.
type UpstreamConfig struct {
	Command    string            `mapstructure:"command" json:"command"`
	Args       []string          `mapstructure:"args" json:"args"`
	Env        map[string]string `mapstructure:"env" json:"env,omitempty"`
	WorkingDir string            `mapstructure:"working_dir" json:"working_dir,omitempty"`
}

// HTTPConfig controls the HTTP interceptor transport shape.
type HTTPConfig struct {
	Listen          string   `mapstructure:"listen" json:"listen"`
	APIKey          string   `mapstructure:"api_key" json:"api_key,omitempty"`
	UpstreamBaseURL string   `mapstructure:"upstream_base_url" json:"upstream_base_url"`
	RedisAddr       string   `mapstructure:"redis_addr" json:"redis_addr,omitempty"`
	RedisTimeout    Duration `mapstructure:"redis_timeout" json:"redis_timeout"`
	HealthTimeout   Duration `mapstructure:"health_timeout" json:"health_timeout"`
}

// Config is the mediator's complete runtime configuration.
type Config struct {
	PolicyFile         string         `mapstructure:"policy_file" json:"policy_file"`
	ExpectedAudience   string         `mapstructure:"expected_audience" json:"expected_audience,omitempty"`
	RequireSessionAuth bool           `mapstructure:"require_session_auth" json:"require_session_auth"`
	Spotlighting       bool           `mapstructure:"spotlighting" json:"spotlighting"`
	AuditOnly          bool           `mapstructure:"audit_only" json:"audit_only"`
	CallToolTimeout    Duration       `mapstructure:"call_tool_timeout" json:"call_tool_timeout"`
	Upstream           UpstreamConfig `mapstructure:"upstream" json:"upstream"`
	HTTP               HTTPConfig     `mapstructure:"http" json:"http"`
	Logging            *LogConfig     `mapstructure:"logging" json:"logging"`
}

// DefaultConfig returns the mediator's zero-config defaults: stdio shape,
// console logging, a 30s call-tool timeout, fail-closed (AuditOnly=false).
func DefaultConfig() *Config {
	return &Config{
		CallToolTimeout: Duration{30 * time.Second},
		HTTP: HTTPConfig{
			Listen:        ":8443",
			RedisTimeout:  Duration{200 * time.Millisecond},
			HealthTimeout: Duration{2 * time.Second},
		},
		Logging: &LogConfig{
			Level:         "info",
			EnableConsole: true,
			Filename:      "sentinel.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		},
	}
}
