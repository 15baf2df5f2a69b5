package transport

// spotlightFields lists the tool-result field names treated as carrying
// untrusted natural-language content. A tool's JSON result is spotlighted by
// wrapping exactly these fields so a downstream agent can tell "this text
// came from a tool, not from the user or the model" without the mediator
// having to understand every tool's schema.
var spotlightFields = map[string]bool{
	"text":    true,
	"message": true,
	"content": true,
	"summary": true,
}

const spotlightPrefix = "[UNTRUSTED_CONTENT] "

// Spotlight walks a decoded JSON tool result (map[string]any / []any /
// scalars) and marks every string value stored under a spotlightFields key
// as untrusted, recursing into nested objects/arrays so a result wrapped in
// an envelope still gets its leaf text fields marked.
func Spotlight(v any) any {
	return spotlight(v, false)
}

func spotlight(v any, parentIsSpotlightField bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = spotlight(child, spotlightFields[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = spotlight(child, parentIsSpotlightField)
		}
		return out
	case string:
		if parentIsSpotlightField {
			return spotlightPrefix + val
		}
		return val
	default:
		return val
	}
}
