package response

import "sync"

// standardFields is the fixed OpenAI field allowlist from spec.md §4.4;
// anything else found on a message/choice object is a candidate for
// custom-field surfacing.
var standardFields = map[string]bool{
	"content":       true,
	"role":          true,
	"name":          true,
	"refusal":       true,
	"tool_calls":    true,
	"tool_call_id":  true,
	"function_call": true,
	"finish_reason": true,
	"index":         true,
	"logprobs":      true,
	"delta":         true,
	"usage":         true,
}

var (
	customFieldsMu sync.RWMutex
	customFields   = map[string]string{
		"reasoning_content": "thinking",
		"thinking_content":  "thinking",
		"reasoning":         "thinking",
		"thinking":          "thinking",
	}
)

// RegisterCustomField adds (or overrides) a CUSTOM_FIELD_MAPPING entry,
// mirroring the teacher's internal/thinking/apply.go RegisterProvider
// self-registration pattern: an operator embedding this proxy can surface
// an additional non-standard upstream field as an Anthropic content block
// without forking this package.
func RegisterCustomField(field, blockType string) {
	customFieldsMu.Lock()
	defer customFieldsMu.Unlock()
	customFields[field] = blockType
}

func customFieldBlockType(field string) (string, bool) {
	customFieldsMu.RLock()
	defer customFieldsMu.RUnlock()
	t, ok := customFields[field]
	return t, ok
}

func isStandardField(field string) bool {
	return standardFields[field]
}
