// Package filter implements the C2 filter pipeline: stateless transforms
// that strip restricted tools and scrub system-prompt clauses from an
// inbound Anthropic request body, operating on raw JSON via gjson/sjson
// the same way the teacher's translator package does, so that every field
// the filters don't touch survives byte-stable (spec.md §8 "Filter
// commutativity with passthrough").
package filter

import (
	"strings"

	"github.com/relaycore/claude-router/internal/config"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FilterTools removes every tool whose name matches (case-folded) an entry
// in policy.RestrictedToolNames, grounded on
// claude_router/adapters/tool_filter.py's filter_tools_in_request. Returns
// a new byte slice when a tool is removed, and body itself when nothing is
// removed; body is never mutated.
func FilterTools(body []byte, policy config.ToolPolicyConfig) []byte {
	tools := gjson.GetBytes(body, "tools")
	if !tools.Exists() || !tools.IsArray() {
		return body
	}

	restricted := make(map[string]struct{}, len(policy.RestrictedToolNames))
	for _, name := range policy.RestrictedToolNames {
		restricted[strings.ToLower(name)] = struct{}{}
	}
	if len(restricted) == 0 {
		return body
	}

	var kept []gjson.Result
	for _, tool := range tools.Array() {
		name := strings.ToLower(tool.Get("name").String())
		if _, blocked := restricted[name]; !blocked {
			kept = append(kept, tool)
		}
	}

	if len(kept) == len(tools.Array()) {
		return body // nothing matched, no copy needed beyond what callers already hold
	}

	out := append([]byte(nil), body...)
	if len(kept) == 0 {
		out, _ = sjson.DeleteBytes(out, "tools")
		return out
	}

	newTools := "[]"
	for _, t := range kept {
		newTools, _ = sjson.SetRaw(newTools, "-1", t.Raw)
	}
	out, _ = sjson.SetRawBytes(out, "tools", []byte(newTools))
	return out
}
