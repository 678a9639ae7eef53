package routing

import (
	"net/http"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/relaycore/claude-router/internal/config"
	"github.com/tidwall/gjson"
)

// matchAll reports whether every predicate in `when` matches (headers,
// body) per spec.md §4.2's predicate semantics. Predicates in one rule are
// ANDed; absent predicates match anything (there are none here to check).
func matchAll(cfg *config.Config, when map[string]string, headers http.Header, body []byte) bool {
	for key, want := range when {
		if !matchOne(cfg, key, want, headers, body) {
			return false
		}
	}
	return true
}

func matchOne(cfg *config.Config, key, want string, headers http.Header, body []byte) bool {
	switch {
	case key == "system_regex":
		return regexSearch(cfg, want, concatenatedSystemText(body))
	case key == "user_regex":
		return regexSearch(cfg, want, lastUserMessageText(body))
	case key == "model_regex":
		return regexSearch(cfg, want, gjson.GetBytes(body, "model").String())
	case key == "has_tool":
		return hasTool(body, want)
	case key == "used_tool":
		return usedTool(body, want)
	case strings.HasPrefix(key, "header."):
		name := strings.TrimPrefix(key, "header.")
		return headers.Get(name) == want
	default:
		return false
	}
}

// regexSearch is a case-insensitive `search` match against the pattern
// compiled and cached by config.Validate at load time -- see its REDESIGN
// FLAGS #1 comment. A Config built without Load (tests, embedding)
// compiles here instead; a pattern that fails to compile on that path is
// treated as non-matching, mirroring the original router's request-time
// fallback.
func regexSearch(cfg *config.Config, pattern, text string) bool {
	re := cfg.WhenPattern(pattern)
	if re == nil {
		var err error
		re, err = regexp2.Compile(pattern, regexp2.IgnoreCase)
		if err != nil {
			return false
		}
	}
	ok, err := re.MatchString(text)
	return err == nil && ok
}

func concatenatedSystemText(body []byte) string {
	system := gjson.GetBytes(body, "system")
	if !system.Exists() {
		return ""
	}
	if system.Type == gjson.String {
		return system.String()
	}
	var b strings.Builder
	for _, block := range system.Array() {
		if block.Get("type").String() == "text" {
			b.WriteString(block.Get("text").String())
		}
	}
	return b.String()
}

// lastUserMessageText returns the text content of the last message with
// role "user"; earlier user turns are ignored per spec.md §4.2.
func lastUserMessageText(body []byte) string {
	messages := gjson.GetBytes(body, "messages")
	if !messages.Exists() || !messages.IsArray() {
		return ""
	}
	arr := messages.Array()
	for i := len(arr) - 1; i >= 0; i-- {
		msg := arr[i]
		if msg.Get("role").String() != "user" {
			continue
		}
		content := msg.Get("content")
		if content.Type == gjson.String {
			return content.String()
		}
		var b strings.Builder
		for _, block := range content.Array() {
			if block.Get("type").String() == "text" {
				b.WriteString(block.Get("text").String())
			}
		}
		return b.String()
	}
	return ""
}

func hasTool(body []byte, name string) bool {
	for _, tool := range gjson.GetBytes(body, "tools").Array() {
		if tool.Get("name").String() == name {
			return true
		}
	}
	return false
}

// usedTool implements the supplemented "plan mode" predicate: it scans
// assistant turns for an invoked tool_use block with the given name,
// distinct from has_tool's check of the declared tools[] array. Grounded
// on src/router/router.py's ExitPlanMode-scanning is_plan_mode helper.
func usedTool(body []byte, name string) bool {
	for _, msg := range gjson.GetBytes(body, "messages").Array() {
		if msg.Get("role").String() != "assistant" {
			continue
		}
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		for _, block := range content.Array() {
			if block.Get("type").String() == "tool_use" && block.Get("name").String() == name {
				return true
			}
		}
	}
	return false
}
