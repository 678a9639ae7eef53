package filter

import (
	"strings"

	"github.com/relaycore/claude-router/internal/config"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FilterSystemPrompt applies ordered clause filters to the top-level
// `system` field (string or list-of-blocks form), grounded on
// claude_router/adapters/prompt_filter.py's
// filter_system_prompt_in_request for exact drop-when-empty semantics.
func FilterSystemPrompt(body []byte, filters []config.SystemClauseFilter) []byte {
	system := gjson.GetBytes(body, "system")
	if !system.Exists() || len(filters) == 0 {
		return body
	}

	out := append([]byte(nil), body...)

	if system.Type == gjson.String {
		filtered := applyClauseFilters(system.String(), filters)
		if strings.TrimSpace(filtered) == "" {
			out, _ = sjson.DeleteBytes(out, "system")
			return out
		}
		out, _ = sjson.SetBytes(out, "system", filtered)
		return out
	}

	if system.IsArray() {
		blocks := system.Array()
		newSystem := "[]"
		any := false
		for _, block := range blocks {
			if block.Get("type").String() != "text" {
				newSystem, _ = sjson.SetRaw(newSystem, "-1", block.Raw)
				any = true
				continue
			}
			text := block.Get("text").String()
			filteredText := applyClauseFilters(text, filters)
			if strings.TrimSpace(filteredText) == "" {
				continue
			}
			blockJSON, _ := sjson.Set(block.Raw, "text", filteredText)
			newSystem, _ = sjson.SetRaw(newSystem, "-1", blockJSON)
			any = true
		}
		if !any {
			out, _ = sjson.DeleteBytes(out, "system")
			return out
		}
		out, _ = sjson.SetRawBytes(out, "system", []byte(newSystem))
		return out
	}

	return body
}

// applyClauseFilters runs every filter in order against text, returning
// the result after all matched spans are removed. Idempotent: running it
// twice on its own output is a no-op because a matched clause no longer
// matches once removed.
func applyClauseFilters(text string, filters []config.SystemClauseFilter) string {
	result := text
	for i := range filters {
		f := &filters[i]
		if f.IsRegex {
			re, err := f.Regexp()
			if err != nil {
				// Config validation rejects bad patterns at load time; a
				// pattern reaching here compiled once already.
				continue
			}
			replaced, err := re.Replace(result, "", -1, -1)
			if err == nil {
				result = replaced
			}
			continue
		}
		if f.CaseSensitive {
			result = strings.ReplaceAll(result, f.Pattern, "")
			continue
		}
		result = replaceCaseInsensitive(result, f.Pattern)
	}
	return result
}

func replaceCaseInsensitive(text, pattern string) string {
	if pattern == "" {
		return text
	}
	lowerText := strings.ToLower(text)
	lowerPattern := strings.ToLower(pattern)

	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lowerText[i:], lowerPattern)
		if idx < 0 {
			b.WriteString(text[i:])
			break
		}
		b.WriteString(text[i : i+idx])
		i += idx + len(pattern)
	}
	return b.String()
}
