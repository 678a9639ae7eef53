// Package request implements C4, the Anthropic-to-OpenAI request adapter,
// for both adapter shapes named in spec.md §4.3/§4.4: the Responses API
// (openai) and Chat Completions (openai-compatible). Bodies are built by
// gjson/sjson manipulation against a JSON template string, the same idiom
// the teacher's internal/translator/openai/claude/openai_claude_request.go
// uses, rather than unmarshalling into Go structs first.
package request

import (
	"strings"

	"github.com/relaycore/claude-router/internal/apierrors"
	"github.com/relaycore/claude-router/internal/config"
	"github.com/relaycore/claude-router/internal/reasoning"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const builtinWebSearchTool = `{"type":"web_search"}`

// BuildResponsesRequest translates a filtered, routed Anthropic Messages
// body into an OpenAI Responses API request for the openai adapter,
// grounded on claude_router/adapters/openai/responses_request_adapter.py
// for exact field semantics.
func BuildResponsesRequest(effectiveModel string, body []byte, provider config.ProviderConfig) ([]byte, error) {
	root := gjson.ParseBytes(body)

	// include/store are conceptually per-client defaults (spec.md §4.3);
	// this proxy builds one full request body per call rather than
	// holding a persistent SDK client object, so they are set here.
	out := `{"model":"","input":[],"store":false,"include":["reasoning.encrypted_content"]}`
	out, _ = sjson.Set(out, "model", effectiveModel)
	out, _ = sjson.Set(out, "stream", root.Get("stream").Bool())

	if instructions := buildInstructions(root.Get("system")); instructions != "" {
		out, _ = sjson.Set(out, "instructions", instructions)
	}

	inputJSON, err := buildInputItems(root.Get("messages"))
	if err != nil {
		return nil, err
	}
	out, _ = sjson.SetRaw(out, "input", inputJSON)

	if tools := root.Get("tools"); tools.Exists() && tools.IsArray() {
		toolsJSON, err := buildResponsesTools(tools)
		if err != nil {
			return nil, err
		}
		out, _ = sjson.SetRaw(out, "tools", toolsJSON)
	}
	if provider.EffectiveAutoWebSearch() {
		out, _ = sjson.SetRaw(out, "tools.-1", builtinWebSearchTool)
	}

	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", temp.Float())
	}
	if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.Set(out, "top_p", topP.Float())
	}
	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		mt := maxTokens.Int()
		if mt < 16 {
			mt = 16
		}
		out, _ = sjson.Set(out, "max_output_tokens", mt)
	}

	if effort := resolveReasoningEffort(root, provider); effort != "" {
		reasoningCfg := `{"effort":""}`
		reasoningCfg, _ = sjson.Set(reasoningCfg, "effort", effort)
		if effort != "minimal" {
			reasoningCfg, _ = sjson.Set(reasoningCfg, "summary", "auto")
		}
		out, _ = sjson.SetRaw(out, "reasoning", reasoningCfg)
	}

	return []byte(out), nil
}

// resolveReasoningEffort honors a config-patch-set reasoning.effort first
// (spec.md §4.3 "unless the config patch already set an effort"), else
// derives it from thinking.budget_tokens via the provider's thresholds.
func resolveReasoningEffort(root gjson.Result, provider config.ProviderConfig) string {
	if patched := root.Get("reasoning.effort"); patched.Exists() {
		return patched.String()
	}
	thinking := root.Get("thinking")
	if !thinking.Exists() || !thinking.IsObject() {
		return ""
	}
	if thinking.Get("type").String() != "enabled" {
		return ""
	}
	budget := thinking.Get("budget_tokens")
	if !budget.Exists() || budget.Int() <= 0 {
		return ""
	}
	return reasoning.EffortForBudget(int(budget.Int()), provider.EffectiveReasoningThresholds())
}

func buildInstructions(system gjson.Result) string {
	if !system.Exists() {
		return ""
	}
	if system.Type == gjson.String {
		return system.String()
	}
	var parts []string
	for _, block := range system.Array() {
		if block.Get("type").String() == "text" || !block.Get("type").Exists() {
			parts = append(parts, block.Get("text").String())
		}
	}
	return strings.Join(parts, "\n")
}

func contentTypeFor(role, kind string) string {
	switch strings.ToLower(role) {
	case "user", "system":
		return "input_" + kind
	case "assistant", "bot":
		return "output_" + kind
	default:
		return "input_" + kind
	}
}

// buildInputItems expands every Anthropic message into zero or more
// Responses input items, grounded on responses_request_adapter.py's
// _convert_messages accumulate/flush control flow.
func buildInputItems(messages gjson.Result) (string, error) {
	items := "[]"
	if !messages.Exists() || !messages.IsArray() {
		return items, nil
	}

	for _, message := range messages.Array() {
		role := message.Get("role").String()
		content := message.Get("content")

		if content.Type == gjson.String {
			msg := `{"type":"message","role":"","content":[]}`
			msg, _ = sjson.Set(msg, "role", role)
			part := `{"type":"","text":""}`
			part, _ = sjson.Set(part, "type", contentTypeFor(role, "text"))
			part, _ = sjson.Set(part, "text", content.String())
			msg, _ = sjson.SetRaw(msg, "content.-1", part)
			items, _ = sjson.SetRaw(items, "-1", msg)
			continue
		}

		if !content.IsArray() {
			continue
		}

		current := "" // accumulated {"type":"message","role":...,"content":[...]}
		flush := func() {
			if current == "" {
				return
			}
			if c := gjson.Get(current, "content"); c.IsArray() && len(c.Array()) > 0 {
				items, _ = sjson.SetRaw(items, "-1", current)
			}
			current = ""
		}
		ensure := func() {
			if current == "" {
				current = `{"type":"message","role":"","content":[]}`
				current, _ = sjson.Set(current, "role", role)
			}
		}

		for _, block := range content.Array() {
			blockType := block.Get("type").String()
			switch blockType {
			case "text":
				ensure()
				part := `{"type":"","text":""}`
				part, _ = sjson.Set(part, "type", contentTypeFor(role, "text"))
				part, _ = sjson.Set(part, "text", block.Get("text").String())
				current, _ = sjson.SetRaw(current, "content.-1", part)

			case "image":
				ensure()
				imageURL := imageURLFrom(block)
				part := `{"type":"","image_url":""}`
				kind := "input_image"
				if strings.ToLower(role) == "assistant" {
					kind = "output_image"
				}
				part, _ = sjson.Set(part, "type", kind)
				part, _ = sjson.Set(part, "image_url", imageURL)
				current, _ = sjson.SetRaw(current, "content.-1", part)

			case "tool_use":
				flush()
				name := block.Get("name").String()
				input := block.Get("input")
				if name == "" || !input.Exists() {
					return "", apierrors.New(apierrors.KindInvalidRequest, "malformed tool_use block: missing name or input")
				}
				call := `{"type":"function_call","name":"","arguments":"","call_id":""}`
				call, _ = sjson.Set(call, "name", name)
				call, _ = sjson.Set(call, "arguments", input.Raw)
				call, _ = sjson.Set(call, "call_id", block.Get("id").String())
				items, _ = sjson.SetRaw(items, "-1", call)

			case "tool_result":
				flush()
				result := `{"type":"function_call_output","call_id":"","output":""}`
				callID := block.Get("tool_use_id").String()
				if callID == "" {
					callID = block.Get("id").String()
				}
				result, _ = sjson.Set(result, "call_id", callID)
				result, _ = sjson.Set(result, "output", formatToolResultOutput(block.Get("content")))
				items, _ = sjson.SetRaw(items, "-1", result)

			case "thinking":
				thinkingBlock := reasoning.ParseThinkingBlock(block)
				if strings.ToLower(role) != "assistant" {
					continue
				}
				flush()
				if reasoningItem, ok := thinkingBlock.ReasoningInputItem(); ok {
					items, _ = sjson.SetRaw(items, "-1", reasoningItem)
					continue
				}
				ensure()
				part := `{"type":"","text":""}`
				part, _ = sjson.Set(part, "type", contentTypeFor(role, "text"))
				part, _ = sjson.Set(part, "text", thinkingBlock.DegradedText())
				current, _ = sjson.SetRaw(current, "content.-1", part)
				flush()

			default:
				return "", apierrors.Newf(apierrors.KindInvalidRequest, "unknown content block type %q", blockType)
			}
		}
		flush()
	}

	return items, nil
}

func imageURLFrom(block gjson.Result) string {
	source := block.Get("source")
	if !source.Exists() {
		return block.Get("url").String()
	}
	switch source.Get("type").String() {
	case "url":
		return source.Get("url").String()
	default:
		mediaType := source.Get("media_type").String()
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}
		data := source.Get("data").String()
		if data == "" {
			return ""
		}
		return "data:" + mediaType + ";base64," + data
	}
}

func formatToolResultOutput(content gjson.Result) string {
	if !content.Exists() {
		return ""
	}
	if content.Type == gjson.String {
		return content.String()
	}
	return content.Raw
}

func buildResponsesTools(tools gjson.Result) (string, error) {
	out := "[]"
	for _, tool := range tools.Array() {
		name := tool.Get("name").String()
		if name == "" {
			return "", apierrors.New(apierrors.KindInvalidRequest, "malformed tool declaration: missing name")
		}
		t := `{"type":"function","name":"","description":""}`
		t, _ = sjson.Set(t, "name", name)
		t, _ = sjson.Set(t, "description", tool.Get("description").String())
		if schema := tool.Get("input_schema"); schema.Exists() {
			t, _ = sjson.SetRaw(t, "parameters", schema.Raw)
		} else {
			t, _ = sjson.Set(t, "parameters", nil)
		}
		out, _ = sjson.SetRaw(out, "-1", t)
	}
	return out, nil
}
