package request

import (
	"strings"

	"github.com/relaycore/claude-router/internal/apierrors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// BuildChatCompletionsRequest translates a filtered, routed Anthropic
// Messages body into an OpenAI Chat Completions request for the
// openai-compatible adapter (spec.md §4.4), grounded on the teacher's
// ConvertClaudeRequestToOpenAI for the flattened {role,content} message
// shape and tool_use/tool_result handling.
//
// Unlike the openai adapter, this path has no reasoning-item continuity:
// only the final assistant turn's thinking text is carried forward, as
// plain visible text, since Chat Completions has no reasoning item type.
func BuildChatCompletionsRequest(effectiveModel string, body []byte) ([]byte, error) {
	root := gjson.ParseBytes(body)

	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", effectiveModel)
	out, _ = sjson.Set(out, "stream", root.Get("stream").Bool())

	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
	}
	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", temp.Float())
	} else if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.Set(out, "top_p", topP.Float())
	}
	if stops := stopSequences(root.Get("stop_sequences")); stops != nil {
		out, _ = sjson.Set(out, "stop", stops)
	}

	messagesJSON, err := buildChatMessages(root)
	if err != nil {
		return nil, err
	}
	out, _ = sjson.SetRaw(out, "messages", messagesJSON)

	if tools := root.Get("tools"); tools.Exists() && tools.IsArray() {
		toolsJSON, err := buildChatTools(tools)
		if err != nil {
			return nil, err
		}
		if gjson.Parse(toolsJSON).IsArray() && len(gjson.Parse(toolsJSON).Array()) > 0 {
			out, _ = sjson.SetRaw(out, "tools", toolsJSON)
		}
	}

	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		out, _ = setChatToolChoice(out, toolChoice)
	}

	return []byte(out), nil
}

func stopSequences(seqs gjson.Result) interface{} {
	if !seqs.Exists() || !seqs.IsArray() {
		return nil
	}
	var stops []string
	for _, v := range seqs.Array() {
		stops = append(stops, v.String())
	}
	switch len(stops) {
	case 0:
		return nil
	case 1:
		return stops[0]
	default:
		return stops
	}
}

func setChatToolChoice(out string, toolChoice gjson.Result) (string, error) {
	switch toolChoice.Get("type").String() {
	case "auto":
		out, _ = sjson.Set(out, "tool_choice", "auto")
	case "any":
		out, _ = sjson.Set(out, "tool_choice", "required")
	case "tool":
		choice := `{"type":"function","function":{"name":""}}`
		choice, _ = sjson.Set(choice, "function.name", toolChoice.Get("name").String())
		out, _ = sjson.SetRaw(out, "tool_choice", choice)
	default:
		out, _ = sjson.Set(out, "tool_choice", "auto")
	}
	return out, nil
}

// buildChatMessages flattens every Anthropic message into one or more
// Chat Completions messages, preserving wire order: a message's own
// text/thinking content comes first, then any tool_use calls as a
// separate assistant message, then any tool_result blocks as individual
// tool-role messages, matching the ordering the teacher's converter uses.
func buildChatMessages(root gjson.Result) (string, error) {
	messages := "[]"

	if system := root.Get("system"); system.Exists() {
		if systemMsg, ok := buildSystemMessage(system); ok {
			messages, _ = sjson.SetRaw(messages, "-1", systemMsg)
		}
	}

	msgs := root.Get("messages")
	if !msgs.Exists() || !msgs.IsArray() {
		return messages, nil
	}

	allMessages := msgs.Array()
	lastAssistantIndex := -1
	for i, message := range allMessages {
		if strings.ToLower(message.Get("role").String()) == "assistant" {
			lastAssistantIndex = i
		}
	}
	for i, message := range allMessages {
		isLast := i == lastAssistantIndex
		role := message.Get("role").String()
		content := message.Get("content")

		if content.Type == gjson.String {
			msg := `{"role":"","content":""}`
			msg, _ = sjson.Set(msg, "role", role)
			msg, _ = sjson.Set(msg, "content", content.String())
			messages, _ = sjson.SetRaw(messages, "-1", msg)
			continue
		}
		if !content.IsArray() {
			continue
		}

		var textParts []string
		var toolCalls []string
		var toolResults []string

		for _, block := range content.Array() {
			switch block.Get("type").String() {
			case "text":
				if part, ok := convertChatContentPart(block); ok {
					textParts = append(textParts, part)
				}
			case "image":
				if part, ok := convertChatContentPart(block); ok {
					textParts = append(textParts, part)
				}
			case "thinking":
				// Chat Completions has no reasoning-item continuity (that's
				// the openai adapter's concern); only the most recent
				// assistant turn's thinking is surfaced, as plain text.
				if isLast && strings.ToLower(role) == "assistant" {
					text := block.Get("thinking").String()
					if strings.TrimSpace(text) != "" {
						part := `{"type":"text","text":""}`
						part, _ = sjson.Set(part, "text", text)
						textParts = append(textParts, part)
					}
				}
			case "tool_use":
				name := block.Get("name").String()
				input := block.Get("input")
				if name == "" || !input.Exists() {
					return "", apierrors.New(apierrors.KindInvalidRequest, "malformed tool_use block: missing name or input")
				}
				call := `{"id":"","type":"function","function":{"name":"","arguments":""}}`
				call, _ = sjson.Set(call, "id", block.Get("id").String())
				call, _ = sjson.Set(call, "function.name", name)
				call, _ = sjson.Set(call, "function.arguments", input.Raw)
				toolCalls = append(toolCalls, call)
			case "tool_result":
				result := `{"role":"tool","tool_call_id":"","content":""}`
				result, _ = sjson.Set(result, "tool_call_id", block.Get("tool_use_id").String())
				result, _ = sjson.Set(result, "content", formatToolResultOutput(block.Get("content")))
				toolResults = append(toolResults, result)
			default:
				return "", apierrors.Newf(apierrors.KindInvalidRequest, "unknown content block type %q", block.Get("type").String())
			}
		}

		if len(textParts) > 0 {
			msg := `{"role":"","content":[]}`
			msg, _ = sjson.Set(msg, "role", role)
			contentArray := "[]"
			for _, part := range textParts {
				contentArray, _ = sjson.SetRaw(contentArray, "-1", part)
			}
			msg, _ = sjson.SetRaw(msg, "content", contentArray)
			messages, _ = sjson.SetRaw(messages, "-1", msg)
		}

		if strings.ToLower(role) == "assistant" && len(toolCalls) > 0 {
			msg := `{"role":"assistant","tool_calls":[]}`
			calls := "[]"
			for _, call := range toolCalls {
				calls, _ = sjson.SetRaw(calls, "-1", call)
			}
			msg, _ = sjson.SetRaw(msg, "tool_calls", calls)
			messages, _ = sjson.SetRaw(messages, "-1", msg)
		}

		for _, result := range toolResults {
			messages, _ = sjson.SetRaw(messages, "-1", result)
		}
	}

	return messages, nil
}

func buildSystemMessage(system gjson.Result) (string, bool) {
	msg := `{"role":"system","content":[]}`
	added := false

	if system.Type == gjson.String {
		if system.String() == "" {
			return "", false
		}
		part := `{"type":"text","text":""}`
		part, _ = sjson.Set(part, "text", system.String())
		msg, _ = sjson.SetRaw(msg, "content.-1", part)
		return msg, true
	}

	if system.IsArray() {
		for _, block := range system.Array() {
			if part, ok := convertChatContentPart(block); ok {
				msg, _ = sjson.SetRaw(msg, "content.-1", part)
				added = true
			}
		}
	}
	return msg, added
}

func convertChatContentPart(part gjson.Result) (string, bool) {
	switch part.Get("type").String() {
	case "text":
		text := part.Get("text").String()
		if strings.TrimSpace(text) == "" {
			return "", false
		}
		content := `{"type":"text","text":""}`
		content, _ = sjson.Set(content, "text", text)
		return content, true

	case "image":
		imageURL := imageURLFrom(part)
		if imageURL == "" {
			return "", false
		}
		content := `{"type":"image_url","image_url":{"url":""}}`
		content, _ = sjson.Set(content, "image_url.url", imageURL)
		return content, true

	default:
		return "", false
	}
}

func buildChatTools(tools gjson.Result) (string, error) {
	out := "[]"
	for _, tool := range tools.Array() {
		name := tool.Get("name").String()
		if name == "" {
			return "", apierrors.New(apierrors.KindInvalidRequest, "malformed tool declaration: missing name")
		}
		t := `{"type":"function","function":{"name":"","description":""}}`
		t, _ = sjson.Set(t, "function.name", name)
		t, _ = sjson.Set(t, "function.description", tool.Get("description").String())
		if schema := tool.Get("input_schema"); schema.Exists() {
			t, _ = sjson.SetRaw(t, "function.parameters", schema.Raw)
		}
		out, _ = sjson.SetRaw(out, "-1", t)
	}
	return out, nil
}
