// Package response implements C5, the OpenAI-to-Anthropic response adapter,
// in both its non-streaming form (this file) and its streaming event
// correlator (stream.go, C9).
package response

import (
	"strings"

	"github.com/google/uuid"
	"github.com/relaycore/claude-router/internal/reasoning"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// BuildAnthropicMessage translates a non-streaming downstream OpenAI reply
// into one Anthropic message, dispatching on whether the body is Responses
// API shaped (`output[]`) or Chat Completions shaped (`choices[]`) — the
// two shapes the openai and openai-compatible adapters respectively produce.
func BuildAnthropicMessage(openaiBody []byte, originalModel string) []byte {
	root := gjson.ParseBytes(openaiBody)
	if root.Get("output").Exists() {
		return buildFromResponsesOutput(root, originalModel)
	}
	return buildFromChatCompletion(root, originalModel)
}

func newAnthropicEnvelope(originalModel string) string {
	env := `{"id":"","type":"message","role":"assistant","content":[],"model":"","stop_reason":"end_turn","usage":{"input_tokens":0,"output_tokens":0}}`
	env, _ = sjson.Set(env, "id", "msg_"+uuid.NewString())
	env, _ = sjson.Set(env, "model", originalModel)
	return env
}

// buildFromResponsesOutput walks a Responses API reply's output items in
// order, grounded on responses_response_adapter.py's adapt_response.
func buildFromResponsesOutput(root gjson.Result, originalModel string) []byte {
	out := newAnthropicEnvelope(originalModel)
	stopReason := "end_turn"

	for _, item := range root.Get("output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, part := range item.Get("content").Array() {
				if part.Get("type").String() != "output_text" {
					continue
				}
				block := `{"type":"text","text":""}`
				block, _ = sjson.Set(block, "text", part.Get("text").String())
				out, _ = sjson.SetRaw(out, "content.-1", block)

				if annotations := part.Get("annotations"); annotations.IsArray() && len(annotations.Array()) > 0 {
					out = appendWebSearchBlocks(out, item.Get("id").String(), annotations)
				}
			}
			for _, extra := range scanCustomFields(item) {
				out, _ = sjson.SetRaw(out, "content.-1", extra)
			}

		case "reasoning":
			block := `{"type":"thinking","thinking":""}`
			block, _ = sjson.Set(block, "thinking", concatSummary(item.Get("summary")))
			block = reasoning.InjectFromResponse(block, item.Get("id").String(), item.Get("encrypted_content").String())
			out, _ = sjson.SetRaw(out, "content.-1", block)

		case "function_call":
			block := `{"type":"tool_use","id":"","name":"","input":{}}`
			block, _ = sjson.Set(block, "id", item.Get("call_id").String())
			block, _ = sjson.Set(block, "name", item.Get("name").String())
			block, _ = sjson.SetRaw(block, "input", functionCallArguments(item.Get("arguments")))
			out, _ = sjson.SetRaw(out, "content.-1", block)
			stopReason = "tool_use"
		}
	}

	if status := root.Get("status"); status.Exists() && stopReason != "tool_use" {
		stopReason = mapStopReason(status.String())
	}
	out, _ = sjson.Set(out, "stop_reason", stopReason)
	out, _ = sjson.SetRaw(out, "usage", mapUsage(root.Get("usage")))

	return []byte(out)
}

// buildFromChatCompletion handles the openai-compatible adapter's reply
// shape, grounded on the same field-mapping tables as the Responses path
// (stop-reason/usage mapping is shared; the content shape differs).
func buildFromChatCompletion(root gjson.Result, originalModel string) []byte {
	out := newAnthropicEnvelope(originalModel)

	choice := root.Get("choices.0")
	message := choice.Get("message")
	stopReason := "end_turn"

	if content := message.Get("content"); content.Exists() && content.Type == gjson.String && content.String() != "" {
		block := `{"type":"text","text":""}`
		block, _ = sjson.Set(block, "text", content.String())
		out, _ = sjson.SetRaw(out, "content.-1", block)
	}

	for _, tc := range message.Get("tool_calls").Array() {
		fn := tc.Get("function")
		block := `{"type":"tool_use","id":"","name":"","input":{}}`
		block, _ = sjson.Set(block, "id", tc.Get("id").String())
		block, _ = sjson.Set(block, "name", fn.Get("name").String())
		block, _ = sjson.SetRaw(block, "input", functionCallArguments(fn.Get("arguments")))
		out, _ = sjson.SetRaw(out, "content.-1", block)
		stopReason = "tool_use"
	}

	if stopReason != "tool_use" {
		stopReason = mapStopReason(choice.Get("finish_reason").String())
	}
	out, _ = sjson.Set(out, "stop_reason", stopReason)
	out, _ = sjson.SetRaw(out, "usage", mapChatUsage(root.Get("usage")))

	for _, extra := range scanCustomFields(message) {
		out, _ = sjson.SetRaw(out, "content.-1", extra)
	}

	return []byte(out)
}

// appendWebSearchBlocks surfaces an output_text part's URL-citation
// annotations as a server_tool_use block plus its web_search_tool_result,
// so results from the appended built-in web_search tool reach the client
// instead of being dropped.
func appendWebSearchBlocks(out, messageID string, annotations gjson.Result) string {
	toolUseID := webSearchToolUseID(messageID)

	toolUse := `{"type":"server_tool_use","id":"","name":"web_search","input":{"query":""}}`
	toolUse, _ = sjson.Set(toolUse, "id", toolUseID)
	out, _ = sjson.SetRaw(out, "content.-1", toolUse)

	results := "[]"
	for _, annotation := range annotations.Array() {
		if annotation.Get("type").String() != "url_citation" {
			continue
		}
		results, _ = sjson.SetRaw(results, "-1", webSearchResult(annotation))
	}
	if len(gjson.Parse(results).Array()) == 0 {
		return out
	}

	result := `{"type":"web_search_tool_result","tool_use_id":"","content":[]}`
	result, _ = sjson.Set(result, "tool_use_id", toolUseID)
	result, _ = sjson.SetRaw(result, "content", results)
	out, _ = sjson.SetRaw(out, "content.-1", result)
	return out
}

func webSearchToolUseID(messageID string) string {
	if messageID == "" {
		messageID = "unknown"
	}
	return "srvtoolu_" + messageID
}

func webSearchResult(annotation gjson.Result) string {
	result := `{"type":"web_search_result","url":"","title":""}`
	result, _ = sjson.Set(result, "url", annotation.Get("url").String())
	result, _ = sjson.Set(result, "title", annotation.Get("title").String())
	return result
}

func concatSummary(summary gjson.Result) string {
	var parts []string
	for _, part := range summary.Array() {
		parts = append(parts, part.Get("text").String())
	}
	return strings.Join(parts, "")
}

// functionCallArguments parses a Responses/Chat-Completions `arguments`
// string (or, defensively, an already-decoded object) into a raw JSON
// value suitable for the Anthropic tool_use block's `input` field. On
// unparsable JSON it degrades to `{"raw_arguments": <original text>}`
// rather than failing the whole response, per the original source's
// best-effort behavior for malformed tool-call arguments.
func functionCallArguments(arguments gjson.Result) string {
	if !arguments.Exists() {
		return "{}"
	}
	if arguments.IsObject() {
		return arguments.Raw
	}
	raw := arguments.String()
	if raw == "" {
		return "{}"
	}
	parsed := gjson.Parse(raw)
	if parsed.IsObject() {
		return parsed.Raw
	}
	fallback := `{"raw_arguments":""}`
	fallback, _ = sjson.Set(fallback, "raw_arguments", raw)
	return fallback
}

// mapStopReason translates an OpenAI finish/status reason to the
// Anthropic stop_reason vocabulary per spec.md §4.4.
func mapStopReason(reason string) string {
	switch reason {
	case "stop", "completed":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

func mapUsage(usage gjson.Result) string {
	out := `{"input_tokens":0,"output_tokens":0,"total_tokens":0}`
	in := usage.Get("input_tokens").Int()
	o := usage.Get("output_tokens").Int()
	out, _ = sjson.Set(out, "input_tokens", in)
	out, _ = sjson.Set(out, "output_tokens", o)
	out, _ = sjson.Set(out, "total_tokens", in+o)
	return out
}

// mapChatUsage translates Chat Completions prompt/completion token counts
// into the Anthropic usage shape.
func mapChatUsage(usage gjson.Result) string {
	out := `{"input_tokens":0,"output_tokens":0,"total_tokens":0}`
	out, _ = sjson.Set(out, "input_tokens", usage.Get("prompt_tokens").Int())
	out, _ = sjson.Set(out, "output_tokens", usage.Get("completion_tokens").Int())
	total := usage.Get("total_tokens").Int()
	if total == 0 {
		total = usage.Get("prompt_tokens").Int() + usage.Get("completion_tokens").Int()
	}
	out, _ = sjson.Set(out, "total_tokens", total)
	return out
}

// scanCustomFields reports non-standard fields on a message/choice object
// as additional content blocks, per spec.md §4.4's CUSTOM_FIELD_MAPPING.
func scanCustomFields(message gjson.Result) []string {
	if !message.IsObject() {
		return nil
	}
	var extras []string
	message.ForEach(func(key, value gjson.Result) bool {
		field := key.String()
		if isStandardField(field) {
			return true
		}
		blockType, ok := customFieldBlockType(field)
		if !ok {
			return true
		}
		text := value.String()
		if text == "" {
			return true
		}
		var block string
		if blockType == "thinking" {
			block = `{"type":"thinking","thinking":""}`
			block, _ = sjson.Set(block, "thinking", text)
		} else {
			block = `{"type":"","text":""}`
			block, _ = sjson.Set(block, "type", blockType)
			block, _ = sjson.Set(block, "text", text)
		}
		extras = append(extras, block)
		return true
	})
	return extras
}
