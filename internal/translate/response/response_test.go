package response

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBuildAnthropicMessageFromResponsesOutput(t *testing.T) {
	body := []byte(`{
		"status": "completed",
		"usage": {"input_tokens": 10, "output_tokens": 5},
		"output": [
			{"type":"reasoning","id":"rs_1","encrypted_content":"ENC","summary":[{"type":"summary_text","text":"step one"}]},
			{"type":"message","id":"m1","status":"completed","content":[{"type":"output_text","text":"hello"}]}
		]
	}`)

	out := BuildAnthropicMessage(body, "claude-opus-4")
	root := gjson.ParseBytes(out)

	assert.Equal(t, "claude-opus-4", root.Get("model").String())
	assert.Equal(t, "end_turn", root.Get("stop_reason").String())
	assert.Equal(t, "thinking", root.Get("content.0.type").String())
	assert.Equal(t, "step one", root.Get("content.0.thinking").String())
	assert.Equal(t, "rs_1", root.Get("content.0.extracted_openai_rs_id").String())
	assert.Equal(t, "ENC", root.Get("content.0.extracted_openai_rs_encrypted_content").String())
	assert.Equal(t, "hello", root.Get("content.1.text").String())
	assert.Equal(t, int64(10), root.Get("usage.input_tokens").Int())
}

func TestBuildAnthropicMessageFunctionCallSetsToolUse(t *testing.T) {
	body := []byte(`{
		"output": [{"type":"function_call","call_id":"call_1","name":"lookup","arguments":"{\"q\":\"x\"}"}]
	}`)
	out := BuildAnthropicMessage(body, "claude-opus-4")
	root := gjson.ParseBytes(out)

	assert.Equal(t, "tool_use", root.Get("stop_reason").String())
	assert.Equal(t, "call_1", root.Get("content.0.id").String())
	assert.Equal(t, "x", root.Get("content.0.input.q").String())
}

func TestBuildAnthropicMessageSurfacesWebSearchAnnotations(t *testing.T) {
	body := []byte(`{
		"status": "completed",
		"output": [
			{"type":"message","id":"m1","status":"completed","content":[
				{"type":"output_text","text":"cited answer","annotations":[
					{"type":"url_citation","url":"https://example.com/a","title":"Example A"},
					{"type":"url_citation","url":"https://example.com/b","title":"Example B"}
				]}
			]}
		]
	}`)

	out := BuildAnthropicMessage(body, "claude-opus-4")
	root := gjson.ParseBytes(out)

	assert.Equal(t, "text", root.Get("content.0.type").String())
	assert.Equal(t, "server_tool_use", root.Get("content.1.type").String())
	assert.Equal(t, "web_search", root.Get("content.1.name").String())
	assert.Equal(t, "srvtoolu_m1", root.Get("content.1.id").String())
	assert.Equal(t, "web_search_tool_result", root.Get("content.2.type").String())
	assert.Equal(t, "srvtoolu_m1", root.Get("content.2.tool_use_id").String())
	results := root.Get("content.2.content").Array()
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/a", results[0].Get("url").String())
	assert.Equal(t, "Example B", results[1].Get("title").String())
}

func TestBuildAnthropicMessageFromChatCompletion(t *testing.T) {
	body := []byte(`{
		"choices": [{"finish_reason":"stop","message":{"role":"assistant","content":"hi there"}}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
	}`)
	out := BuildAnthropicMessage(body, "claude-opus-4")
	root := gjson.ParseBytes(out)

	assert.Equal(t, "end_turn", root.Get("stop_reason").String())
	assert.Equal(t, "hi there", root.Get("content.0.text").String())
	assert.Equal(t, int64(5), root.Get("usage.total_tokens").Int())
}

func TestBuildAnthropicMessageMalformedArgumentsDegrade(t *testing.T) {
	body := []byte(`{"output": [{"type":"function_call","call_id":"c1","name":"x","arguments":"not json"}]}`)
	out := BuildAnthropicMessage(body, "claude-opus-4")
	assert.Equal(t, "not json", gjson.GetBytes(out, "content.0.input.raw_arguments").String())
}

func TestBuildAnthropicMessageSurfacesCustomField(t *testing.T) {
	RegisterCustomField("my_extra_field", "thinking")
	body := []byte(`{
		"choices": [{"finish_reason":"stop","message":{"role":"assistant","content":"hi","my_extra_field":"side thought"}}]
	}`)
	out := BuildAnthropicMessage(body, "claude-opus-4")
	raw := string(out)
	assert.Contains(t, raw, "side thought")
}

func collectSSEEvents(t *testing.T, stream io.ReadCloser) []gjson.Result {
	t.Helper()
	defer stream.Close()
	var events []gjson.Result
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "data: ") {
			events = append(events, gjson.Parse(line[len("data: "):]))
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestConvertResponsesSSEStreamTextLifecycle(t *testing.T) {
	input := strings.Join([]string{
		`data: {"type":"response.created","model":"gpt-5"}`,
		`data: {"type":"response.output_text.delta","delta":"he"}`,
		`data: {"type":"response.output_text.delta","delta":"llo"}`,
		`data: {"type":"response.output_text.done"}`,
		`data: {"type":"response.completed","status":"completed","usage":{"input_tokens":1,"output_tokens":2}}`,
		``,
	}, "\n\n")

	stream := ConvertResponsesSSEStream(bytes.NewBufferString(input), "claude-opus-4")
	events := collectSSEEvents(t, stream)

	require.GreaterOrEqual(t, len(events), 5)
	assert.Equal(t, "message_start", events[0].Get("type").String())
	assert.Equal(t, "content_block_start", events[1].Get("type").String())
	assert.Equal(t, int64(0), events[1].Get("index").Int())
	assert.Equal(t, "text_delta", events[2].Get("delta.type").String())
	assert.Equal(t, "he", events[2].Get("delta.text").String())
	last := events[len(events)-1]
	assert.Equal(t, "message_stop", last.Get("type").String())
}

func TestConvertResponsesSSEStreamToolUseIndices(t *testing.T) {
	input := strings.Join([]string{
		`data: {"type":"response.created","model":"gpt-5"}`,
		`data: {"type":"response.function_call_arguments.delta","call_id":"c1","name":"lookup","arguments_delta":"{\"q\":"}`,
		`data: {"type":"response.function_call_arguments.delta","call_id":"c1","name":"lookup","arguments_delta":"\"x\"}"}`,
		`data: {"type":"response.function_call_arguments.done"}`,
		`data: {"type":"response.completed","status":"completed"}`,
		``,
	}, "\n\n")

	stream := ConvertResponsesSSEStream(bytes.NewBufferString(input), "claude-opus-4")
	events := collectSSEEvents(t, stream)

	var sawStart, sawStop bool
	for _, e := range events {
		if e.Get("type").String() == "content_block_start" && e.Get("content_block.type").String() == "tool_use" {
			sawStart = true
			assert.Equal(t, int64(0), e.Get("index").Int())
			assert.Equal(t, "lookup", e.Get("content_block.name").String())
		}
		if e.Get("type").String() == "content_block_stop" {
			sawStop = true
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawStop)
}

func TestConvertChatCompletionsSSEStreamTextAndToolCalls(t *testing.T) {
	input := strings.Join([]string{
		`data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"hi"}}]}`,
		`data: {"id":"chatcmpl-1","choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":""}}]}}]}`,
		`data: {"id":"chatcmpl-1","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{}"}}]}}]}`,
		`data: {"id":"chatcmpl-1","choices":[{"finish_reason":"tool_calls","delta":{}}]}`,
		`data: [DONE]`,
		``,
	}, "\n\n")

	stream := ConvertChatCompletionsSSEStream(bytes.NewBufferString(input), "claude-opus-4")
	events := collectSSEEvents(t, stream)

	require.NotEmpty(t, events)
	assert.Equal(t, "message_start", events[0].Get("type").String())
	last := events[len(events)-1]
	assert.Equal(t, "message_stop", last.Get("type").String())

	var sawToolUse bool
	for _, e := range events {
		if e.Get("content_block.type").String() == "tool_use" {
			sawToolUse = true
		}
	}
	assert.True(t, sawToolUse)
}

// TestConvertResponsesSSEStreamReasoningRoundTrip covers spec.md §8
// Scenario 6: a reasoning_summary_text sequence must open a "thinking"
// block carrying extracted_openai_rs_id/extracted_openai_rs_encrypted_content
// only on its content_block_start, close before the following text block
// opens, and never repeat those fields on a thinking_delta.
func TestConvertResponsesSSEStreamReasoningRoundTrip(t *testing.T) {
	input := strings.Join([]string{
		`data: {"type":"response.created","model":"gpt-5"}`,
		`data: {"type":"response.reasoning_summary_text.delta","item_id":"rs_1","encrypted_content":"enc_abc","delta":"thinking "}`,
		`data: {"type":"response.reasoning_summary_text.delta","item_id":"rs_1","encrypted_content":"enc_abc","delta":"more"}`,
		`data: {"type":"response.reasoning_summary_text.done"}`,
		`data: {"type":"response.output_text.delta","delta":"answer"}`,
		`data: {"type":"response.output_text.done"}`,
		`data: {"type":"response.completed","status":"completed","usage":{"input_tokens":1,"output_tokens":2}}`,
		``,
	}, "\n\n")

	stream := ConvertResponsesSSEStream(bytes.NewBufferString(input), "claude-opus-4")
	events := collectSSEEvents(t, stream)

	var thinkingStartIdx, thinkingStopIdx, textStartIdx = -1, -1, -1
	for i, e := range events {
		switch {
		case e.Get("type").String() == "content_block_start" && e.Get("content_block.type").String() == "thinking":
			thinkingStartIdx = i
			assert.Equal(t, "rs_1", e.Get("content_block.extracted_openai_rs_id").String())
			assert.Equal(t, "enc_abc", e.Get("content_block.extracted_openai_rs_encrypted_content").String())
			assert.Equal(t, int64(0), e.Get("index").Int())
		case e.Get("type").String() == "content_block_stop" && thinkingStartIdx != -1 && thinkingStopIdx == -1:
			thinkingStopIdx = i
		case e.Get("type").String() == "content_block_start" && e.Get("content_block.type").String() == "text":
			textStartIdx = i
		}
	}

	require.NotEqual(t, -1, thinkingStartIdx, "expected a thinking content_block_start")
	require.NotEqual(t, -1, thinkingStopIdx, "expected the thinking block to close")
	require.NotEqual(t, -1, textStartIdx, "expected a text content_block_start")
	assert.Less(t, thinkingStartIdx, thinkingStopIdx)
	assert.Less(t, thinkingStopIdx, textStartIdx, "thinking block must close before the text block opens")
	assert.Equal(t, int64(1), events[textStartIdx].Get("index").Int(), "text block must get the next monotonic index")

	for _, e := range events {
		if e.Get("type").String() == "content_block_delta" && e.Get("delta.type").String() == "thinking_delta" {
			assert.False(t, e.Get("delta.extracted_openai_rs_id").Exists(), "rs_id must not appear on a thinking_delta")
			assert.False(t, e.Get("delta.extracted_openai_rs_encrypted_content").Exists(), "encrypted_content must not appear on a thinking_delta")
		}
	}
}

// The reasoning item's identity rides on response.output_item.added, ahead
// of the summary deltas; the correlator must stash it so the thinking
// content_block_start still carries both continuity fields.
func TestConvertResponsesSSEStreamStashesItemIdentity(t *testing.T) {
	input := strings.Join([]string{
		`data: {"type":"response.created","model":"gpt-5"}`,
		`data: {"type":"response.output_item.added","item":{"type":"reasoning","id":"rs_9","encrypted_content":"enc_9"}}`,
		`data: {"type":"response.reasoning_summary_text.delta","item_id":"rs_9","delta":"step"}`,
		`data: {"type":"response.reasoning_summary_text.done"}`,
		`data: {"type":"response.output_item.added","item":{"type":"function_call","id":"fc_1","call_id":"call_9","name":"lookup"}}`,
		`data: {"type":"response.function_call_arguments.delta","item_id":"fc_1","arguments_delta":"{}"}`,
		`data: {"type":"response.function_call_arguments.done"}`,
		`data: {"type":"response.completed","status":"completed"}`,
		``,
	}, "\n\n")

	stream := ConvertResponsesSSEStream(bytes.NewBufferString(input), "claude-opus-4")
	events := collectSSEEvents(t, stream)

	var sawThinking, sawToolUse bool
	for _, e := range events {
		if e.Get("type").String() != "content_block_start" {
			continue
		}
		switch e.Get("content_block.type").String() {
		case "thinking":
			sawThinking = true
			assert.Equal(t, "rs_9", e.Get("content_block.extracted_openai_rs_id").String())
			assert.Equal(t, "enc_9", e.Get("content_block.extracted_openai_rs_encrypted_content").String())
		case "tool_use":
			sawToolUse = true
			assert.Equal(t, "call_9", e.Get("content_block.id").String())
			assert.Equal(t, "lookup", e.Get("content_block.name").String())
		}
	}
	assert.True(t, sawThinking)
	assert.True(t, sawToolUse)
}

// Annotation events must yield a complete web_search_tool_result block at
// a fresh index, with the interrupted text block closed first and the
// block grammar kept balanced.
func TestConvertResponsesSSEStreamSurfacesAnnotations(t *testing.T) {
	input := strings.Join([]string{
		`data: {"type":"response.created","model":"gpt-5"}`,
		`data: {"type":"response.output_text.delta","delta":"cited"}`,
		`data: {"type":"response.output_text.annotation.added","item_id":"m1","annotation":{"type":"url_citation","url":"https://example.com","title":"Example"}}`,
		`data: {"type":"response.output_text.delta","delta":" answer"}`,
		`data: {"type":"response.output_text.done"}`,
		`data: {"type":"response.completed","status":"completed"}`,
		``,
	}, "\n\n")

	stream := ConvertResponsesSSEStream(bytes.NewBufferString(input), "claude-opus-4")
	events := collectSSEEvents(t, stream)

	starts := map[int64]string{}
	stops := map[int64]bool{}
	var sawResult bool
	for _, e := range events {
		switch e.Get("type").String() {
		case "content_block_start":
			starts[e.Get("index").Int()] = e.Get("content_block.type").String()
			if e.Get("content_block.type").String() == "web_search_tool_result" {
				sawResult = true
				assert.Equal(t, "srvtoolu_m1", e.Get("content_block.tool_use_id").String())
				assert.Equal(t, "https://example.com", e.Get("content_block.content.0.url").String())
			}
		case "content_block_stop":
			stops[e.Get("index").Int()] = true
		}
	}

	require.True(t, sawResult)
	require.Len(t, starts, 3, "text, result, and resumed text blocks")
	for idx := range starts {
		assert.True(t, stops[idx], "every started block must close")
	}
	assert.Equal(t, "text", starts[0])
	assert.Equal(t, "web_search_tool_result", starts[1])
	assert.Equal(t, "text", starts[2])
}

func TestConvertChatCompletionsSSEStreamCarriesUsage(t *testing.T) {
	input := strings.Join([]string{
		`data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"hi"}}]}`,
		`data: {"id":"chatcmpl-1","choices":[{"finish_reason":"stop","delta":{}}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
		`data: [DONE]`,
		``,
	}, "\n\n")

	stream := ConvertChatCompletionsSSEStream(bytes.NewBufferString(input), "claude-opus-4")
	events := collectSSEEvents(t, stream)

	var sawUsage bool
	for _, e := range events {
		if e.Get("type").String() == "message_delta" {
			sawUsage = true
			assert.Equal(t, int64(7), e.Get("usage.input_tokens").Int())
			assert.Equal(t, int64(3), e.Get("usage.output_tokens").Int())
			assert.Equal(t, "end_turn", e.Get("delta.stop_reason").String())
		}
	}
	assert.True(t, sawUsage)
}
