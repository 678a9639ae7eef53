package request

import (
	"testing"

	"github.com/relaycore/claude-router/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func openAIProvider() config.ProviderConfig {
	return config.ProviderConfig{
		Name:        "openai",
		BaseURL:     "https://api.openai.com/v1",
		AdapterName: config.AdapterOpenAI,
		APIKeyEnv:   "OPENAI_API_KEY",
	}
}

func TestBuildResponsesRequestBasicText(t *testing.T) {
	body := []byte(`{
		"model": "claude-opus-4",
		"system": "be terse",
		"messages": [{"role":"user","content":"hello"}],
		"max_tokens": 1024
	}`)

	out, err := BuildResponsesRequest("gpt-5", body, openAIProvider())
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	assert.Equal(t, "gpt-5", root.Get("model").String())
	assert.Equal(t, "be terse", root.Get("instructions").String())
	assert.Equal(t, int64(1024), root.Get("max_output_tokens").Int())
	assert.True(t, root.Get("store").Exists())
	assert.False(t, root.Get("store").Bool())
	assert.Equal(t, "input_text", root.Get("input.0.content.0.type").String())
	assert.Equal(t, "hello", root.Get("input.0.content.0.text").String())
}

func TestBuildResponsesRequestToolUseAndResult(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role":"assistant","content":[{"type":"tool_use","id":"call_1","name":"lookup","input":{"q":"x"}}]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"call_1","content":"42"}]}
		]
	}`)

	out, err := BuildResponsesRequest("gpt-5", body, openAIProvider())
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	items := root.Get("input").Array()
	require.Len(t, items, 2)
	assert.Equal(t, "function_call", items[0].Get("type").String())
	assert.Equal(t, "lookup", items[0].Get("name").String())
	assert.Equal(t, "call_1", items[0].Get("call_id").String())
	assert.Equal(t, "function_call_output", items[1].Get("type").String())
	assert.Equal(t, "42", items[1].Get("output").String())
}

func TestBuildResponsesRequestReasoningEffortFromBudget(t *testing.T) {
	body := []byte(`{
		"messages": [{"role":"user","content":"hi"}],
		"thinking": {"type":"enabled","budget_tokens": 20000}
	}`)

	out, err := BuildResponsesRequest("gpt-5", body, openAIProvider())
	require.NoError(t, err)
	assert.Equal(t, "high", gjson.GetBytes(out, "reasoning.effort").String())
}

func TestBuildResponsesRequestHonorsPatchedEffort(t *testing.T) {
	body := []byte(`{
		"messages": [{"role":"user","content":"hi"}],
		"thinking": {"type":"enabled","budget_tokens": 1},
		"reasoning": {"effort": "medium"}
	}`)

	out, err := BuildResponsesRequest("gpt-5", body, openAIProvider())
	require.NoError(t, err)
	assert.Equal(t, "medium", gjson.GetBytes(out, "reasoning.effort").String())
}

func TestBuildResponsesRequestAutoWebSearch(t *testing.T) {
	body := []byte(`{"messages": [{"role":"user","content":"hi"}]}`)

	provider := openAIProvider()
	out, err := BuildResponsesRequest("gpt-5", body, provider)
	require.NoError(t, err)
	tools := gjson.GetBytes(out, "tools").Array()
	require.Len(t, tools, 1)
	assert.Equal(t, "web_search", tools[0].Get("type").String())

	disabled := false
	provider.AutoWebSearch = &disabled
	out, err = BuildResponsesRequest("gpt-5", body, provider)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "tools").Exists())
}

func TestBuildResponsesRequestRoundTripsReasoningItems(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role":"user","content":"one"},
			{"role":"assistant","content":[
				{"type":"thinking","thinking":"hidden","extracted_openai_rs_id":"rs_abc","extracted_openai_rs_encrypted_content":"ENC"},
				{"type":"text","text":"ok"}
			]},
			{"role":"user","content":"two"}
		]
	}`)

	out, err := BuildResponsesRequest("gpt-5", body, openAIProvider())
	require.NoError(t, err)

	var reasoningItem gjson.Result
	for _, item := range gjson.GetBytes(out, "input").Array() {
		if item.Get("type").String() == "reasoning" {
			reasoningItem = item
		}
	}
	require.True(t, reasoningItem.Exists(), "expected a reasoning input item")
	assert.Equal(t, "ENC", reasoningItem.Get("encrypted_content").String())
	assert.Equal(t, "rs_abc", reasoningItem.Get("id").String())
}

func TestBuildResponsesRequestDegradesBareThinking(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role":"assistant","content":[{"type":"thinking","thinking":"hidden"}]},
			{"role":"user","content":"next"}
		]
	}`)

	out, err := BuildResponsesRequest("gpt-5", body, openAIProvider())
	require.NoError(t, err)
	assert.Contains(t, string(out), "<think>hidden</think>")
}

func TestBuildResponsesRequestRejectsMalformedToolUse(t *testing.T) {
	body := []byte(`{"messages": [{"role":"assistant","content":[{"type":"tool_use","id":"call_1"}]}]}`)
	_, err := BuildResponsesRequest("gpt-5", body, openAIProvider())
	assert.Error(t, err)
}

func TestBuildResponsesRequestRejectsUnknownBlockType(t *testing.T) {
	body := []byte(`{"messages": [{"role":"user","content":[{"type":"mystery"}]}]}`)
	_, err := BuildResponsesRequest("gpt-5", body, openAIProvider())
	assert.Error(t, err)
}

func TestBuildChatCompletionsRequestFlattensToolUse(t *testing.T) {
	body := []byte(`{
		"system": "be terse",
		"messages": [
			{"role":"user","content":"hi"},
			{"role":"assistant","content":[{"type":"tool_use","id":"call_1","name":"lookup","input":{"q":"x"}}]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"call_1","content":"42"}]}
		]
	}`)

	out, err := BuildChatCompletionsRequest("gpt-4o", body)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	assert.Equal(t, "gpt-4o", root.Get("model").String())
	assert.Equal(t, "system", root.Get("messages.0.role").String())

	var sawToolCall, sawToolResult bool
	for _, m := range root.Get("messages").Array() {
		if m.Get("tool_calls").Exists() {
			sawToolCall = true
			assert.Equal(t, "lookup", m.Get("tool_calls.0.function.name").String())
		}
		if m.Get("role").String() == "tool" {
			sawToolResult = true
			assert.Equal(t, "42", m.Get("content").String())
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolResult)
}

func TestBuildChatCompletionsRequestOnlyFinalThinkingSurfaces(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role":"user","content":"one"},
			{"role":"assistant","content":[{"type":"thinking","thinking":"first pass"},{"type":"text","text":"ok"}]},
			{"role":"user","content":"two"},
			{"role":"assistant","content":[{"type":"thinking","thinking":"final pass"},{"type":"text","text":"done"}]}
		]
	}`)

	out, err := BuildChatCompletionsRequest("gpt-4o", body)
	require.NoError(t, err)

	raw := string(out)
	assert.NotContains(t, raw, "first pass")
	assert.Contains(t, raw, "final pass")
}

// TestBuildChatCompletionsRequestOnlyFinalThinkingSurfacesEndingOnUserTurn
// covers the common real-world shape: the request ends on a user turn
// requesting the next completion, so the most recent assistant turn sits
// at len-2, not len-1.
func TestBuildChatCompletionsRequestOnlyFinalThinkingSurfacesEndingOnUserTurn(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role":"user","content":"one"},
			{"role":"assistant","content":[{"type":"thinking","thinking":"first pass"},{"type":"text","text":"ok"}]},
			{"role":"user","content":"two"},
			{"role":"assistant","content":[{"type":"thinking","thinking":"final pass"},{"type":"text","text":"done"}]},
			{"role":"user","content":"three"}
		]
	}`)

	out, err := BuildChatCompletionsRequest("gpt-4o", body)
	require.NoError(t, err)

	raw := string(out)
	assert.NotContains(t, raw, "first pass")
	assert.Contains(t, raw, "final pass")
}
