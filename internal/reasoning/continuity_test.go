package reasoning

import (
	"testing"

	"github.com/relaycore/claude-router/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestReasoningInputItemPreference(t *testing.T) {
	withBoth := ThinkingBlock{RSID: "rs_1", RSEncryptedContent: "ENC"}
	item, ok := withBoth.ReasoningInputItem()
	assert.True(t, ok)
	assert.Contains(t, item, `"encrypted_content":"ENC"`)

	idOnly := ThinkingBlock{RSID: "rs_2"}
	item, ok = idOnly.ReasoningInputItem()
	assert.True(t, ok)
	assert.Contains(t, item, `"id":"rs_2"`)

	neither := ThinkingBlock{Text: "hidden"}
	_, ok = neither.ReasoningInputItem()
	assert.False(t, ok)
	assert.Equal(t, "<think>hidden</think>", neither.DegradedText())
}

func TestInjectFromResponse(t *testing.T) {
	block := InjectFromResponse(`{"type":"thinking","thinking":"t"}`, "rs_9", "ENC")
	assert.Equal(t, "rs_9", gjson.Get(block, "extracted_openai_rs_id").String())
	assert.Equal(t, "ENC", gjson.Get(block, "extracted_openai_rs_encrypted_content").String())

	unchanged := InjectFromResponse(`{"type":"thinking","thinking":"t"}`, "", "")
	assert.False(t, gjson.Get(unchanged, "extracted_openai_rs_id").Exists())
	assert.False(t, gjson.Get(unchanged, "extracted_openai_rs_encrypted_content").Exists())
}

func TestEffortForBudget(t *testing.T) {
	thresholds := config.DefaultReasoningThresholds()
	assert.Equal(t, "low", EffortForBudget(1000, thresholds))
	assert.Equal(t, "medium", EffortForBudget(10000, thresholds))
	assert.Equal(t, "high", EffortForBudget(50000, thresholds))
}
