// Package reasoning implements C6, the reasoning-block continuity layer:
// extracting OpenAI reasoning-item identifiers into Anthropic thinking
// blocks on the way out (C5's half), and re-injecting them as reasoning
// input items on the way back in (C4's half). This path activates only
// for the openai adapter (spec.md §4.5).
package reasoning

import (
	"github.com/relaycore/claude-router/internal/config"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ThinkingBlock is the subset of an Anthropic thinking content block this
// package cares about.
type ThinkingBlock struct {
	Text               string
	RSID               string
	RSEncryptedContent string
}

// ParseThinkingBlock reads the continuity fields off a raw thinking block.
func ParseThinkingBlock(block gjson.Result) ThinkingBlock {
	return ThinkingBlock{
		Text:               block.Get("thinking").String(),
		RSID:               block.Get("extracted_openai_rs_id").String(),
		RSEncryptedContent: block.Get("extracted_openai_rs_encrypted_content").String(),
	}
}

// HasContinuity reports whether either continuity field is present.
func (t ThinkingBlock) HasContinuity() bool {
	return t.RSID != "" || t.RSEncryptedContent != ""
}

// ReasoningInputItem builds the `{type:"reasoning", ...}` OpenAI Responses
// input item for a prior-turn thinking block. When an encrypted payload is
// present the item carries encrypted_content, plus id when that is known
// too; otherwise it carries id alone.
func (t ThinkingBlock) ReasoningInputItem() (string, bool) {
	if !t.HasContinuity() {
		return "", false
	}
	item := `{"type":"reasoning"}`
	if t.RSEncryptedContent != "" {
		item, _ = sjson.Set(item, "encrypted_content", t.RSEncryptedContent)
		if t.RSID != "" {
			item, _ = sjson.Set(item, "id", t.RSID)
		}
		return item, true
	}
	item, _ = sjson.Set(item, "id", t.RSID)
	return item, true
}

// DegradedText renders a thinking block with no continuity fields as
// visible <think>...</think> surface text, so the model still sees the
// prior reasoning even though it can't be re-presented as a native item.
func (t ThinkingBlock) DegradedText() string {
	return "<think>" + t.Text + "</think>"
}

// InjectFromResponse copies id/encrypted_content from an OpenAI reasoning
// output item into the Anthropic thinking block being built for it (the
// C5 half of continuity). rawThinkingBlock is the in-progress block JSON.
func InjectFromResponse(rawThinkingBlock string, rsID, encryptedContent string) string {
	out := rawThinkingBlock
	if rsID != "" {
		out, _ = sjson.Set(out, "extracted_openai_rs_id", rsID)
	}
	if encryptedContent != "" {
		out, _ = sjson.Set(out, "extracted_openai_rs_encrypted_content", encryptedContent)
	}
	return out
}

// EffortForBudget maps a thinking.budget_tokens value to a low/medium/high
// reasoning effort per the provider's configured thresholds (spec.md
// §4.3's "threshold table (low/medium/high)").
func EffortForBudget(budgetTokens int, thresholds config.ReasoningThresholds) string {
	switch {
	case budgetTokens <= thresholds.LowMax:
		return "low"
	case budgetTokens <= thresholds.MediumMax:
		return "medium"
	default:
		return "high"
	}
}
