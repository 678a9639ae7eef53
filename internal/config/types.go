// Package config defines the immutable, hashable configuration model for
// the proxy (providers, override rules, filters, timeouts) and its YAML
// loading, validation, and hot-reload machinery.
package config

import "github.com/dlclark/regexp2"

// Adapter is the translation strategy a provider declares.
type Adapter string

const (
	AdapterAnthropicPassthrough Adapter = "anthropic-passthrough"
	AdapterOpenAI               Adapter = "openai"
	AdapterOpenAICompatible     Adapter = "openai-compatible"
)

// TimeoutsConfig bounds connection establishment and inter-byte gaps, in
// milliseconds. Lives under the `timeouts_ms` key both globally and
// per-provider.
type TimeoutsConfig struct {
	ConnectMS int `yaml:"connect" validate:"gte=0"`
	ReadMS    int `yaml:"read" validate:"gte=0"`
}

// ToolPolicyConfig names the tools stripped from outbound tool lists.
type ToolPolicyConfig struct {
	RestrictedToolNames []string `yaml:"restricted_tool_names"`
}

// DefaultToolPolicy mirrors spec.md §3's default restricted set.
func DefaultToolPolicy() ToolPolicyConfig {
	return ToolPolicyConfig{RestrictedToolNames: []string{"WebSearch", "WebFetch"}}
}

// SystemClauseFilter describes one clause to strip from the system prompt.
type SystemClauseFilter struct {
	Pattern       string `yaml:"pattern"`
	IsRegex       bool   `yaml:"is_regex"`
	CaseSensitive bool   `yaml:"case_sensitive"`

	compiled *regexp2.Regexp
}

// Regexp returns the compiled pattern for a regex filter. Validate
// compiles and caches it at load time; a filter constructed directly
// (tests, embedding) compiles on first use instead.
func (f *SystemClauseFilter) Regexp() (*regexp2.Regexp, error) {
	if f.compiled != nil {
		return f.compiled, nil
	}
	opts := regexp2.None
	if !f.CaseSensitive {
		opts = regexp2.IgnoreCase
	}
	return regexp2.Compile(f.Pattern, opts)
}

// SystemPromptFiltersConfig wraps the ordered clause-filter list under the
// `system_prompt_filters.clause_filters` key.
type SystemPromptFiltersConfig struct {
	ClauseFilters []SystemClauseFilter `yaml:"clause_filters"`
}

// ReasoningThresholds drives the low/medium/high budget_tokens-to-effort
// mapping for the openai adapter (spec.md §4.3), config-driven per
// claude_router/config/schema.py's ReasoningThresholds rather than the
// teacher's fixed five-tier table -- see SPEC_FULL.md's SUPPLEMENTED
// FEATURES for the reconciliation.
type ReasoningThresholds struct {
	LowMax    int `yaml:"low_max" validate:"gt=0"`
	MediumMax int `yaml:"medium_max" validate:"gt=0"`
}

// DefaultReasoningThresholds mirrors the original's defaults.
func DefaultReasoningThresholds() ReasoningThresholds {
	return ReasoningThresholds{LowMax: 5000, MediumMax: 15000}
}

// ProviderConfig is immutable once loaded. AutoWebSearch implements
// SPEC_FULL.md's REDESIGN FLAG #2 (operator opt-out of the unconditional
// built-in web_search tool append on the openai adapter path).
type ProviderConfig struct {
	Name          string               `yaml:"-" validate:"required"`
	BaseURL       string               `yaml:"base_url" validate:"required,url"`
	AdapterName   Adapter              `yaml:"adapter" validate:"required,oneof=anthropic-passthrough openai openai-compatible"`
	APIKeyEnv     string               `yaml:"api_key_env"`
	ToolPolicy    *ToolPolicyConfig    `yaml:"tool_policy"`
	Timeouts      *TimeoutsConfig      `yaml:"timeouts_ms"`
	AutoWebSearch *bool                `yaml:"auto_web_search"`
	Reasoning     *ReasoningThresholds `yaml:"reasoning_thresholds"`
}

// EffectiveReasoningThresholds falls back to DefaultReasoningThresholds
// when the provider does not set its own.
func (p ProviderConfig) EffectiveReasoningThresholds() ReasoningThresholds {
	if p.Reasoning == nil {
		return DefaultReasoningThresholds()
	}
	return *p.Reasoning
}

// EffectiveAutoWebSearch defaults to true (today's behavior) unless the
// operator explicitly disabled it.
func (p ProviderConfig) EffectiveAutoWebSearch() bool {
	if p.AutoWebSearch == nil {
		return true
	}
	return *p.AutoWebSearch
}

// WhenCondition gates a ModelConfigEntry's write against the pre-patch
// value observed at that leaf's path. Exactly one field is set; which one
// is recorded in Kind so a nil comparison value (matching JSON null) is
// distinguishable from "this clause is absent".
type WhenConditionKind string

const (
	CurrentIn     WhenConditionKind = "current_in"
	CurrentNotIn  WhenConditionKind = "current_not_in"
	CurrentEquals WhenConditionKind = "current_equals"
	CurrentNotEq  WhenConditionKind = "current_not_equals"
)

type WhenCondition struct {
	Kind  WhenConditionKind
	List  []any // for CurrentIn / CurrentNotIn
	Value any   // for CurrentEquals / CurrentNotEq
}

// ModelConfigEntry is either a bare always-applied value, or a
// value+condition pair. Value is stored regardless; When is nil for the
// bare form.
type ModelConfigEntry struct {
	Value any
	When  *WhenCondition
}

// ConfigPatch maps dotted leaf paths (e.g. "reasoning.effort") to the
// entry to apply there. YAML may express the paths either as dotted keys
// or as nested mappings; both decode to the same flat path map, with a
// nested condition gating only the leaf it sits on.
type ConfigPatch map[string]ModelConfigEntry

// OverrideRule is one ordered routing directive. When predicates are
// ANDed; absent predicates match anything.
type OverrideRule struct {
	When     map[string]string `yaml:"when"`
	Provider string            `yaml:"provider"`
	Model    string            `yaml:"model"`
	Config   ConfigPatch       `yaml:"config"`
}

// Config is the top-level, immutable configuration snapshot.
type Config struct {
	Providers           map[string]ProviderConfig `yaml:"providers"`
	Overrides           []OverrideRule            `yaml:"overrides"`
	Tools               ToolPolicyConfig          `yaml:"tools"`
	SystemPromptFilters SystemPromptFiltersConfig `yaml:"system_prompt_filters"`
	TimeoutsMS          TimeoutsConfig            `yaml:"timeouts_ms"`
	LogLevel            string                    `yaml:"log_level"`
	LogFile             string                    `yaml:"log_file"`
	StreamKeepAliveMS   int                       `yaml:"stream_keep_alive_ms"`

	whenPatterns map[string]*regexp2.Regexp
}

// WhenPattern returns the compiled regex for an override predicate
// pattern, cached by Validate at load time; nil for a pattern Validate
// never saw (e.g. a Config literal that skipped Load).
func (c *Config) WhenPattern(pattern string) *regexp2.Regexp {
	if c.whenPatterns == nil {
		return nil
	}
	return c.whenPatterns[pattern]
}
