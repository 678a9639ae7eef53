package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
providers:
  openai:
    base_url: https://api.openai.com/v1
    adapter: openai
    api_key_env: OPENAI_API_KEY
  local:
    base_url: http://localhost:8000/v1
    adapter: openai-compatible
overrides:
  - when:
      model_regex: "^openai/gpt-5"
    provider: openai
    config:
      reasoning.effort:
        value: medium
        when:
          current_in: [null, "low"]
tools:
  restricted_tool_names: ["WebSearch"]
system_prompt_filters:
  clause_filters:
    - pattern: "refuse to"
      is_regex: false
timeouts_ms:
  connect: 2500
  read: 90000
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "openai", cfg.Providers["openai"].Name)
	assert.Equal(t, AdapterOpenAI, cfg.Providers["openai"].AdapterName)
	assert.True(t, cfg.Providers["openai"].EffectiveAutoWebSearch())

	require.Len(t, cfg.Overrides, 1)
	entry := cfg.Overrides[0].Config["reasoning.effort"]
	assert.Equal(t, "medium", entry.Value)
	require.NotNil(t, entry.When)
	assert.Equal(t, CurrentIn, entry.When.Kind)
	assert.Equal(t, []any{nil, "low"}, entry.When.List)

	require.Len(t, cfg.SystemPromptFilters.ClauseFilters, 1)
	assert.Equal(t, "refuse to", cfg.SystemPromptFilters.ClauseFilters[0].Pattern)
	assert.Equal(t, 2500, cfg.TimeoutsMS.ConnectMS)
	assert.Equal(t, 90000, cfg.TimeoutsMS.ReadMS)
}

func TestLoadFlattensNestedConfigPatch(t *testing.T) {
	nested := `
providers:
  openai:
    base_url: https://api.openai.com/v1
    adapter: openai
overrides:
  - when:
      model_regex: "gpt"
    provider: openai
    config:
      reasoning:
        effort:
          value: high
          when:
            current_not_equals: high
      temperature: 0.2
`
	cfg, err := Load([]byte(nested))
	require.NoError(t, err)
	require.Len(t, cfg.Overrides, 1)

	effort, ok := cfg.Overrides[0].Config["reasoning.effort"]
	require.True(t, ok, "nested mapping must flatten to a dotted leaf path")
	assert.Equal(t, "high", effort.Value)
	require.NotNil(t, effort.When)
	assert.Equal(t, CurrentNotEq, effort.When.Kind)
	assert.Equal(t, "high", effort.When.Value)

	temp, ok := cfg.Overrides[0].Config["temperature"]
	require.True(t, ok)
	assert.Equal(t, 0.2, temp.Value)
	assert.Nil(t, temp.When)
}

func TestLoadRejectsUnknownAdapter(t *testing.T) {
	bad := `
providers:
  broken:
    base_url: https://example.com
    adapter: not-a-real-adapter
`
	_, err := Load([]byte(bad))
	assert.Error(t, err)
}

func TestLoadRejectsBadRegex(t *testing.T) {
	bad := `
providers:
  openai:
    base_url: https://api.openai.com/v1
    adapter: openai
overrides:
  - when:
      model_regex: "("
    provider: openai
`
	_, err := Load([]byte(bad))
	assert.Error(t, err)
}

func TestProviderConfigHashStable(t *testing.T) {
	a := ProviderConfig{Name: "x", BaseURL: "https://a", AdapterName: AdapterOpenAI}
	b := ProviderConfig{Name: "x", BaseURL: "https://a", AdapterName: AdapterOpenAI}
	assert.Equal(t, a.Hash(), b.Hash())

	c := ProviderConfig{Name: "x", BaseURL: "https://a", AdapterName: AdapterOpenAICompatible}
	assert.NotEqual(t, a.Hash(), c.Hash())
}
