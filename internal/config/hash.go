package config

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// Hash produces a stable value identifying this ProviderConfig, suitable
// as (half of) a model-client cache key (spec.md C8: "the entire provider
// config object, not just base_url"). Two providers with identical fields
// hash identically regardless of map iteration order.
func (p ProviderConfig) Hash() uint64 {
	h := fnv.New64a()
	write := func(s string) { _, _ = h.Write([]byte(s)); _, _ = h.Write([]byte{0}) }

	write(p.Name)
	write(p.BaseURL)
	write(string(p.AdapterName))
	write(p.APIKeyEnv)

	if p.ToolPolicy != nil {
		names := append([]string(nil), p.ToolPolicy.RestrictedToolNames...)
		sort.Strings(names)
		for _, n := range names {
			write(n)
		}
	}
	if p.Timeouts != nil {
		write(fmt.Sprintf("%d/%d", p.Timeouts.ConnectMS, p.Timeouts.ReadMS))
	}
	if p.Reasoning != nil {
		write(fmt.Sprintf("reasoning:%d/%d", p.Reasoning.LowMax, p.Reasoning.MediumMax))
	}
	write(fmt.Sprintf("%v", p.EffectiveAutoWebSearch()))

	return h.Sum64()
}

// CacheKey identifies a model-client cache entry per spec.md C8.
type CacheKey struct {
	ProviderHash uint64
	Model        string
}

func (p ProviderConfig) CacheKeyFor(model string) CacheKey {
	return CacheKey{ProviderHash: p.Hash(), Model: model}
}
