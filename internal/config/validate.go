package config

import (
	"fmt"

	"github.com/dlclark/regexp2"
	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// regexPredicateKeys are the OverrideRule.When keys whose value is a
// pattern rather than a literal string.
var regexPredicateKeys = map[string]bool{
	"system_regex": true,
	"user_regex":   true,
	"model_regex":  true,
}

// Validate checks structural invariants and rejects any unparsable regex
// pattern at load time. Patterns that compile are cached on the config
// snapshot so request-time predicate evaluation never recompiles them.
//
// The original router sources (src/router/router.py and
// src/claude_router/router.py) both catch a regex compile failure at
// request time and treat the predicate as simply non-matching, silently.
// This proxy instead rejects the whole config at load time -- see
// SPEC_FULL.md REDESIGN FLAGS #1.
func Validate(cfg *Config) error {
	for name, p := range cfg.Providers {
		if err := structValidator.Struct(p); err != nil {
			return fmt.Errorf("config: provider %q: %w", name, err)
		}
		if p.Reasoning != nil && p.Reasoning.MediumMax <= p.Reasoning.LowMax {
			return fmt.Errorf("config: provider %q: reasoning_thresholds.medium_max must exceed low_max", name)
		}
	}

	cfg.whenPatterns = make(map[string]*regexp2.Regexp)
	for i, rule := range cfg.Overrides {
		for key, pattern := range rule.When {
			if !regexPredicateKeys[key] {
				continue
			}
			re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
			if err != nil {
				return fmt.Errorf("config: overrides[%d].when.%s: invalid regex %q: %w", i, key, pattern, err)
			}
			cfg.whenPatterns[pattern] = re
		}
		if rule.Provider != "" {
			if _, ok := cfg.Providers[rule.Provider]; !ok {
				return fmt.Errorf("config: overrides[%d]: unknown provider %q", i, rule.Provider)
			}
		}
	}

	for i := range cfg.SystemPromptFilters.ClauseFilters {
		f := &cfg.SystemPromptFilters.ClauseFilters[i]
		if !f.IsRegex {
			continue
		}
		opts := regexp2.None
		if !f.CaseSensitive {
			opts = regexp2.IgnoreCase
		}
		re, err := regexp2.Compile(f.Pattern, opts)
		if err != nil {
			return fmt.Errorf("config: system_prompt_filters.clause_filters[%d]: invalid regex %q: %w", i, f.Pattern, err)
		}
		f.compiled = re
	}

	return nil
}
