// Package routing implements C3, the ordered override-rule evaluator that
// resolves an inbound request to a provider, adapter, effective model, and
// patched body, grounded on claude_router/router.py's route/_resolve_
// adapter/_parse_model_prefix control flow.
package routing

import (
	"net/http"
	"strings"

	"github.com/relaycore/claude-router/internal/apierrors"
	"github.com/relaycore/claude-router/internal/config"
	"github.com/tidwall/gjson"
)

// Decision is the outcome of one routing decision (spec.md's RouteDecision).
type Decision struct {
	ProviderName   string
	Adapter        config.Adapter
	EffectiveModel string
	Provider       config.ProviderConfig
}

// Engine evaluates override rules against a single immutable config
// snapshot. Decide is a pure function of (headers, body) for that
// snapshot (spec.md §8 "Routing determinism").
type Engine struct {
	cfg *config.Config
}

func NewEngine(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Decide resolves the routing decision and returns the config-patched
// request body to hand to C4.
func (e *Engine) Decide(headers http.Header, body []byte) (*Decision, []byte, error) {
	var ruleProvider, ruleModel string
	var ruleConfig config.ConfigPatch

	for _, rule := range e.cfg.Overrides {
		if matchAll(e.cfg, rule.When, headers, body) {
			ruleProvider = rule.Provider
			ruleModel = rule.Model
			ruleConfig = rule.Config
			break
		}
	}

	bodyModel := gjson.GetBytes(body, "model").String()

	providerName := ruleProvider
	suffixModel := bodyModel
	if providerName == "" {
		if prefix, suffix, ok := splitModelPrefix(bodyModel); ok {
			providerName = prefix
			suffixModel = suffix
		} else {
			providerName = "anthropic"
		}
	}

	provider, ok := e.cfg.Providers[providerName]
	if !ok {
		return nil, nil, apierrors.Newf(apierrors.KindInvalidRequest, "unknown provider %q", providerName)
	}

	effectiveModel := suffixModel
	if ruleModel != "" {
		effectiveModel = ruleModel
	}

	patched := body
	if len(ruleConfig) > 0 {
		var err error
		patched, err = ApplyConfigPatch(body, ruleConfig)
		if err != nil {
			return nil, nil, err
		}
	}

	return &Decision{
		ProviderName:   providerName,
		Adapter:        provider.AdapterName,
		EffectiveModel: effectiveModel,
		Provider:       provider,
	}, patched, nil
}

// splitModelPrefix splits "provider/model" into (provider, model). A
// model with no "/" yields ok=false.
func splitModelPrefix(model string) (prefix, suffix string, ok bool) {
	idx := strings.IndexByte(model, '/')
	if idx <= 0 {
		return "", "", false
	}
	return model[:idx], model[idx+1:], true
}
