// Package dispatch implements C7, the layer that accepts one inbound
// Anthropic request, runs the C2 filter pipeline, asks C3 for a routing
// decision, and then either forwards it verbatim (anthropic-passthrough)
// or drives it through the C4/C8/C5 translation path, grounded on
// spec.md §4.6's exact step ordering.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/relaycore/claude-router/internal/apierrors"
	"github.com/relaycore/claude-router/internal/clientcache"
	"github.com/relaycore/claude-router/internal/config"
	"github.com/relaycore/claude-router/internal/filter"
	"github.com/relaycore/claude-router/internal/routing"
	"github.com/relaycore/claude-router/internal/translate/request"
	"github.com/relaycore/claude-router/internal/translate/response"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Result is what a caller (internal/httpapi) writes back to the client.
// Exactly one of Body or Stream is set.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Stream      io.ReadCloser
	// UpstreamHeader carries the filtered downstream response headers for
	// the anthropic-passthrough path only; nil otherwise (translated
	// replies are always freshly-built Anthropic JSON/SSE, not a
	// pass-through of the downstream's own header set).
	UpstreamHeader http.Header
}

// Dispatcher holds the two pieces of state that outlive a single request
// (spec.md §5 "no shared mutable global state other than the config ref
// and cache"): the atomically-swappable config snapshot accessor and the
// C8 model-client cache.
type Dispatcher struct {
	Config  func() *config.Config
	Cache   *clientcache.Cache
	Options Options
}

func New(cfgFunc func() *config.Config, cache *clientcache.Cache) *Dispatcher {
	return &Dispatcher{Config: cfgFunc, Cache: cache}
}

// Dispatch runs the full C7 pipeline for one inbound request. path is the
// inbound HTTP request path, forwarded verbatim by the passthrough adapter.
func (d *Dispatcher) Dispatch(ctx context.Context, headers http.Header, path string, body []byte) (*Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, apierrors.New(apierrors.KindInvalidRequest, "request body is not valid JSON")
	}
	cfg := d.Config()

	// spec.md §4.1/§4.6: global tool policy first, so the routing engine's
	// has_tool predicate observes the post-filter body.
	filtered := filter.FilterTools(body, cfg.Tools)
	filtered = filter.FilterSystemPrompt(filtered, cfg.SystemPromptFilters.ClauseFilters)

	engine := routing.NewEngine(cfg)
	decision, patched, err := engine.Decide(headers, filtered)
	if err != nil {
		return nil, err
	}

	if providerPolicy := decision.Provider.ToolPolicy; providerPolicy != nil && !samePolicy(*providerPolicy, cfg.Tools) {
		patched = filter.FilterTools(patched, *providerPolicy)
	}

	timeouts := cfg.TimeoutsMS
	if decision.Provider.Timeouts != nil {
		timeouts = *decision.Provider.Timeouts
	}

	if decision.Adapter == config.AdapterAnthropicPassthrough {
		return d.dispatchPassthrough(ctx, decision, headers, path, patched, timeouts)
	}
	return d.dispatchTranslated(ctx, decision, patched, timeouts)
}

func samePolicy(a, b config.ToolPolicyConfig) bool {
	if len(a.RestrictedToolNames) != len(b.RestrictedToolNames) {
		return false
	}
	for i := range a.RestrictedToolNames {
		if a.RestrictedToolNames[i] != b.RestrictedToolNames[i] {
			return false
		}
	}
	return true
}

func (d *Dispatcher) dispatchTranslated(ctx context.Context, decision *routing.Decision, body []byte, timeouts config.TimeoutsConfig) (*Result, error) {
	client, err := d.Cache.GetOrCreate(decision.Provider, decision.EffectiveModel, func() (*clientcache.Client, error) {
		return &clientcache.Client{Provider: decision.Provider, HTTP: clientcache.BuildHTTPClient(timeouts)}, nil
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindAPIError, err, "failed to construct downstream client")
	}

	apiKey := ""
	if decision.Provider.APIKeyEnv != "" {
		apiKey = os.Getenv(decision.Provider.APIKeyEnv)
	}
	if apiKey == "" {
		return nil, apierrors.Newf(apierrors.KindAuthentication, "missing API key for provider %q (env %q unset)", decision.ProviderName, decision.Provider.APIKeyEnv)
	}

	stream := gjson.GetBytes(body, "stream").Bool()

	var (
		outboundPath string
		outboundBody []byte
	)
	switch decision.Adapter {
	case config.AdapterOpenAI:
		outboundPath = "/responses"
		outboundBody, err = request.BuildResponsesRequest(decision.EffectiveModel, body, decision.Provider)
	case config.AdapterOpenAICompatible:
		outboundPath = "/chat/completions"
		outboundBody, err = request.BuildChatCompletionsRequest(decision.EffectiveModel, body)
	default:
		return nil, apierrors.Newf(apierrors.KindInvalidRequest, "unsupported adapter %q", decision.Adapter)
	}
	if err != nil {
		if apiErr, ok := apierrors.As(err); ok {
			return nil, apiErr
		}
		return nil, apierrors.Wrap(apierrors.KindInvalidRequest, err, "request translation failed")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, decision.Provider.BaseURL+outboundPath, bytes.NewReader(outboundBody))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindAPIError, err, "failed to build downstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	log.WithFields(log.Fields{
		"provider": decision.ProviderName,
		"adapter":  string(decision.Adapter),
		"model":    decision.EffectiveModel,
	}).Info("dispatching downstream request")

	httpResp, err := client.HTTP.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(err, "downstream request failed")
	}

	if httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return nil, apierrors.New(apierrors.FromHTTPStatus(httpResp.StatusCode), downstreamErrorMessage(httpResp.StatusCode, errBody))
	}

	decoded, err := decompressDownstreamBody(httpResp.Body, httpResp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = httpResp.Body.Close()
		return nil, apierrors.Wrap(apierrors.KindAPIError, err, "failed to decode downstream response body")
	}

	originalModel := gjson.GetBytes(body, "model").String()

	if !stream {
		defer decoded.Close()
		data, err := io.ReadAll(decoded)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindAPIError, err, "failed to read downstream response body")
		}
		return &Result{StatusCode: http.StatusOK, ContentType: "application/json", Body: response.BuildAnthropicMessage(data, originalModel)}, nil
	}

	var sseStream io.ReadCloser
	if decision.Adapter == config.AdapterOpenAI {
		sseStream = response.ConvertResponsesSSEStream(decoded, originalModel)
	} else {
		sseStream = response.ConvertChatCompletionsSSEStream(decoded, originalModel)
	}
	sseStream = withKeepAlive(sseStream, d.Options.KeepAliveInterval)
	return &Result{StatusCode: http.StatusOK, ContentType: "text/event-stream", Stream: &closeBoth{ReadCloser: sseStream, other: decoded}}, nil
}

// wrapTransportError maps a failed downstream round trip to the taxonomy:
// deadline/dial timeouts are KindTimeout, everything else is KindAPIError.
func wrapTransportError(err error, message string) *apierrors.Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierrors.Wrap(apierrors.KindTimeout, err, message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.Wrap(apierrors.KindTimeout, err, message)
	}
	return apierrors.Wrap(apierrors.KindAPIError, err, message)
}

func downstreamErrorMessage(status int, body []byte) string {
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}
	if len(body) > 0 {
		return string(body)
	}
	return fmt.Sprintf("downstream returned status %d", status)
}

// closeBoth closes the translated stream and its underlying decoded
// downstream body reader together, since ConvertResponsesSSEStream and
// ConvertChatCompletionsSSEStream close their own pipe writer on exit but
// never see the decoder's Close method.
type closeBoth struct {
	io.ReadCloser
	other io.Closer
}

func (c *closeBoth) Close() error {
	err := c.ReadCloser.Close()
	_ = c.other.Close()
	return err
}
