package dispatch

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/relaycore/claude-router/internal/apierrors"
	"github.com/relaycore/claude-router/internal/clientcache"
	"github.com/relaycore/claude-router/internal/config"
	"github.com/relaycore/claude-router/internal/routing"
	log "github.com/sirupsen/logrus"
)

// hopByHopHeaders are stripped from both the forwarded request and the
// relayed response, per RFC 7230 §6.1, grounded on
// claude_router/adapters/anthropic_passthrough.py's
// _strip_hop_by_hop_headers.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"proxy-connection":    true,
	"content-length":      true,
	"content-encoding":    true,
}

var sensitiveHeaders = map[string]bool{
	"authorization":    true,
	"x-api-key":        true,
	"x-openai-api-key": true,
}

func stripHopByHop(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		if hopByHopHeaders[strings.ToLower(name)] {
			continue
		}
		out[name] = values
	}
	return out
}

// sanitizedHeaders returns the forwarded headers with sensitive values
// reduced to a prefix...suffix form, for logging only — the actual
// outbound request forwards the real values.
func sanitizedHeaders(header http.Header) map[string]string {
	sanitized := make(map[string]string, len(header))
	for name, values := range header {
		value := strings.Join(values, ", ")
		if sensitiveHeaders[strings.ToLower(name)] {
			value = redactValue(value)
		}
		sanitized[name] = value
	}
	return sanitized
}

func redactValue(value string) string {
	if len(value) > 10 {
		return value[:4] + "..." + value[len(value)-4:]
	}
	return "[REDACTED]"
}

// dispatchPassthrough forwards the filtered body verbatim to the
// anthropic-passthrough provider's base_url, streaming the downstream
// response back unmodified (spec.md §4.6 step 4).
func (d *Dispatcher) dispatchPassthrough(ctx context.Context, decision *routing.Decision, headers http.Header, path string, body []byte, timeouts config.TimeoutsConfig) (*Result, error) {
	client, err := d.Cache.GetOrCreate(decision.Provider, decision.EffectiveModel, func() (*clientcache.Client, error) {
		return &clientcache.Client{Provider: decision.Provider, HTTP: clientcache.BuildHTTPClient(timeouts)}, nil
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindAPIError, err, "failed to construct downstream client")
	}

	url := decision.Provider.BaseURL + path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindAPIError, err, "failed to build passthrough request")
	}
	httpReq.Header = stripHopByHop(headers.Clone())

	log.WithFields(log.Fields{
		"provider": decision.ProviderName,
		"adapter":  string(decision.Adapter),
		"headers":  sanitizedHeaders(httpReq.Header),
	}).Info("forwarding passthrough request")

	httpResp, err := client.HTTP.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(err, "passthrough request failed")
	}

	return &Result{
		StatusCode:     httpResp.StatusCode,
		ContentType:    httpResp.Header.Get("Content-Type"),
		Stream:         httpResp.Body,
		UpstreamHeader: stripHopByHop(httpResp.Header),
	}, nil
}
