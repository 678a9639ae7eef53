package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/relaycore/claude-router/internal/clientcache"
	"github.com/relaycore/claude-router/internal/config"
	"github.com/relaycore/claude-router/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testServer() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{},
		Tools:     config.DefaultToolPolicy(),
	}
	d := dispatch.New(func() *config.Config { return cfg }, clientcache.New())
	return NewServer(d)
}

func TestHealthEndpoint(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	testServer().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMessagesRejectsMalformedJSON(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("{not json"))
	testServer().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "error", body.Get("type").String())
	assert.Equal(t, "invalid_request", body.Get("error.type").String())
}

func TestMessagesUnknownProviderErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"ghost/m","messages":[]}`))
	testServer().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", gjson.Get(w.Body.String(), "error.type").String())
}
