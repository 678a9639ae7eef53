// Package httpapi wires C7's Dispatcher to the inbound HTTP surface
// (spec.md §6): a gin engine serving POST /v1/messages and GET / for
// health, grounded on the shape of sdk/api/handlers (error body
// construction, request-scoped logger fields) and
// internal/api/middleware/request_logging.go for the logging middleware.
package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/relaycore/claude-router/internal/apierrors"
	"github.com/relaycore/claude-router/internal/dispatch"
	log "github.com/sirupsen/logrus"
)

// NewServer builds the gin engine. d must be non-nil; the engine holds no
// other state (spec.md §5 "no shared mutable global state other than the
// config ref and cache", both of which live inside d).
func NewServer(d *dispatch.Dispatcher) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLoggingMiddleware())

	engine.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	engine.POST("/v1/messages", handleMessages(d))

	return engine
}

func requestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set("request_id", requestID)

		entry := log.WithFields(log.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		entry.Info("request received")

		c.Next()

		entry.WithField("status", c.Writer.Status()).Info("request completed")
	}
}

// handleMessages implements POST /v1/messages (spec.md §6): reads the
// Anthropic request body, runs it through C7, and writes back either a
// buffered JSON message, a relayed SSE stream, or an apierrors-mapped
// error envelope.
func handleMessages(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, apierrors.Wrap(apierrors.KindInvalidRequest, err, "failed to read request body"))
			return
		}

		result, err := d.Dispatch(c.Request.Context(), c.Request.Header, c.Request.URL.Path, body)
		if err != nil {
			apiErr, ok := apierrors.As(err)
			if !ok {
				apiErr = apierrors.Wrap(apierrors.KindAPIError, err, "dispatch failed")
			}
			writeError(c, apiErr)
			return
		}

		if result.Stream != nil {
			defer result.Stream.Close()
			writeStream(c, result)
			return
		}

		c.Data(result.StatusCode, result.ContentType, result.Body)
	}
}

func writeStream(c *gin.Context, result *dispatch.Result) {
	for name, values := range result.UpstreamHeader {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	if result.ContentType != "" {
		c.Writer.Header().Set("Content-Type", result.ContentType)
	}
	c.Writer.WriteHeader(result.StatusCode)

	flusher, canFlush := c.Writer.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := result.Stream.Read(buf)
		if n > 0 {
			if _, writeErr := c.Writer.Write(buf[:n]); writeErr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
	}
}

func writeError(c *gin.Context, err *apierrors.Error) {
	c.Data(err.HTTPStatus(), "application/json", err.ToAnthropicBody())
}
