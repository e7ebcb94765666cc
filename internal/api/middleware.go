package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/deskcache/internal/metrics"
	"github.com/matheus3301/deskcache/internal/signature"
	"go.uber.org/zap"
)

// maxWebhookBody bounds how much of a webhook body is read for verification.
const maxWebhookBody = 1 << 20

// AccessLog logs every request once it completes.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		for _, e := range c.Errors {
			fields = append(fields, zap.NamedError("error", e.Err))
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("request completed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}

// Metrics counts requests by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if route == "/metrics" || route == "/healthz" {
			return
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// WebhookSignature rejects requests whose body does not carry a valid
// HMAC signature under secret. The body is restored for the next handler.
func WebhookSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil {
			abort(c, http.StatusBadRequest, "invalid_request", "read body: "+err.Error())
			return
		}
		if len(body) > maxWebhookBody {
			abort(c, http.StatusRequestEntityTooLarge, "body_too_large", "webhook body too large")
			return
		}
		if err := signature.Verify(body, c.GetHeader(signature.Header), secret); err != nil {
			handleError(c, err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
