package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/domain/idempotency"
	"spectralnotify/internal/platform/logging"
	"spectralnotify/internal/platform/observability"
)

// defaultIdempotencyTTL is the fallback used when a Deps value leaves TTL
// unset, matching the lifetime idempotency.TTL documented before it became
// configurable.
const defaultIdempotencyTTL = idempotency.TTL

const maxIdempotencyKeyLen = 128

// requestLoggingMiddleware logs method, path, and remote address, and
// records request duration to the optional metrics provider.
func requestLoggingMiddleware(logger logging.Logger, metrics *observability.Provider) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		logger.Info("%s %s from %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.ClientIP(), c.Writer.Status(), elapsed)
		if metrics != nil {
			metrics.RequestDuration.Record(c.Request.Context(), elapsed.Seconds())
		}
	}
}

// authMiddleware enforces X-API-Key on write endpoints. A blank configured
// key disables the check.
func authMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != apiKey {
			writeMappedError(c, apperr.UnauthorizedError("missing or invalid X-API-Key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// idempotencyMiddleware implements the lookup/insert/conflict contract for
// every write endpoint. It buffers the request body (gin handlers read it
// again downstream) and the response body (so it can be cached verbatim).
func idempotencyMiddleware(store idempotency.Store, ttl time.Duration, metrics *observability.Provider) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(c *gin.Context) {
		endpoint := c.Request.URL.Path

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		key := c.GetHeader("Idempotency-Key")
		if key == "" || len(key) > maxIdempotencyKeyLen {
			derived, err := idempotency.DeriveKey(endpoint, body)
			if err != nil {
				writeMappedError(c, apperr.ValidationError("could not derive idempotency key"))
				c.Abort()
				return
			}
			key = derived
		}

		if row, err := store.Lookup(c.Request.Context(), key); err == nil && row != nil {
			if row.Endpoint != endpoint {
				writeMappedError(c, apperr.IdempotencyConflictError("idempotency key reused for a different endpoint"))
				c.Abort()
				return
			}
			if metrics != nil {
				metrics.IdempotencyHits.Add(c.Request.Context(), 1)
			}
			c.Data(http.StatusOK, "application/json", row.Response)
			c.Abort()
			return
		}
		if metrics != nil {
			metrics.IdempotencyMisses.Add(c.Request.Context(), 1)
		}

		rec := &responseRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rec
		c.Next()

		if rec.status >= 200 && rec.status < 300 {
			store.Insert(c.Request.Context(), key, endpoint, rec.body.Bytes(), ttl)
		} else if rec.status == http.StatusBadRequest || rec.status == http.StatusNotFound {
			// Cache INVALID_INPUT and NOT_FOUND responses too, not just success.
			store.Insert(c.Request.Context(), key, endpoint, rec.body.Bytes(), ttl)
		}
		go func() {
			n, err := store.ReapExpired(context.Background())
			if err == nil && n > 0 && metrics != nil {
				metrics.IdempotencyReaped.Add(context.Background(), int64(n))
			}
		}()
	}
}

// responseRecorder captures the body written by downstream handlers so the
// idempotency middleware can persist it verbatim.
type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
