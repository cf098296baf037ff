package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/service"
)

// Idempotency headers.
const (
	HeaderIdempotencyKey      = "Idempotency-Key"
	HeaderIdempotencyEcho     = "X-Idempotency-Key"
	HeaderIdempotencyReplayed = "X-Idempotency-Replayed"
)

const idempotencyGuardedKey = "idempotency_guarded"

// Idempotency replays the stored response of an earlier identical request
// carrying the same Idempotency-Key instead of running the handler again.
// Requests without the header pass through untouched. Concurrent duplicates
// that arrive before the first one completes both run.
func Idempotency(svc *service.IdempotencyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || svc == nil {
			c.Next()
			return
		}

		body, err := readBody(c)
		if err != nil {
			c.Next()
			return
		}
		fingerprint := service.Fingerprint(c.Request.Method, c.Request.URL.Path, callerIdentity(c), key, body)
		c.Header(HeaderIdempotencyEcho, key)
		// the pipeline leaves storing to the guard from here on
		c.Set(idempotencyGuardedKey, true)

		if record, ok := svc.Lookup(c.Request.Context(), fingerprint); ok {
			writeReplay(c, key, record)
			return
		}

		capture := newCaptureWriter(c.Writer)
		c.Writer = capture
		c.Next()
		c.Writer = capture.ResponseWriter

		svc.Store(c.Request.Context(), fingerprint, capture.Status(), capture.Header().Get("Content-Type"), capture.body.Bytes())
	}
}

// readBody drains the request body and puts an identical reader back.
func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(c.Request.Body)
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, err
}

func writeReplay(c *gin.Context, key string, record *models.IdempotencyRecord) {
	c.Header(HeaderIdempotencyReplayed, strconv.FormatBool(true))
	c.Header(HeaderIdempotencyEcho, key)
	c.Header("Cache-Control", "no-store")
	c.Data(record.Status, "application/json; charset=utf-8", record.Body)
	c.Abort()
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
