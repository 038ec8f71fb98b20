package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
)

// sensitiveFields are matched as substrings of header names and JSON keys.
var sensitiveFields = []string{
	"password",
	"token",
	"authorization",
	"secret",
	"key",
	"session",
	"credential",
	"auth",
	"signature",
	"email",
	"phone",
	"address",
	"customer_details",
	"billing_details",
}

// maxLoggedBody caps how much of a request or response body is buffered for
// a log line. Larger request bodies are streamed to the handler untouched.
const maxLoggedBody = 4 << 10

// LoggingMiddleware logs every request and response. Bodies of requests whose
// path is listed in opaquePaths are never read or logged; the Stripe webhook
// carries customer data and has to reach its handler byte for byte.
func LoggingMiddleware(logger *slog.Logger, opaquePaths ...string) func(next http.Handler) http.Handler {
	opaque := make(map[string]struct{}, len(opaquePaths))
	for _, p := range opaquePaths {
		opaque[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())

			_, skipBody := opaque[r.URL.Path]
			body := "[NOT LOGGED]"
			if !skipBody {
				body = peekBody(logger, r)
			}

			logger.Info("incoming request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"headers", filterSensitiveHeaders(r.Header),
				"body", body,
			)

			ww := &responseWriter{ResponseWriter: w, keepBody: !skipBody}
			next.ServeHTTP(ww, r)

			logResponse(r.Context(), logger, ww, time.Since(start), reqID)
		})
	}
}

// peekBody reads at most maxLoggedBody+1 bytes and puts them back in front of
// the unread remainder, so the handler still sees the full stream and any
// size limit it applies still counts every byte.
func peekBody(logger *slog.Logger, r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	prefix, err := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody+1))
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(prefix), r.Body), Closer: r.Body}
	if err != nil {
		// The remainder still holds the failing reader, so the handler gets
		// the same error instead of a silently shortened body.
		logger.Warn("failed to read request body for logging", "error", err, "path", r.URL.Path)
		return "[UNREADABLE]"
	}

	if len(prefix) > maxLoggedBody {
		if r.ContentLength > 0 {
			return fmt.Sprintf("[TRUNCATED - %d bytes]", r.ContentLength)
		}
		return fmt.Sprintf("[TRUNCATED - more than %d bytes]", maxLoggedBody)
	}
	return filterSensitiveBody(prefix)
}

type replayBody struct {
	io.Reader
	io.Closer
}

// responseWriter records the status and, when allowed, the first
// maxLoggedBody bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
	keepBody   bool
	body       bytes.Buffer
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.size += len(b)
	if rw.keepBody && rw.body.Len() <= maxLoggedBody {
		rw.body.Write(b)
	}
	return rw.ResponseWriter.Write(b)
}

func logResponse(ctx context.Context, logger *slog.Logger, rw *responseWriter, duration time.Duration, reqID string) {
	statusCode := rw.statusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	logLevel := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		logLevel = slog.LevelWarn
	} else if statusCode >= 500 {
		logLevel = slog.LevelError
	}

	body := "[NOT LOGGED]"
	if rw.keepBody {
		body = filterSensitiveBody(rw.body.Bytes())
	}

	logger.Log(ctx, logLevel, "response",
		"request_id", reqID,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
		"response_size", rw.size,
		"body", body,
	)
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

func filterSensitiveHeaders(headers http.Header) map[string]string {
	filtered := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) {
			filtered[name] = "[FILTERED]"
			continue
		}
		filtered[name] = strings.Join(values, ", ")
	}
	return filtered
}

func filterSensitiveBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > maxLoggedBody {
		return fmt.Sprintf("[TRUNCATED - more than %d bytes]", maxLoggedBody)
	}

	var jsonData interface{}
	if err := json.Unmarshal(body, &jsonData); err != nil {
		if isSensitive(string(body)) {
			return "[FILTERED - Contains sensitive data]"
		}
		return string(body)
	}

	filteredBytes, err := json.Marshal(filterSensitiveJSON(jsonData))
	if err != nil {
		return "[ERROR - Failed to marshal filtered JSON]"
	}
	return string(filteredBytes)
}

func filterSensitiveJSON(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		filtered := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isSensitive(key) {
				filtered[key] = "[FILTERED]"
				continue
			}
			filtered[key] = filterSensitiveJSON(value)
		}
		return filtered
	case []interface{}:
		filtered := make([]interface{}, len(v))
		for i, item := range v {
			filtered[i] = filterSensitiveJSON(item)
		}
		return filtered
	default:
		return v
	}
}
