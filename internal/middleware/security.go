package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "emprofiler/internal/errors"
)

const apiKeyHeader = "X-API-Key"

type clientKey struct{}

// ClientFromContext returns the API client name set by APIKeyAuth
func ClientFromContext(ctx context.Context) string {
	client, _ := ctx.Value(clientKey{}).(string)
	return client
}

// APIKeyAuth provides API key authentication middleware.
// validKeys maps key values to client names; an empty map lets every request through.
func APIKeyAuth(logger *slog.Logger, validKeys map[string]string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(validKeys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			apiKey := r.Header.Get(apiKeyHeader)
			if apiKey == "" {
				// Browsers cannot set headers on websocket upgrades
				apiKey = r.URL.Query().Get("api_key")
			}

			if apiKey == "" {
				logger.WarnContext(ctx, "missing API key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeProblem(w, r, http.StatusUnauthorized, apierrors.TypeUnauthorized, "Unauthorized", "API key required")
				return
			}

			clientName, valid := lookupKey(validKeys, apiKey)
			if !valid {
				logger.WarnContext(ctx, "invalid API key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeProblem(w, r, http.StatusUnauthorized, apierrors.TypeUnauthorized, "Unauthorized", "Invalid API key")
				return
			}

			ctx = context.WithValue(ctx, clientKey{}, clientName)
			logger.DebugContext(ctx, "API key authentication successful",
				"client", clientName,
				"method", r.Method,
				"path", r.URL.Path,
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func lookupKey(validKeys map[string]string, apiKey string) (string, bool) {
	for key, client := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return client, true
		}
	}
	return "", false
}

// SecureHeaders provides configurable security headers
type SecureHeaders struct {
	// HSTS settings
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// DefaultSecureHeaders returns secure headers suited to a JSON API
func DefaultSecureHeaders() *SecureHeaders {
	return &SecureHeaders{
		HSTSMaxAge:            63072000, // 2 years
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
		PermissionsPolicy:     "camera=(), geolocation=(), microphone=(), interest-cohort=()",
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip security headers for WebSocket upgrades
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if sh.HSTSMaxAge > 0 && r.TLS != nil {
			hsts := fmt.Sprintf("max-age=%d", sh.HSTSMaxAge)
			if sh.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			h.Set("Strict-Transport-Security", hsts)
		}
		setIfNotEmpty(h, "Content-Security-Policy", sh.ContentSecurityPolicy)
		setIfNotEmpty(h, "X-Frame-Options", sh.XFrameOptions)
		setIfNotEmpty(h, "X-Content-Type-Options", sh.XContentTypeOptions)
		setIfNotEmpty(h, "Referrer-Policy", sh.ReferrerPolicy)
		setIfNotEmpty(h, "Permissions-Policy", sh.PermissionsPolicy)

		next.ServeHTTP(w, r)
	})
}

func setIfNotEmpty(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

// AuditLog records who triggered state-changing requests such as dispatches and cancellations.
// Safe methods pass through unlogged.
func AuditLog(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			start := time.Now()
			ww := &auditResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			client := ClientFromContext(ctx)
			if client == "" {
				client = "anonymous"
			}

			next.ServeHTTP(ww, r)

			logger.InfoContext(ctx, "audit",
				"event_type", "api_mutation",
				"client", client,
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.Query().Encode(),
				"remote_addr", r.RemoteAddr,
				"status", ww.statusCode,
				"duration", time.Since(start).String(),
			)
		})
	}
}

// auditResponseWriter captures the response status code
type auditResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *auditResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *auditResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
