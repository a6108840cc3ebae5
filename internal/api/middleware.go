package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helpdeck/helpdeck/internal/business"
)

type businessCtxKey struct{}

var ctxKeyBusiness = businessCtxKey{}

// businessFromContext retrieves the authenticated tenant from the request
// context.
func businessFromContext(ctx context.Context) (*business.Business, bool) {
	b, ok := ctx.Value(ctxKeyBusiness).(*business.Business)
	return b, ok
}

// loggingWriter wraps http.ResponseWriter to capture status and size.
// Implements Flusher for SSE streaming and Unwrap for ResponseController.
type loggingWriter struct {
	w            http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lw *loggingWriter) Header() http.Header {
	return lw.w.Header()
}

func (lw *loggingWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.w.WriteHeader(code)
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	if lw.statusCode == 0 {
		lw.statusCode = http.StatusOK
	}
	n, err := lw.w.Write(b)
	lw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for SSE streaming support.
func (lw *loggingWriter) Flush() {
	if f, ok := lw.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (lw *loggingWriter) Unwrap() http.ResponseWriter {
	return lw.w
}

// recoveryMiddleware turns panics into 500s instead of dropped connections.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &loggingWriter{w: w}

			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"headers_sent", wrapper.statusCode != 0,
					)
					if wrapper.statusCode == 0 {
						writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
					}
				}
			}()
			next.ServeHTTP(wrapper, r)
		})
	}
}

// loggingMiddleware logs request latency, status and size. Reuses an
// existing *loggingWriter from outer middleware to avoid double-wrapping.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper, ok := w.(*loggingWriter)
			if !ok {
				wrapper = &loggingWriter{w: w}
			}

			next.ServeHTTP(wrapper, r)

			status := wrapper.statusCode
			if status == 0 {
				status = http.StatusOK
			}

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", wrapper.bytesWritten,
				"duration", time.Since(start),
				"ip", r.RemoteAddr,
			)
		})
	}
}

// authMiddleware resolves the tenant for every /api/v1 request. Two forms
// are accepted: X-Business-ID, set by a gateway that has already verified
// the caller's credentials, or X-API-Key, looked up against the business
// store. The core never verifies bearer tokens itself.
func authMiddleware(store *business.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			biz, err := resolveBusiness(r, store)
			if err != nil {
				switch {
				case errors.Is(err, errNoCredentials):
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing X-Business-ID or X-API-Key")
				case errors.Is(err, business.ErrNotFound), errors.Is(err, business.ErrDeleted):
					writeError(w, http.StatusNotFound, "BUSINESS_NOT_FOUND", "business not found")
				case errors.Is(err, business.ErrSuspended):
					writeError(w, http.StatusNotFound, "BUSINESS_NOT_FOUND", "business not found")
				default:
					logger.Error("resolving business", "error", err)
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				}
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyBusiness, biz)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errNoCredentials = errors.New("no credentials supplied")

func resolveBusiness(r *http.Request, store *business.Store) (*business.Business, error) {
	if raw := r.Header.Get("X-Business-ID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, business.ErrNotFound
		}
		return store.Authorize(r.Context(), id)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		biz, err := store.GetByAPIKey(r.Context(), key)
		if err != nil {
			return nil, err
		}
		if !biz.Status.CanQuery() {
			return nil, business.ErrSuspended
		}
		return biz, nil
	}
	return nil, errNoCredentials
}

// clientIP extracts the client IP for rate limiting. When trustProxy is
// set, X-Real-IP and X-Forwarded-For are honoured; header values are
// validated with net.ParseIP so garbage can't become limiter keys.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
