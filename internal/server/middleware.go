package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	limiter "github.com/ulule/limiter/v3"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"github.com/uptrace/bunrouter"
)

// RequestIDHeader carries the request id echoed to clients and logged.
const RequestIDHeader = "X-Request-ID"

// responseWriter is a minimal wrapper for http.ResponseWriter that allows
// the written status code and body size to be captured for logging.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

func (rw *responseWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(data)
	rw.bytes += int64(n)
	return n, err
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// requestIDMiddleware keeps the caller's X-Request-ID when it is a UUID and
// assigns a new one otherwise.
func requestIDMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		id := req.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			req.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		return next(w, req)
	}
}

// loggingMiddleware logs every request with its status, size and duration.
func loggingMiddleware(logger *log.Entry) bunrouter.MiddlewareFunc {
	return func(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
		return func(w http.ResponseWriter, req bunrouter.Request) error {
			start := time.Now()
			wrapped := wrapResponseWriter(w)
			err := next(wrapped, req)

			entry := logger.WithFields(log.Fields{
				"method":     req.Method,
				"uri":        req.RequestURI,
				"route":      req.Route(),
				"status":     wrapped.Status(),
				"bytes_in":   req.ContentLength,
				"bytes_out":  wrapped.bytes,
				"remote":     req.RemoteAddr,
				"request_id": w.Header().Get(RequestIDHeader),
				"duration":   time.Since(start).String(),
			})
			if err != nil {
				entry.WithError(err).Error("[HTTP] Request failed")
			} else if wrapped.Status() >= http.StatusInternalServerError {
				entry.Warn("[HTTP] Request served with server error")
			} else {
				entry.Info("[HTTP] Request served")
			}
			return err
		}
	}
}

// enableCORS answers preflight requests and sets the allow headers for the
// configured origins. It wraps the whole router so OPTIONS requests never
// reach route matching.
func enableCORS(origins []string, next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// newLimiter builds the rate limiter for a formatted rate such as 100-S.
func newLimiter(rate string) (*stdlib.Middleware, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(memory.NewStore(), r)
	return stdlib.NewMiddleware(instance,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			writeDetail(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			writeDetail(w, http.StatusInternalServerError, err.Error())
		}),
	), nil
}

// limitMiddleware applies lm to every request, based on
// https://github.com/ulule/limiter/blob/master/drivers/middleware/stdlib/middleware.go
func limitMiddleware(lm *stdlib.Middleware) bunrouter.MiddlewareFunc {
	return func(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
		return func(w http.ResponseWriter, req bunrouter.Request) error {
			r := req.Request
			key := lm.KeyGetter(r)
			if lm.ExcludedKey != nil && lm.ExcludedKey(key) {
				return next(w, req)
			}

			context, err := lm.Limiter.Get(r.Context(), key)
			if err != nil {
				lm.OnError(w, r, err)
				return err
			}

			w.Header().Add("X-RateLimit-Limit", strconv.FormatInt(context.Limit, 10))
			w.Header().Add("X-RateLimit-Remaining", strconv.FormatInt(context.Remaining, 10))
			w.Header().Add("X-RateLimit-Reset", strconv.FormatInt(context.Reset, 10))

			if context.Reached {
				lm.OnLimitReached(w, r)
				return nil
			}
			return next(w, req)
		}
	}
}

// bodyLimitMiddleware caps request bodies at limit bytes. Requests that
// announce a larger body are rejected up front.
func bodyLimitMiddleware(limit int64) bunrouter.MiddlewareFunc {
	return func(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
		return func(w http.ResponseWriter, req bunrouter.Request) error {
			if limit <= 0 || req.Body == nil {
				return next(w, req)
			}
			if req.ContentLength > limit {
				writeDetail(w, http.StatusRequestEntityTooLarge,
					"File too large. Maximum size is "+strconv.FormatInt(limit>>20, 10)+"MB")
				return nil
			}
			req.Body = http.MaxBytesReader(w, req.Body, limit)
			return next(w, req)
		}
	}
}
