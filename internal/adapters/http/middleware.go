package httpadapter

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
)

const requestIDHeader = "X-Request-Id"

type requestIDContextKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
		r = r.WithContext(ctx)
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r)
	})
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		logAttrs := []any{
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.statusCode,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes", recorder.bytesWritten,
			"remote_addr", clientAddr(r),
			"user_agent", r.UserAgent(),
		}

		switch {
		case recorder.statusCode >= 500:
			slog.Error("http_request", logAttrs...)
		case recorder.statusCode >= 400:
			slog.Warn("http_request", logAttrs...)
		default:
			slog.Info("http_request", logAttrs...)
		}
	})
}

// rateLimiter enforces a fixed-window request cap per client address. The
// window counters live in the shared cache so every API replica sees the
// same count; without a cache it degrades to a per-process token bucket.
type rateLimiter struct {
	cache       ports.CacheStore // nil switches to the local fallback
	maxRequests int
	window      time.Duration
	onLimited   func()

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func newRateLimiter(cache ports.CacheStore, maxRequests int, window time.Duration, onLimited func()) *rateLimiter {
	if maxRequests <= 0 {
		maxRequests = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &rateLimiter{
		cache:       cache,
		maxRequests: maxRequests,
		window:      window,
		onLimited:   onLimited,
		local:       make(map[string]*rate.Limiter),
	}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !rl.allow(r.Context(), client) {
			if rl.onLimited != nil {
				rl.onLimited()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": "요청이 너무 많아요. 잠시 후 다시 시도해 주세요.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *rateLimiter) allow(ctx context.Context, client string) bool {
	if rl.cache != nil {
		count, err := rl.cache.IncrWindow(ctx, "ratelimit:"+client, rl.window)
		if err == nil {
			return count <= int64(rl.maxRequests)
		}
		slog.Warn("rate_limit_cache_failed_using_local", "error", err)
	}
	return rl.localLimiter(client).Allow()
}

func (rl *rateLimiter) localLimiter(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.local[client]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.maxRequests)), rl.maxRequests)
		rl.local[client] = limiter
	}
	return limiter
}

// clientAddr identifies the caller, honoring the proxy forwarding header.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
