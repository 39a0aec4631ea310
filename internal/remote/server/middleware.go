// Package server implements the libsync-server HTTP handlers and middleware.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	tokenKey
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func tokenFrom(ctx context.Context) *TokenInfo {
	info, _ := ctx.Value(tokenKey).(*TokenInfo)
	return info
}

// withRequestID tags every request with an ID. A UUID sent by the client in
// X-Request-ID is reused so both sides log the same value.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// withAccessLog logs one line per request after it completes.
func withAccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status()
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestIDFrom(r.Context()),
			)
		})
	}
}

// withRecovery turns a handler panic into a 500 when nothing was written yet.
func withRecovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("panic recovered", "error", v, "request_id", requestIDFrom(r.Context()))
				if rec.code == 0 {
					writeError(rec, http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// authenticate resolves the bearer token and stores it in the request context.
func authenticate(tokens TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "auth_failed", "missing or invalid Authorization header")
				return
			}
			info, err := tokens.GetByHash(HashToken(raw))
			if err != nil || info == nil {
				writeError(w, http.StatusUnauthorized, "auth_failed", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey, info)))
		})
	}
}

// authorize rejects tokens without access to the addressed library, and
// read-only tokens when write is set.
func authorize(write bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lib := libraryPath(r)
			if lib == "" {
				writeError(w, http.StatusBadRequest, "bad_request", "missing library in path")
				return
			}
			info := tokenFrom(r.Context())
			if info == nil || !info.Allows(lib) {
				writeError(w, http.StatusForbidden, "forbidden", "token does not have access to library '"+lib+"'")
				return
			}
			if write && !info.CanWrite() {
				writeError(w, http.StatusForbidden, "forbidden", "read-only token cannot modify library '"+lib+"'")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter counts requests per token in fixed one-minute windows.
// Expired windows are swept on access.
type rateLimiter struct {
	mu        sync.Mutex
	limit     int
	period    time.Duration
	windows   map[string]*rateWindow
	lastSweep time.Time
	now       func() time.Time
}

type rateWindow struct {
	used    int
	resetAt time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		limit:   requestsPerMinute,
		period:  time.Minute,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// allow records one request for key. When the limit is exceeded it reports
// how long until the window resets.
func (rl *rateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > 5*rl.period {
		for k, win := range rl.windows {
			if now.After(win.resetAt) {
				delete(rl.windows, k)
			}
		}
		rl.lastSweep = now
	}

	win, ok := rl.windows[key]
	if !ok || now.After(win.resetAt) {
		win = &rateWindow{resetAt: now.Add(rl.period)}
		rl.windows[key] = win
	}
	win.used++
	if win.used > rl.limit {
		return false, win.resetAt.Sub(now)
	}
	return true, 0
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	if rl.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var key string
		if info := tokenFrom(r.Context()); info != nil {
			key = info.ID
		} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		} else {
			key = r.RemoteAddr
		}

		if ok, wait := rl.allow(key); !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging and recovery.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.code == 0 {
		rec.code = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.code == 0 {
		rec.code = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) status() int {
	if rec.code == 0 {
		return http.StatusOK
	}
	return rec.code
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
