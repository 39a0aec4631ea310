package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2)
	rl.now = func() time.Time { return now }

	ok, _ := rl.allow("tok")
	assert.True(t, ok)
	ok, _ = rl.allow("tok")
	assert.True(t, ok)
	ok, wait := rl.allow("tok")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)

	// Other keys have their own window.
	ok, _ = rl.allow("other")
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = rl.allow("tok")
	assert.True(t, ok)
}

func TestRateLimiter_SweepsExpiredWindows(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(10)
	rl.now = func() time.Time { return now }

	rl.allow("a")
	rl.allow("b")
	now = now.Add(10 * time.Minute)
	rl.allow("c")

	assert.Len(t, rl.windows, 1)
	assert.Contains(t, rl.windows, "c")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := newRateLimiter(1)
	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/users/1/items", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := withRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	id := uuid.NewString()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", id)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, id, seen)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "not a uuid")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "not a uuid", seen)
}

func TestWithRecovery(t *testing.T) {
	h := withRecovery(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestTokenInfo_Access(t *testing.T) {
	all := &TokenInfo{Libraries: []string{"*"}, Permission: PermissionReadOnly}
	assert.True(t, all.Allows("groups/9"))
	assert.False(t, all.CanWrite())

	one := &TokenInfo{Libraries: []string{"users/1"}, Permission: PermissionReadWrite}
	assert.True(t, one.Allows("users/1"))
	assert.False(t, one.Allows("groups/5"))
	assert.True(t, one.CanWrite())
}
