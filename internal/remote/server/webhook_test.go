package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastWebhooks(urls ...string) *WebhookNotifier {
	return NewWebhookNotifier(&WebhookConfig{URLs: urls, RetryDelay: time.Millisecond}, discardLogger())
}

func TestNewWebhookNotifier_Disabled(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(nil, nil))
	assert.Nil(t, NewWebhookNotifier(&WebhookConfig{}, nil))

	var wn *WebhookNotifier
	assert.NotPanics(t, func() {
		wn.NotifyUpdate("users/1", 3)
		wn.Close()
	})
}

func TestWebhookNotifier_NotifyUpdate(t *testing.T) {
	var mu sync.Mutex
	var received []WebhookEvent
	var headers []string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, event)
		headers = append(headers, r.Header.Get("X-Libsync-Event"))
		mu.Unlock()
	}))
	defer ts.Close()

	wn := fastWebhooks(ts.URL, ts.URL)
	require.NotNil(t, wn)

	wn.NotifyUpdate("groups/5", 42)
	wn.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	for i, event := range received {
		assert.Equal(t, EventLibraryUpdate, event.Event)
		assert.Equal(t, "groups/5", event.Library)
		assert.Equal(t, 42, event.Version)
		assert.NotEmpty(t, event.Timestamp)
		assert.Equal(t, EventLibraryUpdate, headers[i])
	}
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer ts.Close()

	wn := fastWebhooks(ts.URL)
	require.NoError(t, wn.deliver(context.Background(), ts.URL, []byte(`{}`)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	wn := fastWebhooks(ts.URL)
	err := wn.deliver(context.Background(), ts.URL, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookNotifier_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	wn := fastWebhooks(ts.URL)
	require.Error(t, wn.deliver(context.Background(), ts.URL, []byte(`{}`)))
	assert.Equal(t, int32(3), calls.Load())
}
