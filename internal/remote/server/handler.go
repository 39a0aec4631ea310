package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/remote/metastore"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64  // bytes, for JSON endpoints
	RequestsPerMinute int    // per-token rate limit
	AdminToken        string // for admin endpoints
	Webhooks          *WebhookNotifier
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody:    16 * 1024 * 1024, // 16MB
		RequestsPerMinute: 300,
	}
}

// Key query parameters by kind.
var keyParams = map[string]string{
	metastore.KindCollections: "collectionKey",
	metastore.KindSearches:    "searchKey",
	metastore.KindItems:       "itemKey",
	metastore.KindSettings:    "settingKey",
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function waits for pending webhook deliveries and
// should be called on server shutdown.
func Handler(meta metastore.MetaStore, tokens TokenStore, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := newRateLimiter(cfg.RequestsPerMinute)
	auth := authenticate(tokens)

	// applyMiddleware runs the list in order: auth -> authorize -> rate limit -> handler.
	withAuth := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, authorize(false), rl.middleware)
	}
	withAuthWrite := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, authorize(true), rl.middleware)
	}

	h := &libraryHandler{meta: meta, cfg: cfg, logger: logger}
	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := tokens.ListTokens(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: token store unavailable"))
			return
		}
		if _, err := meta.ListLibraries(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: library store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Admin endpoints
	if cfg.AdminToken != "" {
		admin := &adminHandler{tokens: tokens, meta: meta, logger: logger}
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, admin.routes()))
	}

	// Library API, identical for personal and group libraries
	for _, prefix := range []string{"/users/{id}", "/groups/{id}"} {
		mux.Handle("GET "+prefix+"/deleted", withAuth(h.handleDeleted))
		mux.Handle("GET "+prefix+"/{kind}", withAuth(h.handleRead))
		mux.Handle("POST "+prefix+"/{kind}", withAuthWrite(h.handleWrite))
		mux.Handle("DELETE "+prefix+"/{kind}", withAuthWrite(h.handleDelete))
	}

	handler := applyMiddleware(mux,
		withRequestID,
		withAccessLog(logger),
		withRecovery(logger),
	)

	return handler, cfg.Webhooks.Close
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// libraryPath returns "users/{id}" or "groups/{id}" for a library route.
func libraryPath(r *http.Request) string {
	id := r.PathValue("id")
	if id == "" {
		return ""
	}
	typ, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	return typ + "/" + id
}

// parseLibraryPath validates a library path and returns its wire identity.
func parseLibraryPath(path string) (remote.ObjectLibrary, error) {
	typ, rawID, ok := strings.Cut(path, "/")
	if !ok {
		return remote.ObjectLibrary{}, fmt.Errorf("invalid library path %q", path)
	}
	id, err := strconv.Atoi(rawID)
	if err != nil || id <= 0 {
		return remote.ObjectLibrary{}, fmt.Errorf("invalid library id in %q", path)
	}
	switch typ {
	case "users":
		return remote.ObjectLibrary{Type: "user", ID: id}, nil
	case "groups":
		return remote.ObjectLibrary{Type: "group", ID: id}, nil
	}
	return remote.ObjectLibrary{}, fmt.Errorf("invalid library type in %q", path)
}

type libraryHandler struct {
	meta   metastore.MetaStore
	cfg    *ServerConfig
	logger *slog.Logger
}

func setVersion(w http.ResponseWriter, version int) {
	w.Header().Set(remote.HeaderLastModifiedVersion, strconv.Itoa(version))
}

// writeStoreError maps store errors onto API errors.
func (h *libraryHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, current int) {
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, metastore.ErrPreconditionFailed):
		setVersion(w, current)
		writeError(w, http.StatusPreconditionFailed, "precondition_failed", err.Error())
	case errors.Is(err, metastore.ErrInvalid):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		h.logger.Error("library request", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func requestKind(w http.ResponseWriter, r *http.Request) (string, bool) {
	kind := r.PathValue("kind")
	if !metastore.ValidKind(kind) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown object kind '%s'", kind))
		return "", false
	}
	return kind, true
}

func querySince(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.Atoi(raw)
	if err != nil || since < 0 {
		return 0, fmt.Errorf("invalid since value %q", raw)
	}
	return since, nil
}

// headerSince returns the If-Unmodified-Since-Version value, or -1 when absent.
func headerSince(r *http.Request) (int, error) {
	raw := r.Header.Get(remote.HeaderIfUnmodifiedSinceVersion)
	if raw == "" {
		return -1, nil
	}
	since, err := strconv.Atoi(raw)
	if err != nil || since < 0 {
		return 0, fmt.Errorf("invalid %s header %q", remote.HeaderIfUnmodifiedSinceVersion, raw)
	}
	return since, nil
}

func queryKeys(r *http.Request, kind string) []string {
	raw := r.URL.Query().Get(keyParams[kind])
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// --- Read Handlers ---

func (h *libraryHandler) handleRead(w http.ResponseWriter, r *http.Request) {
	kind, ok := requestKind(w, r)
	if !ok {
		return
	}
	path := libraryPath(r)

	if r.URL.Query().Get("format") == "versions" {
		since, err := querySince(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		versions, current, err := h.meta.Versions(r.Context(), path, kind, since)
		if err != nil {
			h.writeStoreError(w, r, err, current)
			return
		}
		setVersion(w, current)
		writeJSON(w, http.StatusOK, versions)
		return
	}

	keys := queryKeys(r, kind)
	if len(keys) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("format=versions or %s is required", keyParams[kind]))
		return
	}
	if len(keys) > remote.MaxObjectsPerRequest {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("at most %d keys may be requested", remote.MaxObjectsPerRequest))
		return
	}

	lib, err := parseLibraryPath(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	objects, current, err := h.meta.Objects(r.Context(), path, kind, keys)
	if err != nil {
		h.writeStoreError(w, r, err, current)
		return
	}

	out := make([]remote.ObjectJSON, len(objects))
	for i, obj := range objects {
		out[i] = remote.ObjectJSON{Key: obj.Key, Version: obj.Version, Library: lib, Data: obj.Data}
	}
	setVersion(w, current)
	writeJSON(w, http.StatusOK, out)
}

func (h *libraryHandler) handleDeleted(w http.ResponseWriter, r *http.Request) {
	since, err := querySince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	deleted, current, err := h.meta.Deleted(r.Context(), libraryPath(r), since)
	if err != nil {
		h.writeStoreError(w, r, err, current)
		return
	}

	setVersion(w, current)
	writeJSON(w, http.StatusOK, &remote.DeletedKeys{
		Collections: deleted[metastore.KindCollections],
		Searches:    deleted[metastore.KindSearches],
		Items:       deleted[metastore.KindItems],
		Tags:        []string{},
		Settings:    deleted[metastore.KindSettings],
	})
}

// --- Write Handlers ---

func (h *libraryHandler) handleWrite(w http.ResponseWriter, r *http.Request) {
	kind, ok := requestKind(w, r)
	if !ok {
		return
	}
	since, err := headerSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	path := libraryPath(r)

	if kind == metastore.KindSettings {
		h.writeSettings(w, r, path, since)
		return
	}

	lib, err := parseLibraryPath(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	var objects []map[string]json.RawMessage
	if err := readJSON(r, h.cfg.MaxRequestBody, &objects); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(objects) > remote.MaxObjectsPerRequest {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("at most %d objects may be written per request", remote.MaxObjectsPerRequest))
		return
	}

	results, version, err := h.meta.WriteObjects(r.Context(), path, kind, since, objects)
	if err != nil {
		h.writeStoreError(w, r, err, version)
		return
	}

	resp := remote.WriteResponse{
		Successful: map[string]json.RawMessage{},
		Success:    map[string]string{},
		Unchanged:  map[string]string{},
		Failed:     map[string]remote.FailedObject{},
	}
	wrote := false
	for i, res := range results {
		idx := strconv.Itoa(i)
		switch res.Status {
		case metastore.WriteSuccessful:
			data, err := json.Marshal(remote.ObjectJSON{Key: res.Key, Version: res.Object.Version, Library: lib, Data: res.Object.Data})
			if err != nil {
				h.writeStoreError(w, r, err, version)
				return
			}
			resp.Successful[idx] = data
			resp.Success[idx] = res.Key
			wrote = true
		case metastore.WriteUnchanged:
			resp.Unchanged[idx] = res.Key
		case metastore.WriteFailed:
			resp.Failed[idx] = remote.FailedObject{Key: res.Key, Code: res.Code, Message: res.Message}
		}
	}

	if wrote {
		h.cfg.Webhooks.NotifyUpdate(path, version)
	}
	setVersion(w, version)
	writeJSON(w, http.StatusOK, &resp)
}

func (h *libraryHandler) writeSettings(w http.ResponseWriter, r *http.Request, path string, since int) {
	var settings map[string]json.RawMessage
	if err := readJSON(r, h.cfg.MaxRequestBody, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(settings) > remote.MaxObjectsPerRequest {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("at most %d settings may be written per request", remote.MaxObjectsPerRequest))
		return
	}

	before, err := h.meta.LibraryVersion(r.Context(), path)
	if err != nil {
		h.writeStoreError(w, r, err, 0)
		return
	}
	version, err := h.meta.WriteSettings(r.Context(), path, since, settings)
	if err != nil {
		h.writeStoreError(w, r, err, version)
		return
	}
	if version != before {
		h.cfg.Webhooks.NotifyUpdate(path, version)
	}

	setVersion(w, version)
	w.WriteHeader(http.StatusNoContent)
}

func (h *libraryHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, ok := requestKind(w, r)
	if !ok {
		return
	}
	since, err := headerSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	keys := queryKeys(r, kind)
	if len(keys) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", keyParams[kind] + " is required")
		return
	}
	if len(keys) > remote.MaxObjectsPerRequest {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("at most %d objects may be deleted per request", remote.MaxObjectsPerRequest))
		return
	}

	path := libraryPath(r)
	before, err := h.meta.LibraryVersion(r.Context(), path)
	if err != nil {
		h.writeStoreError(w, r, err, 0)
		return
	}
	version, err := h.meta.DeleteObjects(r.Context(), path, kind, since, keys)
	if err != nil {
		h.writeStoreError(w, r, err, version)
		return
	}
	if version != before {
		h.cfg.Webhooks.NotifyUpdate(path, version)
	}

	setVersion(w, version)
	w.WriteHeader(http.StatusNoContent)
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
