package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/remote/metastore"
)

const maxAdminBody = 1 << 20

// adminHandler serves token and library management under /admin/.
type adminHandler struct {
	tokens TokenStore
	meta   metastore.MetaStore
	logger *slog.Logger
}

func (a *adminHandler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/tokens", a.createToken)
	mux.HandleFunc("GET /admin/tokens", a.listTokens)
	mux.HandleFunc("DELETE /admin/tokens/{id}", a.deleteToken)
	mux.HandleFunc("POST /admin/libraries", a.createLibrary)
	mux.HandleFunc("GET /admin/libraries", a.listLibraries)
	mux.HandleFunc("DELETE /admin/libraries/{type}/{id}", a.deleteLibrary)
	return mux
}

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := []byte("Bearer " + adminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), expected) != 1 {
			writeError(w, http.StatusUnauthorized, "auth_failed", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *adminHandler) createToken(w http.ResponseWriter, r *http.Request) {
	var req remote.AdminTokenRequest
	if err := readJSON(r, maxAdminBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if req.Permission == "" {
		req.Permission = PermissionReadOnly
	}
	if req.Permission != PermissionReadOnly && req.Permission != PermissionReadWrite {
		writeError(w, http.StatusBadRequest, "bad_request", "permission must be 'ro' or 'rw'")
		return
	}
	for _, lib := range req.Libraries {
		if lib == "*" {
			continue
		}
		if _, err := parseLibraryPath(lib); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}
	if len(req.Libraries) == 0 {
		req.Libraries = []string{"*"}
	}

	raw, info, err := a.tokens.CreateToken(req.Description, req.Libraries, req.Permission)
	if err != nil {
		a.logger.Error("create token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	a.logger.Info("token created", "token_id", info.ID, "permission", info.Permission)

	writeJSON(w, http.StatusCreated, &remote.AdminTokenCreateResponse{Token: raw, AdminTokenInfo: tokenInfo(info)})
}

func tokenInfo(t *TokenInfo) remote.AdminTokenInfo {
	return remote.AdminTokenInfo{
		ID:          t.ID,
		Description: t.Desc,
		Libraries:   t.Libraries,
		Permission:  t.Permission,
	}
}

func (a *adminHandler) listTokens(w http.ResponseWriter, _ *http.Request) {
	list, err := a.tokens.ListTokens()
	if err != nil {
		a.logger.Error("list tokens", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	// Hashes stay on the server.
	out := make([]remote.AdminTokenInfo, len(list))
	for i, t := range list {
		out[i] = tokenInfo(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *adminHandler) deleteToken(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.tokens.DeleteToken(id); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	a.logger.Info("token deleted", "token_id", id)
	w.WriteHeader(http.StatusOK)
}

func (a *adminHandler) createLibrary(w http.ResponseWriter, r *http.Request) {
	var req remote.AdminLibraryInfo
	if err := readJSON(r, maxAdminBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if _, err := parseLibraryPath(req.Library); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := a.meta.CreateLibrary(r.Context(), req.Library, req.Name); err != nil {
		if errors.Is(err, metastore.ErrConflict) {
			writeError(w, http.StatusConflict, "conflict", fmt.Sprintf("library '%s' already exists", req.Library))
			return
		}
		a.logger.Error("create library", "error", err, "library", req.Library)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	a.logger.Info("library created", "library", req.Library)
	writeJSON(w, http.StatusCreated, &metastore.LibraryInfo{Path: req.Library, Name: req.Name})
}

func (a *adminHandler) listLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := a.meta.ListLibraries(r.Context())
	if err != nil {
		a.logger.Error("list libraries", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if libs == nil {
		libs = []metastore.LibraryInfo{}
	}
	writeJSON(w, http.StatusOK, libs)
}

func (a *adminHandler) deleteLibrary(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("type") + "/" + r.PathValue("id")
	if err := a.meta.DeleteLibrary(r.Context(), path); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("library '%s' not found", path))
			return
		}
		a.logger.Error("delete library", "error", err, "library", path)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	a.logger.Info("library deleted", "library", path)
	w.WriteHeader(http.StatusOK)
}
