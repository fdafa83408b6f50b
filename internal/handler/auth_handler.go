package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/internal/auth"
)

// devUserNamespace keeps dev user IDs stable across restarts.
var devUserNamespace = uuid.MustParse("6f1c8f0e-5a3b-4d0c-9b1e-2c7d4e8a9f10")

// AuthHandler issues and refreshes tokens.
type AuthHandler struct {
	jwtMgr  *auth.JWTManager
	devMode bool
}

// NewAuthHandler creates an AuthHandler. Dev logins are refused unless
// devMode is set.
func NewAuthHandler(jwtMgr *auth.JWTManager, devMode bool) *AuthHandler {
	return &AuthHandler{jwtMgr: jwtMgr, devMode: devMode}
}

// RefreshToken handles POST /auth/refresh.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tokens, err := h.jwtMgr.Refresh(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// DevLogin handles GET /auth/dev?name=. The same name always maps to the
// same user.
func (h *AuthHandler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if !h.devMode {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing name parameter")
		return
	}

	userID := uuid.NewSHA1(devUserNamespace, []byte(name)).String()
	tokens, err := h.jwtMgr.Issue(userID, name)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to issue dev tokens")
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}
