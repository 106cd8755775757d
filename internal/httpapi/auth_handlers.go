package httpapi

import (
	"net/http"
	"time"

	"resqlink.org/internal/audit"
	"resqlink.org/internal/auth"
	"resqlink.org/internal/identity"
)

type registerRequest struct {
	RealID   string `json:"real_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Village  int64  `json:"assigned_village"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *identity.User `json:"user"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.identity.Register(r.Context(), identity.RegisterInput{
		RealID:   req.RealID,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Village:  req.Village,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"real_id":    user.RealID,
		"village_id": user.AssignedVillage,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, token, expiresAt, err := a.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"real_id": user.RealID,
		"role":    user.Role,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// handleLogout revokes the exact token the request carried. Revocation is
// idempotent: logging out twice is still a 204.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := auth.TokenFromContext(r.Context()); ok {
		a.tokens.Revoke(token)
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "missing bearer token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"real_id":  caller.RealID,
		"role":     string(caller.Role),
		"village":  caller.Scope.VillageID,
		"villages": caller.Scope.Villages,
	})
}
