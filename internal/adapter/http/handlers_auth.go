package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/peopleforge/peopleforge/internal/domain/event"
	"github.com/peopleforge/peopleforge/internal/domain/identity"
	"github.com/peopleforge/peopleforge/internal/middleware"
)

const refreshCookieName = "peopleforge_refresh"

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[identity.LoginRequest](w, r)
	if !ok {
		return
	}

	resp, rawRefresh, err := h.Auth.Login(r.Context(), req)
	if err != nil {
		slog.Debug("login failed", "email", req.Email, "error", err)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.Security.Emit(event.SecurityEvent{
		Kind:      event.KindLogin,
		Severity:  event.SeverityLow,
		ClientIP:  r.RemoteAddr,
		Method:    r.Method,
		Path:      r.URL.Path,
		UserID:    resp.User.ID,
		CompanyID: resp.User.CompanyID,
	})

	setRefreshCookie(w, rawRefresh, int(7*24*time.Hour/time.Second))
	writeJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /api/v1/auth/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "no refresh token")
		return
	}

	resp, newRawRefresh, err := h.Auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		slog.Debug("token refresh failed", "error", err)
		setRefreshCookie(w, "", -1)
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	h.Security.Emit(event.SecurityEvent{
		Kind:      event.KindTokenRefresh,
		Severity:  event.SeverityLow,
		ClientIP:  r.RemoteAddr,
		Method:    r.Method,
		Path:      r.URL.Path,
		UserID:    resp.User.ID,
		CompanyID: resp.User.CompanyID,
	})

	setRefreshCookie(w, newRawRefresh, int(7*24*time.Hour/time.Second))
	writeJSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/v1/auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.Auth.Logout(r.Context(), id.UserID); err != nil {
		slog.Error("logout failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}

	h.Security.Emit(event.SecurityEvent{
		Kind:      event.KindLogout,
		Severity:  event.SeverityLow,
		ClientIP:  r.RemoteAddr,
		Method:    r.Method,
		Path:      r.URL.Path,
		UserID:    id.UserID,
		CompanyID: id.CompanyID,
	})

	setRefreshCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func setRefreshCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     "/api/v1/auth",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	})
}
