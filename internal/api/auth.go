package api

import (
	"encoding/json"
	"net/http"

	"github.com/relaybridge/relay-core/internal/auth"
)

// registerRequest is the request body for POST /auth/register.
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// changePasswordRequest is the request body for POST /auth/change-password.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// authResponse is returned by register and login.
type authResponse struct {
	User  *auth.User `json:"user"`
	Token string     `json:"token"`
}

// sessionMeta extracts request metadata recorded on new sessions.
func sessionMeta(r *http.Request) auth.SessionMeta {
	return auth.SessionMeta{
		UserAgent: r.UserAgent(),
		IPAddress: r.RemoteAddr,
	}
}

// handleRegister creates a new account and returns it with a bearer token.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, token, err := s.auth.Register(r.Context(), req.Email, req.Password, req.Name, sessionMeta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

// handleLogin authenticates credentials and returns a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, token, err := s.auth.Login(r.Context(), req.Email, req.Password, sessionMeta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

// handleLogout ends the session carried by the Authorization header.
// Idempotent: a session that is already gone reads as not found, which
// is reported in the body rather than as an error status.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeUnauthorized(w, "missing bearer token")
		return
	}

	deleted, err := s.auth.Logout(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result := "ended"
	if !deleted {
		result = "not found"
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": result})
}

// handleMe returns the authenticated user and session.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    currentUser(r),
		"session": currentSession(r),
	})
}

// handleChangePassword updates the caller's password and revokes all of
// their sessions, including the one making this request.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user := currentUser(r)
	if err := s.auth.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed, all sessions revoked"})
}

// handleRevokeSessions revokes every session for the caller.
func (s *Server) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	count, err := s.auth.RevokeAllUserSessions(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"revoked": count})
}
