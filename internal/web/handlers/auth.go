package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/web/middleware"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	config         *config.Config
	sessionManager *middleware.SessionManager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg *config.Config, sm *middleware.SessionManager) *AuthHandler {
	return &AuthHandler{
		config:         cfg,
		sessionManager: sm,
	}
}

// credentialsRequest is the body of signup and login requests
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents a login or signup response
type LoginResponse struct {
	Success   bool   `json:"success"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return req, false
	}
	return req, true
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Signup creates an account and signs it in
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	if !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if len(req.Password) < MinPasswordLength {
		respondError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	users, err := database.GetUserStore(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := users.CreateUser(r.Context(), req.Email, hash)
	if errors.Is(err, database.ErrEmailTaken) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondStoreError(w, err)
		return
	}
	log.Printf("Signup: created user %s", user.ID)

	h.startSession(w, r, user, http.StatusCreated)
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	users, err := database.GetUserStore(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	user, err := users.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		respondStoreError(w, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		log.Printf("Login failed for %s", sanitizeForLog(req.Email))
		respondJSON(w, http.StatusUnauthorized, LoginResponse{
			Success: false,
			Error:   "invalid credentials",
		})
		return
	}

	h.startSession(w, r, user, http.StatusOK)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *database.User, status int) {
	session, err := h.sessionManager.CreateSession(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.sessionManager.SetSessionCookie(w, r, session)

	respondJSON(w, status, LoginResponse{
		Success:   true,
		UserID:    user.ID,
		Email:     user.Email,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		h.sessionManager.DeleteSession(session.ID)
	}

	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// StatusResponse represents the auth status response
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

// Status checks if the user is authenticated by validating the session.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session == nil {
		respondJSON(w, http.StatusOK, StatusResponse{Authenticated: false})
		return
	}

	resp := StatusResponse{
		Authenticated: true,
		UserID:        session.UserID,
		ExpiresAt:     session.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if users, err := database.GetUserStore(r.Context()); err == nil {
		if user, err := users.GetUser(r.Context(), session.UserID); err == nil {
			resp.Email = user.Email
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
