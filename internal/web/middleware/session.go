package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	sessionCookieName      = "facecam_session"
	sessionDuration        = 24 * time.Hour
	sessionCleanupInterval = 15 * time.Minute
	sessionStoreTimeout    = 5 * time.Second
)

// Session represents a signed-in user
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StoredSession is a session row as persisted by a SessionRepository.
type StoredSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionRepository persists sessions so they survive restarts.
type SessionRepository interface {
	Save(ctx context.Context, id, userID string, createdAt, expiresAt time.Time) error
	// Get returns nil, nil for missing or expired sessions
	Get(ctx context.Context, id string) (*StoredSession, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionManager handles session creation and validation. Sessions live in
// memory; when a repository is set they are written through to it and
// loaded from it on a cache miss.
type SessionManager struct {
	secret   []byte
	sessions map[string]*Session
	mu       sync.RWMutex
	repo     SessionRepository
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a new session manager. repo may be nil.
func NewSessionManager(secret string, repo SessionRepository) *SessionManager {
	// Use a default secret if none provided (for development)
	if secret == "" {
		secret = "facecam-dev-secret-change-in-production"
	}
	sm := &SessionManager{
		secret:   []byte(secret),
		sessions: make(map[string]*Session),
		repo:     repo,
		stop:     make(chan struct{}),
	}
	go sm.cleanupLoop()
	return sm
}

// Stop ends the expired-session cleanup goroutine.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stop) })
}

func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
			sm.cleanupExpired()
		}
	}
}

// cleanupExpired drops expired sessions from memory and the repository.
func (sm *SessionManager) cleanupExpired() {
	now := time.Now()
	sm.mu.Lock()
	for id, s := range sm.sessions {
		if now.After(s.ExpiresAt) {
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	if sm.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sessionStoreTimeout)
	defer cancel()
	n, err := sm.repo.DeleteExpired(ctx)
	if err != nil {
		log.Printf("Session cleanup failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Session cleanup: removed %d expired sessions", n)
	}
}

// CreateSession creates a new session for a user
func (sm *SessionManager) CreateSession(userID string) (*Session, error) {
	// Generate session ID
	idBytes := make([]byte, 32)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, err
	}
	sessionID := base64.URLEncoding.EncodeToString(idBytes)

	now := time.Now()
	session := &Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionDuration),
	}

	if sm.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sessionStoreTimeout)
		defer cancel()
		if err := sm.repo.Save(ctx, session.ID, session.UserID, session.CreatedAt, session.ExpiresAt); err != nil {
			return nil, err
		}
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by ID
func (sm *SessionManager) GetSession(sessionID string) *Session {
	sm.mu.RLock()
	session, ok := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if !ok {
		session = sm.loadSession(sessionID)
		if session == nil {
			return nil
		}
	}

	// Check if session has expired
	if time.Now().After(session.ExpiresAt) {
		go sm.DeleteSession(sessionID)
		return nil
	}

	return session
}

func (sm *SessionManager) loadSession(sessionID string) *Session {
	if sm.repo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), sessionStoreTimeout)
	defer cancel()
	stored, err := sm.repo.Get(ctx, sessionID)
	if err != nil {
		log.Printf("Failed to load session: %v", err)
		return nil
	}
	if stored == nil {
		return nil
	}
	session := &Session{
		ID:        stored.ID,
		UserID:    stored.UserID,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()
	return session
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if sm.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sessionStoreTimeout)
		defer cancel()
		if err := sm.repo.Delete(ctx, sessionID); err != nil {
			log.Printf("Failed to delete session: %v", err)
		}
	}
}

// SetSessionCookie sets the session cookie on the response
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, r *http.Request, session *Session) {
	// Sign the session ID
	signature := sm.signData(session.ID)
	cookieValue := session.ID + "." + signature

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    cookieValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// ClearSessionCookie removes the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts the session from a request
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	// Try cookie first
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		parts := strings.SplitN(cookie.Value, ".", 2)
		if len(parts) == 2 {
			sessionID := parts[0]
			signature := parts[1]
			if sm.verifySignature(sessionID, signature) {
				if session := sm.GetSession(sessionID); session != nil {
					return session
				}
			}
		}
	}

	// Try Authorization header
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		sessionID := strings.TrimPrefix(authHeader, "Bearer ")
		if session := sm.GetSession(sessionID); session != nil {
			return session
		}
	}

	return nil
}

// signData creates an HMAC signature for data
func (sm *SessionManager) signData(data string) string {
	h := hmac.New(sha256.New, sm.secret)
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// verifySignature verifies an HMAC signature
func (sm *SessionManager) verifySignature(data, signature string) bool {
	expected := sm.signData(data)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SessionData is a helper struct for JSON responses
type SessionData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ExpiresAt string `json:"expires_at"`
}

// ToJSON returns the session data for JSON response
func (s *Session) ToJSON() SessionData {
	return SessionData{
		SessionID: s.ID,
		UserID:    s.UserID,
		ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
	}
}

// MarshalJSON implements json.Marshaler
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToJSON())
}
