package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// memoryRepo is a SessionRepository backed by a map
type memoryRepo struct {
	mu       sync.Mutex
	sessions map[string]StoredSession
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: make(map[string]StoredSession)}
}

func (m *memoryRepo) Save(ctx context.Context, id, userID string, createdAt, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = StoredSession{ID: id, UserID: userID, CreatedAt: createdAt, ExpiresAt: expiresAt}
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, id string) (*StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, nil
	}
	return &s, nil
}

func (m *memoryRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memoryRepo) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if time.Now().After(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func TestNewSessionManager(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()
	if sm.sessions == nil {
		t.Error("sessions map is nil")
	}
}

func TestSessionManager_CreateSession(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()

	session, err := sm.CreateSession("user-1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if session.ID == "" {
		t.Error("session ID is empty")
	}
	if session.UserID != "user-1" {
		t.Errorf("UserID = %s, want user-1", session.UserID)
	}
	if session.ExpiresAt.Before(time.Now()) {
		t.Error("session expires in the past")
	}
}

func TestSessionManager_GetSession(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()

	session, _ := sm.CreateSession("user-1")

	retrieved := sm.GetSession(session.ID)
	if retrieved == nil {
		t.Fatal("GetSession() returned nil for existing session")
		return
	}
	if retrieved.UserID != "user-1" {
		t.Errorf("UserID = %s, want user-1", retrieved.UserID)
	}

	if sm.GetSession("nonexistent-id") != nil {
		t.Error("GetSession() should return nil for non-existing session")
	}
}

func TestSessionManager_ExpiredSession(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()

	session, _ := sm.CreateSession("user-1")
	sm.mu.Lock()
	sm.sessions[session.ID].ExpiresAt = time.Now().Add(-time.Minute)
	sm.mu.Unlock()

	if sm.GetSession(session.ID) != nil {
		t.Error("GetSession() should return nil for expired session")
	}
}

func TestSessionManager_DeleteSession(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()

	session, _ := sm.CreateSession("user-1")
	sm.DeleteSession(session.ID)

	if sm.GetSession(session.ID) != nil {
		t.Error("GetSession() should return nil after deletion")
	}
}

func TestSessionManager_Persistence(t *testing.T) {
	repo := newMemoryRepo()
	sm := NewSessionManager("test-secret", repo)
	session, err := sm.CreateSession("user-1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	sm.Stop()

	if repo.len() != 1 {
		t.Fatalf("expected 1 persisted session, got %d", repo.len())
	}

	// A fresh manager sharing the repository sees the session.
	restarted := NewSessionManager("test-secret", repo)
	defer restarted.Stop()
	retrieved := restarted.GetSession(session.ID)
	if retrieved == nil || retrieved.UserID != "user-1" {
		t.Fatalf("expected session to be loaded from repository, got %+v", retrieved)
	}

	restarted.DeleteSession(session.ID)
	if repo.len() != 0 {
		t.Error("DeleteSession() should remove the persisted session")
	}
}

func TestSessionManager_CleanupExpired(t *testing.T) {
	repo := newMemoryRepo()
	sm := NewSessionManager("test-secret", repo)
	defer sm.Stop()

	live, _ := sm.CreateSession("user-1")
	expired, _ := sm.CreateSession("user-2")
	sm.mu.Lock()
	sm.sessions[expired.ID].ExpiresAt = time.Now().Add(-time.Minute)
	sm.mu.Unlock()
	_ = repo.Save(context.Background(), expired.ID, "user-2", time.Now().Add(-time.Hour), time.Now().Add(-time.Minute))

	sm.cleanupExpired()

	sm.mu.RLock()
	_, liveKept := sm.sessions[live.ID]
	_, expiredKept := sm.sessions[expired.ID]
	sm.mu.RUnlock()
	if !liveKept || expiredKept {
		t.Errorf("expected only live session kept (live=%v expired=%v)", liveKept, expiredKept)
	}
	if repo.len() != 1 {
		t.Errorf("expected 1 persisted session after cleanup, got %d", repo.len())
	}
}

func TestSessionManager_SetAndGetSessionCookie(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()
	session, _ := sm.CreateSession("user-1")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	sm.SetSessionCookie(w, r, session)

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("Session cookie not found")
		return
	}
	if sessionCookie.Secure {
		t.Error("cookie should not be Secure on plain HTTP")
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(sessionCookie)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil")
		return
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestSessionManager_SecureCookieBehindProxy(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()
	session, _ := sm.CreateSession("user-1")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	sm.SetSessionCookie(w, r, session)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].Secure {
		t.Error("expected Secure cookie behind TLS proxy")
	}
}

func TestSessionManager_InvalidCookie(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()
	session, _ := sm.CreateSession("user-1")

	tests := []struct {
		name  string
		value string
	}{
		{"garbage", "invalid-session.invalid-signature"},
		{"unsigned", session.ID},
		{"forged signature", session.ID + "." + (&SessionManager{secret: []byte("other-secret")}).signData(session.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: tt.value})
			if sm.GetSessionFromRequest(req) != nil {
				t.Error("GetSessionFromRequest() should return nil")
			}
		})
	}
}

func TestSessionManager_BearerAuth(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()
	session, _ := sm.CreateSession("user-1")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil for Bearer auth")
		return
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestRequireAuth(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()
	session, _ := sm.CreateSession("user-1")

	handlerCalled := false
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		s := GetSessionFromContext(r.Context())
		if s == nil || s.UserID != "user-1" {
			t.Error("Session not found in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	protectedHandler := RequireAuth(sm)(testHandler)

	t.Run("valid session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+session.ID)

		protectedHandler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		if !handlerCalled {
			t.Error("Handler was not called")
		}
	})

	t.Run("no session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/protected", nil)

		protectedHandler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if handlerCalled {
			t.Error("Handler should not be called for unauthorized request")
		}
	})
}

func TestGetSessionFromContext(t *testing.T) {
	session := &Session{ID: "test123", UserID: "user-1"}
	ctx := SetSessionInContext(context.Background(), session)

	retrieved := GetSessionFromContext(ctx)
	if retrieved == nil {
		t.Fatal("GetSessionFromContext() returned nil")
		return
	}
	if retrieved.ID != "test123" {
		t.Errorf("Session ID = %s, want test123", retrieved.ID)
	}

	if GetSessionFromContext(context.Background()) != nil {
		t.Error("GetSessionFromContext() should return nil for empty context")
	}
}

func TestSessionManager_ClearSessionCookie(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	defer sm.Stop()

	w := httptest.NewRecorder()
	sm.ClearSessionCookie(w)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName {
		t.Fatal("Session cookie not found")
	}
	if cookies[0].MaxAge != -1 {
		t.Errorf("MaxAge = %d, want -1 (expired)", cookies[0].MaxAge)
	}
}

func TestSession_MarshalJSON(t *testing.T) {
	session := &Session{
		ID:        "test123",
		UserID:    "user-1",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}

	data, err := session.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	jsonStr := string(data)
	for _, want := range []string{`"session_id":"test123"`, `"user_id":"user-1"`, `"expires_at"`} {
		if !strings.Contains(jsonStr, want) {
			t.Errorf("JSON %s should contain %s", jsonStr, want)
		}
	}
}
