package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/alexedwards/scs/v2"
)

type stubUsers map[uint]*models.User

func (s stubUsers) Get(ctx context.Context, id uint) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func setupTestSessionManager(t *testing.T) *scs.SessionManager {
	t.Helper()

	sm := scs.New()
	sm.Cookie.Name = "test_session"
	sm.Cookie.Persist = false
	return sm
}

// serveWithSession runs h behind sm with userID already stored in the session.
// A zero userID leaves the session empty.
func serveWithSession(sm *scs.SessionManager, userID int, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	sm.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID != 0 {
			sm.Put(r.Context(), SessionUserKey, userID)
		}
		h.ServeHTTP(w, r)
	})).ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	alice := &models.User{ID: 1, Username: "alice"}
	users := stubUsers{1: alice}

	tests := []struct {
		name         string
		sessionUser  int
		method       string
		target       string
		wantStatus   int
		wantLocation string
		wantUser     bool
	}{
		{name: "authenticated", sessionUser: 1, method: http.MethodGet, target: "/files", wantStatus: http.StatusOK, wantUser: true},
		{name: "no session", method: http.MethodGet, target: "/files", wantStatus: http.StatusSeeOther, wantLocation: "/users/login?next=" + url.QueryEscape("/files")},
		{name: "keeps query in next", method: http.MethodGet, target: "/trades?tab=incoming", wantStatus: http.StatusSeeOther, wantLocation: "/users/login?next=" + url.QueryEscape("/trades?tab=incoming")},
		{name: "deleted user", sessionUser: 99, method: http.MethodGet, target: "/files", wantStatus: http.StatusSeeOther, wantLocation: "/users/login?next=" + url.QueryEscape("/files")},
		{name: "post without session", method: http.MethodPost, target: "/delete", wantStatus: http.StatusSeeOther, wantLocation: "/users/login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := setupTestSessionManager(t)
			var gotUser *models.User
			handler := RequireAuth(users, sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = GetUser(r)
				w.WriteHeader(http.StatusOK)
			}))

			rec := serveWithSession(sm, tt.sessionUser, handler, httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != tt.wantLocation {
				t.Errorf("Expected Location %q, got %q", tt.wantLocation, loc)
			}
			if tt.wantUser && (gotUser == nil || gotUser.ID != alice.ID) {
				t.Errorf("Expected alice in context, got %+v", gotUser)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	users := stubUsers{1: {ID: 1, Username: "alice"}}

	tests := []struct {
		name        string
		sessionUser int
		wantUser    bool
	}{
		{name: "with user", sessionUser: 1, wantUser: true},
		{name: "without user", sessionUser: 0, wantUser: false},
		{name: "unknown user", sessionUser: 42, wantUser: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := setupTestSessionManager(t)
			called := false
			handler := OptionalAuth(users, sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if got := GetUser(r) != nil; got != tt.wantUser {
					t.Errorf("user present = %v, want %v", got, tt.wantUser)
				}
			}))

			rec := serveWithSession(sm, tt.sessionUser, handler, httptest.NewRequest(http.MethodGet, "/", nil))
			if !called {
				t.Error("OptionalAuth must always call the next handler")
			}
			if rec.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d", rec.Code)
			}
		})
	}
}

func TestGetUser_NoUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if GetUser(req) != nil {
		t.Error("Expected nil user for bare request")
	}

	user := &models.User{ID: 7}
	req = req.WithContext(WithUser(req.Context(), user))
	if GetUser(req) != user {
		t.Error("WithUser value not returned by GetUser")
	}
}

func TestLoginAndLogout(t *testing.T) {
	sm := setupTestSessionManager(t)
	var loginToken, logoutToken string

	rec := httptest.NewRecorder()
	sm.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		before := sm.Token(r.Context())
		tok, err := Login(r.Context(), sm, 5, false)
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if tok == "" || tok == before {
			t.Errorf("Login should issue a new token, got %q (before %q)", tok, before)
		}
		loginToken = tok
		if got := sm.GetInt(r.Context(), SessionUserKey); got != 5 {
			t.Errorf("session user = %d, want 5", got)
		}
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users/login", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Expected one session cookie, got %d", len(cookies))
	}
	if !cookies[0].Expires.IsZero() || cookies[0].MaxAge != 0 {
		t.Errorf("Expected a browser-session cookie without remember me, got expires=%v maxAge=%d", cookies[0].Expires, cookies[0].MaxAge)
	}

	req := httptest.NewRequest(http.MethodGet, "/users/logout", nil)
	req.AddCookie(cookies[0])
	sm.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := Logout(r.Context(), sm)
		if err != nil {
			t.Fatalf("Logout failed: %v", err)
		}
		logoutToken = tok
	})).ServeHTTP(httptest.NewRecorder(), req)

	if logoutToken != loginToken {
		t.Errorf("Logout returned token %q, want %q", logoutToken, loginToken)
	}
	if _, found, _ := sm.Store.Find(loginToken); found {
		t.Error("Session should be gone from the store after logout")
	}
}

func TestLogin_RememberMe(t *testing.T) {
	sm := setupTestSessionManager(t)

	rec := httptest.NewRecorder()
	sm.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := Login(r.Context(), sm, 5, true); err != nil {
			t.Fatalf("Login failed: %v", err)
		}
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users/login", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Expected one session cookie, got %d", len(cookies))
	}
	if cookies[0].Expires.IsZero() {
		t.Error("Remember me should set a persistent cookie")
	}
}
