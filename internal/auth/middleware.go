package auth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/alexedwards/scs/v2"
)

type contextKey string

const UserContextKey contextKey = "user"

// SessionUserKey is the session key holding the logged in user's ID.
const SessionUserKey = "user_id"

// LoginPath is where unauthenticated requests are sent.
const LoginPath = "/users/login"

// UserLoader resolves the user stored in a session.
type UserLoader interface {
	Get(ctx context.Context, id uint) (*models.User, error)
}

// RequireAuth only lets requests through when the session belongs to an
// existing user. Others are redirected to the login page, which sends them
// back to where they were going once they are in.
func RequireAuth(users UserLoader, sm *scs.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := sessionUser(r, users, sm)
			if user == nil {
				http.Redirect(w, r, LoginURL(r), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// OptionalAuth attaches the user when the session has one and never blocks.
func OptionalAuth(users UserLoader, sm *scs.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := sessionUser(r, users, sm); user != nil {
				r = r.WithContext(WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoginURL is the login page with a next parameter pointing back at r.
// Only GET requests can be replayed by a redirect, so other methods get the
// bare login page.
func LoginURL(r *http.Request) string {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return LoginPath
	}
	return LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
}

func GetUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(UserContextKey).(*models.User)
	return user
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

func sessionUser(r *http.Request, users UserLoader, sm *scs.SessionManager) *models.User {
	id := sm.GetInt(r.Context(), SessionUserKey)
	if id <= 0 {
		return nil
	}
	user, err := users.Get(r.Context(), uint(id))
	if err != nil {
		return nil
	}
	return user
}
