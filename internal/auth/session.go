package auth

import (
	"context"
	"fmt"

	"github.com/alexedwards/scs/v2"
)

// Login binds the session to userID under a fresh token and returns that
// token. remember selects a persistent cookie over a browser-session one.
func Login(ctx context.Context, sm *scs.SessionManager, userID uint, remember bool) (string, error) {
	if err := sm.RenewToken(ctx); err != nil {
		return "", fmt.Errorf("failed to renew session token: %w", err)
	}
	sm.Put(ctx, SessionUserKey, int(userID))
	sm.RememberMe(ctx, remember)
	return sm.Token(ctx), nil
}

// Logout destroys the session and returns the token it had, so the caller
// can drop it from the session index.
func Logout(ctx context.Context, sm *scs.SessionManager) (string, error) {
	token := sm.Token(ctx)
	if err := sm.Destroy(ctx); err != nil {
		return token, fmt.Errorf("failed to destroy session: %w", err)
	}
	return token, nil
}
