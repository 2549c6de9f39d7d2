package service

import (
	"context"
	"testing"
	"time"

	"github.com/agjmills/swapshelf/internal/database/models"
)

func (e *testEnv) login(t *testing.T, userID uint, token string) {
	t.Helper()
	if err := e.store.Commit(token, []byte("data"), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Failed to commit session: %v", err)
	}
	if err := e.sessions.RecordLogin(context.Background(), userID, token, models.UserSessionMeta{UserAgent: "test"}); err != nil {
		t.Fatalf("RecordLogin failed: %v", err)
	}
}

func (e *testEnv) inStore(t *testing.T, token string) bool {
	t.Helper()
	_, found, err := e.store.Find(token)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	return found
}

func (e *testEnv) indexedSessions(t *testing.T, userID uint) []string {
	t.Helper()
	var ids []string
	if err := e.db.Model(&models.UserSession{}).Where("user_id = ?", userID).Order("session_id").Pluck("session_id", &ids).Error; err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	return ids
}

func TestSessionRegistry_RecordLogin(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, 1, "tok-a")

	var row models.UserSession
	if err := env.db.Where("session_id = ?", "tok-a").First(&row).Error; err != nil {
		t.Fatalf("session row missing: %v", err)
	}
	if row.UserID != 1 || !row.LoginDate.Equal(env.clock.Now()) {
		t.Errorf("unexpected row %+v", row)
	}
	if row.Meta.Data().UserAgent != "test" {
		t.Errorf("meta = %+v, want user agent recorded", row.Meta.Data())
	}
}

func TestSessionRegistry_InvalidateOthers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.login(t, 1, "tok-a")
	env.login(t, 1, "tok-b")
	env.login(t, 1, "tok-c")
	env.login(t, 2, "tok-other")

	n, err := env.sessions.InvalidateOthers(ctx, 1, "tok-b")
	if err != nil {
		t.Fatalf("InvalidateOthers failed: %v", err)
	}
	if n != 2 {
		t.Errorf("invalidated %d sessions, want 2", n)
	}

	for token, want := range map[string]bool{"tok-a": false, "tok-b": true, "tok-c": false, "tok-other": true} {
		if got := env.inStore(t, token); got != want {
			t.Errorf("%s in store = %v, want %v", token, got, want)
		}
	}
	if ids := env.indexedSessions(t, 1); len(ids) != 1 || ids[0] != "tok-b" {
		t.Errorf("user 1 index = %v, want [tok-b]", ids)
	}
	if ids := env.indexedSessions(t, 2); len(ids) != 1 {
		t.Errorf("user 2 index = %v, want untouched", ids)
	}
}

func TestSessionRegistry_InvalidateAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.login(t, 1, "tok-a")
	env.login(t, 1, "tok-b")
	env.login(t, 2, "tok-other")

	n, err := env.sessions.InvalidateAll(ctx, 1)
	if err != nil {
		t.Fatalf("InvalidateAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("invalidated %d sessions, want 2", n)
	}
	if env.inStore(t, "tok-a") || env.inStore(t, "tok-b") {
		t.Error("user 1 sessions should be gone from the store")
	}
	if !env.inStore(t, "tok-other") {
		t.Error("user 2 session should survive")
	}
	if ids := env.indexedSessions(t, 1); len(ids) != 0 {
		t.Errorf("user 1 index = %v, want empty", ids)
	}

	// Nothing left to do the second time.
	n, err = env.sessions.InvalidateAll(ctx, 1)
	if err != nil || n != 0 {
		t.Errorf("second InvalidateAll = %d, %v; want 0, nil", n, err)
	}
}

func TestSessionRegistry_Forget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.login(t, 1, "tok-a")
	env.login(t, 1, "tok-b")

	if err := env.sessions.Forget(ctx, "tok-a"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if err := env.sessions.Forget(ctx, ""); err != nil {
		t.Fatalf("Forget with empty token failed: %v", err)
	}
	if ids := env.indexedSessions(t, 1); len(ids) != 1 || ids[0] != "tok-b" {
		t.Errorf("index = %v, want [tok-b]", ids)
	}
}

func TestSessionRegistry_Prune(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.login(t, 1, "tok-old")
	env.clock.Advance(20 * 24 * time.Hour)
	env.login(t, 1, "tok-live")
	env.login(t, 2, "tok-gone")
	if err := env.store.Delete("tok-gone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	n, err := env.sessions.Prune(ctx, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}
	if ids := env.indexedSessions(t, 1); len(ids) != 1 || ids[0] != "tok-live" {
		t.Errorf("user 1 index = %v, want [tok-live]", ids)
	}
	if ids := env.indexedSessions(t, 2); len(ids) != 0 {
		t.Errorf("user 2 index = %v, want empty", ids)
	}
}

func TestPruner_RunsUntilShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, 1, "tok-live")
	if err := env.sessions.RecordLogin(context.Background(), 1, "tok-gone", models.UserSessionMeta{}); err != nil {
		t.Fatalf("RecordLogin failed: %v", err)
	}

	p := env.sessions.StartPruner(10*time.Millisecond, time.Hour)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ids := env.indexedSessions(t, 1); len(ids) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pruner did not remove the stale session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Shutdown()
	p.Shutdown()
}
