package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/storage"
	"github.com/agjmills/swapshelf/internal/testutil"
	"github.com/alexedwards/scs/v2/memstore"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testEnv struct {
	db       *gorm.DB
	clock    *testutil.StubClock
	storage  *storage.MemoryBackend
	store    *memstore.MemStore
	cleaner  *Cleaner
	files    *FileService
	trades   *TradeService
	users    *UserService
	sessions *SessionRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger.Init("test")

	db := testutil.NewTestDatabase(t)
	clock := testutil.FixedClock()
	blobs := storage.NewMemoryBackend()
	store := memstore.NewWithCleanupInterval(0)
	cleaner := NewCleaner(db, blobs)
	t.Cleanup(cleaner.Wait)

	return &testEnv{
		db:       db,
		clock:    clock,
		storage:  blobs,
		store:    store,
		cleaner:  cleaner,
		files:    NewFileService(db, cleaner, clock),
		trades:   NewTradeService(db, clock),
		users:    NewUserService(db, clock, bcrypt.MinCost, 6*time.Hour),
		sessions: NewSessionRegistry(db, store, clock),
	}
}

func (e *testEnv) createUser(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := e.users.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@x.com",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("Failed to register %s: %v", username, err)
	}
	return u
}

func (e *testEnv) createFile(t *testing.T, owner, name string) *models.File {
	t.Helper()
	e.clock.Advance(time.Second)
	f, err := e.files.Upload(context.Background(), FileMeta{
		Name:        name,
		StorageName: storage.NewStorageName(name),
		Size:        42,
	}, owner)
	if err != nil {
		t.Fatalf("Failed to create file %s: %v", name, err)
	}
	return f
}

func (e *testEnv) tradeStatus(t *testing.T, id uint) models.TradeStatus {
	t.Helper()
	var tr models.TradeRequest
	if err := e.db.First(&tr, id).Error; err != nil {
		t.Fatalf("Failed to reload trade %d: %v", id, err)
	}
	return tr.Status
}

func (e *testEnv) setTradeStatus(t *testing.T, id uint, status models.TradeStatus) {
	t.Helper()
	err := e.db.Model(&models.TradeRequest{}).Where("id = ?", id).Update("status", status).Error
	if err != nil {
		t.Fatalf("Failed to set trade %d to %s: %v", id, status, err)
	}
}

// assertKind fails unless err is a domain error of kind with the given message.
// An empty msg skips the message check.
func assertKind(t *testing.T, err, kind error, msg string) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want kind %v", err, kind)
	}
	if msg != "" && Message(err, "") != msg {
		t.Errorf("message = %q, want %q", Message(err, ""), msg)
	}
}
