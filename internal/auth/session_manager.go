package auth

import (
	"fmt"
	"net/http"

	"github.com/agjmills/swapshelf/internal/config"
	"github.com/alexedwards/scs/postgresstore"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// NewSessionManager creates the scs session manager. cfg.SessionStore picks
// where sessions live: "database" uses the application database, "redis"
// uses rdb, "memory" keeps them in process.
func NewSessionManager(db *gorm.DB, cfg *config.Config, rdb redis.UniversalClient) (*scs.SessionManager, error) {
	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.SessionLifetime()
	sessionManager.Cookie.Name = "swapshelf_session"
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	sessionManager.Cookie.Secure = cfg.Env == "production" // Only use Secure in production with HTTPS
	// Browser-session cookies unless the user ticks "remember me" (see Login).
	sessionManager.Cookie.Persist = false

	switch cfg.SessionStore {
	case "database", "":
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		switch cfg.DBType {
		case "postgres":
			sessionManager.Store = postgresstore.New(sqlDB)
		case "sqlite":
			sessionManager.Store = sqlite3store.New(sqlDB)
		default:
			return nil, fmt.Errorf("no session store for database type: %s", cfg.DBType)
		}
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("session store redis needs a redis client")
		}
		sessionManager.Store = NewRedisStore(rdb, "swapshelf:session:")
	case "memory":
		// scs.New() already uses memstore
	default:
		return nil, fmt.Errorf("unknown session store: %s (supported: database, redis, memory)", cfg.SessionStore)
	}

	return sessionManager, nil
}
