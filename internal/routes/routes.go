package routes

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	csrf "filippo.io/csrf/gorilla"
	"github.com/agjmills/swapshelf/internal/auth"
	"github.com/agjmills/swapshelf/internal/config"
	"github.com/agjmills/swapshelf/internal/flash"
	"github.com/agjmills/swapshelf/internal/handlers"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/middleware"
	"github.com/agjmills/swapshelf/internal/service"
	"github.com/agjmills/swapshelf/internal/storage"
	"github.com/agjmills/swapshelf/web"
	"github.com/alexedwards/scs/v2"
	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// authWindow is the period AuthRateLimit attempts are counted over.
const authWindow = 15 * time.Minute

// Deps is everything the router needs from the rest of the application.
type Deps struct {
	Config         *config.Config
	DB             *gorm.DB
	Storage        storage.Backend
	SessionManager *scs.SessionManager
	Users          *service.UserService
	Files          *service.FileService
	Trades         *service.TradeService
	Sessions       *service.SessionRegistry
	Mailer         handlers.Mailer
	Version        string
}

// parseTrustedCIDRs turns the configured proxy list into networks. A bare
// address stands for itself. Entries that are neither are logged and skipped.
func parseTrustedCIDRs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				bits := 8 * net.IPv6len
				if v4 := ip.To4(); v4 != nil {
					ip, bits = v4, 8*net.IPv4len
				}
				nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn("invalid trusted proxy, skipping", "entry", entry, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// isIPInCIDRs reports whether addr, with or without a port, lies in one of nets.
func isIPInCIDRs(addr string, nets []*net.IPNet) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// getClientIP returns the client address. Only a trusted proxy is believed
// about who it forwards for: X-Real-IP first, then the leftmost
// X-Forwarded-For entry, which is the original client in a proxy chain.
func getClientIP(r *http.Request, trusted []*net.IPNet) string {
	if len(trusted) == 0 || !isIPInCIDRs(r.RemoteAddr, trusted) {
		return r.RemoteAddr
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
		return ip
	}
	return r.RemoteAddr
}

// clientIP rewrites RemoteAddr to the address the request came from, reading
// forwarding headers only when the direct peer is a trusted proxy. Everything
// after it, including the rate limiter and the session registry, sees the
// rewritten address.
func clientIP(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := getClientIP(r, trusted); ip != r.RemoteAddr {
				// Keep the peer's port so RemoteAddr stays in host:port form.
				if _, port, err := net.SplitHostPort(r.RemoteAddr); err == nil {
					ip = net.JoinHostPort(ip, port)
				}
				r.RemoteAddr = ip
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authLimiter allows perWindow POSTs per client every authWindow, all of
// which may be spent at once.
func authLimiter(perWindow int) func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(float64(perWindow)/authWindow.Seconds(), &limiter.ExpirableOptions{
		DefaultExpirationTTL: authWindow,
	})
	lmt.SetBurst(perWindow)
	lmt.SetMethods([]string{http.MethodPost})
	lmt.SetIPLookups([]string{"RemoteAddr"})
	lmt.SetMessage("Too many requests. Please try again later.")

	return func(next http.Handler) http.Handler {
		return tollbooth.LimitHandler(lmt, next)
	}
}

// csrfProtection rejects cross-origin browser submissions. filippo.io/csrf
// judges requests by their Sec-Fetch-Site and Origin headers, so clients that
// send neither (curl, API clients) pass; they do not carry ambient cookies.
func csrfProtection(secret string) func(http.Handler) http.Handler {
	key := sha256.Sum256([]byte(secret))
	return csrf.Protect(key[:], csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("csrf validation failed",
			"reason", csrf.FailureReason(r),
			"method", r.Method,
			"path", r.URL.Path,
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
	})))
}

func passthrough(next http.Handler) http.Handler { return next }

// Setup loads the templates and mounts every route and middleware on r. The
// returned AuthHandler must be waited on at shutdown so queued reset emails
// are not lost.
func Setup(r chi.Router, d Deps) (*handlers.AuthHandler, error) {
	cfg := d.Config

	pages, err := handlers.LoadTemplates(web.FS)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	if err := middleware.LoadErrorTemplates(web.FS, cfg.Env != "production"); err != nil {
		return nil, fmt.Errorf("load error templates: %w", err)
	}
	static, err := fs.Sub(web.FS, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}

	rd := handlers.NewRenderer(pages, flash.New(d.SessionManager))
	authHandler := handlers.NewAuthHandler(rd, cfg, d.Users, d.Sessions, d.SessionManager, d.Mailer)
	fileHandler := handlers.NewFileHandler(rd, cfg, d.Files, d.Trades, d.Storage)
	tradeHandler := handlers.NewTradeHandler(rd, d.Trades)
	healthHandler := handlers.NewHealthHandler(d.DB, d.Storage, d.Version)

	csrfMiddleware := passthrough
	if cfg.CSRFEnabled {
		csrfMiddleware = csrfProtection(cfg.SessionSecret)
	}
	rateLimit := passthrough
	if cfg.AuthRateLimit > 0 {
		rateLimit = authLimiter(cfg.AuthRateLimit)
	}

	r.Use(chimw.RequestID)
	r.Use(clientIP(parseTrustedCIDRs(cfg.TrustedProxies)))
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.RecoverMiddleware)
	r.Use(middleware.SecurityHeaders(cfg.Env == "production"))

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.NotFound(middleware.NotFoundHandler)

	r.Group(func(r chi.Router) {
		r.Use(d.SessionManager.LoadAndSave)
		r.Use(csrfMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(d.Users, d.SessionManager))
			r.Get("/", fileHandler.Index)
			r.Get("/download/{storageName}", fileHandler.Download)
			r.Get("/users/register", authHandler.ShowRegister)
			r.Get("/users/login", authHandler.ShowLogin)
			r.Get("/users/reset-password", authHandler.ShowResetPassword)
			r.Get("/users/reset-password/{token}", authHandler.ShowResetPasswordToken)
		})

		// Credential endpoints, rate limited per client
		r.Group(func(r chi.Router) {
			r.Use(rateLimit)
			r.Use(auth.OptionalAuth(d.Users, d.SessionManager))
			r.Post("/users/register", authHandler.Register)
			r.Post("/users/login", authHandler.Login)
			r.Post("/users/reset-password", authHandler.RequestPasswordReset)
			r.Post("/users/reset-password/{token}", authHandler.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(d.Users, d.SessionManager))
			r.Get("/users/logout", authHandler.Logout)
			r.Get("/users/change-password", authHandler.ShowChangePassword)
			r.With(rateLimit).Post("/users/change-password", authHandler.ChangePassword)
			r.Get("/users/update-profile", authHandler.ShowUpdateProfile)
			r.Post("/users/update-profile", authHandler.UpdateProfile)

			r.Get("/files", fileHandler.MyFiles)
			r.Post("/upload", fileHandler.Upload)
			r.Post("/delete", fileHandler.Delete)

			r.Get("/trades", tradeHandler.List)
			r.Post("/trades/request", tradeHandler.Request)
			r.Post("/trades/cancel", tradeHandler.Cancel)
			r.Post("/trades/decide", tradeHandler.Decide)
		})
	})

	return authHandler, nil
}
