package handlers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agjmills/swapshelf/internal/auth"
	"github.com/agjmills/swapshelf/internal/config"
	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/flash"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/middleware"
	"github.com/agjmills/swapshelf/internal/service"
	"github.com/agjmills/swapshelf/internal/storage"
	"github.com/agjmills/swapshelf/internal/testutil"
	"github.com/agjmills/swapshelf/web"
	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testPassword = "secret1"

type sentMail struct {
	to, username, link string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) SendPasswordReset(ctx context.Context, to, username, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, username: username, link: link})
	return nil
}

func (m *recordingMailer) messages() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type testApp struct {
	db       *gorm.DB
	cfg      *config.Config
	clock    *testutil.StubClock
	blobs    *storage.MemoryBackend
	cleaner  *service.Cleaner
	users    *service.UserService
	files    *service.FileService
	trades   *service.TradeService
	sessions *service.SessionRegistry
	mailer   *recordingMailer

	authHandler *AuthHandler
	server      *httptest.Server
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger.Init("test")

	db := testutil.NewTestDatabase(t)
	clock := testutil.FixedClock()
	blobs := storage.NewMemoryBackend()
	cleaner := service.NewCleaner(db, blobs)
	t.Cleanup(cleaner.Wait)

	store := memstore.NewWithCleanupInterval(0)
	sm := scs.New()
	sm.Store = store
	sm.Cookie.Persist = false

	cfg := &config.Config{
		BaseURL:       "http://swapshelf.test",
		FilesPerPage:  5,
		MaxUploadSize: 1 << 20,
	}

	pages, err := LoadTemplates(web.FS)
	if err != nil {
		t.Fatalf("Failed to load templates: %v", err)
	}
	if err := middleware.LoadErrorTemplates(web.FS, false); err != nil {
		t.Fatalf("Failed to load error templates: %v", err)
	}

	app := &testApp{
		db:       db,
		cfg:      cfg,
		clock:    clock,
		blobs:    blobs,
		cleaner:  cleaner,
		users:    service.NewUserService(db, clock, bcrypt.MinCost, 6*time.Hour),
		files:    service.NewFileService(db, cleaner, clock),
		trades:   service.NewTradeService(db, clock),
		sessions: service.NewSessionRegistry(db, store, clock),
		mailer:   &recordingMailer{},
	}

	rd := NewRenderer(pages, flash.New(sm))
	app.authHandler = NewAuthHandler(rd, cfg, app.users, app.sessions, sm, app.mailer)
	t.Cleanup(app.authHandler.Wait)
	fileHandler := NewFileHandler(rd, cfg, app.files, app.trades, blobs)
	tradeHandler := NewTradeHandler(rd, app.trades)

	r := chi.NewRouter()
	r.Use(middleware.RecoverMiddleware)
	r.Use(sm.LoadAndSave)
	r.NotFound(middleware.NotFoundHandler)

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(app.users, sm))
		r.Get("/", fileHandler.Index)
		r.Get("/download/{storageName}", fileHandler.Download)
		r.Get("/users/register", app.authHandler.ShowRegister)
		r.Post("/users/register", app.authHandler.Register)
		r.Get("/users/login", app.authHandler.ShowLogin)
		r.Post("/users/login", app.authHandler.Login)
		r.Get("/users/reset-password", app.authHandler.ShowResetPassword)
		r.Post("/users/reset-password", app.authHandler.RequestPasswordReset)
		r.Get("/users/reset-password/{token}", app.authHandler.ShowResetPasswordToken)
		r.Post("/users/reset-password/{token}", app.authHandler.ResetPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(app.users, sm))
		r.Get("/users/logout", app.authHandler.Logout)
		r.Get("/users/change-password", app.authHandler.ShowChangePassword)
		r.Post("/users/change-password", app.authHandler.ChangePassword)
		r.Get("/users/update-profile", app.authHandler.ShowUpdateProfile)
		r.Post("/users/update-profile", app.authHandler.UpdateProfile)
		r.Get("/files", fileHandler.MyFiles)
		r.Post("/upload", fileHandler.Upload)
		r.Post("/delete", fileHandler.Delete)
		r.Get("/trades", tradeHandler.List)
		r.Post("/trades/request", tradeHandler.Request)
		r.Post("/trades/cancel", tradeHandler.Cancel)
		r.Post("/trades/decide", tradeHandler.Decide)
	})

	app.server = httptest.NewServer(r)
	t.Cleanup(app.server.Close)
	return app
}

func (app *testApp) createUser(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := app.users.Register(context.Background(), service.RegisterInput{
		Username: username,
		Email:    username + "@x.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Failed to register %s: %v", username, err)
	}
	return u
}

func (app *testApp) createFile(t *testing.T, owner, name, content string) *models.File {
	t.Helper()
	app.clock.Advance(time.Second)
	saved, err := app.blobs.Save(context.Background(), strings.NewReader(content), storage.SaveOptions{OriginalFilename: name})
	if err != nil {
		t.Fatalf("Failed to store blob for %s: %v", name, err)
	}
	f, err := app.files.Upload(context.Background(), service.FileMeta{
		Name:        name,
		StorageName: saved.Name,
		Size:        saved.Size,
	}, owner)
	if err != nil {
		t.Fatalf("Failed to create file %s: %v", name, err)
	}
	return f
}

func (app *testApp) tradeStatus(t *testing.T, id uint) models.TradeStatus {
	t.Helper()
	var trade models.TradeRequest
	if err := app.db.First(&trade, id).Error; err != nil {
		t.Fatalf("Failed to load trade %d: %v", id, err)
	}
	return trade.Status
}

// client is a browser stand-in: it keeps cookies and does not follow
// redirects, so tests can assert on them.
type client struct {
	t    *testing.T
	app  *testApp
	http *http.Client
}

func (app *testApp) newClient(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &client{
		t:   t,
		app: app,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// loggedIn returns a client with a fresh session for username.
func (app *testApp) loggedIn(t *testing.T, username string) *client {
	t.Helper()
	c := app.newClient(t)
	resp := c.postForm("/users/login", url.Values{"username": {username}, "password": {testPassword}})
	expectRedirect(t, resp, "/")
	return c
}

func (c *client) do(req *http.Request) *http.Response {
	c.t.Helper()
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *client) get(path string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.app.server.URL+path, nil)
	if err != nil {
		c.t.Fatalf("Failed to build request: %v", err)
	}
	return c.do(req)
}

func (c *client) postForm(path string, form url.Values) *http.Response {
	c.t.Helper()
	return c.post(path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), nil)
}

func (c *client) post(path, contentType string, body io.Reader, header http.Header) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.app.server.URL+path, body)
	if err != nil {
		c.t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range header {
		req.Header[k] = v
	}
	return c.do(req)
}

// upload posts a multipart form holding one file part.
func (c *client) upload(filename string, content []byte) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			c.t.Fatalf("Failed to create form file: %v", err)
		}
		part.Write(content)
	} else {
		mw.WriteField("note", "no file here")
	}
	mw.Close()
	return c.post("/upload", mw.FormDataContentType(), &buf, nil)
}

// page fetches path and returns the body, failing unless the answer is 200.
func (c *client) page(path string) string {
	c.t.Helper()
	resp := c.get(path)
	body := readBody(c.t, resp)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("GET %s = %d, want 200; body: %s", path, resp.StatusCode, body)
	}
	return body
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return string(b)
}

func expectRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303; body: %s", resp.StatusCode, readBody(t, resp))
	}
	if got := resp.Header.Get("Location"); got != location {
		t.Fatalf("Location = %q, want %q", got, location)
	}
}

func expectContains(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("body missing %q", w)
		}
	}
}
