package handlers

import (
	"encoding/json"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/agjmills/swapshelf/internal/auth"
	"github.com/agjmills/swapshelf/internal/flash"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/middleware"
	"github.com/agjmills/swapshelf/internal/service"
	"github.com/agjmills/swapshelf/internal/templateutil"
)

// LoadTemplates parses every page under templates/ in fsys against the shared
// layout.
func LoadTemplates(fsys fs.FS) (*templateutil.Pages, error) {
	return templateutil.ParsePages(fsys, "templates")
}

// Renderer writes pages with the data every page needs: the title, the
// logged in user and any pending flash messages.
type Renderer struct {
	pages *templateutil.Pages
	flash *flash.Flasher
}

func NewRenderer(pages *templateutil.Pages, flasher *flash.Flasher) *Renderer {
	return &Renderer{pages: pages, flash: flasher}
}

func (rd *Renderer) render(w http.ResponseWriter, r *http.Request, page, title string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["Title"] = title
	data["User"] = auth.GetUser(r)
	data["Flashes"] = rd.flash.Pop(r.Context())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := rd.pages.Render(w, page, data); err != nil {
		middleware.ServerError(w, r, err)
	}
}

// fail reports err after a form post. Domain errors go back to the user as a
// flash message on the page they came from; anything else is a server error.
func (rd *Renderer) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	msg := service.Message(err, "")
	if msg == "" {
		middleware.ServerError(w, r, err)
		return
	}
	rd.flash.Error(r.Context(), msg)
	redirectBack(w, r, fallback)
}

func redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// redirectBack sends the client to the page the request came from when that
// page is on this site, or to fallback otherwise.
func redirectBack(w http.ResponseWriter, r *http.Request, fallback string) {
	redirect(w, r, backURL(r, fallback))
}

func backURL(r *http.Request, fallback string) string {
	ref := r.Referer()
	if ref == "" {
		return fallback
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != r.Host) {
		return fallback
	}
	target := u.EscapedPath()
	if target == "" {
		return fallback
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return auth.SafeRedirect(target)
}

// wantsJSON reports whether the client asked for a JSON answer instead of a
// redirect. Clients that send JSON get JSON back.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") ||
		r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode JSON response", "error", err)
	}
}

// writeJSONError answers with {"error": message} and a status matching the
// kind of err.
func writeJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "path", r.URL.Path)
	}
	writeJSON(w, status, map[string]string{"error": service.Message(err, "Unknown error")})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseID reads a positive numeric ID. Anything else yields 0, which matches
// no row.
func parseID(s string) uint {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// pageNumber reads ?page=, defaulting to the first page.
func pageNumber(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
