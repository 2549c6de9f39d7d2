package middleware

import (
	"fmt"
	"io/fs"
	"net/http"
	"runtime/debug"

	"github.com/agjmills/swapshelf/internal/auth"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/templateutil"
	chimw "github.com/go-chi/chi/v5/middleware"
)

var (
	errorPages *templateutil.Pages
	// showErrorDetail puts the underlying error on 500 pages. Development only.
	showErrorDetail bool
)

// LoadErrorTemplates loads the 404 and 500 pages from fsys.
func LoadErrorTemplates(fsys fs.FS, showDetail bool) error {
	pages, err := templateutil.ParsePages(fsys, "templates")
	if err != nil {
		return err
	}
	for _, page := range []string{"404.html", "500.html"} {
		if !pages.Has(page) {
			return fmt.Errorf("missing error template %s", page)
		}
	}
	errorPages = pages
	showErrorDetail = showDetail
	return nil
}

// NotFoundHandler renders a custom 404 page
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	renderError(w, r, http.StatusNotFound, "404.html", map[string]any{
		"Title": "Page Not Found",
	})
}

// InternalErrorHandler renders a custom 500 page
func InternalErrorHandler(w http.ResponseWriter, r *http.Request) {
	renderError(w, r, http.StatusInternalServerError, "500.html", map[string]any{
		"Title": "Internal Server Error",
	})
}

// ServerError logs err against the request and renders the 500 page.
func ServerError(w http.ResponseWriter, r *http.Request, err error) {
	logger.Error("request failed",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimw.GetReqID(r.Context()),
	)
	data := map[string]any{"Title": "Internal Server Error"}
	if showErrorDetail && err != nil {
		data["Detail"] = err.Error()
	}
	renderError(w, r, http.StatusInternalServerError, "500.html", data)
}

func renderError(w http.ResponseWriter, r *http.Request, status int, page string, data map[string]any) {
	data["User"] = auth.GetUser(r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if errorPages == nil {
		// Fallback if templates aren't loaded
		fmt.Fprintf(w, "Error: %s", data["Title"])
		return
	}
	if err := errorPages.Render(w, page, data); err != nil {
		logger.Error("failed to render error page", "page", page, "error", err)
		fmt.Fprintf(w, "Error: %s", data["Title"])
	}
}

// RecoverMiddleware catches panics and renders 500 pages
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", chimw.GetReqID(r.Context()),
					"stack", string(debug.Stack()),
				)
				data := map[string]any{"Title": "Internal Server Error"}
				if showErrorDetail {
					data["Detail"] = fmt.Sprint(rec)
				}
				renderError(w, r, http.StatusInternalServerError, "500.html", data)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
