package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/agjmills/swapshelf/internal/auth"
	"github.com/agjmills/swapshelf/internal/config"
	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/middleware"
	"github.com/agjmills/swapshelf/internal/service"
	"github.com/agjmills/swapshelf/internal/storage"
	"github.com/go-chi/chi/v5"
)

// multipartSlack is room in the request body for multipart framing and small
// form fields on top of the file itself.
const multipartSlack = 1 << 20

var (
	errNoFile       = errors.New("no file in upload")
	errBadMultipart = errors.New("malformed multipart body")
)

type FileHandler struct {
	*Renderer
	cfg     *config.Config
	files   *service.FileService
	trades  *service.TradeService
	storage storage.Backend
}

func NewFileHandler(rd *Renderer, cfg *config.Config, files *service.FileService, trades *service.TradeService, storage storage.Backend) *FileHandler {
	return &FileHandler{
		Renderer: rd,
		cfg:      cfg,
		files:    files,
		trades:   trades,
		storage:  storage,
	}
}

// Index lists everyone's files, a page at a time. Logged in users also see
// where their own trade requests for those files stand.
func (h *FileHandler) Index(w http.ResponseWriter, r *http.Request) {
	page, err := h.files.ListAllPaged(r.Context(), h.cfg.FilesPerPage, pageNumber(r))
	if err != nil {
		middleware.ServerError(w, r, err)
		return
	}

	statuses := map[uint]models.TradeStatus{}
	if user := auth.GetUser(r); user != nil {
		ids := make([]uint, 0, len(page.Items))
		for _, f := range page.Items {
			ids = append(ids, f.ID)
		}
		statuses, err = h.trades.StatusByFile(r.Context(), user.Username, ids)
		if err != nil {
			middleware.ServerError(w, r, err)
			return
		}
	}

	h.render(w, r, "index.html", "Shared files", map[string]any{
		"Page":     page,
		"Statuses": statuses,
	})
}

// MyFiles lists the logged in user's files, newest first or by ?sort=name.
func (h *FileHandler) MyFiles(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	order := service.ParseFileOrder(r.URL.Query().Get("sort"))

	files, err := h.files.ListByAuthor(r.Context(), user.Username, order)
	if err != nil {
		middleware.ServerError(w, r, err)
		return
	}

	sort := "date"
	if order == service.FileOrderName {
		sort = "name"
	}
	h.render(w, r, "files.html", "Your files", map[string]any{
		"Files":         files,
		"Sort":          sort,
		"MaxUploadSize": h.cfg.MaxUploadSize,
	})
}

// Upload streams the first file part straight into the storage backend and
// then records it. A record that cannot be written takes its blob with it.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	bodyLimit := h.cfg.MaxUploadSize + multipartSlack
	if r.ContentLength > bodyLimit {
		logger.Info("upload rejected by content length", "username", user.Username, "content_length", r.ContentLength)
		h.uploadFailed(w, r, h.tooLargeMessage())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		h.uploadFailed(w, r, "Invalid upload")
		return
	}

	saved, name, err := h.saveFirstFile(r.Context(), multipart.NewReader(r.Body, params["boundary"]))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.Is(err, errNoFile):
			h.uploadFailed(w, r, "No file provided")
		case errors.As(err, &maxBytesErr), errors.Is(err, storage.ErrFileTooLarge):
			h.uploadFailed(w, r, h.tooLargeMessage())
		case errors.Is(err, errBadMultipart):
			h.uploadFailed(w, r, "Invalid upload")
		default:
			middleware.ServerError(w, r, err)
		}
		return
	}

	file, err := h.files.Upload(r.Context(), service.FileMeta{
		Name:        name,
		StorageName: saved.Name,
		Size:        saved.Size,
	}, user.Username)
	if err != nil {
		if delErr := h.storage.Delete(context.WithoutCancel(r.Context()), saved.Name); delErr != nil {
			logger.Error("failed to remove orphaned upload", "storage_name", saved.Name, "error", delErr)
		}
		h.fail(w, r, err, "/files")
		return
	}

	logger.Info("file uploaded", "username", user.Username, "file_id", file.ID, "size", file.Size)
	h.flash.Success(r.Context(), "File uploaded with success")
	redirect(w, r, "/files")
}

// saveFirstFile walks the multipart body until it finds a named file part and
// saves it. Other parts are skipped.
func (h *FileHandler) saveFirstFile(ctx context.Context, mr *multipart.Reader) (storage.SaveResult, string, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return storage.SaveResult{}, "", errNoFile
		}
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				return storage.SaveResult{}, "", err
			}
			return storage.SaveResult{}, "", fmt.Errorf("%w: %v", errBadMultipart, err)
		}

		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}

		name := part.FileName()
		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		saved, err := h.storage.Save(ctx, part, storage.SaveOptions{
			OriginalFilename: name,
			ContentType:      contentType,
			MaxSize:          h.cfg.MaxUploadSize,
		})
		part.Close()
		if err != nil {
			return storage.SaveResult{}, "", err
		}
		return saved, name, nil
	}
}

func (h *FileHandler) uploadFailed(w http.ResponseWriter, r *http.Request, msg string) {
	h.flash.Error(r.Context(), msg)
	redirect(w, r, "/files")
}

func (h *FileHandler) tooLargeMessage() string {
	return fmt.Sprintf("File too large (max %d MB)", h.cfg.MaxUploadSize/(1024*1024))
}

// Delete removes one of the user's own files.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	if err := h.files.Remove(r.Context(), parseID(r.FormValue("id")), user.Username); err != nil {
		h.fail(w, r, err, "/files")
		return
	}
	logger.Info("file removed", "username", user.Username, "file_id", r.FormValue("id"))
	h.flash.Success(r.Context(), "File removed")
	redirectBack(w, r, "/files")
}

// Download streams a file under its original name. Anyone may download.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	file, err := h.files.ResolveDownload(r.Context(), chi.URLParam(r, "storageName"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			middleware.NotFoundHandler(w, r)
			return
		}
		middleware.ServerError(w, r, err)
		return
	}

	blob, err := h.storage.Open(r.Context(), file.StorageName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("file record without blob", "file_id", file.ID, "storage_name", file.StorageName)
			middleware.NotFoundHandler(w, r)
			return
		}
		middleware.ServerError(w, r, err)
		return
	}
	defer blob.Close()

	contentType := mime.TypeByExtension(filepath.Ext(file.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": file.Name})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	w.Header().Set("Last-Modified", file.UploadDate.UTC().Format(http.TimeFormat))

	if _, err := io.Copy(w, blob); err != nil {
		logger.Warn("download interrupted", "file_id", file.ID, "error", err)
	}
}
