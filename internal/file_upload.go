package internal

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"wochat/internal/storage"
)

// FileUploadHandler accepts multipart uploads, persists the binary on disk,
// and records metadata in the store. Messages reference uploads by the
// returned id.
type FileUploadHandler struct {
	store       *storage.Store
	metrics     *Metrics
	uploadDir   string
	maxFileSize int64
}

// NewFileUploadHandler builds the handler over a storage backend.
func NewFileUploadHandler(store *storage.Store, metrics *Metrics, uploadDir string, maxFileSize int64) *FileUploadHandler {
	return &FileUploadHandler{
		store:       store,
		metrics:     metrics,
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
	}
}

// HandleUpload processes POST /api/upload. The "type" field carries the
// category discriminator (IMAGE, VIDEO, or OTHER); the "file" part carries
// the payload.
func (h *FileUploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if _, err := identityFromRequest(r); err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)
	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}

	category := normalizeCategory(r.FormValue("type"))

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("no file provided"))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == ".." {
		writeError(w, http.StatusBadRequest, errors.New("invalid filename"))
		return
	}
	if header.Size > h.maxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}

	storageName := fmt.Sprintf("%s-%s", uuid.NewString(), filename)
	storagePath := filepath.Join(h.uploadDir, storageName)
	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create upload directory: %w", err))
		return
	}

	destFile, err := os.Create(storagePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create file: %w", err))
		return
	}
	defer destFile.Close()

	written, err := io.Copy(destFile, file)
	if err != nil {
		os.Remove(storagePath)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("save file: %w", err))
		return
	}

	fileID, err := h.store.InsertFile(r.Context(), filename, storageName, category, written)
	if err != nil {
		os.Remove(storagePath)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.metrics.IncUpload()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":   fileID,
		"name": filename,
		"size": written,
	})
}

// HandleDownload serves GET /api/files/{id}.
func (h *FileUploadHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/files/"), "/")
	fileID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)
		return
	}

	record, err := h.store.GetFile(r.Context(), fileID)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	filePath := filepath.Join(h.uploadDir, record.StoragePath)
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		http.Error(w, "invalid file path", http.StatusForbidden)
		return
	}
	absDir, err := filepath.Abs(h.uploadDir)
	if err != nil || !strings.HasPrefix(absPath, absDir+string(os.PathSeparator)) {
		// a record must resolve strictly inside the upload directory
		http.Error(w, "invalid file path", http.StatusForbidden)
		return
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found on disk", http.StatusNotFound)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	defer file.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Name))
	w.Header().Set("Content-Type", mimeTypeForExt(filepath.Ext(record.Name)))
	http.ServeContent(w, r, record.Name, record.CreatedAt, file)
}

func normalizeCategory(raw string) string {
	switch FileCategory(strings.ToUpper(strings.TrimSpace(raw))) {
	case FileCategoryImage:
		return string(FileCategoryImage)
	case FileCategoryVideo:
		return string(FileCategoryVideo)
	default:
		return string(FileCategoryOther)
	}
}
