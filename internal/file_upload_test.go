package internal

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"wochat/internal/storage"
)

func newUploadHandler(t *testing.T, maxFileSize int64) (*FileUploadHandler, *storage.Store, string) {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	tmpDir := t.TempDir()
	return NewFileUploadHandler(store, NewMetrics(), tmpDir, maxFileSize), store, tmpDir
}

func multipartUpload(t *testing.T, category string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("type", category); err != nil {
		t.Fatal(err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(part, bytes.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func setTestIdentity(req *http.Request) {
	req.Header.Set("X-User-Id", "1")
	req.Header.Set("X-User-First-Name", "Alice")
	req.Header.Set("X-User-Last-Name", "Ng")
	req.Header.Set("X-User-Email", "alice@example.com")
}

func TestFileUploadRoundTrip(t *testing.T) {
	handler, store, tmpDir := newUploadHandler(t, 10*1024*1024)

	fileContent := []byte("pump seal photo bytes")
	body, contentType := multipartUpload(t, "IMAGE", "leak.jpg", fileContent)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	setTestIdentity(req)
	rec := httptest.NewRecorder()

	handler.HandleUpload(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// metadata landed in the store
	record, err := store.GetFile(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if record.Name != "leak.jpg" || record.Category != "IMAGE" || record.SizeBytes != int64(len(fileContent)) {
		t.Fatalf("unexpected record: %+v", record)
	}

	// binary landed on disk
	data, err := os.ReadFile(filepath.Join(tmpDir, record.StoragePath))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(data, fileContent) {
		t.Fatalf("stored bytes differ")
	}

	// and it downloads back under its original name
	dlReq := httptest.NewRequest(http.MethodGet, "/api/files/"+strconv.FormatInt(record.ID, 10), nil)
	dlRec := httptest.NewRecorder()
	handler.HandleDownload(dlRec, dlReq)
	if dlRec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", dlRec.Code)
	}
	if !bytes.Equal(dlRec.Body.Bytes(), fileContent) {
		t.Fatalf("downloaded bytes differ")
	}
}

func TestFileUploadRejectsOversize(t *testing.T) {
	handler, _, _ := newUploadHandler(t, 64)

	body, contentType := multipartUpload(t, "OTHER", "huge.bin", bytes.Repeat([]byte("x"), 1024))

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	setTestIdentity(req)
	rec := httptest.NewRecorder()

	handler.HandleUpload(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestFileUploadRequiresIdentity(t *testing.T) {
	handler, _, _ := newUploadHandler(t, 10*1024*1024)

	body, contentType := multipartUpload(t, "OTHER", "note.txt", []byte("hi"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.HandleUpload(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestFileUploadNormalizesCategory(t *testing.T) {
	handler, store, _ := newUploadHandler(t, 10*1024*1024)

	body, contentType := multipartUpload(t, "spreadsheet", "q3.xlsx", []byte("cells"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	setTestIdentity(req)
	rec := httptest.NewRecorder()

	handler.HandleUpload(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	record, err := store.GetFile(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if record.Category != "OTHER" {
		t.Fatalf("expected OTHER, got %s", record.Category)
	}
}

func TestFileDownloadRejectsSiblingDirectoryEscape(t *testing.T) {
	handler, store, tmpDir := newUploadHandler(t, 10*1024*1024)

	// a sibling directory sharing the upload dir as a name prefix
	evilDir := tmpDir + "-evil"
	if err := os.MkdirAll(evilDir, 0o700); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(evilDir) })
	if err := os.WriteFile(filepath.Join(evilDir, "secret.txt"), []byte("secret"), 0o600); err != nil {
		t.Fatal(err)
	}

	escape := filepath.Join("..", filepath.Base(evilDir), "secret.txt")
	fileID, err := store.InsertFile(context.Background(), "secret.txt", escape, "OTHER", 6)
	if err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/files/"+strconv.FormatInt(fileID, 10), nil)
	rec := httptest.NewRecorder()
	handler.HandleDownload(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for path escape, got %d", rec.Code)
	}
}

func TestFileDownloadServesFromRelativeUploadDir(t *testing.T) {
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tmpDir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	relDir, err := filepath.Rel(cwd, tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	handler := NewFileUploadHandler(store, NewMetrics(), relDir, 10*1024*1024)

	content := []byte("inside the upload dir")
	if err := os.WriteFile(filepath.Join(tmpDir, "doc.txt"), content, 0o600); err != nil {
		t.Fatal(err)
	}
	fileID, err := store.InsertFile(context.Background(), "doc.txt", "doc.txt", "OTHER", int64(len(content)))
	if err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/files/"+strconv.FormatInt(fileID, 10), nil)
	rec := httptest.NewRecorder()
	handler.HandleDownload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a legitimate record, got %d", rec.Code)
	}
	if got, _ := io.ReadAll(rec.Body); !bytes.Equal(got, content) {
		t.Fatalf("unexpected body %q", got)
	}
}
