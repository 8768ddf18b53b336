package handlers

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/audiostore/internal/catalog/memcatalog"
	"github.com/bigkaa/audiostore/internal/config"
	"github.com/bigkaa/audiostore/internal/service"
	"github.com/bigkaa/audiostore/internal/storage/blobstore"
	"github.com/bigkaa/audiostore/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRouter собирает полный роутер API поверх временных директорий.
func newTestRouter(t *testing.T) chi.Router {
	t.Helper()

	dataDir := t.TempDir()
	cfg := &config.Config{
		DataDir:       dataDir,
		WALDir:        filepath.Join(dataDir, "wal"),
		MaxFileSize:   1024,
		AllowedTypes:  []string{"audio/mpeg", "audio/mp3"},
		GCInterval:    time.Hour,
		GCGracePeriod: time.Hour,
		CacheSize:     16,
		CacheTTL:      time.Minute,
	}

	walEngine, err := wal.New(cfg.WALDir, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	blobs, err := blobstore.New(cfg.BlobDir(), cfg.MaxFileSize)
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}
	cat, err := memcatalog.New(cfg.MetaDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}

	uploadSvc := service.NewUploadService(cfg, walEngine, blobs, cat, testLogger())
	querySvc := service.NewQueryService(cat, cfg.CacheSize, cfg.CacheTTL, testLogger())
	deleteSvc := service.NewDeleteService(walEngine, blobs, cat, querySvc, testLogger())
	exportSvc := service.NewExportService(blobs, cat, testLogger())

	files := NewFilesHandler(uploadSvc, querySvc, deleteSvc, cfg.MaxFileSize)
	export := NewExportHandler(exportSvc, testLogger())
	health := NewHealthHandler(cfg.BlobDir(), cfg.WALDir, cat)

	router := chi.NewRouter()
	router.Route("/api/v1/files", func(r chi.Router) {
		r.Post("/upload", files.UploadFile)
		r.Get("/", files.ListFiles)
		r.Get("/export", export.ExportFiles)
		r.Get("/{file_id}", files.GetFile)
		r.Delete("/{file_id}", files.DeleteFile)
	})
	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)

	return router
}

// multipartUpload формирует multipart-запрос загрузки файла.
func multipartUpload(t *testing.T, ownerID, filename, contentType, content, tags string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if ownerID != "" {
		if err := mw.WriteField("owner_id", ownerID); err != nil {
			t.Fatalf("ошибка записи поля: %v", err)
		}
	}
	if tags != "" {
		if err := mw.WriteField("tags", tags); err != nil {
			t.Fatalf("ошибка записи поля: %v", err)
		}
	}

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	header["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("ошибка создания части: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("ошибка записи содержимого: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("ошибка завершения multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// errorCode извлекает машиночитаемый код из тела ответа ошибки.
func errorCode(t *testing.T, body *bytes.Buffer) string {
	t.Helper()

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body.Bytes(), &resp); err != nil {
		t.Fatalf("тело ошибки не разбирается: %v", err)
	}
	return resp.Error.Code
}

// TestUploadEndpoint проверяет полный путь загрузки через HTTP.
func TestUploadEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := multipartUpload(t, "alice", "song.mp3", "audio/mpeg", "псевдо-аудио", "jazz,live")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("статус: ожидалось 201, получено %d, тело: %s", rr.Code, rr.Body.String())
	}

	var rec struct {
		ID      string   `json:"id"`
		OwnerID string   `json:"owner_id"`
		Tags    []string `json:"tags"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("тело ответа не разбирается: %v", err)
	}
	if rec.ID == "" || rec.OwnerID != "alice" || len(rec.Tags) != 2 {
		t.Errorf("неожиданное тело ответа: %s", rr.Body.String())
	}
}

// TestUploadEndpoint_MissingOwner проверяет 400 без owner_id.
func TestUploadEndpoint_MissingOwner(t *testing.T) {
	router := newTestRouter(t)

	req := multipartUpload(t, "", "song.mp3", "audio/mpeg", "данные", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("статус: ожидалось 400, получено %d", rr.Code)
	}
	if code := errorCode(t, rr.Body); code != "VALIDATION_ERROR" {
		t.Errorf("код: ожидалось VALIDATION_ERROR, получено %s", code)
	}
}

// TestUploadEndpoint_UnsupportedType проверяет 415 для запрещённого типа.
func TestUploadEndpoint_UnsupportedType(t *testing.T) {
	router := newTestRouter(t)

	req := multipartUpload(t, "alice", "doc.pdf", "application/pdf", "не аудио", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("статус: ожидалось 415, получено %d", rr.Code)
	}
	if code := errorCode(t, rr.Body); code != "UNSUPPORTED_TYPE" {
		t.Errorf("код: ожидалось UNSUPPORTED_TYPE, получено %s", code)
	}
}

// countingReader считает байты, фактически вычитанные из тела запроса.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func (cr *countingReader) Close() error { return nil }

// TestUploadEndpoint_TooLargeBounded проверяет, что лимит размера
// срабатывает в процессе приёма: оверсайз-поток обрывается сразу
// за границей лимита, а не вычитывается целиком.
func TestUploadEndpoint_TooLargeBounded(t *testing.T) {
	router := newTestRouter(t) // MaxFileSize = 1024

	payload := strings.Repeat("a", 8<<20)
	req := multipartUpload(t, "alice", "big.mp3", "audio/mpeg", payload, "")
	body := &countingReader{r: req.Body}
	req.Body = body

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("статус: ожидалось 413, получено %d, тело: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr.Body); code != "FILE_TOO_LARGE" {
		t.Errorf("код: ожидалось FILE_TOO_LARGE, получено %s", code)
	}

	// Граница приёма: лимит файла + запас на поля формы + небольшой
	// буфер чтения. Полный payload — 8 MiB.
	bound := int64(1024) + uploadBodyOverhead + 64<<10
	if body.n > bound {
		t.Errorf("сервер вычитал %d байт, граница приёма %d", body.n, bound)
	}
}

// TestListEndpoint проверяет листинг с фильтром по тегу.
func TestListEndpoint(t *testing.T) {
	router := newTestRouter(t)

	uploads := []struct{ filename, tags string }{
		{"a.mp3", "jazz"},
		{"b.mp3", "rock"},
		{"c.mp3", "jazz,live"},
	}
	for _, up := range uploads {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, multipartUpload(t, "alice", up.filename, "audio/mpeg", "данные", up.tags))
		if rr.Code != http.StatusCreated {
			t.Fatalf("ошибка загрузки %s: %d", up.filename, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/files?owner_id=alice&tag=jazz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("статус: ожидалось 200, получено %d", rr.Code)
	}

	var resp struct {
		Total int `json:"total"`
		Files []struct {
			OriginalFilename string `json:"original_filename"`
		} `json:"files"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("тело ответа не разбирается: %v", err)
	}
	if resp.Total != 2 || len(resp.Files) != 2 {
		t.Errorf("ожидалось 2 файла с тегом jazz, получено %d", resp.Total)
	}

	// Без owner_id — 400
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("статус без owner_id: ожидалось 400, получено %d", rr.Code)
	}
}

// TestGetEndpoint проверяет чтение записи и 404 для неизвестного id.
func TestGetEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, multipartUpload(t, "alice", "song.mp3", "audio/mpeg", "данные", ""))
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("тело ответа не разбирается: %v", err)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+rec.ID, nil))
	if rr.Code != http.StatusOK {
		t.Errorf("статус: ожидалось 200, получено %d", rr.Code)
	}

	// Неизвестный UUID — 404
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/files/a1b2c3d4-e5f6-4890-abcd-ef1234567890", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("статус: ожидалось 404, получено %d", rr.Code)
	}

	// Некорректный идентификатор — 400
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/files/not-a-uuid", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("статус: ожидалось 400, получено %d", rr.Code)
	}
}

// TestDeleteEndpoint проверяет удаление и идемпотентный повтор.
func TestDeleteEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, multipartUpload(t, "alice", "song.mp3", "audio/mpeg", "данные", ""))
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("тело ответа не разбирается: %v", err)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+rec.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("статус: ожидалось 200, получено %d", rr.Code)
	}
	var resp struct {
		Deleted bool `json:"deleted"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("тело ответа не разбирается: %v", err)
	}
	if !resp.Deleted {
		t.Error("ожидалось deleted=true")
	}

	// Повторное удаление — 200, deleted=false
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+rec.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("статус повторного удаления: ожидалось 200, получено %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("тело ответа не разбирается: %v", err)
	}
	if resp.Deleted {
		t.Error("ожидалось deleted=false при повторном удалении")
	}
}

// TestExportEndpoint проверяет экспорт архива через HTTP.
func TestExportEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, multipartUpload(t, "alice", "song.mp3", "audio/mpeg", "данные для архива", ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("ошибка загрузки: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/files/export?owner_id=alice", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("статус: ожидалось 200, получено %d, тело: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type: ожидалось application/zip, получено %s", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd == "" {
		t.Error("заголовок Content-Disposition отсутствует")
	}

	zr, err := zip.NewReader(bytes.NewReader(rr.Body.Bytes()), int64(rr.Body.Len()))
	if err != nil {
		t.Fatalf("архив не читается: %v", err)
	}
	if len(zr.File) != 2 { // файл + манифест
		t.Errorf("ожидалось 2 записи в архиве, получено %d", len(zr.File))
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("ошибка открытия %s: %v", f.Name, err)
		}
		if _, err := io.ReadAll(rc); err != nil {
			t.Errorf("ошибка чтения %s: %v", f.Name, err)
		}
		rc.Close()
	}
}

// TestExportEndpoint_Empty проверяет 404 при пустой выборке.
func TestExportEndpoint_Empty(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/files/export?owner_id=nobody", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("статус: ожидалось 404, получено %d", rr.Code)
	}
	if code := errorCode(t, rr.Body); code != "NOT_FOUND" {
		t.Errorf("код: ожидалось NOT_FOUND, получено %s", code)
	}
}

// TestHealthEndpoints проверяет liveness и readiness.
func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("liveness: ожидалось 200, получено %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("readiness: ожидалось 200, получено %d", rr.Code)
	}
}
