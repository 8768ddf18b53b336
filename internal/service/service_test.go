package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/catalog/memcatalog"
	"github.com/bigkaa/audiostore/internal/config"
	"github.com/bigkaa/audiostore/internal/domain/model"
	"github.com/bigkaa/audiostore/internal/storage/blobstore"
	"github.com/bigkaa/audiostore/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv — общая обвязка сервисных тестов: конфигурация, WAL,
// blob-хранилище и каталог в памяти поверх t.TempDir().
type testEnv struct {
	cfg   *config.Config
	wal   *wal.WAL
	blobs *blobstore.BlobStore
	cat   catalog.Catalog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	cfg := &config.Config{
		DataDir:         dataDir,
		WALDir:          filepath.Join(dataDir, "wal"),
		MaxFileSize:     1024,
		AllowedTypes:    []string{"audio/mpeg", "audio/mp3"},
		GCInterval:      time.Hour,
		GCGracePeriod:   time.Hour,
		CacheSize:       16,
		CacheTTL:        time.Minute,
		ShutdownTimeout: time.Second,
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

	return &testEnv{cfg: cfg, wal: walEngine, blobs: blobs, cat: cat}
}

func (e *testEnv) uploadService() *UploadService {
	return NewUploadService(e.cfg, e.wal, e.blobs, e.cat, testLogger())
}

// mustUpload загружает файл через сервис и возвращает запись.
func (e *testEnv) mustUpload(t *testing.T, svc *UploadService, owner, filename, content string, tags ...string) *model.MediaRecord {
	t.Helper()

	result, uploadErr := svc.Upload(context.Background(), UploadParams{
		Reader:           strings.NewReader(content),
		OriginalFilename: filename,
		ContentType:      "audio/mpeg",
		OwnerID:          owner,
		Tags:             tags,
	})
	if uploadErr != nil {
		t.Fatalf("ошибка загрузки %s: %v", filename, uploadErr)
	}
	return result.Record
}

// pendingCount возвращает количество pending WAL-транзакций.
func (e *testEnv) pendingCount(t *testing.T) int {
	t.Helper()

	pending, err := e.wal.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка сканирования WAL: %v", err)
	}
	return len(pending)
}
