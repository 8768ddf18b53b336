// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/audiostore/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// CatalogPinger — интерфейс проверки доступности каталога.
type CatalogPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// blobDir — путь к директории blob-хранилища (для проверки FS)
	blobDir string
	// walDir — путь к директории WAL
	walDir string
	// cat — каталог для проверки готовности
	cat CatalogPinger
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(blobDir, walDir string, cat CatalogPinger) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		blobDir: blobDir,
		walDir:  walDir,
		cat:     cat,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "audio-store",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: blob-хранилище, директорию WAL, каталог записей.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := checkWritable(h.blobDir, "Директория blob-хранилища")
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	walCheck := checkWritable(h.walDir, "Директория WAL")
	if walCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	catalogCheck := h.checkCatalog(r.Context())
	if catalogCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "audio-store",
		"checks": map[string]any{
			"filesystem": fsCheck,
			"wal":        walCheck,
			"catalog":    catalogCheck,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkCatalog проверяет доступность каталога записей.
func (h *HealthHandler) checkCatalog(ctx context.Context) map[string]any {
	if h.cat == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	if err := h.cat.Ping(ctx); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Каталог недоступен: " + err.Error(),
		}
	}

	return map[string]any{
		"status": "ok",
	}
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir, label string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": label + " недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
