// gc.go — сервис фоновой очистки осиротевших blob'ов.
//
// GC выполняет две задачи:
//  1. Удаляет blob'ы, на которые не ссылается ни одна запись каталога
//     (остатки прерванных загрузок и неполных удалений)
//  2. Чистит завершённые WAL-записи
//
// Blob моложе grace-периода не трогается: он может принадлежать
// загрузке, у которой запись каталога ещё не создана.
// Запускается как горутина с периодическим тикером (AS_GC_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/storage/blobstore"
	"github.com/bigkaa/audiostore/internal/storage/wal"
)

// Prometheus метрики GC
var (
	// gcRunsTotal — количество запусков GC.
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	// gcBlobsDeletedTotal — количество удалённых осиротевших blob'ов.
	gcBlobsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_gc_blobs_deleted_total",
		Help: "Общее количество осиротевших blob'ов, удалённых GC",
	})

	// gcDurationSeconds — длительность выполнения GC.
	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "as_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// OrphansDeleted — количество удалённых осиротевших blob'ов
	OrphansDeleted int
	// WALCleaned — количество удалённых завершённых WAL-записей
	WALCleaned int
	// Errors — количество ошибок при обработке
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// GCService — сервис фоновой очистки осиротевших blob'ов.
type GCService struct {
	blobs       *blobstore.BlobStore
	cat         catalog.Catalog
	walEngine   *wal.WAL
	interval    time.Duration
	gracePeriod time.Duration
	logger      *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewGCService создаёт сервис GC.
func NewGCService(
	blobs *blobstore.BlobStore,
	cat catalog.Catalog,
	walEngine *wal.WAL,
	interval time.Duration,
	gracePeriod time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		blobs:       blobs,
		cat:         cat,
		walEngine:   walEngine,
		interval:    interval,
		gracePeriod: gracePeriod,
		logger:      logger.With(slog.String("component", "gc")),
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
// Вызывается один раз при старте приложения.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
		slog.String("grace_period", gc.gracePeriod.String()),
	)
}

// Stop останавливает фоновый процесс GC.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
	}
	gc.logger.Info("GC остановлен")
}

// run — основной цикл фоновой горутины.
func (gc *GCService) run(ctx context.Context) {
	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл GC.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (gc *GCService) RunOnce(ctx context.Context) *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}

	gc.logger.Debug("GC запуск начат")

	deleted, errCount := gc.sweepOrphans(ctx)
	result.OrphansDeleted = deleted
	result.Errors = errCount

	cleaned, err := gc.walEngine.CleanCommitted()
	if err != nil {
		gc.logger.Error("GC: ошибка очистки WAL", slog.String("error", err.Error()))
		result.Errors++
	}
	result.WALCleaned = cleaned

	result.Duration = time.Since(start)

	gcRunsTotal.Inc()
	gcBlobsDeletedTotal.Add(float64(deleted))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("GC завершён",
		slog.Int("orphans_deleted", result.OrphansDeleted),
		slog.Int("wal_cleaned", result.WALCleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// sweepOrphans удаляет blob'ы без записи каталога старше grace-периода.
func (gc *GCService) sweepOrphans(ctx context.Context) (deleted, errCount int) {
	blobs, err := gc.blobs.List()
	if err != nil {
		gc.logger.Error("GC: ошибка сканирования blob-хранилища", slog.String("error", err.Error()))
		return 0, 1
	}

	cutoff := time.Now().Add(-gc.gracePeriod)

	for _, info := range blobs {
		if info.ModTime.After(cutoff) {
			continue
		}

		_, err := gc.cat.Get(ctx, info.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			gc.logger.Error("GC: ошибка проверки каталога",
				slog.String("blob_id", info.ID),
				slog.String("error", err.Error()),
			)
			errCount++
			continue
		}

		if err := gc.blobs.Delete(info.ID); err != nil {
			gc.logger.Error("GC: ошибка удаления осиротевшего blob",
				slog.String("blob_id", info.ID),
				slog.String("error", err.Error()),
			)
			errCount++
			continue
		}

		gc.logger.Debug("GC: осиротевший blob удалён",
			slog.String("blob_id", info.ID),
			slog.Int64("size", info.Size),
		)
		deleted++
	}

	return deleted, errCount
}
