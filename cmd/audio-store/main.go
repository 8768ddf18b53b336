// main.go — точка входа Audio Store.
// Собирает хранилище, каталог, WAL и сервисы, выполняет recovery
// незавершённых транзакций и запускает HTTP-сервер.
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/bigkaa/audiostore/internal/api/handlers"
	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/catalog/memcatalog"
	"github.com/bigkaa/audiostore/internal/catalog/pgcatalog"
	"github.com/bigkaa/audiostore/internal/config"
	"github.com/bigkaa/audiostore/internal/server"
	"github.com/bigkaa/audiostore/internal/service"
	"github.com/bigkaa/audiostore/internal/storage/blobstore"
	"github.com/bigkaa/audiostore/internal/storage/wal"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Audio Store запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
	)

	ctx := context.Background()

	// 3. Blob-хранилище
	blobs, err := blobstore.New(cfg.BlobDir(), cfg.MaxFileSize)
	if err != nil {
		log.Fatalf("Ошибка инициализации blob-хранилища: %v", err)
	}

	// 4. WAL
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		log.Fatalf("Ошибка инициализации WAL: %v", err)
	}

	// 5. Каталог записей: PostgreSQL или in-memory с attr-файлами
	var cat catalog.Catalog
	if cfg.DatabaseURL != "" {
		cat, err = pgcatalog.New(ctx, cfg.DatabaseURL, logger)
	} else {
		logger.Info("AS_DATABASE_URL не задан, используется каталог в памяти")
		cat, err = memcatalog.New(cfg.MetaDir(), logger)
	}
	if err != nil {
		log.Fatalf("Ошибка инициализации каталога: %v", err)
	}
	defer cat.Close()

	// 6. Recovery незавершённых WAL-транзакций до открытия порта
	if err := service.Recover(ctx, walEngine, blobs, cat, logger); err != nil {
		log.Fatalf("Ошибка восстановления WAL: %v", err)
	}

	// 7. Сервисы
	uploadSvc := service.NewUploadService(cfg, walEngine, blobs, cat, logger)
	querySvc := service.NewQueryService(cat, cfg.CacheSize, cfg.CacheTTL, logger)
	deleteSvc := service.NewDeleteService(walEngine, blobs, cat, querySvc, logger)
	exportSvc := service.NewExportService(blobs, cat, logger)

	// 8. Фоновый GC осиротевших blob'ов
	gcSvc := service.NewGCService(blobs, cat, walEngine, cfg.GCInterval, cfg.GCGracePeriod, logger)
	gcSvc.Start(ctx)
	defer gcSvc.Stop()

	// 9. HTTP handlers
	filesHandler := handlers.NewFilesHandler(uploadSvc, querySvc, deleteSvc, cfg.MaxFileSize)
	exportHandler := handlers.NewExportHandler(exportSvc, logger)
	healthHandler := handlers.NewHealthHandler(cfg.BlobDir(), cfg.WALDir, cat)

	// 10. Запуск сервера (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, filesHandler, exportHandler, healthHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("Audio Store остановлен")
}
