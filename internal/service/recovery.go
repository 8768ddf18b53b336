// recovery.go — разрешение незавершённых WAL-транзакций при старте.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/storage/blobstore"
	"github.com/bigkaa/audiostore/internal/storage/wal"
)

// Recover разрешает все pending WAL-транзакции, оставшиеся после
// аварийного завершения процесса. Вызывается при старте до открытия
// HTTP-порта.
//
// Правила разрешения:
//   - upload: запись в каталоге есть → транзакция фактически завершилась,
//     commit; записи нет → blob (если остался) удаляется, rollback
//   - delete: запись в каталоге отсутствует → удаление доводится до конца
//     (blob удаляется), commit; запись есть → удаление не началось, rollback
func Recover(
	ctx context.Context,
	walEngine *wal.WAL,
	blobs *blobstore.BlobStore,
	cat catalog.Catalog,
	logger *slog.Logger,
) error {
	logger = logger.With(slog.String("component", "recovery"))

	pending, err := walEngine.RecoverPending()
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		logger.Info("Незавершённых WAL-транзакций нет")
		return nil
	}

	for _, entry := range pending {
		_, getErr := cat.Get(ctx, entry.BlobID)
		inCatalog := getErr == nil
		if getErr != nil && !errors.Is(getErr, catalog.ErrNotFound) {
			logger.Error("Recovery: ошибка проверки каталога",
				slog.String("tx_id", entry.TransactionID),
				slog.String("blob_id", entry.BlobID),
				slog.String("error", getErr.Error()),
			)
			continue
		}

		switch {
		case entry.Operation == wal.OpUpload && inCatalog:
			// Загрузка успела завершиться, упал только коммит WAL
			finishTx(walEngine, entry, walEngine.Commit, logger, "upload доведён до commit")

		case entry.Operation == wal.OpUpload && !inCatalog:
			if err := blobs.Delete(entry.BlobID); err != nil {
				logger.Error("Recovery: ошибка удаления blob прерванной загрузки",
					slog.String("blob_id", entry.BlobID),
					slog.String("error", err.Error()),
				)
			}
			finishTx(walEngine, entry, walEngine.Rollback, logger, "прерванный upload откачен")

		case entry.Operation == wal.OpDelete && !inCatalog:
			// Запись каталога удалена — доводим удаление blob до конца
			if err := blobs.Delete(entry.BlobID); err != nil {
				logger.Error("Recovery: ошибка удаления blob",
					slog.String("blob_id", entry.BlobID),
					slog.String("error", err.Error()),
				)
			}
			finishTx(walEngine, entry, walEngine.Commit, logger, "delete доведён до конца")

		default: // OpDelete, запись ещё в каталоге
			finishTx(walEngine, entry, walEngine.Rollback, logger, "прерванный delete откачен")
		}
	}

	logger.Info("Восстановление WAL завершено", slog.Int("resolved", len(pending)))
	return nil
}

// finishTx завершает транзакцию и логирует результат.
func finishTx(walEngine *wal.WAL, entry *wal.Entry, finish func(string) error, logger *slog.Logger, msg string) {
	if err := finish(entry.TransactionID); err != nil {
		logger.Error("Recovery: ошибка завершения WAL-транзакции",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Warn("Recovery: "+msg,
		slog.String("tx_id", entry.TransactionID),
		slog.String("blob_id", entry.BlobID),
	)
}
