// delete.go — сервис удаления файлов.
// Порядок фаз обратный загрузке: сначала запись каталога, затем blob.
// Если blob не удалился, запись каталога уже отсутствует и blob
// становится осиротевшим — его подберёт GC.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/audiostore/internal/api/middleware"
	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/storage/blobstore"
	"github.com/bigkaa/audiostore/internal/storage/wal"
)

// DeleteService — сервис удаления файлов.
type DeleteService struct {
	walEngine *wal.WAL
	blobs     *blobstore.BlobStore
	cat       catalog.Catalog
	query     *QueryService
	logger    *slog.Logger
}

// NewDeleteService создаёт сервис удаления файлов.
func NewDeleteService(
	walEngine *wal.WAL,
	blobs *blobstore.BlobStore,
	cat catalog.Catalog,
	query *QueryService,
	logger *slog.Logger,
) *DeleteService {
	return &DeleteService{
		walEngine: walEngine,
		blobs:     blobs,
		cat:       cat,
		query:     query,
		logger:    logger.With(slog.String("component", "delete_service")),
	}
}

// Delete удаляет запись каталога и blob файла.
// Возвращает признак того, что запись существовала.
// Удаление несуществующего id — не ошибка (идемпотентность).
func (s *DeleteService) Delete(ctx context.Context, id string) (bool, error) {
	walEntry, err := s.walEngine.StartTransaction(wal.OpDelete, id, "")
	if err != nil {
		return false, err
	}

	size, _ := s.blobs.Size(id)

	existed, err := s.cat.Delete(ctx, id)
	if err != nil {
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
		middleware.OperationsTotal.WithLabelValues("delete", "error").Inc()
		return false, err
	}

	s.query.Invalidate(id)

	if err := s.blobs.Delete(id); err != nil {
		// Запись каталога уже удалена — blob осиротел, его подберёт GC
		s.logger.Warn("Blob не удалён, будет собран GC",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	} else if existed {
		middleware.StorageBytes.Sub(float64(size))
	}

	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные удалены)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	}

	if existed {
		middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
		middleware.RecordsTotal.Dec()
		s.logger.Info("Файл удалён", slog.String("file_id", id))
	}

	return existed, nil
}
