// Пакет service — бизнес-логика Audio Store.
// upload.go — сервис загрузки файлов с WAL-транзакциями.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	apierrors "github.com/bigkaa/audiostore/internal/api/errors"
	"github.com/bigkaa/audiostore/internal/api/middleware"
	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/config"
	"github.com/bigkaa/audiostore/internal/domain/model"
	"github.com/bigkaa/audiostore/internal/storage/blobstore"
	"github.com/bigkaa/audiostore/internal/storage/wal"
)

// Таблица mime может не знать аудио-расширения без системного
// /etc/mime.types, регистрируем основные явно.
func init() {
	_ = mime.AddExtensionType(".mp3", "audio/mpeg")
	_ = mime.AddExtensionType(".ogg", "audio/ogg")
	_ = mime.AddExtensionType(".flac", "audio/flac")
	_ = mime.AddExtensionType(".wav", "audio/wav")
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string
	// ContentType — MIME-тип из multipart part (может быть пустым)
	ContentType string
	// OwnerID — идентификатор владельца
	OwnerID string
	// Tags — теги файла (опционально)
	Tags []string
	// Description — описание файла (опционально)
	Description string
}

// UploadResult — результат загрузки файла.
type UploadResult struct {
	Record *model.MediaRecord
}

// UploadError — ошибка загрузки с HTTP-кодом.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UploadService — сервис загрузки файлов.
type UploadService struct {
	cfg       *config.Config
	walEngine *wal.WAL
	blobs     *blobstore.BlobStore
	cat       catalog.Catalog
	logger    *slog.Logger
}

// NewUploadService создаёт сервис загрузки файлов.
func NewUploadService(
	cfg *config.Config,
	walEngine *wal.WAL,
	blobs *blobstore.BlobStore,
	cat catalog.Catalog,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:       cfg,
		walEngine: walEngine,
		blobs:     blobs,
		cat:       cat,
		logger:    logger.With(slog.String("component", "upload_service")),
	}
}

// Upload принимает файл в хранилище с WAL-транзакцией.
//
// Поток:
//  1. Проверка MIME-типа (allow-list, fallback по расширению)
//  2. WAL StartTransaction
//  3. Запись blob (streaming + SHA-256, лимит размера — инкрементально)
//  4. Вставка записи в каталог
//  5. WAL Commit
//
// При ошибке после записи blob — компенсирующее удаление blob + WAL Rollback.
// Запись каталога появляется только после полной записи blob, поэтому
// выборки никогда не видят полузагруженный файл.
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, *UploadError) {
	// 1. Определяем и проверяем MIME-тип
	contentType := resolveContentType(params.ContentType, params.OriginalFilename)
	if !s.isAllowedType(contentType) {
		middleware.OperationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, &UploadError{
			StatusCode: 415,
			Code:       apierrors.CodeUnsupportedType,
			Message: fmt.Sprintf("Тип %q не поддерживается, разрешённые типы: %s",
				contentType, strings.Join(s.cfg.AllowedTypes, ", ")),
		}
	}

	// 2. Генерируем id и открываем WAL-транзакцию
	blobID := blobstore.NewID()

	walEntry, err := s.walEngine.StartTransaction(wal.OpUpload, blobID, params.OwnerID)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка при создании транзакции",
		}
	}

	// Cleanup при ошибке
	var saved *blobstore.CreateResult
	rollback := func() {
		if saved != nil {
			if delErr := s.blobs.Delete(saved.ID); delErr != nil {
				s.logger.Error("Ошибка компенсирующего удаления blob",
					slog.String("blob_id", saved.ID),
					slog.String("error", delErr.Error()),
				)
			}
		}
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	// 3. Записываем blob (streaming + SHA-256)
	saved, err = s.blobs.CreateWithID(blobID, params.Reader)
	if err != nil {
		rollback()
		if errors.Is(err, blobstore.ErrTooLarge) {
			middleware.OperationsTotal.WithLabelValues("upload", "rejected").Inc()
			return nil, &UploadError{
				StatusCode: 413,
				Code:       apierrors.CodeFileTooLarge,
				Message:    fmt.Sprintf("Размер файла превышает максимум %d байт", s.cfg.MaxFileSize),
			}
		}
		s.logger.Error("Ошибка сохранения blob",
			slog.String("blob_id", blobID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeIOError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}

	if saved.Size == 0 {
		rollback()
		middleware.OperationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, &UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Пустой файл не принимается",
		}
	}

	// 4. Формируем запись каталога
	rec := &model.MediaRecord{
		ID:               blobID,
		OwnerID:          params.OwnerID,
		OriginalFilename: params.OriginalFilename,
		ContentType:      contentType,
		SizeBytes:        saved.Size,
		Checksum:         saved.Checksum,
		Tags:             model.DedupTags(params.Tags),
		Description:      params.Description,
		UploadedAt:       time.Now().UTC(),
	}

	if err := s.cat.Insert(ctx, rec); err != nil {
		// Компенсирующее удаление: blob без записи каталога не должен остаться
		rollback()
		if errors.Is(err, catalog.ErrDuplicateID) {
			s.logger.Error("Коллизия идентификатора при вставке в каталог",
				slog.String("blob_id", blobID),
			)
			middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
			return nil, &UploadError{
				StatusCode: 500,
				Code:       apierrors.CodeDuplicateID,
				Message:    fmt.Sprintf("Идентификатор %s уже занят", blobID),
			}
		}
		s.logger.Error("Ошибка вставки записи в каталог",
			slog.String("blob_id", blobID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения метаданных",
		}
	}

	// 5. WAL Commit
	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("blob_id", blobID),
			slog.String("error", err.Error()),
		)
		// Данные уже записаны, коммит WAL — best effort
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.RecordsTotal.Inc()
	middleware.StorageBytes.Add(float64(saved.Size))

	s.logger.Info("Файл загружен",
		slog.String("file_id", blobID),
		slog.String("filename", params.OriginalFilename),
		slog.String("owner_id", params.OwnerID),
		slog.Int64("size", saved.Size),
		slog.String("checksum", saved.Checksum),
		slog.String("content_type", contentType),
	)

	return &UploadResult{Record: rec}, nil
}

// isAllowedType проверяет, входит ли MIME-тип в список разрешённых.
func (s *UploadService) isAllowedType(contentType string) bool {
	for _, allowed := range s.cfg.AllowedTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}

// resolveContentType определяет эффективный MIME-тип загружаемого файла.
// Заявленный клиентом тип очищается от параметров (charset и т.д.).
// Пустой или generic тип (application/octet-stream) заменяется типом,
// определённым по расширению имени файла.
func resolveContentType(declared, filename string) string {
	contentType := declared
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(contentType)

	if contentType == "" || contentType == "application/octet-stream" {
		byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
		if idx := strings.Index(byExt, ";"); idx != -1 {
			byExt = byExt[:idx]
		}
		if byExt != "" {
			return strings.TrimSpace(byExt)
		}
		return "application/octet-stream"
	}

	return contentType
}
