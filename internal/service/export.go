// export.go — сервис экспорта файлов владельца в ZIP-архив.
//
// Архив пишется потоково прямо в http.ResponseWriter: файлы не
// буферизуются ни в памяти, ни на диске. Состав архива фиксируется
// снимком каталога в начале экспорта; конкурентные загрузки и
// удаления на уже начатый экспорт не влияют.
package service

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/domain/model"
	"github.com/bigkaa/audiostore/internal/storage/blobstore"
)

// Prometheus-метрики экспорта.
var (
	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "as_exports_total",
			Help: "Общее количество запросов экспорта",
		},
		[]string{"result"},
	)
	exportFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_export_files_total",
		Help: "Общее количество файлов, упакованных в архивы экспорта",
	})
	exportDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "as_export_duration_seconds",
		Help:    "Длительность формирования архива экспорта в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})
)

// archivePrefix — каталог аудиофайлов внутри архива.
const archivePrefix = "audio_files/"

// manifestName — имя файла-манифеста внутри архива.
const manifestName = "metadata.json"

// ErrEmptyExport — у владельца нет записей, подходящих под фильтр.
var ErrEmptyExport = errors.New("нет записей для экспорта")

// PartialDataLossError — каталог ссылается на blob, которого нет на диске.
// Экспорт прерывается до записи первого байта архива.
type PartialDataLossError struct {
	FileID string
}

func (e *PartialDataLossError) Error() string {
	return fmt.Sprintf("blob %s числится в каталоге, но отсутствует в хранилище", e.FileID)
}

// exportManifest — структура metadata.json внутри архива.
type exportManifest struct {
	ExportTimestamp time.Time       `json:"export_timestamp"`
	OwnerID         string          `json:"owner_id"`
	Tag             string          `json:"tag,omitempty"`
	TotalFiles      int             `json:"total_files"`
	Files           []manifestEntry `json:"files"`
}

// manifestEntry — описание одного файла в манифесте.
type manifestEntry struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	ArchivePath      string    `json:"archive_path"`
	ContentType      string    `json:"content_type"`
	SizeBytes        int64     `json:"size_bytes"`
	Checksum         string    `json:"checksum,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	Description      string    `json:"description,omitempty"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// ExportService — сервис экспорта файлов владельца в ZIP-архив.
type ExportService struct {
	blobs  *blobstore.BlobStore
	cat    catalog.Catalog
	logger *slog.Logger
}

// NewExportService создаёт сервис экспорта.
func NewExportService(blobs *blobstore.BlobStore, cat catalog.Catalog, logger *slog.Logger) *ExportService {
	return &ExportService{
		blobs:  blobs,
		cat:    cat,
		logger: logger.With(slog.String("component", "export_service")),
	}
}

// Plan фиксирует снимок записей экспорта и проверяет наличие всех blob'ов.
// Возвращает ErrEmptyExport при пустой выборке и *PartialDataLossError,
// если хотя бы один blob отсутствует на диске. Проверка выполняется
// до записи первого байта архива, чтобы клиент получил честный
// статус-код вместо оборванного потока.
func (s *ExportService) Plan(ctx context.Context, ownerID, tag string) ([]*model.MediaRecord, error) {
	records, err := s.cat.ListByOwner(ctx, ownerID, tag)
	if err != nil {
		exportsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ошибка выборки записей для экспорта: %w", err)
	}

	if len(records) == 0 {
		exportsTotal.WithLabelValues("empty").Inc()
		return nil, ErrEmptyExport
	}

	for _, rec := range records {
		if !s.blobs.Exists(rec.ID) {
			exportsTotal.WithLabelValues("partial_data_loss").Inc()
			s.logger.Error("Blob записи каталога отсутствует на диске",
				slog.String("file_id", rec.ID),
				slog.String("owner_id", ownerID),
			)
			return nil, &PartialDataLossError{FileID: rec.ID}
		}
	}

	return records, nil
}

// Write пишет ZIP-архив по зафиксированному снимку records в w.
// Каждый файл попадает в архив под именем audio_files/{id}_{имя},
// последним добавляется манифест metadata.json. Ошибка после начала
// записи необратима: часть архива уже ушла клиенту, поток обрывается.
func (s *ExportService) Write(w io.Writer, ownerID, tag string, records []*model.MediaRecord) error {
	start := time.Now()

	zw := zip.NewWriter(w)

	mf := exportManifest{
		ExportTimestamp: start.UTC(),
		OwnerID:         ownerID,
		Tag:             tag,
		TotalFiles:      len(records),
		Files:           make([]manifestEntry, 0, len(records)),
	}

	for _, rec := range records {
		entryName := archivePrefix + rec.ID + "_" + rec.OriginalFilename

		if err := s.writeBlob(zw, entryName, rec); err != nil {
			exportsTotal.WithLabelValues("error").Inc()
			return err
		}

		mf.Files = append(mf.Files, manifestEntry{
			ID:               rec.ID,
			OriginalFilename: rec.OriginalFilename,
			ArchivePath:      entryName,
			ContentType:      rec.ContentType,
			SizeBytes:        rec.SizeBytes,
			Checksum:         rec.Checksum,
			Tags:             rec.Tags,
			Description:      rec.Description,
			UploadedAt:       rec.UploadedAt,
		})
	}

	if err := writeManifest(zw, mf); err != nil {
		exportsTotal.WithLabelValues("error").Inc()
		return err
	}

	if err := zw.Close(); err != nil {
		exportsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ошибка завершения архива: %w", err)
	}

	duration := time.Since(start)
	exportsTotal.WithLabelValues("success").Inc()
	exportFilesTotal.Add(float64(len(records)))
	exportDurationSeconds.Observe(duration.Seconds())

	s.logger.Info("Экспорт завершён",
		slog.String("owner_id", ownerID),
		slog.String("tag", tag),
		slog.Int("files", len(records)),
		slog.Duration("duration", duration),
	)

	return nil
}

// writeBlob добавляет один blob в архив потоковым копированием.
// SHA-256 содержимого считается по ходу копирования и сверяется
// с checksum из каталога: тихая порча blob на диске обнаруживается
// при чтении, а не уезжает клиенту незамеченной.
func (s *ExportService) writeBlob(zw *zip.Writer, entryName string, rec *model.MediaRecord) error {
	f, err := s.blobs.Open(rec.ID)
	if err != nil {
		return fmt.Errorf("ошибка открытия blob %s: %w", rec.ID, err)
	}
	defer f.Close()

	header := &zip.FileHeader{
		Name:     entryName,
		Method:   zip.Deflate,
		Modified: rec.UploadedAt,
	}

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("ошибка создания записи архива %s: %w", entryName, err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(entry, io.TeeReader(f, hasher)); err != nil {
		return fmt.Errorf("ошибка копирования blob %s в архив: %w", rec.ID, err)
	}

	if rec.Checksum != "" {
		if sum := hex.EncodeToString(hasher.Sum(nil)); sum != rec.Checksum {
			s.logger.Error("Checksum blob не совпадает с каталогом",
				slog.String("file_id", rec.ID),
				slog.String("expected", rec.Checksum),
				slog.String("actual", sum),
			)
			return fmt.Errorf("blob %s повреждён: checksum не совпадает с каталогом", rec.ID)
		}
	}

	return nil
}

// writeManifest сериализует манифест и добавляет его в архив.
func writeManifest(zw *zip.Writer, mf exportManifest) error {
	entry, err := zw.Create(manifestName)
	if err != nil {
		return fmt.Errorf("ошибка создания манифеста: %w", err)
	}

	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации манифеста: %w", err)
	}

	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("ошибка записи манифеста: %w", err)
	}

	return nil
}
