// export.go — HTTP handler экспорта файлов владельца в ZIP-архив.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/bigkaa/audiostore/internal/api/errors"
	"github.com/bigkaa/audiostore/internal/service"
)

// ExportHandler — обработчик endpoint экспорта.
type ExportHandler struct {
	exportSvc *service.ExportService
	logger    *slog.Logger
}

// NewExportHandler создаёт обработчик экспорта.
func NewExportHandler(exportSvc *service.ExportService, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		exportSvc: exportSvc,
		logger:    logger.With(slog.String("component", "export_handler")),
	}
}

// ExportFiles обрабатывает GET /api/v1/files/export.
// Параметры: owner_id (обязательно), tag (опционально).
// Отдаёт ZIP-архив потоково. Снимок состава и проверка наличия всех
// blob'ов выполняются до первого байта архива, поэтому ошибки
// (пустая выборка, потеря данных) возвращаются честным статус-кодом.
func (h *ExportHandler) ExportFiles(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		apierrors.ValidationError(w, "Параметр 'owner_id' обязателен")
		return
	}
	tag := r.URL.Query().Get("tag")

	records, err := h.exportSvc.Plan(r.Context(), ownerID, tag)
	if err != nil {
		var pdl *service.PartialDataLossError
		switch {
		case errors.Is(err, service.ErrEmptyExport):
			apierrors.NotFound(w, fmt.Sprintf("У владельца %s нет файлов для экспорта", ownerID))
		case errors.As(err, &pdl):
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.CodePartialDataLoss, pdl.Error())
		default:
			apierrors.InternalError(w, "Ошибка подготовки экспорта")
		}
		return
	}

	archiveName := fmt.Sprintf("audio_export_%s_%s.zip", ownerID, time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archiveName))
	w.WriteHeader(http.StatusOK)

	// После первого байта статус-код уже ушёл клиенту: при ошибке
	// остаётся только оборвать поток и записать лог.
	if err := h.exportSvc.Write(w, ownerID, tag, records); err != nil {
		h.logger.Error("Экспорт прерван после начала передачи",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()),
		)
	}
}
