// files.go — HTTP handlers файловых операций Audio Store.
// Upload, List, Get metadata, Delete.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/audiostore/internal/api/errors"
	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/domain/model"
	"github.com/bigkaa/audiostore/internal/service"
)

// multipartMemoryLimit — буфер парсинга multipart form в памяти.
// Части больше лимита net/http складывает во временные файлы.
const multipartMemoryLimit = 32 << 20 // 32 MB

// uploadBodyOverhead — запас поверх лимита файла на текстовые поля
// формы и multipart-разметку при ограничении тела запроса.
const uploadBodyOverhead = 1 << 20 // 1 MB

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	uploadSvc   *service.UploadService
	querySvc    *service.QueryService
	deleteSvc   *service.DeleteService
	maxFileSize int64
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	uploadSvc *service.UploadService,
	querySvc *service.QueryService,
	deleteSvc *service.DeleteService,
	maxFileSize int64,
) *FilesHandler {
	return &FilesHandler{
		uploadSvc:   uploadSvc,
		querySvc:    querySvc,
		deleteSvc:   deleteSvc,
		maxFileSize: maxFileSize,
	}
}

// listResponse — тело ответа GET /api/v1/files.
type listResponse struct {
	OwnerID string               `json:"owner_id"`
	Tag     string               `json:"tag,omitempty"`
	Total   int                  `json:"total"`
	Files   []*model.MediaRecord `json:"files"`
}

// deleteResponse — тело ответа DELETE /api/v1/files/{file_id}.
type deleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// UploadFile обрабатывает POST /api/v1/files/upload.
// Multipart form: file и owner_id (обязательно), tags (опционально,
// через запятую), description (опционально).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	// Жёсткая граница приёма: без MaxBytesReader парсер multipart
	// вычитал бы оверсайз-поток целиком, прежде чем хранилище увидит
	// первый байт. Чтение обрывается сразу за лимитом файла плюс запас
	// на остальные поля формы.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+uploadBodyOverhead)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла превышает максимум %d байт", h.maxFileSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	ownerID := strings.TrimSpace(r.FormValue("owner_id"))
	if ownerID == "" {
		apierrors.ValidationError(w, "Поле 'owner_id' обязательно")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		apierrors.ValidationError(w, "Имя файла не должно быть пустым")
		return
	}

	result, uploadErr := h.uploadSvc.Upload(r.Context(), service.UploadParams{
		Reader:           file,
		OriginalFilename: header.Filename,
		ContentType:      header.Header.Get("Content-Type"),
		OwnerID:          ownerID,
		Tags:             parseTags(r.FormValue("tags")),
		Description:      r.FormValue("description"),
	})
	if uploadErr != nil {
		apierrors.WriteError(w, uploadErr.StatusCode, uploadErr.Code, uploadErr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, result.Record)
}

// ListFiles обрабатывает GET /api/v1/files.
// Параметры: owner_id (обязательно), tag (опционально, точное совпадение).
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		apierrors.ValidationError(w, "Параметр 'owner_id' обязателен")
		return
	}
	tag := r.URL.Query().Get("tag")

	records, err := h.querySvc.List(r.Context(), ownerID, tag)
	if err != nil {
		apierrors.InternalError(w, "Ошибка выборки записей")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		OwnerID: ownerID,
		Tag:     tag,
		Total:   len(records),
		Files:   records,
	})
}

// GetFile обрабатывает GET /api/v1/files/{file_id}.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	if err := uuid.Validate(fileID); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный идентификатор файла: %s", fileID))
		return
	}

	rec, err := h.querySvc.Get(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", fileID))
			return
		}
		apierrors.InternalError(w, "Ошибка чтения записи")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// DeleteFile обрабатывает DELETE /api/v1/files/{file_id}.
// Идемпотентен: повторное удаление возвращает 200 с deleted=false.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	if err := uuid.Validate(fileID); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный идентификатор файла: %s", fileID))
		return
	}

	deleted, err := h.deleteSvc.Delete(r.Context(), fileID)
	if err != nil {
		apierrors.InternalError(w, "Ошибка удаления файла")
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{ID: fileID, Deleted: deleted})
}

// parseTags разбирает строку тегов через запятую в срез.
func parseTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// writeJSON записывает тело ответа в формате JSON.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
