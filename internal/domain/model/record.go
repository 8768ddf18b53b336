// Пакет model — доменные модели Audio Store.
// MediaRecord — единая структура метаданных загруженного файла,
// используется как in-memory представление, формат attr.json
// и строка таблицы audio_records в PostgreSQL.
package model

import (
	"time"
)

// MediaRecord — метаданные одного загруженного аудиофайла.
// Запись существует тогда и только тогда, когда существует
// полностью записанный blob с тем же идентификатором.
type MediaRecord struct {
	// ID — уникальный идентификатор файла (UUID v4).
	// Совпадает с именем blob-файла на диске.
	ID string `json:"id"`

	// OwnerID — идентификатор пользователя, загрузившего файл.
	// Не проверяется по внешним системам идентификации.
	OwnerID string `json:"owner_id"`

	// OriginalFilename — оригинальное имя файла при загрузке.
	// Используется только для отображения и экспорта,
	// никогда — как путь хранения.
	OriginalFilename string `json:"original_filename"`

	// ContentType — MIME-тип файла из allow-list аудиотипов
	ContentType string `json:"content_type"`

	// SizeBytes — точный размер blob в байтах (> 0)
	SizeBytes int64 `json:"size_bytes"`

	// Checksum — SHA-256 хэш содержимого blob
	Checksum string `json:"checksum"`

	// Tags — теги файла: множество строк без дубликатов,
	// сравнение точное (с учётом регистра)
	Tags []string `json:"tags"`

	// Description — описание файла (опционально)
	Description string `json:"description,omitempty"`

	// UploadedAt — дата и время коммита записи (UTC)
	UploadedAt time.Time `json:"uploaded_at"`
}

// HasTag проверяет наличие тега в записи.
// Точное строковое сравнение, без нормализации.
func (m *MediaRecord) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone возвращает глубокую копию записи.
// Используется каталогом для защиты от data race при внешних изменениях.
func (m *MediaRecord) Clone() *MediaRecord {
	copied := *m
	if m.Tags != nil {
		copied.Tags = make([]string, len(m.Tags))
		copy(copied.Tags, m.Tags)
	}
	return &copied
}

// DedupTags убирает дубликаты тегов, сохраняя порядок первого вхождения.
// Пустые строки отбрасываются.
func DedupTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
