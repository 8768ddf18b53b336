// attr.go — durable-слой memcatalog: по одному файлу {id}.attr.json
// на запись. Файлы метаданных — источник истины для пересборки
// индекса при старте. Все операции записи атомарны:
// temp → fsync → rename.
package memcatalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/audiostore/internal/domain/model"
)

// attrSuffix — суффикс файла метаданных.
const attrSuffix = ".attr.json"

// maxAttrFileSize — максимальный допустимый размер attr-файла (8 КБ).
// Ограничение гарантирует атомарность записи.
const maxAttrFileSize = 8192

// attrPath возвращает путь к attr-файлу записи с данным id.
func attrPath(metaDir, id string) string {
	return filepath.Join(metaDir, id+attrSuffix)
}

// writeAttr атомарно записывает метаданные в attr-файл.
// Паттерн: JSON → temp файл → fsync → atomic rename.
func writeAttr(path string, rec *model.MediaRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	if len(data) > maxAttrFileSize {
		return fmt.Errorf("размер attr-файла (%d байт) превышает максимум (%d байт)", len(data), maxAttrFileSize)
	}

	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readAttr читает и десериализует метаданные из attr-файла.
func readAttr(path string) (*model.MediaRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения attr-файла %s: %w", path, err)
	}

	var rec model.MediaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации attr-файла %s: %w", path, err)
	}

	return &rec, nil
}

// deleteAttr удаляет attr-файл. Возвращает nil если файл уже не существует.
func deleteAttr(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления attr-файла %s: %w", path, err)
	}
	return nil
}

// scanAttrDir сканирует директорию метаданных и возвращает все записи.
// Невалидные attr-файлы пропускаются — индекс должен построиться
// из того, что читается.
func scanAttrDir(dir string) ([]*model.MediaRecord, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+attrSuffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	var result []*model.MediaRecord
	for _, path := range matches {
		if strings.HasSuffix(path, ".tmp") {
			continue
		}
		rec, err := readAttr(path)
		if err != nil {
			continue
		}
		result = append(result, rec)
	}

	return result, nil
}
