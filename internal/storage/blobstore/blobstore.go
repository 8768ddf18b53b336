// Пакет blobstore — операции с blob-файлами на диске.
// Blob хранится под именем, равным его идентификатору (UUID v4),
// в одной директории, без привязки к владельцу. Запись выполняется
// в streaming-режиме с подсчётом SHA-256 на лету и инкрементальной
// проверкой лимита размера: превышение лимита прерывает запись,
// не дожидаясь конца потока.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки blob-хранилища.
var (
	// ErrNotFound — blob с указанным идентификатором не существует.
	ErrNotFound = errors.New("blob не найден")
	// ErrTooLarge — поток данных превысил максимальный размер blob.
	ErrTooLarge = errors.New("размер blob превышает максимум")
)

// tmpSuffix — суффикс временных файлов незавершённой записи.
const tmpSuffix = ".tmp"

// BlobStore — управление blob-файлами на диске.
type BlobStore struct {
	// dataDir — директория хранения blob (AS_DATA_DIR/blobs)
	dataDir string
	// maxBlobSize — максимальный размер blob в байтах
	maxBlobSize int64
}

// CreateResult — результат записи blob на диск.
type CreateResult struct {
	// ID — идентификатор blob (UUID v4)
	ID string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// BlobInfo — информация о blob на диске. Используется orphan-сверкой.
type BlobInfo struct {
	ID      string
	Size    int64
	ModTime time.Time
}

// New создаёт новый BlobStore. Проверяет и создаёт директорию
// если она не существует.
func New(dataDir string, maxBlobSize int64) (*BlobStore, error) {
	if maxBlobSize <= 0 {
		return nil, fmt.Errorf("некорректный лимит размера blob: %d", maxBlobSize)
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &BlobStore{dataDir: dataDir, maxBlobSize: maxBlobSize}, nil
}

// NewID возвращает свежий идентификатор blob (UUID v4).
// Идентификатор никогда не выводится из клиентского имени файла.
func NewID() string {
	return uuid.New().String()
}

// Create записывает данные из reader под свежесгенерированным
// идентификатором и возвращает его вместе с размером и checksum.
func (bs *BlobStore) Create(reader io.Reader) (*CreateResult, error) {
	return bs.CreateWithID(NewID(), reader)
}

// CreateWithID записывает данные из reader под заранее известным
// идентификатором. Используется пайплайном загрузки, которому id
// нужен до записи (для WAL-транзакции).
//
// Паттерн: temp файл → streaming запись + SHA-256 → fsync → atomic rename.
// Лимит размера проверяется во время записи: как только счётчик байт
// пересекает maxBlobSize, запись прерывается с ErrTooLarge.
// При любой ошибке temp файл удаляется — под финальным именем
// полузаписанный blob наблюдать невозможно.
func (bs *BlobStore) CreateWithID(id string, reader io.Reader) (*CreateResult, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, fmt.Errorf("некорректный идентификатор blob %q: %w", id, err)
	}

	fullPath := filepath.Join(bs.dataDir, id)
	tmpPath := fullPath + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// LimitReader на один байт больше лимита: лишний байт означает,
	// что поток превысил максимум, при этом чтение останавливается
	// сразу после пересечения границы.
	hasher := sha256.New()
	limited := io.LimitReader(reader, bs.maxBlobSize+1)
	size, err := io.Copy(f, io.TeeReader(limited, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if size > bs.maxBlobSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: лимит %d байт", ErrTooLarge, bs.maxBlobSize)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &CreateResult{
		ID:       id,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает blob для чтения и возвращает *os.File.
// Вызывающий код обязан закрыть файл.
// Возвращает ErrNotFound для неизвестного или некорректного id.
func (bs *BlobStore) Open(id string) (*os.File, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, fmt.Errorf("blob %q: %w", id, ErrNotFound)
	}

	f, err := os.Open(filepath.Join(bs.dataDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка открытия blob %s: %w", id, err)
	}
	return f, nil
}

// Delete удаляет blob с диска.
// Идемпотентна: удаление несуществующего id — не ошибка.
func (bs *BlobStore) Delete(id string) error {
	if err := uuid.Validate(id); err != nil {
		return nil
	}
	err := os.Remove(filepath.Join(bs.dataDir, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления blob %s: %w", id, err)
	}
	return nil
}

// Exists проверяет существование blob на диске.
func (bs *BlobStore) Exists(id string) bool {
	if err := uuid.Validate(id); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(bs.dataDir, id))
	return err == nil
}

// Size возвращает размер blob на диске.
func (bs *BlobStore) Size(id string) (int64, error) {
	if err := uuid.Validate(id); err != nil {
		return 0, fmt.Errorf("blob %q: %w", id, ErrNotFound)
	}
	info, err := os.Stat(filepath.Join(bs.dataDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("blob %s: %w", id, ErrNotFound)
		}
		return 0, fmt.Errorf("ошибка получения информации о blob %s: %w", id, err)
	}
	return info.Size(), nil
}

// List возвращает информацию обо всех blob в директории данных.
// Временные файлы незавершённых записей пропускаются.
// Используется orphan-сверкой (GC).
func (bs *BlobStore) List() ([]BlobInfo, error) {
	entries, err := os.ReadDir(bs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", bs.dataDir, err)
	}

	var result []BlobInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), tmpSuffix) {
			continue
		}
		if err := uuid.Validate(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result = append(result, BlobInfo{
			ID:      entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return result, nil
}

// DataDir возвращает путь к директории данных.
func (bs *BlobStore) DataDir() string {
	return bs.dataDir
}
