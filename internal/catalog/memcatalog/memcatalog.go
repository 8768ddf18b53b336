// Пакет memcatalog — каталог записей на основе потокобезопасного
// in-memory индекса с durable attr-файлами на диске.
//
// Каждая запись сохраняется в {id}.attr.json до появления в индексе,
// поэтому рестарт не теряет данных: индекс пересобирается из
// attr-файлов в New. Порядок вставки внутри процесса отслеживается
// последовательным счётчиком; при пересборке восстанавливается
// по (uploaded_at, id).
//
// Потребление памяти: ~500 байт/запись, 100K записей ≈ 50 МБ.
package memcatalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/domain/model"
)

// indexEntry — запись индекса с порядковым номером вставки.
type indexEntry struct {
	rec *model.MediaRecord
	seq uint64
}

// Catalog — реализация catalog.Catalog поверх in-memory индекса.
// sync.RWMutex допускает конкурентное чтение при эксклюзивной записи.
type Catalog struct {
	mu      sync.RWMutex
	records map[string]indexEntry // id → запись
	nextSeq uint64
	metaDir string
	logger  *slog.Logger
}

// Проверка соответствия контракту на этапе компиляции.
var _ catalog.Catalog = (*Catalog)(nil)

// New создаёт каталог и пересобирает индекс из attr-файлов в metaDir.
// Директория создаётся при отсутствии.
func New(metaDir string, logger *slog.Logger) (*Catalog, error) {
	if err := os.MkdirAll(metaDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию метаданных %s: %w", metaDir, err)
	}

	c := &Catalog{
		records: make(map[string]indexEntry),
		metaDir: metaDir,
		logger:  logger.With(slog.String("component", "memcatalog")),
	}

	if err := c.rebuild(); err != nil {
		return nil, err
	}

	return c, nil
}

// rebuild пересобирает индекс из attr-файлов.
// Порядок вставки восстанавливается сортировкой по (uploaded_at, id).
func (c *Catalog) rebuild() error {
	recs, err := scanAttrDir(c.metaDir)
	if err != nil {
		return fmt.Errorf("ошибка пересборки индекса: %w", err)
	}

	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].UploadedAt.Equal(recs[j].UploadedAt) {
			return recs[i].UploadedAt.Before(recs[j].UploadedAt)
		}
		return recs[i].ID < recs[j].ID
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make(map[string]indexEntry, len(recs))
	c.nextSeq = 0
	for _, rec := range recs {
		c.records[rec.ID] = indexEntry{rec: rec, seq: c.nextSeq}
		c.nextSeq++
	}

	c.logger.Info("Индекс каталога построен",
		slog.Int("records", len(c.records)),
		slog.String("meta_dir", c.metaDir),
	)

	return nil
}

// Insert добавляет запись: сначала durable attr-файл, затем индекс.
// Если attr-файл не записался, индекс не меняется.
func (c *Catalog) Insert(_ context.Context, rec *model.MediaRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[rec.ID]; ok {
		return fmt.Errorf("id %s: %w", rec.ID, catalog.ErrDuplicateID)
	}

	if err := writeAttr(attrPath(c.metaDir, rec.ID), rec); err != nil {
		return fmt.Errorf("ошибка сохранения метаданных %s: %w", rec.ID, err)
	}

	c.records[rec.ID] = indexEntry{rec: rec.Clone(), seq: c.nextSeq}
	c.nextSeq++
	return nil
}

// Get возвращает копию записи по id или catalog.ErrNotFound.
func (c *Catalog) Get(_ context.Context, id string) (*model.MediaRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("id %s: %w", id, catalog.ErrNotFound)
	}
	return entry.rec.Clone(), nil
}

// ListByOwner возвращает снимок записей владельца в порядке вставки.
// Непустой tag ограничивает выборку точным совпадением тега.
func (c *Catalog) ListByOwner(_ context.Context, ownerID, tag string) ([]*model.MediaRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []indexEntry
	for _, entry := range c.records {
		if entry.rec.OwnerID != ownerID {
			continue
		}
		if tag != "" && !entry.rec.HasTag(tag) {
			continue
		}
		matched = append(matched, entry)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].seq < matched[j].seq
	})

	result := make([]*model.MediaRecord, 0, len(matched))
	for _, entry := range matched {
		result = append(result, entry.rec.Clone())
	}
	return result, nil
}

// Delete удаляет attr-файл и запись индекса.
// Возвращает false, если записи не было.
func (c *Catalog) Delete(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[id]; !ok {
		return false, nil
	}

	if err := deleteAttr(attrPath(c.metaDir, id)); err != nil {
		return false, fmt.Errorf("ошибка удаления метаданных %s: %w", id, err)
	}

	delete(c.records, id)
	return true, nil
}

// Count возвращает количество записей в каталоге.
func (c *Catalog) Count(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records), nil
}

// Ping проверяет доступность директории метаданных.
func (c *Catalog) Ping(_ context.Context) error {
	info, err := os.Stat(c.metaDir)
	if err != nil {
		return fmt.Errorf("директория метаданных недоступна: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("путь %s не является директорией", c.metaDir)
	}
	return nil
}

// Close освобождает ресурсы. Для memcatalog — no-op.
func (c *Catalog) Close() {}
