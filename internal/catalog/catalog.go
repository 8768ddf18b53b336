// Пакет catalog — контракт каталога записей Audio Store.
// Каталог хранит по одной MediaRecord на каждый принятый blob
// и отвечает за выборку по владельцу и тегу.
//
// Реализации:
//   - memcatalog — in-memory индекс с durable attr-файлами на диске
//   - pgcatalog — PostgreSQL через pgx
package catalog

import (
	"context"
	"errors"

	"github.com/bigkaa/audiostore/internal/domain/model"
)

// Ошибки каталога.
var (
	// ErrNotFound — запись с указанным id не существует.
	ErrNotFound = errors.New("запись не найдена")
	// ErrDuplicateID — запись с таким id уже существует.
	// Указывает на дефект генерации идентификаторов, а не на ошибку клиента.
	ErrDuplicateID = errors.New("запись с таким id уже существует")
)

// Catalog — хранилище метаданных загруженных файлов.
//
// Каждая операция атомарна относительно конкурентных вызовов:
// ListByOwner возвращает материализованный снимок, согласованный
// на момент вызова, и никогда не видит частично вставленную запись.
type Catalog interface {
	// Insert добавляет новую запись.
	// Возвращает ErrDuplicateID, если id уже занят.
	Insert(ctx context.Context, rec *model.MediaRecord) error

	// Get возвращает запись по id или ErrNotFound.
	Get(ctx context.Context, id string) (*model.MediaRecord, error)

	// ListByOwner возвращает все записи владельца в порядке вставки
	// (старые первыми). Непустой tag дополнительно ограничивает выборку
	// записями, множество тегов которых содержит точно такую строку.
	// Пустой результат — валидный пустой срез, не ошибка.
	ListByOwner(ctx context.Context, ownerID, tag string) ([]*model.MediaRecord, error)

	// Delete удаляет запись. Возвращает признак того, что запись
	// существовала. Удаление несуществующего id — не ошибка.
	Delete(ctx context.Context, id string) (bool, error)

	// Count возвращает общее количество записей в каталоге.
	Count(ctx context.Context) (int, error)

	// Ping проверяет доступность хранилища каталога.
	// Используется health-проверками.
	Ping(ctx context.Context) error

	// Close освобождает ресурсы каталога.
	Close()
}
