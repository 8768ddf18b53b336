// query.go — сервис выборки записей каталога.
// Get-запросы по id проходят через LRU-кэш с TTL
// (hashicorp/golang-lru/v2/expirable). Списочные выборки кэш не
// используют: результат — снимок каталога на момент вызова.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/audiostore/internal/catalog"
	"github.com/bigkaa/audiostore/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// QueryService — сервис выборки записей с LRU-кэшем метаданных.
type QueryService struct {
	cat    catalog.Catalog
	cache  *expirable.LRU[string, *model.MediaRecord]
	logger *slog.Logger
}

// NewQueryService создаёт сервис выборки.
// cacheSize — максимальное количество записей в кэше, ttl — время жизни.
func NewQueryService(cat catalog.Catalog, cacheSize int, ttl time.Duration, logger *slog.Logger) *QueryService {
	return &QueryService{
		cat:    cat,
		cache:  expirable.NewLRU[string, *model.MediaRecord](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "query_service")),
	}
}

// List возвращает записи владельца в порядке вставки.
// Непустой tag ограничивает выборку точным совпадением тега.
// Пустой результат — валидный пустой срез.
func (s *QueryService) List(ctx context.Context, ownerID, tag string) ([]*model.MediaRecord, error) {
	return s.cat.ListByOwner(ctx, ownerID, tag)
}

// Get возвращает запись по id. Сначала проверяет кэш,
// при промахе читает каталог и наполняет кэш.
func (s *QueryService) Get(ctx context.Context, id string) (*model.MediaRecord, error) {
	if rec, ok := s.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return rec.Clone(), nil
	}
	cacheMissesTotal.Inc()

	rec, err := s.cat.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.Add(id, rec.Clone())
	return rec, nil
}

// Invalidate удаляет запись из кэша. Вызывается при удалении файла.
func (s *QueryService) Invalidate(id string) {
	s.cache.Remove(id)
}
