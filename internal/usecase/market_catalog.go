package usecase

import (
	"context"
	"fmt"
	"time"

	"TickWatch/internal/domain/models"
	"TickWatch/internal/domain/repository"
	"TickWatch/pkg/cache"
	applogger "TickWatch/pkg/logger"
)

var marketsKey = cache.Key("markets", "all")

// MarketLister is the backend call the catalog caches.
type MarketLister interface {
	Markets(ctx context.Context) ([]models.Market, error)
}

// MarketCatalog serves the backend's market list through the cache.
type MarketCatalog struct {
	backend MarketLister
	cache   cache.Service
	ttl     time.Duration
	metrics repository.Metrics
	logger  *applogger.Logger
}

func NewMarketCatalog(backend MarketLister, c cache.Service, ttl time.Duration, metrics repository.Metrics, l *applogger.Logger) *MarketCatalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MarketCatalog{backend: backend, cache: c, ttl: ttl, metrics: metrics, logger: l}
}

// List returns the cached market list, fetching it on a miss.
func (m *MarketCatalog) List(ctx context.Context) ([]models.Market, error) {
	markets, hit, err := cache.GetOrLoad(ctx, m.cache, marketsKey, m.ttl, m.fetch)
	if err != nil {
		return nil, err
	}
	if !hit {
		m.logger.Debug("market catalog refreshed", applogger.Int("markets", len(markets)))
	}
	return markets, nil
}

// Refresh drops the cached list and fetches it again.
func (m *MarketCatalog) Refresh(ctx context.Context) ([]models.Market, error) {
	if err := m.cache.Delete(ctx, marketsKey); err != nil {
		m.logger.Warn("market cache delete failed", applogger.Error(err))
	}
	return m.List(ctx)
}

// Lookup finds symbol in the catalog.
func (m *MarketCatalog) Lookup(ctx context.Context, symbol string) (models.Market, bool, error) {
	markets, err := m.List(ctx)
	if err != nil {
		return models.Market{}, false, err
	}
	for _, mk := range markets {
		if mk.Symbol == symbol {
			return mk, true, nil
		}
	}
	return models.Market{}, false, nil
}

func (m *MarketCatalog) fetch(ctx context.Context) ([]models.Market, error) {
	start := time.Now()
	markets, err := m.backend.Markets(ctx)
	m.metrics.RecordLatency("markets", time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordError("markets")
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	if markets == nil {
		markets = []models.Market{}
	}
	return markets, nil
}
