package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"TickWatch/internal/domain/models"
	"TickWatch/pkg/cache"
	applogger "TickWatch/pkg/logger"
	"TickWatch/pkg/metrics"
)

func newTestCatalog(b *fakeBackend) (*MarketCatalog, *cache.MemoryCache) {
	mc := cache.NewMemoryCache()
	return NewMarketCatalog(b, mc, time.Minute, metrics.Noop{}, applogger.Nop()), mc
}

func TestCatalogCachesList(t *testing.T) {
	b := &fakeBackend{markets: []models.Market{
		{Symbol: "R_100", DisplayName: "Volatility 100 Index", HasTickStream: true},
		{Symbol: "FRXEURUSD", DisplayName: "EUR/USD", HasTickStream: true},
	}}
	cat, mc := newTestCatalog(b)
	defer mc.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cat.List(ctx)
		if err != nil || len(got) != 2 {
			t.Fatalf("list: %v %v", got, err)
		}
	}
	if b.marketsCalls != 1 {
		t.Fatalf("expected one backend call, got %d", b.marketsCalls)
	}

	if _, err := cat.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if b.marketsCalls != 2 {
		t.Fatalf("refresh must hit the backend, got %d calls", b.marketsCalls)
	}
}

func TestCatalogLookup(t *testing.T) {
	b := &fakeBackend{markets: []models.Market{{Symbol: "R_100", Market: "synthetic_index"}}}
	cat, mc := newTestCatalog(b)
	defer mc.Close()

	m, ok, err := cat.Lookup(context.Background(), "R_100")
	if err != nil || !ok || m.Market != "synthetic_index" {
		t.Fatalf("lookup: %+v %v %v", m, ok, err)
	}
	if _, ok, _ := cat.Lookup(context.Background(), "NOPE"); ok {
		t.Fatalf("unknown symbol found")
	}
}

func TestCatalogErrorNotCached(t *testing.T) {
	b := &fakeBackend{marketsErr: errors.New("502")}
	cat, mc := newTestCatalog(b)
	defer mc.Close()
	ctx := context.Background()

	if _, err := cat.List(ctx); err == nil {
		t.Fatalf("expected error")
	}
	b.marketsErr = nil
	got, err := cat.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got == nil {
		t.Fatalf("an empty catalog is an empty slice")
	}
}
