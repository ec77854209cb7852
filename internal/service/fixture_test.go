package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-service/internal/catalog"
	"trading-service/internal/models"
	"trading-service/internal/repository"
	"trading-service/internal/repository/memstore"
	"trading-service/internal/service"
)

// tickClock выдаёт строго возрастающее время, чтобы порядок created_at был детерминирован.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickClock() *tickClock {
	return &tickClock{t: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// testingT покрывает *testing.T и *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

type fixture struct {
	ctx  context.Context
	repo *repository.Repository
	svc  service.MarketService
}

func newFixture(t testingT, opts ...service.Option) *fixture {
	t.Helper()
	st, err := memstore.New()
	require.NoError(t, err)
	repo := st.Repository()

	opts = append([]service.Option{service.WithClock(newTickClock().Now)}, opts...)
	svc, err := service.NewMarketService(repo, catalog.NewRepoCatalog(repo.Items), zap.NewNop(), opts...)
	require.NoError(t, err)

	return &fixture{ctx: context.Background(), repo: repo, svc: svc}
}

func newZeroFeeFixture(t testingT) *fixture {
	return newFixture(t, service.WithFeeRate(decimal.Zero))
}

func (f *fixture) item(t testingT) uuid.UUID {
	t.Helper()
	it := &models.Item{ID: uuid.New(), OwnerID: uuid.New(), Name: "sword", Price: 10}
	require.NoError(t, f.repo.Items.Create(f.ctx, it))
	return it.ID
}

func (f *fixture) fund(t testingT, user uuid.UUID, amount int64) {
	t.Helper()
	_, err := f.svc.AdjustBalance(f.ctx, user, amount)
	require.NoError(t, err)
}

func (f *fixture) balance(t testingT, user uuid.UUID) int64 {
	t.Helper()
	b, err := f.svc.GetBalance(f.ctx, user)
	require.NoError(t, err)
	return b
}

func (f *fixture) stack(t testingT, owner, item uuid.UUID, qty int64, sellable bool, cost *int64) models.InventoryEntry {
	t.Helper()
	out, err := f.svc.AddInventory(f.ctx, service.AddInventoryInput{
		OwnerID: owner, ItemID: item, Quantity: qty, Sellable: sellable, CostBasis: cost,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func (f *fixture) unique(t testingT, owner, item uuid.UUID, attrs map[string]any, sellable bool) models.InventoryEntry {
	t.Helper()
	out, err := f.svc.AddInventory(f.ctx, service.AddInventoryInput{
		OwnerID: owner, ItemID: item, Quantity: 1, Attributes: attrs, Sellable: sellable,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

// holding — сумма стековых единиц и число уникальных копий предмета у пользователя.
func (f *fixture) holding(t testingT, owner, item uuid.UUID) (stacked int64, unique int) {
	t.Helper()
	entries, err := f.svc.GetInventory(f.ctx, owner)
	require.NoError(t, err)
	for _, e := range entries {
		if e.ItemID != item {
			continue
		}
		if e.IsUnique() {
			unique++
		} else {
			stacked += e.Quantity
		}
	}
	return stacked, unique
}

func int64p(v int64) *int64 { return &v }
