package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/entity"
	repo "github.com/Additional-Code/kds/internal/repository/order"
	"github.com/Additional-Code/kds/pkg/errorbank"
)

// memStore keeps orders by id and hands out copies so the service only
// changes stored state through Update, like the real repository.
type memStore struct {
	orders map[int64]*entity.Order
}

func newMemStore(orders ...*entity.Order) *memStore {
	s := &memStore{orders: make(map[int64]*entity.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id int64) (*entity.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	clone := *o
	return &clone, nil
}

func (s *memStore) Update(_ context.Context, order *entity.Order) error {
	if _, ok := s.orders[order.ID]; !ok {
		return repo.ErrNotFound
	}
	clone := *order
	s.orders[order.ID] = &clone
	return nil
}

func newTestService(store Store, now time.Time) *Service {
	svc := New(store, config.Config{}, zap.NewNop(), nil)
	svc.now = func() time.Time { return now }
	return svc
}

func newOrder(status entity.OrderStatus) *entity.Order {
	return &entity.Order{
		ID:        7,
		Status:    status,
		OrderTime: time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	}
}

func TestMarkAsViewedSetsTimestampOnce(t *testing.T) {
	now := time.Date(2026, 3, 14, 11, 5, 0, 0, time.UTC)
	store := newMemStore(newOrder(entity.StatusNew))
	svc := newTestService(store, now)

	order, err := svc.MarkAsViewed(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusViewed, order.Status)
	require.NotNil(t, order.ViewedAt)
	assert.Equal(t, now, *order.ViewedAt)
	assert.Nil(t, order.StartedAt)
	assert.Nil(t, order.ReadyAt)
}

func TestForwardJumpBackfillsEarlierMilestones(t *testing.T) {
	now := time.Date(2026, 3, 14, 11, 5, 0, 0, time.UTC)
	store := newMemStore(newOrder(entity.StatusNew))
	svc := newTestService(store, now)

	order, err := svc.MarkAsReady(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusReady, order.Status)
	require.NotNil(t, order.ViewedAt)
	require.NotNil(t, order.StartedAt)
	require.NotNil(t, order.ReadyAt)
	assert.Nil(t, order.CompletedAt)
}

func TestBackfillKeepsEarlierTimestamps(t *testing.T) {
	viewed := time.Date(2026, 3, 14, 11, 1, 0, 0, time.UTC)
	seed := newOrder(entity.StatusViewed)
	seed.ViewedAt = &viewed
	store := newMemStore(seed)

	now := time.Date(2026, 3, 14, 11, 8, 0, 0, time.UTC)
	svc := newTestService(store, now)

	order, err := svc.StartPreparing(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, viewed, *order.ViewedAt)
	assert.Equal(t, now, *order.StartedAt)
}

func TestCompleteDerivesPrepDurationFromStart(t *testing.T) {
	started := time.Date(2026, 3, 14, 11, 2, 0, 0, time.UTC)
	viewed := started
	seed := newOrder(entity.StatusPreparing)
	seed.ViewedAt = &viewed
	seed.StartedAt = &started
	store := newMemStore(seed)

	now := started.Add(4*time.Minute + 30*time.Second)
	svc := newTestService(store, now)

	order, err := svc.Complete(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, order.Status)
	require.NotNil(t, order.PrepSeconds)
	assert.Equal(t, int64(270), *order.PrepSeconds)
}

func TestCompleteWithoutStartUsesOrderTime(t *testing.T) {
	store := newMemStore(newOrder(entity.StatusNew))
	now := time.Date(2026, 3, 14, 11, 10, 0, 0, time.UTC)
	svc := newTestService(store, now)

	order, err := svc.Complete(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, order.PrepSeconds)
	assert.Equal(t, int64(600), *order.PrepSeconds)
}

func TestCompleteTwiceIsStable(t *testing.T) {
	store := newMemStore(newOrder(entity.StatusPreparing))
	now := time.Date(2026, 3, 14, 11, 10, 0, 0, time.UTC)
	svc := newTestService(store, now)

	first, err := svc.Complete(context.Background(), 7)
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(time.Hour) }
	second, err := svc.Complete(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, *first.CompletedAt, *second.CompletedAt)
	assert.Equal(t, *first.PrepSeconds, *second.PrepSeconds)
}

func TestCancelStampsCompletedAt(t *testing.T) {
	store := newMemStore(newOrder(entity.StatusPreparing))
	now := time.Date(2026, 3, 14, 11, 10, 0, 0, time.UTC)
	svc := newTestService(store, now)

	order, err := svc.Cancel(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, order.Status)
	require.NotNil(t, order.CompletedAt)
	assert.Equal(t, now, *order.CompletedAt)
	assert.Nil(t, order.PrepSeconds)
}

func TestTerminalOrdersOnlyRestore(t *testing.T) {
	for _, status := range []entity.OrderStatus{entity.StatusCompleted, entity.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			store := newMemStore(newOrder(status))
			svc := newTestService(store, time.Now())

			_, err := svc.StartPreparing(context.Background(), 7)
			require.Error(t, err)
			assert.Equal(t, errorbank.KindUnprocessableEntity, errorbank.From(err).Kind())
		})
	}
}

func TestRestoreToNewClearsAllMilestones(t *testing.T) {
	now := time.Date(2026, 3, 14, 11, 10, 0, 0, time.UTC)
	seed := newOrder(entity.StatusCompleted)
	seed.ViewedAt = &now
	seed.StartedAt = &now
	seed.ReadyAt = &now
	seed.CompletedAt = &now
	prep := int64(120)
	seed.PrepSeconds = &prep
	store := newMemStore(seed)

	svc := newTestService(store, now.Add(time.Minute))
	order, err := svc.RestoreToNew(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusNew, order.Status)
	assert.Nil(t, order.ViewedAt)
	assert.Nil(t, order.StartedAt)
	assert.Nil(t, order.ReadyAt)
	assert.Nil(t, order.CompletedAt)
	assert.Nil(t, order.PrepSeconds)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	store := newMemStore(newOrder(entity.StatusNew))
	svc := newTestService(store, time.Now())

	_, err := svc.UpdateStatus(context.Background(), 7, "burnt")
	require.Error(t, err)
	assert.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	svc := newTestService(newMemStore(), time.Now())

	_, err := svc.MarkAsViewed(context.Background(), 404)
	require.Error(t, err)
	assert.Equal(t, errorbank.KindNotFound, errorbank.From(err).Kind())
}

func TestReapplyingCurrentStatusIsNoOp(t *testing.T) {
	viewed := time.Date(2026, 3, 14, 11, 1, 0, 0, time.UTC)
	seed := newOrder(entity.StatusViewed)
	seed.ViewedAt = &viewed
	store := newMemStore(seed)

	svc := newTestService(store, viewed.Add(time.Hour))
	order, err := svc.MarkAsViewed(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, viewed, *order.ViewedAt)
}
