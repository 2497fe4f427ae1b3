package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/entity"
	"github.com/Additional-Code/kds/pkg/errorbank"
)

// memStore applies the retention semantics of the real repository to an
// in-memory order set.
type memStore struct {
	orders []*entity.Order
	err    error

	lastCutoff time.Time
}

func (s *memStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.lastCutoff = cutoff
	if s.err != nil {
		return 0, s.err
	}
	var kept []*entity.Order
	var removed int64
	for _, o := range s.orders {
		anchor := o.UpdatedAt
		if o.CompletedAt != nil {
			anchor = *o.CompletedAt
		}
		if o.Status.Terminal() && anchor.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	s.orders = kept
	return removed, nil
}

func (s *memStore) CompleteActive(_ context.Context, now time.Time) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	var transitioned int64
	for _, o := range s.orders {
		if o.Status.Terminal() {
			continue
		}
		o.Status = entity.StatusCompleted
		stamp := now
		if o.ViewedAt == nil {
			o.ViewedAt = &stamp
		}
		if o.StartedAt == nil {
			o.StartedAt = &stamp
		}
		if o.ReadyAt == nil {
			o.ReadyAt = &stamp
		}
		o.CompletedAt = &stamp
		transitioned++
	}
	return transitioned, nil
}

func testConfig(ttl time.Duration) config.Config {
	var cfg config.Config
	cfg.Retention.CompletedTTL = ttl
	return cfg
}

func terminalOrder(status entity.OrderStatus, completedAgo time.Duration, now time.Time) *entity.Order {
	completed := now.Add(-completedAgo)
	return &entity.Order{Status: status, CompletedAt: &completed, UpdatedAt: completed}
}

func TestClearCompletedRemovesOnlyAgedTerminals(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := &memStore{orders: []*entity.Order{
		terminalOrder(entity.StatusCompleted, 2*time.Hour, now),
		terminalOrder(entity.StatusCompleted, 10*time.Minute, now),
		terminalOrder(entity.StatusCancelled, 3*time.Hour, now),
		{Status: entity.StatusPreparing, UpdatedAt: now.Add(-5 * time.Hour)},
	}}

	svc := New(store, testConfig(time.Hour), zap.NewNop())
	svc.now = func() time.Time { return now }

	removed, err := svc.ClearCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, now.Add(-time.Hour), store.lastCutoff)

	// The active order survived even though it is older than the cutoff.
	require.Len(t, store.orders, 2)
	survivors := make([]entity.OrderStatus, 0, len(store.orders))
	for _, o := range store.orders {
		survivors = append(survivors, o.Status)
	}
	assert.Contains(t, survivors, entity.StatusPreparing)
	assert.Contains(t, survivors, entity.StatusCompleted)
}

func TestClearCompletedUsesUpdatedAtWithoutCompletion(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := &memStore{orders: []*entity.Order{
		{Status: entity.StatusCancelled, UpdatedAt: now.Add(-2 * time.Hour)},
	}}

	svc := New(store, testConfig(time.Hour), zap.NewNop())
	svc.now = func() time.Time { return now }

	removed, err := svc.ClearCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestClearAllCompletesActiveOnly(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := &memStore{orders: []*entity.Order{
		{Status: entity.StatusNew},
		{Status: entity.StatusPreparing},
		{Status: entity.StatusReady},
		terminalOrder(entity.StatusCompleted, time.Minute, now),
	}}

	svc := New(store, testConfig(time.Hour), zap.NewNop())
	svc.now = func() time.Time { return now }

	transitioned, err := svc.ClearAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), transitioned)
	for _, o := range store.orders {
		assert.Equal(t, entity.StatusCompleted, o.Status)
		// A completed order always implies the earlier milestones.
		require.NotNil(t, o.ViewedAt)
		require.NotNil(t, o.StartedAt)
		require.NotNil(t, o.ReadyAt)
		require.NotNil(t, o.CompletedAt)
	}
}

func TestSweepErrorsWrapAsInternal(t *testing.T) {
	store := &memStore{err: errors.New("driver: bad connection")}
	svc := New(store, testConfig(time.Hour), zap.NewNop())

	_, err := svc.ClearCompleted(context.Background())
	require.Error(t, err)
	assert.Equal(t, errorbank.KindInternal, errorbank.From(err).Kind())

	_, err = svc.ClearAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, errorbank.KindInternal, errorbank.From(err).Kind())
}
