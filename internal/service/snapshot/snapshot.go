package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/cache"
	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/dto"
	"github.com/Additional-Code/kds/internal/entity"
	repo "github.com/Additional-Code/kds/internal/repository/order"
	"github.com/Additional-Code/kds/pkg/errorbank"
)

var snapTracer = otel.Tracer("github.com/Additional-Code/kds/service/snapshot")

const cacheKey = "kds:snapshot"

// Store is the slice of the order store the snapshot builder needs.
type Store interface {
	ListActive(ctx context.Context, since time.Time) ([]*entity.Order, error)
	ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*entity.Order, error)
}

// Builder projects the order store into the two display read views. The
// last successfully built snapshot is kept in the cache and served when the
// store is unreachable, so the display degrades to stale data instead of
// going blank.
type Builder struct {
	store  Store
	cache  cache.Store
	logger *zap.Logger

	cacheTTL     time.Duration
	recentWindow time.Duration
	recentLimit  int

	now func() time.Time
}

// Params defines dependencies for constructing Builder.
type Params struct {
	fx.In

	Store  *repo.Repository
	Cache  cache.Store
	Config config.Config
	Logger *zap.Logger
}

// NewBuilder wires a new Builder instance from the Fx graph.
func NewBuilder(p Params) *Builder {
	return New(p.Store, p.Cache, p.Config, p.Logger)
}

// New constructs a Builder from its direct collaborators.
func New(store Store, cacheStore cache.Store, cfg config.Config, logger *zap.Logger) *Builder {
	return &Builder{
		store:        store,
		cache:        cacheStore,
		logger:       logger,
		cacheTTL:     cfg.Cache.SnapshotTTL,
		recentWindow: cfg.Retention.RecentWindow,
		recentLimit:  cfg.Retention.RecentLimit,
		now:          time.Now,
	}
}

// Module provides the snapshot builder to Fx.
var Module = fx.Provide(NewBuilder)

// Active returns today's non-terminal orders, oldest first.
func (b *Builder) Active(ctx context.Context) ([]dto.OrderView, error) {
	now := b.now()
	orders, err := b.store.ListActive(ctx, startOfDay(now))
	if err != nil {
		return nil, err
	}
	return toViews(orders, now), nil
}

// RecentlyCompleted returns orders completed within the recent window,
// newest completion first, capped at the configured limit.
func (b *Builder) RecentlyCompleted(ctx context.Context) ([]dto.OrderView, error) {
	now := b.now()
	orders, err := b.store.ListCompletedSince(ctx, now.Add(-b.recentWindow), b.recentLimit)
	if err != nil {
		return nil, err
	}
	return toViews(orders, now), nil
}

// Build assembles the full snapshot, refreshing the cached copy on success
// and falling back to it when the store read fails.
func (b *Builder) Build(ctx context.Context) (dto.Snapshot, error) {
	ctx, span := snapTracer.Start(ctx, "SnapshotBuilder.Build")
	defer span.End()

	active, err := b.Active(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store read failed")
		return b.stale(ctx, err)
	}
	completed, err := b.RecentlyCompleted(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store read failed")
		return b.stale(ctx, err)
	}

	snap := dto.Snapshot{Active: active, Completed: completed}
	span.SetAttributes(
		attribute.Int("snapshot.active", len(snap.Active)),
		attribute.Int("snapshot.completed", len(snap.Completed)),
	)

	if payload, err := json.Marshal(snap); err == nil {
		if err := b.cache.Set(ctx, cacheKey, payload, b.cacheTTL); err != nil {
			b.logger.Warn("snapshot cache write failed", zap.Error(err))
		}
	}
	return snap, nil
}

// stale serves the cached snapshot after a store failure; only when no
// cached copy exists does the failure surface to the caller.
func (b *Builder) stale(ctx context.Context, cause error) (dto.Snapshot, error) {
	b.logger.Warn("snapshot build failed; trying cached copy", zap.Error(cause))

	payload, cacheErr := b.cache.Get(ctx, cacheKey)
	if cacheErr == nil {
		var snap dto.Snapshot
		if err := json.Unmarshal(payload, &snap); err == nil {
			return snap, nil
		}
	}
	return dto.Snapshot{}, errorbank.Unavailable("order store unavailable", errorbank.WithCause(cause))
}

// Summary renders the short acknowledgement returned by status updates.
func Summary(order *entity.Order, now time.Time) dto.OrderSummary {
	return dto.OrderSummary{
		ID:          order.ID,
		Status:      string(order.Status),
		WaitingTime: formatClock(order.WaitingTime(now)),
	}
}

func toViews(orders []*entity.Order, now time.Time) []dto.OrderView {
	views := make([]dto.OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, toView(order, now))
	}
	return views
}

func toView(order *entity.Order, now time.Time) dto.OrderView {
	items := make([]dto.OrderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, dto.OrderItemView{
			ID:          item.ID,
			ProductName: item.Display(),
			Quantity:    formatQuantity(item.Quantity),
			Modifiers:   item.Modifiers,
			Notes:       item.Notes,
		})
	}
	return dto.OrderView{
		ID:           order.ID,
		TicketNumber: order.TicketNumber,
		Status:       string(order.Status),
		OrderTime:    order.OrderTime.Format("15:04:05"),
		WaitingTime:  formatClock(order.WaitingTime(now)),
		Items:        items,
		CustomerInfo: order.CustomerInfo,
	}
}

// formatClock renders a duration as m:ss for the display header.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// formatQuantity drops the decimals for whole quantities and keeps three
// places otherwise (half portions, weighed items).
func formatQuantity(q float64) string {
	if q == math.Trunc(q) {
		return strconv.FormatInt(int64(q), 10)
	}
	return strconv.FormatFloat(q, 'f', 3, 64)
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
