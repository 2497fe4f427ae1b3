package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/entity"
	"github.com/Additional-Code/kds/internal/messaging"
	repo "github.com/Additional-Code/kds/internal/repository/order"
	"github.com/Additional-Code/kds/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/kds/service/order")

// Store is the slice of the order store the state machine needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	Update(ctx context.Context, order *entity.Order) error
}

// Service drives kitchen orders through the preparation lifecycle. Every
// operation is idempotent: re-applying the current status never changes an
// already-set milestone timestamp.
type Service struct {
	store     Store
	logger    *zap.Logger
	publisher messaging.Client

	publishEnabled bool

	now func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store     *repo.Repository
	Config    config.Config
	Logger    *zap.Logger
	Publisher messaging.Client
}

// NewService wires a new Service instance from the Fx graph.
func NewService(p Params) *Service {
	return New(p.Store, p.Config, p.Logger, p.Publisher)
}

// New constructs a Service from its direct collaborators.
func New(store Store, cfg config.Config, logger *zap.Logger, publisher messaging.Client) *Service {
	return &Service{
		store:          store,
		logger:         logger,
		publisher:      publisher,
		publishEnabled: cfg.Messaging.Enabled,
		now:            time.Now,
	}
}

// Get loads one order with its items.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found")
		}
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

// MarkAsViewed records that the kitchen has seen the order.
func (s *Service) MarkAsViewed(ctx context.Context, id int64) (*entity.Order, error) {
	return s.UpdateStatus(ctx, id, entity.StatusViewed)
}

// StartPreparing records the start of preparation.
func (s *Service) StartPreparing(ctx context.Context, id int64) (*entity.Order, error) {
	return s.UpdateStatus(ctx, id, entity.StatusPreparing)
}

// MarkAsReady records that the order is ready for pickup.
func (s *Service) MarkAsReady(ctx context.Context, id int64) (*entity.Order, error) {
	return s.UpdateStatus(ctx, id, entity.StatusReady)
}

// Complete closes the order and derives its preparation duration.
func (s *Service) Complete(ctx context.Context, id int64) (*entity.Order, error) {
	return s.UpdateStatus(ctx, id, entity.StatusCompleted)
}

// Cancel abandons a non-terminal order.
func (s *Service) Cancel(ctx context.Context, id int64) (*entity.Order, error) {
	return s.UpdateStatus(ctx, id, entity.StatusCancelled)
}

// RestoreToNew is the administrative un-complete: the order returns to the
// head of the lifecycle and all milestone timestamps are cleared.
func (s *Service) RestoreToNew(ctx context.Context, id int64) (*entity.Order, error) {
	return s.UpdateStatus(ctx, id, entity.StatusNew)
}

// UpdateStatus applies one named transition. Forward jumps are allowed (an
// order may go straight from new to ready); leaving a terminal state is only
// possible through the restore-to-new transition.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status entity.OrderStatus) (*entity.Order, error) {
	if !status.Valid() {
		return nil, errorbank.BadRequest(fmt.Sprintf("unknown status %q", status))
	}

	ctx, span := serviceTracer.Start(ctx, "OrderService.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.target_status", string(status)),
	))
	defer span.End()

	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := s.apply(order, status)
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	if err := s.store.Update(ctx, order); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return nil, errorbank.Internal("failed to update order", errorbank.WithCause(err))
	}

	s.publishStatusChanged(ctx, order)
	return order, nil
}

// apply mutates order in memory per the state machine rules and reports
// whether anything changed.
func (s *Service) apply(order *entity.Order, target entity.OrderStatus) (bool, error) {
	if order.Status == target {
		// Idempotent re-application; timestamps stay as first set.
		return false, nil
	}

	if order.Status.Terminal() && target != entity.StatusNew {
		return false, errorbank.Unprocessable(
			fmt.Sprintf("order is %s; only restore to new is allowed", order.Status),
		)
	}

	now := s.now().UTC()

	switch target {
	case entity.StatusNew:
		order.ViewedAt = nil
		order.StartedAt = nil
		order.ReadyAt = nil
		order.CompletedAt = nil
		order.PrepSeconds = nil
	case entity.StatusViewed:
		setOnce(&order.ViewedAt, now)
	case entity.StatusPreparing:
		setOnce(&order.ViewedAt, now)
		setOnce(&order.StartedAt, now)
	case entity.StatusReady:
		setOnce(&order.ViewedAt, now)
		setOnce(&order.StartedAt, now)
		setOnce(&order.ReadyAt, now)
	case entity.StatusCompleted:
		if order.PrepSeconds == nil {
			order.PrepSeconds = prepSeconds(order, now)
		}
		setOnce(&order.ViewedAt, now)
		setOnce(&order.StartedAt, now)
		setOnce(&order.ReadyAt, now)
		setOnce(&order.CompletedAt, now)
	case entity.StatusCancelled:
		// Cancellation timestamps completed_at so retention can age it out.
		setOnce(&order.CompletedAt, now)
	}

	order.Status = target
	return true, nil
}

// setOnce fills a milestone timestamp only when it is not already set, so a
// later state always implies the earlier ones without rewriting history.
func setOnce(field **time.Time, now time.Time) {
	if *field == nil {
		t := now
		*field = &t
	}
}

// prepSeconds derives the preparation duration at completion time:
// completion minus start when preparation was explicitly started, otherwise
// completion minus the original order time.
func prepSeconds(order *entity.Order, completed time.Time) *int64 {
	start := order.OrderTime
	if order.StartedAt != nil {
		start = *order.StartedAt
	}
	secs := int64(completed.Sub(start) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return &secs
}

func (s *Service) publishStatusChanged(ctx context.Context, order *entity.Order) {
	if !s.publishEnabled || s.publisher == nil {
		return
	}
	event := OrderStatusChangedEvent{
		Type:         EventStatusChanged,
		ID:           order.ID,
		TicketNumber: order.TicketNumber,
		Status:       string(order.Status),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal status changed", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, []byte(fmt.Sprintf("order-%d", order.ID)), payload); err != nil {
		s.logger.Error("publish status changed", zap.Error(err))
	}
}

// EventStatusChanged tags status-change messages on the bus.
const EventStatusChanged = "order_status_changed"

// OrderStatusChangedEvent is emitted after a successful transition.
type OrderStatusChangedEvent struct {
	Type         string `json:"type"`
	ID           int64  `json:"id"`
	TicketNumber int    `json:"ticket_number"`
	Status       string `json:"status"`
}
