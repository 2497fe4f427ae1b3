package sweeper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
	repo "github.com/Additional-Code/kds/internal/repository/order"
	"github.com/Additional-Code/kds/pkg/errorbank"
)

var sweepTracer = otel.Tracer("github.com/Additional-Code/kds/service/sweeper")

// Store is the slice of the order store the sweeper needs.
type Store interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CompleteActive(ctx context.Context, now time.Time) (int64, error)
}

// Service ages terminal orders out of the store and flushes stale queues.
// Both operations are single statements, so callers never observe a partial
// sweep.
type Service struct {
	store  Store
	logger *zap.Logger
	ttl    time.Duration

	now func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store  *repo.Repository
	Config config.Config
	Logger *zap.Logger
}

// NewService wires a new Service instance from the Fx graph.
func NewService(p Params) *Service {
	return New(p.Store, p.Config, p.Logger)
}

// New constructs a Service from its direct collaborators.
func New(store Store, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		ttl:    cfg.Retention.CompletedTTL,
		now:    time.Now,
	}
}

// Module provides the retention sweeper to Fx.
var Module = fx.Provide(NewService)

// ClearCompleted permanently deletes completed and cancelled orders past the
// retention age and returns the count removed.
func (s *Service) ClearCompleted(ctx context.Context) (int64, error) {
	ctx, span := sweepTracer.Start(ctx, "Sweeper.ClearCompleted")
	defer span.End()

	cutoff := s.now().Add(-s.ttl)
	removed, err := s.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return 0, errorbank.Internal("failed to clear completed orders", errorbank.WithCause(err))
	}

	span.SetAttributes(attribute.Int64("sweep.removed", removed))
	s.logger.Info("cleared completed orders", zap.Int64("removed", removed))
	return removed, nil
}

// ClearAll bulk-completes every order still in the pipeline without deleting
// anything, and returns the count transitioned. History ages out later via
// ClearCompleted.
func (s *Service) ClearAll(ctx context.Context) (int64, error) {
	ctx, span := sweepTracer.Start(ctx, "Sweeper.ClearAll")
	defer span.End()

	transitioned, err := s.store.CompleteActive(ctx, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return 0, errorbank.Internal("failed to flush queue", errorbank.WithCause(err))
	}

	span.SetAttributes(attribute.Int64("sweep.transitioned", transitioned))
	s.logger.Info("flushed active queue", zap.Int64("transitioned", transitioned))
	return transitioned, nil
}
