package status

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/dto"
	"github.com/Additional-Code/kds/internal/pos"
	repo "github.com/Additional-Code/kds/internal/repository/order"
)

// Pinger reports POS connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the slice of the order store the status service needs.
type Store interface {
	CountActive(ctx context.Context) (int, error)
	LatestCreatedAt(ctx context.Context) (time.Time, error)
}

// Service answers the connectivity/system-status probe shown on the display
// header.
type Service struct {
	pinger Pinger
	store  Store
	logger *zap.Logger

	now func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Ledger *pos.Ledger
	Store  *repo.Repository
	Logger *zap.Logger
}

// NewService wires a new Service instance from the Fx graph.
func NewService(p Params) *Service {
	return New(p.Ledger, p.Store, p.Logger)
}

// New constructs a Service from its direct collaborators.
func New(pinger Pinger, store Store, logger *zap.Logger) *Service {
	return &Service{
		pinger: pinger,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Module provides the status service to Fx.
var Module = fx.Provide(NewService)

// Current probes POS connectivity and summarizes queue state. Failures on
// the local store degrade to zeros rather than erroring; this endpoint must
// always answer.
func (s *Service) Current(ctx context.Context) dto.SystemStatus {
	st := dto.SystemStatus{LastOrder: "never"}

	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.Warn("pos connectivity check failed", zap.Error(err))
	} else {
		st.POSConnected = true
	}

	if count, err := s.store.CountActive(ctx); err == nil {
		st.ActiveOrders = count
	} else {
		s.logger.Warn("active order count failed", zap.Error(err))
	}

	if latest, err := s.store.LatestCreatedAt(ctx); err == nil && !latest.IsZero() {
		st.LastOrder = humanize(s.now().Sub(latest))
	} else if err != nil {
		s.logger.Warn("last order lookup failed", zap.Error(err))
	}

	return st
}

// humanize renders an age the way the display header shows it.
func humanize(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}
