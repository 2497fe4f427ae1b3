package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/entity"
	"github.com/Additional-Code/kds/internal/messaging"
	"github.com/Additional-Code/kds/internal/pos"
	repo "github.com/Additional-Code/kds/internal/repository/order"
)

var scanTracer = otel.Tracer("github.com/Additional-Code/kds/service/scanner")

// Ledger is the slice of the POS client the scanner needs.
type Ledger interface {
	RecentTickets(ctx context.Context, since time.Time, category string, limit int) ([]pos.Ticket, error)
	Lines(ctx context.Context, ticketID string) ([]pos.TicketLine, error)
}

// Store is the slice of the order store the scanner needs.
type Store interface {
	LatestOrderTime(ctx context.Context) (time.Time, error)
	ExistsByTicket(ctx context.Context, ticketID string) (bool, error)
	CreateWithItems(ctx context.Context, order *entity.Order, items []*entity.OrderItem) error
}

// Service converts unseen POS tickets into kitchen orders. Scan is
// idempotent: the unique source_ticket_id index makes re-processing a
// ticket a silent no-op, so concurrent or repeated invocations are safe.
type Service struct {
	ledger    Ledger
	store     Store
	logger    *zap.Logger
	publisher messaging.Client

	category string
	batch    int
	lookback time.Duration

	publishEnabled bool

	// now is swappable for tests.
	now func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Ledger    *pos.Ledger
	Store     *repo.Repository
	Config    config.Config
	Logger    *zap.Logger
	Publisher messaging.Client
}

// NewService wires a new Service instance from the Fx graph.
func NewService(p Params) *Service {
	return New(p.Ledger, p.Store, p.Config, p.Logger, p.Publisher)
}

// New constructs a Service from its direct collaborators.
func New(ledger Ledger, store Store, cfg config.Config, logger *zap.Logger, publisher messaging.Client) *Service {
	return &Service{
		ledger:         ledger,
		store:          store,
		logger:         logger,
		publisher:      publisher,
		category:       cfg.POS.PrepCategory,
		batch:          cfg.POS.ScanBatch,
		lookback:       cfg.POS.Lookback,
		publishEnabled: cfg.Messaging.Enabled,
		now:            time.Now,
	}
}

// Scan ingests one bounded batch of unseen tickets and returns the number
// of orders actually created. A ledger failure aborts the scan; a failure
// materializing a single ticket is logged and skipped so one bad ticket
// never blocks the batch.
func (s *Service) Scan(ctx context.Context) (int, error) {
	ctx, span := scanTracer.Start(ctx, "Scanner.Scan")
	defer span.End()

	since, err := s.lowWaterMark(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "low-water mark failed")
		return 0, fmt.Errorf("resolve low-water mark: %w", err)
	}

	tickets, err := s.ledger.RecentTickets(ctx, since, s.category, s.batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger unreachable")
		return 0, fmt.Errorf("query sales ledger: %w", err)
	}

	created := 0
	for _, ticket := range tickets {
		order, err := s.ingest(ctx, ticket)
		if err != nil {
			s.logger.Warn("skipping ticket",
				zap.String("ticket_id", ticket.ID),
				zap.Int("ticket_number", ticket.Number),
				zap.Error(err),
			)
			continue
		}
		if order == nil {
			continue // already ingested
		}
		created++
		s.publishCreated(ctx, order)
	}

	span.SetAttributes(
		attribute.Int("scan.candidates", len(tickets)),
		attribute.Int("scan.created", created),
	)
	if created > 0 {
		s.logger.Info("ingested new orders", zap.Int("created", created))
	}
	return created, nil
}

// lowWaterMark is the newest order_time already ingested, clamped so a
// stopped system never backfills more than the configured lookback.
func (s *Service) lowWaterMark(ctx context.Context) (time.Time, error) {
	floor := s.now().Add(-s.lookback)
	latest, err := s.store.LatestOrderTime(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if latest.Before(floor) {
		return floor, nil
	}
	return latest, nil
}

// ingest materializes one ticket. Returns (nil, nil) when the ticket was
// already ingested.
func (s *Service) ingest(ctx context.Context, ticket pos.Ticket) (*entity.Order, error) {
	exists, err := s.store.ExistsByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	lines, err := s.ledger.Lines(ctx, ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch ticket lines: %w", err)
	}

	items := make([]*entity.OrderItem, 0, len(lines))
	for _, line := range lines {
		if line.Category != s.category {
			continue
		}
		item := &entity.OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			DisplayName: line.DisplayName,
			Quantity:    line.Quantity,
		}
		if len(line.Modifiers) > 0 {
			if payload, err := json.Marshal(line.Modifiers); err == nil {
				item.Modifiers = payload
			}
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, errors.New("no preparation items on ticket")
	}

	now := s.now().UTC()
	order := &entity.Order{
		SourceTicketID: ticket.ID,
		TicketNumber:   ticket.Number,
		Operator:       ticket.Operator,
		Status:         entity.StatusNew,
		OrderTime:      ticket.RecordedAt,
		CustomerInfo:   customerInfo(ticket),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateWithItems(ctx, order, items); err != nil {
		if errors.Is(err, repo.ErrDuplicateTicket) {
			// Lost a create race to a concurrent scan; the ticket is ingested.
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

// customerInfo renders the ticket's customer as stored order metadata; nil
// for anonymous walk-in sales.
func customerInfo(ticket pos.Ticket) json.RawMessage {
	if ticket.CustomerName == "" && ticket.CustomerSearchKey == "" {
		return nil
	}
	payload, err := json.Marshal(struct {
		Name      string `json:"name"`
		SearchKey string `json:"searchkey"`
	}{ticket.CustomerName, ticket.CustomerSearchKey})
	if err != nil {
		return nil
	}
	return payload
}

func (s *Service) publishCreated(ctx context.Context, order *entity.Order) {
	if !s.publishEnabled || s.publisher == nil {
		return
	}
	event := OrderCreatedEvent{
		Type:         EventOrderCreated,
		ID:           order.ID,
		TicketNumber: order.TicketNumber,
		OrderTime:    order.OrderTime,
		Items:        len(order.Items),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order created", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, []byte(fmt.Sprintf("order-%d", order.ID)), payload); err != nil {
		s.logger.Error("publish order created", zap.Error(err))
	}
}

// EventOrderCreated tags order-created messages on the bus.
const EventOrderCreated = "order_created"

// OrderCreatedEvent is emitted when the scanner materializes a new order.
type OrderCreatedEvent struct {
	Type         string    `json:"type"`
	ID           int64     `json:"id"`
	TicketNumber int       `json:"ticket_number"`
	OrderTime    time.Time `json:"order_time"`
	Items        int       `json:"items"`
}
