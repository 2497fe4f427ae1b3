package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/entity"
	repo "github.com/Additional-Code/kds/internal/repository/order"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder inserts demo kitchen orders for local display testing, without
// needing a live POS.
type Seeder struct {
	repo   *repo.Repository
	logger *zap.Logger
}

// New constructs a Seeder backed by the order repository.
func New(r *repo.Repository, logger *zap.Logger) *Seeder {
	return &Seeder{repo: r, logger: logger}
}

// Orders seeds a handful of demo orders. Re-running is a no-op thanks to the
// ticket uniqueness constraint.
func (s *Seeder) Orders(ctx context.Context) error {
	now := time.Now().UTC()

	samples := []struct {
		ticket   string
		number   int
		status   entity.OrderStatus
		age      time.Duration
		customer string
		items    []*entity.OrderItem
	}{
		{
			ticket: "demo-ticket-1", number: 101, status: entity.StatusNew, age: 2 * time.Minute,
			customer: `{"name":"Walk-in"}`,
			items: []*entity.OrderItem{
				{ProductID: "p-latte", ProductName: "Latte", Quantity: 2, Modifiers: json.RawMessage(`["oat milk"]`)},
				{ProductID: "p-croissant", ProductName: "Croissant", DisplayName: "Butter Croissant", Quantity: 1},
			},
		},
		{
			ticket: "demo-ticket-2", number: 102, status: entity.StatusPreparing, age: 6 * time.Minute,
			items: []*entity.OrderItem{
				{ProductID: "p-flat", ProductName: "Flat White", Quantity: 1, Notes: "extra hot"},
			},
		},
		{
			ticket: "demo-ticket-3", number: 103, status: entity.StatusReady, age: 11 * time.Minute,
			items: []*entity.OrderItem{
				{ProductID: "p-espresso", ProductName: "Espresso", Quantity: 2},
				{ProductID: "p-mocha", ProductName: "Mocha", Quantity: 0.5},
			},
		},
	}

	seeded := 0
	for _, sample := range samples {
		orderTime := now.Add(-sample.age)
		order := &entity.Order{
			SourceTicketID: sample.ticket,
			TicketNumber:   sample.number,
			Operator:       "demo",
			Status:         entity.StatusNew,
			OrderTime:      orderTime,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if sample.customer != "" {
			order.CustomerInfo = json.RawMessage(sample.customer)
		}
		switch sample.status {
		case entity.StatusPreparing:
			started := orderTime.Add(time.Minute)
			order.Status = entity.StatusPreparing
			order.ViewedAt = &started
			order.StartedAt = &started
		case entity.StatusReady:
			started := orderTime.Add(time.Minute)
			ready := orderTime.Add(5 * time.Minute)
			order.Status = entity.StatusReady
			order.ViewedAt = &started
			order.StartedAt = &started
			order.ReadyAt = &ready
		}

		err := s.repo.CreateWithItems(ctx, order, sample.items)
		if errors.Is(err, repo.ErrDuplicateTicket) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s: %w", sample.ticket, err)
		}
		seeded++
	}

	if s.logger != nil {
		s.logger.Info("seeded demo orders", zap.Int("count", seeded))
	}
	return nil
}
