package order

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/kds/internal/database"
	"github.com/Additional-Code/kds/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/kds/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// ErrDuplicateTicket is returned when an order for the same source ticket
// already exists. The unique index on source_ticket_id is the authority;
// callers treat this as "already ingested", not as a failure.
var ErrDuplicateTicket = errors.New("ticket already ingested")

// Repository encapsulates read/write access for kitchen orders.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// CreateWithItems persists a new order and its items in one transaction, so
// a failed item insert never leaves an order without lines. A unique
// violation on source_ticket_id maps to ErrDuplicateTicket.
func (r *Repository) CreateWithItems(ctx context.Context, order *entity.Order, items []*entity.OrderItem) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CreateWithItems", trace.WithAttributes(
		attribute.String("order.source_ticket_id", order.SourceTicketID),
		attribute.Int("order.items", len(items)),
	))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		for _, item := range items {
			item.OrderID = order.ID
		}
		if len(items) > 0 {
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTicket
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	order.Items = items
	return nil
}

// ExistsByTicket reports whether an order was already created for the ticket.
func (r *Repository) ExistsByTicket(ctx context.Context, ticketID string) (bool, error) {
	return r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		Where("source_ticket_id = ?", ticketID).
		Exists(ctx)
}

// GetByID fetches an order with its items.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).
		Relation("Items").
		Where("o.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// Update persists status and milestone fields of an existing order.
func (r *Repository) Update(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Update", trace.WithAttributes(attribute.Int64("order.id", order.ID)))
	defer span.End()

	order.UpdatedAt = time.Now().UTC()
	res, err := r.writer.NewUpdate().Model(order).
		Column("status", "viewed_at", "started_at", "ready_at", "completed_at", "prep_seconds", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestOrderTime returns the maximum order_time across all orders, or zero
// when none exist.
func (r *Repository) LatestOrderTime(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	err := r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		ColumnExpr("MAX(order_time)").
		Scan(ctx, &latest)
	if err != nil {
		return time.Time{}, err
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

// ListActive returns non-terminal orders recorded at or after since, with
// items, oldest first.
func (r *Repository) ListActive(ctx context.Context, since time.Time) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListActive")
	defer span.End()

	var orders []*entity.Order
	err := r.reader.NewSelect().Model(&orders).
		Relation("Items").
		Where("o.status NOT IN (?)", bun.In([]entity.OrderStatus{entity.StatusCompleted, entity.StatusCancelled})).
		Where("o.order_time >= ?", since).
		Order("o.order_time ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return orders, nil
}

// ListCompletedSince returns completed orders whose completed_at is at or
// after since, newest completion first, capped at limit.
func (r *Repository) ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListCompletedSince")
	defer span.End()

	var orders []*entity.Order
	err := r.reader.NewSelect().Model(&orders).
		Relation("Items").
		Where("o.status = ?", entity.StatusCompleted).
		Where("o.completed_at >= ?", since).
		Order("o.completed_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return orders, nil
}

// CountActive counts orders still in the preparation pipeline.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	return r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		Where("status NOT IN (?)", bun.In([]entity.OrderStatus{entity.StatusCompleted, entity.StatusCancelled})).
		Count(ctx)
}

// LatestCreatedAt returns the most recent ingestion time, or zero when the
// store is empty.
func (r *Repository) LatestCreatedAt(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	err := r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		ColumnExpr("MAX(created_at)").
		Scan(ctx, &latest)
	if err != nil {
		return time.Time{}, err
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

// DeleteTerminalBefore removes completed and cancelled orders last touched
// before cutoff. Items go with their order via the cascade constraint.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.DeleteTerminalBefore")
	defer span.End()

	res, err := r.writer.NewDelete().
		Model((*entity.Order)(nil)).
		Where("status IN (?)", bun.In([]entity.OrderStatus{entity.StatusCompleted, entity.StatusCancelled})).
		Where("COALESCE(completed_at, updated_at) < ?", cutoff).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return 0, err
	}
	return res.RowsAffected()
}

// CompleteActive bulk-transitions every non-terminal order to completed,
// filling any still-unset milestone timestamps so a completed order always
// implies the earlier states.
func (r *Repository) CompleteActive(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CompleteActive")
	defer span.End()

	res, err := r.writer.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("status = ?", entity.StatusCompleted).
		Set("viewed_at = COALESCE(viewed_at, ?)", now).
		Set("started_at = COALESCE(started_at, ?)", now).
		Set("ready_at = COALESCE(ready_at, ?)", now).
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("status NOT IN (?)", bun.In([]entity.OrderStatus{entity.StatusCompleted, entity.StatusCancelled})).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return 0, err
	}
	return res.RowsAffected()
}

// isUniqueViolation matches duplicate-key errors across the supported
// drivers (mysql 1062, postgres 23505, sqlite constraint text).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Error 1062") ||
		strings.Contains(msg, "SQLSTATE=23505") ||
		strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
