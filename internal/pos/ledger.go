// Package pos reads the external point-of-sale ledger. Rows never leave this
// package in their raw shape; callers only see the Ticket and TicketLine
// structs below.
package pos

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/database"
)

var posTracer = otel.Tracer("github.com/Additional-Code/kds/pos")

// Normal completed sales carry ticket type 0; voids and refunds use other
// type codes and are never ingested.
const ticketTypeSale = 0

// Ticket is one completed sale as recorded by the POS. Customer fields are
// empty for anonymous walk-in sales.
type Ticket struct {
	ID                string
	Number            int
	Operator          string
	RecordedAt        time.Time
	CustomerName      string
	CustomerSearchKey string
}

// TicketLine is one sold line with its product metadata attached. Modifiers
// (size, milk type, extras) come decoded from the line's attribute blob.
type TicketLine struct {
	ProductID   string
	ProductName string
	DisplayName string
	Category    string
	Quantity    float64
	Modifiers   map[string]string
}

// Ledger queries the POS database read-only.
type Ledger struct {
	db           *bun.DB
	queryTimeout time.Duration
	logger       *zap.Logger
}

// Module provides the Ledger to the Fx graph.
var Module = fx.Provide(New)

// New opens the POS connection and ties it to the Fx lifecycle. Startup does
// not require the POS to be reachable; connectivity is reported through
// Ping so an offline POS degrades to an empty scan instead of a crash.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Ledger, error) {
	db, err := database.Open(cfg.POS.Driver, cfg.POS.DSN)
	if err != nil {
		return nil, fmt.Errorf("open pos ledger: %w", err)
	}
	db.DB.SetMaxOpenConns(4)

	ledger := &Ledger{
		db:           db,
		queryTimeout: cfg.POS.QueryTimeout,
		logger:       logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := database.Ping(ctx, db); err != nil {
				logger.Warn("pos ledger unreachable at startup", zap.Error(err))
			} else {
				logger.Info("pos ledger connected", zap.String("driver", cfg.POS.Driver))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})

	return ledger, nil
}

// RecentTickets returns up to limit normal-sale tickets recorded after since
// that contain at least one line in the given category.
func (l *Ledger) RecentTickets(ctx context.Context, since time.Time, category string, limit int) ([]Ticket, error) {
	ctx, span := posTracer.Start(ctx, "Ledger.RecentTickets", trace.WithAttributes(
		attribute.String("pos.category", category),
		attribute.Int("pos.limit", limit),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, l.queryTimeout)
	defer cancel()

	var rows []struct {
		ID                string    `bun:"id"`
		Number            int       `bun:"number"`
		Operator          string    `bun:"operator"`
		RecordedAt        time.Time `bun:"recorded_at"`
		CustomerName      string    `bun:"customer_name"`
		CustomerSearchKey string    `bun:"customer_searchkey"`
	}

	err := l.db.NewRaw(`
		SELECT DISTINCT t.ID AS id, t.TICKETID AS number, t.PERSON AS operator, r.DATENEW AS recorded_at,
		       COALESCE(c.NAME, '') AS customer_name, COALESCE(c.SEARCHKEY, '') AS customer_searchkey
		FROM TICKETS t
		JOIN RECEIPTS r ON t.ID = r.ID
		JOIN TICKETLINES tl ON t.ID = tl.TICKET
		JOIN PRODUCTS p ON tl.PRODUCT = p.ID
		LEFT JOIN CUSTOMERS c ON t.CUSTOMER = c.ID
		WHERE r.DATENEW > ? AND t.TICKETTYPE = ? AND p.CATEGORY = ?
		ORDER BY recorded_at
		LIMIT ?`,
		since, ticketTypeSale, category, limit,
	).Scan(ctx, &rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ticket query failed")
		return nil, fmt.Errorf("query recent tickets: %w", err)
	}

	tickets := make([]Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, Ticket{
			ID:                row.ID,
			Number:            row.Number,
			Operator:          row.Operator,
			RecordedAt:        row.RecordedAt,
			CustomerName:      row.CustomerName,
			CustomerSearchKey: row.CustomerSearchKey,
		})
	}
	return tickets, nil
}

// Lines returns every line of a ticket with product name, display name and
// category resolved. Category filtering is left to the caller.
func (l *Ledger) Lines(ctx context.Context, ticketID string) ([]TicketLine, error) {
	ctx, span := posTracer.Start(ctx, "Ledger.Lines", trace.WithAttributes(
		attribute.String("pos.ticket_id", ticketID),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, l.queryTimeout)
	defer cancel()

	var rows []struct {
		ProductID   string  `bun:"product_id"`
		ProductName string  `bun:"product_name"`
		DisplayName string  `bun:"display_name"`
		Category    string  `bun:"category"`
		Quantity    float64 `bun:"quantity"`
		Attributes  string  `bun:"attributes"`
	}

	err := l.db.NewRaw(`
		SELECT tl.PRODUCT AS product_id, p.NAME AS product_name,
		       COALESCE(p.DISPLAY, '') AS display_name, p.CATEGORY AS category,
		       tl.UNITS AS quantity, COALESCE(tl.ATTRIBUTES, '') AS attributes
		FROM TICKETLINES tl
		JOIN PRODUCTS p ON tl.PRODUCT = p.ID
		WHERE tl.TICKET = ?
		ORDER BY tl.LINE`,
		ticketID,
	).Scan(ctx, &rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "line query failed")
		return nil, fmt.Errorf("query ticket lines: %w", err)
	}

	lines := make([]TicketLine, 0, len(rows))
	for _, row := range rows {
		modifiers, err := parseModifiers(row.Attributes)
		if err != nil {
			l.logger.Warn("unparseable line attributes",
				zap.String("ticket_id", ticketID),
				zap.String("product_id", row.ProductID),
				zap.Error(err),
			)
		}
		lines = append(lines, TicketLine{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			DisplayName: row.DisplayName,
			Category:    row.Category,
			Quantity:    row.Quantity,
			Modifiers:   modifiers,
		})
	}
	return lines, nil
}

// parseModifiers decodes a ticket line's XML attribute blob into a flat
// name-to-value map (size, milk type, extras). An empty blob means no
// modifiers; a malformed one degrades to none.
func parseModifiers(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var doc struct {
		Children []struct {
			XMLName xml.Name
			Value   string `xml:",chardata"`
		} `xml:",any"`
	}
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	if len(doc.Children) == 0 {
		return nil, nil
	}

	modifiers := make(map[string]string, len(doc.Children))
	for _, child := range doc.Children {
		modifiers[child.XMLName.Local] = child.Value
	}
	return modifiers, nil
}

// Ping checks POS connectivity within the query timeout.
func (l *Ledger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.queryTimeout)
	defer cancel()
	return l.db.DB.PingContext(ctx)
}
