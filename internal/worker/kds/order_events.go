package kds

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/messaging"
	"github.com/Additional-Code/kds/internal/service/scanner"
	"github.com/Additional-Code/kds/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/kds/worker/kds")

// Module registers the order event worker handler.
var Module = fx.Module("worker_kds",
	fx.Provide(
		fx.Annotate(
			NewOrderEventsHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// eventEnvelope is the common shape of bus messages; Type selects decoding.
type eventEnvelope struct {
	Type         string `json:"type"`
	ID           int64  `json:"id"`
	TicketNumber int    `json:"ticket_number"`
	Status       string `json:"status"`
	Items        int    `json:"items"`
}

// NewOrderEventsHandler consumes kitchen order events from the bus. The
// current sink is the audit log; downstream consumers (expo printers, order
// boards) attach to the same topic.
func NewOrderEventsHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.kds.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event eventEnvelope
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode order event", zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}

		switch event.Type {
		case scanner.EventOrderCreated:
			logger.Info("order ingested",
				zap.Int64("id", event.ID),
				zap.Int("ticket_number", event.TicketNumber),
				zap.Int("items", event.Items),
			)
		default:
			logger.Info("order status changed",
				zap.Int64("id", event.ID),
				zap.Int("ticket_number", event.TicketNumber),
				zap.String("status", event.Status),
			)
		}
		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
