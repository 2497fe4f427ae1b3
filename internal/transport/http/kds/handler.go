package kds

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/dto"
	"github.com/Additional-Code/kds/internal/entity"
	"github.com/Additional-Code/kds/internal/presentation/http/response"
	ordersvc "github.com/Additional-Code/kds/internal/service/order"
	"github.com/Additional-Code/kds/internal/service/scanner"
	"github.com/Additional-Code/kds/internal/service/snapshot"
	statussvc "github.com/Additional-Code/kds/internal/service/status"
	"github.com/Additional-Code/kds/internal/service/sweeper"
	"github.com/Additional-Code/kds/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/kds/transport/http/kds")

// Handler exposes the kitchen-display endpoints over HTTP.
type Handler struct {
	snapshots *snapshot.Builder
	orders    *ordersvc.Service
	scanner   *scanner.Service
	sweeper   *sweeper.Service
	status    *statussvc.Service
	logger    *zap.Logger

	pushInterval time.Duration
}

// Params defines dependencies for constructing Handler.
type Params struct {
	fx.In

	Snapshots *snapshot.Builder
	Orders    *ordersvc.Service
	Scanner   *scanner.Service
	Sweeper   *sweeper.Service
	Status    *statussvc.Service
	Config    config.Config
	Logger    *zap.Logger
}

// NewHandler constructs the KDS Handler.
func NewHandler(p Params) *Handler {
	return &Handler{
		snapshots:    p.Snapshots,
		orders:       p.Orders,
		scanner:      p.Scanner,
		sweeper:      p.Sweeper,
		status:       p.Status,
		logger:       p.Logger,
		pushInterval: p.Config.Stream.SnapshotInterval,
	}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/kds")
	g.GET("/orders", h.getSnapshot)
	g.GET("/stream", h.stream)
	g.POST("/orders/:id/status", h.updateStatus)
	g.POST("/scan", h.triggerScan)
	g.POST("/clear-completed", h.clearCompleted)
	g.POST("/clear-all", h.clearAll)
	g.GET("/status", h.systemStatus)
}

func (h *Handler) getSnapshot(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "kds.getSnapshot")
	defer span.End()

	snap, err := h.snapshots.Build(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(snap).Build()
}

// stream pushes the snapshot as server-sent events until the client goes
// away. A failed write or a cancelled request context both mean the display
// disconnected; either way the loop exits quietly.
func (h *Handler) stream(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	for {
		if err := h.push(c); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (h *Handler) push(c echo.Context) error {
	snap, err := h.snapshots.Build(c.Request().Context())
	if err != nil {
		// No data and no cached fallback; keep the stream open and retry
		// on the next tick.
		h.logger.Warn("snapshot unavailable for stream", zap.Error(err))
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("marshal snapshot", zap.Error(err))
		return nil
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", payload); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

func (h *Handler) updateStatus(c echo.Context) error {
	b := response.New(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid order id", errorbank.WithCause(err))).Build()
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.Status == "" {
		return b.WithError(errorbank.BadRequest("status is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "kds.updateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", payload.Status),
	))
	defer span.End()

	order, err := h.orders.UpdateStatus(ctx, id, entity.OrderStatus(payload.Status))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(snapshot.Summary(order, time.Now())).Build()
}

func (h *Handler) triggerScan(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "kds.triggerScan")
	defer span.End()

	created, err := h.scanner.Scan(ctx)
	if err != nil {
		return b.WithError(errorbank.Unavailable("sales ledger unavailable", errorbank.WithCause(err))).Build()
	}
	return b.WithData(dto.ScanResult{Triggered: true, Created: created}).Build()
}

func (h *Handler) clearCompleted(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "kds.clearCompleted")
	defer span.End()

	removed, err := h.sweeper.ClearCompleted(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.ClearCompletedResult{Removed: removed}).Build()
}

func (h *Handler) clearAll(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "kds.clearAll")
	defer span.End()

	transitioned, err := h.sweeper.ClearAll(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.ClearAllResult{Transitioned: transitioned}).Build()
}

func (h *Handler) systemStatus(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "kds.systemStatus")
	defer span.End()

	return b.WithData(h.status.Current(ctx)).Build()
}
