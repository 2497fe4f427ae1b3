package scanner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
)

// Runner invokes Scan on a fixed cadence, independently of any connected
// display client. Stream handlers only read snapshots; ingestion happens
// here.
type Runner struct {
	svc      *Service
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRunner constructs the periodic scan runner.
func NewRunner(svc *Service, cfg config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		svc:      svc,
		logger:   logger,
		interval: cfg.Stream.ScanInterval,
	}
}

// RunnerModule wires the runner into the Fx lifecycle.
var RunnerModule = fx.Options(
	fx.Provide(NewRunner),
	fx.Invoke(func(lc fx.Lifecycle, r *Runner) {
		lc.Append(fx.Hook{
			OnStart: r.start,
			OnStop:  r.stop,
		})
	}),
)

func (r *Runner) start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(runCtx)
	}()

	r.logger.Info("scan runner started", zap.Duration("interval", r.interval))
	return nil
}

func (r *Runner) stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		r.logger.Info("scan runner stopped")
		return nil
	}
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.svc.Scan(ctx); err != nil && ctx.Err() == nil {
			// Ledger outages are expected; the queue simply goes stale
			// until connectivity returns.
			r.logger.Warn("scan failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
