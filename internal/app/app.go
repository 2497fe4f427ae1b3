package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/kds/internal/cache"
	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/database"
	"github.com/Additional-Code/kds/internal/logger"
	"github.com/Additional-Code/kds/internal/messaging"
	"github.com/Additional-Code/kds/internal/observability"
	"github.com/Additional-Code/kds/internal/pos"
	repositoryorder "github.com/Additional-Code/kds/internal/repository/order"
	httpserver "github.com/Additional-Code/kds/internal/server/http"
	serviceorder "github.com/Additional-Code/kds/internal/service/order"
	"github.com/Additional-Code/kds/internal/service/scanner"
	"github.com/Additional-Code/kds/internal/service/snapshot"
	"github.com/Additional-Code/kds/internal/service/status"
	"github.com/Additional-Code/kds/internal/service/sweeper"
	transporthttp "github.com/Additional-Code/kds/internal/transport/http"
	"github.com/Additional-Code/kds/internal/worker"
	workerkds "github.com/Additional-Code/kds/internal/worker/kds"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	pos.Module,
	repositoryorder.Module,
	serviceorder.Module,
	scanner.Module,
	snapshot.Module,
	status.Module,
	sweeper.Module,
)

// HTTP wires the display-facing HTTP transport plus the background scan
// runner on top of the core modules.
var HTTP = fx.Options(
	Core,
	scanner.RunnerModule,
	httpserver.Module,
	transporthttp.Module,
)

// Worker exposes background bus consumption.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerkds.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
