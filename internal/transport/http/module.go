package http

import (
	"go.uber.org/fx"

	kdstransport "github.com/Additional-Code/kds/internal/transport/http/kds"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	kdstransport.Module,
)
