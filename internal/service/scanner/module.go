package scanner

import "go.uber.org/fx"

// Module provides the ingestion scanner to Fx.
var Module = fx.Provide(NewService)
