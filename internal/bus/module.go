package bus

import "go.uber.org/fx"

// Module provides the session event bus
var Module = fx.Module("bus",
	fx.Provide(NewSessionEvents),
)
