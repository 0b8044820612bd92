package api

import (
	"github.com/voyago/authkit/internal/bus"
	"github.com/voyago/authkit/internal/config"
	"go.uber.org/fx"
)

// Module provides the backend API client
var Module = fx.Module("api",
	fx.Provide(
		func(cfg *config.Config, events *bus.SessionEvents) *Client {
			return NewClient(&cfg.API, events)
		},
	),
)
