package session

import (
	"github.com/voyago/authkit/internal/api"
	"go.uber.org/fx"
)

// Module provides the session manager and wires it as the API
// client's token source.
var Module = fx.Module("session",
	fx.Provide(
		fx.Annotate(
			func(c *api.Client) *api.Client { return c },
			fx.As(new(Backend)),
		),
		NewManager,
	),
	fx.Invoke(func(client *api.Client, manager *Manager) {
		client.SetTokenProvider(manager.AccessToken)
	}),
)
