package refresh

import (
	"github.com/voyago/authkit/internal/api"
	"go.uber.org/fx"
)

// Module provides the refresh coordinator
var Module = fx.Module("refresh",
	fx.Provide(
		fx.Annotate(
			func(c *api.Client) *api.Client { return c },
			fx.As(new(TokenExchanger)),
		),
		NewCoordinator,
	),
)
