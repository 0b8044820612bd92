package relay

import (
	"context"

	"github.com/voyago/authkit/internal/config"
	"go.uber.org/fx"
)

// Module provides the web sign-in relay wired for a system browser
// environment with a file-backed mailbox.
var Module = fx.Module("relay",
	fx.Provide(
		fx.Annotate(
			func() SystemBrowser { return SystemBrowser{} },
			fx.As(new(WindowEnvironment)),
		),
		fx.Annotate(
			NewMemoryEphemeral,
			fx.As(new(EphemeralStore)),
		),
		fx.Annotate(
			func(cfg *config.Config) *FileMailbox {
				return NewFileMailbox(cfg.Storage.MailboxPath)
			},
			fx.As(new(Mailbox)),
		),
		fx.Annotate(
			func(cfg *config.Config) (*UserInfoResolver, error) {
				return NewUserInfoResolver(context.Background(), &cfg.OAuth)
			},
			fx.As(new(ProfileResolver)),
		),
		func(cfg *config.Config, env WindowEnvironment, ephemeral EphemeralStore, mailbox Mailbox, resolver ProfileResolver) *Relay {
			return NewRelay(&cfg.OAuth, env, ephemeral, mailbox, resolver)
		},
	),
)
