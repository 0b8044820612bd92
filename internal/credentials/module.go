package credentials

import (
	"github.com/voyago/authkit/internal/config"
	"github.com/voyago/authkit/internal/storage"
	"go.uber.org/fx"
)

// Module provides the credential store dependencies
var Module = fx.Module("credentials",
	fx.Provide(
		func(cfg *config.Config, kv storage.KV) *Store {
			return NewStore(kv, cfg.Storage.LoadTimeout)
		},
	),
)
