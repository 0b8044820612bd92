package storage

import (
	"context"
	"io"

	"github.com/voyago/authkit/internal/config"
	"go.uber.org/fx"
)

// Module provides the storage dependencies
var Module = fx.Module("storage",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config) (KV, error) {
			kv, err := New(&cfg.Storage)
			if err != nil {
				return nil, err
			}
			if closer, ok := kv.(io.Closer); ok {
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						return closer.Close()
					},
				})
			}
			return kv, nil
		},
	),
)
