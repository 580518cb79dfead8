package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/config"
)

// Open builds the backend selected by cfg.Driver. The PostgreSQL schema is
// applied when migrate is true.
func Open(ctx context.Context, cfg config.Store, migrate bool, log *zap.SugaredLogger) (Store, error) {
	switch cfg.Driver {
	case config.StoreDriverMemory, "":
		log.Warn("Using in-memory store; records are lost on restart")
		return NewMemory(), nil
	case config.StoreDriverPostgres:
		pg, err := NewPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
