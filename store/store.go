/*
store.go - Backend selection

PURPOSE:
  Opens the cash.Store named by config.Driver. Both the HTTP server and the
  CLI go through Open so they agree on the same durable ledger.

DRIVERS:
  memory:    Process-local, lost on exit (demos, tests)
  sqlite:    Single file, WAL mode (default)
  postgres:  Shared database, SERIALIZABLE appends

SEE ALSO:
  - sqlite/sqlite.go
  - postgres/postgres.go
  - cash/store/memory.go
*/
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/cashbox/cash"
	memstore "github.com/warp/cashbox/cash/store"
	"github.com/warp/cashbox/config"
	"github.com/warp/cashbox/store/postgres"
	"github.com/warp/cashbox/store/sqlite"
)

// Backend is a ledger store that can be health-checked and released.
type Backend interface {
	cash.Store
	Ping(ctx context.Context) error
	Close() error
}

type memoryBackend struct {
	*memstore.Memory
}

func (memoryBackend) Ping(context.Context) error { return nil }
func (memoryBackend) Close() error               { return nil }

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memoryBackend{memstore.NewMemory()}, nil
	case config.DriverSQLite:
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}
