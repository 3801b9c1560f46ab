package storage

import (
	"context"
	"errors"
	"strings"

	logx "lightd/pkg/logx"
)

// Store is the persistence API used by the recorder and the app.
type Store interface {
	AppendEvent(ctx context.Context, e EventEntry) error
	PutBusValue(ctx context.Context, id uint32, value uint32) error
	BusValues(ctx context.Context) (map[uint32]uint32, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
