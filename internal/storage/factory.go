package storage

import (
	"fmt"
	"log/slog"

	"github.com/databike/replay/internal/config"
	"github.com/databike/replay/internal/database"
	gormstorage "github.com/databike/replay/internal/storage/gorm"
	"github.com/databike/replay/internal/storage/memory"
	sqlitestorage "github.com/databike/replay/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// Storage types accepted by NewBackend.
const (
	TypeNone     = "none"
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// NewBackend creates a storage backend based on configuration. It returns
// a nil Backend for TypeNone. The backend is not yet initialized.
func NewBackend(cfg config.StorageConfig, db config.DBConfig, logger *slog.Logger, dbLog zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeMemory:
		return memory.New(cfg.Memory), nil
	case TypeSQLite:
		b, err := sqlitestorage.New(sqlitestorage.Config{
			DumpPath:     cfg.SQLite.Path,
			DumpInterval: cfg.SQLite.DumpInterval,
		}, logger, dbLog)
		if err != nil {
			return nil, err
		}
		return b, nil
	case TypePostgres:
		m := database.NewManager(dbLog, db)
		if err := m.ConnectPostgres(); err != nil {
			return nil, err
		}
		return gormstorage.New(m.DB, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
