package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/block-forest-studio/indexer-engine/internal/db"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

// RunMigrations creates the tables the engine owns: staging_event_logs,
// chain_watermarks, processed_blocks and reorg_audit. Raw-layer tables are
// owned by the acquisition service and are never touched here.
func RunMigrations(log *logger.Logger, database *db.DB) error {
	migs, err := forDialect(database.Dialect())
	if err != nil {
		return err
	}

	return db.RunMigrations(log, database, migs)
}

func forDialect(dialect db.Dialect) ([]db.Migration, error) {
	var dir string
	switch dialect {
	case db.DialectSQLite:
		dir = "sqlite"
	case db.DialectPostgres:
		dir = "postgres"
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	migs := make([]db.Migration, 0, len(entries))
	for _, entry := range entries {
		data, err := fs.ReadFile(migrationsFS, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		migs = append(migs, db.Migration{
			ID:  entry.Name(),
			SQL: string(data),
		})
	}

	return migs, nil
}
