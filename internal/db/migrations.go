package db

import (
	"fmt"
	"strings"

	"github.com/block-forest-studio/indexer-engine/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	UpDownSeparator   = "-- +migrate Up"
	downMarker        = "-- +migrate Down"
	NoLimitMigrations = 0 // no limit on the number of migrations to run

	migrationDirections = 2
)

// Migration is one schema migration, with the Down section preceding the
// "-- +migrate Up" separator in SQL.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations executes all pending migrations in the up direction.
func RunMigrations(log *logger.Logger, database *DB, migrations []Migration) error {
	return RunMigrationsExtended(log, database, migrations, migrate.Up, NoLimitMigrations)
}

// RunMigrationsExtended runs migrations in either direction.
// dir: can be migrate.Up or migrate.Down
// maxMigrations: apply at most `max` migrations; pass NoLimitMigrations for no limit
func RunMigrationsExtended(log *logger.Logger,
	database *DB,
	migrationsParam []Migration,
	dir migrate.MigrationDirection,
	maxMigrations int) error {
	migs := &migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{}}

	// In case of partial execution we ignore the base migrations
	if maxMigrations != NoLimitMigrations {
		migrate.SetIgnoreUnknown(true)
	}

	for _, m := range migrationsParam {
		splitted := strings.Split(m.SQL, UpDownSeparator)
		if len(splitted) < migrationDirections {
			return fmt.Errorf("migration %s missing '-- +migrate Up' separator", m.ID)
		}

		downSQL := splitted[0]
		if idx := strings.Index(downSQL, downMarker); idx != -1 {
			downSQL = downSQL[idx+len(downMarker):]
		}

		migs.Migrations = append(migs.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   splitStatements(splitted[1]),
			Down: splitStatements(downSQL),
		})
	}

	var listMigrations strings.Builder
	for _, m := range migs.Migrations {
		listMigrations.WriteString(m.Id + ", ")
	}

	log.Debugf("running migrations: (max %d/%d) migrations: %s", maxMigrations,
		len(migs.Migrations),
		listMigrations.String())

	nMigrations, err := migrate.ExecMax(database.DB, string(database.Dialect()), migs, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("error executing migration (max %d/%d) migrations: %s . Err: %w",
			maxMigrations, len(migs.Migrations), listMigrations.String(), err)
	}

	log.Infof("successfully ran %d migrations from migrations: %s", nMigrations, listMigrations.String())
	return nil
}

// splitStatements breaks a migration section into single statements. The pgx
// driver executes one statement per call, so multi-statement sections cannot
// be passed through whole. Statements must not contain literal semicolons.
func splitStatements(section string) []string {
	parts := strings.Split(section, ";")
	statements := make([]string, 0, len(parts))

	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt+";")
		}
	}

	return statements
}
