package helpers

import (
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/block-forest-studio/indexer-engine/internal/db"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/internal/migrations"
)

// NewTestDB creates a temporary SQLite database with the engine schema
// migrated and scratch copies of the acquisition service's raw tables. The
// raw tables are created here because migrations deliberately do not own
// them.
func NewTestDB(t *testing.T, dbName string) *db.DB {
	t.Helper()

	database, err := db.NewSQLiteDB(path.Join(t.TempDir(), dbName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, migrations.RunMigrations(logger.NewNopLogger(), database))

	ddl := []string{
		`CREATE TABLE raw_blocks (
			chain_id        INTEGER NOT NULL,
			block_number    INTEGER NOT NULL,
			block_hash      BLOB    NOT NULL,
			parent_hash     BLOB    NOT NULL,
			block_timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE raw_logs (
			chain_id         INTEGER NOT NULL,
			block_number     INTEGER NOT NULL,
			log_index        INTEGER NOT NULL,
			transaction_hash BLOB    NOT NULL,
			address          BLOB    NOT NULL,
			topic0           BLOB,
			topic1           BLOB,
			topic2           BLOB,
			topic3           BLOB,
			data             BLOB
		)`,
		`CREATE TABLE raw_transactions (
			chain_id          INTEGER NOT NULL,
			hash              BLOB    NOT NULL,
			transaction_index INTEGER NOT NULL,
			tx_from           BLOB    NOT NULL,
			tx_to             BLOB,
			tx_value          TEXT    NOT NULL,
			tx_type           INTEGER
		)`,
		`CREATE TABLE raw_receipts (
			chain_id            INTEGER NOT NULL,
			transaction_hash    BLOB    NOT NULL,
			status              INTEGER,
			gas_used            INTEGER NOT NULL,
			cumulative_gas_used INTEGER NOT NULL,
			effective_gas_price TEXT
		)`,
	}
	for _, stmt := range ddl {
		_, err := database.Exec(stmt)
		require.NoError(t, err)
	}

	return database
}
