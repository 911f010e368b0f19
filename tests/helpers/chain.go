package helpers

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/block-forest-studio/indexer-engine/internal/db"
	"github.com/block-forest-studio/indexer-engine/internal/reorg"
	"github.com/block-forest-studio/indexer-engine/internal/watermark"
)

// BlockHash returns the deterministic hash used for block n on the original
// branch.
func BlockHash(n uint64) common.Hash {
	return common.BytesToHash(fmt.Appendf(nil, "block-%d", n))
}

// ForkHash returns the hash used for block n after RewriteBranch forked it.
func ForkHash(n uint64) common.Hash {
	return common.BytesToHash(fmt.Appendf(nil, "fork-%d", n))
}

// TxHash returns the deterministic transaction hash for block n.
func TxHash(n uint64) common.Hash {
	return common.BytesToHash(fmt.Appendf(nil, "tx-%d", n))
}

// SeedBlocks populates the raw tables with full join coverage for blocks
// [from, to]: each block carries one log whose transaction and receipt are
// present.
func SeedBlocks(t *testing.T, database *db.DB, chainID, from, to uint64) {
	t.Helper()

	for n := from; n <= to; n++ {
		_, err := database.Exec(
			`INSERT INTO raw_blocks (chain_id, block_number, block_hash, parent_hash, block_timestamp)
			 VALUES (?, ?, ?, ?, ?)`,
			chainID, n, BlockHash(n).Bytes(), BlockHash(n-1).Bytes(), 1700000000+n*12)
		require.NoError(t, err)

		_, err = database.Exec(
			`INSERT INTO raw_transactions (chain_id, hash, transaction_index, tx_from, tx_to, tx_value, tx_type)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chainID, TxHash(n).Bytes(), 0,
			common.HexToAddress("0x0000000000000000000000000000000000000001").Bytes(),
			common.HexToAddress("0x00000000000000000000000000000000000000aa").Bytes(),
			"1000", 2)
		require.NoError(t, err)

		_, err = database.Exec(
			`INSERT INTO raw_receipts (chain_id, transaction_hash, status, gas_used, cumulative_gas_used, effective_gas_price)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			chainID, TxHash(n).Bytes(), 1, 21000, 21000, "15000000000")
		require.NoError(t, err)

		_, err = database.Exec(
			`INSERT INTO raw_logs (chain_id, block_number, log_index, transaction_hash, address, data)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			chainID, n, 0, TxHash(n).Bytes(),
			common.HexToAddress("0x00000000000000000000000000000000000000ee").Bytes(),
			fmt.Appendf(nil, "data-%d", n))
		require.NoError(t, err)
	}
}

// RewriteBranch replaces the raw block hashes at and above fromBlock, the
// way a reorg delivered by the acquisition service would. Logs, transactions
// and receipts are left in place.
func RewriteBranch(t *testing.T, database *db.DB, chainID, fromBlock uint64) {
	t.Helper()

	rows, err := database.Query(
		`SELECT block_number FROM raw_blocks WHERE chain_id = ? AND block_number >= ?`,
		chainID, fromBlock)
	require.NoError(t, err)
	defer rows.Close()

	var numbers []uint64
	for rows.Next() {
		var n uint64
		require.NoError(t, rows.Scan(&n))
		numbers = append(numbers, n)
	}
	require.NoError(t, rows.Err())

	for _, n := range numbers {
		parent := BlockHash(n - 1)
		if n > fromBlock {
			parent = ForkHash(n - 1)
		}
		_, err := database.Exec(
			`UPDATE raw_blocks SET block_hash = ?, parent_hash = ? WHERE chain_id = ? AND block_number = ?`,
			ForkHash(n).Bytes(), parent.Bytes(), chainID, n)
		require.NoError(t, err)
	}
}

// ResetWatermark rewinds a chain's watermark to the given block and trims
// journal entries above it, the way an operator-initiated replay would,
// while leaving canonical rows in place.
func ResetWatermark(t *testing.T, database *db.DB, chainID, block uint64) {
	t.Helper()

	ctx := t.Context()

	tx, err := database.BeginTx(ctx, nil)
	require.NoError(t, err)

	watermarks := watermark.New(database)
	require.NoError(t, watermarks.RewindTx(ctx, tx, chainID, block, BlockHash(block)))

	journal := reorg.NewJournal(database)
	_, err = journal.TrimAboveTx(ctx, tx, chainID, block)
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
}
