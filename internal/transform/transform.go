// Package transform joins raw logs, transactions, receipts and blocks into
// canonical event-log rows. The join is strict: a log whose transaction,
// receipt or block row is absent produces no output and marks the range as
// incompletely covered, so the coordinator defers it instead of advancing.
package transform

import (
	"context"
	"fmt"

	"github.com/russross/meddler"

	"github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/internal/db"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/internal/rawdb"
	"github.com/block-forest-studio/indexer-engine/internal/staging"
)

// joinQuery builds one canonical row per raw log that has all three join
// partners. Column aliases match the staging_event_logs schema so meddler
// scans the result straight into staging.EventLog.
const joinQuery = `SELECT
    l.chain_id              AS chain_id,
    l.block_number          AS block_number,
    l.log_index             AS log_index,
    b.block_timestamp       AS block_timestamp,
    l.transaction_hash      AS transaction_hash,
    t.transaction_index     AS transaction_index,
    t.tx_from               AS tx_from,
    t.tx_to                 AS tx_to,
    t.tx_value              AS tx_value,
    t.tx_type               AS tx_type,
    r.status                AS tx_status,
    r.gas_used              AS tx_gas_used,
    r.cumulative_gas_used   AS tx_cumulative_gas_used,
    r.effective_gas_price   AS tx_effective_gas_price,
    l.address               AS address,
    l.topic0                AS topic0,
    l.topic1                AS topic1,
    l.topic2                AS topic2,
    l.topic3                AS topic3,
    l.data                  AS data
FROM ` + rawdb.LogsTable + ` l
JOIN ` + rawdb.TransactionsTable + ` t ON t.chain_id = l.chain_id AND t.hash = l.transaction_hash
JOIN ` + rawdb.ReceiptsTable + ` r ON r.chain_id = l.chain_id AND r.transaction_hash = l.transaction_hash
JOIN ` + rawdb.BlocksTable + ` b ON b.chain_id = l.chain_id AND b.block_number = l.block_number
WHERE l.chain_id = ? AND l.block_number >= ? AND l.block_number <= ?
ORDER BY l.block_number ASC, l.log_index ASC`

// CoverageReport says how completely the raw layer covered a range. The
// coordinator only commits ranges that are fully covered.
type CoverageReport struct {
	FromBlock           uint64 `json:"from_block"`
	ToBlock             uint64 `json:"to_block"`
	TotalLogs           uint64 `json:"total_logs"`
	MatchedLogs         uint64 `json:"matched_logs"`
	MissingTransactions uint64 `json:"missing_transactions"`
	MissingReceipts     uint64 `json:"missing_receipts"`
	MissingBlocks       uint64 `json:"missing_blocks"`
	DuplicateKeys       uint64 `json:"duplicate_keys"`
}

// FullyCovered reports whether every block in the range is present and every
// log found its transaction and receipt. Duplicate keys do not block
// coverage; the first row wins and the rest are skipped.
func (r *CoverageReport) FullyCovered() bool {
	return r.MissingTransactions == 0 &&
		r.MissingReceipts == 0 &&
		r.MissingBlocks == 0 &&
		r.MatchedLogs == r.TotalLogs
}

// DeferralReason names the dominant gap for logs and metrics labels.
func (r *CoverageReport) DeferralReason() string {
	switch {
	case r.MissingBlocks > 0:
		return "missing_blocks"
	case r.MissingTransactions > 0:
		return "missing_transactions"
	case r.MissingReceipts > 0:
		return "missing_receipts"
	case r.MatchedLogs != r.TotalLogs:
		return "unmatched_logs"
	default:
		return "none"
	}
}

// Transformer turns raw rows into canonical event-log rows.
type Transformer struct {
	db  *db.DB
	log *logger.Logger
}

// New creates a transformer on top of the given database.
func New(database *db.DB, log *logger.Logger) *Transformer {
	return &Transformer{
		db:  database,
		log: log.WithComponent(common.ComponentTransformer),
	}
}

// TransformRange joins raw rows for [fromBlock, toBlock] into canonical
// rows ordered by (block_number, log_index), together with a coverage
// report. Rows are returned even when coverage is incomplete so callers can
// inspect them, but an incompletely covered range must not be loaded.
func (t *Transformer) TransformRange(ctx context.Context, chainID, fromBlock, toBlock uint64) ([]*staging.EventLog, *CoverageReport, error) {
	if toBlock < fromBlock {
		return nil, nil, fmt.Errorf("invalid range [%d, %d]", fromBlock, toBlock)
	}

	var joined []*staging.EventLog
	err := meddler.QueryAll(t.db, &joined, t.db.Rebind(joinQuery), chainID, fromBlock, toBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("joining raw rows for range [%d, %d]: %w", fromBlock, toBlock, err)
	}

	// Dedup before measuring coverage: MatchedLogs counts distinct keys, so
	// duplicated join partners never make a range look over- or under-covered.
	rows, duplicates := t.dropDuplicateKeys(joined)

	report, err := t.coverage(ctx, chainID, fromBlock, toBlock, uint64(len(rows)))
	if err != nil {
		return nil, nil, err
	}
	report.DuplicateKeys = duplicates

	return rows, report, nil
}

// dropDuplicateKeys keeps the first row for each primary key. The join is
// ordered, so duplicates are adjacent. A duplicate with a different payload
// points at raw-layer corruption and is logged loudly.
func (t *Transformer) dropDuplicateKeys(joined []*staging.EventLog) ([]*staging.EventLog, uint64) {
	rows := make([]*staging.EventLog, 0, len(joined))

	var duplicates uint64
	var prev *staging.EventLog
	for _, row := range joined {
		if prev != nil && row.Key() == prev.Key() {
			duplicates++
			if !row.PayloadEquals(prev) {
				t.log.Warnw("conflicting duplicate key in raw layer, keeping first row",
					"chain_id", row.ChainID,
					"block_number", row.BlockNumber,
					"log_index", row.LogIndex,
					"transaction_hash", row.TransactionHash.Hex())
			}
			continue
		}
		rows = append(rows, row)
		prev = row
	}

	return rows, duplicates
}

func (t *Transformer) coverage(ctx context.Context, chainID, fromBlock, toBlock, matched uint64) (*CoverageReport, error) {
	report := &CoverageReport{
		FromBlock:   fromBlock,
		ToBlock:     toBlock,
		MatchedLogs: matched,
	}

	// Distinct keys, so duplicated raw rows line up with the deduped output.
	err := t.db.QueryRowContext(ctx, t.db.Rebind(
		"SELECT COUNT(*) FROM (SELECT DISTINCT block_number, log_index FROM "+rawdb.LogsTable+
			" WHERE chain_id = ? AND block_number >= ? AND block_number <= ?) keys"),
		chainID, fromBlock, toBlock).Scan(&report.TotalLogs)
	if err != nil {
		return nil, fmt.Errorf("counting raw logs: %w", err)
	}

	err = t.db.QueryRowContext(ctx, t.db.Rebind(
		"SELECT COUNT(*) FROM "+rawdb.LogsTable+" l"+
			" WHERE l.chain_id = ? AND l.block_number >= ? AND l.block_number <= ?"+
			" AND NOT EXISTS (SELECT 1 FROM "+rawdb.TransactionsTable+" t"+
			" WHERE t.chain_id = l.chain_id AND t.hash = l.transaction_hash)"),
		chainID, fromBlock, toBlock).Scan(&report.MissingTransactions)
	if err != nil {
		return nil, fmt.Errorf("counting logs with missing transactions: %w", err)
	}

	err = t.db.QueryRowContext(ctx, t.db.Rebind(
		"SELECT COUNT(*) FROM "+rawdb.LogsTable+" l"+
			" WHERE l.chain_id = ? AND l.block_number >= ? AND l.block_number <= ?"+
			" AND NOT EXISTS (SELECT 1 FROM "+rawdb.ReceiptsTable+" r"+
			" WHERE r.chain_id = l.chain_id AND r.transaction_hash = l.transaction_hash)"),
		chainID, fromBlock, toBlock).Scan(&report.MissingReceipts)
	if err != nil {
		return nil, fmt.Errorf("counting logs with missing receipts: %w", err)
	}

	var presentBlocks uint64
	err = t.db.QueryRowContext(ctx, t.db.Rebind(
		"SELECT COUNT(DISTINCT block_number) FROM "+rawdb.BlocksTable+
			" WHERE chain_id = ? AND block_number >= ? AND block_number <= ?"),
		chainID, fromBlock, toBlock).Scan(&presentBlocks)
	if err != nil {
		return nil, fmt.Errorf("counting raw blocks: %w", err)
	}
	report.MissingBlocks = (toBlock - fromBlock + 1) - presentBlocks

	return report, nil
}
