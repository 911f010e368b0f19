package staging

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/block-forest-studio/indexer-engine/internal/db"
)

// insertChunkRows bounds the rows per INSERT statement so the bind-parameter
// count stays under the SQLite (32766) and PostgreSQL (65535) limits.
const insertChunkRows = 500

const insertColumnCount = 20

const insertColumns = "chain_id, block_number, log_index, block_timestamp, " +
	"transaction_hash, transaction_index, tx_from, tx_to, tx_value, tx_type, tx_status, " +
	"tx_gas_used, tx_cumulative_gas_used, tx_effective_gas_price, " +
	"address, topic0, topic1, topic2, topic3, data"

// Result summarizes one idempotent load.
type Result struct {
	Inserted int64 `json:"inserted"`
	Skipped  int64 `json:"skipped"`
}

// Store reads and writes canonical event-log rows.
type Store struct {
	db *db.DB
}

// New creates a store on top of the given database.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// LoadTx inserts rows inside the given transaction, skipping any key that
// already exists. First write wins: a conflicting row never overwrites the
// stored one.
func (s *Store) LoadTx(ctx context.Context, tx *sql.Tx, rows []*EventLog) (Result, error) {
	var res Result

	for start := 0; start < len(rows); start += insertChunkRows {
		end := start + insertChunkRows
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		query, args := buildInsert(chunk)

		sqlRes, err := tx.ExecContext(ctx, s.db.Rebind(query), args...)
		if err != nil {
			return res, fmt.Errorf("inserting event logs: %w", err)
		}

		inserted, err := sqlRes.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("reading inserted row count: %w", err)
		}

		res.Inserted += inserted
		res.Skipped += int64(len(chunk)) - inserted
	}

	return res, nil
}

func buildInsert(rows []*EventLog) (string, []interface{}) {
	group := "(" + strings.TrimSuffix(strings.Repeat("?, ", insertColumnCount), ", ") + ")"

	var sb strings.Builder
	sb.WriteString("INSERT INTO " + Table + " (" + insertColumns + ") VALUES ")

	args := make([]interface{}, 0, len(rows)*insertColumnCount)
	for i, e := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(group)

		args = append(args,
			e.ChainID, e.BlockNumber, e.LogIndex, e.BlockTimestamp,
			e.TransactionHash.Bytes(), e.TransactionIndex,
			e.TxFrom.Bytes(), addressArg(e.TxTo), bigIntArg(e.TxValue),
			uint64Arg(e.TxType), uint64Arg(e.TxStatus),
			e.TxGasUsed, e.TxCumulativeGasUsed, bigIntArg(e.TxEffectiveGasPrice),
			e.Address.Bytes(),
			hashArg(e.Topic0), hashArg(e.Topic1), hashArg(e.Topic2), hashArg(e.Topic3),
			e.Data,
		)
	}

	sb.WriteString(" ON CONFLICT (chain_id, block_number, log_index) DO NOTHING")

	return sb.String(), args
}

func hashArg(h *common.Hash) interface{} {
	if h == nil {
		return nil
	}
	return h.Bytes()
}

func addressArg(a *common.Address) interface{} {
	if a == nil {
		return nil
	}
	return a.Bytes()
}

func bigIntArg(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func uint64Arg(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// InvalidateFromTx deletes every canonical row at or above fromBlock for the
// chain. Reorg recovery calls this before rewinding the watermark.
func (s *Store) InvalidateFromTx(ctx context.Context, tx *sql.Tx, chainID, fromBlock uint64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		s.db.Rebind("DELETE FROM "+Table+" WHERE chain_id = ? AND block_number >= ?"),
		chainID, fromBlock)
	if err != nil {
		return 0, fmt.Errorf("deleting event logs from block %d: %w", fromBlock, err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading deleted row count: %w", err)
	}

	return deleted, nil
}

// EventCount returns the number of canonical rows stored for the chain.
func (s *Store) EventCount(ctx context.Context, chainID uint64) (uint64, error) {
	var count uint64

	err := s.db.QueryRowContext(ctx,
		s.db.Rebind("SELECT COUNT(*) FROM "+Table+" WHERE chain_id = ?"),
		chainID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting event logs: %w", err)
	}

	return count, nil
}

// BlockBounds returns the earliest and latest block with canonical rows for
// the chain, or nil when the chain has none.
func (s *Store) BlockBounds(ctx context.Context, chainID uint64) (*BlockBounds, error) {
	var earliest, latest sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		s.db.Rebind("SELECT MIN(block_number), MAX(block_number) FROM "+Table+" WHERE chain_id = ?"),
		chainID).Scan(&earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("querying event log bounds: %w", err)
	}

	if !earliest.Valid || !latest.Valid {
		return nil, nil
	}

	return &BlockBounds{Earliest: uint64(earliest.Int64), Latest: uint64(latest.Int64)}, nil
}

// EventsInRange returns canonical rows with block numbers in [fromBlock,
// toBlock], ordered by block number then log index.
func (s *Store) EventsInRange(ctx context.Context, chainID, fromBlock, toBlock uint64) ([]*EventLog, error) {
	var logs []*EventLog

	err := meddler.QueryAll(s.db, &logs,
		s.db.Rebind("SELECT * FROM "+Table+" WHERE chain_id = ? AND block_number >= ? AND block_number <= ? "+
			"ORDER BY block_number ASC, log_index ASC"),
		chainID, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("querying event logs in range [%d, %d]: %w", fromBlock, toBlock, err)
	}

	return logs, nil
}
