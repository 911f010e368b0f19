package reorg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/block-forest-studio/indexer-engine/internal/db"
	"github.com/block-forest-studio/indexer-engine/internal/rawdb"
)

// JournalTable records the hash of every block the engine has committed,
// within the rollback window. It is the engine's own memory of what the
// chain looked like, compared against raw_blocks to detect reorgs.
const JournalTable = "processed_blocks"

// journalChunkRows bounds rows per INSERT so a maximum-size range stays
// under bind-parameter limits.
const journalChunkRows = 1000

// JournalEntry is one committed block hash.
type JournalEntry struct {
	ChainID     uint64      `meddler:"chain_id" json:"chain_id"`
	BlockNumber uint64      `meddler:"block_number" json:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash" json:"block_hash"`
}

// Journal persists processed-block hashes.
type Journal struct {
	db *db.DB
}

// NewJournal creates a journal on top of the given database.
func NewJournal(database *db.DB) *Journal {
	return &Journal{db: database}
}

// RecordTx appends one entry per header inside the given transaction. The
// caller commits it together with the loaded rows and the watermark advance.
func (j *Journal) RecordTx(ctx context.Context, tx *sql.Tx, chainID uint64, headers []*rawdb.Header) error {
	for start := 0; start < len(headers); start += journalChunkRows {
		end := start + journalChunkRows
		if end > len(headers) {
			end = len(headers)
		}
		chunk := headers[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO " + JournalTable + " (chain_id, block_number, block_hash) VALUES ")

		args := make([]interface{}, 0, len(chunk)*3)
		for i, h := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?)")
			args = append(args, chainID, h.BlockNumber, h.BlockHash.Bytes())
		}

		if _, err := tx.ExecContext(ctx, j.db.Rebind(sb.String()), args...); err != nil {
			return fmt.Errorf("recording processed blocks: %w", err)
		}
	}

	return nil
}

// PruneTx deletes entries below the given block inside the transaction.
// Called on every commit to keep the journal at rollback-window size.
func (j *Journal) PruneTx(ctx context.Context, tx *sql.Tx, chainID, belowBlock uint64) error {
	_, err := tx.ExecContext(ctx,
		j.db.Rebind("DELETE FROM "+JournalTable+" WHERE chain_id = ? AND block_number < ?"),
		chainID, belowBlock)
	if err != nil {
		return fmt.Errorf("pruning processed blocks below %d: %w", belowBlock, err)
	}

	return nil
}

// TrimAboveTx deletes entries above the given block inside the transaction.
// Recovery uses this to discard journal entries for rewound blocks.
func (j *Journal) TrimAboveTx(ctx context.Context, tx *sql.Tx, chainID, aboveBlock uint64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		j.db.Rebind("DELETE FROM "+JournalTable+" WHERE chain_id = ? AND block_number > ?"),
		chainID, aboveBlock)
	if err != nil {
		return 0, fmt.Errorf("trimming processed blocks above %d: %w", aboveBlock, err)
	}

	trimmed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading trimmed row count: %w", err)
	}

	return trimmed, nil
}

// EntryAt returns the journal entry for a block, or nil when none exists.
func (j *Journal) EntryAt(ctx context.Context, chainID, blockNumber uint64) (*JournalEntry, error) {
	entry := &JournalEntry{}

	err := meddler.QueryRow(j.db, entry, j.db.Rebind(
		"SELECT * FROM "+JournalTable+" WHERE chain_id = ? AND block_number = ?"),
		chainID, blockNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying processed block %d: %w", blockNumber, err)
	}

	return entry, nil
}

// EntriesDescending returns up to limit entries at or below fromBlock,
// newest first. The reorg walk iterates these to find the deepest block
// whose hash still matches the raw layer.
func (j *Journal) EntriesDescending(ctx context.Context, chainID, fromBlock, limit uint64) ([]*JournalEntry, error) {
	var entries []*JournalEntry

	err := meddler.QueryAll(j.db, &entries, j.db.Rebind(
		"SELECT * FROM "+JournalTable+" WHERE chain_id = ? AND block_number <= ? "+
			"ORDER BY block_number DESC LIMIT ?"),
		chainID, fromBlock, limit)
	if err != nil {
		return nil, fmt.Errorf("querying processed blocks below %d: %w", fromBlock, err)
	}

	return entries, nil
}
