package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/block-forest-studio/indexer-engine/internal/db"
)

// Table holds one row per chain with the last block the engine has fully
// committed.
const Table = "chain_watermarks"

// ErrNonMonotonicAdvance is returned when an advance would move a watermark
// backwards or keep it in place. Rewinds go through RewindTx.
var ErrNonMonotonicAdvance = errors.New("watermark advance must be monotonic")

// Watermark records the last final block committed for a chain. Every block
// at or below LastFinalBlock is transformed, loaded and journaled; nothing
// above it is.
type Watermark struct {
	ChainID            uint64      `meddler:"chain_id" json:"chain_id"`
	LastFinalBlock     uint64      `meddler:"last_final_block" json:"last_final_block"`
	LastFinalBlockHash common.Hash `meddler:"last_final_block_hash,hash" json:"last_final_block_hash"`
	UpdatedAt          int64       `meddler:"updated_at" json:"updated_at"`
}

// Store persists per-chain watermarks.
type Store struct {
	db *db.DB
}

// New creates a store on top of the given database.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// Get returns the chain's watermark, or nil when the chain has never
// committed a range.
func (s *Store) Get(ctx context.Context, chainID uint64) (*Watermark, error) {
	wm := &Watermark{}

	err := meddler.QueryRow(s.db, wm,
		s.db.Rebind("SELECT * FROM "+Table+" WHERE chain_id = ?"), chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying watermark for chain %d: %w", chainID, err)
	}

	return wm, nil
}

// AdvanceTx moves the watermark forward inside the given transaction,
// creating the row when the chain commits its first range. Advancing to a
// block at or below the stored one fails with ErrNonMonotonicAdvance.
func (s *Store) AdvanceTx(ctx context.Context, tx *sql.Tx, chainID, block uint64, hash common.Hash) error {
	res, err := tx.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO "+Table+" (chain_id, last_final_block, last_final_block_hash, updated_at) "+
			"VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (chain_id) DO UPDATE SET "+
			"last_final_block = excluded.last_final_block, "+
			"last_final_block_hash = excluded.last_final_block_hash, "+
			"updated_at = excluded.updated_at "+
			"WHERE excluded.last_final_block > "+Table+".last_final_block"),
		chainID, block, hash.Bytes(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("advancing watermark for chain %d to block %d: %w", chainID, block, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading watermark update count: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("chain %d watermark already at or past block %d: %w",
			chainID, block, ErrNonMonotonicAdvance)
	}

	return nil
}

// RewindTx moves the watermark backwards inside the given transaction. Only
// reorg recovery calls this, always with a block whose hash was verified
// against the raw layer.
func (s *Store) RewindTx(ctx context.Context, tx *sql.Tx, chainID, block uint64, hash common.Hash) error {
	res, err := tx.ExecContext(ctx, s.db.Rebind(
		"UPDATE "+Table+" SET last_final_block = ?, last_final_block_hash = ?, updated_at = ? "+
			"WHERE chain_id = ?"),
		block, hash.Bytes(), time.Now().Unix(), chainID)
	if err != nil {
		return fmt.Errorf("rewinding watermark for chain %d to block %d: %w", chainID, block, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading watermark update count: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("no watermark to rewind for chain %d", chainID)
	}

	return nil
}
