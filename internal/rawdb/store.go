// Package rawdb provides read-only access to the raw-layer tables populated
// by the acquisition service. The engine never writes to these tables.
package rawdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/block-forest-studio/indexer-engine/internal/db"
)

// Raw-layer table names. The acquisition service owns their schemas; the
// engine depends only on the columns named in the queries below.
const (
	BlocksTable       = "raw_blocks"
	LogsTable         = "raw_logs"
	TransactionsTable = "raw_transactions"
	ReceiptsTable     = "raw_receipts"
)

// Header is one raw block's identity row, the spine for range planning,
// journal appends and reorg verification.
type Header struct {
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
	ParentHash  common.Hash `meddler:"parent_hash,hash"`
	Timestamp   uint64      `meddler:"block_timestamp"`
}

// Store reads the raw layer scoped by chain and block range.
type Store struct {
	db *db.DB
}

// New creates a raw-layer store on the shared database handle.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// MaxAvailableBlock returns the highest block number the raw layer has for
// the chain. The second return is false when the chain has no raw blocks yet.
func (s *Store) MaxAvailableBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	query := s.db.Rebind(`SELECT MAX(block_number) FROM ` + BlocksTable + ` WHERE chain_id = ?`)

	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, chainID).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("failed to query max available block: %w", err)
	}

	if !max.Valid {
		return 0, false, nil
	}

	return uint64(max.Int64), true, nil
}

// HeaderAt returns the raw block header at the given height, or nil when the
// raw layer has no row for it.
func (s *Store) HeaderAt(ctx context.Context, chainID, blockNumber uint64) (*Header, error) {
	query := s.db.Rebind(`
		SELECT block_number, block_hash, parent_hash, block_timestamp
		FROM ` + BlocksTable + `
		WHERE chain_id = ? AND block_number = ?`)

	header := &Header{}
	err := meddler.QueryRow(s.db, header, query, chainID, blockNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query header at block %d: %w", blockNumber, err)
	}

	return header, nil
}

// HeadersInRange returns the raw block headers for [fromBlock, toBlock] in
// ascending order. Callers detect raw-layer gaps by comparing the returned
// length against the range size.
func (s *Store) HeadersInRange(ctx context.Context, chainID, fromBlock, toBlock uint64) ([]*Header, error) {
	query := s.db.Rebind(`
		SELECT block_number, block_hash, parent_hash, block_timestamp
		FROM ` + BlocksTable + `
		WHERE chain_id = ? AND block_number BETWEEN ? AND ?
		ORDER BY block_number ASC`)

	var headers []*Header
	if err := meddler.QueryAll(s.db, &headers, query, chainID, fromBlock, toBlock); err != nil {
		return nil, fmt.Errorf("failed to query headers in range [%d, %d]: %w", fromBlock, toBlock, err)
	}

	return headers, nil
}
