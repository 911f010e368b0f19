package reorg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/russross/meddler"

	"github.com/block-forest-studio/indexer-engine/internal/db"
)

// AuditTable keeps one row per recovered reorg so operators can review what
// was rewound and when.
const AuditTable = "reorg_audit"

// Audit describes one recovered reorg. ObservedHash is the zero hash when
// the raw layer no longer held the diverged block at all.
type Audit struct {
	ID              string      `meddler:"id" json:"id"`
	ChainID         uint64      `meddler:"chain_id" json:"chain_id"`
	DivergenceBlock uint64      `meddler:"divergence_block" json:"divergence_block"`
	ObservedHash    common.Hash `meddler:"observed_hash,hash" json:"observed_hash"`
	ExpectedHash    common.Hash `meddler:"expected_hash,hash" json:"expected_hash"`
	RewoundTo       uint64      `meddler:"rewound_to" json:"rewound_to"`
	Depth           uint64      `meddler:"depth" json:"depth"`
	CreatedAt       int64       `meddler:"created_at" json:"created_at"`
}

// AuditStore persists reorg audit rows.
type AuditStore struct {
	db *db.DB
}

// NewAuditStore creates an audit store on top of the given database.
func NewAuditStore(database *db.DB) *AuditStore {
	return &AuditStore{db: database}
}

// InsertTx writes an audit row inside the recovery transaction, assigning
// it a fresh id and timestamp. The stored row is returned.
func (s *AuditStore) InsertTx(ctx context.Context, tx *sql.Tx, audit Audit) (*Audit, error) {
	audit.ID = uuid.NewString()
	audit.CreatedAt = time.Now().Unix()

	_, err := tx.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO "+AuditTable+
			" (id, chain_id, divergence_block, observed_hash, expected_hash, rewound_to, depth, created_at)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?)"),
		audit.ID, audit.ChainID, audit.DivergenceBlock,
		audit.ObservedHash.Bytes(), audit.ExpectedHash.Bytes(),
		audit.RewoundTo, audit.Depth, audit.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting reorg audit row: %w", err)
	}

	return &audit, nil
}

// ListByChain returns the most recent audit rows for a chain, newest first.
func (s *AuditStore) ListByChain(ctx context.Context, chainID uint64, limit uint64) ([]*Audit, error) {
	var audits []*Audit

	err := meddler.QueryAll(s.db, &audits, s.db.Rebind(
		"SELECT * FROM "+AuditTable+" WHERE chain_id = ? ORDER BY created_at DESC, divergence_block DESC LIMIT ?"),
		chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reorg audits for chain %d: %w", chainID, err)
	}

	return audits, nil
}
