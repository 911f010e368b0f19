// Package reorg detects chain reorganizations and rewinds the engine's
// canonical state past them. Detection compares the journaled hash of the
// last committed block against the raw layer; recovery deletes canonical
// rows above the deepest still-valid block and rewinds the watermark, all in
// one transaction.
package reorg

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	commonutil "github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/internal/db"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/internal/rawdb"
	"github.com/block-forest-studio/indexer-engine/internal/staging"
	"github.com/block-forest-studio/indexer-engine/internal/watermark"
)

// ErrRollbackDepthExceeded means no journaled block within the rollback
// window still matches the raw layer. The chain halts rather than guess a
// rewind point.
var ErrRollbackDepthExceeded = errors.New("reorg exceeds max rollback depth")

// State is the reorg posture of a chain as seen by one detection pass.
type State string

const (
	// StateStable means the last committed block hash still matches the
	// raw layer.
	StateStable State = "stable"
	// StateDiverged means the raw layer disagrees with the journal and a
	// rewind point was found within the rollback window.
	StateDiverged State = "diverged"
	// StateRecovering labels a chain between detection and the committed
	// rewind.
	StateRecovering State = "recovering"
)

// Verdict is the outcome of one detection pass.
type Verdict struct {
	State State

	// DivergenceBlock is the first block whose journaled hash no longer
	// matches the raw layer. Meaningful only when State is StateDiverged.
	DivergenceBlock uint64

	// RewindTo is the deepest block to keep. Its journaled hash still
	// matches the raw layer.
	RewindTo   uint64
	RewindHash common.Hash

	// ObservedHash is the raw-layer hash at the watermark height, zero
	// when the raw layer no longer holds that block. ExpectedHash is what
	// the engine committed there.
	ObservedHash common.Hash
	ExpectedHash common.Hash

	// Depth is the number of blocks being rewound.
	Depth uint64
}

// RecoveryResult reports what one committed recovery changed.
type RecoveryResult struct {
	RewoundTo      uint64 `json:"rewound_to"`
	DeletedRows    int64  `json:"deleted_rows"`
	TrimmedJournal int64  `json:"trimmed_journal"`
	Audit          *Audit `json:"audit"`
}

// Manager runs reorg detection and recovery for all chains.
type Manager struct {
	db          *db.DB
	raw         *rawdb.Store
	journal     *Journal
	canonical   *staging.Store
	watermarks  *watermark.Store
	audits      *AuditStore
	maintenance db.Maintenance
	log         *logger.Logger
}

// NewManager wires a manager from its stores.
func NewManager(
	database *db.DB,
	raw *rawdb.Store,
	journal *Journal,
	canonical *staging.Store,
	watermarks *watermark.Store,
	audits *AuditStore,
	maintenance db.Maintenance,
	log *logger.Logger,
) *Manager {
	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}

	return &Manager{
		db:          database,
		raw:         raw,
		journal:     journal,
		canonical:   canonical,
		watermarks:  watermarks,
		audits:      audits,
		maintenance: maintenance,
		log:         log.WithComponent(commonutil.ComponentReorg),
	}
}

// Check compares the chain's committed state against the raw layer. A nil
// watermark is trivially stable. On divergence it walks the journal
// backward, at most maxRollbackDepth blocks, to the deepest block whose hash
// still matches; if none matches the chain is unrecoverable and Check
// returns ErrRollbackDepthExceeded.
func (m *Manager) Check(ctx context.Context, chainID uint64, wm *watermark.Watermark, maxRollbackDepth uint64) (*Verdict, error) {
	if wm == nil {
		return &Verdict{State: StateStable}, nil
	}

	head, err := m.raw.HeaderAt(ctx, chainID, wm.LastFinalBlock)
	if err != nil {
		return nil, err
	}

	if head != nil && head.BlockHash == wm.LastFinalBlockHash {
		return &Verdict{State: StateStable}, nil
	}

	observed := common.Hash{}
	if head != nil {
		observed = head.BlockHash
	}

	m.log.Warnw("block hash divergence detected",
		"chain_id", chainID,
		"block_number", wm.LastFinalBlock,
		"expected_hash", wm.LastFinalBlockHash.Hex(),
		"observed_hash", observed.Hex())

	rewindTo, rewindHash, err := m.findRewindPoint(ctx, chainID, wm.LastFinalBlock, maxRollbackDepth)
	if err != nil {
		return nil, err
	}

	return &Verdict{
		State:           StateDiverged,
		DivergenceBlock: rewindTo + 1,
		RewindTo:        rewindTo,
		RewindHash:      rewindHash,
		ObservedHash:    observed,
		ExpectedHash:    wm.LastFinalBlockHash,
		Depth:           wm.LastFinalBlock - rewindTo,
	}, nil
}

// findRewindPoint walks journal entries newest-first and returns the first
// (shallowest) block whose hash the raw layer still agrees with.
func (m *Manager) findRewindPoint(ctx context.Context, chainID, lastFinalBlock, maxRollbackDepth uint64) (uint64, common.Hash, error) {
	low := uint64(0)
	if lastFinalBlock > maxRollbackDepth {
		low = lastFinalBlock - maxRollbackDepth
	}

	entries, err := m.journal.EntriesDescending(ctx, chainID, lastFinalBlock, maxRollbackDepth+1)
	if err != nil {
		return 0, common.Hash{}, err
	}

	headers, err := m.raw.HeadersInRange(ctx, chainID, low, lastFinalBlock)
	if err != nil {
		return 0, common.Hash{}, err
	}

	rawHashes := make(map[uint64]common.Hash, len(headers))
	for _, h := range headers {
		rawHashes[h.BlockNumber] = h.BlockHash
	}

	for _, entry := range entries {
		if entry.BlockNumber >= lastFinalBlock || entry.BlockNumber < low {
			continue
		}
		if hash, ok := rawHashes[entry.BlockNumber]; ok && hash == entry.BlockHash {
			return entry.BlockNumber, entry.BlockHash, nil
		}
	}

	return 0, common.Hash{}, fmt.Errorf(
		"chain %d: no matching block within %d blocks below %d: %w",
		chainID, maxRollbackDepth, lastFinalBlock, ErrRollbackDepthExceeded)
}

// Recover rewinds the chain to the verdict's rewind point. Canonical row
// deletion, journal trim, watermark rewind and the audit row all commit in
// one transaction, so a crash mid-recovery leaves the previous state intact.
func (m *Manager) Recover(ctx context.Context, chainID uint64, verdict *Verdict) (*RecoveryResult, error) {
	if verdict == nil || verdict.State != StateDiverged {
		return nil, fmt.Errorf("chain %d: recovery requires a diverged verdict", chainID)
	}

	unlock := m.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning recovery transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleted, err := m.canonical.InvalidateFromTx(ctx, tx, chainID, verdict.RewindTo+1)
	if err != nil {
		return nil, err
	}

	trimmed, err := m.journal.TrimAboveTx(ctx, tx, chainID, verdict.RewindTo)
	if err != nil {
		return nil, err
	}

	if err := m.watermarks.RewindTx(ctx, tx, chainID, verdict.RewindTo, verdict.RewindHash); err != nil {
		return nil, err
	}

	audit, err := m.audits.InsertTx(ctx, tx, Audit{
		ChainID:         chainID,
		DivergenceBlock: verdict.DivergenceBlock,
		ObservedHash:    verdict.ObservedHash,
		ExpectedHash:    verdict.ExpectedHash,
		RewoundTo:       verdict.RewindTo,
		Depth:           verdict.Depth,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing recovery transaction: %w", err)
	}

	m.log.Infow("recovered from reorg",
		"chain_id", chainID,
		"rewound_to", verdict.RewindTo,
		"depth", verdict.Depth,
		"deleted_rows", deleted,
		"trimmed_journal", trimmed,
		"audit_id", audit.ID)

	return &RecoveryResult{
		RewoundTo:      verdict.RewindTo,
		DeletedRows:    deleted,
		TrimmedJournal: trimmed,
		Audit:          audit,
	}, nil
}
