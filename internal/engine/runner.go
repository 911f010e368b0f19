package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/internal/metrics"
	"github.com/block-forest-studio/indexer-engine/internal/notify"
	"github.com/block-forest-studio/indexer-engine/internal/planner"
	"github.com/block-forest-studio/indexer-engine/internal/reorg"
	"github.com/block-forest-studio/indexer-engine/internal/staging"
	"github.com/block-forest-studio/indexer-engine/internal/transform"
	"github.com/block-forest-studio/indexer-engine/internal/watermark"
	"github.com/block-forest-studio/indexer-engine/pkg/config"
)

// chainRunner is the sequential loop for one chain. Ranges for a chain never
// overlap in time; concurrency exists only across chains.
type chainRunner struct {
	*Engine
	chain     config.ChainConfig
	rangeSize uint64
	log       *logger.Logger
}

func newChainRunner(e *Engine, chain config.ChainConfig) *chainRunner {
	return &chainRunner{
		Engine:    e,
		chain:     chain,
		rangeSize: chain.MaxRangeSize,
		log:       e.log.WithChain(chain.ChainID),
	}
}

// run executes cycles until the context is cancelled or the chain halts
// fatally. Transient errors are logged and retried at the poll cadence.
func (r *chainRunner) run(ctx context.Context) error {
	r.status.Register(r.chain.ChainID, r.chain.Name)
	metrics.ChainHaltedSet(r.chain.ChainID, false)
	metrics.RangeSizeSet(r.chain.ChainID, r.rangeSize)

	r.log.Infow("chain loop started",
		"name", r.chain.Name,
		"start_block", r.chain.StartBlock,
		"confirmation_depth", r.chain.ConfirmationDepth,
		"max_range_size", r.chain.MaxRangeSize,
		"max_rollback_depth", r.chain.MaxRollbackDepth)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("chain loop stopped")
			return nil
		default:
		}

		progress, err := r.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info("chain loop stopped")
				return nil
			}

			if errors.Is(err, reorg.ErrRollbackDepthExceeded) {
				return r.halt(err)
			}

			r.log.Errorw("cycle failed", "error", err)
			metrics.ErrorsInc(common.ComponentEngine, "error")
			r.status.Update(r.chain.ChainID, func(s *ChainStatus) {
				s.LastError = err.Error()
			})
			progress = false
		}

		if progress {
			continue
		}

		select {
		case <-ctx.Done():
			r.log.Info("chain loop stopped")
			return nil
		case <-time.After(r.chain.PollInterval.Duration):
		}
	}
}

// halt marks the chain fatally stopped and returns the error that ends its
// loop. Sibling chains are unaffected.
func (r *chainRunner) halt(err error) error {
	r.log.Errorw("chain halted", "error", err)

	metrics.ChainHaltedSet(r.chain.ChainID, true)
	metrics.ErrorsInc(common.ComponentEngine, "fatal")

	r.status.Update(r.chain.ChainID, func(s *ChainStatus) {
		s.State = ChainStateHalted
		s.LastError = err.Error()
	})

	r.notifier.ChainHalted(notify.ChainHaltedEvent{
		ChainID: r.chain.ChainID,
		Reason:  err.Error(),
	})

	return fmt.Errorf("chain %d halted: %w", r.chain.ChainID, err)
}

// cycle runs one pass: reorg check, planning, then range processing. It
// returns true when it did work and the loop should continue immediately,
// false when the loop should sleep for the poll interval first.
func (r *chainRunner) cycle(ctx context.Context) (bool, error) {
	chainID := r.chain.ChainID
	cycleID := uuid.NewString()

	wm, err := r.watermarks.Get(ctx, chainID)
	if err != nil {
		return false, err
	}

	verdict, err := r.reorgs.Check(ctx, chainID, wm, r.chain.MaxRollbackDepth)
	if err != nil {
		return false, err
	}

	if verdict.State == reorg.StateDiverged {
		return r.recover(ctx, verdict)
	}

	rawHead, hasBlocks, err := r.raw.MaxAvailableBlock(ctx, chainID)
	if err != nil {
		return false, err
	}

	if hasBlocks {
		metrics.RawHeadBlockSet(chainID, rawHead)
	}

	r.status.Update(chainID, func(s *ChainStatus) {
		s.RawHead = rawHead
		s.RangeSize = r.rangeSize
		if wm != nil {
			s.Watermark = wm.LastFinalBlock
			s.HasWatermark = true
		}
	})

	rng, ok := planner.Plan(planner.Input{
		HasWatermark:      wm != nil,
		LastFinalBlock:    watermarkBlock(wm),
		StartBlock:        r.chain.StartBlock,
		HasBlocks:         hasBlocks,
		MaxAvailableBlock: rawHead,
		ConfirmationDepth: r.chain.ConfirmationDepth,
		RangeSize:         r.rangeSize,
	})
	if !ok {
		r.status.Update(chainID, func(s *ChainStatus) {
			s.State = ChainStateWaiting
		})
		return false, nil
	}

	r.status.Update(chainID, func(s *ChainStatus) {
		s.State = ChainStateSyncing
		s.LastCycleID = cycleID
	})

	start := time.Now()

	rangeCtx, cancel := context.WithTimeout(ctx, r.chain.RangeTimeout.Duration)
	res, err := r.processRange(rangeCtx, rng, cycleID)
	cancel()

	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			r.shrinkRange()
			r.log.Warnw("range processing timed out, shrinking range",
				"range", rng.String(),
				"range_size", r.rangeSize,
				"cycle_id", cycleID)
			return true, nil
		}
		return false, err
	}

	if res.deferred {
		reason := res.report.DeferralReason()
		metrics.RangesDeferredInc(chainID, reason)

		r.log.Infow("range deferred, raw coverage incomplete",
			"range", rng.String(),
			"reason", reason,
			"total_logs", res.report.TotalLogs,
			"matched_logs", res.report.MatchedLogs,
			"missing_transactions", res.report.MissingTransactions,
			"missing_receipts", res.report.MissingReceipts,
			"missing_blocks", res.report.MissingBlocks,
			"cycle_id", cycleID)

		r.status.Update(chainID, func(s *ChainStatus) {
			s.State = ChainStateWaiting
			s.RangesDeferred++
		})

		return false, nil
	}

	duration := time.Since(start)

	metrics.RangesProcessedInc(chainID)
	metrics.RowsInsertedAdd(chainID, res.load.Inserted)
	metrics.RowsSkippedAdd(chainID, res.load.Skipped)
	if res.report.DuplicateKeys > 0 {
		metrics.DuplicateKeysAdd(chainID, res.report.DuplicateKeys)
	}
	metrics.WatermarkBlockSet(chainID, rng.To)
	metrics.RangeDurationLog(chainID, duration)

	r.growRange()

	r.status.Update(chainID, func(s *ChainStatus) {
		s.State = ChainStateSyncing
		s.Watermark = rng.To
		s.HasWatermark = true
		s.RangeSize = r.rangeSize
		s.LastRangeFrom = rng.From
		s.LastRangeTo = rng.To
		s.RangesCommitted++
		s.RowsInserted += res.load.Inserted
		s.RowsSkipped += res.load.Skipped
		s.LastError = ""
	})

	r.notifier.RangeCommitted(notify.RangeCommittedEvent{
		ChainID:      chainID,
		FromBlock:    rng.From,
		ToBlock:      rng.To,
		RowsInserted: res.load.Inserted,
		RowsSkipped:  res.load.Skipped,
		Watermark:    rng.To,
		CycleID:      cycleID,
	})

	r.log.Infow("range committed",
		"range", rng.String(),
		"inserted", res.load.Inserted,
		"skipped", res.load.Skipped,
		"duplicate_keys", res.report.DuplicateKeys,
		"duration", duration,
		"cycle_id", cycleID)

	return true, nil
}

// recover rewinds the chain after a detected divergence.
func (r *chainRunner) recover(ctx context.Context, verdict *reorg.Verdict) (bool, error) {
	chainID := r.chain.ChainID

	metrics.ReorgsDetectedInc(chainID)

	r.status.Update(chainID, func(s *ChainStatus) {
		s.State = ChainStateRecovering
	})

	result, err := r.reorgs.Recover(ctx, chainID, verdict)
	if err != nil {
		return false, err
	}

	metrics.ReorgDepthLog(chainID, verdict.Depth)
	metrics.WatermarkBlockSet(chainID, result.RewoundTo)

	r.status.Update(chainID, func(s *ChainStatus) {
		s.Watermark = result.RewoundTo
		s.HasWatermark = true
		s.ReorgsRecovered++
		s.LastError = ""
	})

	r.notifier.ReorgRecovered(notify.ReorgRecoveredEvent{
		ChainID:         chainID,
		DivergenceBlock: verdict.DivergenceBlock,
		RewoundTo:       result.RewoundTo,
		Depth:           verdict.Depth,
		AuditID:         result.Audit.ID,
	})

	return true, nil
}

// rangeResult is the outcome of one processRange call.
type rangeResult struct {
	report   *transform.CoverageReport
	load     staging.Result
	deferred bool
}

// processRange transforms a range and, when fully covered, commits rows,
// journal entries and the watermark advance in one transaction. The commit
// is retried with backoff on transient database failures.
func (r *chainRunner) processRange(ctx context.Context, rng planner.BlockRange, cycleID string) (*rangeResult, error) {
	chainID := r.chain.ChainID

	rows, report, err := r.transformer.TransformRange(ctx, chainID, rng.From, rng.To)
	if err != nil {
		return nil, err
	}

	if !report.FullyCovered() {
		return &rangeResult{report: report, deferred: true}, nil
	}

	headers, err := r.raw.HeadersInRange(ctx, chainID, rng.From, rng.To)
	if err != nil {
		return nil, err
	}

	// The raw layer can shrink between the coverage check and here. Treat
	// it as incomplete coverage and let the next cycle replan.
	if uint64(len(headers)) < rng.Len() {
		report.MissingBlocks = rng.Len() - uint64(len(headers))
		return &rangeResult{report: report, deferred: true}, nil
	}

	tipHash := headers[len(headers)-1].BlockHash

	// Hold the maintenance lock across the commit so a WAL checkpoint or
	// vacuum never runs mid-transaction.
	unlock := r.maintenance.AcquireOperationLock()
	defer unlock()

	var load staging.Result

	err = retryWithBackoff(ctx, r.cfg.Engine.Retry, "commit_range", func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning commit transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := r.canonical.LoadTx(ctx, tx, rows)
		if err != nil {
			return err
		}

		if err := r.journal.RecordTx(ctx, tx, chainID, headers); err != nil {
			return err
		}

		if rng.To > r.chain.MaxRollbackDepth {
			if err := r.journal.PruneTx(ctx, tx, chainID, rng.To-r.chain.MaxRollbackDepth); err != nil {
				return err
			}
		}

		if err := r.watermarks.AdvanceTx(ctx, tx, chainID, rng.To, tipHash); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing range %s: %w", rng.String(), err)
		}

		load = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &rangeResult{report: report, load: load}, nil
}

func (r *chainRunner) growRange() {
	if r.rangeSize >= r.chain.MaxRangeSize {
		return
	}

	r.rangeSize *= 2
	if r.rangeSize > r.chain.MaxRangeSize {
		r.rangeSize = r.chain.MaxRangeSize
	}

	metrics.RangeSizeSet(r.chain.ChainID, r.rangeSize)
}

func (r *chainRunner) shrinkRange() {
	r.rangeSize /= 2
	if r.rangeSize < 1 {
		r.rangeSize = 1
	}

	metrics.RangeSizeSet(r.chain.ChainID, r.rangeSize)
}

func watermarkBlock(wm *watermark.Watermark) uint64 {
	if wm == nil {
		return 0
	}
	return wm.LastFinalBlock
}
