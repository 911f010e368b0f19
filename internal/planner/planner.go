// Package planner computes the next contiguous block range a chain should
// process. It is pure: callers feed it the watermark and raw-layer state and
// it never touches storage itself.
package planner

import "fmt"

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// Input carries everything a planning decision depends on.
type Input struct {
	// HasWatermark is false until the chain commits its first range.
	HasWatermark   bool
	LastFinalBlock uint64

	// StartBlock is where ingestion begins on a chain with no watermark.
	StartBlock uint64

	// HasBlocks is false when the raw layer holds no blocks for the chain.
	HasBlocks         bool
	MaxAvailableBlock uint64

	// ConfirmationDepth is subtracted from MaxAvailableBlock to get the
	// safe head. Blocks above the safe head are left for a later cycle.
	ConfirmationDepth uint64

	// RangeSize is the current adaptive range size. Values below 1 are
	// treated as 1.
	RangeSize uint64
}

// Plan returns the next range to process and whether one exists. No range
// exists when the raw layer is empty or the safe head has not reached the
// next unprocessed block.
func Plan(in Input) (BlockRange, bool) {
	first := in.StartBlock
	if in.HasWatermark {
		first = in.LastFinalBlock + 1
	}

	if !in.HasBlocks || in.MaxAvailableBlock < in.ConfirmationDepth {
		return BlockRange{}, false
	}

	safeHead := in.MaxAvailableBlock - in.ConfirmationDepth
	if safeHead < first {
		return BlockRange{}, false
	}

	size := in.RangeSize
	if size < 1 {
		size = 1
	}

	to := safeHead
	if maxTo := first + size - 1; maxTo < to {
		to = maxTo
	}

	return BlockRange{From: first, To: to}, true
}
