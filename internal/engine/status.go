package engine

import (
	"sort"
	"sync"
	"time"
)

// ChainState is the lifecycle state of one chain loop.
type ChainState string

const (
	// ChainStateStarting means the loop has not completed a cycle yet.
	ChainStateStarting ChainState = "starting"
	// ChainStateSyncing means the loop is processing ranges.
	ChainStateSyncing ChainState = "syncing"
	// ChainStateWaiting means the loop is caught up, or blocked on raw
	// coverage, and polling.
	ChainStateWaiting ChainState = "waiting"
	// ChainStateRecovering means a reorg rewind is in progress.
	ChainStateRecovering ChainState = "recovering"
	// ChainStateHalted means the loop stopped fatally.
	ChainStateHalted ChainState = "halted"
)

// ChainStatus is a point-in-time snapshot of one chain loop, maintained for
// the status API and the shutdown report.
type ChainStatus struct {
	ChainID   uint64     `json:"chain_id"`
	Name      string     `json:"name"`
	State     ChainState `json:"state"`
	Watermark uint64     `json:"watermark"`
	// HasWatermark is false until the chain commits its first range.
	HasWatermark    bool   `json:"has_watermark"`
	RawHead         uint64 `json:"raw_head"`
	RangeSize       uint64 `json:"range_size"`
	LastRangeFrom   uint64 `json:"last_range_from"`
	LastRangeTo     uint64 `json:"last_range_to"`
	LastCycleID     string `json:"last_cycle_id"`
	RangesCommitted uint64 `json:"ranges_committed"`
	RangesDeferred  uint64 `json:"ranges_deferred"`
	RowsInserted    int64  `json:"rows_inserted"`
	RowsSkipped     int64  `json:"rows_skipped"`
	ReorgsRecovered uint64 `json:"reorgs_recovered"`
	LastError       string `json:"last_error,omitempty"`
	UpdatedAt       int64  `json:"updated_at"`
}

// StatusRegistry holds chain snapshots behind a mutex. Chain loops write,
// the API reads.
type StatusRegistry struct {
	mu     sync.RWMutex
	chains map[uint64]*ChainStatus
}

// NewStatusRegistry creates an empty registry.
func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{chains: make(map[uint64]*ChainStatus)}
}

// Register adds a chain in the starting state.
func (r *StatusRegistry) Register(chainID uint64, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.chains[chainID] = &ChainStatus{
		ChainID:   chainID,
		Name:      name,
		State:     ChainStateStarting,
		UpdatedAt: time.Now().Unix(),
	}
}

// Update applies fn to the chain's snapshot under the write lock.
func (r *StatusRegistry) Update(chainID uint64, fn func(*ChainStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.chains[chainID]
	if !ok {
		return
	}

	fn(status)
	status.UpdatedAt = time.Now().Unix()
}

// Get returns a copy of the chain's snapshot.
func (r *StatusRegistry) Get(chainID uint64) (ChainStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.chains[chainID]
	if !ok {
		return ChainStatus{}, false
	}

	return *status, true
}

// All returns copies of every chain snapshot, ordered by chain id.
func (r *StatusRegistry) All() []ChainStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]ChainStatus, 0, len(r.chains))
	for _, status := range r.chains {
		statuses = append(statuses, *status)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ChainID < statuses[j].ChainID
	})

	return statuses
}

// Healthy reports whether no chain has halted.
func (r *StatusRegistry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, status := range r.chains {
		if status.State == ChainStateHalted {
			return false
		}
	}

	return true
}
