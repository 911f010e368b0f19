package api

import (
	"time"

	"github.com/block-forest-studio/indexer-engine/internal/engine"
	"github.com/block-forest-studio/indexer-engine/internal/reorg"
	"github.com/block-forest-studio/indexer-engine/internal/staging"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Chains    []ChainHealth `json:"chains"`
}

// ChainHealth represents the health of a single chain loop.
type ChainHealth struct {
	ChainID uint64 `json:"chain_id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Healthy bool   `json:"healthy"`
}

// ChainListResponse lists the status of every configured chain.
type ChainListResponse struct {
	Chains []engine.ChainStatus `json:"chains"`
	Count  int                  `json:"count"`
}

// ChainDetailResponse is one chain's status plus storage-derived detail.
type ChainDetailResponse struct {
	engine.ChainStatus
	EventCount   uint64               `json:"event_count"`
	BlockBounds  *staging.BlockBounds `json:"block_bounds,omitempty"`
	RecentReorgs []*reorg.Audit       `json:"recent_reorgs"`
}

// ReorgListResponse lists recovered reorgs for one chain, newest first.
type ReorgListResponse struct {
	ChainID uint64         `json:"chain_id"`
	Reorgs  []*reorg.Audit `json:"reorgs"`
	Count   int            `json:"count"`
}
