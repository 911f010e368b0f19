package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/internal/engine"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/internal/reorg"
	"github.com/block-forest-studio/indexer-engine/internal/staging"
)

// recentReorgLimit caps the reorg rows embedded in a chain detail response.
const recentReorgLimit = 10

// EngineView is the read-only slice of the engine the API serves from.
type EngineView interface {
	Status() *engine.StatusRegistry
	Canonical() *staging.Store
	Audits() *reorg.AuditStore
}

// Handler handles HTTP requests for the API.
type Handler struct {
	view EngineView
	log  *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(view EngineView, log *logger.Logger) *Handler {
	return &Handler{
		view: view,
		log:  log,
	}
}

// Health returns the health status of the API and all chain loops.
// @Summary Health check
// @Description Check the health status of the engine and all chain loops
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Engine and chain health status"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := h.view.Status().All()

	chains := make([]ChainHealth, 0, len(statuses))
	for _, status := range statuses {
		chains = append(chains, ChainHealth{
			ChainID: status.ChainID,
			Name:    status.Name,
			State:   string(status.State),
			Healthy: status.State != engine.ChainStateHalted,
		})
	}

	overall := "ok"
	if !h.view.Status().Healthy() {
		overall = "degraded"
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Chains:    chains,
	})
}

// ListChains returns the status of every configured chain.
// @Summary List all chains
// @Description Get the ingestion status of every configured chain
// @Tags Chains
// @Produce json
// @Success 200 {object} ChainListResponse "List of chain statuses"
// @Router /chains [get]
func (h *Handler) ListChains(w http.ResponseWriter, r *http.Request) {
	statuses := h.view.Status().All()

	respondJSON(w, http.StatusOK, ChainListResponse{
		Chains: statuses,
		Count:  len(statuses),
	})
}

// GetChain returns one chain's status with storage-derived detail.
// @Summary Get chain status
// @Description Get one chain's ingestion status, canonical row count, block bounds and recent reorgs
// @Tags Chains
// @Produce json
// @Param chain_id path integer true "Chain ID"
// @Success 200 {object} ChainDetailResponse "Chain status detail"
// @Failure 400 {object} ErrorResponse "Invalid chain id"
// @Failure 404 {object} ErrorResponse "Chain not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /chains/{chain_id} [get]
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	chainID, err := parseChainID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, ok := h.view.Status().Get(chainID)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("chain %d not found", chainID))
		return
	}

	eventCount, err := h.view.Canonical().EventCount(r.Context(), chainID)
	if err != nil {
		h.log.Errorw("failed to count events", "chain_id", chainID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to count events")
		return
	}

	bounds, err := h.view.Canonical().BlockBounds(r.Context(), chainID)
	if err != nil {
		h.log.Errorw("failed to resolve block bounds", "chain_id", chainID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to resolve block bounds")
		return
	}

	reorgs, err := h.view.Audits().ListByChain(r.Context(), chainID, recentReorgLimit)
	if err != nil {
		h.log.Errorw("failed to list reorgs", "chain_id", chainID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list reorgs")
		return
	}

	respondJSON(w, http.StatusOK, ChainDetailResponse{
		ChainStatus:  status,
		EventCount:   eventCount,
		BlockBounds:  bounds,
		RecentReorgs: reorgs,
	})
}

// GetChainReorgs returns recovered reorgs for one chain, newest first.
// @Summary List chain reorgs
// @Description Get the audit trail of recovered reorganizations for one chain
// @Tags Chains
// @Produce json
// @Param chain_id path integer true "Chain ID"
// @Param limit query integer false "Maximum number of entries to return" default(20)
// @Success 200 {object} ReorgListResponse "Reorg audit entries"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Chain not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /chains/{chain_id}/reorgs [get]
func (h *Handler) GetChainReorgs(w http.ResponseWriter, r *http.Request) {
	chainID, err := parseChainID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := h.view.Status().Get(chainID); !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("chain %d not found", chainID))
		return
	}

	limit := uint64(20)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.ParseUint(limitStr, 10, 64)
		if err != nil || parsed < 1 || parsed > 1000 {
			respondError(w, http.StatusBadRequest, "invalid limit: must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	reorgs, err := h.view.Audits().ListByChain(r.Context(), chainID, limit)
	if err != nil {
		h.log.Errorw("failed to list reorgs", "chain_id", chainID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list reorgs")
		return
	}

	respondJSON(w, http.StatusOK, ReorgListResponse{
		ChainID: chainID,
		Reorgs:  reorgs,
		Count:   len(reorgs),
	})
}

// parseChainID reads the chain_id path value. Decimal and 0x-prefixed hex
// forms are both accepted.
func parseChainID(r *http.Request) (uint64, error) {
	raw := r.PathValue("chain_id")
	if raw == "" {
		return 0, fmt.Errorf("chain id is required")
	}

	chainID, err := common.ParseUint64orHex(&raw)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q", raw)
	}

	return chainID, nil
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode JSON first to catch any errors before writing status
	encoded, err := json.Marshal(data)
	if err != nil {
		// Log the error but we can still set proper status since headers haven't been sent
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	// Only write status after successful encoding
	w.WriteHeader(status)

	// Write the encoded JSON
	if _, err := w.Write(encoded); err != nil {
		// Headers already sent, can only log the error
		// The partial response may have been sent to client
		return
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	respondJSON(w, status, response)
}
