package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	commonpkg "github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/internal/engine"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/internal/notify"
	"github.com/block-forest-studio/indexer-engine/pkg/api"
	"github.com/block-forest-studio/indexer-engine/pkg/config"
	"github.com/block-forest-studio/indexer-engine/tests/helpers"
)

// TestAPI_IntegrationWithEngine tests the complete flow: raw fixtures →
// engine sync → API queries over a live HTTP listener.
func TestAPI_IntegrationWithEngine(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	// ========================================
	// 1. SETUP PHASE
	// ========================================

	database := helpers.NewTestDB(t, "api_integration.db")

	// Raw coverage for blocks 1-30. With confirmation depth 5 the engine
	// should settle at watermark 25.
	helpers.SeedBlocks(t, database, 1, 1, 30)

	log, err := logger.NewLogger("info", false)
	require.NoError(t, err)

	cfg := &config.Config{
		Engine: config.EngineConfig{
			Retry: &config.RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    commonpkg.NewDuration(10 * time.Millisecond),
				MaxBackoff:        commonpkg.NewDuration(100 * time.Millisecond),
				BackoffMultiplier: 2.0,
			},
		},
		Chains: []config.ChainConfig{
			{
				ChainID:           1,
				Name:              "ethereum",
				StartBlock:        1,
				ConfirmationDepth: 5,
				MaxRangeSize:      50,
				MaxRollbackDepth:  10,
				PollInterval:      commonpkg.NewDuration(20 * time.Millisecond),
				RangeTimeout:      commonpkg.NewDuration(30 * time.Second),
			},
		},
	}

	eng := engine.New(cfg, database, nil, &notify.NopNotifier{}, log)

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(ctx)
	}()

	apiConfig := &config.APIConfig{
		Enabled:       true,
		ListenAddress: ":18980",
		ReadTimeout:   commonpkg.NewDuration(30 * time.Second),
		WriteTimeout:  commonpkg.NewDuration(30 * time.Second),
		IdleTimeout:   commonpkg.NewDuration(120 * time.Second),
		CORS: config.CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
		},
	}
	apiServer := api.NewServer(apiConfig, eng, log)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	baseURL := "http://localhost" + apiConfig.ListenAddress

	// ========================================
	// 2. SYNC PHASE
	// ========================================

	require.Eventually(t, func() bool {
		wm, err := eng.Watermarks().Get(context.Background(), 1)
		return err == nil && wm != nil && wm.LastFinalBlock == 25
	}, 10*time.Second, 20*time.Millisecond, "engine did not reach watermark 25")

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "API server did not come up")

	t.Logf("✓ Engine synced to watermark 25, API server up on %s", apiConfig.ListenAddress)

	// ========================================
	// 3. API TESTING PHASE
	// ========================================

	t.Run("GET /health", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result api.HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Equal(t, "ok", result.Status)
		require.Len(t, result.Chains, 1)
		require.Equal(t, uint64(1), result.Chains[0].ChainID)
		require.True(t, result.Chains[0].Healthy)
	})

	t.Run("GET /api/v1/chains", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/v1/chains")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result api.ChainListResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Equal(t, 1, result.Count)
		require.Len(t, result.Chains, 1)
		require.Equal(t, uint64(1), result.Chains[0].ChainID)
		require.Equal(t, "ethereum", result.Chains[0].Name)
		require.True(t, result.Chains[0].HasWatermark)
		require.Equal(t, uint64(25), result.Chains[0].Watermark)
		require.Equal(t, uint64(30), result.Chains[0].RawHead)
	})

	t.Run("GET /api/v1/chains/{chain_id}", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/v1/chains/1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result api.ChainDetailResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Equal(t, uint64(1), result.ChainID)
		require.Equal(t, uint64(25), result.EventCount)
		require.NotNil(t, result.BlockBounds)
		require.Equal(t, uint64(1), result.BlockBounds.Earliest)
		require.Equal(t, uint64(25), result.BlockBounds.Latest)
		require.Empty(t, result.RecentReorgs)
	})

	t.Run("GET /api/v1/chains/{chain_id} with hex id", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/v1/chains/0x1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result api.ChainDetailResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Equal(t, uint64(1), result.ChainID)
	})

	t.Run("GET /api/v1/chains/{chain_id}/reorgs", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/v1/chains/1/reorgs")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result api.ReorgListResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Equal(t, uint64(1), result.ChainID)
		require.Zero(t, result.Count)
		require.Empty(t, result.Reorgs)
	})

	t.Run("GET unknown chain - 404", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/v1/chains/42")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		var result api.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Equal(t, http.StatusNotFound, result.Code)
		require.Contains(t, result.Message, "chain 42 not found")
	})

	t.Run("GET invalid chain id - 400", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/v1/chains/not-a-number")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("GET invalid reorg limit - 400", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/v1/chains/1/reorgs?limit=0")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("CORS headers", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, baseURL+"/api/v1/chains", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	// ========================================
	// 4. SHUTDOWN PHASE
	// ========================================

	cancel()

	select {
	case err := <-engineDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
	}

	select {
	case err := <-serverDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("API server did not stop")
	}

	t.Log("✓ Engine and API server stopped cleanly")
}
