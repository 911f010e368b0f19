package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/internal/config"
	"github.com/block-forest-studio/indexer-engine/internal/db"
	"github.com/block-forest-studio/indexer-engine/internal/engine"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/internal/metrics"
	"github.com/block-forest-studio/indexer-engine/internal/migrations"
	"github.com/block-forest-studio/indexer-engine/internal/notify"
	"github.com/block-forest-studio/indexer-engine/pkg/api"
	pkgconfig "github.com/block-forest-studio/indexer-engine/pkg/config"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         Indexer Engine v%s             ║
║   EVM Chain Data Ingestion Pipeline       ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath string
	onlyChains []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer-engine",
	Short: "Indexer Engine - EVM chain data ingestion pipeline",
	Long: `Indexer Engine joins raw EVM chain data (blocks, transactions, receipts,
logs) into a canonical event-log table. It processes confirmed block ranges
chain by chain, deduplicates rows on replay, and rewinds committed state past
chain reorganizations.`,
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ingestion loops for every configured chain",
	Long: `Run starts one ingestion loop per configured chain and keeps them running
until interrupted. Each loop plans confirmed block ranges, joins the raw
tables into canonical event logs, and commits rows, journal and watermark
in one transaction.`,
	RunE: runEngine,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations and exit",
	RunE:  runMigrate,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration file JSON schema",
	Long:  `Print a JSON schema describing the configuration file, for editor completion and validation.`,
	RunE:  runSchema,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("indexer-engine v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	runCmd.Flags().StringSliceVar(&onlyChains, "chains", nil, "run only these chain IDs (default: all configured)")
	rootCmd.AddCommand(runCmd, migrateCmd, schemaCmd, versionCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	// Load configuration
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(onlyChains) > 0 {
		cfg.Chains, err = filterChains(cfg.Chains, onlyChains)
		if err != nil {
			return err
		}
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logging.GetDefaultLevel(), cfg.Logging.IsDevelopment())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetDefaultLogger(log)
	defer func() { _ = log.Close() }()

	// Initialize database
	database, err := db.NewFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	// Run migrations
	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(log, database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize maintenance coordinator
	maintenance := db.NewMaintenance(database, cfg.Engine.Maintenance, cfg.Database.Path, log)
	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer func() {
		if err := maintenance.Stop(); err != nil {
			log.Warnf("Failed to stop maintenance: %v", err)
		}
	}()

	// Initialize metrics server if enabled
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	// Initialize notifier
	notifier, err := notify.New(cfg.Notifier, log)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}
	defer notifier.Close()

	// Initialize engine
	eng := engine.New(cfg, database, maintenance, notifier, log)

	// Start API server if enabled
	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(
			cfg.API,
			eng,
			logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging),
		)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("API server error: %v", err)
			}
		}()
	}

	// Start ingesting
	log.Info("Starting Indexer Engine...")

	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("engine failed: %w", err)
	}

	log.Info("Indexer Engine stopped successfully")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.GetDefaultLevel(), cfg.Logging.IsDevelopment())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	database, err := db.NewFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := migrations.RunMigrations(log, database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	fmt.Println("Migrations applied successfully.")
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	schema := jsonschema.Reflect(&pkgconfig.Config{})

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	fmt.Println(string(out))
	return nil
}

// filterChains keeps only the chains whose IDs were passed on the command
// line. Unknown IDs are an error so a typo does not silently run nothing.
func filterChains(chains []pkgconfig.ChainConfig, ids []string) ([]pkgconfig.ChainConfig, error) {
	want := make(map[uint64]bool, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q", raw)
		}
		want[id] = true
	}

	var filtered []pkgconfig.ChainConfig
	for _, chain := range chains {
		if want[chain.ChainID] {
			filtered = append(filtered, chain)
			delete(want, chain.ChainID)
		}
	}

	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for id := range want {
			missing = append(missing, strconv.FormatUint(id, 10))
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("chain ids not in configuration: %s", strings.Join(missing, ", "))
	}

	return filtered, nil
}
