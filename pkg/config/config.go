package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
)

// Config represents the complete configuration for the indexer engine.
type Config struct {
	// Engine contains engine-wide processing configuration
	Engine EngineConfig `yaml:"engine" json:"engine" toml:"engine"`

	// Chains contains the configuration for all chains to ingest
	Chains []ChainConfig `yaml:"chains" json:"chains" toml:"chains"`

	// Database contains the persistence layer configuration
	Database DatabaseConfig `yaml:"database" json:"database" toml:"database"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the status API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`

	// Notifier contains the NATS notification configuration
	Notifier *NotifierConfig `yaml:"notifier,omitempty" json:"notifier,omitempty" toml:"notifier,omitempty"`
}

// EngineConfig represents engine-wide processing configuration shared by
// all chain loops.
type EngineConfig struct {
	// Retry contains persistence retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// Maintenance contains optional database maintenance settings (SQLite only)
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`
}

// ApplyDefaults sets default values for optional engine configuration fields.
func (e *EngineConfig) ApplyDefaults() {
	if e.Retry == nil {
		e.Retry = &RetryConfig{}
	}
	e.Retry.ApplyDefaults()

	if e.Maintenance != nil {
		e.Maintenance.ApplyDefaults()
	}
}

// ChainConfig represents the per-chain ingestion configuration.
type ChainConfig struct {
	// ChainID is the numeric chain identifier (e.g. 1 for mainnet)
	ChainID uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`

	// Name is a human readable label used in logs and the status API
	Name string `yaml:"name" json:"name" toml:"name"`

	// StartBlock is the first block to process when no watermark exists yet
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// ConfirmationDepth is the number of blocks that must exist past a block
	// before it is considered safe to process
	ConfirmationDepth uint64 `yaml:"confirmation_depth" json:"confirmation_depth" toml:"confirmation_depth"`

	// MaxRangeSize is the upper bound on blocks processed per cycle
	MaxRangeSize uint64 `yaml:"max_range_size" json:"max_range_size" toml:"max_range_size"`

	// MaxRollbackDepth is the deepest reorg the engine will recover from
	// before halting the chain
	MaxRollbackDepth uint64 `yaml:"max_rollback_depth" json:"max_rollback_depth" toml:"max_rollback_depth"`

	// PollInterval is how long to wait when the raw layer has no new blocks
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// RangeTimeout bounds a single range's transform and load; on expiry the
	// range is retried with a smaller size
	RangeTimeout common.Duration `yaml:"range_timeout" json:"range_timeout" toml:"range_timeout"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.ConfirmationDepth == 0 {
		c.ConfirmationDepth = 12
	}
	if c.MaxRangeSize == 0 {
		c.MaxRangeSize = 10000
	}
	if c.MaxRollbackDepth == 0 {
		c.MaxRollbackDepth = 64
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval = common.NewDuration(12 * time.Second) //nolint:mnd
	}
	if c.RangeTimeout.Duration == 0 {
		c.RangeTimeout = common.NewDuration(time.Minute)
	}
}

// RetryConfig represents persistence retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(500 * time.Millisecond) //nolint:mnd
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// Database driver names accepted by DatabaseConfig.Driver.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DatabaseConfig represents the persistence layer configuration. The engine
// supports SQLite (default, file based) and PostgreSQL.
type DatabaseConfig struct {
	// Driver selects the database backend: "sqlite3" or "postgres"
	Driver string `yaml:"driver" json:"driver" toml:"driver"`

	// Path is the file path to the SQLite database (sqlite3 only)
	Path string `yaml:"path" json:"path" toml:"path"`

	// DSN is the PostgreSQL connection string (postgres only)
	DSN string `yaml:"dsn" json:"dsn" toml:"dsn"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the SQLite synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when SQLite is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the SQLite page cache size (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables SQLite foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.Driver == "" {
		d.Driver = DriverSQLite
	}
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	switch common.ToLowerWithTrim(d.Driver) {
	case DriverSQLite:
		if d.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite3 driver")
		}
		if d.JournalMode != "" && !slices.Contains(
			[]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
			return fmt.Errorf("database.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
		}
		if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
			return fmt.Errorf("database.synchronous must be one of: FULL, NORMAL, OFF")
		}
	case DriverPostgres:
		if d.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be one of: %s, %s", DriverSQLite, DriverPostgres)
	}

	return nil
}

// MaintenanceConfig configures database maintenance behavior (SQLite only).
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
	// Enabled defaults to false (zero value)
	// VacuumOnStartup defaults to false (zero value)
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - engine: Per-chain run coordination
	//   - range-planner: Range planning
	//   - transformer: Canonical transform
	//   - loader: Idempotent staging loads
	//   - watermark-store: Watermark persistence
	//   - reorg-manager: Reorganization detection and recovery
	//   - notifier: Commit/reorg notifications
	//   - maintenance: Database maintenance
	//   - api: Status API
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	// Development defaults to false (zero value)
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
	// Enabled defaults to false (zero value)
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// APIConfig configures the chain status HTTP API.
type APIConfig struct {
	// Enabled controls whether the status API server runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request
	ReadTimeout common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request
	IdleTimeout common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// CORS contains cross-origin resource sharing settings
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`

	// RateLimit contains per-client request rate limiting settings
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit" toml:"rate_limit"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
	a.RateLimit.ApplyDefaults()
}

// Validate checks if the API configuration is valid.
func (a *APIConfig) Validate() error {
	if a.Enabled && a.ListenAddress == "" {
		return fmt.Errorf("listen_address is required when the API is enabled")
	}
	if a.RateLimit.Enabled && a.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive when rate limiting is enabled")
	}
	return nil
}

// CORSConfig configures cross-origin resource sharing for the API.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// AllowedOrigins lists origins allowed to call the API ("*" for any)
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// RateLimitConfig configures per-client request rate limiting for the API.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is applied
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// RequestsPerSecond is the sustained request rate allowed per client IP
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" toml:"requests_per_second"`

	// Burst is the number of requests allowed to exceed the sustained rate
	Burst int `yaml:"burst" json:"burst" toml:"burst"`
}

// ApplyDefaults sets default values for optional rate limit configuration fields.
func (r *RateLimitConfig) ApplyDefaults() {
	if r.RequestsPerSecond == 0 {
		r.RequestsPerSecond = 10
	}
	if r.Burst == 0 {
		r.Burst = 20
	}
}

// NotifierConfig configures NATS notifications for committed ranges and reorgs.
type NotifierConfig struct {
	// Enabled controls whether notifications are published
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string `yaml:"url" json:"url" toml:"url"`

	// Name is the client connection name for identification
	Name string `yaml:"name" json:"name" toml:"name"`

	// SubjectPrefix is the prefix for published subjects
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix" toml:"subject_prefix"`

	// ConnectTimeout is the initial connection timeout
	ConnectTimeout common.Duration `yaml:"connect_timeout" json:"connect_timeout" toml:"connect_timeout"`

	// ReconnectWait is the time to wait between reconnection attempts
	ReconnectWait common.Duration `yaml:"reconnect_wait" json:"reconnect_wait" toml:"reconnect_wait"`

	// MaxReconnects is the maximum reconnection attempts (-1 for unlimited)
	MaxReconnects int `yaml:"max_reconnects" json:"max_reconnects" toml:"max_reconnects"`
}

// ApplyDefaults sets default values for optional notifier configuration fields.
func (n *NotifierConfig) ApplyDefaults() {
	if n.Name == "" {
		n.Name = "indexer-engine"
	}
	if n.SubjectPrefix == "" {
		n.SubjectPrefix = "indexer.events"
	}
	if n.ConnectTimeout.Duration == 0 {
		n.ConnectTimeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if n.ReconnectWait.Duration == 0 {
		n.ReconnectWait = common.NewDuration(2 * time.Second) //nolint:mnd
	}
	if n.MaxReconnects == 0 {
		n.MaxReconnects = -1
	}
}

// Validate checks if the notifier configuration is valid.
func (n *NotifierConfig) Validate() error {
	if n.Enabled && n.URL == "" {
		return fmt.Errorf("notifier.url is required when the notifier is enabled")
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Engine.ApplyDefaults()
	c.Database.ApplyDefaults()

	for i := range c.Chains {
		c.Chains[i].ApplyDefaults()
	}

	// Always materialized so callers can hand it to the logger package
	// without a nil check.
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}

	if c.API != nil {
		c.API.ApplyDefaults()
	}

	if c.Notifier != nil {
		c.Notifier.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.Engine.Maintenance != nil {
		if common.ToLowerWithTrim(c.Database.Driver) != DriverSQLite && c.Engine.Maintenance.Enabled {
			return fmt.Errorf("engine.maintenance is only supported with the sqlite3 driver")
		}
		if err := c.Engine.Maintenance.Validate(); err != nil {
			return fmt.Errorf("engine.maintenance: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if c.API != nil {
		if err := c.API.Validate(); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	if c.Notifier != nil {
		if err := c.Notifier.Validate(); err != nil {
			return err
		}
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	chainIDs := make(map[uint64]bool)
	for i, chain := range c.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chain[%d]: chain_id is required", i)
		}

		if chainIDs[chain.ChainID] {
			return fmt.Errorf("chain[%d]: duplicate chain_id %d", i, chain.ChainID)
		}
		chainIDs[chain.ChainID] = true

		if chain.ConfirmationDepth >= chain.MaxRollbackDepth {
			return fmt.Errorf("chain[%d] (%d): confirmation_depth (%d) must be below max_rollback_depth (%d)",
				i, chain.ChainID, chain.ConfirmationDepth, chain.MaxRollbackDepth)
		}
	}

	return nil
}

// ChainByID returns the configuration for the given chain, or nil when the
// chain is not configured.
func (c *Config) ChainByID(chainID uint64) *ChainConfig {
	for i := range c.Chains {
		if c.Chains[i].ChainID == chainID {
			return &c.Chains[i]
		}
	}
	return nil
}
