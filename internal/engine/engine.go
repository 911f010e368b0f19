// Package engine runs the ingestion pipeline: one sequential loop per
// configured chain, all loops concurrent with each other. Each cycle checks
// for reorgs, plans the next block range, joins raw rows into canonical
// form and commits rows, journal and watermark in a single transaction.
package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/internal/db"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/internal/notify"
	"github.com/block-forest-studio/indexer-engine/internal/rawdb"
	"github.com/block-forest-studio/indexer-engine/internal/reorg"
	"github.com/block-forest-studio/indexer-engine/internal/staging"
	"github.com/block-forest-studio/indexer-engine/internal/transform"
	"github.com/block-forest-studio/indexer-engine/internal/watermark"
	"github.com/block-forest-studio/indexer-engine/pkg/config"
)

// Engine coordinates ingestion across all configured chains.
type Engine struct {
	cfg         *config.Config
	db          *db.DB
	raw         *rawdb.Store
	canonical   *staging.Store
	watermarks  *watermark.Store
	transformer *transform.Transformer
	journal     *reorg.Journal
	audits      *reorg.AuditStore
	reorgs      *reorg.Manager
	maintenance db.Maintenance
	notifier    notify.Notifier
	status      *StatusRegistry
	log         *logger.Logger
}

// New wires an engine from its configuration and an open database.
func New(cfg *config.Config, database *db.DB, maintenance db.Maintenance, notifier notify.Notifier, log *logger.Logger) *Engine {
	raw := rawdb.New(database)
	canonical := staging.New(database)
	watermarks := watermark.New(database)
	journal := reorg.NewJournal(database)
	audits := reorg.NewAuditStore(database)

	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}

	return &Engine{
		cfg:         cfg,
		db:          database,
		raw:         raw,
		canonical:   canonical,
		watermarks:  watermarks,
		transformer: transform.New(database, log),
		journal:     journal,
		audits:      audits,
		reorgs:      reorg.NewManager(database, raw, journal, canonical, watermarks, audits, maintenance, log),
		maintenance: maintenance,
		notifier:    notifier,
		status:      NewStatusRegistry(),
		log:         log.WithComponent(common.ComponentEngine),
	}
}

// Run starts one loop per configured chain and blocks until every loop has
// returned. Loops stop cleanly on context cancellation; a fatal chain error
// halts only that chain, the others keep running. The first fatal error is
// returned after all loops finish.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Infow("starting engine", "chains", len(e.cfg.Chains))

	// Deliberately not errgroup.WithContext: one chain's fatal error must
	// not cancel its siblings.
	var g errgroup.Group

	for _, chain := range e.cfg.Chains {
		runner := newChainRunner(e, chain)
		g.Go(func() error {
			return runner.run(ctx)
		})
	}

	err := g.Wait()

	e.log.Info("engine stopped")

	return err
}

// Status exposes the per-chain status registry.
func (e *Engine) Status() *StatusRegistry {
	return e.status
}

// Canonical exposes the canonical event-log store.
func (e *Engine) Canonical() *staging.Store {
	return e.canonical
}

// Watermarks exposes the watermark store.
func (e *Engine) Watermarks() *watermark.Store {
	return e.watermarks
}

// Audits exposes the reorg audit store.
func (e *Engine) Audits() *reorg.AuditStore {
	return e.audits
}
