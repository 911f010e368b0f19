// Package notify publishes engine lifecycle events to NATS so downstream
// consumers can react to committed ranges and reorgs without polling the
// database. Publishing is fire-and-forget: a broker outage never blocks or
// fails the pipeline.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/block-forest-studio/indexer-engine/internal/common"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/pkg/config"
)

// RangeCommittedEvent is published after a range commits.
type RangeCommittedEvent struct {
	ChainID      uint64 `json:"chain_id"`
	FromBlock    uint64 `json:"from_block"`
	ToBlock      uint64 `json:"to_block"`
	RowsInserted int64  `json:"rows_inserted"`
	RowsSkipped  int64  `json:"rows_skipped"`
	Watermark    uint64 `json:"watermark"`
	CycleID      string `json:"cycle_id"`
	Timestamp    int64  `json:"timestamp"`
}

// ReorgRecoveredEvent is published after a recovery transaction commits.
type ReorgRecoveredEvent struct {
	ChainID         uint64 `json:"chain_id"`
	DivergenceBlock uint64 `json:"divergence_block"`
	RewoundTo       uint64 `json:"rewound_to"`
	Depth           uint64 `json:"depth"`
	AuditID         string `json:"audit_id"`
	Timestamp       int64  `json:"timestamp"`
}

// ChainHaltedEvent is published when a chain loop stops fatally.
type ChainHaltedEvent struct {
	ChainID   uint64 `json:"chain_id"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// Notifier publishes engine lifecycle events.
type Notifier interface {
	RangeCommitted(event RangeCommittedEvent)
	ReorgRecovered(event ReorgRecoveredEvent)
	ChainHalted(event ChainHaltedEvent)
	Close()
}

// New returns a NATS notifier, or a no-op one when notifications are
// disabled.
func New(cfg *config.NotifierConfig, log *logger.Logger) (Notifier, error) {
	if cfg == nil || !cfg.Enabled {
		return &NopNotifier{}, nil
	}

	return NewNATS(cfg, log)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (n *NopNotifier) RangeCommitted(RangeCommittedEvent) {}
func (n *NopNotifier) ReorgRecovered(ReorgRecoveredEvent) {}
func (n *NopNotifier) ChainHalted(ChainHaltedEvent)       {}
func (n *NopNotifier) Close()                             {}

// NATSNotifier publishes events as JSON messages on
// <subject_prefix>.<kind>.<chain_id> subjects.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

// NewNATS connects to the configured NATS server.
func NewNATS(cfg *config.NotifierConfig, log *logger.Logger) (*NATSNotifier, error) {
	componentLog := log.WithComponent(common.ComponentNotifier)

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout.Duration),
		nats.ReconnectWait(cfg.ReconnectWait.Duration),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			componentLog.Warnw("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			componentLog.Infow("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	componentLog.Infow("connected to NATS",
		"url", cfg.URL,
		"subject_prefix", cfg.SubjectPrefix)

	return &NATSNotifier{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		log:    componentLog,
	}, nil
}

// RangeCommitted publishes a committed-range event.
func (n *NATSNotifier) RangeCommitted(event RangeCommittedEvent) {
	event.Timestamp = time.Now().Unix()
	n.publish(fmt.Sprintf("%s.committed.%d", n.prefix, event.ChainID), event)
}

// ReorgRecovered publishes a reorg-recovery event.
func (n *NATSNotifier) ReorgRecovered(event ReorgRecoveredEvent) {
	event.Timestamp = time.Now().Unix()
	n.publish(fmt.Sprintf("%s.reorg.%d", n.prefix, event.ChainID), event)
}

// ChainHalted publishes a chain-halt event.
func (n *NATSNotifier) ChainHalted(event ChainHaltedEvent) {
	event.Timestamp = time.Now().Unix()
	n.publish(fmt.Sprintf("%s.halted.%d", n.prefix, event.ChainID), event)
}

func (n *NATSNotifier) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.log.Errorw("failed to marshal notification", "subject", subject, "error", err)
		return
	}

	if err := n.conn.Publish(subject, data); err != nil {
		n.log.Warnw("failed to publish notification", "subject", subject, "error", err)
	}
}

// Close flushes buffered messages and closes the connection.
func (n *NATSNotifier) Close() {
	if err := n.conn.FlushTimeout(2 * time.Second); err != nil {
		n.log.Warnw("failed to flush NATS connection", "error", err)
	}

	n.conn.Close()
}
