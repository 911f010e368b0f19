package staging

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Table is the canonical event-log table the engine owns.
const Table = "staging_event_logs"

// EventLog is one canonical event-log row, keyed by (chain_id, block_number,
// log_index). Identifier and hash fields are opaque bytes; the engine never
// decodes or normalizes them.
type EventLog struct {
	ChainID             uint64          `meddler:"chain_id" json:"chain_id"`
	BlockNumber         uint64          `meddler:"block_number" json:"block_number"`
	LogIndex            uint64          `meddler:"log_index" json:"log_index"`
	BlockTimestamp      uint64          `meddler:"block_timestamp" json:"block_timestamp"`
	TransactionHash     common.Hash     `meddler:"transaction_hash,hash" json:"transaction_hash"`
	TransactionIndex    uint64          `meddler:"transaction_index" json:"transaction_index"`
	TxFrom              common.Address  `meddler:"tx_from,address" json:"tx_from"`
	TxTo                *common.Address `meddler:"tx_to,address" json:"tx_to,omitempty"`
	TxValue             *big.Int        `meddler:"tx_value,bigint" json:"tx_value"`
	TxType              *uint64         `meddler:"tx_type" json:"tx_type,omitempty"`
	TxStatus            *uint64         `meddler:"tx_status" json:"tx_status,omitempty"`
	TxGasUsed           uint64          `meddler:"tx_gas_used" json:"tx_gas_used"`
	TxCumulativeGasUsed uint64          `meddler:"tx_cumulative_gas_used" json:"tx_cumulative_gas_used"`
	TxEffectiveGasPrice *big.Int        `meddler:"tx_effective_gas_price,bigint" json:"tx_effective_gas_price,omitempty"`
	Address             common.Address  `meddler:"address,address" json:"address"`
	Topic0              *common.Hash    `meddler:"topic0,hash" json:"topic0,omitempty"`
	Topic1              *common.Hash    `meddler:"topic1,hash" json:"topic1,omitempty"`
	Topic2              *common.Hash    `meddler:"topic2,hash" json:"topic2,omitempty"`
	Topic3              *common.Hash    `meddler:"topic3,hash" json:"topic3,omitempty"`
	Data                []byte          `meddler:"data" json:"data,omitempty"`
}

// Key identifies a canonical row.
type Key struct {
	ChainID     uint64
	BlockNumber uint64
	LogIndex    uint64
}

// Key returns the row's natural primary key.
func (e *EventLog) Key() Key {
	return Key{ChainID: e.ChainID, BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// PayloadEquals reports whether two rows carry the same payload. Used to
// distinguish harmless duplicate rows from raw-layer corruption when the
// same key shows up twice in one transform batch.
func (e *EventLog) PayloadEquals(other *EventLog) bool {
	return e.BlockTimestamp == other.BlockTimestamp &&
		e.TransactionHash == other.TransactionHash &&
		e.TransactionIndex == other.TransactionIndex &&
		e.TxFrom == other.TxFrom &&
		addrPtrEqual(e.TxTo, other.TxTo) &&
		bigIntEqual(e.TxValue, other.TxValue) &&
		uint64PtrEqual(e.TxType, other.TxType) &&
		uint64PtrEqual(e.TxStatus, other.TxStatus) &&
		e.TxGasUsed == other.TxGasUsed &&
		e.TxCumulativeGasUsed == other.TxCumulativeGasUsed &&
		bigIntEqual(e.TxEffectiveGasPrice, other.TxEffectiveGasPrice) &&
		e.Address == other.Address &&
		hashPtrEqual(e.Topic0, other.Topic0) &&
		hashPtrEqual(e.Topic1, other.Topic1) &&
		hashPtrEqual(e.Topic2, other.Topic2) &&
		hashPtrEqual(e.Topic3, other.Topic3) &&
		bytes.Equal(e.Data, other.Data)
}

func hashPtrEqual(a, b *common.Hash) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func addrPtrEqual(a, b *common.Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func uint64PtrEqual(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func bigIntEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

// BlockBounds is the earliest and latest block with canonical rows for a
// chain, resolved for the status API.
type BlockBounds struct {
	Earliest uint64 `json:"earliest"`
	Latest   uint64 `json:"latest"`
}
