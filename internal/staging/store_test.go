package staging

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/block-forest-studio/indexer-engine/internal/db"
	"github.com/block-forest-studio/indexer-engine/internal/logger"
	"github.com/block-forest-studio/indexer-engine/internal/migrations"
)

func newStagingDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "staging_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.RunMigrations(logger.NewNopLogger(), database))

	return database
}

// testEvent builds a fully populated row whose payload is deterministic in
// its key, so first-write-wins checks can tell rows apart.
func testEvent(chainID, block, logIndex uint64) *EventLog {
	txType := uint64(2)
	txStatus := uint64(1)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	topic0 := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

	return &EventLog{
		ChainID:             chainID,
		BlockNumber:         block,
		LogIndex:            logIndex,
		BlockTimestamp:      1700000000 + block*12,
		TransactionHash:     common.BytesToHash(fmt.Appendf(nil, "tx-%d-%d-%d", chainID, block, logIndex)),
		TransactionIndex:    logIndex,
		TxFrom:              common.HexToAddress("0x0000000000000000000000000000000000000001"),
		TxTo:                &to,
		TxValue:             big.NewInt(int64(block) * 1000),
		TxType:              &txType,
		TxStatus:            &txStatus,
		TxGasUsed:           21000,
		TxCumulativeGasUsed: 42000,
		TxEffectiveGasPrice: big.NewInt(15000000000),
		Address:             common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		Topic0:              &topic0,
		Data:                fmt.Appendf(nil, "payload-%d-%d-%d", chainID, block, logIndex),
	}
}

func loadRows(t *testing.T, database *db.DB, store *Store, rows []*EventLog) Result {
	t.Helper()

	tx, err := database.Begin()
	require.NoError(t, err)

	res, err := store.LoadTx(context.Background(), tx, rows)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	return res
}

func TestLoadTx_InsertsNewRows(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	rows := []*EventLog{
		testEvent(1, 100, 0),
		testEvent(1, 100, 1),
		testEvent(1, 101, 0),
	}

	res := loadRows(t, database, store, rows)
	assert.Equal(t, int64(3), res.Inserted)
	assert.Equal(t, int64(0), res.Skipped)

	count, err := store.EventCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestLoadTx_ReloadIsIdempotent(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	rows := []*EventLog{
		testEvent(1, 100, 0),
		testEvent(1, 100, 1),
		testEvent(1, 101, 0),
	}

	first := loadRows(t, database, store, rows)
	require.Equal(t, int64(3), first.Inserted)

	// Replaying the exact same batch must not add or change anything.
	second := loadRows(t, database, store, rows)
	assert.Equal(t, int64(0), second.Inserted)
	assert.Equal(t, int64(3), second.Skipped)

	count, err := store.EventCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestLoadTx_OverlappingBatches(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	var first []*EventLog
	for block := uint64(1); block <= 4; block++ {
		first = append(first, testEvent(1, block, 0))
	}
	loadRows(t, database, store, first)

	var overlap []*EventLog
	for block := uint64(3); block <= 6; block++ {
		overlap = append(overlap, testEvent(1, block, 0))
	}

	res := loadRows(t, database, store, overlap)
	assert.Equal(t, int64(2), res.Inserted, "only blocks 5 and 6 are new")
	assert.Equal(t, int64(2), res.Skipped)

	bounds, err := store.BlockBounds(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, bounds)
	assert.Equal(t, uint64(1), bounds.Earliest)
	assert.Equal(t, uint64(6), bounds.Latest)
}

func TestLoadTx_FirstWriteWins(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	original := testEvent(1, 50, 0)
	loadRows(t, database, store, []*EventLog{original})

	conflicting := testEvent(1, 50, 0)
	conflicting.Data = []byte("tampered")
	conflicting.TxFrom = common.HexToAddress("0x00000000000000000000000000000000000000ff")

	res := loadRows(t, database, store, []*EventLog{conflicting})
	assert.Equal(t, int64(0), res.Inserted)
	assert.Equal(t, int64(1), res.Skipped)

	stored, err := store.EventsInRange(context.Background(), 1, 50, 50)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, original.Data, stored[0].Data, "stored payload must never be overwritten")
	assert.Equal(t, original.TxFrom, stored[0].TxFrom)
}

func TestLoadTx_EmptyBatch(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	res := loadRows(t, database, store, nil)
	assert.Equal(t, Result{}, res)
}

func TestLoadTx_BatchLargerThanChunk(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	rows := make([]*EventLog, 0, insertChunkRows+1)
	for i := range uint64(insertChunkRows + 1) {
		rows = append(rows, testEvent(1, 1000+i, 0))
	}

	res := loadRows(t, database, store, rows)
	assert.Equal(t, int64(insertChunkRows+1), res.Inserted)

	count, err := store.EventCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(insertChunkRows+1), count)
}

func TestLoadTx_RollbackDiscardsRows(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	tx, err := database.Begin()
	require.NoError(t, err)

	_, err = store.LoadTx(context.Background(), tx, []*EventLog{testEvent(1, 10, 0)})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	count, err := store.EventCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInvalidateFromTx(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	var rows []*EventLog
	for block := uint64(90); block <= 105; block++ {
		rows = append(rows, testEvent(1, block, 0))
	}
	rows = append(rows, testEvent(137, 100, 0)) // other chain stays untouched
	loadRows(t, database, store, rows)

	tx, err := database.Begin()
	require.NoError(t, err)

	deleted, err := store.InvalidateFromTx(context.Background(), tx, 1, 96)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(10), deleted, "blocks 96 through 105 are invalid")

	bounds, err := store.BlockBounds(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, bounds)
	assert.Equal(t, uint64(90), bounds.Earliest)
	assert.Equal(t, uint64(95), bounds.Latest)

	otherCount, err := store.EventCount(context.Background(), 137)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), otherCount, "invalidation is scoped to one chain")
}

func TestEventCount_PerChain(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	loadRows(t, database, store, []*EventLog{
		testEvent(1, 100, 0),
		testEvent(1, 101, 0),
		testEvent(137, 100, 0),
	})

	count1, err := store.EventCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count1)

	count137, err := store.EventCount(context.Background(), 137)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count137)

	countEmpty, err := store.EventCount(context.Background(), 42161)
	require.NoError(t, err)
	assert.Zero(t, countEmpty)
}

func TestBlockBounds_EmptyChain(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	bounds, err := store.BlockBounds(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, bounds)
}

func TestEventsInRange_OrderingAndRoundTrip(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	// Insert deliberately out of order.
	loadRows(t, database, store, []*EventLog{
		testEvent(1, 7, 2),
		testEvent(1, 5, 1),
		testEvent(1, 7, 0),
		testEvent(1, 5, 0),
		testEvent(1, 3, 0), // below the queried range
		testEvent(1, 9, 0), // above the queried range
	})

	logs, err := store.EventsInRange(context.Background(), 1, 5, 7)
	require.NoError(t, err)
	require.Len(t, logs, 4)

	wantOrder := []Key{
		{ChainID: 1, BlockNumber: 5, LogIndex: 0},
		{ChainID: 1, BlockNumber: 5, LogIndex: 1},
		{ChainID: 1, BlockNumber: 7, LogIndex: 0},
		{ChainID: 1, BlockNumber: 7, LogIndex: 2},
	}
	for i, log := range logs {
		assert.Equal(t, wantOrder[i], log.Key(), "row %d out of order", i)
	}

	// Every stored field survives the round trip.
	want := testEvent(1, 5, 1)
	got := logs[1]
	assert.True(t, want.PayloadEquals(got), "payload mismatch after round trip")
	assert.Equal(t, want.TransactionHash, got.TransactionHash)
	require.NotNil(t, got.TxTo)
	assert.Equal(t, *want.TxTo, *got.TxTo)
	require.NotNil(t, got.TxValue)
	assert.Zero(t, want.TxValue.Cmp(got.TxValue))
	require.NotNil(t, got.Topic0)
	assert.Equal(t, *want.Topic0, *got.Topic0)
	assert.Nil(t, got.Topic1)
	assert.Nil(t, got.Topic2)
	assert.Nil(t, got.Topic3)
}

func TestEventsInRange_NullableFields(t *testing.T) {
	database := newStagingDB(t)
	store := New(database)

	// Contract creation style row: no recipient, no typed fields.
	row := testEvent(1, 11, 0)
	row.TxTo = nil
	row.TxType = nil
	row.TxStatus = nil
	row.TxEffectiveGasPrice = nil
	row.Topic0 = nil
	row.Data = nil
	loadRows(t, database, store, []*EventLog{row})

	logs, err := store.EventsInRange(context.Background(), 1, 11, 11)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	got := logs[0]
	assert.Nil(t, got.TxTo)
	assert.Nil(t, got.TxType)
	assert.Nil(t, got.TxStatus)
	assert.Nil(t, got.TxEffectiveGasPrice)
	assert.Nil(t, got.Topic0)
	assert.Empty(t, got.Data)
}

func TestEventLog_Key(t *testing.T) {
	e := testEvent(137, 42, 7)
	assert.Equal(t, Key{ChainID: 137, BlockNumber: 42, LogIndex: 7}, e.Key())
}

func TestEventLog_PayloadEquals(t *testing.T) {
	base := testEvent(1, 100, 0)

	t.Run("identical payloads", func(t *testing.T) {
		assert.True(t, base.PayloadEquals(testEvent(1, 100, 0)))
	})

	t.Run("different data", func(t *testing.T) {
		other := testEvent(1, 100, 0)
		other.Data = []byte("different")
		assert.False(t, base.PayloadEquals(other))
	})

	t.Run("nil versus set pointer", func(t *testing.T) {
		other := testEvent(1, 100, 0)
		other.TxTo = nil
		assert.False(t, base.PayloadEquals(other))
	})

	t.Run("both pointers nil", func(t *testing.T) {
		a := testEvent(1, 100, 0)
		b := testEvent(1, 100, 0)
		a.TxTo, b.TxTo = nil, nil
		a.TxEffectiveGasPrice, b.TxEffectiveGasPrice = nil, nil
		assert.True(t, a.PayloadEquals(b))
	})

	t.Run("different big int value", func(t *testing.T) {
		other := testEvent(1, 100, 0)
		other.TxValue = big.NewInt(999999)
		assert.False(t, base.PayloadEquals(other))
	})

	t.Run("key fields do not participate", func(t *testing.T) {
		other := testEvent(1, 100, 0)
		other.ChainID = 137
		other.BlockNumber = 200
		other.LogIndex = 5
		assert.True(t, base.PayloadEquals(other), "PayloadEquals compares payload, not identity")
	})
}
