package db

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type meddlerFixture struct {
	ID        int64              `meddler:"id,pk"`
	Hash      ethcommon.Hash     `meddler:"hash,hash"`
	Parent    *ethcommon.Hash    `meddler:"parent_hash,hash"`
	Emitter   ethcommon.Address  `meddler:"emitter,address"`
	Recipient *ethcommon.Address `meddler:"recipient,address"`
	Value     *big.Int           `meddler:"value,bigint"`
}

func newMeddlerDB(t *testing.T) *DB {
	t.Helper()

	database := newTestDB(t)
	_, err := database.Exec(`
		CREATE TABLE fixtures (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			hash        BLOB NOT NULL,
			parent_hash BLOB,
			emitter     BLOB NOT NULL,
			recipient   BLOB,
			value       TEXT
		)`)
	require.NoError(t, err)

	return database
}

func TestMeddlerRoundTrip(t *testing.T) {
	database := newMeddlerDB(t)

	parent := ethcommon.HexToHash("0xbbbb000000000000000000000000000000000000000000000000000000000002")
	recipient := ethcommon.HexToAddress("0x2222000000000000000000000000000000000002")
	value, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457", 10)
	require.True(t, ok)

	in := &meddlerFixture{
		Hash:      ethcommon.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001"),
		Parent:    &parent,
		Emitter:   ethcommon.HexToAddress("0x1111000000000000000000000000000000000001"),
		Recipient: &recipient,
		Value:     value,
	}
	require.NoError(t, meddler.Insert(database.DB, "fixtures", in))
	require.NotZero(t, in.ID)

	out := new(meddlerFixture)
	require.NoError(t, meddler.QueryRow(database.DB, out, `SELECT * FROM fixtures WHERE id = ?`, in.ID))

	assert.Equal(t, in.Hash, out.Hash)
	require.NotNil(t, out.Parent)
	assert.Equal(t, parent, *out.Parent)
	assert.Equal(t, in.Emitter, out.Emitter)
	require.NotNil(t, out.Recipient)
	assert.Equal(t, recipient, *out.Recipient)
	require.NotNil(t, out.Value)
	assert.Zero(t, value.Cmp(out.Value), "big.Int value should survive the round trip")
}

func TestMeddlerNullColumns(t *testing.T) {
	database := newMeddlerDB(t)

	in := &meddlerFixture{
		Hash:    ethcommon.HexToHash("0xcccc000000000000000000000000000000000000000000000000000000000003"),
		Emitter: ethcommon.HexToAddress("0x3333000000000000000000000000000000000003"),
	}
	require.NoError(t, meddler.Insert(database.DB, "fixtures", in))

	// Nullable pointer fields must come back nil, not zero valued.
	out := new(meddlerFixture)
	require.NoError(t, meddler.QueryRow(database.DB, out, `SELECT * FROM fixtures WHERE id = ?`, in.ID))

	assert.Nil(t, out.Parent)
	assert.Nil(t, out.Recipient)
	assert.Nil(t, out.Value)

	var parentRaw, valueRaw interface{}
	require.NoError(t, database.QueryRow(
		`SELECT parent_hash, value FROM fixtures WHERE id = ?`, in.ID,
	).Scan(&parentRaw, &valueRaw))
	assert.Nil(t, parentRaw)
	assert.Nil(t, valueRaw)
}

func TestMeddlerHashStoredAsBytes(t *testing.T) {
	database := newMeddlerDB(t)

	hash := ethcommon.HexToHash("0xdddd000000000000000000000000000000000000000000000000000000000004")
	in := &meddlerFixture{
		Hash:    hash,
		Emitter: ethcommon.HexToAddress("0x4444000000000000000000000000000000000004"),
	}
	require.NoError(t, meddler.Insert(database.DB, "fixtures", in))

	var raw []byte
	require.NoError(t, database.QueryRow(`SELECT hash FROM fixtures WHERE id = ?`, in.ID).Scan(&raw))
	assert.Equal(t, hash.Bytes(), raw, "hashes are stored as raw bytes, not hex text")
	assert.Len(t, raw, 32)
}

func TestBigIntMeddler_InvalidStoredValue(t *testing.T) {
	database := newMeddlerDB(t)

	_, err := database.Exec(`
		INSERT INTO fixtures (hash, emitter, value)
		VALUES (?, ?, ?)`,
		ethcommon.Hash{}.Bytes(), ethcommon.Address{}.Bytes(), "not-a-number")
	require.NoError(t, err)

	out := new(meddlerFixture)
	err = meddler.QueryRow(database.DB, out, `SELECT * FROM fixtures LIMIT 1`)
	require.ErrorContains(t, err, "invalid decimal value")
}
