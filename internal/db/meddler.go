package db

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Default = meddler.SQLite

	meddler.Register("hash", HashMeddler{})
	meddler.Register("address", AddressMeddler{})
	meddler.Register("bigint", BigIntMeddler{})
}

// HashMeddler converts between common.Hash and the raw 32-byte column value.
// Hashes are stored as opaque bytes, never as hex strings. Nullable columns
// map to **common.Hash fields.
type HashMeddler struct{}

func (h HashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// []byte scans to nil on NULL
	return new([]byte), nil
}

func (h HashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	raw, ok := scanTarget.(*[]byte)
	if !ok {
		return fmt.Errorf("expected *[]byte, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **common.Hash:
		if *raw == nil {
			*ptr = nil
			return nil
		}
		hash := common.BytesToHash(*raw)
		*ptr = &hash
		return nil
	case *common.Hash:
		if *raw == nil {
			*ptr = common.Hash{}
			return nil
		}
		*ptr = common.BytesToHash(*raw)
		return nil
	default:
		return fmt.Errorf("expected *common.Hash or **common.Hash, got %T", fieldAddr)
	}
}

func (h HashMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case common.Hash:
		return v.Bytes(), nil
	case *common.Hash:
		if v == nil {
			return nil, nil
		}
		return v.Bytes(), nil
	default:
		return nil, fmt.Errorf("expected common.Hash or *common.Hash, got %T", field)
	}
}

// AddressMeddler converts between common.Address and the raw 20-byte column
// value. Nullable columns map to **common.Address fields.
type AddressMeddler struct{}

func (a AddressMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new([]byte), nil
}

func (a AddressMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	raw, ok := scanTarget.(*[]byte)
	if !ok {
		return fmt.Errorf("expected *[]byte, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **common.Address:
		if *raw == nil {
			*ptr = nil
			return nil
		}
		addr := common.BytesToAddress(*raw)
		*ptr = &addr
		return nil
	case *common.Address:
		if *raw == nil {
			*ptr = common.Address{}
			return nil
		}
		*ptr = common.BytesToAddress(*raw)
		return nil
	default:
		return fmt.Errorf("expected *common.Address or **common.Address, got %T", fieldAddr)
	}
}

func (a AddressMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case common.Address:
		return v.Bytes(), nil
	case *common.Address:
		if v == nil {
			return nil, nil
		}
		return v.Bytes(), nil
	default:
		return nil, fmt.Errorf("expected common.Address or *common.Address, got %T", field)
	}
}

// BigIntMeddler converts between *big.Int and a decimal column value (TEXT
// on SQLite, NUMERIC on PostgreSQL). Transaction values exceed uint64 range
// so they never go through integer columns.
type BigIntMeddler struct{}

func (b BigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new([]byte), nil
}

func (b BigIntMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	raw, ok := scanTarget.(*[]byte)
	if !ok {
		return fmt.Errorf("expected *[]byte, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(**big.Int)
	if !ok {
		return fmt.Errorf("expected **big.Int, got %T", fieldAddr)
	}

	if *raw == nil {
		*ptr = nil
		return nil
	}

	value, valid := new(big.Int).SetString(string(*raw), 10)
	if !valid {
		return fmt.Errorf("invalid decimal value %q", string(*raw))
	}

	*ptr = value
	return nil
}

func (b BigIntMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	value, ok := field.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", field)
	}

	if value == nil {
		return nil, nil
	}

	return value.String(), nil
}
