package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

var EmptyInt = BigInt{}

// BigInt is the token amount type. Amounts are always non-negative;
// arithmetic that would go below zero is a caller bug.
type BigInt struct {
	*big.Int
}

func NewInt(i uint64) BigInt {
	return BigInt{big.NewInt(0).SetUint64(i)}
}

func BigFromBytes(b []byte) BigInt {
	i := big.NewInt(0).SetBytes(b)
	return BigInt{i}
}

func BigFromString(s string) (BigInt, error) {
	v, ok := big.NewInt(0).SetString(s, 10)
	if !ok {
		return BigInt{}, fmt.Errorf("failed to parse string as a big int")
	}

	return BigInt{v}, nil
}

func BigMul(a, b BigInt) BigInt {
	return BigInt{big.NewInt(0).Mul(a.Int, b.Int)}
}

func BigDiv(a, b BigInt) BigInt {
	return BigInt{big.NewInt(0).Div(a.Int, b.Int)}
}

func BigAdd(a, b BigInt) BigInt {
	return BigInt{big.NewInt(0).Add(a.Int, b.Int)}
}

func BigSub(a, b BigInt) BigInt {
	return BigInt{big.NewInt(0).Sub(a.Int, b.Int)}
}

func BigCmp(a, b BigInt) int {
	return a.Int.Cmp(b.Int)
}

func (bi BigInt) Nil() bool {
	return bi.Int == nil
}

func (bi BigInt) LessThan(o BigInt) bool {
	return BigCmp(bi, o) < 0
}

func (bi BigInt) GreaterThan(o BigInt) bool {
	return BigCmp(bi, o) > 0
}

func (bi BigInt) Equals(o BigInt) bool {
	return BigCmp(bi, o) == 0
}

func (bi BigInt) IsZero() bool {
	return bi.Int.Sign() == 0
}

// MarshalCBOR encodes the amount as a plain big-endian byte string, the
// same layout the wire codec uses for every other opaque value.
func (bi BigInt) MarshalCBOR() ([]byte, error) {
	if bi.Int == nil {
		return cbor.Marshal([]byte{})
	}
	return cbor.Marshal(bi.Bytes())
}

func (bi *BigInt) UnmarshalCBOR(b []byte) error {
	var buf []byte
	if err := cbor.Unmarshal(b, &buf); err != nil {
		return err
	}
	bi.Int = big.NewInt(0).SetBytes(buf)
	return nil
}

func (bi BigInt) MarshalJSON() ([]byte, error) {
	if bi.Int == nil {
		return json.Marshal("0")
	}
	return json.Marshal(bi.String())
}

func (bi *BigInt) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	i, ok := big.NewInt(0).SetString(s, 10)
	if !ok {
		if s == "<nil>" {
			return nil
		}
		return fmt.Errorf("failed to parse bigint string")
	}

	bi.Int = i
	return nil
}
