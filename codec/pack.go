// Package codec implements the deterministic byte encodings every other
// package hashes or signs over.
//
// Two layouts are provided:
//
//  1. PackFixed mirrors Solidity's abi.encodePacked: fields are concatenated
//     at their native width with no padding and no separators.
//
//  2. PackTuple mirrors Solidity's abi.encode: a head/tail layout where static
//     fields are inlined as 32-byte words and dynamic fields (bytes, string,
//     arrays, dynamic tuples) are referenced by offset.
//
// The two hash primitives are exposed under distinct names. Keccak256 is the
// hash of on-chain state and is used for operation hashing, code hashes and
// payload commitments. Sha256 is used for WebAuthn client data and JWT
// digests. They are never interchangeable.
package codec

import (
	"crypto/sha256"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/OpenID3/openid3-go"
)

// MaxDynamicLength bounds a single variable-length field.
const MaxDynamicLength = 1 << 20

// Field is one typed value of a packed encoding. Construct it with one of
// the typed constructors; a constructor that receives an out-of-range value
// records the error and PackFixed reports it.
type Field struct {
	data []byte
	err  error
}

// Address packs a 20-byte address.
func Address(a common.Address) Field {
	return Field{data: a.Bytes()}
}

// AddressWord packs an address left-padded to a 32-byte word, the layout
// abi.encode uses for address values.
func AddressWord(a common.Address) Field {
	return Field{data: common.LeftPadBytes(a.Bytes(), 32)}
}

// Uint256 packs an unsigned integer as a 32-byte word.
func Uint256(v *big.Int) Field {
	word, err := ToWord(v)
	if err != nil {
		return Field{err: err}
	}
	return Field{data: word[:]}
}

// Uint96 packs an unsigned integer as 12 bytes.
func Uint96(v *big.Int) Field {
	b, err := toWidth("uint96", v, 12)
	return Field{data: b, err: err}
}

// Uint64 packs v as 8 big-endian bytes.
func Uint64(v uint64) Field {
	return Field{data: new(big.Int).SetUint64(v).FillBytes(make([]byte, 8))}
}

// Uint8 packs a single byte.
func Uint8(v uint8) Field {
	return Field{data: []byte{v}}
}

// Bytes32 packs a 32-byte word verbatim.
func Bytes32(h common.Hash) Field {
	return Field{data: h.Bytes()}
}

// Bytes packs b verbatim, without a length prefix.
func Bytes(b []byte) Field {
	if err := CheckLength("bytes", b); err != nil {
		return Field{err: err}
	}
	return Field{data: b}
}

// PackFixed concatenates fields in call order.
func PackFixed(fields ...Field) ([]byte, error) {
	size := 0
	for _, f := range fields {
		if f.err != nil {
			return nil, f.err
		}
		size += len(f.data)
	}

	out := make([]byte, 0, size)
	for _, f := range fields {
		out = append(out, f.data...)
	}
	return out, nil
}

// CheckLength fails with an EncodingError when b exceeds MaxDynamicLength.
func CheckLength(field string, b []byte) error {
	if len(b) > MaxDynamicLength {
		return openid3.NewEncodingError(field, "length %d exceeds maximum %d", len(b), MaxDynamicLength)
	}
	return nil
}

// Keccak256 is the on-chain hash primitive.
func Keccak256(data ...[]byte) common.Hash {
	return crypto.Keccak256Hash(data...)
}

// Sha256 is the WebAuthn and JWT hash primitive.
func Sha256(data ...[]byte) common.Hash {
	h := sha256.New()
	for _, b := range data {
		h.Write(b)
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}
