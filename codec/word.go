package codec

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/OpenID3/openid3-go"
)

// ToWord converts an unsigned integer to its 32-byte big-endian EVM word.
// Nil is encoded as zero; negative or wider than 256-bit values fail.
func ToWord(v *big.Int) ([32]byte, error) {
	if v == nil {
		return [32]byte{}, nil
	}
	if v.Sign() < 0 {
		return [32]byte{}, openid3.NewEncodingError("uint256", "negative value %s", v.String())
	}

	u, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, openid3.NewEncodingError("uint256", "value exceeds 256 bits")
	}
	return u.Bytes32(), nil
}

// FromWord converts a 32-byte big-endian EVM word to a *big.Int.
func FromWord(w [32]byte) *big.Int {
	return new(uint256.Int).SetBytes32(w[:]).ToBig()
}

// toWidth returns v as a big-endian integer of exactly width bytes.
func toWidth(field string, v *big.Int, width int) ([]byte, error) {
	word, err := ToWord(v)
	if err != nil {
		return nil, err
	}
	u := new(uint256.Int).SetBytes32(word[:])
	if u.BitLen() > width*8 {
		return nil, openid3.NewEncodingError(field, "value exceeds %d bits", width*8)
	}
	return word[32-width:], nil
}
