// Package attestation implements social-attestation aggregation: one proof
// covers a batch of statements, and each statement's plaintext payload is
// fanned out to its consumers only after the payload is matched against the
// commitment the proof covers.
package attestation

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/codec"
)

const (
	KidLength         = 32
	AccountHashLength = 32
	PayloadHashLength = 32
	IatLength         = 8

	// StatementLength is the packed size of one statement record.
	StatementLength = KidLength + AccountHashLength + PayloadHashLength + IatLength

	// MaxStatements bounds a single batch.
	MaxStatements = codec.MaxDynamicLength / StatementLength
)

// Statement is one proven claim: the attester key, the pseudonymous subject,
// the payload commitment and the issue time.
type Statement struct {
	Kid         common.Hash
	AccountHash common.Hash
	PayloadHash common.Hash
	Iat         uint64
}

// Pack returns kid ‖ accountHash ‖ payloadHash ‖ uint64(iat).
func (s Statement) Pack() []byte {
	out := make([]byte, 0, StatementLength)
	out = append(out, s.Kid.Bytes()...)
	out = append(out, s.AccountHash.Bytes()...)
	out = append(out, s.PayloadHash.Bytes()...)
	return binary.BigEndian.AppendUint64(out, s.Iat)
}

// PackStatements concatenates the records in order. The result is the batch
// input the proof covers.
func PackStatements(statements []Statement) []byte {
	out := make([]byte, 0, len(statements)*StatementLength)
	for _, s := range statements {
		out = append(out, s.Pack()...)
	}
	return out
}

// ParseStatements splits a packed batch input.
func ParseStatements(data []byte) ([]Statement, error) {
	if len(data) == 0 {
		return nil, openid3.NewEncodingError("statements", "empty batch input")
	}
	if len(data)%StatementLength != 0 {
		return nil, openid3.NewEncodingError("statements", "length %d is not a multiple of %d", len(data), StatementLength)
	}
	n := len(data) / StatementLength
	if n > MaxStatements {
		return nil, openid3.NewEncodingError("statements", "%d statements exceeds maximum %d", n, MaxStatements)
	}

	statements := make([]Statement, 0, n)
	for offset := 0; offset < len(data); offset += StatementLength {
		rec := data[offset : offset+StatementLength]
		statements = append(statements, Statement{
			Kid:         common.BytesToHash(rec[:KidLength]),
			AccountHash: common.BytesToHash(rec[KidLength : KidLength+AccountHashLength]),
			PayloadHash: common.BytesToHash(rec[KidLength+AccountHashLength : StatementLength-IatLength]),
			Iat:         binary.BigEndian.Uint64(rec[StatementLength-IatLength:]),
		})
	}
	return statements, nil
}
