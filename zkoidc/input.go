// Package zkoidc assembles the verifier-facing encoding of a zero-knowledge
// OIDC proof: the digests of a Google-style identity token, the circuit
// digest the proof was produced for, and the opaque proof bytes.
//
// Encoding performs no cryptography. Proof validity is decided by the
// external verifier.
package zkoidc

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/codec"
)

// Schema is the abi layout of an encoded proof input.
var Schema = codec.Schema{
	codec.Component("jwt", "tuple",
		codec.Component("kidSha256", "bytes32"),
		codec.Component("iat", "string"),
		codec.Component("jwtHeaderAndPayloadHash", "bytes32"),
		codec.Component("jwtSignature", "bytes"),
	),
	codec.Component("circuitDigest", "bytes32"),
	codec.Component("proof", "bytes"),
}

// JWTInput holds the token digests the circuit binds to.
type JWTInput struct {
	KidSha256               common.Hash `abi:"kidSha256"`
	Iat                     string      `abi:"iat"`
	JwtHeaderAndPayloadHash common.Hash `abi:"jwtHeaderAndPayloadHash"`
	JwtSignature            []byte      `abi:"jwtSignature"`
}

// ProofInput binds a token to a proof for a specific circuit.
type ProofInput struct {
	JWT           JWTInput    `abi:"jwt"`
	CircuitDigest common.Hash `abi:"circuitDigest"`
	Proof         []byte      `abi:"proof"`
}

// Validate checks the fields the encoder cannot represent faithfully.
func (in *ProofInput) Validate() error {
	if in == nil {
		return openid3.NewEncodingError("proofInput", "nil input")
	}
	if in.JWT.Iat == "" {
		return openid3.NewEncodingError("iat", "empty issued-at")
	}
	for _, c := range in.JWT.Iat {
		if c < '0' || c > '9' {
			return openid3.NewEncodingError("iat", "%q is not a decimal timestamp", in.JWT.Iat)
		}
	}
	if err := codec.CheckLength("jwtSignature", in.JWT.JwtSignature); err != nil {
		return err
	}
	return codec.CheckLength("proof", in.Proof)
}

// Encode abi-encodes the input. It is a pure function of its argument. The
// mode tag is not included.
func (in *ProofInput) Encode() ([]byte, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	normalized := *in
	if normalized.JWT.JwtSignature == nil {
		normalized.JWT.JwtSignature = []byte{}
	}
	if normalized.Proof == nil {
		normalized.Proof = []byte{}
	}
	return codec.PackTuple(Schema, &normalized)
}

// Decode parses an abi-encoded proof input without its mode tag.
func Decode(data []byte) (*ProofInput, error) {
	var in ProofInput
	if err := codec.UnpackTuple(Schema, data, &in); err != nil {
		return nil, err
	}
	return &in, nil
}
