package passkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/codec"
)

type passkeyError string

func (e passkeyError) Error() string {
	return string(e)
}

const (
	ErrSignatureMismatch passkeyError = "passkey signature does not match the reconstructed client data"
	ErrHighS             passkeyError = "passkey signature s is not in the lower half of the curve order"
	ErrMalformedClient   passkeyError = "client data json does not contain the challenge exactly once"
)

// Schema is the abi layout of an encoded assertion.
var Schema = codec.Schema{
	codec.Component("authData", "bytes"),
	codec.Component("clientDataJsonPre", "string"),
	codec.Component("clientDataJsonPost", "string"),
	codec.Component("pubKey", "tuple",
		codec.Component("pubKeyX", "uint256"),
		codec.Component("pubKeyY", "uint256"),
	),
	codec.Component("r", "uint256"),
	codec.Component("s", "uint256"),
}

// Assertion is the WebAuthn-style proof that the passkey holder approved an
// operation hash. The client data JSON is carried split around the
// challenge so the verifier can re-insert the challenge it expects.
type Assertion struct {
	AuthData           []byte    `abi:"authData"`
	ClientDataJSONPre  string    `abi:"clientDataJsonPre"`
	ClientDataJSONPost string    `abi:"clientDataJsonPost"`
	PubKey             PublicKey `abi:"pubKey"`
	R                  *big.Int  `abi:"r"`
	S                  *big.Int  `abi:"s"`
}

// clientData fixes the key order of the serialized client data.
type clientData struct {
	PreField  string `json:"preField"`
	Challenge string `json:"challenge"`
	PostField string `json:"postField"`
}

// Challenge is the standard, padded base64 encoding of the operation hash.
func Challenge(opHash common.Hash) string {
	return base64.StdEncoding.EncodeToString(opHash.Bytes())
}

// AuthData is packed(uint256 x, uint256 y, uint256 0).
func AuthData(pub PublicKey) ([]byte, error) {
	return codec.PackFixed(
		codec.Uint256(pub.X),
		codec.Uint256(pub.Y),
		codec.Uint256(new(big.Int)),
	)
}

// ClientDataJSON serializes the client data for opHash.
func ClientDataJSON(opHash common.Hash) (string, error) {
	b, err := json.Marshal(clientData{
		PreField:  "preValue",
		Challenge: Challenge(opHash),
		PostField: "postValue",
	})
	if err != nil {
		return "", &openid3.EncodingError{Field: "clientDataJSON", Err: err}
	}
	return string(b), nil
}

// SignedDataHash is sha256(authData ‖ sha256(clientDataJSON)), the digest
// the P-256 signature covers.
func SignedDataHash(authData []byte, clientDataJSON string) common.Hash {
	clientHash := codec.Sha256([]byte(clientDataJSON))
	return codec.Sha256(authData, clientHash.Bytes())
}

// BuildAssertion signs opHash with key. With lowS set, s is normalized to
// the lower half of the curve order.
func BuildAssertion(key *Passkey, opHash common.Hash, lowS bool) (*Assertion, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	pub := key.PublicKey()

	authData, err := AuthData(pub)
	if err != nil {
		return nil, err
	}
	clientJSON, err := ClientDataJSON(opHash)
	if err != nil {
		return nil, err
	}
	pre, post, err := splitChallenge(clientJSON, Challenge(opHash))
	if err != nil {
		return nil, err
	}

	digest := SignedDataHash(authData, clientJSON)
	r, s, err := ecdsa.Sign(rand.Reader, key.PrivateKey, digest.Bytes())
	if err != nil {
		return nil, err
	}
	if lowS && !IsLowS(s) {
		s = new(big.Int).Sub(elliptic.P256().Params().N, s)
	}

	return &Assertion{
		AuthData:           authData,
		ClientDataJSONPre:  pre,
		ClientDataJSONPost: post,
		PubKey:             pub,
		R:                  r,
		S:                  s,
	}, nil
}

func splitChallenge(clientJSON, challenge string) (string, string, error) {
	if strings.Count(clientJSON, challenge) != 1 {
		return "", "", ErrMalformedClient
	}
	parts := strings.SplitN(clientJSON, challenge, 2)
	return parts[0], parts[1], nil
}

// IsLowS reports whether s <= n/2.
func IsLowS(s *big.Int) bool {
	halfN := new(big.Int).Rsh(elliptic.P256().Params().N, 1)
	return s.Cmp(halfN) <= 0
}

// Encode abi-encodes the assertion. The mode tag is not included.
func (a *Assertion) Encode() ([]byte, error) {
	return codec.PackTuple(Schema, a)
}

// Decode parses an abi-encoded assertion without its mode tag.
func Decode(data []byte) (*Assertion, error) {
	var a Assertion
	if err := codec.UnpackTuple(Schema, data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ClientDataJSON reassembles the client data with challenge re-inserted.
func (a *Assertion) ClientDataJSON(challenge string) string {
	return a.ClientDataJSONPre + challenge + a.ClientDataJSONPost
}

// Verify reconstructs the signed digest for opHash the way the on-chain
// verifier does and checks the signature against the embedded public key.
func (a *Assertion) Verify(opHash common.Hash, requireLowS bool) error {
	if err := a.PubKey.Validate(); err != nil {
		return err
	}
	if a.R == nil || a.S == nil || a.R.Sign() <= 0 || a.S.Sign() <= 0 {
		return &openid3.ProofInvalidError{Err: ErrSignatureMismatch}
	}
	if requireLowS && !IsLowS(a.S) {
		return &openid3.ProofInvalidError{Err: ErrHighS}
	}

	digest := SignedDataHash(a.AuthData, a.ClientDataJSON(Challenge(opHash)))
	if !ecdsa.Verify(a.PubKey.ecdsa(), digest.Bytes(), a.R, a.S) {
		return &openid3.ProofInvalidError{Err: ErrSignatureMismatch}
	}
	return nil
}
