// Package passkey builds and checks WebAuthn-style P-256 assertions over
// user operation hashes, the signature format an OpenID3 admin validates.
package passkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math/big"

	"github.com/OpenID3/openid3-go"
)

const curveName = "P-256"

// PublicKey is an uncompressed P-256 point.
type PublicKey struct {
	X *big.Int `abi:"pubKeyX"`
	Y *big.Int `abi:"pubKeyY"`
}

// Validate checks that the point lies on P-256.
func (k PublicKey) Validate() error {
	if k.X == nil || k.Y == nil {
		return &openid3.InvalidKeyError{Curve: curveName, Reason: "missing coordinate"}
	}
	if !elliptic.P256().IsOnCurve(k.X, k.Y) {
		return &openid3.InvalidKeyError{Curve: curveName, Reason: "point is not on the curve"}
	}
	return nil
}

func (k PublicKey) ecdsa() *ecdsa.PublicKey {
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: k.X, Y: k.Y}
}

// Passkey is a P-256 key pair plus the opaque identifier registered with it.
type Passkey struct {
	ID         string
	PrivateKey *ecdsa.PrivateKey
}

// Generate creates a fresh passkey. The identifier is 32 random bytes in
// hex. A nil reader uses crypto/rand.
func Generate(r io.Reader) (*Passkey, error) {
	if r == nil {
		r = rand.Reader
	}
	id := make([]byte, 32)
	if _, err := io.ReadFull(r, id); err != nil {
		return nil, err
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), r)
	if err != nil {
		return nil, err
	}
	return &Passkey{ID: hex.EncodeToString(id), PrivateKey: priv}, nil
}

// FromPrivateKey rebuilds a passkey from a big-endian private scalar.
func FromPrivateKey(id string, d []byte) (*Passkey, error) {
	curve := elliptic.P256()
	k := new(big.Int).SetBytes(d)
	if k.Sign() == 0 {
		return nil, &openid3.InvalidKeyError{Curve: curveName, Reason: "zero private key"}
	}
	if k.Cmp(curve.Params().N) >= 0 {
		return nil, &openid3.InvalidKeyError{Curve: curveName, Reason: "private key is not below the group order"}
	}

	priv := &ecdsa.PrivateKey{D: k}
	priv.PublicKey.Curve = curve
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(k.FillBytes(make([]byte, 32)))
	return &Passkey{ID: id, PrivateKey: priv}, nil
}

// PublicKey returns the passkey's public point.
func (p *Passkey) PublicKey() PublicKey {
	return PublicKey{
		X: new(big.Int).Set(p.PrivateKey.X),
		Y: new(big.Int).Set(p.PrivateKey.Y),
	}
}

func (p *Passkey) validate() error {
	if p == nil || p.PrivateKey == nil || p.PrivateKey.D == nil || p.PrivateKey.D.Sign() == 0 {
		return &openid3.InvalidKeyError{Curve: curveName, Reason: "missing private key"}
	}
	if p.PrivateKey.D.Cmp(elliptic.P256().Params().N) >= 0 {
		return &openid3.InvalidKeyError{Curve: curveName, Reason: "private key is not below the group order"}
	}
	return p.PublicKey().Validate()
}
