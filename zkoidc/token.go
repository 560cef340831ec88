package zkoidc

import (
	"crypto/rsa"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/codec"
)

type tokenError string

func (e tokenError) Error() string {
	return string(e)
}

const (
	ErrMalformedToken tokenError = "malformed compact jwt"
	ErrMissingKid     tokenError = "jwt header has no kid"
	ErrMissingIat     tokenError = "jwt has no iat claim"
	ErrUnknownKid     tokenError = "jwt kid is not in the key set"
)

// signingMethods accepted from the identity provider.
var signingMethods = []string{jwt.SigningMethodRS256.Alg()}

// Token is a parsed compact identity token and the digests derived from it.
type Token struct {
	Raw                  string
	Kid                  string
	IssuedAt             int64
	Claims               jwt.MapClaims
	HeaderAndPayloadHash common.Hash
	Signature            []byte
}

// KidSha256 is sha256 of the signing key identifier.
func (t *Token) KidSha256() common.Hash {
	return codec.Sha256([]byte(t.Kid))
}

// JWTInput returns the token half of a proof input.
func (t *Token) JWTInput() JWTInput {
	return JWTInput{
		KidSha256:               t.KidSha256(),
		Iat:                     strconv.FormatInt(t.IssuedAt, 10),
		JwtHeaderAndPayloadHash: t.HeaderAndPayloadHash,
		JwtSignature:            common.CopyBytes(t.Signature),
	}
}

// ParseToken splits a compact JWT and computes its digests without checking
// the signature.
func ParseToken(raw string) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}

	parser := jwt.NewParser(jwt.WithValidMethods(signingMethods))
	claims := jwt.MapClaims{}
	parsed, _, err := parser.ParseUnverified(raw, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return newToken(raw, parts, parser, parsed, claims)
}

func newToken(raw string, parts []string, parser *jwt.Parser, parsed *jwt.Token, claims jwt.MapClaims) (*Token, error) {
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return nil, ErrMissingKid
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, ErrMissingIat
	}
	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}

	return &Token{
		Raw:                  raw,
		Kid:                  kid,
		IssuedAt:             iat.Unix(),
		Claims:               claims,
		HeaderAndPayloadHash: codec.Sha256([]byte(parts[0] + "." + parts[1])),
		Signature:            sig,
	}, nil
}

// FromToken builds a proof input from a compact JWT and the proof an
// external prover produced for it.
func FromToken(raw string, circuitDigest common.Hash, proof []byte) (*ProofInput, error) {
	tok, err := ParseToken(raw)
	if err != nil {
		return nil, err
	}
	return &ProofInput{
		JWT:           tok.JWTInput(),
		CircuitDigest: circuitDigest,
		Proof:         common.CopyBytes(proof),
	}, nil
}

// KeySet is the identity provider's published RSA signing keys.
type KeySet struct {
	set jwk.Set
}

// NewKeySet wraps an existing JWK set.
func NewKeySet(set jwk.Set) *KeySet {
	return &KeySet{set: set}
}

// ParseKeySet parses a JWKS document.
func ParseKeySet(data []byte) (*KeySet, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse jwks")
	}
	return &KeySet{set: set}, nil
}

// Lookup returns the RSA public key published under kid.
func (ks *KeySet) Lookup(kid string) (*rsa.PublicKey, error) {
	key, ok := ks.set.LookupKeyID(kid)
	if !ok {
		return nil, &openid3.AuthorizationError{Subject: "kid " + kid, Err: ErrUnknownKid}
	}
	var pub rsa.PublicKey
	if err := key.Raw(&pub); err != nil {
		return nil, errors.Wrapf(err, "kid %s is not an rsa key", kid)
	}
	return &pub, nil
}

// VerifyToken checks the token's RS256 signature against the key set and
// returns its digests. Claim timing is left to the on-chain verifier.
func VerifyToken(raw string, keys *KeySet) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}

	var lookupErr error
	parser := jwt.NewParser(jwt.WithValidMethods(signingMethods), jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			lookupErr = ErrMissingKid
			return nil, lookupErr
		}
		pub, err := keys.Lookup(kid)
		if err != nil {
			lookupErr = err
		}
		return pub, err
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, &openid3.ProofInvalidError{Err: err}
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return newToken(raw, parts, parser, parsed, claims)
}
