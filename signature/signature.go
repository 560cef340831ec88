// Package signature builds and decodes the tagged signature blob an OpenID3
// account validates: a one-byte mode tag selecting the verification path,
// followed by that path's encoding.
//
// Tag values are contract-local. The passkey admin and the ZK OIDC admin
// both use 0 on their own contracts, so the tags are carried in a Profile
// pinned to the verifier being targeted rather than hard-coded.
package signature

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/operator"
	"github.com/OpenID3/openid3-go/passkey"
	"github.com/OpenID3/openid3-go/userop"
	"github.com/OpenID3/openid3-go/zkoidc"
)

// Mode names a verification path.
type Mode int

const (
	ModePasskey Mode = iota
	ModeOperator
	ModeZkOIDC
)

func (m Mode) String() string {
	switch m {
	case ModePasskey:
		return "passkey"
	case ModeOperator:
		return "operator"
	case ModeZkOIDC:
		return "zk-oidc"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

type signatureError string

func (e signatureError) Error() string {
	return string(e)
}

const (
	ErrEmptySignature signatureError = "signature is empty"
	ErrTagMismatch    signatureError = "signature mode tag does not match the decoder"
	ErrNilCredential  signatureError = "credential is nil"
)

// Profile pins the tag byte of each mode and the signing options of the
// verifier being targeted.
type Profile struct {
	PasskeyTag  uint8
	OperatorTag uint8
	ZkOIDCTag   uint8

	// LowS normalizes passkey signatures to s <= n/2.
	LowS bool
	// Operators is the multi-signer layout.
	Operators operator.Policy
}

// DefaultProfile matches the reference admin and account contracts.
func DefaultProfile() Profile {
	return Profile{
		PasskeyTag:  0,
		OperatorTag: 1,
		ZkOIDCTag:   0,
		LowS:        true,
		Operators:   operator.Policy{Order: operator.OrderAsGiven},
	}
}

// Tag returns the tag byte of mode.
func (p Profile) Tag(mode Mode) (uint8, error) {
	switch mode {
	case ModePasskey:
		return p.PasskeyTag, nil
	case ModeOperator:
		return p.OperatorTag, nil
	case ModeZkOIDC:
		return p.ZkOIDCTag, nil
	default:
		return 0, fmt.Errorf("unknown signature mode %s", mode)
	}
}

// Credential is the closed set of things that can authorize an operation.
// Implementations live in this package only.
type Credential interface {
	Mode() Mode
	sealed()
}

// PasskeyCredential signs as the account admin with a P-256 passkey.
type PasskeyCredential struct {
	Key *passkey.Passkey
}

// OperatorCredential signs with one or more secp256k1 operator keys. A
// single key produces the single-signer layout.
type OperatorCredential struct {
	Keys []*ecdsa.PrivateKey
}

// ZkCredential carries a proof produced by an external prover.
type ZkCredential struct {
	Input *zkoidc.ProofInput
}

func (PasskeyCredential) Mode() Mode  { return ModePasskey }
func (OperatorCredential) Mode() Mode { return ModeOperator }
func (ZkCredential) Mode() Mode       { return ModeZkOIDC }

func (PasskeyCredential) sealed()  {}
func (OperatorCredential) sealed() {}
func (ZkCredential) sealed()       {}

// Build produces tag ‖ encoding for cred over opHash. The ZK path ignores
// opHash: the proof itself is bound to the token.
func Build(profile Profile, cred Credential, opHash common.Hash) ([]byte, error) {
	if cred == nil {
		return nil, ErrNilCredential
	}
	tag, err := profile.Tag(cred.Mode())
	if err != nil {
		return nil, err
	}

	var body []byte
	switch c := cred.(type) {
	case PasskeyCredential:
		a, err := passkey.BuildAssertion(c.Key, opHash, profile.LowS)
		if err != nil {
			return nil, err
		}
		if body, err = a.Encode(); err != nil {
			return nil, err
		}
	case OperatorCredential:
		switch len(c.Keys) {
		case 0:
			return nil, operator.ErrNoSigners
		case 1:
			if body, err = operator.Sign(c.Keys[0], opHash); err != nil {
				return nil, err
			}
		default:
			set, err := operator.MultiSign(c.Keys, opHash, profile.Operators)
			if err != nil {
				return nil, err
			}
			if body, err = set.Encode(); err != nil {
				return nil, err
			}
		}
	case ZkCredential:
		if body, err = c.Input.Encode(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported credential %T", cred)
	}

	return append([]byte{tag}, body...), nil
}

// SignOperation validates and hashes op for vctx, builds the signature, and
// returns a signed copy. op itself is not modified.
func SignOperation(profile Profile, vctx userop.VerifyingContext, op *userop.Operation, cred Credential) (*userop.Operation, common.Hash, error) {
	if err := userop.Validate(op); err != nil {
		return nil, common.Hash{}, err
	}
	opHash, err := op.Hash(vctx)
	if err != nil {
		return nil, common.Hash{}, err
	}
	sig, err := Build(profile, cred, opHash)
	if err != nil {
		return nil, common.Hash{}, err
	}
	signed := op.Copy()
	signed.Signature = sig
	return signed, opHash, nil
}

func splitTag(sig []byte, want uint8) ([]byte, error) {
	if len(sig) == 0 {
		return nil, openid3.NewEncodingError("signature", "%v", ErrEmptySignature)
	}
	if sig[0] != want {
		return nil, &openid3.EncodingError{
			Field:  "signature",
			Reason: fmt.Sprintf("tag %d, want %d", sig[0], want),
			Err:    ErrTagMismatch,
		}
	}
	return sig[1:], nil
}

// DecodePasskey parses a passkey-mode signature.
func DecodePasskey(profile Profile, sig []byte) (*passkey.Assertion, error) {
	body, err := splitTag(sig, profile.PasskeyTag)
	if err != nil {
		return nil, err
	}
	return passkey.Decode(body)
}

// DecodeOperator parses an operator-mode signature. A single-signer
// signature is returned as a set of one whose address is recovered from
// opHash.
func DecodeOperator(profile Profile, sig []byte, opHash common.Hash) (*operator.SignerSet, error) {
	body, err := splitTag(sig, profile.OperatorTag)
	if err != nil {
		return nil, err
	}
	if len(body) == operator.SignatureLength {
		addr, err := operator.Recover(opHash, body)
		if err != nil {
			return nil, &openid3.EncodingError{Field: "signature", Err: err}
		}
		return &operator.SignerSet{
			Signers:    []common.Address{addr},
			Signatures: [][]byte{common.CopyBytes(body)},
		}, nil
	}
	set, err := operator.DecodeSignerSet(body)
	if err != nil {
		return nil, &openid3.EncodingError{Field: "signature", Err: err}
	}
	return set, nil
}

// DecodeZkOIDC parses a ZK OIDC-mode signature.
func DecodeZkOIDC(profile Profile, sig []byte) (*zkoidc.ProofInput, error) {
	body, err := splitTag(sig, profile.ZkOIDCTag)
	if err != nil {
		return nil, err
	}
	return zkoidc.Decode(body)
}
