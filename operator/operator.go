// Package operator signs user operation hashes with secp256k1 operator keys
// using the Ethereum personal-message convention, and packs single or
// multi-signer signature sets.
package operator

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/codec"
)

// SignatureLength is the size of an (r, s, v) signature.
const SignatureLength = crypto.SignatureLength

const curveName = "secp256k1"

type operatorError string

func (e operatorError) Error() string {
	return string(e)
}

const (
	ErrNoSigners          operatorError = "no operator signers"
	ErrDuplicateSigner    operatorError = "duplicate operator signer"
	ErrInvalidSignature   operatorError = "invalid operator signature"
	ErrInvalidSignerBlock operatorError = "operator signature block is not a whole number of address/signature pairs"
)

// Order selects how a multi-signer set is laid out.
type Order int

const (
	// OrderAsGiven keeps the caller's signer order.
	OrderAsGiven Order = iota
	// OrderAscending sorts signers by address, ascending.
	OrderAscending
)

func (o Order) String() string {
	switch o {
	case OrderAsGiven:
		return "as-given"
	case OrderAscending:
		return "ascending"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ParseOrder is the inverse of Order.String.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "as-given":
		return OrderAsGiven, nil
	case "ascending":
		return OrderAscending, nil
	default:
		return 0, fmt.Errorf("unknown operator order %q", s)
	}
}

// Policy is the multi-signer layout the target verifier expects.
type Policy struct {
	Order            Order
	RejectDuplicates bool
}

// Digest is the personal-message hash the operator actually signs:
// keccak256("\x19Ethereum Signed Message:\n32" ‖ opHash).
func Digest(opHash common.Hash) []byte {
	return accounts.TextHash(opHash.Bytes())
}

// Sign produces a 65-byte personal-message signature over opHash with v in
// {27, 28}.
func Sign(key *ecdsa.PrivateKey, opHash common.Hash) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(Digest(opHash), key)
	if err != nil {
		return nil, &openid3.InvalidKeyError{Curve: curveName, Reason: err.Error()}
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over opHash.
func Recover(opHash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	cp := common.CopyBytes(sig)
	if cp[crypto.RecoveryIDOffset] >= 27 {
		cp[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(Digest(opHash), cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func validateKey(key *ecdsa.PrivateKey) error {
	if key == nil || key.D == nil || key.D.Sign() == 0 {
		return &openid3.InvalidKeyError{Curve: curveName, Reason: "missing private key"}
	}
	if key.D.Cmp(crypto.S256().Params().N) >= 0 {
		return &openid3.InvalidKeyError{Curve: curveName, Reason: "private key is not below the group order"}
	}
	return nil
}

// SignerSet is the parallel address and signature lists of a multi-signer
// operator signature. Signers[i] recovers from Signatures[i].
type SignerSet struct {
	Signers    []common.Address
	Signatures [][]byte
}

// MultiSign signs opHash with every key and lays the result out per policy.
func MultiSign(keys []*ecdsa.PrivateKey, opHash common.Hash, policy Policy) (*SignerSet, error) {
	if len(keys) == 0 {
		return nil, ErrNoSigners
	}

	set := &SignerSet{
		Signers:    make([]common.Address, 0, len(keys)),
		Signatures: make([][]byte, 0, len(keys)),
	}
	seen := make(map[common.Address]struct{}, len(keys))
	for _, key := range keys {
		sig, err := Sign(key, opHash)
		if err != nil {
			return nil, err
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := seen[addr]; dup && policy.RejectDuplicates {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSigner, addr.Hex())
		}
		seen[addr] = struct{}{}
		set.Signers = append(set.Signers, addr)
		set.Signatures = append(set.Signatures, sig)
	}

	if policy.Order == OrderAscending {
		sort.Stable(set)
	}
	return set, nil
}

func (s *SignerSet) Len() int { return len(s.Signers) }

func (s *SignerSet) Less(i, j int) bool {
	return bytes.Compare(s.Signers[i].Bytes(), s.Signers[j].Bytes()) < 0
}

func (s *SignerSet) Swap(i, j int) {
	s.Signers[i], s.Signers[j] = s.Signers[j], s.Signers[i]
	s.Signatures[i], s.Signatures[j] = s.Signatures[j], s.Signatures[i]
}

// Encode returns packed(addresses) ‖ packed(signatures).
func (s *SignerSet) Encode() ([]byte, error) {
	if len(s.Signers) == 0 {
		return nil, ErrNoSigners
	}
	if len(s.Signers) != len(s.Signatures) {
		return nil, openid3.NewEncodingError("operators", "%d signers but %d signatures", len(s.Signers), len(s.Signatures))
	}

	fields := make([]codec.Field, 0, 2*len(s.Signers))
	for _, addr := range s.Signers {
		fields = append(fields, codec.Address(addr))
	}
	for i, sig := range s.Signatures {
		if len(sig) != SignatureLength {
			return nil, openid3.NewEncodingError("operators", "signature %d has length %d", i, len(sig))
		}
		fields = append(fields, codec.Bytes(sig))
	}
	return codec.PackFixed(fields...)
}

// DecodeSignerSet splits a packed multi-signer block.
func DecodeSignerSet(data []byte) (*SignerSet, error) {
	const pair = common.AddressLength + SignatureLength
	if len(data) == 0 || len(data)%pair != 0 {
		return nil, ErrInvalidSignerBlock
	}
	n := len(data) / pair
	set := &SignerSet{
		Signers:    make([]common.Address, n),
		Signatures: make([][]byte, n),
	}
	sigs := data[n*common.AddressLength:]
	for i := 0; i < n; i++ {
		set.Signers[i] = common.BytesToAddress(data[i*common.AddressLength : (i+1)*common.AddressLength])
		set.Signatures[i] = common.CopyBytes(sigs[i*SignatureLength : (i+1)*SignatureLength])
	}
	return set, nil
}

// Recover returns the address recovered from each signature, index-aligned
// with Signatures. It does not decide whether those addresses are authorized.
func (s *SignerSet) Recover(opHash common.Hash) ([]common.Address, error) {
	out := make([]common.Address, len(s.Signatures))
	for i, sig := range s.Signatures {
		addr, err := Recover(opHash, sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		out[i] = addr
	}
	return out, nil
}

// Check verifies that every signature recovers to its paired address and
// that the layout satisfies policy.
func (s *SignerSet) Check(opHash common.Hash, policy Policy) error {
	recovered, err := s.Recover(opHash)
	if err != nil {
		return &openid3.ProofInvalidError{Err: err}
	}
	seen := make(map[common.Address]struct{}, len(recovered))
	for i, addr := range recovered {
		if addr != s.Signers[i] {
			return &openid3.ProofInvalidError{
				Err: fmt.Errorf("%w: signature %d recovers to %s, not %s", ErrInvalidSignature, i, addr.Hex(), s.Signers[i].Hex()),
			}
		}
		if _, dup := seen[addr]; dup && policy.RejectDuplicates {
			return fmt.Errorf("%w: %s", ErrDuplicateSigner, addr.Hex())
		}
		seen[addr] = struct{}{}
		if policy.Order == OrderAscending && i > 0 && s.Less(i, i-1) {
			return openid3.NewEncodingError("operators", "signer %d is out of ascending order", i)
		}
	}
	return nil
}
