package attestation

import (
	"bytes"
	"context"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/codec"
)

// CircuitDigestLength prefixes every proof blob.
const CircuitDigestLength = 32

const ErrUnknownCircuit aggregatorError = "proof names an unregistered circuit digest"

// JoinProof returns circuitDigest ‖ proof, the blob Aggregate takes.
func JoinProof(circuitDigest common.Hash, proof []byte) []byte {
	return append(circuitDigest.Bytes(), proof...)
}

// SplitProof is the inverse of JoinProof.
func SplitProof(blob []byte) (common.Hash, []byte, error) {
	if len(blob) <= CircuitDigestLength {
		return common.Hash{}, nil, openid3.NewEncodingError("proof", "length %d leaves no proof after the circuit digest", len(blob))
	}
	if err := codec.CheckLength("proof", blob); err != nil {
		return common.Hash{}, nil, err
	}
	return common.BytesToHash(blob[:CircuitDigestLength]), blob[CircuitDigestLength:], nil
}

// InputHash maps a packed batch input to the single public input of a batch
// circuit: sha256(input) with the top three bits cleared so it fits the
// BN254 scalar field.
func InputHash(input []byte) *big.Int {
	h := codec.Sha256(input)
	h[0] &= 0x1f
	return new(big.Int).SetBytes(h.Bytes())
}

// BatchPublic is the public witness layout shared by every batch circuit.
// Circuits add their private inputs after InputHash.
type BatchPublic struct {
	InputHash frontend.Variable `gnark:",public"`
}

// Define is empty: BatchPublic only shapes the public witness.
func (c *BatchPublic) Define(frontend.API) error { return nil }

// Groth16Verifier verifies BN254 Groth16 proofs over batch inputs against a
// registry of verifying keys addressed by circuit digest.
type Groth16Verifier struct {
	mu       sync.RWMutex
	circuits map[common.Hash]groth16.VerifyingKey
	logger   zerolog.Logger
}

func NewGroth16Verifier(logger zerolog.Logger) *Groth16Verifier {
	return &Groth16Verifier{
		circuits: make(map[common.Hash]groth16.VerifyingKey),
		logger:   logger.With().Str("component", "groth16-verifier").Logger(),
	}
}

// CircuitDigest is sha256 of the serialized verifying key.
func CircuitDigest(vk groth16.VerifyingKey) (common.Hash, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return common.Hash{}, &openid3.EncodingError{Field: "verifyingKey", Err: err}
	}
	return codec.Sha256(buf.Bytes()), nil
}

// Register adds vk and returns the digest proofs must name.
func (v *Groth16Verifier) Register(vk groth16.VerifyingKey) (common.Hash, error) {
	digest, err := CircuitDigest(vk)
	if err != nil {
		return common.Hash{}, err
	}
	v.mu.Lock()
	v.circuits[digest] = vk
	v.mu.Unlock()

	v.logger.Info().Str("digest", digest.Hex()).Int("publicInputs", vk.NbPublicWitness()).Msg("circuit registered")
	return digest, nil
}

// RegisterBytes adds a serialized BN254 verifying key.
func (v *Groth16Verifier) RegisterBytes(data []byte) (common.Hash, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(data)); err != nil {
		return common.Hash{}, &openid3.EncodingError{Field: "verifyingKey", Err: err}
	}
	return v.Register(vk)
}

func (v *Groth16Verifier) lookup(digest common.Hash) (groth16.VerifyingKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	vk, ok := v.circuits[digest]
	return vk, ok
}

// Verify implements Verifier. blob is circuitDigest ‖ serialized proof.
func (v *Groth16Verifier) Verify(ctx context.Context, input []byte, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	digest, raw, err := SplitProof(blob)
	if err != nil {
		return err
	}
	vk, ok := v.lookup(digest)
	if !ok {
		return &openid3.ProofInvalidError{Err: ErrUnknownCircuit}
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(raw)); err != nil {
		return &openid3.ProofInvalidError{Err: err}
	}

	public, err := frontend.NewWitness(&BatchPublic{InputHash: InputHash(input)}, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return &openid3.EncodingError{Field: "witness", Err: err}
	}
	if err := groth16.Verify(proof, vk, public); err != nil {
		v.logger.Debug().Err(err).Str("digest", digest.Hex()).Msg("proof rejected")
		return &openid3.ProofInvalidError{Err: err}
	}
	return nil
}
