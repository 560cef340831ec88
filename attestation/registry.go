package attestation

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/OpenID3/openid3-go/codec"
)

// Provider identifies the identity provider behind an attester key.
type Provider uint8

const (
	ProviderInvalid Provider = iota
	ProviderGoogle
	ProviderTwitter
	ProviderGithub
)

// KidData is what the registry records about an attester key.
type KidData struct {
	Provider   Provider
	ValidUntil uint64
}

// KidRegistry resolves attester keys.
type KidRegistry interface {
	LookupKid(ctx context.Context, kid common.Hash) (KidData, bool, error)
}

// MemoryKidRegistry is a KidRegistry held in memory. It is safe for
// concurrent use.
type MemoryKidRegistry struct {
	mu   sync.RWMutex
	kids map[common.Hash]KidData
}

func NewMemoryKidRegistry() *MemoryKidRegistry {
	return &MemoryKidRegistry{kids: make(map[common.Hash]KidData)}
}

// SetKid registers or overwrites kid.
func (r *MemoryKidRegistry) SetKid(kid common.Hash, data KidData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kids[kid] = data
}

func (r *MemoryKidRegistry) LookupKid(_ context.Context, kid common.Hash) (KidData, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.kids[kid]
	return data, ok, nil
}

// FromIdentity derives the consumer-facing subject:
// uint96(provider) ‖ address(uint160(accountHash)).
func FromIdentity(provider Provider, accountHash common.Hash) common.Hash {
	packed, _ := codec.PackFixed(
		codec.Uint96(big.NewInt(int64(provider))),
		codec.Address(common.BytesToAddress(accountHash.Bytes())),
	)
	return common.BytesToHash(packed)
}
