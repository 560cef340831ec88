package attestation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Attestation is one dispatched (subject, blob) pair, the record a consumer
// receives.
type Attestation struct {
	Consumer common.Address `json:"consumer"`
	Kid      common.Hash    `json:"kid"`
	From     common.Hash    `json:"from"`
	Data     []byte         `json:"data"`
	Iat      uint64         `json:"iat"`
}

// Consumer receives proof-backed attestations.
type Consumer interface {
	Consume(ctx context.Context, a Attestation) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, a Attestation) error

func (f ConsumerFunc) Consume(ctx context.Context, a Attestation) error {
	return f(ctx, a)
}

// ConsumerSet resolves the consumer addresses named in payloads.
type ConsumerSet interface {
	Resolve(addr common.Address) (Consumer, bool)
}

// ConsumerMap is a fixed ConsumerSet.
type ConsumerMap map[common.Address]Consumer

func (m ConsumerMap) Resolve(addr common.Address) (Consumer, bool) {
	c, ok := m[addr]
	return c, ok
}
