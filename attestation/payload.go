package attestation

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/codec"
)

// PayloadSchema pins the payload layout to tuple(bytes[] data, address[]
// consumers).
var PayloadSchema = codec.Schema{
	codec.Component("data", "bytes[]"),
	codec.Component("consumers", "address[]"),
}

// Payload is the plaintext of one statement: Data[i] is dispatched to
// Consumers[i].
type Payload struct {
	Data      [][]byte         `abi:"data"`
	Consumers []common.Address `abi:"consumers"`
}

// Validate checks that the pair lists line up.
func (p *Payload) Validate() error {
	if len(p.Data) != len(p.Consumers) {
		return openid3.NewEncodingError("payload", "%d data blobs but %d consumers", len(p.Data), len(p.Consumers))
	}
	for i, d := range p.Data {
		if len(d) > codec.MaxDynamicLength {
			return openid3.NewEncodingError("payload.data", "blob %d length %d exceeds maximum %d", i, len(d), codec.MaxDynamicLength)
		}
	}
	return nil
}

// Encode abi-encodes the payload.
func (p *Payload) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	normalized := Payload{
		Data:      make([][]byte, len(p.Data)),
		Consumers: p.Consumers,
	}
	for i, d := range p.Data {
		if d == nil {
			d = []byte{}
		}
		normalized.Data[i] = d
	}
	if normalized.Consumers == nil {
		normalized.Consumers = []common.Address{}
	}
	return codec.PackTuple(PayloadSchema, &normalized)
}

// Hash is keccak256 of the encoded payload, the commitment a statement
// carries.
func (p *Payload) Hash() (common.Hash, error) {
	encoded, err := p.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return codec.Keccak256(encoded), nil
}

// DecodePayload parses an abi-encoded payload.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := codec.UnpackTuple(PayloadSchema, data, &p); err != nil {
		return nil, err
	}
	return &p, p.Validate()
}

// NewStatement commits to payload for the given attester, subject and time.
func NewStatement(kid, accountHash common.Hash, payload *Payload, iat uint64) (Statement, error) {
	h, err := payload.Hash()
	if err != nil {
		return Statement{}, err
	}
	return Statement{Kid: kid, AccountHash: accountHash, PayloadHash: h, Iat: iat}, nil
}
