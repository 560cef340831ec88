package attestation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenID3/openid3-go"
)

var (
	kid1 = common.HexToHash("0x833f04da2e98afacb94d06613caac437f3ec5d58d6b04d6f558394a526cfbaad")
	kid2 = common.HexToHash("0x781aa49f1e1d2ff7e5dc82282775cee581e11857f79b25c136842d277f7435dc")

	consumer1 = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	consumer2 = common.HexToAddress("0x00000000000000000000000000000000000000c2")

	account1 = crypto.Keccak256Hash([]byte("account1"))
	account2 = crypto.Keccak256Hash([]byte("account2"))
)

const testIat uint64 = 0x65c0fbd0

type recordingConsumer struct {
	mu       sync.Mutex
	received []Attestation
	err      error
}

func (c *recordingConsumer) Consume(_ context.Context, a Attestation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.received = append(c.received, a)
	return nil
}

func (c *recordingConsumer) calls() []Attestation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Attestation(nil), c.received...)
}

type countingVerifier struct {
	calls int
	input []byte
	err   error
}

func (v *countingVerifier) Verify(_ context.Context, input []byte, _ []byte) error {
	v.calls++
	v.input = input
	return v.err
}

type batch struct {
	input    []byte
	payloads []Payload
}

func twoStatementBatch(t *testing.T) batch {
	t.Helper()
	payloads := []Payload{
		{Data: [][]byte{common.FromHex("0xabababab")}, Consumers: []common.Address{consumer1}},
		{Data: [][]byte{common.FromHex("0xcdcdcdcd")}, Consumers: []common.Address{consumer2}},
	}
	s1, err := NewStatement(kid1, account1, &payloads[0], testIat)
	require.NoError(t, err)
	s2, err := NewStatement(kid2, account2, &payloads[1], testIat+1)
	require.NoError(t, err)
	return batch{input: PackStatements([]Statement{s1, s2}), payloads: payloads}
}

func TestStatementPacking(t *testing.T) {
	s := Statement{Kid: kid1, AccountHash: account1, PayloadHash: common.HexToHash("0x01"), Iat: testIat}
	packed := s.Pack()
	require.Len(t, packed, StatementLength)
	require.Equal(t, kid1.Bytes(), packed[:32])
	require.Equal(t, account1.Bytes(), packed[32:64])
	require.Equal(t, []byte{0, 0, 0, 0, 0x65, 0xc0, 0xfb, 0xd0}, packed[96:])

	parsed, err := ParseStatements(PackStatements([]Statement{s, s}))
	require.NoError(t, err)
	require.Equal(t, []Statement{s, s}, parsed)
}

func TestParseStatementsInvalid(t *testing.T) {
	for _, n := range []int{0, 1, StatementLength - 1, StatementLength + 1} {
		_, err := ParseStatements(make([]byte, n))
		var encErr *openid3.EncodingError
		require.ErrorAs(t, err, &encErr, "length %d", n)
	}
}

func TestPayload(t *testing.T) {
	p := Payload{
		Data:      [][]byte{{0x01}, {}},
		Consumers: []common.Address{consumer1, consumer2},
	}
	encoded, err := p.Encode()
	require.NoError(t, err)

	h, err := p.Hash()
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(encoded), h)

	decoded, err := DecodePayload(encoded)
	require.NoError(t, err)
	require.Equal(t, p.Consumers, decoded.Consumers)
	require.Equal(t, p.Data, decoded.Data)

	// data and consumers are both committed to
	swapped := Payload{Data: p.Data, Consumers: []common.Address{consumer2, consumer1}}
	h2, err := swapped.Hash()
	require.NoError(t, err)
	require.NotEqual(t, h, h2)

	_, err = (&Payload{Data: [][]byte{{0x01}}}).Hash()
	var encErr *openid3.EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestFromIdentity(t *testing.T) {
	accountHash := common.HexToHash("0x000000000000000000000000f38bd65d4782cd068fe30ea7b01f77201cd095af")
	got := FromIdentity(ProviderGoogle, accountHash)
	require.Equal(t, common.HexToHash("0x000000000000000000000001f38bd65d4782cd068fe30ea7b01f77201cd095af"), got)
}

func TestAggregateDispatchesEachPairOnce(t *testing.T) {
	b := twoStatementBatch(t)
	c1, c2 := &recordingConsumer{}, &recordingConsumer{}
	verifier := &countingVerifier{}
	proof := []byte("proof")

	agg := NewAggregator(verifier, ConsumerMap{consumer1: c1, consumer2: c2})
	report, err := agg.Aggregate(context.Background(), b.input, b.payloads, proof)
	require.NoError(t, err)

	require.Equal(t, 1, verifier.calls)
	require.Equal(t, b.input, verifier.input)

	require.Equal(t, []Attestation{{
		Consumer: consumer1, Kid: kid1, From: account1, Data: common.FromHex("0xabababab"), Iat: testIat,
	}}, c1.calls())
	require.Equal(t, []Attestation{{
		Consumer: consumer2, Kid: kid2, From: account2, Data: common.FromHex("0xcdcdcdcd"), Iat: testIat + 1,
	}}, c2.calls())

	assert.Equal(t, StateComplete, report.State)
	assert.Equal(t, []State{StateReceived, StatePayloadsMatched, StateProofVerified, StateDispatching, StateComplete}, report.History)
	assert.Len(t, report.Attestations, 2)
	assert.Empty(t, report.Failures)
	assert.NoError(t, report.Err())
}

func TestAggregateRejectsMismatchedPayload(t *testing.T) {
	b := twoStatementBatch(t)
	c1, c2 := &recordingConsumer{}, &recordingConsumer{}
	verifier := &countingVerifier{}

	tampered := append([]Payload(nil), b.payloads...)
	tampered[1] = Payload{Data: [][]byte{common.FromHex("0xcdcdcdce")}, Consumers: []common.Address{consumer2}}

	agg := NewAggregator(verifier, ConsumerMap{consumer1: c1, consumer2: c2})
	report, err := agg.Aggregate(context.Background(), b.input, tampered, []byte("proof"))

	var mismatch *openid3.PayloadMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 1, mismatch.Index)
	require.Equal(t, StateRejected, report.State)

	require.Zero(t, verifier.calls)
	require.Empty(t, c1.calls())
	require.Empty(t, c2.calls())
}

func TestAggregateRejectsReorderedPayloads(t *testing.T) {
	b := twoStatementBatch(t)
	c1, c2 := &recordingConsumer{}, &recordingConsumer{}

	agg := NewAggregator(&countingVerifier{}, ConsumerMap{consumer1: c1, consumer2: c2})
	_, err := agg.Aggregate(context.Background(), b.input, []Payload{b.payloads[1], b.payloads[0]}, nil)

	var mismatch *openid3.PayloadMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 0, mismatch.Index)
	require.Empty(t, c1.calls())
	require.Empty(t, c2.calls())
}

func TestAggregateRejectsInvalidProof(t *testing.T) {
	b := twoStatementBatch(t)
	c1, c2 := &recordingConsumer{}, &recordingConsumer{}
	verifier := &countingVerifier{err: errors.New("pairing check failed")}

	agg := NewAggregator(verifier, ConsumerMap{consumer1: c1, consumer2: c2})
	report, err := agg.Aggregate(context.Background(), b.input, b.payloads, []byte("proof"))

	var proofErr *openid3.ProofInvalidError
	require.ErrorAs(t, err, &proofErr)
	require.Equal(t, []State{StateReceived, StatePayloadsMatched, StateRejected}, report.History)
	require.Empty(t, c1.calls())
	require.Empty(t, c2.calls())
}

func TestAggregateCountMismatch(t *testing.T) {
	b := twoStatementBatch(t)
	verifier := &countingVerifier{}

	agg := NewAggregator(verifier, ConsumerMap{})
	_, err := agg.Aggregate(context.Background(), b.input, b.payloads[:1], nil)
	var encErr *openid3.EncodingError
	require.ErrorAs(t, err, &encErr)
	require.Zero(t, verifier.calls)

	_, err = agg.Aggregate(context.Background(), b.input[:StatementLength+3], b.payloads, nil)
	require.ErrorAs(t, err, &encErr)
	require.Zero(t, verifier.calls)
}

func TestAggregatePartialDispatch(t *testing.T) {
	payload := Payload{
		Data:      [][]byte{{0x01}, {0x02}, {0x03}},
		Consumers: []common.Address{consumer1, consumer2, consumer1},
	}
	s, err := NewStatement(kid1, account1, &payload, testIat)
	require.NoError(t, err)

	c1 := &recordingConsumer{}
	c2 := &recordingConsumer{err: errors.New("consumer reverted")}

	agg := NewAggregator(&countingVerifier{}, ConsumerMap{consumer1: c1, consumer2: c2})
	report, err := agg.Aggregate(context.Background(), s.Pack(), []Payload{payload}, nil)
	require.NoError(t, err)
	require.Equal(t, StateComplete, report.State)

	// pair 0 stays delivered and pair 2 is still attempted
	got := c1.calls()
	require.Len(t, got, 2)
	require.Equal(t, []byte{0x01}, got[0].Data)
	require.Equal(t, []byte{0x03}, got[1].Data)

	require.Len(t, report.Failures, 1)
	require.Equal(t, 0, report.Failures[0].Statement)
	require.Equal(t, 1, report.Failures[0].Pair)
	require.Equal(t, consumer2, report.Failures[0].Consumer)
	require.Error(t, report.Err())
}

func TestAggregateUnknownConsumer(t *testing.T) {
	b := twoStatementBatch(t)
	c1 := &recordingConsumer{}

	agg := NewAggregator(&countingVerifier{}, ConsumerMap{consumer1: c1})
	report, err := agg.Aggregate(context.Background(), b.input, b.payloads, nil)
	require.NoError(t, err)
	require.Len(t, c1.calls(), 1)
	require.Len(t, report.Failures, 1)
	require.ErrorIs(t, report.Failures[0].Err, ErrUnknownConsumer)
}

func TestAggregateCancelledDuringDispatch(t *testing.T) {
	b := twoStatementBatch(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c1 := ConsumerFunc(func(context.Context, Attestation) error {
		cancel()
		return nil
	})
	c2 := &recordingConsumer{}

	agg := NewAggregator(&countingVerifier{}, ConsumerMap{consumer1: c1, consumer2: c2})
	report, err := agg.Aggregate(ctx, b.input, b.payloads, nil)
	require.NoError(t, err)
	require.Len(t, report.Attestations, 1)
	require.Empty(t, c2.calls())
	require.Len(t, report.Failures, 1)
	require.ErrorIs(t, report.Failures[0].Err, context.Canceled)
}

func TestAggregateWithKidRegistry(t *testing.T) {
	b := twoStatementBatch(t)

	tests := []struct {
		name    string
		kids    map[common.Hash]KidData
		wantErr error
	}{
		{
			name: "registered",
			kids: map[common.Hash]KidData{
				kid1: {Provider: ProviderGoogle, ValidUntil: testIat + 100},
				kid2: {Provider: ProviderTwitter, ValidUntil: testIat + 1},
			},
		},
		{
			name:    "unknown kid",
			kids:    map[common.Hash]KidData{kid1: {Provider: ProviderGoogle, ValidUntil: testIat}},
			wantErr: ErrUnknownKid,
		},
		{
			name: "expired kid",
			kids: map[common.Hash]KidData{
				kid1: {Provider: ProviderGoogle, ValidUntil: testIat},
				kid2: {Provider: ProviderTwitter, ValidUntil: testIat},
			},
			wantErr: ErrKidExpired,
		},
		{
			name: "no provider",
			kids: map[common.Hash]KidData{
				kid1: {Provider: ProviderInvalid, ValidUntil: testIat + 100},
				kid2: {Provider: ProviderTwitter, ValidUntil: testIat + 100},
			},
			wantErr: ErrInvalidProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewMemoryKidRegistry()
			for kid, data := range tt.kids {
				registry.SetKid(kid, data)
			}
			c1, c2 := &recordingConsumer{}, &recordingConsumer{}
			verifier := &countingVerifier{}

			agg := NewAggregator(verifier, ConsumerMap{consumer1: c1, consumer2: c2}, WithKidRegistry(registry))
			report, err := agg.Aggregate(context.Background(), b.input, b.payloads, nil)

			if tt.wantErr != nil {
				var authErr *openid3.AuthorizationError
				require.ErrorAs(t, err, &authErr)
				require.ErrorIs(t, err, tt.wantErr)
				require.Equal(t, StateRejected, report.State)
				require.Zero(t, verifier.calls)
				require.Empty(t, c1.calls())
				require.Empty(t, c2.calls())
				return
			}

			require.NoError(t, err)
			require.Equal(t, FromIdentity(ProviderGoogle, account1), c1.calls()[0].From)
			require.Equal(t, FromIdentity(ProviderTwitter, account2), c2.calls()[0].From)
		})
	}
}

func TestProofBlob(t *testing.T) {
	digest := common.HexToHash("0x2874851f7a094dc67dc4cc50e175d74f1a7289e56c98a3e1daf9de093c610348")
	blob := JoinProof(digest, []byte{0x01, 0x02})
	require.Len(t, blob, 34)

	gotDigest, proof, err := SplitProof(blob)
	require.NoError(t, err)
	require.Equal(t, digest, gotDigest)
	require.Equal(t, []byte{0x01, 0x02}, proof)

	_, _, err = SplitProof(digest.Bytes())
	var encErr *openid3.EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestInputHashFitsField(t *testing.T) {
	h := InputHash([]byte("anything"))
	require.LessOrEqual(t, h.BitLen(), 253)
}
