package attestation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/OpenID3/openid3-go"
)

// State is the lifecycle position of one submitted batch.
type State int

const (
	StateReceived State = iota
	StatePayloadsMatched
	StateProofVerified
	StateDispatching
	StateComplete
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StatePayloadsMatched:
		return "payloads-matched"
	case StateProofVerified:
		return "proof-verified"
	case StateDispatching:
		return "dispatching"
	case StateComplete:
		return "complete"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type aggregatorError string

func (e aggregatorError) Error() string {
	return string(e)
}

const (
	ErrUnknownKid      aggregatorError = "attester kid is not registered"
	ErrKidExpired      aggregatorError = "attester kid expired before the statement was issued"
	ErrInvalidProvider aggregatorError = "attester kid has no provider"
	ErrUnknownConsumer aggregatorError = "consumer is not in the consumer set"
)

// Verifier checks a proof over the exact packed batch input.
type Verifier interface {
	Verify(ctx context.Context, input []byte, proof []byte) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, input []byte, proof []byte) error

func (f VerifierFunc) Verify(ctx context.Context, input []byte, proof []byte) error {
	return f(ctx, input, proof)
}

// DispatchFailure records one consumer call that did not succeed.
type DispatchFailure struct {
	Statement int
	Pair      int
	Consumer  common.Address
	Err       error
}

// Report is the observable outcome of one batch.
type Report struct {
	State        State
	History      []State
	Statements   []Statement
	Attestations []Attestation
	Failures     []DispatchFailure
}

func (r *Report) transition(s State) {
	r.State = s
	r.History = append(r.History, s)
}

// Err joins the dispatch failures, or returns nil when every pair was
// delivered.
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("statement %d pair %d to %s: %w", f.Statement, f.Pair, f.Consumer.Hex(), f.Err))
	}
	return errors.Join(errs...)
}

// Aggregator verifies attestation batches and dispatches their payloads.
// It holds no per-batch state; Aggregate may be called concurrently.
type Aggregator struct {
	verifier  Verifier
	consumers ConsumerSet
	registry  KidRegistry
	logger    zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithKidRegistry makes every statement's kid subject to registry checks
// and derives the consumer-facing subject from the kid's provider.
func WithKidRegistry(registry KidRegistry) Option {
	return func(a *Aggregator) {
		a.registry = registry
	}
}

func NewAggregator(verifier Verifier, consumers ConsumerSet, opts ...Option) *Aggregator {
	a := &Aggregator{
		verifier:  verifier,
		consumers: consumers,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "attestation-aggregator").Logger()
	return a
}

// Aggregate runs one batch through the state machine. input is the packed
// statements the proof covers and payloads[i] is the plaintext of
// statement i.
//
// Nothing is dispatched unless every payload matches its statement and the
// proof verifies. Once dispatching starts, a failing consumer is recorded
// in the report and the remaining pairs are still delivered. The returned
// report is non-nil even when err is.
func (a *Aggregator) Aggregate(ctx context.Context, input []byte, payloads []Payload, proof []byte) (*Report, error) {
	report := &Report{}
	report.transition(StateReceived)

	reject := func(err error) (*Report, error) {
		report.transition(StateRejected)
		a.logger.Warn().Err(err).Int("statements", len(report.Statements)).Msg("batch rejected")
		return report, err
	}

	statements, err := ParseStatements(input)
	if err != nil {
		return reject(err)
	}
	report.Statements = statements

	if len(payloads) != len(statements) {
		return reject(openid3.NewEncodingError("payloads", "%d payloads for %d statements", len(payloads), len(statements)))
	}

	for i, s := range statements {
		got, err := payloads[i].Hash()
		if err != nil {
			return reject(err)
		}
		if got != s.PayloadHash {
			return reject(&openid3.PayloadMismatchError{Index: i, Want: s.PayloadHash, Got: got})
		}
	}
	from := make([]common.Hash, len(statements))
	for i, s := range statements {
		if from[i], err = a.subject(ctx, s); err != nil {
			return reject(err)
		}
	}
	report.transition(StatePayloadsMatched)

	if err := a.verifier.Verify(ctx, input, proof); err != nil {
		var proofErr *openid3.ProofInvalidError
		if !errors.As(err, &proofErr) {
			err = &openid3.ProofInvalidError{Err: err}
		}
		return reject(err)
	}
	report.transition(StateProofVerified)

	report.transition(StateDispatching)
	for i, s := range statements {
		for j, blob := range payloads[i].Data {
			consumer := payloads[i].Consumers[j]
			if err := ctx.Err(); err != nil {
				report.Failures = append(report.Failures, DispatchFailure{Statement: i, Pair: j, Consumer: consumer, Err: err})
				continue
			}

			att := Attestation{Consumer: consumer, Kid: s.Kid, From: from[i], Data: blob, Iat: s.Iat}
			if err := a.dispatch(ctx, att); err != nil {
				report.Failures = append(report.Failures, DispatchFailure{Statement: i, Pair: j, Consumer: consumer, Err: err})
				a.logger.Warn().Err(err).Int("statement", i).Int("pair", j).
					Str("consumer", consumer.Hex()).Msg("attestation dispatch failed")
				continue
			}
			report.Attestations = append(report.Attestations, att)
			a.logger.Info().Str("consumer", consumer.Hex()).Str("from", att.From.Hex()).
				Uint64("iat", att.Iat).Msg("new attestation")
		}
	}
	report.transition(StateComplete)

	a.logger.Debug().Int("statements", len(statements)).Int("delivered", len(report.Attestations)).
		Int("failed", len(report.Failures)).Msg("batch complete")
	return report, nil
}

func (a *Aggregator) dispatch(ctx context.Context, att Attestation) error {
	if a.consumers == nil {
		return ErrUnknownConsumer
	}
	c, ok := a.consumers.Resolve(att.Consumer)
	if !ok {
		return ErrUnknownConsumer
	}
	return c.Consume(ctx, att)
}

// subject returns the identity consumers see for s.
func (a *Aggregator) subject(ctx context.Context, s Statement) (common.Hash, error) {
	if a.registry == nil {
		return s.AccountHash, nil
	}

	data, ok, err := a.registry.LookupKid(ctx, s.Kid)
	if err != nil {
		return common.Hash{}, err
	}
	subject := "kid " + s.Kid.Hex()
	if !ok {
		return common.Hash{}, &openid3.AuthorizationError{Subject: subject, Err: ErrUnknownKid}
	}
	if data.Provider == ProviderInvalid {
		return common.Hash{}, &openid3.AuthorizationError{Subject: subject, Err: ErrInvalidProvider}
	}
	if data.ValidUntil < s.Iat {
		return common.Hash{}, &openid3.AuthorizationError{Subject: subject, Err: ErrKidExpired}
	}
	return FromIdentity(data.Provider, s.AccountHash), nil
}
