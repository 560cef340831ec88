// Package chain talks to an Ethereum node on behalf of the signing flow:
// it fetches the sender's nonce and current fees to prepare operations and
// simulates handleOps against the EntryPoint.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/codec"
	"github.com/OpenID3/openid3-go/userop"
)

// getNonceSelector is the 4-byte selector of getNonce().
var getNonceSelector = crypto.Keccak256([]byte("getNonce()"))[:4]

// Reader is the node surface the client uses. *ethclient.Client satisfies
// it.
type Reader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client prepares and simulates operations for one verifying context.
type Client struct {
	reader Reader
	vctx   userop.VerifyingContext
	logger zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(reader Reader, vctx userop.VerifyingContext, opts ...Option) *Client {
	c := &Client{reader: reader, vctx: vctx, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "chain-client").
		Str("entryPoint", vctx.EntryPoint.Hex()).Logger()
	return c
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string, vctx userop.VerifyingContext, opts ...Option) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", rpcURL)
	}
	return NewClient(ec, vctx, opts...), nil
}

// VerifyingContext returns the context operations are hashed for.
func (c *Client) VerifyingContext() userop.VerifyingContext {
	return c.vctx
}

// Nonce returns the sender's current nonce: zero while the account has no
// code, otherwise the account's getNonce().
func (c *Client) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	code, err := c.reader.CodeAt(ctx, sender, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "get code of %s", sender.Hex())
	}
	if len(code) == 0 {
		return new(big.Int), nil
	}

	out, err := c.reader.CallContract(ctx, ethereum.CallMsg{To: &sender, Data: getNonceSelector}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "getNonce of %s", sender.Hex())
	}
	if len(out) != 32 {
		return nil, openid3.NewEncodingError("getNonce", "returned %d bytes", len(out))
	}
	var word [32]byte
	copy(word[:], out)
	return codec.FromWord(word), nil
}

// FeeData returns maxFeePerGas = 2 * baseFee + tip and the suggested tip.
func (c *Client) FeeData(ctx context.Context) (maxFee, tip *big.Int, err error) {
	tip, err = c.reader.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "suggest gas tip cap")
	}
	head, err := c.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "latest header")
	}

	maxFee = new(big.Int).Set(tip)
	if head.BaseFee != nil {
		maxFee.Add(maxFee, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return maxFee, tip, nil
}

// Prepare builds an unsigned operation with the current nonce and fees and
// the default gas limits.
func (c *Client) Prepare(ctx context.Context, sender common.Address, initCode, callData, paymasterAndData []byte) (*userop.Operation, error) {
	nonce, err := c.Nonce(ctx, sender)
	if err != nil {
		return nil, err
	}
	maxFee, tip, err := c.FeeData(ctx)
	if err != nil {
		return nil, err
	}

	op := &userop.Operation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             orEmpty(initCode),
		CallData:             orEmpty(callData),
		CallGasLimit:         big.NewInt(userop.DefaultCallGasLimit),
		VerificationGasLimit: big.NewInt(userop.DefaultVerificationGasLimit),
		PreVerificationGas:   big.NewInt(userop.DefaultPreVerificationGas),
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		PaymasterAndData:     orEmpty(paymasterAndData),
		Signature:            []byte{},
	}
	c.logger.Debug().Str("sender", sender.Hex()).Str("nonce", nonce.String()).
		Str("maxFeePerGas", maxFee.String()).Msg("operation prepared")
	return op, nil
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// SimulateHandleOps runs handleOps(ops, beneficiary) as an eth_call. A
// revert means the EntryPoint or the account rejected an operation and is
// reported as an AuthorizationError carrying the revert data.
func (c *Client) SimulateHandleOps(ctx context.Context, ops []*userop.Operation, beneficiary common.Address) error {
	data, err := userop.PackHandleOps(ops, beneficiary)
	if err != nil {
		return err
	}

	entryPoint := c.vctx.EntryPoint
	_, err = c.reader.CallContract(ctx, ethereum.CallMsg{
		From: beneficiary,
		To:   &entryPoint,
		Data: data,
	}, nil)
	if err == nil {
		return nil
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		c.logger.Warn().Err(err).Interface("revertData", dataErr.ErrorData()).Msg("handleOps reverted")
		return &openid3.AuthorizationError{Subject: "operation", Err: err}
	}
	return errors.Wrap(err, "simulate handleOps")
}
