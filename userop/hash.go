package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/OpenID3/openid3-go/codec"
)

// VerifyingContext names the verifier an operation is bound to: the
// EntryPoint contract address and the chain it is deployed on. It is always
// passed explicitly so one process can target several deployments.
type VerifyingContext struct {
	EntryPoint common.Address
	ChainID    *big.Int
}

// Hash computes the canonical operation hash every signature scheme signs:
//
//	inner = keccak256(abi.encode(sender, nonce, keccak256(initCode),
//	        keccak256(callData), callGasLimit, verificationGasLimit,
//	        preVerificationGas, maxFeePerGas, maxPriorityFeePerGas,
//	        keccak256(paymasterAndData)))
//	hash  = keccak256(abi.encode(inner, entryPoint, chainId))
//
// The signature field is not covered. Nil integers hash as zero.
func (op *Operation) Hash(vctx VerifyingContext) (common.Hash, error) {
	if op == nil {
		return common.Hash{}, ErrNilOperation
	}
	if vctx.ChainID == nil {
		return common.Hash{}, ErrNoChainID
	}

	inner, err := op.innerHash()
	if err != nil {
		return common.Hash{}, err
	}

	packed, err := codec.PackFixed(
		codec.Bytes32(inner),
		codec.AddressWord(vctx.EntryPoint),
		codec.Uint256(vctx.ChainID),
	)
	if err != nil {
		return common.Hash{}, err
	}
	return codec.Keccak256(packed), nil
}

func (op *Operation) innerHash() (common.Hash, error) {
	packed, err := codec.PackFixed(
		codec.AddressWord(op.Sender),
		codec.Uint256(op.Nonce),
		codec.Bytes32(codec.Keccak256(op.InitCode)),
		codec.Bytes32(codec.Keccak256(op.CallData)),
		codec.Uint256(op.CallGasLimit),
		codec.Uint256(op.VerificationGasLimit),
		codec.Uint256(op.PreVerificationGas),
		codec.Uint256(op.MaxFeePerGas),
		codec.Uint256(op.MaxPriorityFeePerGas),
		codec.Bytes32(codec.Keccak256(op.PaymasterAndData)),
	)
	if err != nil {
		return common.Hash{}, err
	}
	return codec.Keccak256(packed), nil
}
