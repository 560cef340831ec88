package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/OpenID3/openid3-go/codec"
)

// operationComponents is the EntryPoint v0.6 UserOperation struct layout.
var operationComponents = []abi.ArgumentMarshaling{
	codec.Component("sender", "address"),
	codec.Component("nonce", "uint256"),
	codec.Component("initCode", "bytes"),
	codec.Component("callData", "bytes"),
	codec.Component("callGasLimit", "uint256"),
	codec.Component("verificationGasLimit", "uint256"),
	codec.Component("preVerificationGas", "uint256"),
	codec.Component("maxFeePerGas", "uint256"),
	codec.Component("maxPriorityFeePerGas", "uint256"),
	codec.Component("paymasterAndData", "bytes"),
	codec.Component("signature", "bytes"),
}

// HandleOpsMethod returns the EntryPoint handleOps(UserOperation[],address)
// method definition.
func HandleOpsMethod() (abi.Method, error) {
	opsType, err := abi.NewType("tuple[]", "", operationComponents)
	if err != nil {
		return abi.Method{}, err
	}
	addrType, err := abi.NewType("address", "", nil)
	if err != nil {
		return abi.Method{}, err
	}
	inputs := abi.Arguments{
		{Name: "ops", Type: opsType},
		{Name: "beneficiary", Type: addrType},
	}
	return abi.NewMethod("handleOps", "handleOps", abi.Function, "nonpayable", false, false, inputs, nil), nil
}

// PackHandleOps builds the calldata submitting ops to the EntryPoint with
// fees paid out to beneficiary.
func PackHandleOps(ops []*Operation, beneficiary common.Address) ([]byte, error) {
	if len(ops) == 0 {
		return nil, ErrNoOperations
	}
	method, err := HandleOpsMethod()
	if err != nil {
		return nil, err
	}

	normalized := make([]Operation, len(ops))
	for i, op := range ops {
		if op == nil {
			return nil, ErrNilOperation
		}
		cp := op.Copy()
		for _, v := range []**big.Int{
			&cp.Nonce, &cp.CallGasLimit, &cp.VerificationGasLimit,
			&cp.PreVerificationGas, &cp.MaxFeePerGas, &cp.MaxPriorityFeePerGas,
		} {
			*v = orZero(*v)
		}
		normalized[i] = *cp
	}

	args, err := method.Inputs.Pack(normalized, beneficiary)
	if err != nil {
		return nil, err
	}
	return append(method.ID, args...), nil
}
