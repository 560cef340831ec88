// Package account builds the calldata bundles an OpenID3 account consumes:
// admin registration data, factory init code, execute calls and operator
// data.
//
// Admin and operator data are "instruction bundles": the 20-byte address of
// the contract that interprets them followed by the calldata for it.
package account

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/OpenID3/openid3-go"
	"github.com/OpenID3/openid3-go/codec"
	"github.com/OpenID3/openid3-go/passkey"
)

func newMethod(name string, components ...abi.ArgumentMarshaling) (abi.Method, error) {
	inputs := make(abi.Arguments, 0, len(components))
	for _, c := range components {
		typ, err := abi.NewType(c.Type, "", c.Components)
		if err != nil {
			return abi.Method{}, &openid3.EncodingError{Field: name, Err: err}
		}
		inputs = append(inputs, abi.Argument{Name: c.Name, Type: typ})
	}
	return abi.NewMethod(name, name, abi.Function, "nonpayable", false, false, inputs, nil), nil
}

func packCall(name string, components []abi.ArgumentMarshaling, args ...interface{}) ([]byte, error) {
	method, err := newMethod(name, components...)
	if err != nil {
		return nil, err
	}
	packed, err := method.Inputs.Pack(args...)
	if err != nil {
		return nil, &openid3.EncodingError{Field: name, Err: err}
	}
	return append(common.CopyBytes(method.ID), packed...), nil
}

// Bundle returns target ‖ data.
func Bundle(target common.Address, data []byte) ([]byte, error) {
	return codec.PackFixed(codec.Address(target), codec.Bytes(data))
}

// SplitBundle is the inverse of Bundle.
func SplitBundle(bundle []byte) (common.Address, []byte, error) {
	if len(bundle) < common.AddressLength {
		return common.Address{}, nil, openid3.NewEncodingError("bundle", "length %d is shorter than an address", len(bundle))
	}
	return common.BytesToAddress(bundle[:common.AddressLength]), bundle[common.AddressLength:], nil
}

var setPasskeyInputs = []abi.ArgumentMarshaling{
	codec.Component("pubKey", "tuple",
		codec.Component("pubKeyX", "uint256"),
		codec.Component("pubKeyY", "uint256"),
	),
	codec.Component("id", "string"),
}

// SetPasskeyCallData encodes setPasskey((uint256,uint256),string).
func SetPasskeyCallData(pub passkey.PublicKey, id string) ([]byte, error) {
	if err := pub.Validate(); err != nil {
		return nil, err
	}
	return packCall("setPasskey", setPasskeyInputs, pub, id)
}

// BuildPasskeyAdminData registers key with the passkey admin at admin.
func BuildPasskeyAdminData(admin common.Address, key *passkey.Passkey) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, &openid3.InvalidKeyError{Curve: "P-256", Reason: "missing passkey"}
	}
	data, err := SetPasskeyCallData(key.PublicKey(), key.ID)
	if err != nil {
		return nil, err
	}
	return Bundle(admin, data)
}

var linkAccountInputs = []abi.ArgumentMarshaling{
	codec.Component("accountHash", "bytes32"),
}

// BuildZkAdminData links accountHash with the ZK OIDC admin at admin.
func BuildZkAdminData(admin common.Address, accountHash common.Hash) ([]byte, error) {
	data, err := packCall("linkAccount", linkAccountInputs, accountHash)
	if err != nil {
		return nil, err
	}
	return Bundle(admin, data)
}

var cloneInputs = []abi.ArgumentMarshaling{
	codec.Component("accountInitData", "bytes"),
}

// GenInitCode returns factory ‖ clone(accountInitData), the init code that
// deploys an account on its first operation.
func GenInitCode(factory common.Address, accountInitData []byte) ([]byte, error) {
	if accountInitData == nil {
		accountInitData = []byte{}
	}
	data, err := packCall("clone", cloneInputs, accountInitData)
	if err != nil {
		return nil, err
	}
	return Bundle(factory, data)
}

var executeInputs = []abi.ArgumentMarshaling{
	codec.Component("dest", "address"),
	codec.Component("value", "uint256"),
	codec.Component("func", "bytes"),
}

// BuildExecuteCallData encodes execute(address,uint256,bytes). A nil value
// sends no ether.
func BuildExecuteCallData(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if _, err := codec.ToWord(value); err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return packCall("execute", executeInputs, target, value, data)
}

// BuildOperatorData returns operator ‖ data, the bundle an account uses to
// install its operator manager.
func BuildOperatorData(operator common.Address, data []byte) ([]byte, error) {
	return Bundle(operator, data)
}

// OperatorHash is keccak256 of the packed operator addresses.
func OperatorHash(operators []common.Address) (common.Hash, error) {
	fields := make([]codec.Field, len(operators))
	for i, op := range operators {
		fields[i] = codec.Address(op)
	}
	packed, err := codec.PackFixed(fields...)
	if err != nil {
		return common.Hash{}, err
	}
	return codec.Keccak256(packed), nil
}
