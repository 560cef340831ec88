// Package userop defines the ERC-4337 (v0.6) user operation an OpenID3
// account executes, its canonical hash, and its JSON wire form.
//
// An Operation is constructed fresh per submission: its nonce reflects the
// sender's current on-chain state (zero while the account is undeployed) and
// it is treated as immutable once signed.
package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
)

// Defaults applied when preparing a fresh operation.
const (
	DefaultCallGasLimit         = 500000
	DefaultVerificationGasLimit = 2000000
	DefaultPreVerificationGas   = 0
)

// paymasterGasMultiplier is applied to the verification gas limit when a
// paymaster sponsors the operation (validation plus postOp).
const paymasterGasMultiplier = 3

type userOperationError string

func (e userOperationError) Error() string {
	return string(e)
}

const (
	ErrNilOperation      userOperationError = "user operation is nil"
	ErrNoChainID         userOperationError = "verifying context has no chain id"
	ErrInvalidHexField   userOperationError = "invalid hex-encoded user operation field"
	ErrNoOperations      userOperationError = "no user operations to bundle"
	ErrInvalidGasField   userOperationError = "gas or fee field exceeds uint256"
	ErrInvalidSenderAddr userOperationError = "sender is the zero address"
)

// Operation represents one requested action on behalf of an account.
// Every field except Signature is covered by Hash.
type Operation struct {
	Sender               common.Address `json:"sender"               mapstructure:"sender"               abi:"sender"               binding:"nonzero_addr"`
	Nonce                *big.Int       `json:"nonce"                mapstructure:"nonce"                abi:"nonce"                binding:"required"`
	InitCode             []byte         `json:"initCode"             mapstructure:"initCode"             abi:"initCode"`
	CallData             []byte         `json:"callData"             mapstructure:"callData"             abi:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"         mapstructure:"callGasLimit"         abi:"callGasLimit"         binding:"required"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit" mapstructure:"verificationGasLimit" abi:"verificationGasLimit" binding:"required"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"   mapstructure:"preVerificationGas"   abi:"preVerificationGas"   binding:"required"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"         mapstructure:"maxFeePerGas"         abi:"maxFeePerGas"         binding:"required"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas" mapstructure:"maxPriorityFeePerGas" abi:"maxPriorityFeePerGas" binding:"required"`
	PaymasterAndData     []byte         `json:"paymasterAndData"     mapstructure:"paymasterAndData"     abi:"paymasterAndData"`
	Signature            []byte         `json:"signature"            mapstructure:"signature"            abi:"signature"`
}

// Copy returns a deep copy of op, so that attaching a signature to the copy
// never mutates an operation that was already signed.
func (op *Operation) Copy() *Operation {
	cp := &Operation{
		Sender:               op.Sender,
		Nonce:                copyBig(op.Nonce),
		InitCode:             common.CopyBytes(op.InitCode),
		CallData:             common.CopyBytes(op.CallData),
		CallGasLimit:         copyBig(op.CallGasLimit),
		VerificationGasLimit: copyBig(op.VerificationGasLimit),
		PreVerificationGas:   copyBig(op.PreVerificationGas),
		MaxFeePerGas:         copyBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: copyBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     common.CopyBytes(op.PaymasterAndData),
		Signature:            common.CopyBytes(op.Signature),
	}
	return cp
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// GetFactory returns the account factory address, the first 20 bytes of
// InitCode, or the zero address when the account is already deployed.
func (op *Operation) GetFactory() common.Address {
	if len(op.InitCode) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.InitCode[:common.AddressLength])
}

// GetFactoryData returns the factory calldata that follows the factory
// address in InitCode.
func (op *Operation) GetFactoryData() []byte {
	if len(op.InitCode) < common.AddressLength {
		return []byte{}
	}
	return op.InitCode[common.AddressLength:]
}

// GetPaymaster returns the sponsoring paymaster address, or the zero
// address when the operation is self-funded.
func (op *Operation) GetPaymaster() common.Address {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength])
}

// GetMaxGasAvailable returns the maximum gas the operation may consume:
// VerificationGasLimit * multiplier + PreVerificationGas + CallGasLimit.
func (op *Operation) GetMaxGasAvailable() *big.Int {
	mul := big.NewInt(1)
	if op.GetPaymaster() != (common.Address{}) {
		mul = big.NewInt(paymasterGasMultiplier)
	}

	vgl := new(big.Int).Mul(orZero(op.VerificationGasLimit), mul)
	return vgl.Add(vgl, new(big.Int).Add(orZero(op.PreVerificationGas), orZero(op.CallGasLimit)))
}

// GetMaxPrefund returns the maximum amount the sender (or paymaster) must
// deposit for the operation.
func (op *Operation) GetMaxPrefund() *big.Int {
	return new(big.Int).Mul(op.GetMaxGasAvailable(), orZero(op.MaxFeePerGas))
}

// GetDynamicGasPrice returns the effective gas price for the given base fee:
// min(MaxFeePerGas, basefee + MaxPriorityFeePerGas).
func (op *Operation) GetDynamicGasPrice(basefee *big.Int) *big.Int {
	gp := new(big.Int).Add(orZero(basefee), orZero(op.MaxPriorityFeePerGas))
	if op.MaxFeePerGas != nil && gp.Cmp(op.MaxFeePerGas) > 0 {
		return new(big.Int).Set(op.MaxFeePerGas)
	}
	return gp
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// MarshalJSON encodes the operation the way bundlers expect it: every
// integer and byte field as a 0x-prefixed hex string.
func (op *Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Sender               string `json:"sender"`
		Nonce                string `json:"nonce"`
		InitCode             string `json:"initCode"`
		CallData             string `json:"callData"`
		CallGasLimit         string `json:"callGasLimit"`
		VerificationGasLimit string `json:"verificationGasLimit"`
		PreVerificationGas   string `json:"preVerificationGas"`
		MaxFeePerGas         string `json:"maxFeePerGas"`
		MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
		PaymasterAndData     string `json:"paymasterAndData"`
		Signature            string `json:"signature"`
	}{
		Sender:               op.Sender.Hex(),
		Nonce:                hexutil.EncodeBig(orZero(op.Nonce)),
		InitCode:             hexutil.Encode(op.InitCode),
		CallData:             hexutil.Encode(op.CallData),
		CallGasLimit:         hexutil.EncodeBig(orZero(op.CallGasLimit)),
		VerificationGasLimit: hexutil.EncodeBig(orZero(op.VerificationGasLimit)),
		PreVerificationGas:   hexutil.EncodeBig(orZero(op.PreVerificationGas)),
		MaxFeePerGas:         hexutil.EncodeBig(orZero(op.MaxFeePerGas)),
		MaxPriorityFeePerGas: hexutil.EncodeBig(orZero(op.MaxPriorityFeePerGas)),
		PaymasterAndData:     hexutil.Encode(op.PaymasterAndData),
		Signature:            hexutil.Encode(op.Signature),
	})
}

// UnmarshalJSON does the reverse of MarshalJSON.
func (op *Operation) UnmarshalJSON(data []byte) error {
	aux := struct {
		Sender               string `json:"sender"`
		Nonce                string `json:"nonce"`
		InitCode             string `json:"initCode"`
		CallData             string `json:"callData"`
		CallGasLimit         string `json:"callGasLimit"`
		VerificationGasLimit string `json:"verificationGasLimit"`
		PreVerificationGas   string `json:"preVerificationGas"`
		MaxFeePerGas         string `json:"maxFeePerGas"`
		MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
		PaymasterAndData     string `json:"paymasterAndData"`
		Signature            string `json:"signature"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if !common.IsHexAddress(aux.Sender) {
		return fmt.Errorf("%w: sender %q", ErrInvalidHexField, aux.Sender)
	}
	op.Sender = common.HexToAddress(aux.Sender)

	bigs := []struct {
		name string
		src  string
		dst  **big.Int
	}{
		{"nonce", aux.Nonce, &op.Nonce},
		{"callGasLimit", aux.CallGasLimit, &op.CallGasLimit},
		{"verificationGasLimit", aux.VerificationGasLimit, &op.VerificationGasLimit},
		{"preVerificationGas", aux.PreVerificationGas, &op.PreVerificationGas},
		{"maxFeePerGas", aux.MaxFeePerGas, &op.MaxFeePerGas},
		{"maxPriorityFeePerGas", aux.MaxPriorityFeePerGas, &op.MaxPriorityFeePerGas},
	}
	for _, f := range bigs {
		v, err := hexutil.DecodeBig(f.src)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidHexField, f.name, err)
		}
		*f.dst = v
	}

	raws := []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"initCode", aux.InitCode, &op.InitCode},
		{"callData", aux.CallData, &op.CallData},
		{"paymasterAndData", aux.PaymasterAndData, &op.PaymasterAndData},
		{"signature", aux.Signature, &op.Signature},
	}
	for _, f := range raws {
		v, err := hexutil.Decode(f.src)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidHexField, f.name, err)
		}
		*f.dst = v
	}

	return nil
}

func (op *Operation) String() string {
	formatBytes := func(b []byte) string {
		if len(b) == 0 {
			return "0x"
		}
		return hexutil.Encode(b)
	}

	formatBigInt := func(b *big.Int) string {
		if b == nil {
			return "0x, 0"
		}
		return fmt.Sprintf("0x%x, %s", b, b.Text(10))
	}

	return fmt.Sprintf(
		"Operation{\n"+
			"  Sender: %s\n"+
			"  Nonce: %s\n"+
			"  InitCode: %s\n"+
			"  CallData: %s\n"+
			"  CallGasLimit: %s\n"+
			"  VerificationGasLimit: %s\n"+
			"  PreVerificationGas: %s\n"+
			"  MaxFeePerGas: %s\n"+
			"  MaxPriorityFeePerGas: %s\n"+
			"  PaymasterAndData: %s\n"+
			"  Signature: %s\n"+
			"}",
		op.Sender.String(),
		formatBigInt(op.Nonce),
		formatBytes(op.InitCode),
		formatBytes(op.CallData),
		formatBigInt(op.CallGasLimit),
		formatBigInt(op.VerificationGasLimit),
		formatBigInt(op.PreVerificationGas),
		formatBigInt(op.MaxFeePerGas),
		formatBigInt(op.MaxPriorityFeePerGas),
		formatBytes(op.PaymasterAndData),
		formatBytes(op.Signature),
	)
}
