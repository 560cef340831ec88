package userop

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/OpenID3/openid3-go/codec"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators runs NewValidator once per process.
func RegisterValidators() error {
	registerOnce.Do(func() { registerErr = NewValidator() })
	return registerErr
}

// Custom validation for Ethereum addresses held as strings.
func validEthAddress(fl validator.FieldLevel) bool {
	return common.IsHexAddress(fl.Field().String())
}

// validNonZeroAddress rejects the zero common.Address.
func validNonZeroAddress(fl validator.FieldLevel) bool {
	addr, ok := fl.Field().Interface().(common.Address)
	return ok && addr != (common.Address{})
}

// NewValidator registers the custom tags used by Operation and by request
// bodies that embed it into gin's binding validator engine.
func NewValidator() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	if err := v.RegisterValidation("eth_addr", validEthAddress); err != nil {
		return fmt.Errorf("failed to register validator for eth_addr: %w", err)
	}

	if err := v.RegisterValidation("nonzero_addr", validNonZeroAddress); err != nil {
		return fmt.Errorf("failed to register validator for nonzero_addr: %w", err)
	}
	return nil
}

// Validate checks that op is complete enough to hash and sign: a non-zero
// sender, every integer field present and within uint256, and dynamic fields
// within the encoder's limits.
func Validate(op *Operation) error {
	if op == nil {
		return ErrNilOperation
	}

	if err := RegisterValidators(); err != nil {
		return err
	}

	if op.Sender == (common.Address{}) {
		return ErrInvalidSenderAddr
	}
	if err := binding.Validator.ValidateStruct(op); err != nil {
		return err
	}

	for _, v := range []*big.Int{
		op.Nonce, op.CallGasLimit, op.VerificationGasLimit,
		op.PreVerificationGas, op.MaxFeePerGas, op.MaxPriorityFeePerGas,
	} {
		if _, err := codec.ToWord(v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidGasField, err)
		}
	}

	for name, b := range map[string][]byte{
		"initCode":         op.InitCode,
		"callData":         op.CallData,
		"paymasterAndData": op.PaymasterAndData,
	} {
		if err := codec.CheckLength(name, b); err != nil {
			return err
		}
	}
	return nil
}
