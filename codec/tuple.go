package codec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/OpenID3/openid3-go"
)

// Schema describes the components of a single ABI tuple. Component names
// map onto Go struct fields through `abi:"name"` tags; UnpackTuple relies on
// the Go struct declaring its fields in schema order.
type Schema []abi.ArgumentMarshaling

// Component is shorthand for a named schema component.
func Component(name, typ string, components ...abi.ArgumentMarshaling) abi.ArgumentMarshaling {
	return abi.ArgumentMarshaling{Name: name, Type: typ, Components: components}
}

func (s Schema) arguments() (abi.Arguments, error) {
	t, err := abi.NewType("tuple", "", s)
	if err != nil {
		return nil, &openid3.EncodingError{Field: "schema", Err: err}
	}
	return abi.Arguments{{Type: t}}, nil
}

// PackTuple ABI-encodes value as a single tuple argument, exactly as
// Solidity's abi.encode((...)) does.
func PackTuple(schema Schema, value interface{}) ([]byte, error) {
	args, err := schema.arguments()
	if err != nil {
		return nil, err
	}
	packed, err := args.Pack(value)
	if err != nil {
		return nil, &openid3.EncodingError{Field: "tuple", Err: err}
	}
	return packed, nil
}

// UnpackTuple decodes data produced by PackTuple into out, which must be a
// pointer to a struct whose fields follow the schema order.
func UnpackTuple(schema Schema, data []byte, out interface{}) (err error) {
	if err := CheckLength("tuple", data); err != nil {
		return err
	}
	args, err := schema.arguments()
	if err != nil {
		return err
	}
	values, err := args.Unpack(data)
	if err != nil {
		return &openid3.EncodingError{Field: "tuple", Err: err}
	}
	if len(values) != 1 {
		return openid3.NewEncodingError("tuple", "expected 1 value, got %d", len(values))
	}

	// abi.ConvertType panics when the shapes disagree.
	defer func() {
		if r := recover(); r != nil {
			err = openid3.NewEncodingError("tuple", "%v", fmt.Sprint(r))
		}
	}()
	abi.ConvertType(values[0], out)
	return nil
}
