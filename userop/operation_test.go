package userop

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func mockOperation() *Operation {
	return &Operation{
		Sender:               common.HexToAddress("0xF0dc2efb7940cecf1322e9b02EaaF178F3e33D20"),
		Nonce:                big.NewInt(3),
		InitCode:             []byte{},
		CallData:             common.FromHex("0xb61d27f60000000000000000000000009d34f236bddf1b9de014312599d9c9ec8af1bc48"),
		CallGasLimit:         big.NewInt(DefaultCallGasLimit),
		VerificationGasLimit: big.NewInt(DefaultVerificationGasLimit),
		PreVerificationGas:   big.NewInt(DefaultPreVerificationGas),
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		PaymasterAndData:     []byte{},
	}
}

func mockContext() VerifyingContext {
	return VerifyingContext{
		EntryPoint: common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"),
		ChainID:    big.NewInt(11155111),
	}
}

// TestOperation_GetPaymaster test GetPaymaster function.
func TestOperation_GetPaymaster(t *testing.T) {
	op := Operation{
		PaymasterAndData: append(common.HexToAddress("0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe").Bytes(), []byte("extra data")...),
	}
	expectedAddress := common.HexToAddress("0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe")

	if got := op.GetPaymaster(); got != expectedAddress {
		t.Errorf("GetPaymaster() = %v, want %v", got, expectedAddress)
	}
}

// TestOperation_GetFactory tests GetFactory function.
func TestOperation_GetFactory(t *testing.T) {
	op := Operation{
		InitCode: append(common.HexToAddress("0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe").Bytes(), []byte("init code")...),
	}
	expectedAddress := common.HexToAddress("0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe")

	if got := op.GetFactory(); got != expectedAddress {
		t.Errorf("GetFactory() = %v, want %v", got, expectedAddress)
	}
	require.Equal(t, []byte("init code"), op.GetFactoryData())
}

// TestOperation_GetMaxGasAvailable test GetMaxGasAvailable function.
func TestOperation_GetMaxGasAvailable(t *testing.T) {
	op := Operation{
		VerificationGasLimit: big.NewInt(30000),
		PreVerificationGas:   big.NewInt(20000),
		CallGasLimit:         big.NewInt(50000),
		PaymasterAndData:     []byte{}, // No paymaster, multiplier should be 1
	}
	require.Equal(t, int64(100000), op.GetMaxGasAvailable().Int64())

	op.PaymasterAndData = common.HexToAddress("0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe").Bytes()
	require.Equal(t, int64(30000*3+70000), op.GetMaxGasAvailable().Int64())
}

// TestOperation_GetMaxPrefund test GetMaxPrefund function.
func TestOperation_GetMaxPrefund(t *testing.T) {
	op := Operation{
		VerificationGasLimit: big.NewInt(30000),
		PreVerificationGas:   big.NewInt(20000),
		CallGasLimit:         big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(100),
	}
	// MaxGasAvailable = 30000 * 1 + (20000 + 50000) = 100000
	// MaxPrefund = 100000 * 100 = 10000000
	if got := op.GetMaxPrefund(); got.Cmp(big.NewInt(10000000)) != 0 {
		t.Errorf("GetMaxPrefund() = %v, want %v", got, 10000000)
	}
}

// TestOperation_GetDynamicGasPrice tests GetDynamicGasPrice function.
func TestOperation_GetDynamicGasPrice(t *testing.T) {
	op := Operation{
		MaxFeePerGas:         big.NewInt(120),
		MaxPriorityFeePerGas: big.NewInt(10),
	}
	require.Equal(t, int64(15), op.GetDynamicGasPrice(big.NewInt(5)).Int64())
	// capped by MaxFeePerGas
	require.Equal(t, int64(120), op.GetDynamicGasPrice(big.NewInt(115)).Int64())
}

func TestOperation_HashDeterministic(t *testing.T) {
	op := mockOperation()
	vctx := mockContext()

	h1, err := op.Hash(vctx)
	require.NoError(t, err)
	h2, err := op.Copy().Hash(vctx)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	// signature is not covered
	signed := op.Copy()
	signed.Signature = []byte{0x01, 0x02}
	h3, err := signed.Hash(vctx)
	require.NoError(t, err)
	require.Equal(t, h1, h3)
}

func TestOperation_HashFieldSensitivity(t *testing.T) {
	vctx := mockContext()
	base, err := mockOperation().Hash(vctx)
	require.NoError(t, err)

	mutations := map[string]func(op *Operation, vctx *VerifyingContext){
		"nonce":                func(op *Operation, _ *VerifyingContext) { op.Nonce = big.NewInt(4) },
		"sender":               func(op *Operation, _ *VerifyingContext) { op.Sender[19] ^= 0x01 },
		"initCode":             func(op *Operation, _ *VerifyingContext) { op.InitCode = []byte{0x00} },
		"callData":             func(op *Operation, _ *VerifyingContext) { op.CallData[0] ^= 0x01 },
		"callGasLimit":         func(op *Operation, _ *VerifyingContext) { op.CallGasLimit = big.NewInt(1) },
		"verificationGasLimit": func(op *Operation, _ *VerifyingContext) { op.VerificationGasLimit = big.NewInt(1) },
		"preVerificationGas":   func(op *Operation, _ *VerifyingContext) { op.PreVerificationGas = big.NewInt(1) },
		"maxFeePerGas":         func(op *Operation, _ *VerifyingContext) { op.MaxFeePerGas = big.NewInt(1) },
		"maxPriorityFeePerGas": func(op *Operation, _ *VerifyingContext) { op.MaxPriorityFeePerGas = big.NewInt(2) },
		"paymasterAndData":     func(op *Operation, _ *VerifyingContext) { op.PaymasterAndData = []byte{0x01} },
		"entryPoint":           func(_ *Operation, v *VerifyingContext) { v.EntryPoint[0] ^= 0x01 },
		"chainId":              func(_ *Operation, v *VerifyingContext) { v.ChainID = big.NewInt(1) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			op := mockOperation()
			v := mockContext()
			mutate(op, &v)
			h, err := op.Hash(v)
			require.NoError(t, err)
			require.NotEqual(t, base, h)
		})
	}
}

// TestOperation_HashMatchesABIEncode checks Hash against an independent
// abi.encode construction.
func TestOperation_HashMatchesABIEncode(t *testing.T) {
	op := mockOperation()
	vctx := mockContext()

	ty := func(s string) abi.Type {
		typ, err := abi.NewType(s, "", nil)
		require.NoError(t, err)
		return typ
	}
	inner := abi.Arguments{
		{Type: ty("address")}, {Type: ty("uint256")}, {Type: ty("bytes32")}, {Type: ty("bytes32")},
		{Type: ty("uint256")}, {Type: ty("uint256")}, {Type: ty("uint256")}, {Type: ty("uint256")},
		{Type: ty("uint256")}, {Type: ty("bytes32")},
	}
	innerPacked, err := inner.Pack(
		op.Sender, op.Nonce,
		crypto.Keccak256Hash(op.InitCode), crypto.Keccak256Hash(op.CallData),
		op.CallGasLimit, op.VerificationGasLimit, op.PreVerificationGas,
		op.MaxFeePerGas, op.MaxPriorityFeePerGas,
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	require.NoError(t, err)

	outer := abi.Arguments{{Type: ty("bytes32")}, {Type: ty("address")}, {Type: ty("uint256")}}
	outerPacked, err := outer.Pack(crypto.Keccak256Hash(innerPacked), vctx.EntryPoint, vctx.ChainID)
	require.NoError(t, err)

	got, err := op.Hash(vctx)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(outerPacked), got)
}

func TestOperation_HashErrors(t *testing.T) {
	var nilOp *Operation
	_, err := nilOp.Hash(mockContext())
	require.ErrorIs(t, err, ErrNilOperation)

	_, err = mockOperation().Hash(VerifyingContext{})
	require.ErrorIs(t, err, ErrNoChainID)

	op := mockOperation()
	op.Nonce = big.NewInt(-1)
	_, err = op.Hash(mockContext())
	require.Error(t, err)
}

func TestOperation_JSONRoundTrip(t *testing.T) {
	op := mockOperation()
	op.Signature = common.FromHex("0x01abcdef")

	data, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded Operation
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, op.Sender, decoded.Sender)
	require.Equal(t, 0, op.Nonce.Cmp(decoded.Nonce))
	require.Equal(t, op.CallData, decoded.CallData)
	require.Equal(t, op.Signature, decoded.Signature)
	require.Equal(t, 0, op.MaxFeePerGas.Cmp(decoded.MaxFeePerGas))

	vctx := mockContext()
	h1, err := op.Hash(vctx)
	require.NoError(t, err)
	h2, err := decoded.Hash(vctx)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestOperation_UnmarshalJSONInvalid(t *testing.T) {
	err := json.Unmarshal([]byte(`{"sender":"0xF0dc2efb7940cecf1322e9b02EaaF178F3e33D20","nonce":"zz"}`), new(Operation))
	require.ErrorIs(t, err, ErrInvalidHexField)

	err = json.Unmarshal([]byte(`{"sender":"not-an-address"}`), new(Operation))
	require.ErrorIs(t, err, ErrInvalidHexField)
}

func TestOperation_String(t *testing.T) {
	s := mockOperation().String()
	require.Contains(t, s, "Nonce: 0x3, 3")
	require.Contains(t, s, "PaymasterAndData: 0x\n")
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(mockOperation()))

	require.ErrorIs(t, Validate(nil), ErrNilOperation)

	op := mockOperation()
	op.Sender = common.Address{}
	require.ErrorIs(t, Validate(op), ErrInvalidSenderAddr)

	op = mockOperation()
	op.MaxFeePerGas = nil
	require.Error(t, Validate(op))

	op = mockOperation()
	op.CallGasLimit = new(big.Int).Lsh(big.NewInt(1), 300)
	require.ErrorIs(t, Validate(op), ErrInvalidGasField)
}

func TestPackHandleOps(t *testing.T) {
	op := mockOperation()
	op.Signature = []byte{0x01}
	beneficiary := common.HexToAddress("0x0A7199a96fdf0252E09F76545c1eF2be3692F46b")

	data, err := PackHandleOps([]*Operation{op}, beneficiary)
	require.NoError(t, err)

	method, err := HandleOpsMethod()
	require.NoError(t, err)
	require.Equal(t, method.ID, data[:4])
	require.Equal(t, "handleOps((address,uint256,bytes,bytes,uint256,uint256,uint256,uint256,uint256,bytes,bytes)[],address)", method.Sig)

	values, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, values, 2)
	require.Equal(t, beneficiary, values[1].(common.Address))

	_, err = PackHandleOps(nil, beneficiary)
	require.ErrorIs(t, err, ErrNoOperations)
}
