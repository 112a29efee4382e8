package solana

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	d := json.NewDecoder(bytes.NewBufferString(`{"InstructionError":[2,{"Custom":3}]}`))

	var raw interface{}
	assert.NoError(t, d.Decode(&raw))

	e, err := ParseTransactionError(raw)
	assert.NoError(t, err)

	assert.Equal(t, TransactionErrorInstructionError, e.ErrorKey())
	assert.NotNil(t, e.InstructionError())
	assert.Equal(t, 2, e.InstructionError().Index)
	assert.Equal(t, InstructionErrorCustom, e.InstructionError().ErrorKey())
	assert.NotNil(t, e.InstructionError().CustomError())
	assert.Equal(t, CustomError(3), *e.InstructionError().CustomError())

	d = json.NewDecoder(bytes.NewBufferString(`{"InstructionError":[0,"InvalidArgument"]}`))
	assert.NoError(t, d.Decode(&raw))

	e, err = ParseTransactionError(raw)
	assert.NoError(t, err)

	assert.Equal(t, TransactionErrorInstructionError, e.ErrorKey())
	assert.NotNil(t, e.InstructionError())
	assert.Equal(t, 0, e.InstructionError().Index)
	assert.Equal(t, InstructionErrorInvalidArgument, e.InstructionError().ErrorKey())

	d = json.NewDecoder(bytes.NewBufferString(`"DuplicateSignature"`))
	assert.NoError(t, d.Decode(&raw))

	e, err = ParseTransactionError(raw)
	assert.NoError(t, err)

	assert.Equal(t, TransactionErrorDuplicateSignature, e.ErrorKey())
	assert.Nil(t, e.InstructionError())
}

func TestNew(t *testing.T) {
	d := json.NewDecoder(bytes.NewBufferString(`"DuplicateSignature"`))
	var expected interface{}
	assert.NoError(t, d.Decode(&expected))

	e := NewTransactionError(TransactionErrorDuplicateSignature)
	assert.Equal(t, expected, e.raw)

	d = json.NewDecoder(bytes.NewBufferString(`{"InstructionError":[0,"InvalidArgument"]}`))
	assert.NoError(t, d.Decode(&expected))
	e, err := TransactionErrorFromInstructionError(&InstructionError{
		Index: 0,
		Err:   errors.New(string(InstructionErrorInvalidArgument)),
	})
	assert.NoError(t, err)
	assert.Equal(t, expected, e.raw)

	d = json.NewDecoder(bytes.NewBufferString(`{"InstructionError":[2,{"Custom":3}]}`))
	assert.NoError(t, d.Decode(&expected))
	e, err = TransactionErrorFromInstructionError(&InstructionError{
		Index: 2,
		Err:   CustomError(3),
	})
	assert.NoError(t, err)
	assert.Equal(t, expected, e.raw)
}

func TestParseJSONNumber(t *testing.T) {
	tc := []interface{}{
		"1",
		1.0,
		json.Number("1"),
	}
	for i, c := range tc {
		v, err := parseJSONNumber(c)
		assert.NoError(t, err)
		assert.Equal(t, 1, v, i)
	}
}

func TestNewInstructionError(t *testing.T) {
	e := NewInstructionError(1, InstructionErrorAccountDataTooSmall)
	assert.Equal(t, 1, e.Index)
	assert.Equal(t, InstructionErrorAccountDataTooSmall, e.ErrorKey())
	assert.Nil(t, e.CustomError())

	txErr, err := TransactionErrorFromInstructionError(e)
	assert.NoError(t, err)
	assert.Equal(t, TransactionErrorInstructionError, txErr.ErrorKey())

	raw, err := txErr.JSONString()
	assert.NoError(t, err)
	assert.JSONEq(t, `{"InstructionError":[1,"AccountDataTooSmall"]}`, raw)
}

func TestParse_Malformed(t *testing.T) {
	_, err := ParseTransactionError(map[string]interface{}{
		"InstructionError": []interface{}{json.Number("0"), "InvalidArgument"},
		"Extra":            "value",
	})
	assert.Error(t, err)

	_, err = ParseTransactionError(map[string]interface{}{
		"InstructionError": []interface{}{json.Number("0")},
	})
	assert.Error(t, err)

	_, err = ParseTransactionError(map[string]interface{}{
		"InstructionError": []interface{}{json.Number("0"), map[string]interface{}{"Custom": 1.0, "Other": 2.0}},
	})
	assert.Error(t, err)

	_, err = ParseTransactionError(42)
	assert.Error(t, err)
}

func TestErrorChain(t *testing.T) {
	txErr, err := TransactionErrorFromInstructionError(&InstructionError{
		Index: 1,
		Err:   CustomError(0x10),
	})
	assert.NoError(t, err)
	assert.Equal(t, "Error processing Instruction 1: custom program error: 0x10", txErr.Error())

	wrapped := errors.Wrap(txErr, "failed to submit")
	assert.Equal(t, TransactionErrorInstructionError, TransactionErrorKeyOf(wrapped))

	instructionErr := InstructionErrorOf(wrapped)
	if assert.NotNil(t, instructionErr) {
		assert.Equal(t, 1, instructionErr.Index)
	}

	var custom CustomError
	assert.True(t, errors.As(wrapped, &custom))
	assert.Equal(t, CustomError(0x10), custom)

	plain := errors.Wrap(NewTransactionError(TransactionErrorBlockhashNotFound), "failed to submit")
	assert.Equal(t, TransactionErrorBlockhashNotFound, TransactionErrorKeyOf(plain))
	assert.Nil(t, InstructionErrorOf(plain))
	assert.False(t, errors.As(plain, &custom))

	assert.Empty(t, TransactionErrorKeyOf(errors.New("unrelated")))
	assert.Nil(t, InstructionErrorOf(nil))
}
