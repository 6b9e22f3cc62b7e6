package common

import (
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func TestBigInt(t *testing.T) {
	var v BigInt

	textRef := []byte("11111111111111111111")
	err := v.UnmarshalText(textRef)
	require.NoError(t, err)
	textRoundTrip, err := v.MarshalText()
	require.NoError(t, err)
	require.Equal(t, textRef, textRoundTrip)

	jsonRef := []byte("\"22222222222222222222\"")
	err = json.Unmarshal(jsonRef, &v)
	require.NoError(t, err)
	jsonRoundTrip, err := json.Marshal(v)
	require.NoError(t, err)
	require.Equal(t, jsonRef, jsonRoundTrip)

	stringRef := "33333333333333333333"
	err = v.Int.UnmarshalText([]byte(stringRef))
	require.NoError(t, err)
	stringRoundTrip := fmt.Sprintf("%v", v)
	require.Equal(t, stringRef, stringRoundTrip)
}

func TestBigIntFromCopies(t *testing.T) {
	src := big.NewInt(7)
	b := BigIntFrom(src)
	src.SetInt64(8)
	require.Equal(t, "7", b.String())
	require.Equal(t, "0", BigIntFrom(nil).Big().String())

	out := b.Big()
	out.SetInt64(9)
	require.Equal(t, "7", b.String())
}

func TestBigIntNumeric(t *testing.T) {
	var b BigInt
	require.NoError(t, b.ScanNumeric(pgtype.Numeric{Int: big.NewInt(15), Exp: 2, Valid: true}))
	require.Equal(t, "1500", b.String())

	require.NoError(t, b.ScanNumeric(pgtype.Numeric{Int: big.NewInt(1500), Exp: -2, Valid: true}))
	require.Equal(t, "15", b.String())

	require.Error(t, b.ScanNumeric(pgtype.Numeric{Int: big.NewInt(1501), Exp: -2, Valid: true}))
	require.Error(t, b.ScanNumeric(pgtype.Numeric{}))

	n, err := NewBigInt(42).NumericValue()
	require.NoError(t, err)
	require.True(t, n.Valid)
	require.Equal(t, int64(42), n.Int.Int64())
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000")
	require.NoError(t, err)
	require.Equal(t, "1000", v.String())

	v, err = ParseAmount("1.5ether")
	require.NoError(t, err)
	require.Equal(t, "1500000000000000000", v.String())

	v, err = ParseAmount("2 ether")
	require.NoError(t, err)
	require.Equal(t, 0, v.Cmp(new(big.Int).Mul(big.NewInt(2), Ether)))

	_, err = ParseAmount("-1")
	require.Error(t, err)
	_, err = ParseAmount("abc")
	require.Error(t, err)
	_, err = ParseEther("0.0000000000000000001")
	require.Error(t, err)
}

func TestFormatEther(t *testing.T) {
	require.Equal(t, "0", FormatEther(nil))
	require.Equal(t, "1", FormatEther(Ether))
	require.Equal(t, "0.7", FormatEther(big.NewInt(700_000_000_000_000_000)))
	require.Equal(t, "10", FormatEther(new(big.Int).Mul(big.NewInt(10), Ether)))
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	require.False(t, IsZeroAddress(addr))

	_, err = ParseAddress("0x1234")
	require.Error(t, err)
}
