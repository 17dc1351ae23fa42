package numeric

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsFullPrecision(t *testing.T) {
	d, ok := Parse(" 0.00000100 ")
	require.True(t, ok)
	require.Equal(t, "0.000001", d.String())
	require.Equal(t, "0.00000100", d.StringFixed(8))

	d, ok = Parse("27123.123456789")
	require.True(t, ok)
	require.Equal(t, "27123.123456789", d.String())
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "1.2.3"} {
		_, ok := Parse(in)
		require.False(t, ok, in)
	}
}

func TestFormatTruncates(t *testing.T) {
	require.Equal(t, "1.23", Format(decimal.RequireFromString("1.239"), 2))
	require.Equal(t, "-1.23", Format(decimal.RequireFromString("-1.239"), 2))
	require.Equal(t, "5", Format(decimal.RequireFromString("5.9"), 0))
	require.Equal(t, "0.10000000", Format(decimal.RequireFromString("0.1"), 8))
}

func TestScaleFromStep(t *testing.T) {
	require.Equal(t, 0, ScaleFromStep("1.00000000"))
	require.Equal(t, 2, ScaleFromStep("0.01000000"))
	require.Equal(t, 6, ScaleFromStep("0.00000100"))
	require.Equal(t, 0, ScaleFromStep("10"))
	require.Equal(t, 0, ScaleFromStep(""))
}

func TestFloorToStep(t *testing.T) {
	v := decimal.RequireFromString("0.123456")
	require.Equal(t, "0.1234", FloorToStep(v, decimal.RequireFromString("0.0001")).String())
	require.True(t, v.Equal(FloorToStep(v, decimal.Zero)))
}
