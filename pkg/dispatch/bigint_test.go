package dispatch

import (
	"encoding/json"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBigIntStringRoundTrip exercises property 6: parse(stringify(I)) == I
// for integers well beyond 2^53, both when the wire form is a quoted
// string and when it's a bare JSON number.
func TestBigIntStringRoundTrip(t *testing.T) {
	testCases := []string{
		"0",
		"1",
		"9007199254740993",          // 2^53 + 1
		"1000000000000000000000",   // 10^21, scenario S5
		"340282366920938463463374607431768211455", // way past uint64
	}

	for _, raw := range testCases {
		t.Run(raw, func(t *testing.T) {
			want, ok := math.NewIntFromString(raw)
			require.True(t, ok)

			encoded, err := json.Marshal(BigIntString{Int: want})
			require.NoError(t, err)
			assert.Equal(t, `"`+raw+`"`, string(encoded))

			var decoded BigIntString
			require.NoError(t, json.Unmarshal(encoded, &decoded))
			assert.True(t, want.Equal(decoded.Int))

			var fromBareNumber BigIntString
			require.NoError(t, json.Unmarshal([]byte(raw), &fromBareNumber))
			assert.True(t, want.Equal(fromBareNumber.Int))
		})
	}
}

// TestBigIntDecodeBigIntSafeStructField exercises scenario S5 end to end:
// a contract response carrying a balance past 2^53 round-trips exactly
// through decodeBigIntSafe into a struct field.
func TestBigIntDecodeBigIntSafeStructField(t *testing.T) {
	var out struct {
		Balance BigIntString `json:"balance"`
	}
	body := []byte(`{"balance":"1000000000000000000000"}`)
	require.NoError(t, decodeBigIntSafe(body, &out))

	want, ok := math.NewIntFromString("1000000000000000000000")
	require.True(t, ok)
	assert.True(t, want.Equal(out.Balance.Int))
}
