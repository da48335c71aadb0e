package dispatch

import (
	"bytes"
	"encoding/json"

	"cosmossdk.io/math"
	"github.com/pkg/errors"
)

// BigIntString is a JSON scalar that round-trips arbitrary-precision
// integers through the contract's query responses without the precision
// loss encoding/json's default float64 numbers suffer past 2^53. It
// marshals as a JSON string and unmarshals from either a JSON string or a
// bare JSON number, since contracts disagree on which they emit.
type BigIntString struct {
	Int math.Int
}

// MarshalJSON renders the integer as a quoted decimal string.
func (b BigIntString) MarshalJSON() ([]byte, error) {
	if b.Int.IsNil() {
		return []byte(`"0"`), nil
	}
	return json.Marshal(b.Int.String())
}

// UnmarshalJSON accepts either `"123"` or `123`, preserving full precision
// in both cases by decoding through math.Int rather than float64.
func (b *BigIntString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.Trim(data, `"`)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		b.Int = math.ZeroInt()
		return nil
	}
	i, ok := math.NewIntFromString(string(trimmed))
	if !ok {
		return errors.Errorf("bigint: cannot parse %q as an integer", string(data))
	}
	b.Int = i
	return nil
}

// String renders the decimal value.
func (b BigIntString) String() string {
	if b.Int.IsNil() {
		return "0"
	}
	return b.Int.String()
}

// bigIntDecoder unmarshals a smart-query response body with BigIntString
// semantics applied uniformly: every bare JSON number in the document is
// first round-tripped through json.Number so no float64 conversion ever
// happens, then left as a decimal string for the caller's target type
// (which is expected to use BigIntString or math.Int fields) to parse.
//
// This is the one place in the dispatch core that cannot use
// encoding/json's default decoding: contract responses routinely carry
// integers (balances, counts) larger than 2^53, and the standard decoder
// silently loses precision on those once it sees a bare number literal.
func decodeBigIntSafe(body []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return errors.Wrap(err, "failed to decode big-int-safe JSON response")
	}
	return nil
}
