package rewardledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Amount is a base-unit quantity. The ledger may encode it as a JSON number,
// an integral float, or a numeric string.
type Amount uint64

func (a Amount) Uint64() uint64 {
	return uint64(a)
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}

	s := string(data)
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		*a = Amount(v)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
		return fmt.Errorf("invalid amount %s", s)
	}
	*a = Amount(f)
	return nil
}
