package rest

import (
	"encoding/json"

	"github.com/bytedance/sonic"

	"venuelink/pkg/ratelimit"
)

// PerRows returns an ExtraWeight charging one token per full block of per
// elements in a JSON array response. Non-array bodies cost nothing extra.
func PerRows(per int) func(body []byte) uint32 {
	return func(body []byte) uint32 {
		var rows []json.RawMessage
		if err := sonic.Unmarshal(body, &rows); err != nil {
			return 0
		}
		return ratelimit.QuantizedExtra(len(rows), per)
	}
}
