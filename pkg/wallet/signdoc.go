package wallet

import (
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

var _canonical = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

// Coin is a denominated amount. Amount stays a string so large integers
// survive the JSON round trip.
type Coin struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

type Fee struct {
	Amount []Coin `json:"amount"`
	Gas    string `json:"gas"`
}

// SignDoc is the amino-JSON sign document. Fields are declared in key order.
type SignDoc struct {
	AccountNumber string           `json:"account_number"`
	ChainID       string           `json:"chain_id"`
	Fee           Fee              `json:"fee"`
	Memo          string           `json:"memo"`
	Msgs          []map[string]any `json:"msgs"`
	Sequence      string           `json:"sequence"`
}

// Canonical renders the document with sorted keys and no insignificant whitespace.
func (d SignDoc) Canonical() ([]byte, error) {
	if d.Msgs == nil {
		d.Msgs = []map[string]any{}
	}
	if d.Fee.Amount == nil {
		d.Fee.Amount = []Coin{}
	}

	// round trip through a generic value so nested maps come out sorted too
	raw, err := _canonical.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(exception.ErrInvalidArgument, err.Error())
	}

	var generic any
	if err := _canonical.Unmarshal(raw, &generic); err != nil {
		return nil, errors.Wrap(exception.ErrInternal, err.Error())
	}

	out, err := _canonical.Marshal(generic)
	if err != nil {
		return nil, errors.Wrap(exception.ErrInternal, err.Error())
	}
	return out, nil
}
