package model

import (
	"strings"

	"github.com/yanun0323/errors"
)

// InstrumentID identifies an instrument by symbol and venue.
type InstrumentID struct {
	Symbol string
	Venue  string
}

func NewInstrumentID(symbol, venue string) InstrumentID {
	return InstrumentID{Symbol: symbol, Venue: venue}
}

// ParseInstrumentID parses "SYMBOL.VENUE", splitting on the last dot.
func ParseInstrumentID(s string) (InstrumentID, error) {
	idx := strings.LastIndexByte(s, '.')
	if idx <= 0 || idx == len(s)-1 {
		return InstrumentID{}, errors.Errorf("invalid instrument id %q", s)
	}
	return InstrumentID{Symbol: s[:idx], Venue: s[idx+1:]}, nil
}

func (id InstrumentID) String() string {
	return id.Symbol + "." + id.Venue
}

func (id InstrumentID) IsZero() bool {
	return id.Symbol == "" && id.Venue == ""
}

// Currencies splits "BASE/QUOTE" or "BASE-QUOTE" symbols. ok is false for symbols
// without a separator.
func (id InstrumentID) Currencies() (base, quote string, ok bool) {
	for _, sep := range []string{"/", "-"} {
		if b, q, found := strings.Cut(id.Symbol, sep); found && b != "" && q != "" {
			return b, q, true
		}
	}
	return "", "", false
}

// Instrument carries the static definition announced by a venue.
type Instrument struct {
	ID             InstrumentID
	RawSymbol      string
	BaseCurrency   string
	QuoteCurrency  string
	PricePrecision uint8
	SizePrecision  uint8
	TickSize       Price
	LotSize        Quantity
	TsEvent        int64
	TsInit         int64
}
