package venue

import (
	"time"

	"github.com/shopspring/decimal"

	"venuelink/internal/model"
)

// Precision returns the number of decimal places d carries, capped at the
// fixed-point precision.
func Precision(d decimal.Decimal) uint8 {
	exp := d.Exponent()
	if exp >= 0 {
		return 0
	}
	return uint8(min(-exp, model.FixedPrecision))
}

// Price converts d at precision, or at its own precision when precision is
// zero.
func Price(d decimal.Decimal, precision uint8) model.Price {
	if precision == 0 {
		precision = Precision(d)
	}
	return model.PriceFromDecimal(d, precision)
}

// Quantity converts d at precision, or at its own precision when precision
// is zero.
func Quantity(d decimal.Decimal, precision uint8) model.Quantity {
	if precision == 0 {
		precision = Precision(d)
	}
	return model.QuantityFromDecimal(d, precision)
}

// ParseTime parses an RFC 3339 timestamp into unix nanoseconds, zero when
// empty or malformed.
func ParseTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.UnixNano()
}
