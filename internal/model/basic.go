package model

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

const (
	// FixedPrecision is the scale of every raw value.
	FixedPrecision = 9
	// FixedScalar is 10^FixedPrecision.
	FixedScalar = 1_000_000_000
)

var _pow10 = [...]int64{1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000, 1_000_000_000}

// Price is a fixed-point value scaled by FixedScalar. Precision only controls
// rounding on construction and rendering.
type Price struct {
	Raw       int64
	Precision uint8
}

// NewPrice rounds value to precision decimal places.
func NewPrice(value float64, precision uint8) Price {
	precision = clampPrecision(precision)
	return Price{Raw: roundRaw(value, precision), Precision: precision}
}

// PriceFromRaw wraps an already scaled raw value.
func PriceFromRaw(raw int64, precision uint8) Price {
	return Price{Raw: raw, Precision: clampPrecision(precision)}
}

// PriceFromDecimal converts a decimal with the given precision.
func PriceFromDecimal(d decimal.Decimal, precision uint8) Price {
	precision = clampPrecision(precision)
	return Price{Raw: decimalRaw(d, precision), Precision: precision}
}

// ParsePrice parses a decimal string, inferring the precision from its digits.
func ParsePrice(s string) (Price, error) {
	d, precision, err := parseDecimal(s)
	if err != nil {
		return Price{}, err
	}
	return PriceFromDecimal(d, precision), nil
}

func (p Price) Float64() float64 {
	return float64(p.Raw) / FixedScalar
}

func (p Price) IsZero() bool {
	return p.Raw == 0
}

// Cmp returns -1, 0 or 1.
func (p Price) Cmp(o Price) int {
	switch {
	case p.Raw < o.Raw:
		return -1
	case p.Raw > o.Raw:
		return 1
	default:
		return 0
	}
}

func (p Price) Add(o Price) Price {
	return Price{Raw: p.Raw + o.Raw, Precision: max(p.Precision, o.Precision)}
}

func (p Price) Sub(o Price) Price {
	return Price{Raw: p.Raw - o.Raw, Precision: max(p.Precision, o.Precision)}
}

func (p Price) AppendString(buf []byte) []byte {
	return appendScaledInt(buf, p.Raw/_pow10[FixedPrecision-p.Precision], int(p.Precision))
}

func (p Price) String() string {
	return string(p.AppendString(make([]byte, 0, 24)))
}

// Quantity is a non-negative fixed-point value scaled by FixedScalar.
type Quantity struct {
	Raw       int64
	Precision uint8
}

// NewQuantity rounds value to precision decimal places.
func NewQuantity(value float64, precision uint8) Quantity {
	precision = clampPrecision(precision)
	return Quantity{Raw: roundRaw(value, precision), Precision: precision}
}

// QuantityFromRaw wraps an already scaled raw value.
func QuantityFromRaw(raw int64, precision uint8) Quantity {
	return Quantity{Raw: raw, Precision: clampPrecision(precision)}
}

// QuantityFromDecimal converts a decimal with the given precision.
func QuantityFromDecimal(d decimal.Decimal, precision uint8) Quantity {
	precision = clampPrecision(precision)
	return Quantity{Raw: decimalRaw(d, precision), Precision: precision}
}

// ParseQuantity parses a decimal string, inferring the precision from its digits.
func ParseQuantity(s string) (Quantity, error) {
	d, precision, err := parseDecimal(s)
	if err != nil {
		return Quantity{}, err
	}
	if d.IsNegative() {
		return Quantity{}, errors.Errorf("negative quantity %s", s)
	}
	return QuantityFromDecimal(d, precision), nil
}

func (q Quantity) Float64() float64 {
	return float64(q.Raw) / FixedScalar
}

func (q Quantity) IsZero() bool {
	return q.Raw == 0
}

func (q Quantity) IsPositive() bool {
	return q.Raw > 0
}

func (q Quantity) Cmp(o Quantity) int {
	switch {
	case q.Raw < o.Raw:
		return -1
	case q.Raw > o.Raw:
		return 1
	default:
		return 0
	}
}

func (q Quantity) Add(o Quantity) Quantity {
	return Quantity{Raw: q.Raw + o.Raw, Precision: max(q.Precision, o.Precision)}
}

// Sub saturates at zero.
func (q Quantity) Sub(o Quantity) Quantity {
	raw := q.Raw - o.Raw
	if raw < 0 {
		raw = 0
	}
	return Quantity{Raw: raw, Precision: max(q.Precision, o.Precision)}
}

func (q Quantity) Min(o Quantity) Quantity {
	if o.Raw < q.Raw {
		return Quantity{Raw: o.Raw, Precision: max(q.Precision, o.Precision)}
	}
	return Quantity{Raw: q.Raw, Precision: max(q.Precision, o.Precision)}
}

func (q Quantity) AppendString(buf []byte) []byte {
	return appendScaledInt(buf, q.Raw/_pow10[FixedPrecision-q.Precision], int(q.Precision))
}

func (q Quantity) String() string {
	return string(q.AppendString(make([]byte, 0, 24)))
}

func clampPrecision(precision uint8) uint8 {
	if precision > FixedPrecision {
		return FixedPrecision
	}
	return precision
}

func roundRaw(value float64, precision uint8) int64 {
	scaled := math.Round(value * float64(_pow10[precision]))
	return int64(scaled) * _pow10[FixedPrecision-precision]
}

func decimalRaw(d decimal.Decimal, precision uint8) int64 {
	return d.Round(int32(precision)).Shift(FixedPrecision).IntPart()
}

func parseDecimal(s string) (decimal.Decimal, uint8, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, 0, errors.Wrap(err, "parse decimal").With("value", s)
	}
	precision := uint8(0)
	if exp := d.Exponent(); exp < 0 {
		precision = clampPrecision(uint8(min(-exp, FixedPrecision)))
	}
	return d, precision, nil
}

func appendScaledInt(buf []byte, value int64, scale int) []byte {
	if scale <= 0 {
		return strconv.AppendInt(buf, value, 10)
	}

	neg := value < 0
	u := uint64(value)
	if neg {
		u = uint64(^value) + 1
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)

	if neg {
		buf = append(buf, '-')
	}

	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		buf = append(buf, digits...)
		return buf
	}

	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	buf = append(buf, digits[idx:]...)
	return buf
}
