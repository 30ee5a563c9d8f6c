// Package risk gates order submits against static pre-trade limits.
package risk

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Config defines simple risk limits. A zero limit is disabled.
type Config struct {
	KillSwitch           bool    `yaml:"kill_switch"`
	MaxOrderQty          float64 `yaml:"max_order_qty"`
	MaxOrderNotional     float64 `yaml:"max_order_notional"`
	MaxPriceDeviationBps int64   `yaml:"max_price_deviation_bps"`
	MaxOpenOrders        int     `yaml:"max_open_orders"`
}

// IsZero reports whether no limit is configured.
func (c Config) IsZero() bool {
	return c == Config{}
}

type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonMaxQty
	ReasonMaxNotional
	ReasonPriceBand
	ReasonOpenOrders
)

func (r Reason) String() string {
	switch r {
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonMaxQty:
		return "max_qty"
	case ReasonMaxNotional:
		return "max_notional"
	case ReasonPriceBand:
		return "price_band"
	case ReasonOpenOrders:
		return "open_orders"
	default:
		return "none"
	}
}

// QuoteSource provides the reference quote of an instrument.
type QuoteSource interface {
	Quote(id model.InstrumentID) (model.Quote, bool)
}

// Engine evaluates risk decisions. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg         Config
	quotes      QuoteSource
	maxQty      model.Quantity
	maxNotional decimal.Decimal
}

// NewEngine creates a risk engine with static limits. quotes may be nil, in
// which case price band and market order notional checks are skipped.
func NewEngine(cfg Config, quotes QuoteSource) (*Engine, error) {
	if cfg.MaxOrderQty < 0 || cfg.MaxOrderNotional < 0 || cfg.MaxPriceDeviationBps < 0 || cfg.MaxOpenOrders < 0 {
		return nil, errors.Wrap(exception.ErrConfiguration, "negative risk limit")
	}
	return &Engine{
		cfg:         cfg,
		quotes:      quotes,
		maxQty:      model.NewQuantity(cfg.MaxOrderQty, model.FixedPrecision),
		maxNotional: decimal.NewFromFloat(cfg.MaxOrderNotional),
	}, nil
}

// Check returns nil when cmd passes every limit, or an ErrRiskRejected
// carrying the first failed reason. openOrders counts the venue's live orders
// before cmd.
func (e *Engine) Check(cmd model.SubmitOrder, openOrders int) error {
	if reason := e.Evaluate(cmd, openOrders); reason != ReasonNone {
		return errors.Wrap(exception.ErrRiskRejected, reason.String()).
			With("client_order_id", cmd.ClientOrderID).
			With("instrument", cmd.InstrumentID.String())
	}
	return nil
}

// Evaluate applies the checks in order and reports the first failure.
func (e *Engine) Evaluate(cmd model.SubmitOrder, openOrders int) Reason {
	if e.cfg.KillSwitch {
		return ReasonKillSwitch
	}

	if e.cfg.MaxOpenOrders > 0 && openOrders >= e.cfg.MaxOpenOrders {
		return ReasonOpenOrders
	}

	if e.cfg.MaxOrderQty > 0 && cmd.Quantity.Raw > e.maxQty.Raw {
		return ReasonMaxQty
	}

	ref := e.reference(cmd.InstrumentID)
	if e.cfg.MaxPriceDeviationBps > 0 && cmd.Type == enum.OrderTypeLimit && cmd.Price.Raw > 0 && ref > 0 {
		diff := absInt64(cmd.Price.Raw - ref)
		if exceedsDeviation(diff, ref, e.cfg.MaxPriceDeviationBps) {
			return ReasonPriceBand
		}
	}

	if e.cfg.MaxOrderNotional > 0 {
		price := cmd.Price.Raw
		if cmd.Type == enum.OrderTypeMarket || price <= 0 {
			price = ref
		}
		if price > 0 && notional(price, cmd.Quantity.Raw).GreaterThan(e.maxNotional) {
			return ReasonMaxNotional
		}
	}

	return ReasonNone
}

// reference is the raw mid of the cached quote, or 0 when unknown.
func (e *Engine) reference(id model.InstrumentID) int64 {
	if e.quotes == nil {
		return 0
	}
	q, ok := e.quotes.Quote(id)
	if !ok || q.BidPrice.Raw <= 0 || q.AskPrice.Raw <= 0 {
		return 0
	}
	return q.BidPrice.Raw/2 + q.AskPrice.Raw/2
}

func notional(priceRaw, qtyRaw int64) decimal.Decimal {
	return decimal.New(priceRaw, -model.FixedPrecision).Mul(decimal.New(qtyRaw, -model.FixedPrecision))
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func exceedsDeviation(diff int64, ref int64, bps int64) bool {
	if diff <= 0 || ref <= 0 || bps <= 0 {
		return false
	}
	if diff > maxInt64/10000 {
		return true
	}
	lhs := diff * 10000
	if ref > maxInt64/bps {
		return true
	}
	rhs := ref * bps
	return lhs > rhs
}
