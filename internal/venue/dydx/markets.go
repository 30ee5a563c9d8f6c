package dydx

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"golang.org/x/sync/singleflight"

	"venuelink/internal/model"
	"venuelink/pkg/exception"
	"venuelink/pkg/rest"
)

// _quoteAtomicResolution is the exponent of one quote quantum (USDC).
const _quoteAtomicResolution = -6

// Market holds the perpetual parameters needed to quantize orders.
type Market struct {
	Ticker                    string          `json:"ticker"`
	ClobPairID                string          `json:"clobPairId"`
	Status                    string          `json:"status"`
	OraclePrice               decimal.Decimal `json:"oraclePrice"`
	TickSize                  decimal.Decimal `json:"tickSize"`
	StepSize                  decimal.Decimal `json:"stepSize"`
	AtomicResolution          int32           `json:"atomicResolution"`
	QuantumConversionExponent int32           `json:"quantumConversionExponent"`
	StepBaseQuantums          uint64          `json:"stepBaseQuantums"`
	SubticksPerTick           uint64          `json:"subticksPerTick"`
}

// ClobPair parses the numeric clob pair id.
func (m Market) ClobPair() (uint32, error) {
	id, err := strconv.ParseUint(m.ClobPairID, 10, 32)
	if err != nil {
		return 0, errors.Wrap(exception.ErrInvalidArgument, "clob pair id").With("ticker", m.Ticker).With("clob_pair_id", m.ClobPairID)
	}
	return uint32(id), nil
}

// Quantums converts size to base quantums rounded down to the step, never
// below one step.
func (m Market) Quantums(size model.Quantity) uint64 {
	raw := decimal.New(size.Raw, -model.FixedPrecision).Shift(-m.AtomicResolution)
	return roundToStep(raw, m.StepBaseQuantums)
}

// Subticks converts price to subticks rounded down to the tick, never below
// one tick.
func (m Market) Subticks(price model.Price) uint64 {
	exponent := m.AtomicResolution - m.QuantumConversionExponent - _quoteAtomicResolution
	raw := decimal.New(price.Raw, -model.FixedPrecision).Shift(exponent)
	return roundToStep(raw, m.SubticksPerTick)
}

func roundToStep(v decimal.Decimal, step uint64) uint64 {
	if step == 0 {
		step = 1
	}
	steps := v.Div(decimal.NewFromInt(int64(step))).Floor()
	if steps.LessThan(decimal.NewFromInt(1)) {
		return step
	}
	return uint64(steps.IntPart()) * step
}

type marketsResponse struct {
	Markets map[string]Market `json:"markets"`
}

// Markets caches perpetual parameters per ticker. The websocket markets
// channel keeps it warm; misses are fetched from the indexer.
type Markets struct {
	indexer *rest.Client

	group singleflight.Group

	mu      sync.RWMutex
	markets map[string]Market
}

func NewMarkets(indexer *rest.Client) *Markets {
	return &Markets{indexer: indexer, markets: make(map[string]Market)}
}

func (m *Markets) Set(market Market) {
	m.mu.Lock()
	m.markets[market.Ticker] = market
	m.mu.Unlock()
}

// Update merges the non-zero parameters of a partial market update.
func (m *Markets) Update(update Market) {
	m.mu.Lock()
	defer m.mu.Unlock()

	market, ok := m.markets[update.Ticker]
	if !ok {
		m.markets[update.Ticker] = update
		return
	}
	if update.Status != "" {
		market.Status = update.Status
	}
	if !update.OraclePrice.IsZero() {
		market.OraclePrice = update.OraclePrice
	}
	if !update.TickSize.IsZero() {
		market.TickSize = update.TickSize
	}
	if !update.StepSize.IsZero() {
		market.StepSize = update.StepSize
	}
	m.markets[update.Ticker] = market
}

func (m *Markets) Lookup(ticker string) (Market, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	market, ok := m.markets[ticker]
	return market, ok
}

// Get returns the parameters of ticker, fetching them when unknown.
func (m *Markets) Get(ctx context.Context, ticker string) (Market, error) {
	if market, ok := m.Lookup(ticker); ok && market.StepBaseQuantums != 0 {
		return market, nil
	}
	if m.indexer == nil {
		return Market{}, errors.Wrap(exception.ErrInvalidArgument, "unknown market").With("ticker", ticker)
	}

	v, err, _ := m.group.Do(ticker, func() (any, error) {
		query := url.Values{}
		query.Set("ticker", ticker)

		var resp marketsResponse
		if _, err := m.indexer.Do(ctx, rest.Request{
			Path:  "/v4/perpetualMarkets",
			Query: query,
			Keys:  []string{RateClassIndexer},
		}, &resp); err != nil {
			return Market{}, errors.Wrap(err, "fetch market").With("ticker", ticker)
		}

		market, ok := resp.Markets[ticker]
		if !ok {
			return Market{}, errors.Wrap(exception.ErrInvalidArgument, "unknown market").With("ticker", ticker)
		}
		market.Ticker = ticker
		m.Set(market)
		return market, nil
	})
	if err != nil {
		return Market{}, err
	}
	return v.(Market), nil
}
