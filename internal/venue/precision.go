package venue

import (
	"sync"

	"github.com/shopspring/decimal"

	"venuelink/internal/model"
)

type precision struct {
	price, size uint8
}

// Precisions remembers the price and size precision of every symbol a venue
// announced. Unknown symbols fall back to the precision of each value.
type Precisions struct {
	mu sync.RWMutex
	m  map[string]precision
}

func NewPrecisions() *Precisions {
	return &Precisions{m: make(map[string]precision)}
}

func (p *Precisions) Set(symbol string, price, size uint8) {
	p.mu.Lock()
	p.m[symbol] = precision{price: price, size: size}
	p.mu.Unlock()
}

func (p *Precisions) get(symbol string) precision {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.m[symbol]
}

func (p *Precisions) Price(symbol string, d decimal.Decimal) model.Price {
	return Price(d, p.get(symbol).price)
}

func (p *Precisions) Quantity(symbol string, d decimal.Decimal) model.Quantity {
	return Quantity(d, p.get(symbol).size)
}
