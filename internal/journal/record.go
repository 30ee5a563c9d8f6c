package journal

import (
	"time"

	"venuelink/internal/model"
)

// OrderEventRecord is one row of the order event journal.
type OrderEventRecord struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Venue         string `gorm:"size:32;index:idx_order_events_order"`
	ClientOrderID string `gorm:"size:64;index:idx_order_events_order"`
	VenueOrderID  string `gorm:"size:64"`
	Symbol        string `gorm:"size:64"`
	Kind          string `gorm:"size:32"`
	Status        string `gorm:"size:32"`
	Side          string `gorm:"size:8"`
	Price         float64
	Quantity      float64
	FilledQty     float64
	LastPx        float64
	LastQty       float64
	TradeID       string `gorm:"size:64"`
	Reason        string
	TsEvent       int64
	TsInit        int64
	CreatedAt     time.Time
}

func (OrderEventRecord) TableName() string {
	return "order_events"
}

// BalanceRecord is one currency of an account snapshot.
type BalanceRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Venue     string `gorm:"size:32;index"`
	AccountID string `gorm:"size:128"`
	Currency  string `gorm:"size:16"`
	Total     float64
	Locked    float64
	Free      float64
	TsEvent   int64
	TsInit    int64
	CreatedAt time.Time
}

func (BalanceRecord) TableName() string {
	return "account_balances"
}

func newOrderEventRecord(ev model.OrderEvent) OrderEventRecord {
	return OrderEventRecord{
		Venue:         ev.InstrumentID.Venue,
		ClientOrderID: ev.ClientOrderID,
		VenueOrderID:  ev.VenueOrderID,
		Symbol:        ev.InstrumentID.Symbol,
		Kind:          ev.Kind.String(),
		Status:        ev.Status.String(),
		Side:          ev.Side.String(),
		Price:         ev.Price.Float64(),
		Quantity:      ev.Quantity.Float64(),
		FilledQty:     ev.FilledQty.Float64(),
		LastPx:        ev.LastPx.Float64(),
		LastQty:       ev.LastQty.Float64(),
		TradeID:       ev.TradeID,
		Reason:        ev.Reason,
		TsEvent:       ev.TsEvent,
		TsInit:        ev.TsInit,
	}
}

func newBalanceRecords(state model.AccountState) []BalanceRecord {
	records := make([]BalanceRecord, 0, len(state.Balances))
	for _, b := range state.Balances {
		records = append(records, BalanceRecord{
			Venue:     state.Venue,
			AccountID: state.AccountID,
			Currency:  b.Currency,
			Total:     b.Total,
			Locked:    b.Locked,
			Free:      b.Free,
			TsEvent:   state.TsEvent,
			TsInit:    state.TsInit,
		})
	}
	return records
}
