package bus

import "venuelink/internal/model"

const (
	_topicQuotes      = "data.quotes"
	_topicTrades      = "data.trades"
	_topicDeltas      = "data.deltas"
	_topicDepth       = "data.depth"
	_topicMarkPrices  = "data.mark_prices"
	_topicIndexPrices = "data.index_prices"
	_topicInstruments = "data.instruments"
	_topicOrders      = "events.order"
	_topicAccounts    = "events.account"
	_endpointExec     = "exec"
)

func dataTopic(prefix string, id model.InstrumentID) string {
	return prefix + "." + id.Venue + "." + id.Symbol
}

func QuotesTopic(id model.InstrumentID) string      { return dataTopic(_topicQuotes, id) }
func TradesTopic(id model.InstrumentID) string      { return dataTopic(_topicTrades, id) }
func DeltasTopic(id model.InstrumentID) string      { return dataTopic(_topicDeltas, id) }
func DepthTopic(id model.InstrumentID) string       { return dataTopic(_topicDepth, id) }
func MarkPricesTopic(id model.InstrumentID) string  { return dataTopic(_topicMarkPrices, id) }
func IndexPricesTopic(id model.InstrumentID) string { return dataTopic(_topicIndexPrices, id) }
func InstrumentsTopic(id model.InstrumentID) string { return dataTopic(_topicInstruments, id) }

// AllQuotesPattern matches quotes of every instrument on every venue.
const AllQuotesPattern = _topicQuotes + ".*.*"

// VenuePattern matches one data stream across every symbol of venue.
func VenuePattern(stream, venue string) string {
	return "data." + stream + "." + venue + ".*"
}

func OrderEventsTopic(venue string) string {
	return _topicOrders + "." + venue
}

func AccountEventsTopic(venue string) string {
	return _topicAccounts + "." + venue
}

// ExecEndpoint is the endpoint accepting execution commands for venue.
func ExecEndpoint(venue string) string {
	return _endpointExec + "." + venue
}
