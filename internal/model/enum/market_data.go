package enum

// AggressorSide buyer, seller, none
type AggressorSide uint8

const (
	AggressorSideNone AggressorSide = iota
	AggressorSideBuyer
	AggressorSideSeller
)

// BookAction add, update, delete, clear
type BookAction uint8

const (
	_book_action_beg BookAction = iota
	BookActionAdd
	BookActionUpdate
	BookActionDelete
	BookActionClear
	_book_action_end
)

func (a BookAction) IsAvailable() bool {
	return a > _book_action_beg && a < _book_action_end
}

func (a BookAction) String() string {
	switch a {
	case BookActionAdd:
		return "ADD"
	case BookActionUpdate:
		return "UPDATE"
	case BookActionDelete:
		return "DELETE"
	case BookActionClear:
		return "CLEAR"
	default:
		return "UNKNOWN"
	}
}

// BookType L1 top-of-book, L2 market-by-price, L3 market-by-order
type BookType uint8

const (
	_book_type_beg BookType = iota
	BookTypeL1MBP
	BookTypeL2MBP
	BookTypeL3MBO
	_book_type_end
)

func (t BookType) IsAvailable() bool {
	return t > _book_type_beg && t < _book_type_end
}

func (t BookType) String() string {
	switch t {
	case BookTypeL1MBP:
		return "L1_MBP"
	case BookTypeL2MBP:
		return "L2_MBP"
	case BookTypeL3MBO:
		return "L3_MBO"
	default:
		return "UNKNOWN"
	}
}

// PriceType bid, ask, mid, last, mark
type PriceType uint8

const (
	_price_type_beg PriceType = iota
	PriceTypeBid
	PriceTypeAsk
	PriceTypeMid
	PriceTypeLast
	PriceTypeMark
	_price_type_end
)

func (t PriceType) IsAvailable() bool {
	return t > _price_type_beg && t < _price_type_end
}

func (t PriceType) String() string {
	switch t {
	case PriceTypeBid:
		return "BID"
	case PriceTypeAsk:
		return "ASK"
	case PriceTypeMid:
		return "MID"
	case PriceTypeLast:
		return "LAST"
	case PriceTypeMark:
		return "MARK"
	default:
		return "UNKNOWN"
	}
}
