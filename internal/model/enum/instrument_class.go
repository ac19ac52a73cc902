package enum

// InstrumentClass is the asset class carried on a tick.
type InstrumentClass string

const (
	InstrumentEquity InstrumentClass = "equity"
	InstrumentOption InstrumentClass = "option"
	InstrumentIndex  InstrumentClass = "index"
	InstrumentFuture InstrumentClass = "future"
)
