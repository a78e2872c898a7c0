package core

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Depth is the number of book levels per side carried by a Snapshot.
const Depth = 5

// ErrMalformedInput marks market data that cannot be turned into a usable tick.
var ErrMalformedInput = errors.New("malformed input")

// Direction represents the aggressor side of a trade (Buy/Sell)
type Direction int8

const (
	Buy  Direction = 1
	Sell Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "none"
	}
}

// Level is a single price depth.
type Level struct {
	Price float64
	Size  float64
}

// TradePrint is the last-trade triple cached between book updates.
type TradePrint struct {
	Price float64
	Size  float64
	Side  Direction
}

// Trade represents a single executed trade as received from the feed.
type Trade struct {
	Symbol    string
	Price     float64
	Size      float64
	Side      Direction
	Timestamp time.Time
}

// Print drops the symbol and time from the trade.
func (t Trade) Print() TradePrint {
	return TradePrint{Price: t.Price, Size: t.Size, Side: t.Side}
}

// Snapshot is a validated 5-level book plus the last trade seen before it.
// Asks are sorted low to high, bids high to low.
type Snapshot struct {
	Symbol    string
	Timestamp time.Time
	Asks      [Depth]Level
	Bids      [Depth]Level
	LastTrade TradePrint
}

// NewBook validates raw levels at the feed edge. Anything that would make the
// feature math meaningless is rejected with ErrMalformedInput.
func NewBook(symbol string, ts time.Time, asks, bids []Level) (Snapshot, error) {
	var s Snapshot
	if len(asks) < Depth || len(bids) < Depth {
		return s, fmt.Errorf("%w: need %d levels per side, got %d asks %d bids", ErrMalformedInput, Depth, len(asks), len(bids))
	}
	if err := checkSide("ask", asks[:Depth]); err != nil {
		return s, err
	}
	if err := checkSide("bid", bids[:Depth]); err != nil {
		return s, err
	}
	s.Symbol = symbol
	s.Timestamp = ts
	copy(s.Asks[:], asks[:Depth])
	copy(s.Bids[:], bids[:Depth])
	return s, nil
}

func checkSide(side string, levels []Level) error {
	for i, l := range levels {
		if !finite(l.Price) || !finite(l.Size) {
			return fmt.Errorf("%w: %s[%d] is not finite", ErrMalformedInput, side, i)
		}
		if l.Size < 0 {
			return fmt.Errorf("%w: %s[%d] negative size %v", ErrMalformedInput, side, i, l.Size)
		}
	}
	if levels[0].Price <= 0 {
		return fmt.Errorf("%w: %s top of book missing", ErrMalformedInput, side)
	}
	return nil
}

// WithTrade returns a copy of the snapshot carrying the given last trade.
func (s Snapshot) WithTrade(p TradePrint) Snapshot {
	s.LastTrade = p
	return s
}

func (s Snapshot) BestAsk() float64 { return s.Asks[0].Price }
func (s Snapshot) BestBid() float64 { return s.Bids[0].Price }

// Mid returns (best ask + best bid)/2, or ErrMalformedInput when the top of book
// is unusable.
func (s Snapshot) Mid() (float64, error) {
	a, b := s.BestAsk(), s.BestBid()
	if !finite(a) || !finite(b) || a <= 0 || b <= 0 {
		return 0, fmt.Errorf("%w: top of book missing", ErrMalformedInput)
	}
	return (a + b) / 2, nil
}

// NewTrade validates a trade print at the feed edge.
func NewTrade(symbol string, ts time.Time, price, size float64, side Direction) (Trade, error) {
	if !finite(price) || !finite(size) || price <= 0 || size < 0 {
		return Trade{}, fmt.Errorf("%w: trade price=%v size=%v", ErrMalformedInput, price, size)
	}
	if side != Buy && side != Sell {
		return Trade{}, fmt.Errorf("%w: trade side %d", ErrMalformedInput, side)
	}
	return Trade{Symbol: symbol, Price: price, Size: size, Side: side, Timestamp: ts}, nil
}

// MessageKind tags a NormalizedMessage.
type MessageKind uint8

const (
	KindBook MessageKind = iota + 1
	KindTrade
)

func (k MessageKind) String() string {
	switch k {
	case KindBook:
		return "book"
	case KindTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// NormalizedMessage is the container passed from adapters to the event loop.
type NormalizedMessage struct {
	Kind       MessageKind
	Book       Snapshot
	Trade      Trade
	ReceivedAt time.Time
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
