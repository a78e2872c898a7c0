package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPositionOpen     = errors.New("position already open")
	ErrNoPosition       = errors.New("no open position")
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrInvalidPrice     = errors.New("invalid price")
)

// SimAccount is the all-in paper ledger. It holds either cash or quantity,
// never both. It is not safe for concurrent use; the event loop owns it.
type SimAccount struct {
	takerRate   float64
	initialCash float64

	cash       float64
	qty        float64
	entryPrice float64
	entryTime  time.Time
	costBasis  float64 // cash spent on the open position, fee included

	trades      int
	wins        int
	fees        float64
	realizedPnL float64
}

func NewSimAccount(initialCash, takerRate float64) *SimAccount {
	return &SimAccount{
		takerRate:   takerRate,
		initialCash: initialCash,
		cash:        initialCash,
	}
}

func (a *SimAccount) TakerRate() float64 { return a.takerRate }

func (a *SimAccount) Holding() bool { return a.qty > 0 }

// Buy converts the whole cash balance into quantity at price. The taker fee is
// taken from the cash before conversion.
func (a *SimAccount) Buy(price float64, ts time.Time) (Fill, error) {
	if a.qty > 0 {
		return Fill{}, ErrPositionOpen
	}
	if !finite(price) || price <= 0 {
		return Fill{}, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	if a.cash <= 0 {
		return Fill{}, ErrInsufficientCash
	}

	spend := a.cash
	fee := spend * a.takerRate
	qty := (spend - fee) / price

	a.costBasis = spend
	a.cash = 0
	a.qty = qty
	a.entryPrice = price
	a.entryTime = ts
	a.fees += fee

	return Fill{
		ID:        uuid.NewString(),
		Side:      Buy,
		Price:     price,
		Qty:       qty,
		Fee:       fee,
		CashAfter: a.cash,
		Timestamp: ts,
	}, nil
}

// Sell liquidates the whole position at price. A trade only counts as a win
// when its return clears the round-trip fee.
func (a *SimAccount) Sell(price float64, reason string, ts time.Time) (Fill, error) {
	if a.qty <= 0 {
		return Fill{}, ErrNoPosition
	}
	if !finite(price) || price <= 0 {
		return Fill{}, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}

	qty := a.qty
	proceeds := qty * price
	fee := proceeds * a.takerRate
	a.cash = proceeds - fee
	a.qty = 0
	a.fees += fee

	ret := (price - a.entryPrice) / a.entryPrice
	win := ret > 2*a.takerRate
	pnl := a.cash - a.costBasis

	a.trades++
	if win {
		a.wins++
	}
	a.realizedPnL += pnl

	fill := Fill{
		ID:         uuid.NewString(),
		Side:       Sell,
		Price:      price,
		Qty:        qty,
		Fee:        fee,
		CashAfter:  a.cash,
		Reason:     reason,
		EntryPrice: a.entryPrice,
		ReturnPct:  ret,
		PnL:        pnl,
		Win:        win,
		Timestamp:  ts,
	}
	a.entryPrice = 0
	a.entryTime = time.Time{}
	a.costBasis = 0
	return fill, nil
}

// MarkToMarket values the account at price without touching it.
func (a *SimAccount) MarkToMarket(price float64) float64 {
	if a.qty > 0 {
		return a.qty * price
	}
	return a.cash
}

func (a *SimAccount) Stats() AccountStats {
	return AccountStats{
		InitialCash: a.initialCash,
		Cash:        a.cash,
		Quantity:    a.qty,
		EntryPrice:  a.entryPrice,
		Trades:      a.trades,
		Wins:        a.wins,
		Fees:        a.fees,
		RealizedPnL: a.realizedPnL,
	}
}

// Summary renders the ledger for shutdown and fatal reports.
func (a *SimAccount) Summary(mark float64) string {
	s := a.Stats()
	return fmt.Sprintf("cash=%.2f qty=%.6f nav=%.2f trades=%d wins=%d realized=%.2f fees=%.4f",
		s.Cash, s.Quantity, a.MarkToMarket(mark), s.Trades, s.Wins, s.RealizedPnL, s.Fees)
}
