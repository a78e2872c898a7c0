package core

import "time"

// StrategyConfig defines entry and risk-exit thresholds for the position machine.
type StrategyConfig struct {
	BuyThreshold float64       // minimum model probability to enter
	TakeProfit   float64       // fractional move off entry, e.g. 0.002
	StopLoss     float64       // negative fractional move, e.g. -0.001
	MaxHold      time.Duration // wall-clock timeout for an open position
}

// DefaultStrategyConfig mirrors the reference simulator.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		BuyThreshold: 0.5,
		TakeProfit:   0.002,
		StopLoss:     -0.001,
		MaxHold:      30 * time.Second,
	}
}

// Fill is one side of a simulated round trip.
type Fill struct {
	ID        string    `json:"id"`
	Side      Direction `json:"side"`
	Price     float64   `json:"price"`
	Qty       float64   `json:"qty"`
	Fee       float64   `json:"fee"`
	CashAfter float64   `json:"cash_after"`
	Reason    string    `json:"reason,omitempty"`
	// Exit-only fields.
	EntryPrice float64   `json:"entry_price,omitempty"`
	ReturnPct  float64   `json:"return_pct,omitempty"`
	PnL        float64   `json:"pnl,omitempty"`
	Win        bool      `json:"win,omitempty"`
	Timestamp  time.Time `json:"ts"`
}

// AccountStats is a read-only view of the ledger.
type AccountStats struct {
	InitialCash float64
	Cash        float64
	Quantity    float64
	EntryPrice  float64
	Trades      int
	Wins        int
	Fees        float64
	RealizedPnL float64
}

func (s AccountStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

func (s AccountStats) Holding() bool { return s.Quantity > 0 }
