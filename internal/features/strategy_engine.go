package features

import (
	"time"

	"hefsys/internal/core"
)

// PositionState is FLAT or LONG. There is no short side.
type PositionState uint8

const (
	Flat PositionState = iota
	Long
)

func (s PositionState) String() string {
	if s == Long {
		return "LONG"
	}
	return "FLAT"
}

// Exit reasons attached to sell fills.
const (
	ReasonTakeProfit = "take-profit"
	ReasonStopLoss   = "stop-loss"
	ReasonMaxHold    = "max-hold"
)

// Ledger is the slice of the paper account the machine drives.
type Ledger interface {
	Buy(price float64, ts time.Time) (core.Fill, error)
	Sell(price float64, reason string, ts time.Time) (core.Fill, error)
}

// Quote is the top of book a decision is taken against.
type Quote struct {
	Ask float64
	Bid float64
}

func QuoteOf(s core.Snapshot) Quote {
	return Quote{Ask: s.BestAsk(), Bid: s.BestBid()}
}

// Position is the machine's view of the open trade.
type Position struct {
	State      PositionState
	EntryPrice float64
	EntryTime  time.Time
}

// Action tells the caller what a Step did.
type Action uint8

const (
	Hold Action = iota
	Enter
	Exit
)

func (a Action) String() string {
	switch a {
	case Enter:
		return "enter"
	case Exit:
		return "exit"
	default:
		return "hold"
	}
}

// Transition is the outcome of one Step. Fill is set for Enter and Exit.
// Err carries a ledger rejection; the state is then unchanged.
type Transition struct {
	Action Action
	Reason string
	Return float64 // floating return off entry at the bid, LONG only
	Fill   core.Fill
	Err    error
}

// PositionMachine decides entries and risk exits for a single long-only
// position and books every transition with exactly one ledger call.
type PositionMachine struct {
	config core.StrategyConfig
	ledger Ledger
	pos    Position
}

func NewPositionMachine(cfg core.StrategyConfig, ledger Ledger) *PositionMachine {
	return &PositionMachine{config: cfg, ledger: ledger}
}

func (m *PositionMachine) Position() Position { return m.pos }

func (m *PositionMachine) Config() core.StrategyConfig { return m.config }

// NeedsSignal reports whether the next Step will look at a probability.
func (m *PositionMachine) NeedsSignal() bool { return m.pos.State == Flat }

// Step evaluates one tick. While LONG the exits are checked in priority order
// take-profit, stop-loss, max-hold and prob is ignored. While FLAT an entry
// happens at the ask when prob exceeds the buy threshold.
func (m *PositionMachine) Step(q Quote, now time.Time, prob float64) Transition {
	if m.pos.State == Long {
		return m.evaluateExit(q, now)
	}
	if prob <= m.config.BuyThreshold {
		return Transition{Action: Hold}
	}

	fill, err := m.ledger.Buy(q.Ask, now)
	if err != nil {
		return Transition{Action: Hold, Err: err}
	}
	m.pos = Position{State: Long, EntryPrice: q.Ask, EntryTime: now}
	return Transition{Action: Enter, Fill: fill}
}

func (m *PositionMachine) evaluateExit(q Quote, now time.Time) Transition {
	ret := (q.Bid - m.pos.EntryPrice) / m.pos.EntryPrice

	var reason string
	switch {
	case ret >= m.config.TakeProfit:
		reason = ReasonTakeProfit
	case ret <= m.config.StopLoss:
		reason = ReasonStopLoss
	case now.Sub(m.pos.EntryTime) > m.config.MaxHold:
		reason = ReasonMaxHold
	default:
		return Transition{Action: Hold, Return: ret}
	}

	fill, err := m.ledger.Sell(q.Bid, reason, now)
	if err != nil {
		return Transition{Action: Hold, Return: ret, Err: err}
	}
	m.pos = Position{}
	return Transition{Action: Exit, Reason: reason, Return: ret, Fill: fill}
}
