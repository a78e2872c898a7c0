package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hefsys/internal/core"
)

// countingLedger wraps a real account and records the call sequence.
type countingLedger struct {
	*core.SimAccount
	calls []string
}

func (l *countingLedger) Buy(price float64, ts time.Time) (core.Fill, error) {
	l.calls = append(l.calls, "buy")
	return l.SimAccount.Buy(price, ts)
}

func (l *countingLedger) Sell(price float64, reason string, ts time.Time) (core.Fill, error) {
	l.calls = append(l.calls, "sell")
	return l.SimAccount.Sell(price, reason, ts)
}

func newMachine() (*PositionMachine, *countingLedger) {
	ledger := &countingLedger{SimAccount: core.NewSimAccount(1000, 0.0005)}
	return NewPositionMachine(core.DefaultStrategyConfig(), ledger), ledger
}

var t0 = time.Unix(1700000000, 0)

func TestEntryAboveThresholdOnly(t *testing.T) {
	m, ledger := newMachine()
	q := Quote{Ask: 100, Bid: 99.9}

	tr := m.Step(q, t0, 0.5)
	assert.Equal(t, Hold, tr.Action, "threshold is strict")
	assert.Empty(t, ledger.calls)

	tr = m.Step(q, t0, 0.51)
	require.Equal(t, Enter, tr.Action)
	assert.Equal(t, 100.0, tr.Fill.Price)
	assert.Equal(t, Position{State: Long, EntryPrice: 100, EntryTime: t0}, m.Position())
	assert.False(t, m.NeedsSignal())
}

func TestTakeProfitFiresAtThreshold(t *testing.T) {
	m, _ := newMachine()
	require.Equal(t, Enter, m.Step(Quote{Ask: 100, Bid: 99.9}, t0, 0.9).Action)

	bids := []float64{100.05, 100.1, 100.19}
	for i, bid := range bids {
		tr := m.Step(Quote{Ask: bid + 0.1, Bid: bid}, t0.Add(time.Duration(i+1)*time.Second), 0)
		assert.Equal(t, Hold, tr.Action, "bid %v", bid)
	}

	tr := m.Step(Quote{Ask: 100.3, Bid: 100.2}, t0.Add(5*time.Second), 0)
	require.Equal(t, Exit, tr.Action)
	assert.Equal(t, ReasonTakeProfit, tr.Reason)
	assert.Equal(t, ReasonTakeProfit, tr.Fill.Reason)
	assert.True(t, tr.Fill.Win)
	assert.Equal(t, Flat, m.Position().State)
}

func TestExitPriority(t *testing.T) {
	cases := []struct {
		name   string
		bid    float64
		after  time.Duration
		reason string
	}{
		{"take profit beats timeout", 100.5, time.Minute, ReasonTakeProfit},
		{"stop loss beats timeout", 99.8, time.Minute, ReasonStopLoss},
		{"stop loss just past threshold", 99.89, time.Second, ReasonStopLoss},
		{"timeout", 100.0, 31 * time.Second, ReasonMaxHold},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, ledger := newMachine()
			require.Equal(t, Enter, m.Step(Quote{Ask: 100, Bid: 99.95}, t0, 0.9).Action)

			tr := m.Step(Quote{Ask: tc.bid + 0.05, Bid: tc.bid}, t0.Add(tc.after), 0.99)
			require.Equal(t, Exit, tr.Action)
			assert.Equal(t, tc.reason, tr.Reason)
			assert.Equal(t, []string{"buy", "sell"}, ledger.calls)
		})
	}
}

func TestMaxHoldIsStrict(t *testing.T) {
	m, _ := newMachine()
	m.Step(Quote{Ask: 100, Bid: 99.95}, t0, 0.9)

	tr := m.Step(Quote{Ask: 100.05, Bid: 100}, t0.Add(30*time.Second), 0)
	assert.Equal(t, Hold, tr.Action)
	assert.InDelta(t, 0, tr.Return, 1e-12)
}

func TestNoEntryEvaluationWhileLong(t *testing.T) {
	m, ledger := newMachine()
	m.Step(Quote{Ask: 100, Bid: 99.95}, t0, 0.9)
	for i := 0; i < 5; i++ {
		tr := m.Step(Quote{Ask: 100.05, Bid: 100}, t0.Add(time.Second), 1)
		assert.Equal(t, Hold, tr.Action)
	}
	assert.Equal(t, []string{"buy"}, ledger.calls)
}

func TestNeverTwoBuysWithoutSell(t *testing.T) {
	m, ledger := newMachine()
	now := t0
	bids := []float64{100, 100.1, 100.3, 99.5, 100, 100, 99.8, 100.5, 101, 100}
	for i := 0; i < 200; i++ {
		bid := bids[i%len(bids)]
		now = now.Add(7 * time.Second)
		m.Step(Quote{Ask: bid + 0.1, Bid: bid}, now, 0.8)
	}
	require.NotEmpty(t, ledger.calls)
	for i := 1; i < len(ledger.calls); i++ {
		assert.NotEqual(t, ledger.calls[i-1], ledger.calls[i], "call %d", i)
	}
}

type rejectingLedger struct{}

func (rejectingLedger) Buy(float64, time.Time) (core.Fill, error) {
	return core.Fill{}, core.ErrInsufficientCash
}

func (rejectingLedger) Sell(float64, string, time.Time) (core.Fill, error) {
	return core.Fill{}, core.ErrNoPosition
}

func TestLedgerRejectionKeepsState(t *testing.T) {
	m := NewPositionMachine(core.DefaultStrategyConfig(), rejectingLedger{})
	tr := m.Step(Quote{Ask: 100, Bid: 99.9}, t0, 0.9)
	assert.Equal(t, Hold, tr.Action)
	assert.ErrorIs(t, tr.Err, core.ErrInsufficientCash)
	assert.Equal(t, Flat, m.Position().State)
}
