package features

import (
	"errors"
	"fmt"
	"math"

	"hefsys/internal/core"
)

// Column positions inside a FeatureVector. The order is shared by the
// training table and the model input and must never change.
const (
	Spread = iota
	ImbalanceL1
	ImbalanceL5
	AskSize0
	BidSize0
	RSI14
	Volatility
	TradeFlow

	NumFeatures
)

// Names lists the columns in vector order.
var Names = [NumFeatures]string{
	"spread",
	"imbalance_l1", "imbalance_l5",
	"ask_sz_0", "bid_sz_0",
	"rsi_14",
	"volatility",
	"trade_flow",
}

const (
	rsiPeriod = 14
	// RSINeutral is reported until enough history exists or when prices did not move.
	RSINeutral = 50.0
)

// ErrNonFiniteFeature marks a vector that came out with NaN or Inf.
var ErrNonFiniteFeature = errors.New("non-finite feature")

// Failure is returned instead of a vector when a tick cannot be featurized.
// Kind is core.ErrMalformedInput or ErrNonFiniteFeature.
type Failure struct {
	Kind  error
	Field string
}

func (f *Failure) Error() string { return fmt.Sprintf("%v: %s", f.Kind, f.Field) }

func (f *Failure) Unwrap() error { return f.Kind }

// FeatureVector is the fixed-order model input for one tick.
type FeatureVector [NumFeatures]float64

// Float32 converts to the model's input precision.
func (v FeatureVector) Float32() []float32 {
	out := make([]float32, NumFeatures)
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// ComputeLive featurizes one snapshot. history must already contain the
// snapshot's own mid-price as its newest value.
func ComputeLive(s core.Snapshot, history *core.PriceHistory) (FeatureVector, error) {
	if err := checkInputs(s); err != nil {
		return FeatureVector{}, err
	}
	var tail []float64
	if history != nil {
		tail = history.Tail(core.MinHistory)
	}
	return assemble(s, tail)
}

// Table holds one row per input snapshot. Errs[i] is non-nil for rows that
// failed; their Rows entry is left zero and must not be used.
type Table struct {
	Rows []FeatureVector
	Errs []error
}

func (t Table) Len() int { return len(t.Rows) }

func (t Table) Valid(i int) bool { return t.Errs[i] == nil }

// ComputeBatch featurizes a whole series in order. Row i sees the mid-prices
// of every earlier row whose top of book was usable, exactly as the live loop
// would have accumulated them.
func ComputeBatch(snaps []core.Snapshot) Table {
	t := Table{
		Rows: make([]FeatureVector, len(snaps)),
		Errs: make([]error, len(snaps)),
	}
	mids := make([]float64, 0, len(snaps))
	for i, s := range snaps {
		mid, err := s.Mid()
		if err != nil {
			t.Errs[i] = &Failure{Kind: core.ErrMalformedInput, Field: "top_of_book"}
			continue
		}
		mids = append(mids, mid)
		if err := checkInputs(s); err != nil {
			t.Errs[i] = err
			continue
		}
		t.Rows[i], t.Errs[i] = assemble(s, mids[max(0, len(mids)-core.MinHistory):])
	}
	return t
}

func assemble(s core.Snapshot, tail []float64) (FeatureVector, error) {
	var v FeatureVector
	ask0, bid0 := s.Asks[0], s.Bids[0]

	var askSum, bidSum float64
	for i := 0; i < core.Depth; i++ {
		askSum += s.Asks[i].Size
		bidSum += s.Bids[i].Size
	}

	v[Spread] = ask0.Price - bid0.Price
	v[ImbalanceL1] = imbalance(bid0.Size, ask0.Size)
	v[ImbalanceL5] = imbalance(bidSum, askSum)
	v[AskSize0] = compress(ask0.Size)
	v[BidSize0] = compress(bid0.Size)
	v[RSI14] = rsi(tail)
	v[Volatility] = volatility(tail)
	v[TradeFlow] = compress(s.LastTrade.Size) * float64(s.LastTrade.Side)

	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return FeatureVector{}, &Failure{Kind: ErrNonFiniteFeature, Field: Names[i]}
		}
	}
	return v, nil
}

func checkInputs(s core.Snapshot) error {
	if s.Asks[0].Price <= 0 || s.Bids[0].Price <= 0 {
		return &Failure{Kind: core.ErrMalformedInput, Field: "top_of_book"}
	}
	for i := 0; i < core.Depth; i++ {
		if !finite(s.Asks[i].Price, s.Asks[i].Size) {
			return &Failure{Kind: core.ErrMalformedInput, Field: fmt.Sprintf("ask[%d]", i)}
		}
		if !finite(s.Bids[i].Price, s.Bids[i].Size) {
			return &Failure{Kind: core.ErrMalformedInput, Field: fmt.Sprintf("bid[%d]", i)}
		}
	}
	if !finite(s.LastTrade.Price, s.LastTrade.Size) {
		return &Failure{Kind: core.ErrMalformedInput, Field: "last_trade"}
	}
	return nil
}

// SafeDiv returns 0 when b is 0.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func imbalance(bid, ask float64) float64 {
	return SafeDiv(bid-ask, bid+ask)
}

// compress bounds the scale of sizes; inputs are never negative.
func compress(size float64) float64 {
	return math.Log1p(size)
}

// rsi over the last rsiPeriod deltas of tail. Needs a full MinHistory window.
func rsi(tail []float64) float64 {
	if len(tail) < core.MinHistory {
		return RSINeutral
	}
	w := tail[len(tail)-rsiPeriod-1:]
	var gains, losses float64
	for i := 1; i < len(w); i++ {
		d := w[i] - w[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	switch {
	case losses == 0 && gains == 0:
		return RSINeutral
	case losses == 0:
		return 100
	}
	rs := SafeDiv(gains/rsiPeriod, losses/rsiPeriod)
	return 100 - 100/(1+rs)
}

// volatility is the sample standard deviation of the last MinHistory mids.
func volatility(tail []float64) float64 {
	if len(tail) < core.MinHistory {
		return 0
	}
	w := tail[len(tail)-core.MinHistory:]
	var mean float64
	for _, x := range w {
		mean += x
	}
	mean /= float64(len(w))
	var ss float64
	for _, x := range w {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(w)-1))
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
