package core

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func levels(base, step float64) []Level {
	out := make([]Level, Depth)
	for i := range out {
		out[i] = Level{Price: base + step*float64(i), Size: float64(i + 1)}
	}
	return out
}

func TestNewBookValid(t *testing.T) {
	snap, err := NewBook("BTC-USDT", time.Unix(1, 0), levels(100.5, 0.5), levels(100, -0.5))
	require.NoError(t, err)
	assert.Equal(t, 100.5, snap.BestAsk())
	assert.Equal(t, 100.0, snap.BestBid())

	mid, err := snap.Mid()
	require.NoError(t, err)
	assert.Equal(t, 100.25, mid)
}

func TestNewBookRejectsMalformed(t *testing.T) {
	nan := levels(100.5, 0.5)
	nan[2].Size = math.NaN()
	negative := levels(100, -0.5)
	negative[4].Size = -1
	noTop := levels(100, -0.5)
	noTop[0].Price = 0

	cases := []struct {
		name       string
		asks, bids []Level
	}{
		{"short ask side", levels(100.5, 0.5)[:3], levels(100, -0.5)},
		{"non finite size", nan, levels(100, -0.5)},
		{"negative size", levels(100.5, 0.5), negative},
		{"missing top of book", levels(100.5, 0.5), noTop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBook("X", time.Now(), tc.asks, tc.bids)
			require.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestNewTrade(t *testing.T) {
	tr, err := NewTrade("X", time.Now(), 100, 0.3, Sell)
	require.NoError(t, err)
	assert.Equal(t, TradePrint{Price: 100, Size: 0.3, Side: Sell}, tr.Print())

	_, err = NewTrade("X", time.Now(), 100, 0.3, 0)
	require.ErrorIs(t, err, ErrMalformedInput)

	_, err = NewTrade("X", time.Now(), math.Inf(1), 0.3, Buy)
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestPriceHistoryBounded(t *testing.T) {
	h := NewPriceHistory(5)
	assert.Zero(t, h.Last())

	for i := 1; i <= 25; i++ {
		h.Append(float64(i))
	}
	assert.Equal(t, MinHistory, h.Len())
	assert.Equal(t, 25.0, h.Last())
	assert.Equal(t, []float64{23, 24, 25}, h.Tail(3))

	vals := h.Tail(100)
	require.Len(t, vals, MinHistory)
	assert.Equal(t, 6.0, vals[0])
	assert.Equal(t, 25.0, vals[MinHistory-1])
}

func TestTickContextAdvance(t *testing.T) {
	ctx := NewTickContext(100)
	ctx.Observe(Trade{Price: 10, Size: 2, Side: Buy})
	ctx.Advance(time.Unix(5, 0), 10.5)

	assert.Equal(t, uint64(1), ctx.Seq)
	assert.Equal(t, 1, ctx.History.Len())
	assert.Equal(t, TradePrint{Price: 10, Size: 2, Side: Buy}, ctx.LastTrade)
}
