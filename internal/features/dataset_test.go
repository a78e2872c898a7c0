package features

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hefsys/internal/core"
)

func TestRecorderWritesReadableDataset(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir, "BTC-USDT", zerolog.Nop())
	require.NoError(t, err)

	snaps := randomWalk(t, 30, 9)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	for i, s := range snaps {
		rec.Add(base.Add(time.Duration(i)*100*time.Millisecond), s)
	}
	require.NoError(t, rec.Close())
	assert.Zero(t, rec.Dropped())

	recs, stats, err := ReadRecent(dir, "BTC-USDT", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 30, stats.Rows)
	assert.Zero(t, stats.Rejected)
	require.Len(t, recs, 30)

	for i, r := range recs {
		assert.Equal(t, snaps[i].Asks, r.Snap.Asks)
		assert.Equal(t, snaps[i].Bids, r.Snap.Bids)
		assert.Equal(t, snaps[i].LastTrade, r.Snap.LastTrade)
		assert.WithinDuration(t, base.Add(time.Duration(i)*100*time.Millisecond), r.Local, time.Millisecond)
	}
}

func TestReadTicksSkipsMalformedRows(t *testing.T) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(TickHeader))
	good := encodeTick(time.Unix(1700000000, 0), randomWalk(t, 1, 2)[0])
	require.NoError(t, w.Write(good))

	notNumber := append([]string(nil), good...)
	notNumber[2] = "abc"
	require.NoError(t, w.Write(notNumber))

	noBid := append([]string(nil), good...)
	noBid[12] = "0"
	require.NoError(t, w.Write(noBid))

	side := len(TickHeader) - 1
	for _, v := range []string{"1.5", "-0.5", "200", "-129"} {
		badSide := append([]string(nil), good...)
		badSide[side] = v
		require.NoError(t, w.Write(badSide))
	}
	w.Flush()

	recs, stats, err := ReadTicks(&buf, "X")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, 7, stats.Rows)
	assert.Equal(t, 6, stats.Rejected)
}

func TestReadTicksMissingColumn(t *testing.T) {
	_, _, err := ReadTicks(strings.NewReader("ts_loc,ap0\n1,2\n"), "X")
	require.Error(t, err)
}

func TestLabel(t *testing.T) {
	mids := []float64{100, 100, 100.2, 100, 100, 99}
	snaps := make([]core.Snapshot, len(mids))
	for i, m := range mids {
		snaps[i] = book(t, m+0.05, m-0.05, [5]float64{1, 1, 1, 1, 1}, [5]float64{1, 1, 1, 1, 1})
	}
	table := ComputeBatch(snaps)
	rows := Label(snaps, table, LabelConfig{Horizon: 2, Threshold: 0.0006})

	require.Len(t, rows, 4)
	assert.Equal(t, []int{1, 0, 0, 0}, []int{rows[0].Label, rows[1].Label, rows[2].Label, rows[3].Label})
	assert.InDelta(t, 0.25, PositiveRatio(rows), 1e-12)

	var out bytes.Buffer
	require.NoError(t, WriteTrainingTable(&out, rows))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "spread,imbalance_l1,imbalance_l5,ask_sz_0,bid_sz_0,rsi_14,volatility,trade_flow,label", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",1"))
}

func TestDefaultLabelConfig(t *testing.T) {
	cfg := DefaultLabelConfig(0.0005)
	assert.Equal(t, 10, cfg.Horizon)
	assert.InDelta(t, 0.0006, cfg.Threshold, 1e-15)
}
