package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"hefsys/internal/core"
)

// Record is one recorded tick: the validated snapshot and the local receive time.
type Record struct {
	Local time.Time
	Snap  core.Snapshot
}

// ReadStats counts what a dataset read kept and rejected.
type ReadStats struct {
	Files    int
	Rows     int
	Rejected int
}

// ReadTicks parses the raw tick schema. Rows that fail edge validation are
// skipped and counted, the same way the live adapters drop them.
func ReadTicks(r io.Reader, symbol string) ([]Record, ReadStats, error) {
	var stats ReadStats
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("dataset: read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, h := range TickHeader {
		if _, ok := idx[h]; !ok {
			return nil, stats, fmt.Errorf("dataset: missing column %q", h)
		}
	}

	var out []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Rejected++
				continue
			}
			return nil, stats, fmt.Errorf("dataset: %w", err)
		}
		stats.Rows++
		rec, err := decodeTick(row, idx, symbol)
		if err != nil {
			stats.Rejected++
			continue
		}
		out = append(out, rec)
	}
	return out, stats, nil
}

func decodeTick(row []string, idx map[string]int, symbol string) (Record, error) {
	num := func(col string) (float64, error) {
		return strconv.ParseFloat(row[idx[col]], 64)
	}
	var errs []error
	get := func(col string) float64 {
		v, err := num(col)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	local := get("ts_loc")
	exch := get("ts_exch")
	asks := make([]core.Level, core.Depth)
	bids := make([]core.Level, core.Depth)
	for i := 0; i < core.Depth; i++ {
		asks[i] = core.Level{Price: get(fmt.Sprintf("ap%d", i)), Size: get(fmt.Sprintf("as%d", i))}
		bids[i] = core.Level{Price: get(fmt.Sprintf("bp%d", i)), Size: get(fmt.Sprintf("bs%d", i))}
	}
	ltPx, ltSz, side := get("lt_px"), get("lt_sz"), get("lt_side")
	if len(errs) > 0 {
		return Record{}, fmt.Errorf("%w: %v", core.ErrMalformedInput, errors.Join(errs...))
	}
	if side != -1 && side != 0 && side != 1 {
		return Record{}, fmt.Errorf("%w: lt_side %v", core.ErrMalformedInput, side)
	}
	lt := core.TradePrint{Price: ltPx, Size: ltSz, Side: core.Direction(side)}

	snap, err := core.NewBook(symbol, time.UnixMilli(int64(exch)), asks, bids)
	if err != nil {
		return Record{}, err
	}
	sec := int64(local)
	nsec := int64((local - float64(sec)) * 1e9)
	return Record{Local: time.Unix(sec, nsec), Snap: snap.WithTrade(lt)}, nil
}

// ReadRecent loads the newest `days` daily files from dir in name order.
func ReadRecent(dir, symbol string, days int) ([]Record, ReadStats, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, ReadStats{}, err
	}
	sort.Strings(files)
	if days > 0 && len(files) > days {
		files = files[len(files)-days:]
	}

	var (
		all   []Record
		total ReadStats
	)
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, total, err
		}
		recs, stats, err := ReadTicks(f, symbol)
		f.Close()
		if err != nil {
			return nil, total, fmt.Errorf("%s: %w", path, err)
		}
		total.Files++
		total.Rows += stats.Rows
		total.Rejected += stats.Rejected
		all = append(all, recs...)
	}
	return all, total, nil
}

// Snapshots strips the local timestamps.
func Snapshots(recs []Record) []core.Snapshot {
	out := make([]core.Snapshot, len(recs))
	for i, r := range recs {
		out[i] = r.Snap
	}
	return out
}

// LabelConfig sets the look-ahead target for the training table.
type LabelConfig struct {
	Horizon   int     // ticks ahead
	Threshold float64 // minimum future return to label 1
}

// DefaultLabelConfig targets 10 ticks ahead and a move that covers the taker fee plus one basis point.
func DefaultLabelConfig(takerRate float64) LabelConfig {
	return LabelConfig{Horizon: 10, Threshold: takerRate + 0.0001}
}

// LabeledRow is a training example.
type LabeledRow struct {
	Features FeatureVector
	Label    int
}

// Label joins a batch table with future-return labels. Rows whose features
// failed or that have no valid future mid are dropped.
func Label(snaps []core.Snapshot, table Table, cfg LabelConfig) []LabeledRow {
	out := make([]LabeledRow, 0, len(snaps))
	for i := 0; i+cfg.Horizon < len(snaps); i++ {
		if !table.Valid(i) {
			continue
		}
		now, err := snaps[i].Mid()
		if err != nil {
			continue
		}
		future, err := snaps[i+cfg.Horizon].Mid()
		if err != nil {
			continue
		}
		label := 0
		if future/now-1 > cfg.Threshold {
			label = 1
		}
		out = append(out, LabeledRow{Features: table.Rows[i], Label: label})
	}
	return out
}

// PositiveRatio is the share of rows labeled 1.
func PositiveRatio(rows []LabeledRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	var pos int
	for _, r := range rows {
		pos += r.Label
	}
	return float64(pos) / float64(len(rows))
}

// WriteTrainingTable writes the feature columns in vector order plus label.
func WriteTrainingTable(w io.Writer, rows []LabeledRow) error {
	cw := csv.NewWriter(w)
	header := append(Names[:], "label")
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, NumFeatures+1)
	for _, r := range rows {
		for i, v := range r.Features {
			rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		rec[NumFeatures] = strconv.Itoa(r.Label)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
