package features

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"hefsys/internal/core"
)

// TickHeader is the raw tick schema shared by the recorder and the dataset reader.
var TickHeader = []string{
	"ts_loc", "ts_exch",
	"ap0", "as0", "ap1", "as1", "ap2", "as2", "ap3", "as3", "ap4", "as4",
	"bp0", "bs0", "bp1", "bs1", "bp2", "bs2", "bp3", "bs3", "bp4", "bs4",
	"lt_px", "lt_sz", "lt_side",
}

type tickRow struct {
	day    string
	fields []string
}

// Recorder appends one CSV row per book tick into daily files named
// <symbol>_<YYYYMMDD>.csv. Writes happen on a background goroutine; when the
// queue is full rows are dropped and counted rather than stalling the feed.
type Recorder struct {
	dir    string
	symbol string
	log    zerolog.Logger

	file   *os.File
	writer *csv.Writer
	day    string

	writeChan chan tickRow
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	err       error
}

func NewRecorder(dir, symbol string, log zerolog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	r := &Recorder{
		dir:       dir,
		symbol:    symbol,
		log:       log.With().Str("component", "recorder").Logger(),
		writeChan: make(chan tickRow, 50000),
		done:      make(chan struct{}),
	}
	r.wg.Add(1)
	go r.backgroundWriter()
	return r, nil
}

// Add queues a snapshot received at local time.
func (r *Recorder) Add(local time.Time, s core.Snapshot) {
	row := tickRow{day: local.Format("20060102"), fields: encodeTick(local, s)}
	select {
	case r.writeChan <- row:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) backgroundWriter() {
	defer r.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case row := <-r.writeChan:
			r.write(row)
		case <-ticker.C:
			r.flush()
		case <-r.done:
			for {
				select {
				case row := <-r.writeChan:
					r.write(row)
				default:
					r.flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) write(row tickRow) {
	if row.day != r.day {
		if err := r.rotate(row.day); err != nil {
			r.err = err
			r.log.Error().Err(err).Msg("rotate dataset file")
			return
		}
	}
	if err := r.writer.Write(row.fields); err != nil {
		r.err = err
	}
}

func (r *Recorder) rotate(day string) error {
	r.closeFile()
	path := filepath.Join(r.dir, fmt.Sprintf("%s_%s.csv", r.symbol, day))

	info, err := os.Stat(path)
	needHeader := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.file = f
	r.writer = csv.NewWriter(f)
	r.day = day
	if needHeader {
		if err := r.writer.Write(TickHeader); err != nil {
			return err
		}
	}
	r.log.Info().Str("path", path).Msg("recording to file")
	return nil
}

func (r *Recorder) flush() {
	if r.writer == nil {
		return
	}
	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		r.err = err
	}
}

func (r *Recorder) closeFile() {
	r.flush()
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
		r.writer = nil
	}
}

// Close drains the queue, flushes and closes the current file.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()
	r.closeFile()
	if n := r.Dropped(); n > 0 {
		r.log.Warn().Uint64("dropped", n).Msg("recorder queue overflowed")
	}
	return r.err
}

func encodeTick(local time.Time, s core.Snapshot) []string {
	row := make([]string, 0, len(TickHeader))
	row = append(row,
		strconv.FormatFloat(float64(local.UnixMicro())/1e6, 'f', 6, 64),
		strconv.FormatInt(s.Timestamp.UnixMilli(), 10),
	)
	for _, l := range s.Asks {
		row = append(row, fmtFloat(l.Price), fmtFloat(l.Size))
	}
	for _, l := range s.Bids {
		row = append(row, fmtFloat(l.Price), fmtFloat(l.Size))
	}
	return append(row,
		fmtFloat(s.LastTrade.Price),
		fmtFloat(s.LastTrade.Size),
		strconv.Itoa(int(s.LastTrade.Side)),
	)
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
