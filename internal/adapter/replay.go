package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"hefsys/internal/core"
	"hefsys/internal/features"
)

var ErrUnknownVenue = errors.New("unknown feed venue")

// NewFeed returns the live adapter for venue.
func NewFeed(venue, symbol, url string, backoff Backoff, log zerolog.Logger) (Feed, error) {
	switch strings.ToLower(venue) {
	case "okx":
		return NewOKXAdapter(symbol, url, backoff, log)
	case "binance":
		return NewBinanceAdapter(symbol, url, backoff, log), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, venue)
}

// ReplayFeed plays a recorded tick file through the same message path as a
// live feed. Each row becomes its trade print (when present) followed by the
// book, both stamped with the recorded local time.
type ReplayFeed struct {
	path     string
	symbol   string
	rejected atomic.Uint64
	log      zerolog.Logger
}

func NewReplayFeed(path, symbol string, log zerolog.Logger) *ReplayFeed {
	return &ReplayFeed{path: path, symbol: symbol, log: log.With().Str("feed", "replay").Logger()}
}

// Run returns nil once the file is exhausted.
func (r *ReplayFeed) Run(ctx context.Context, out chan<- core.NormalizedMessage) error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	recs, stats, err := features.ReadTicks(f, r.symbol)
	if err != nil {
		return err
	}
	r.rejected.Store(uint64(stats.Rejected))
	r.log.Info().Str("path", r.path).Int("rows", stats.Rows).Int("rejected", stats.Rejected).Msg("replaying")

	for _, rec := range recs {
		lt := rec.Snap.LastTrade
		if lt.Side != 0 {
			if trade, err := core.NewTrade(r.symbol, rec.Local, lt.Price, lt.Size, lt.Side); err == nil {
				if err := send(ctx, out, core.NormalizedMessage{Kind: core.KindTrade, Trade: trade, ReceivedAt: rec.Local}); err != nil {
					return err
				}
			}
		}
		book := rec.Snap.WithTrade(core.TradePrint{})
		if err := send(ctx, out, core.NormalizedMessage{Kind: core.KindBook, Book: book, ReceivedAt: rec.Local}); err != nil {
			return err
		}
	}
	return nil
}

// Rejected reports rows dropped while reading the file.
func (r *ReplayFeed) Rejected() uint64 { return r.rejected.Load() }

func send(ctx context.Context, out chan<- core.NormalizedMessage, m core.NormalizedMessage) error {
	select {
	case out <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
