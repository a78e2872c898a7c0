// Command collect records the live 5-level book with the last trade print into
// daily CSV files for offline feature generation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hefsys/internal/adapter"
	"hefsys/internal/config"
	"hefsys/internal/core"
	"hefsys/internal/features"
	"hefsys/internal/util"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration (defaults only when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := util.NewLogger(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("collector halted")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	feed, err := adapter.NewFeed(cfg.Feed.Venue, cfg.Feed.Symbol, cfg.Feed.URL, cfg.Backoff(), log)
	if err != nil {
		return err
	}
	rec, err := features.NewRecorder(cfg.Dataset.Dir, cfg.Feed.Symbol, log)
	if err != nil {
		return err
	}

	msgs := make(chan core.NormalizedMessage, cfg.Feed.Buffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(msgs)
		return feed.Run(gctx, msgs)
	})
	g.Go(func() error {
		var last core.TradePrint
		var rows uint64
		report := time.NewTicker(time.Minute)
		defer report.Stop()
		for {
			select {
			case m, ok := <-msgs:
				if !ok {
					return nil
				}
				switch m.Kind {
				case core.KindTrade:
					last = m.Trade.Print()
				case core.KindBook:
					rec.Add(m.ReceivedAt, m.Book.WithTrade(last))
					rows++
				}
			case <-report.C:
				log.Info().
					Uint64("rows", rows).
					Uint64("rejected", feed.Rejected()).
					Uint64("dropped", rec.Dropped()).
					Msg("collecting")
			}
		}
	})

	err = g.Wait()
	if cerr := rec.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("close recorder")
	}
	if ctx.Err() != nil {
		log.Info().Msg("collector stopped")
		return nil
	}
	return err
}
