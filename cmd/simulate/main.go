// Command simulate paper-trades one instrument against a live feed, or replays
// a recorded tick file through the same loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hefsys/internal/adapter"
	"hefsys/internal/config"
	"hefsys/internal/core"
	"hefsys/internal/engine"
	"hefsys/internal/features"
	"hefsys/internal/journal"
	"hefsys/internal/telemetry"
	"hefsys/internal/util"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration (defaults only when empty)")
	replay := flag.String("replay", "", "recorded tick CSV to replay instead of the live feed")
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

	if err := run(ctx, cfg, *replay, log); err != nil {
		log.Error().Err(err).Msg("simulation halted")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, replay string, log zerolog.Logger) error {
	// a missing model is fatal: never trade on a default signal
	if err := features.InitializeORT(cfg.Model.LibPath); err != nil {
		return err
	}
	defer features.ShutdownORT()
	model, err := features.NewModel(cfg.ModelParams())
	if err != nil {
		return err
	}
	defer model.Close()

	var feed adapter.Feed
	if replay != "" {
		feed = adapter.NewReplayFeed(replay, cfg.Feed.Symbol, log)
	} else {
		feed, err = adapter.NewFeed(cfg.Feed.Venue, cfg.Feed.Symbol, cfg.Feed.URL, cfg.Backoff(), log)
		if err != nil {
			return err
		}
	}

	jrnl, err := journal.Open(ctx, cfg.Journal.Kind, cfg.Journal.Path, cfg.Journal.DSN)
	if err != nil {
		return err
	}
	defer jrnl.Close()

	metrics := telemetry.NewMetrics()
	metrics.RegisterRejects(feed.Rejected)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()
	// sinks outlive the loop so the final report is queued before they drain
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()

	var sinks telemetry.Fanout
	if addr := cfg.Telemetry.RedisAddr; addr != "" {
		bus, client, err := telemetry.NewRedisBus(ctx, addr, cfg.Telemetry.RedisPassword, cfg.Telemetry.RedisChannel, log)
		if err != nil {
			return err
		}
		defer client.Close()
		sinks = append(sinks, bus)
		g.Go(func() error { return bus.Run(sinkCtx) })
	}
	if addr := cfg.Telemetry.HubAddr; addr != "" {
		hub := telemetry.NewHub(log)
		sinks = append(sinks, hub)
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		g.Go(func() error { hub.Run(sinkCtx); return nil })
		g.Go(func() error { return telemetry.ListenAndServe(sinkCtx, addr, mux, log) })
	}
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		g.Go(func() error { return telemetry.ListenAndServe(runCtx, addr, mux, log) })
	}
	if discord := telemetry.NewDiscordNotifier(cfg.Telemetry.DiscordWebhook, log); discord != nil {
		sinks = append(sinks, discord)
		g.Go(func() error { return discord.Run(sinkCtx) })
	}

	loop := engine.New(engine.Options{
		Symbol:         cfg.Feed.Symbol,
		Strategy:       cfg.StrategyParams(),
		InitialCash:    cfg.Account.InitialCash,
		TakerRate:      cfg.Account.TakerFee,
		HistoryCap:     cfg.Features.HistoryCap,
		StatusInterval: cfg.Loop.StatusInterval,
	}, model, engine.Deps{Journal: jrnl, Sink: sinks, Metrics: metrics}, log)

	msgs := make(chan core.NormalizedMessage, cfg.Feed.Buffer)
	feedErr := make(chan error, 1)

	g.Go(func() error {
		defer close(msgs)
		err := feed.Run(runCtx, msgs)
		if err != nil && runCtx.Err() == nil {
			feedErr <- err
		}
		return nil
	})
	g.Go(func() error {
		// the loop owns shutdown of everything else
		defer cancel()
		defer stopSinks()
		return loop.Run(runCtx, msgs, feedErr)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
