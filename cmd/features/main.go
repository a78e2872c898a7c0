// Command features turns recorded ticks into the labeled training table the
// external trainer consumes.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

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

	recs, stats, err := features.ReadRecent(cfg.Dataset.Dir, cfg.Feed.Symbol, cfg.Dataset.Days)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Dataset.Dir).Msg("read ticks")
	}
	log.Info().Int("files", stats.Files).Int("rows", stats.Rows).Int("rejected", stats.Rejected).Msg("loaded ticks")
	if len(recs) == 0 {
		log.Fatal().Str("dir", cfg.Dataset.Dir).Msg("no usable ticks")
	}

	snaps := features.Snapshots(recs)
	table := features.ComputeBatch(snaps)
	var malformed, nonFinite int
	for _, err := range table.Errs {
		switch {
		case err == nil:
		case errors.Is(err, core.ErrMalformedInput):
			malformed++
		case errors.Is(err, features.ErrNonFiniteFeature):
			nonFinite++
		}
	}

	label := cfg.LabelParams()
	rows := features.Label(snaps, table, label)
	if err := os.MkdirAll(filepath.Dir(cfg.Dataset.Output), 0o755); err != nil {
		log.Fatal().Err(err).Msg("create output dir")
	}
	out, err := os.Create(cfg.Dataset.Output)
	if err != nil {
		log.Fatal().Err(err).Msg("create output")
	}
	if err := features.WriteTrainingTable(out, rows); err != nil {
		out.Close()
		log.Fatal().Err(err).Msg("write training table")
	}
	if err := out.Close(); err != nil {
		log.Fatal().Err(err).Msg("close output")
	}

	log.Info().
		Int("rows", len(rows)).
		Int("malformed", malformed).
		Int("non_finite", nonFinite).
		Int("horizon", label.Horizon).
		Float64("threshold", label.Threshold).
		Float64("positive_ratio", features.PositiveRatio(rows)).
		Str("path", cfg.Dataset.Output).
		Msg("training table written")
}
