// Package engine runs the single-goroutine tick loop: normalized messages in,
// features, scoring, position decisions and ledger updates out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"hefsys/internal/core"
	"hefsys/internal/features"
	"hefsys/internal/journal"
	"hefsys/internal/telemetry"
)

// ErrScoringFailure marks a tick dropped because the scorer errored, panicked
// or returned a value outside [0, 1].
var ErrScoringFailure = errors.New("scoring failure")

// Skip reasons reported on hef_ticks_skipped_total.
const (
	SkipMalformed = "malformed_input"
	SkipNonFinite = "non_finite_feature"
	SkipScoring   = "scoring_failure"
	SkipUnknown   = "unknown_message"
)

type Options struct {
	Symbol         string
	Strategy       core.StrategyConfig
	InitialCash    float64
	TakerRate      float64
	HistoryCap     int
	StatusInterval time.Duration // 0 disables status lines
}

// Deps are optional collaborators; nil fields are replaced by no-ops.
type Deps struct {
	Journal journal.Journal
	Sink    telemetry.Sink
	Metrics *telemetry.Metrics
}

// EventLoop owns the tick context, the paper account and the position
// machine. It is not safe for concurrent use; feed it from one goroutine.
type EventLoop struct {
	symbol  string
	tick    *core.TickContext
	account *core.SimAccount
	machine *features.PositionMachine
	scorer  features.Scorer

	journal journal.Journal
	sink    telemetry.Sink
	metrics *telemetry.Metrics
	log     zerolog.Logger

	statusEvery time.Duration
	lastStatus  time.Time
	lastProb    float64
}

func New(opts Options, scorer features.Scorer, deps Deps, log zerolog.Logger) *EventLoop {
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.Fanout{}
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics()
	}
	account := core.NewSimAccount(opts.InitialCash, opts.TakerRate)
	return &EventLoop{
		symbol:      opts.Symbol,
		tick:        core.NewTickContext(opts.HistoryCap),
		account:     account,
		machine:     features.NewPositionMachine(opts.Strategy, account),
		scorer:      scorer,
		journal:     deps.Journal,
		sink:        deps.Sink,
		metrics:     deps.Metrics,
		log:         log.With().Str("component", "loop").Str("symbol", opts.Symbol).Logger(),
		statusEvery: opts.StatusInterval,
	}
}

// Run consumes msgs until ctx is cancelled or msgs is closed, then writes the
// final report. An open position is marked at the last mid, never liquidated.
// If feedErr yields a non-nil error before msgs closes, the run is fatal and
// the error is returned after the report.
func (l *EventLoop) Run(ctx context.Context, msgs <-chan core.NormalizedMessage, feedErr <-chan error) error {
	l.log.Info().
		Float64("cash", l.account.Stats().Cash).
		Float64("buy_threshold", l.machine.Config().BuyThreshold).
		Float64("take_profit", l.machine.Config().TakeProfit).
		Float64("stop_loss", l.machine.Config().StopLoss).
		Dur("max_hold", l.machine.Config().MaxHold).
		Msg("paper trader started")

	for {
		select {
		case <-ctx.Done():
			l.Report(ctx, "stopped")
			return nil
		case m, ok := <-msgs:
			if !ok {
				var err error
				select {
				case err = <-feedErr:
				default:
				}
				if err != nil {
					l.Fatal(ctx, err)
					return err
				}
				l.Report(ctx, "feed finished")
				return nil
			}
			l.Handle(ctx, m)
		}
	}
}

// Handle processes one message. Trade prints only update the cached last
// trade; book snapshots run the full pipeline.
func (l *EventLoop) Handle(ctx context.Context, m core.NormalizedMessage) {
	switch m.Kind {
	case core.KindTrade:
		l.tick.Observe(m.Trade)
		return
	case core.KindBook:
	default:
		l.skip(SkipUnknown, fmt.Errorf("message kind %d", m.Kind))
		return
	}

	start := time.Now()
	defer func() { l.metrics.TickLatency.Observe(time.Since(start).Seconds()) }()

	snap := m.Book.WithTrade(l.tick.LastTrade)
	mid, err := snap.Mid()
	if err != nil {
		l.skip(SkipMalformed, err)
		return
	}
	now := m.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}
	l.tick.Advance(now, mid)

	vec, err := features.ComputeLive(snap, l.tick.History)
	if err != nil {
		reason := SkipMalformed
		if errors.Is(err, features.ErrNonFiniteFeature) {
			reason = SkipNonFinite
		}
		l.skip(reason, err)
		return
	}

	var prob float64
	if l.machine.NeedsSignal() {
		prob, err = l.score(vec)
		if err != nil {
			l.skip(SkipScoring, err)
			return
		}
		l.lastProb = prob
		l.metrics.Probability.Observe(prob)
		l.metrics.Ticks.WithLabelValues(telemetry.OutcomeScored).Inc()
	} else {
		l.metrics.Ticks.WithLabelValues(telemetry.OutcomeHolding).Inc()
	}

	tr := l.machine.Step(features.QuoteOf(snap), now, prob)
	l.apply(ctx, tr, now)
	l.metrics.Equity.Set(l.account.MarkToMarket(mid))
	l.status(ctx, now, tr)
}

func (l *EventLoop) score(v features.FeatureVector) (p float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = 0, fmt.Errorf("%w: panic: %v", ErrScoringFailure, r)
		}
	}()
	p, err = l.scorer.Score(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrScoringFailure, err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: probability %v out of range", ErrScoringFailure, p)
	}
	return p, nil
}

func (l *EventLoop) skip(reason string, err error) {
	l.metrics.Ticks.WithLabelValues(telemetry.OutcomeSkipped).Inc()
	l.metrics.TicksSkipped.WithLabelValues(reason).Inc()
	l.log.Debug().Err(err).Str("reason", reason).Uint64("seq", l.tick.Seq).Msg("tick skipped")
}

func (l *EventLoop) apply(ctx context.Context, tr features.Transition, now time.Time) {
	if tr.Err != nil {
		l.log.Warn().Err(tr.Err).Str("state", l.machine.Position().State.String()).Msg("ledger rejected transition")
		return
	}
	switch tr.Action {
	case features.Enter:
		f := tr.Fill
		l.log.Info().
			Float64("price", f.Price).
			Float64("qty", f.Qty).
			Float64("fee", f.Fee).
			Float64("cash", f.CashAfter).
			Float64("prob", l.lastProb).
			Msg("ENTRY")
		l.metrics.Trades.WithLabelValues("buy", "").Inc()
		l.record(ctx, f, telemetry.KindEntry, now, 0)
	case features.Exit:
		f := tr.Fill
		l.log.Info().
			Str("reason", tr.Reason).
			Float64("price", f.Price).
			Float64("entry", f.EntryPrice).
			Float64("return_pct", f.ReturnPct*100).
			Float64("fee", f.Fee).
			Float64("pnl", f.PnL).
			Float64("cash", f.CashAfter).
			Bool("win", f.Win).
			Msg("EXIT")
		l.metrics.Trades.WithLabelValues("sell", tr.Reason).Inc()
		l.record(ctx, f, telemetry.KindExit, now, tr.Return)
	}
}

func (l *EventLoop) record(ctx context.Context, f core.Fill, kind string, now time.Time, ret float64) {
	if err := l.journal.Record(ctx, journal.Entry{Symbol: l.symbol, Fill: f}); err != nil {
		l.log.Warn().Err(err).Str("fill", f.ID).Msg("journal write failed")
	}
	l.sink.Publish(ctx, telemetry.Event{
		Kind:    kind,
		Time:    now,
		Symbol:  l.symbol,
		Seq:     l.tick.Seq,
		Mid:     l.mark(),
		Prob:    l.lastProb,
		Return:  ret,
		NAV:     l.account.MarkToMarket(l.mark()),
		Holding: l.account.Holding(),
		Fill:    &f,
	})
}

func (l *EventLoop) status(ctx context.Context, now time.Time, tr features.Transition) {
	if l.statusEvery <= 0 || now.Sub(l.lastStatus) < l.statusEvery {
		return
	}
	l.lastStatus = now

	stats := l.account.Stats()
	nav := l.account.MarkToMarket(l.mark())
	ev := telemetry.Event{
		Kind:    telemetry.KindStatus,
		Time:    now,
		Symbol:  l.symbol,
		Seq:     l.tick.Seq,
		Mid:     l.mark(),
		NAV:     nav,
		Holding: stats.Holding(),
	}
	if l.machine.Position().State == features.Long {
		ev.Return = tr.Return
		l.log.Info().
			Float64("mid", l.mark()).
			Float64("floating_pct", tr.Return*100).
			Dur("held", now.Sub(l.machine.Position().EntryTime)).
			Msg("holding")
	} else {
		ev.Prob = l.lastProb
		l.log.Info().
			Float64("mid", l.mark()).
			Float64("prob", l.lastProb).
			Float64("nav", nav).
			Float64("pnl", nav-stats.InitialCash).
			Msg("flat")
	}
	l.sink.Publish(ctx, ev)
}

// Report logs and publishes the final account state.
func (l *EventLoop) Report(ctx context.Context, why string) {
	stats := l.account.Stats()
	summary := l.account.Summary(l.mark())
	ts := l.logReport(l.log.Info(), why, stats)
	if stats.Holding() {
		l.log.Warn().
			Float64("entry", stats.EntryPrice).
			Float64("mark", l.mark()).
			Msg("position left open; reported at mark, not liquidated")
	}
	l.sink.Publish(ctx, telemetry.Event{
		Kind:    telemetry.KindReport,
		Time:    ts,
		Symbol:  l.symbol,
		Seq:     l.tick.Seq,
		Mid:     l.mark(),
		NAV:     l.account.MarkToMarket(l.mark()),
		Holding: stats.Holding(),
		Message: why + ": " + summary,
	})
}

// Fatal reports the account and the terminal error.
func (l *EventLoop) Fatal(ctx context.Context, err error) {
	stats := l.account.Stats()
	ts := l.logReport(l.log.Error().Err(err), "fatal", stats)
	l.sink.Publish(ctx, telemetry.Event{
		Kind:    telemetry.KindFatal,
		Time:    ts,
		Symbol:  l.symbol,
		Seq:     l.tick.Seq,
		Mid:     l.mark(),
		NAV:     l.account.MarkToMarket(l.mark()),
		Holding: stats.Holding(),
		Message: fmt.Sprintf("%v: %s", err, l.account.Summary(l.mark())),
	})
}

func (l *EventLoop) logReport(e *zerolog.Event, why string, stats core.AccountStats) time.Time {
	nav := l.account.MarkToMarket(l.mark())
	e.Str("why", why).
		Uint64("ticks", l.tick.Seq).
		Float64("nav", nav).
		Float64("pnl", nav-stats.InitialCash).
		Float64("realized", stats.RealizedPnL).
		Float64("fees", stats.Fees).
		Int("trades", stats.Trades).
		Int("wins", stats.Wins).
		Float64("win_rate", stats.WinRate()).
		Bool("holding", stats.Holding()).
		Msg("final report")
	if l.tick.Now.IsZero() {
		return time.Now()
	}
	return l.tick.Now
}

// mark is the newest mid-price, the price open positions are valued at.
func (l *EventLoop) mark() float64 { return l.tick.History.Last() }

// Stats exposes the ledger for the caller's summary.
func (l *EventLoop) Stats() core.AccountStats { return l.account.Stats() }

// Position exposes the machine state.
func (l *EventLoop) Position() features.Position { return l.machine.Position() }

// Seq counts book ticks that carried a usable mid-price.
func (l *EventLoop) Seq() uint64 { return l.tick.Seq }
