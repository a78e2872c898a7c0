package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"hefsys/internal/core"
)

// Event kinds published by the event loop.
const (
	KindEntry  = "entry"
	KindExit   = "exit"
	KindStatus = "status"
	KindReport = "report"
	KindFatal  = "fatal"
)

// Event is the JSON document fanned out to dashboards, the bus and alerts.
type Event struct {
	Kind    string     `json:"kind"`
	Time    time.Time  `json:"time"`
	Symbol  string     `json:"symbol"`
	Seq     uint64     `json:"seq"`
	Mid     float64    `json:"mid,omitempty"`
	Prob    float64    `json:"prob,omitempty"`
	Return  float64    `json:"return,omitempty"`
	NAV     float64    `json:"nav"`
	Holding bool       `json:"holding"`
	Fill    *core.Fill `json:"fill,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Sink receives events. Publish must not block the caller for long.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f {
		s.Publish(ctx, ev)
	}
}

// deliverer is a sink whose delivery can block on the network.
type deliverer interface {
	Deliver(ctx context.Context, ev Event) error
}

// AsyncSink queues events for a slow deliverer and drops when the queue is full.
type AsyncSink struct {
	name    string
	target  deliverer
	queue   chan Event
	dropped atomic.Uint64
	log     zerolog.Logger
}

func newAsyncSink(name string, target deliverer, size int, log zerolog.Logger) *AsyncSink {
	return &AsyncSink{
		name:   name,
		target: target,
		queue:  make(chan Event, size),
		log:    log.With().Str("sink", name).Logger(),
	}
}

func (a *AsyncSink) Publish(_ context.Context, ev Event) {
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Dropped counts events discarded because the queue was full.
func (a *AsyncSink) Dropped() uint64 { return a.dropped.Load() }

// Run delivers queued events until ctx ends, then drains what is left with a
// short deadline. Events published after the drain are lost, so ctx must
// outlive every publisher.
func (a *AsyncSink) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-a.queue:
			a.deliver(ctx, ev)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-a.queue:
					a.deliver(drainCtx, ev)
				default:
					return nil
				}
			}
		}
	}
}

func (a *AsyncSink) deliver(ctx context.Context, ev Event) {
	if err := a.target.Deliver(ctx, ev); err != nil {
		a.log.Warn().Err(err).Str("kind", ev.Kind).Msg("delivery failed")
	}
}
