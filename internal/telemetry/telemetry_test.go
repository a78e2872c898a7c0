package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hefsys/internal/core"
)

func TestHubStreamsEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(ctx, Event{Kind: KindStatus, Symbol: "BTC-USDT", Seq: 3, NAV: 1000})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, KindStatus, ev.Kind)
	assert.Equal(t, uint64(3), ev.Seq)
}

func TestHubBroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			hub.Broadcast([]byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked without a running hub")
	}
}

type recordingTarget struct {
	mu   sync.Mutex
	got  []Event
	fail bool
}

func (r *recordingTarget) Deliver(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingTarget) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestAsyncSinkDeliversAndDrains(t *testing.T) {
	target := &recordingTarget{fail: true}
	sink := newAsyncSink("test", target, 8, zerolog.Nop())

	for i := 0; i < 5; i++ {
		sink.Publish(context.Background(), Event{Seq: uint64(i)})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sink.Run(ctx))
	assert.Equal(t, 5, target.count())
}

func TestAsyncSinkDeliversReportPublishedAfterLoopStops(t *testing.T) {
	target := &recordingTarget{}
	sink := newAsyncSink("test", target, 8, zerolog.Nop())

	loopCtx, stopLoop := context.WithCancel(context.Background())
	sinkCtx, stopSink := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(sinkCtx) }()

	stopLoop()
	time.Sleep(10 * time.Millisecond)
	sink.Publish(loopCtx, Event{Kind: KindReport})
	stopSink()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not stop")
	}
	require.Equal(t, 1, target.count())
	assert.Equal(t, KindReport, target.got[0].Kind)
}

func TestHubFlushesQueuedFramesOnShutdown(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(context.Background(), Event{Kind: KindReport, Message: "stopped"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, KindReport, ev.Kind)
	assert.Zero(t, hub.Clients())
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	sink := newAsyncSink("test", &recordingTarget{}, 2, zerolog.Nop())
	for i := 0; i < 5; i++ {
		sink.Publish(context.Background(), Event{})
	}
	assert.Equal(t, uint64(3), sink.Dropped())
}

func TestDiscordAlertsOnExit(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &DiscordNotifier{webhookURL: srv.URL, client: srv.Client()}
	ctx := context.Background()

	require.NoError(t, d.Deliver(ctx, Event{Kind: KindStatus}))
	fill := core.Fill{Reason: "take-profit", EntryPrice: 100, Price: 100.2, Win: true}
	require.NoError(t, d.Deliver(ctx, Event{Kind: KindExit, Symbol: "BTC-USDT", Fill: &fill}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "take-profit")
}

func TestDiscordDisabledWithoutWebhook(t *testing.T) {
	assert.Nil(t, NewDiscordNotifier("", zerolog.Nop()))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.TicksSkipped.WithLabelValues("malformed_input").Inc()
	m.Equity.Set(1001.5)
	var rejected uint64 = 4
	m.RegisterRejects(func() uint64 { return rejected })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `hef_ticks_skipped_total{reason="malformed_input"} 1`)
	assert.Contains(t, body, "hef_equity 1001.5")
	assert.Contains(t, body, "hef_feed_rejected_total 4")
}
