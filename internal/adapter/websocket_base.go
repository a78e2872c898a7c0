package adapter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hefsys/internal/core"
)

// ErrRetriesExhausted is returned when the feed cannot be re-established.
var ErrRetriesExhausted = errors.New("transport retries exhausted")

// Feed produces normalized market data until ctx ends or the transport gives up.
type Feed interface {
	Run(ctx context.Context, out chan<- core.NormalizedMessage) error
	Rejected() uint64
}

// Backoff is a capped exponential retry policy.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Factor     float64
	MaxRetries int
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 30 * time.Second, Factor: 1.8, MaxRetries: 10}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt))
	if d > float64(b.Max) || math.IsInf(d, 0) {
		return b.Max
	}
	return time.Duration(d)
}

// BaseWSClient handles the lifecycle of a single WebSocket subscription:
// dial, subscribe, keepalive, read, and reconnect with backoff.
type BaseWSClient struct {
	Name string
	URL  string

	ReadTimeout  time.Duration // also the no-data watchdog
	WriteTimeout time.Duration
	PingInterval time.Duration
	// PingPayload is sent as a text frame when set, else a control ping is used.
	PingPayload []byte
	// Subscriptions are written after every successful dial.
	Subscriptions [][]byte
	Backoff       Backoff

	ReadChan chan []byte

	dialer *websocket.Dialer
	log    zerolog.Logger
}

func NewBaseWSClient(name, url string, log zerolog.Logger) *BaseWSClient {
	return &BaseWSClient{
		Name:         name,
		URL:          url,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 20 * time.Second,
		Backoff:      DefaultBackoff(),
		ReadChan:     make(chan []byte, 1024),
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:          log.With().Str("feed", name).Logger(),
	}
}

// Run blocks until ctx is cancelled or MaxRetries consecutive sessions fail.
// A session that delivered at least one message resets the retry budget.
func (c *BaseWSClient) Run(ctx context.Context) error {
	attempt := 0
	for {
		healthy, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if healthy {
			attempt = 0
		}
		if attempt >= c.Backoff.MaxRetries {
			return fmt.Errorf("%w: %s after %d attempts: %v", ErrRetriesExhausted, c.Name, attempt, err)
		}
		delay := c.Backoff.Delay(attempt)
		attempt++
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("feed disconnected, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *BaseWSClient) session(ctx context.Context) (bool, error) {
	c.log.Info().Str("url", c.URL).Msg("connecting")
	conn, _, err := c.dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	for _, sub := range c.Subscriptions {
		conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
			return false, fmt.Errorf("subscribe: %w", err)
		}
	}
	c.log.Info().Msg("connected")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.keepalive(sessCtx, conn)

	conn.SetReadLimit(5 << 20)
	conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	})

	var received atomic.Bool
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return received.Load(), err
		}
		received.Store(true)
		conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))

		select {
		case c.ReadChan <- message:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

// keepalive pings on an interval and closes the socket when ctx ends, which
// unblocks the reader.
func (c *BaseWSClient) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.WriteTimeout)
			var err error
			if c.PingPayload != nil {
				conn.SetWriteDeadline(deadline)
				err = conn.WriteMessage(websocket.TextMessage, c.PingPayload)
			} else {
				err = conn.WriteControl(websocket.PingMessage, nil, deadline)
			}
			if err != nil {
				c.log.Warn().Err(err).Msg("ping failed")
				conn.Close()
				return
			}
		}
	}
}

// pump parses raw frames from client until the client stops.
func pump(ctx context.Context, client *BaseWSClient, out chan<- core.NormalizedMessage,
	parse func(raw []byte, received time.Time) ([]core.NormalizedMessage, error),
	rejected *atomic.Uint64, log zerolog.Logger) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- client.Run(ctx) }()

	for {
		select {
		case err := <-errc:
			return err
		case raw := <-client.ReadChan:
			msgs, err := parse(raw, time.Now())
			if err != nil {
				rejected.Add(1)
				log.Debug().Err(err).Msg("dropping feed message")
				continue
			}
			for _, m := range msgs {
				select {
				case out <- m:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
