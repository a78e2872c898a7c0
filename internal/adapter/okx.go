package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"hefsys/internal/core"
)

const okxPublicURL = "wss://ws.okx.com:8443/ws/v5/public"

// OKXAdapter streams books5 and trades for one instrument.
type OKXAdapter struct {
	instID   string
	client   *BaseWSClient
	rejected atomic.Uint64
	log      zerolog.Logger
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// NewOKXAdapter builds the adapter. url may be empty to use the public endpoint.
func NewOKXAdapter(instID, url string, backoff Backoff, log zerolog.Logger) (*OKXAdapter, error) {
	if url == "" {
		url = okxPublicURL
	}
	sub, err := json.Marshal(map[string]any{
		"op":   "subscribe",
		"args": []okxArg{{Channel: "books5", InstID: instID}, {Channel: "trades", InstID: instID}},
	})
	if err != nil {
		return nil, err
	}

	client := NewBaseWSClient("okx", url, log)
	client.Backoff = backoff
	client.Subscriptions = [][]byte{sub}
	client.PingPayload = []byte("ping")
	return &OKXAdapter{
		instID: instID,
		client: client,
		log:    log.With().Str("feed", "okx").Logger(),
	}, nil
}

func (o *OKXAdapter) Run(ctx context.Context, out chan<- core.NormalizedMessage) error {
	return pump(ctx, o.client, out, o.parse, &o.rejected, o.log)
}

func (o *OKXAdapter) Rejected() uint64 { return o.rejected.Load() }

type okxPush struct {
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Arg   okxArg          `json:"arg"`
	Data  json.RawMessage `json:"data"`
}

type okxBook struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	Ts   string     `json:"ts"`
}

type okxTrade struct {
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
	Ts   string `json:"ts"`
}

func (o *OKXAdapter) parse(raw []byte, received time.Time) ([]core.NormalizedMessage, error) {
	if string(raw) == "pong" {
		return nil, nil
	}
	var push okxPush
	if err := json.Unmarshal(raw, &push); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedInput, err)
	}
	switch push.Event {
	case "":
	case "error":
		o.log.Error().Str("code", push.Code).Str("msg", push.Msg).Msg("okx rejected request")
		return nil, nil
	default:
		o.log.Debug().Str("event", push.Event).Str("channel", push.Arg.Channel).Msg("okx event")
		return nil, nil
	}

	switch push.Arg.Channel {
	case "books5":
		var books []okxBook
		if err := json.Unmarshal(push.Data, &books); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedInput, err)
		}
		out := make([]core.NormalizedMessage, 0, len(books))
		for _, b := range books {
			asks, err := parseLevels(b.Asks)
			if err != nil {
				return nil, err
			}
			bids, err := parseLevels(b.Bids)
			if err != nil {
				return nil, err
			}
			ts, err := parseMillis(b.Ts)
			if err != nil {
				return nil, err
			}
			snap, err := core.NewBook(o.instID, ts, asks, bids)
			if err != nil {
				return nil, err
			}
			out = append(out, core.NormalizedMessage{Kind: core.KindBook, Book: snap, ReceivedAt: received})
		}
		return out, nil
	case "trades":
		var trades []okxTrade
		if err := json.Unmarshal(push.Data, &trades); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedInput, err)
		}
		out := make([]core.NormalizedMessage, 0, len(trades))
		for _, t := range trades {
			px, err := strconv.ParseFloat(t.Px, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: px %q", core.ErrMalformedInput, t.Px)
			}
			sz, err := strconv.ParseFloat(t.Sz, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: sz %q", core.ErrMalformedInput, t.Sz)
			}
			var side core.Direction
			switch t.Side {
			case "buy":
				side = core.Buy
			case "sell":
				side = core.Sell
			default:
				return nil, fmt.Errorf("%w: side %q", core.ErrMalformedInput, t.Side)
			}
			ts, err := parseMillis(t.Ts)
			if err != nil {
				return nil, err
			}
			trade, err := core.NewTrade(o.instID, ts, px, sz, side)
			if err != nil {
				return nil, err
			}
			out = append(out, core.NormalizedMessage{Kind: core.KindTrade, Trade: trade, ReceivedAt: received})
		}
		return out, nil
	}
	return nil, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: ts %q", core.ErrMalformedInput, s)
	}
	return time.UnixMilli(ms), nil
}
