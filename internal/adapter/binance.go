package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"hefsys/internal/core"
)

const binanceStreamURL = "wss://stream.binance.com:9443/stream"

// BinanceAdapter streams the 5-level partial book and aggregated trades for
// one spot symbol over a combined stream.
type BinanceAdapter struct {
	symbol   string
	client   *BaseWSClient
	rejected atomic.Uint64
	log      zerolog.Logger
}

// NewBinanceAdapter builds the adapter. url may be empty to use the public endpoint.
func NewBinanceAdapter(symbol, url string, backoff Backoff, log zerolog.Logger) *BinanceAdapter {
	if url == "" {
		url = binanceStreamURL
	}
	sym := strings.ToLower(strings.ReplaceAll(symbol, "-", ""))
	full := fmt.Sprintf("%s?streams=%s@depth5@100ms/%s@aggTrade", url, sym, sym)

	client := NewBaseWSClient("binance", full, log)
	client.Backoff = backoff
	return &BinanceAdapter{
		symbol: symbol,
		client: client,
		log:    log.With().Str("feed", "binance").Logger(),
	}
}

func (b *BinanceAdapter) Run(ctx context.Context, out chan<- core.NormalizedMessage) error {
	return pump(ctx, b.client, out, b.parse, &b.rejected, b.log)
}

// Rejected counts frames dropped by edge validation.
func (b *BinanceAdapter) Rejected() uint64 { return b.rejected.Load() }

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type binanceAggTrade struct {
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (b *BinanceAdapter) parse(raw []byte, received time.Time) ([]core.NormalizedMessage, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedInput, err)
	}
	switch {
	case env.Stream == "":
		// subscription acks and other control frames
		return nil, nil
	case strings.HasSuffix(env.Stream, "@aggTrade"):
		var t binanceAggTrade
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedInput, err)
		}
		px, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: price %q", core.ErrMalformedInput, t.Price)
		}
		qty, err := strconv.ParseFloat(t.Quantity, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: quantity %q", core.ErrMalformedInput, t.Quantity)
		}
		// buyer is maker means the aggressor sold
		side := core.Buy
		if t.IsBuyerMaker {
			side = core.Sell
		}
		trade, err := core.NewTrade(b.symbol, time.UnixMilli(t.TradeTime), px, qty, side)
		if err != nil {
			return nil, err
		}
		return []core.NormalizedMessage{{Kind: core.KindTrade, Trade: trade, ReceivedAt: received}}, nil
	case strings.Contains(env.Stream, "@depth"):
		var d binanceDepth
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedInput, err)
		}
		asks, err := parseLevels(d.Asks)
		if err != nil {
			return nil, err
		}
		bids, err := parseLevels(d.Bids)
		if err != nil {
			return nil, err
		}
		// partial depth frames carry no event time
		snap, err := core.NewBook(b.symbol, received, asks, bids)
		if err != nil {
			return nil, err
		}
		return []core.NormalizedMessage{{Kind: core.KindBook, Book: snap, ReceivedAt: received}}, nil
	}
	return nil, nil
}

// parseLevels decodes [price, size, ...] string tuples.
func parseLevels(raw [][]string) ([]core.Level, error) {
	out := make([]core.Level, len(raw))
	for i, lvl := range raw {
		if len(lvl) < 2 {
			return nil, fmt.Errorf("%w: level %d has %d fields", core.ErrMalformedInput, i, len(lvl))
		}
		px, err := strconv.ParseFloat(lvl[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: level %d price %q", core.ErrMalformedInput, i, lvl[0])
		}
		sz, err := strconv.ParseFloat(lvl[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: level %d size %q", core.ErrMalformedInput, i, lvl[1])
		}
		out[i] = core.Level{Price: px, Size: sz}
	}
	return out, nil
}
