package core

import "time"

// MinHistory is the shortest mid-price window the RSI and volatility features need.
const MinHistory = 20

// PriceHistory is a bounded FIFO of mid-prices. Once full, appending drops the
// oldest value.
type PriceHistory struct {
	buf  []float64
	head int
	n    int
}

// NewPriceHistory allocates a ring of the given capacity, never below MinHistory.
func NewPriceHistory(capacity int) *PriceHistory {
	if capacity < MinHistory {
		capacity = MinHistory
	}
	return &PriceHistory{buf: make([]float64, capacity)}
}

func (h *PriceHistory) Append(mid float64) {
	h.buf[(h.head+h.n)%len(h.buf)] = mid
	if h.n < len(h.buf) {
		h.n++
		return
	}
	h.head = (h.head + 1) % len(h.buf)
}

func (h *PriceHistory) Len() int { return h.n }

// Last returns the newest value, or 0 when empty.
func (h *PriceHistory) Last() float64 {
	if h.n == 0 {
		return 0
	}
	return h.buf[(h.head+h.n-1)%len(h.buf)]
}

// Tail copies the newest k values, oldest first. k is clamped to Len.
func (h *PriceHistory) Tail(k int) []float64 {
	if k > h.n {
		k = h.n
	}
	if k <= 0 {
		return nil
	}
	out := make([]float64, k)
	start := h.head + h.n - k
	for i := range out {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}

// TickContext is the per-run state owned by the event loop. It is handed by
// reference to the feature engine and the position machine and must not be
// shared across goroutines.
type TickContext struct {
	History   *PriceHistory
	LastTrade TradePrint
	Seq       uint64
	Now       time.Time
}

func NewTickContext(historyCap int) *TickContext {
	return &TickContext{History: NewPriceHistory(historyCap)}
}

// Observe caches a trade print until a newer one supersedes it.
func (c *TickContext) Observe(t Trade) {
	c.LastTrade = t.Print()
}

// Advance stamps the context for a new book tick and appends its mid-price.
func (c *TickContext) Advance(now time.Time, mid float64) {
	c.Seq++
	c.Now = now
	c.History.Append(mid)
}
