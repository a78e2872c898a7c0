package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	colorWin  = 0x2ecc71
	colorLoss = 0xe74c3c
	colorInfo = 0x3498db
)

// DiscordNotifier posts trade exits, the final report and fatal errors to a
// Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordNotifier returns an async sink, or nil when webhookURL is empty.
func NewDiscordNotifier(webhookURL string, log zerolog.Logger) *AsyncSink {
	if webhookURL == "" {
		return nil
	}
	d := &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	return newAsyncSink("discord", d, 64, log)
}

func (d *DiscordNotifier) Deliver(ctx context.Context, ev Event) error {
	title, body, color, ok := alertFor(ev)
	if !ok {
		return nil
	}
	return d.SendAlert(ctx, title, body, color)
}

func alertFor(ev Event) (title, body string, color int, ok bool) {
	switch ev.Kind {
	case KindExit:
		if ev.Fill == nil {
			return "", "", 0, false
		}
		color = colorLoss
		if ev.Fill.Win {
			color = colorWin
		}
		title = fmt.Sprintf("%s exit (%s)", ev.Symbol, ev.Fill.Reason)
		body = fmt.Sprintf("entry %.4f exit %.4f return %+.4f%% pnl %+.4f nav %.2f",
			ev.Fill.EntryPrice, ev.Fill.Price, ev.Fill.ReturnPct*100, ev.Fill.PnL, ev.NAV)
		return title, body, color, true
	case KindReport:
		return ev.Symbol + " session report", ev.Message, colorInfo, true
	case KindFatal:
		return ev.Symbol + " halted", ev.Message, colorLoss, true
	}
	return "", "", 0, false
}

func (d *DiscordNotifier) SendAlert(ctx context.Context, title, message string, color int) error {
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"footer": map[string]string{
					"text": "hefsys paper trader",
				},
				"timestamp": time.Now().Format(time.RFC3339),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord returned status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
