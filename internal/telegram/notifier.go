// Package telegram delivers yield decline alerts to a single operator chat
// via the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/web3-frozen/pendle-monitor/internal/analyzer"
	"github.com/web3-frozen/pendle-monitor/internal/pendle"
)

const telegramAPI = "https://api.telegram.org/bot"

// Telegram caps messages at 4096 chars; batches are chunked below that.
const maxMessageLen = 4000

type Notifier struct {
	token  string
	chatID int64
	logger *slog.Logger
	client *http.Client
}

func NewNotifier(token string, chatID int64, logger *slog.Logger) *Notifier {
	return &Notifier{
		token:  token,
		chatID: chatID,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether the notifier has credentials to send with.
func (n *Notifier) Enabled() bool {
	return n != nil && n.token != "" && n.chatID != 0
}

// SendMessage sends an HTML-formatted message to the operator chat.
func (n *Notifier) SendMessage(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST",
		telegramAPI+n.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, errResp.Description)
	}
	return nil
}

// SendAlerts formats and delivers a batch of anomalous markets for one
// chain, chunking into multiple messages when the batch exceeds the
// Telegram size limit.
func (n *Notifier) SendAlerts(ctx context.Context, chainID int, alerts []analyzer.Analysis) error {
	if len(alerts) == 0 {
		return nil
	}

	header := fmt.Sprintf("🚨 <b>Pendle Yield Alert</b> | %s\n%d market(s) with accelerating APY decline\n",
		pendle.ChainName(chainID), len(alerts))

	var b strings.Builder
	b.WriteString(header)
	for _, a := range alerts {
		entry := formatAlert(a)
		if b.Len()+len(entry) > maxMessageLen {
			if err := n.SendMessage(ctx, b.String()); err != nil {
				return err
			}
			b.Reset()
			b.WriteString(header)
		}
		b.WriteString(entry)
	}
	return n.SendMessage(ctx, b.String())
}

func formatAlert(a analyzer.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n<b>%s</b>\n", escapeHTML(a.Market.Name))
	fmt.Fprintf(&b, "  Avg decline: %.2f%%/day\n", a.AverageDeclineRate)
	fmt.Fprintf(&b, "  Last 24h:    %.2f%%/day\n", a.LatestDailyDeclineRate)
	fmt.Fprintf(&b, "  Implied APY: %.2f%%\n", a.ImpliedAPY*100)
	fmt.Fprintf(&b, "  YT price:    %.4f\n", a.CurrentYTPrice)
	fmt.Fprintf(&b, "  Volume:      $%.0f (%d txs)\n", a.VolumeUSD, a.TransactionCount)
	if !a.Market.Expiry.IsZero() {
		fmt.Fprintf(&b, "  Matures:     %s\n", a.Market.Expiry.Format("2006-01-02"))
	}
	if a.Market.Address != "" {
		fmt.Fprintf(&b, "  <a href=\"%s\">Open market</a>\n", a.Market.TradeURL())
	}
	return b.String()
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
