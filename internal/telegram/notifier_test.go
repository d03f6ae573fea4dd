package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/web3-frozen/pendle-monitor/internal/analyzer"
	"github.com/web3-frozen/pendle-monitor/internal/pendle"
)

func TestFormatAlert(t *testing.T) {
	a := analyzer.Analysis{
		Market: pendle.Market{
			Name:    "sUSDe <Dec>",
			Address: "0xabc",
			Expiry:  time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC),
		},
		CurrentYTPrice:         0.0421,
		AverageDeclineRate:     -2.5,
		LatestDailyDeclineRate: -9.1,
		VolumeUSD:              123456,
		ImpliedAPY:             0.184,
		TransactionCount:       42,
	}

	got := formatAlert(a)

	if !strings.Contains(got, "sUSDe &lt;Dec&gt;") {
		t.Errorf("market name not HTML-escaped: %q", got)
	}
	if !strings.Contains(got, "-9.10%/day") {
		t.Errorf("latest decline missing: %q", got)
	}
	if !strings.Contains(got, "18.40%") {
		t.Errorf("implied APY should be rendered as percent: %q", got)
	}
	if !strings.Contains(got, "2026-12-25") {
		t.Errorf("maturity date missing: %q", got)
	}
	if !strings.Contains(got, "https://app.pendle.finance/trade/markets/0xabc") {
		t.Errorf("trade deep link missing: %q", got)
	}
}
