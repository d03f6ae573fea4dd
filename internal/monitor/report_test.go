package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/web3-frozen/pendle-monitor/internal/analyzer"
	"github.com/web3-frozen/pendle-monitor/internal/pendle"
)

func TestFormatNum(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0.5, "0.50"},
		{999.99, "999.99"},
		{1000, "1,000.00"},
		{1234.56, "1,234.56"},
		{123456.78, "123,456.78"},
		{999999.99, "999,999.99"},
		{1000000, "1.00M"},
		{1500000, "1.50M"},
		{123456789, "123.46M"},
	}
	for _, tt := range tests {
		got := formatNum(tt.input)
		if got != tt.want {
			t.Errorf("formatNum(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAddCommas(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0", "0"},
		{"100", "100"},
		{"1000", "1,000"},
		{"12345", "12,345"},
		{"1234567", "1,234,567"},
		{"1000.50", "1,000.50"},
		{"12345678.99", "12,345,678.99"},
	}
	for _, tt := range tests {
		got := addCommas(tt.input)
		if got != tt.want {
			t.Errorf("addCommas(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestReport(t *testing.T) {
	s := ChainSummary{
		ChainID:   42161,
		ChainName: "Arbitrum One",
		Markets:   20,
		Analyzed:  20,
		Anomalous: 1,
		Alerted:   1,
		StartedAt: time.Now(),
		Duration:  3 * time.Second,
		Results: []analyzer.Analysis{
			{
				Market:                 pendle.Market{Name: "YT-weETH"},
				AverageDeclineRate:     -2.0,
				LatestDailyDeclineRate: -8.5,
				DeclineExceedsAverage:  true,
				VolumeUSD:              1_250_000,
				ImpliedAPY:             0.12,
				TransactionCount:       120,
			},
			{
				Market: pendle.Market{Name: "PT-empty"},
			},
		},
	}

	out := Report([]ChainSummary{s})

	for _, want := range []string{
		"Arbitrum One (chain 42161)",
		"anomalous: 1",
		"YT-weETH",
		"1.25M",
		"12.00%",
		"!",
		"PT-empty",
		"no data",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
