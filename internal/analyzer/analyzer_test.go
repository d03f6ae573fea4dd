package analyzer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/web3-frozen/pendle-monitor/internal/pendle"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

func mkTx(id string, age time.Duration, apy float64) pendle.Transaction {
	return pendle.Transaction{
		ID:         id,
		Timestamp:  testNow.Add(-age),
		ImpliedAPY: fptr(apy),
		Action:     "SWAP_YT",
	}
}

func newTestAnalyzer() *Analyzer {
	return New(DefaultPolicy).WithClock(func() time.Time { return testNow })
}

func TestAnalyzeInsufficientData(t *testing.T) {
	a := newTestAnalyzer()
	m := pendle.Market{Name: "sparse", Address: "0x1"}

	got := a.Analyze(m, []pendle.Transaction{
		mkTx("1", time.Hour, 0.5),
		mkTx("2", 2*time.Hour, 0.4),
	})

	assert.Equal(t, 2, got.TransactionCount)
	assert.False(t, got.DeclineExceedsAverage)
	assert.Zero(t, got.AverageDeclineRate)
	assert.Zero(t, got.VolumeUSD)
}

func TestAverageDeclineRate(t *testing.T) {
	// 0.30 to 0.20 over a 10-day span: -0.10 APY over 10 whole days.
	txs := []pendle.Transaction{
		mkTx("a", 240*time.Hour, 0.30),
		mkTx("b", 120*time.Hour, 0.26),
		mkTx("c", 0, 0.20),
	}
	got := averageDeclineRate(txs)
	assert.InDelta(t, -1.0, got, 1e-9, "(0.20-0.30)/10*100")
}

func TestAverageDeclineRateSameDayFallback(t *testing.T) {
	// All points within one day: falls back to the simple tail difference.
	txs := []pendle.Transaction{
		mkTx("a", 10*time.Hour, 0.30),
		mkTx("b", 5*time.Hour, 0.27),
		mkTx("c", time.Hour, 0.24),
	}
	got := averageDeclineRate(txs)
	assert.InDelta(t, (0.24-0.30)*100, got, 1e-9)
}

func TestAverageDeclineRateSkipsNilAPY(t *testing.T) {
	txs := []pendle.Transaction{
		{ID: "x", Timestamp: testNow.Add(-300 * time.Hour)},
		mkTx("a", 240*time.Hour, 0.30),
		mkTx("b", 0, 0.20),
	}
	got := averageDeclineRate(txs)
	assert.InDelta(t, -1.0, got, 1e-9, "nil-APY rows do not anchor the span")
}

func TestLatestDailyDeclineRate(t *testing.T) {
	tests := []struct {
		name string
		txs  []pendle.Transaction
		want float64
	}{
		{
			name: "12h drop extrapolated to a day",
			txs: []pendle.Transaction{
				mkTx("old", 48*time.Hour, 0.50),
				mkTx("a", 13*time.Hour, 0.30),
				mkTx("b", time.Hour, 0.24),
			},
			// (0.24-0.30)/12h*24 with no percent scaling
			want: -0.12,
		},
		{
			name: "single point in window",
			txs: []pendle.Transaction{
				mkTx("old", 48*time.Hour, 0.50),
				mkTx("a", time.Hour, 0.30),
			},
			want: 0,
		},
		{
			name: "no points in window",
			txs: []pendle.Transaction{
				mkTx("a", 48*time.Hour, 0.50),
				mkTx("b", 30*time.Hour, 0.40),
			},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := latestDailyDeclineRate(tt.txs, testNow)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDeclineExceedsAverage(t *testing.T) {
	tests := []struct {
		name   string
		avg    float64
		latest float64
		want   bool
	}{
		{"steep recent drop", -2.0, -10.0, true},
		{"above multiplier but under floor", -2.0, -3.5, false},
		{"above floor but under multiplier", -4.0, -5.5, false},
		{"flat history steep drop", 0, -6.0, true},
		{"quiet market", -0.5, -0.2, false},
	}
	p := DefaultPolicy
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := math.Abs(tt.latest) > math.Abs(tt.avg)*p.AccelMultiplier &&
				math.Abs(tt.latest) > p.AccelFloor
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnalyzeAcceleratingDecline(t *testing.T) {
	a := newTestAnalyzer()
	m := pendle.Market{Name: "crash", Address: "0x2", Expiry: testNow.AddDate(0, 3, 0)}

	// Flat for days, then a slide inside the last 24h steep enough to beat
	// both the multiplier and the absolute floor.
	txs := []pendle.Transaction{
		mkTx("a", 240*time.Hour, 3.1),
		mkTx("b", 180*time.Hour, 3.1),
		mkTx("c", 120*time.Hour, 3.1),
		mkTx("d", 13*time.Hour, 6.5),
		mkTx("e", 7*time.Hour, 4.75),
		mkTx("f", time.Hour, 3.0),
	}

	got := a.Analyze(m, txs)
	assert.True(t, got.DeclineExceedsAverage)
	assert.InDelta(t, -7.0, got.LatestDailyDeclineRate, 1e-9)
	assert.Equal(t, 6, got.TransactionCount)
}

func TestCurrentYTPriceFallbacks(t *testing.T) {
	m := pendle.Market{Expiry: testNow.Add(90 * 24 * time.Hour)}

	t.Run("yield swap value wins", func(t *testing.T) {
		txs := []pendle.Transaction{
			{ID: "a", Timestamp: testNow.Add(-2 * time.Hour), Action: "SWAP_PT", Value: fptr(0.9)},
			{ID: "b", Timestamp: testNow.Add(-time.Hour), Action: "SWAP_YT", Value: fptr(0.042)},
		}
		assert.InDelta(t, 0.042, currentYTPrice(txs, m, testNow), 1e-9)
	})

	t.Run("range-bounded value second", func(t *testing.T) {
		txs := []pendle.Transaction{
			{ID: "a", Timestamp: testNow.Add(-2 * time.Hour), Action: "MINT", Value: fptr(0.8)},
			{ID: "b", Timestamp: testNow.Add(-time.Hour), Action: "MINT", Value: fptr(700.0)},
		}
		assert.InDelta(t, 0.8, currentYTPrice(txs, m, testNow), 1e-9)
	})

	t.Run("apy-derived last", func(t *testing.T) {
		txs := []pendle.Transaction{
			{ID: "a", Timestamp: testNow.Add(-time.Hour), Action: "MINT", ImpliedAPY: fptr(0.20)},
		}
		years := 90.0 / 365
		want := 1 / math.Pow(1.20, years)
		assert.InDelta(t, want, currentYTPrice(txs, m, testNow), 1e-9)
	})

	t.Run("no signal at all", func(t *testing.T) {
		txs := []pendle.Transaction{
			{ID: "a", Timestamp: testNow.Add(-time.Hour), Action: "MINT"},
		}
		assert.Zero(t, currentYTPrice(txs, m, testNow))
	})
}

func TestCurrentYTPriceMaturityFloor(t *testing.T) {
	// A market past expiry still yields a positive synthetic price: the
	// exponent is floored at 0.1 years.
	m := pendle.Market{Expiry: testNow.Add(-time.Hour)}
	txs := []pendle.Transaction{
		{ID: "a", Timestamp: testNow.Add(-time.Hour), Action: "MINT", ImpliedAPY: fptr(0.50)},
	}
	want := 1 / math.Pow(1.50, 0.1)
	assert.InDelta(t, want, currentYTPrice(txs, m, testNow), 1e-9)
}

func TestVolumeAndAPYAggregates(t *testing.T) {
	usd := func(v float64) *float64 { return &v }
	txs := []pendle.Transaction{
		{ID: "a", ImpliedAPY: fptr(0.10), ValuationUSD: usd(100)},
		{ID: "b", ImpliedAPY: fptr(0.20), ValuationUSD: usd(300)},
		{ID: "c"},
	}
	assert.InDelta(t, 400.0, volumeUSD(txs), 1e-9)
	assert.InDelta(t, 0.15, averageImpliedAPY(txs), 1e-9)
}

func TestAnalyzeUnsortedInput(t *testing.T) {
	a := newTestAnalyzer()
	m := pendle.Market{Name: "m", Address: "0x3"}

	sorted := []pendle.Transaction{
		mkTx("a", 240*time.Hour, 0.30),
		mkTx("b", 120*time.Hour, 0.26),
		mkTx("c", 60*time.Hour, 0.24),
		mkTx("d", 30*time.Hour, 0.22),
		mkTx("e", time.Hour, 0.20),
	}
	shuffled := []pendle.Transaction{sorted[3], sorted[0], sorted[4], sorted[1], sorted[2]}

	assert.Equal(t, a.Analyze(m, sorted), a.Analyze(m, shuffled), "order of input must not matter")
}
