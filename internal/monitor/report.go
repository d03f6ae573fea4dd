package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Report renders a console summary of one or more chain cycles. Every market
// appears in the table, steepest decliners first; markets that could not be
// analyzed are listed with zero-valued metrics rather than dropped.
func Report(summaries []ChainSummary) string {
	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "=== %s (chain %d) ===\n", s.ChainName, s.ChainID)
		fmt.Fprintf(&b, "markets: %d  analyzed: %d  anomalous: %d  alerted: %d  deduplicated: %d\n",
			s.Markets, s.Analyzed, s.Anomalous, s.Alerted, s.Deduplicated)
		fmt.Fprintf(&b, "duration: %s  api requests: %d  cache hits: %d  rate limited: %d\n",
			s.Duration.Round(time.Millisecond), s.Gateway.TotalRequests, s.Gateway.CacheHits, s.Gateway.RateLimited)

		rows := s.Results
		if len(rows) == 0 {
			rows = s.Top
		}
		if len(rows) > 0 {
			b.WriteString("per-market results:\n")
			for _, a := range rows {
				if a.TransactionCount == 0 {
					fmt.Fprintf(&b, "   %-40s no data\n", truncate(a.Market.Name, 40))
					continue
				}
				marker := " "
				if a.DeclineExceedsAverage {
					marker = "!"
				}
				fmt.Fprintf(&b, " %s %-40s avg %7.2f%%/d  24h %7.2f%%/d  vol $%s  apy %.2f%%\n",
					marker, truncate(a.Market.Name, 40),
					a.AverageDeclineRate, a.LatestDailyDeclineRate,
					formatNum(a.VolumeUSD), a.ImpliedAPY*100)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func formatNum(v float64) string {
	if v >= 1_000_000 {
		return fmt.Sprintf("%.2fM", v/1_000_000)
	}
	if v >= 1_000 {
		return addCommas(fmt.Sprintf("%.2f", math.Round(v*100)/100))
	}
	return fmt.Sprintf("%.2f", v)
}

func addCommas(s string) string {
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		if len(parts) == 2 {
			return intPart + "." + parts[1]
		}
		return intPart
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return string(result) + "." + parts[1]
	}
	return string(result)
}
