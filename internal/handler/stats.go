package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/web3-frozen/pendle-monitor/internal/monitor"
)

// Stats serves the latest per-chain cycle summaries. An optional chain_id
// query parameter narrows the response to one chain.
func Stats(engine *monitor.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs := engine.LastRuns()
		if len(runs) == 0 {
			http.Error(w, `{"error":"no data available yet"}`, http.StatusServiceUnavailable)
			return
		}

		if v := r.URL.Query().Get("chain_id"); v != "" {
			chainID, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, `{"error":"invalid chain_id"}`, http.StatusBadRequest)
				return
			}
			for _, run := range runs {
				if run.ChainID == chainID {
					w.Header().Set("Content-Type", "application/json")
					_ = json.NewEncoder(w).Encode(run)
					return
				}
			}
			http.Error(w, `{"error":"no data for chain"}`, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(runs)
	}
}

// TierCounter reports how many markets sit in each tier for a chain.
type TierCounter interface {
	CountTiers(ctx context.Context, chainID int) (map[string]int, error)
}

// Tiers serves the per-tier market counts for one chain.
func Tiers(tc TierCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chainID, err := strconv.Atoi(r.URL.Query().Get("chain_id"))
		if err != nil {
			http.Error(w, `{"error":"invalid chain_id"}`, http.StatusBadRequest)
			return
		}

		counts, err := tc.CountTiers(r.Context(), chainID)
		if err != nil {
			http.Error(w, `{"error":"tier state unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(counts)
	}
}
