package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/web3-frozen/pendle-monitor/internal/analyzer"
	"github.com/web3-frozen/pendle-monitor/internal/monitor"
	"github.com/web3-frozen/pendle-monitor/internal/pendle"
)

type emptyGateway struct{}

func (emptyGateway) ActiveMarkets(context.Context) ([]pendle.Market, error) { return nil, nil }

func (emptyGateway) TransactionsPage(context.Context, pendle.PageRequest) (*pendle.TransactionsPage, error) {
	return &pendle.TransactionsPage{}, nil
}

func (emptyGateway) Stats() pendle.Stats { return pendle.Stats{} }

func testEngine(t *testing.T) *monitor.Engine {
	t.Helper()
	e := monitor.NewEngine(
		func(int) monitor.ChainGateway { return emptyGateway{} },
		analyzer.New(analyzer.DefaultPolicy), nil, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return e
}

func TestStatsHandlerNoData(t *testing.T) {
	handler := Stats(testEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestStatsHandlerAfterRun(t *testing.T) {
	engine := testEngine(t)
	if _, err := engine.RunChain(context.Background(), 1); err != nil {
		t.Fatalf("RunChain: %v", err)
	}

	handler := Stats(engine)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var runs []monitor.ChainSummary
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].ChainID != 1 {
		t.Errorf("runs = %+v, want one summary for chain 1", runs)
	}
}

func TestStatsHandlerChainFilter(t *testing.T) {
	engine := testEngine(t)
	if _, err := engine.RunChain(context.Background(), 1); err != nil {
		t.Fatalf("RunChain: %v", err)
	}

	handler := Stats(engine)

	req := httptest.NewRequest(http.MethodGet, "/api/stats?chain_id=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("chain_id=1 status = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats?chain_id=999", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("chain_id=999 status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats?chain_id=abc", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("chain_id=abc status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

type fakeTierCounter struct {
	counts map[string]int
	err    error
}

func (f *fakeTierCounter) CountTiers(context.Context, int) (map[string]int, error) {
	return f.counts, f.err
}

func TestTiersHandler(t *testing.T) {
	handler := Tiers(&fakeTierCounter{counts: map[string]int{"high_volume": 2, "low_volume": 7}})

	req := httptest.NewRequest(http.MethodGet, "/api/tiers?chain_id=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var counts map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&counts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if counts["low_volume"] != 7 {
		t.Errorf("counts = %v, want low_volume 7", counts)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tiers", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing chain_id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTiersHandlerStoreDown(t *testing.T) {
	handler := Tiers(&fakeTierCounter{err: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodGet, "/api/tiers?chain_id=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	Health()(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyWithoutStore(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	Ready(nil)(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
