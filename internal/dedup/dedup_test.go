package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	c, err := New("redis://"+mr.Addr(), "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("New: %v", err)
	}
	return c, mr
}

func TestShouldNotifyNewMarket(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	if !c.ShouldNotify(ctx, 1, "0xabc") {
		t.Error("ShouldNotify should return true for a market never notified")
	}
}

func TestRecordSuppressesRepeat(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	c.RecordNotified(ctx, 1, "0xabc", "stETH Pool")

	if c.ShouldNotify(ctx, 1, "0xabc") {
		t.Error("ShouldNotify should return false after RecordNotified")
	}
	if !c.ShouldNotify(ctx, 42161, "0xabc") {
		t.Error("same address on another chain must not be suppressed")
	}
}

func TestRecordKeepsMarketName(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	c.RecordNotified(ctx, 1, "0xabc", "stETH Pool")

	got, err := mr.Get("notify:1:0xabc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "stETH Pool" {
		t.Errorf("entry value = %q, want market name", got)
	}

	// An empty name falls back to the address so the entry is never blank.
	c.RecordNotified(ctx, 1, "0xdef", "")
	got, err = mr.Get("notify:1:0xdef")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "0xdef" {
		t.Errorf("entry value = %q, want address fallback", got)
	}
}

func TestSuppressionExpires(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	c.RecordNotified(ctx, 1, "0xabc", "stETH Pool")

	mr.FastForward(DefaultTTL + time.Minute)

	if !c.ShouldNotify(ctx, 1, "0xabc") {
		t.Error("ShouldNotify should return true after the TTL elapses")
	}
}

func TestClear(t *testing.T) {
	c, mr := setupTestCache(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	c.RecordNotified(ctx, 1, "0xabc", "stETH Pool")

	if c.ShouldNotify(ctx, 1, "0xabc") {
		t.Fatal("should be suppressed after RecordNotified")
	}

	c.Clear(ctx, 1, "0xabc")
	if !c.ShouldNotify(ctx, 1, "0xabc") {
		t.Error("ShouldNotify should return true after Clear")
	}
}

func TestShouldNotifyFailOpen(t *testing.T) {
	c, mr := setupTestCache(t)
	defer c.Close()

	// Stop Redis to simulate failure
	mr.Close()

	ctx := context.Background()
	if !c.ShouldNotify(ctx, 1, "0xabc") {
		t.Error("ShouldNotify should return true (fail-open) when Redis is down")
	}
}
