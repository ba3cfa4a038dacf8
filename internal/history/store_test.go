package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	verifdomain "github.com/fd1az/chainguard/business/verification/domain"
	wddomain "github.com/fd1az/chainguard/business/withdrawal/domain"
)

func openTestStore(t *testing.T, limit int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), limit)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func withdrawalAt(id string, amount string, status wddomain.Status, ts time.Time) wddomain.Record {
	return wddomain.Record{
		ID:          id,
		Chain:       "ethereum",
		Destination: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
		Amount:      decimal.RequireFromString(amount),
		Risk:        wddomain.RiskLow,
		Status:      status,
		Timestamp:   ts,
	}
}

func TestWithdrawalRoundTrip(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	rec := withdrawalAt("w-1", "1.25", wddomain.StatusCompleted, time.Now())
	rec.TxHash = "0xabc"
	rec.GasUsed = 21000
	rec.GasPriceWei = "30000000000"

	if err := s.AppendWithdrawal(ctx, rec); err != nil {
		t.Fatalf("AppendWithdrawal: %v", err)
	}

	got, err := s.RecentWithdrawals(ctx, 10)
	if err != nil {
		t.Fatalf("RecentWithdrawals: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	r := got[0]
	if r.ID != "w-1" || r.TxHash != "0xabc" || r.GasUsed != 21000 {
		t.Errorf("record = %+v", r)
	}
	if !r.Amount.Equal(decimal.RequireFromString("1.25")) {
		t.Errorf("amount = %s, want 1.25", r.Amount)
	}
	if r.Status != wddomain.StatusCompleted || r.Risk != wddomain.RiskLow {
		t.Errorf("status = %s, risk = %s", r.Status, r.Risk)
	}
}

func TestRecentWithdrawalsNewestFirst(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		rec := withdrawalAt(fmt.Sprintf("w-%d", i), "1", wddomain.StatusCompleted, time.Now())
		if err := s.AppendWithdrawal(ctx, rec); err != nil {
			t.Fatalf("AppendWithdrawal %d: %v", i, err)
		}
	}

	got, err := s.RecentWithdrawals(ctx, 2)
	if err != nil {
		t.Fatalf("RecentWithdrawals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].ID != "w-3" || got[1].ID != "w-2" {
		t.Errorf("order = %s, %s; want w-3, w-2", got[0].ID, got[1].ID)
	}
}

func TestWithdrawnSinceCountsOnlyCompleted(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()
	now := time.Now()

	appends := []wddomain.Record{
		withdrawalAt("old", "100", wddomain.StatusCompleted, now.Add(-48*time.Hour)),
		withdrawalAt("recent-1", "3", wddomain.StatusCompleted, now.Add(-2*time.Hour)),
		withdrawalAt("recent-2", "4.5", wddomain.StatusCompleted, now.Add(-1*time.Hour)),
		withdrawalAt("failed", "50", wddomain.StatusFailed, now.Add(-1*time.Hour)),
	}
	for _, rec := range appends {
		if err := s.AppendWithdrawal(ctx, rec); err != nil {
			t.Fatalf("AppendWithdrawal %s: %v", rec.ID, err)
		}
	}

	total, err := s.WithdrawnSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("WithdrawnSince: %v", err)
	}
	if want := decimal.RequireFromString("7.5"); !total.Equal(want) {
		t.Errorf("total = %s, want %s", total, want)
	}
}

func TestLastWithdrawalAt(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	last, err := s.LastWithdrawalAt(ctx)
	if err != nil {
		t.Fatalf("LastWithdrawalAt: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("empty log last = %v, want zero time", last)
	}

	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := s.AppendWithdrawal(ctx, withdrawalAt("w-1", "1", wddomain.StatusCompleted, ts)); err != nil {
		t.Fatalf("AppendWithdrawal: %v", err)
	}
	// A later failed attempt must not move the interval clock.
	if err := s.AppendWithdrawal(ctx, withdrawalAt("w-2", "1", wddomain.StatusFailed, ts.Add(time.Hour))); err != nil {
		t.Fatalf("AppendWithdrawal: %v", err)
	}

	last, err = s.LastWithdrawalAt(ctx)
	if err != nil {
		t.Fatalf("LastWithdrawalAt: %v", err)
	}
	if !last.Equal(ts) {
		t.Errorf("last = %v, want %v", last, ts)
	}
}

func TestWithdrawalLogPrunesToLimit(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		rec := withdrawalAt(fmt.Sprintf("w-%d", i), "1", wddomain.StatusCompleted, time.Now())
		if err := s.AppendWithdrawal(ctx, rec); err != nil {
			t.Fatalf("AppendWithdrawal %d: %v", i, err)
		}
	}

	got, err := s.RecentWithdrawals(ctx, 100)
	if err != nil {
		t.Fatalf("RecentWithdrawals: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("records = %d, want 5 after pruning", len(got))
	}
	if got[0].ID != "w-8" || got[4].ID != "w-4" {
		t.Errorf("kept %s..%s, want w-8..w-4", got[0].ID, got[4].ID)
	}
}

func TestVerificationRoundTrip(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	res := verifdomain.Result{
		TxHash:        "0x" + "ab",
		Chain:         "ethereum",
		Status:        verifdomain.StatusVerified,
		BlockNumber:   12345,
		Confirmations: 12,
		GasUsed:       21000,
		ExplorerLink:  "https://etherscan.io/tx/0xab",
		Source:        "etherscan",
		VerifiedAt:    time.Now(),
	}
	if err := s.AppendVerification(ctx, res); err != nil {
		t.Fatalf("AppendVerification: %v", err)
	}

	got, err := s.RecentVerifications(ctx, 10)
	if err != nil {
		t.Fatalf("RecentVerifications: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("results = %d, want 1", len(got))
	}
	r := got[0]
	if r.Status != verifdomain.StatusVerified || r.BlockNumber != 12345 || r.Confirmations != 12 {
		t.Errorf("result = %+v", r)
	}
	if r.Source != "etherscan" || r.ExplorerLink != res.ExplorerLink {
		t.Errorf("source = %s, link = %s", r.Source, r.ExplorerLink)
	}
}
