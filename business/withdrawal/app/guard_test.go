package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/chainguard/business/withdrawal/domain"
	"github.com/fd1az/chainguard/internal/apperror"
	"github.com/fd1az/chainguard/internal/gateway"
	"github.com/fd1az/chainguard/internal/logger"
	"github.com/fd1az/chainguard/internal/retry"
)

const (
	goodAddr   = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
	bannedAddr = "0x000000000000000000000000000000000000dEaD"
)

type fakeSender struct {
	balance  decimal.Decimal
	receipt  *SendReceipt
	sendErr  error
	sent     int
	balCalls int
}

func (f *fakeSender) Balance(ctx context.Context, chain string) (decimal.Decimal, error) {
	f.balCalls++
	return f.balance, nil
}

func (f *fakeSender) Send(ctx context.Context, chain, destination string, amount decimal.Decimal) (*SendReceipt, error) {
	f.sent++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.receipt, nil
}

type fakeHistory struct {
	records   []domain.Record
	withdrawn decimal.Decimal
	lastAt    time.Time
}

func (f *fakeHistory) AppendWithdrawal(ctx context.Context, rec domain.Record) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistory) RecentWithdrawals(ctx context.Context, limit int) ([]domain.Record, error) {
	return f.records, nil
}

func (f *fakeHistory) WithdrawnSince(ctx context.Context, t time.Time) (decimal.Decimal, error) {
	return f.withdrawn, nil
}

func (f *fakeHistory) LastWithdrawalAt(ctx context.Context) (time.Time, error) {
	return f.lastAt, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestGuard(t *testing.T, cfg Config, sender *fakeSender, hist *fakeHistory) *Guard {
	t.Helper()
	if cfg.DailyLimit.IsZero() {
		cfg.DailyLimit = dec("10")
	}
	balanceGW, err := gateway.New[decimal.Decimal](gateway.Config{
		Name:  "balances",
		Retry: retry.New(retry.WithAttempts(1)),
	}, logger.Nop())
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	sendGW, err := gateway.New[*SendReceipt](gateway.Config{
		Name:  "withdrawals",
		Retry: retry.New(retry.WithAttempts(1)),
	}, logger.Nop())
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	g, err := NewGuard(cfg, sender, hist, balanceGW, sendGW, logger.Nop())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return g
}

func TestValidationOrder(t *testing.T) {
	tests := []struct {
		name       string
		dest       string
		amount     string
		balance    string
		withdrawn  string
		lastAt     time.Time
		wantValid  bool
		wantReason string
	}{
		{
			// Invalid address and insufficient balance together: the
			// address error must win.
			name:       "invalid_address_beats_balance",
			dest:       "not-an-address",
			amount:     "100",
			balance:    "1",
			wantReason: "invalid destination address",
		},
		{
			name:       "blacklisted_destination",
			dest:       bannedAddr,
			amount:     "1",
			balance:    "100",
			wantReason: "blacklisted",
		},
		{
			name:       "non_positive_amount",
			dest:       goodAddr,
			amount:     "0",
			balance:    "100",
			wantReason: "must be positive",
		},
		{
			name:       "exceeds_balance",
			dest:       goodAddr,
			amount:     "101",
			balance:    "100",
			wantReason: "exceeds available balance",
		},
		{
			name:       "daily_limit",
			dest:       goodAddr,
			amount:     "5",
			balance:    "100",
			withdrawn:  "8",
			wantReason: "daily limit",
		},
		{
			name:       "minimum_interval",
			dest:       goodAddr,
			amount:     "1",
			balance:    "100",
			lastAt:     time.Now().Add(-10 * time.Minute),
			wantReason: "minimum interval",
		},
		{
			name:      "valid_request",
			dest:      goodAddr,
			amount:    "1",
			balance:   "100",
			lastAt:    time.Now().Add(-2 * time.Hour),
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist := &fakeHistory{lastAt: tt.lastAt}
			if tt.withdrawn != "" {
				hist.withdrawn = dec(tt.withdrawn)
			}
			g := newTestGuard(t, Config{
				MinInterval: time.Hour,
				Blacklist:   []string{bannedAddr},
			}, &fakeSender{balance: dec(tt.balance)}, hist)

			v, err := g.Validate(context.Background(), domain.Request{
				Chain:       "ethereum",
				Destination: tt.dest,
				Amount:      dec(tt.amount),
			}, dec(tt.balance))
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if v.Valid != tt.wantValid {
				t.Fatalf("valid = %v, want %v (reason %q)", v.Valid, tt.wantValid, v.Reason)
			}
			if !tt.wantValid && !strings.Contains(v.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want it to mention %q", v.Reason, tt.wantReason)
			}
		})
	}
}

func TestRiskLevels(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		balance string
		want    domain.RiskLevel
	}{
		{"small_fraction", "1", "100", domain.RiskLow},
		{"exactly_quarter", "25", "100", domain.RiskLow},
		{"just_over_quarter", "26", "100", domain.RiskMedium},
		{"exactly_half", "50", "100", domain.RiskMedium},
		{"just_over_half", "51", "100", domain.RiskHigh},
		{"entire_balance", "100", "100", domain.RiskHigh},
		{"zero_balance", "1", "0", domain.RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.RiskFor(dec(tt.amount), dec(tt.balance))
			if got != tt.want {
				t.Errorf("RiskFor(%s, %s) = %s, want %s", tt.amount, tt.balance, got, tt.want)
			}
		})
	}
}

func TestExecuteRecordsCompletedWithdrawal(t *testing.T) {
	hist := &fakeHistory{lastAt: time.Now().Add(-2 * time.Hour)}
	sender := &fakeSender{
		balance: dec("100"),
		receipt: &SendReceipt{TxHash: "0xbeef", GasUsed: 21000, GasPriceWei: "25000000000"},
	}
	g := newTestGuard(t, Config{MinInterval: time.Hour}, sender, hist)

	rec, err := g.Execute(context.Background(), domain.Request{
		Chain:       "ethereum",
		Destination: goodAddr,
		Amount:      dec("2"),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", rec.Status)
	}
	if rec.TxHash != "0xbeef" || rec.GasUsed != 21000 {
		t.Errorf("receipt not captured: %+v", rec)
	}
	if rec.Risk != domain.RiskLow {
		t.Errorf("risk = %s, want LOW", rec.Risk)
	}
	if len(hist.records) != 1 || hist.records[0].Status != domain.StatusCompleted {
		t.Errorf("history = %+v, want one completed record", hist.records)
	}
}

func TestExecuteRejectsInvalidWithoutSending(t *testing.T) {
	hist := &fakeHistory{}
	sender := &fakeSender{balance: dec("1")}
	g := newTestGuard(t, Config{MinInterval: time.Hour}, sender, hist)

	_, err := g.Execute(context.Background(), domain.Request{
		Chain:       "ethereum",
		Destination: goodAddr,
		Amount:      dec("5"),
	})
	if apperror.CodeOf(err) != apperror.CodeInsufficientBalance {
		t.Fatalf("code = %s, want %s", apperror.CodeOf(err), apperror.CodeInsufficientBalance)
	}
	if sender.sent != 0 {
		t.Errorf("sender called %d times, want 0", sender.sent)
	}
	if len(hist.records) != 0 {
		t.Errorf("rejected request must not reach history: %+v", hist.records)
	}
}

func TestExecuteRecordsFailedSend(t *testing.T) {
	hist := &fakeHistory{lastAt: time.Now().Add(-2 * time.Hour)}
	sender := &fakeSender{
		balance: dec("100"),
		sendErr: apperror.New(apperror.CodeRPCError),
	}
	g := newTestGuard(t, Config{MinInterval: time.Hour}, sender, hist)

	rec, err := g.Execute(context.Background(), domain.Request{
		Chain:       "ethereum",
		Destination: goodAddr,
		Amount:      dec("2"),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if rec.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", rec.Status)
	}
	if len(hist.records) != 1 || hist.records[0].Status != domain.StatusFailed {
		t.Errorf("history = %+v, want one failed record", hist.records)
	}
}

func TestScheduleDelayBounds(t *testing.T) {
	g := newTestGuard(t, Config{
		MinInterval: time.Hour,
		MinDelay:    10 * time.Minute,
		MaxDelay:    30 * time.Minute,
	}, &fakeSender{balance: dec("100")}, &fakeHistory{})

	for i := 0; i < 100; i++ {
		d := g.ScheduleDelay()
		if d < 10*time.Minute || d > 30*time.Minute {
			t.Fatalf("delay %v outside [10m, 30m]", d)
		}
	}
}

func TestScheduleDelayFloor(t *testing.T) {
	// Delays configured below the floor are raised to five minutes.
	g := newTestGuard(t, Config{
		MinInterval: time.Hour,
		MinDelay:    time.Second,
		MaxDelay:    2 * time.Second,
	}, &fakeSender{balance: dec("100")}, &fakeHistory{})

	for i := 0; i < 20; i++ {
		if d := g.ScheduleDelay(); d < 5*time.Minute {
			t.Fatalf("delay %v below the 5 minute floor", d)
		}
	}
}

func TestSenderPoolRoutesByChain(t *testing.T) {
	ethSender := &fakeSender{balance: dec("100"), receipt: &SendReceipt{TxHash: "0xeth"}}
	polySender := &fakeSender{balance: dec("50"), receipt: &SendReceipt{TxHash: "0xpoly"}}
	pool := SenderPool{"ethereum": ethSender, "polygon": polySender}

	bal, err := pool.Balance(context.Background(), "polygon")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Equal(dec("50")) {
		t.Errorf("balance = %s, want 50", bal)
	}
	if ethSender.balCalls != 0 || polySender.balCalls != 1 {
		t.Errorf("balance calls = eth %d / poly %d, want 0 / 1", ethSender.balCalls, polySender.balCalls)
	}

	rcpt, err := pool.Send(context.Background(), "ethereum", goodAddr, dec("1"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rcpt.TxHash != "0xeth" {
		t.Errorf("txHash = %q, want 0xeth", rcpt.TxHash)
	}
	if ethSender.sent != 1 || polySender.sent != 0 {
		t.Errorf("sends = eth %d / poly %d, want 1 / 0", ethSender.sent, polySender.sent)
	}

	if _, err := pool.Send(context.Background(), "solana", goodAddr, dec("1")); apperror.CodeOf(err) != apperror.CodeUnsupportedChain {
		t.Errorf("code = %s, want %s", apperror.CodeOf(err), apperror.CodeUnsupportedChain)
	}
	if _, err := pool.Balance(context.Background(), "solana"); apperror.CodeOf(err) != apperror.CodeUnsupportedChain {
		t.Errorf("code = %s, want %s", apperror.CodeOf(err), apperror.CodeUnsupportedChain)
	}
	if ethSender.sent != 1 || polySender.sent != 0 {
		t.Errorf("unknown chain must reach no sender: eth %d / poly %d", ethSender.sent, polySender.sent)
	}
}
