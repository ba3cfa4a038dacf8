package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fd1az/chainguard/business/verification/domain"
	"github.com/fd1az/chainguard/internal/apperror"
	"github.com/fd1az/chainguard/internal/gateway"
	"github.com/fd1az/chainguard/internal/logger"
	"github.com/fd1az/chainguard/internal/retry"
)

const testHash = "0xabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabc0"

// fakeSource is a scripted explorer source.
type fakeSource struct {
	name    string
	tx      *domain.Transaction
	receipt *domain.Receipt
	latest  uint64
	err     error
	calls   int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) TransactionByHash(ctx context.Context, chain, txHash string) (*domain.Transaction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

func (f *fakeSource) TransactionReceipt(ctx context.Context, chain, txHash string) (*domain.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

func (f *fakeSource) LatestBlockNumber(ctx context.Context, chain string) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.latest, nil
}

func (f *fakeSource) TxLink(chain, txHash string) string {
	return "https://scan.test/tx/" + txHash
}

func newTestVerifier(t *testing.T, cfg Config, sources ...ExplorerSource) *Verifier {
	t.Helper()
	gw, err := gateway.New[*domain.Result](gateway.Config{
		Name:  "explorer",
		Retry: retry.New(retry.WithAttempts(1)),
	}, logger.Nop())
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	v, err := NewVerifier(cfg, sources, gw, nil, logger.Nop())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func minedSource(name string, block, latest uint64) *fakeSource {
	return &fakeSource{
		name:    name,
		tx:      &domain.Transaction{Hash: testHash, BlockNumber: block},
		receipt: &domain.Receipt{TxHash: testHash, Status: true, BlockNumber: block, GasUsed: 21000},
		latest:  latest,
	}
}

func TestVerifySuccessfulTransaction(t *testing.T) {
	// Receipt in block 100, chain head at 101: exactly one confirmation.
	v := newTestVerifier(t, Config{MinConfirmations: 1}, minedSource("etherscan", 100, 101))

	res, err := v.Verify(context.Background(), "ethereum", testHash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != domain.StatusVerified {
		t.Errorf("status = %s, want %s", res.Status, domain.StatusVerified)
	}
	if res.Confirmations != 1 {
		t.Errorf("confirmations = %d, want 1", res.Confirmations)
	}
	if res.BlockNumber != 100 {
		t.Errorf("block = %d, want 100", res.BlockNumber)
	}
	if res.GasUsed != 21000 {
		t.Errorf("gasUsed = %d, want 21000", res.GasUsed)
	}
	if res.ExplorerLink == "" {
		t.Error("expected explorer link")
	}
	if res.Source != "etherscan" {
		t.Errorf("source = %q, want etherscan", res.Source)
	}
}

func TestVerifyStatuses(t *testing.T) {
	tests := []struct {
		name       string
		source     *fakeSource
		minConf    uint64
		wantStatus domain.Status
	}{
		{
			name:       "not_found_is_failed",
			source:     &fakeSource{name: "s"},
			minConf:    1,
			wantStatus: domain.StatusFailed,
		},
		{
			name: "mempool_is_pending",
			source: &fakeSource{
				name: "s",
				tx:   &domain.Transaction{Hash: testHash, BlockNumber: 0},
			},
			minConf:    1,
			wantStatus: domain.StatusPending,
		},
		{
			name: "missing_receipt_is_pending",
			source: &fakeSource{
				name:   "s",
				tx:     &domain.Transaction{Hash: testHash, BlockNumber: 100},
				latest: 105,
			},
			minConf:    1,
			wantStatus: domain.StatusPending,
		},
		{
			name: "reverted_is_failed",
			source: &fakeSource{
				name:    "s",
				tx:      &domain.Transaction{Hash: testHash, BlockNumber: 100},
				receipt: &domain.Receipt{TxHash: testHash, Status: false, BlockNumber: 100},
				latest:  105,
			},
			minConf:    1,
			wantStatus: domain.StatusFailed,
		},
		{
			name:       "insufficient_confirmations_is_pending",
			source:     minedSource("s", 100, 102),
			minConf:    5,
			wantStatus: domain.StatusPending,
		},
		{
			name:       "deep_enough_is_verified",
			source:     minedSource("s", 100, 110),
			minConf:    5,
			wantStatus: domain.StatusVerified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(t, Config{MinConfirmations: tt.minConf}, tt.source)
			res, err := v.Verify(context.Background(), "ethereum", testHash)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s (reason: %s)", res.Status, tt.wantStatus, res.Reason)
			}
		})
	}
}

func TestVerifyRejectsMalformedHashBeforeNetwork(t *testing.T) {
	source := minedSource("s", 100, 101)
	v := newTestVerifier(t, Config{}, source)

	for _, hash := range []string{"", "0x123", "abc", "0xZZcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabcabc"} {
		_, err := v.Verify(context.Background(), "ethereum", hash)
		if apperror.CodeOf(err) != apperror.CodeInvalidTxHash {
			t.Errorf("hash %q: code = %s, want %s", hash, apperror.CodeOf(err), apperror.CodeInvalidTxHash)
		}
	}
	if source.calls != 0 {
		t.Errorf("source called %d times for invalid hashes, want 0", source.calls)
	}
}

func TestVerifyCachesResult(t *testing.T) {
	source := minedSource("s", 100, 101)
	gw, err := gateway.New[*domain.Result](gateway.Config{
		Name:          "explorer",
		Retry:         retry.New(retry.WithAttempts(1)),
		CacheCapacity: 10,
	}, logger.Nop())
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	v, err := NewVerifier(Config{CacheTTL: time.Minute}, []ExplorerSource{source}, gw, nil, logger.Nop())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), "ethereum", testHash); err != nil {
			t.Fatalf("Verify %d: %v", i+1, err)
		}
	}
	if source.calls != 1 {
		t.Errorf("source called %d times, want 1 (cache should serve repeats)", source.calls)
	}
}

func TestConsensusAgreement(t *testing.T) {
	a := minedSource("etherscan", 100, 101)
	b := minedSource("blockscout", 100, 101)
	v := newTestVerifier(t, Config{MinConfirmations: 1}, a, b)

	out, err := v.VerifyWithConsensus(context.Background(), "ethereum", testHash)
	if err != nil {
		t.Fatalf("VerifyWithConsensus: %v", err)
	}
	if !out.Consensus {
		t.Fatalf("consensus = false, discrepancies: %+v", out.Discrepancies)
	}
	if out.Result.Status != domain.StatusVerified {
		t.Errorf("status = %s, want VERIFIED", out.Result.Status)
	}
	if len(out.Sources) != 2 {
		t.Errorf("sources = %v, want both", out.Sources)
	}
}

func TestConsensusStatusMismatch(t *testing.T) {
	// Same hash and block, different status: both sources found the tx but
	// their verdicts disagree, so the result must not be trusted.
	a := minedSource("etherscan", 100, 110)
	b := &fakeSource{
		name:    "blockscout",
		tx:      &domain.Transaction{Hash: testHash, BlockNumber: 100},
		receipt: &domain.Receipt{TxHash: testHash, Status: false, BlockNumber: 100},
		latest:  110,
	}
	v := newTestVerifier(t, Config{MinConfirmations: 1}, a, b)

	out, err := v.VerifyWithConsensus(context.Background(), "ethereum", testHash)
	if err != nil {
		t.Fatalf("VerifyWithConsensus: %v", err)
	}
	if out.Consensus {
		t.Fatal("consensus = true, want false on status mismatch")
	}
	if out.Result.Status != domain.StatusUnverified {
		t.Errorf("status = %s, want UNVERIFIED", out.Result.Status)
	}

	found := false
	for _, d := range out.Discrepancies {
		if d.Field == "status" {
			found = true
			if len(d.Values) != 2 {
				t.Errorf("discrepancy values = %v, want both sources", d.Values)
			}
		}
	}
	if !found {
		t.Errorf("no status discrepancy recorded: %+v", out.Discrepancies)
	}
}

func TestConsensusBlockNumberMismatch(t *testing.T) {
	a := minedSource("etherscan", 100, 110)
	b := minedSource("blockscout", 101, 110)
	v := newTestVerifier(t, Config{MinConfirmations: 1}, a, b)

	out, err := v.VerifyWithConsensus(context.Background(), "ethereum", testHash)
	if err != nil {
		t.Fatalf("VerifyWithConsensus: %v", err)
	}
	if out.Consensus {
		t.Fatal("consensus = true, want false on block mismatch")
	}
}

func TestConsensusSourceUnavailable(t *testing.T) {
	a := minedSource("etherscan", 100, 110)
	b := &fakeSource{name: "blockscout", err: apperror.New(apperror.CodeNetworkError)}
	v := newTestVerifier(t, Config{MinConfirmations: 1}, a, b)

	out, err := v.VerifyWithConsensus(context.Background(), "ethereum", testHash)
	if err != nil {
		t.Fatalf("VerifyWithConsensus: %v", err)
	}
	if out.Consensus {
		t.Error("consensus must be false when a source cannot answer")
	}
}

func TestBatchVerifyIsSequentialAndComplete(t *testing.T) {
	source := minedSource("s", 100, 110)
	v := newTestVerifier(t, Config{MinConfirmations: 1}, source)

	hashes := []string{
		"0x" + strings.Repeat("a", 64),
		"0x" + strings.Repeat("b", 64),
		"bad-hash",
	}
	out, err := v.BatchVerify(context.Background(), "ethereum", hashes)
	if err != nil {
		t.Fatalf("BatchVerify: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("results = %d, want 3", len(out))
	}
	if out[hashes[0]].Status != domain.StatusVerified {
		t.Errorf("first = %s, want VERIFIED", out[hashes[0]].Status)
	}
	if out["bad-hash"].Status != domain.StatusFailed {
		t.Errorf("invalid hash = %s, want FAILED", out["bad-hash"].Status)
	}
}

func TestAuthenticityThreshold(t *testing.T) {
	v := newTestVerifier(t, Config{AuthenticityThreshold: 0.80}, minedSource("s", 1, 2))

	sample := func(verified, total int) []domain.Result {
		out := make([]domain.Result, 0, total)
		for i := 0; i < total; i++ {
			status := domain.StatusFailed
			if i < verified {
				status = domain.StatusVerified
			}
			out = append(out, domain.Result{Status: status})
		}
		return out
	}

	tests := []struct {
		name      string
		verified  int
		total     int
		wantRatio float64
		wantLive  bool
	}{
		{"all_verified", 10, 10, 1.0, true},
		{"exactly_threshold", 8, 10, 0.8, true},
		{"below_threshold", 7, 10, 0.7, false},
		{"empty_sample", 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratio, live := v.Authenticity(sample(tt.verified, tt.total))
			if ratio != tt.wantRatio || live != tt.wantLive {
				t.Errorf("Authenticity = (%v, %v), want (%v, %v)", ratio, live, tt.wantRatio, tt.wantLive)
			}
		})
	}
}
