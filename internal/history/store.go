// Package history persists the append-only withdrawal and verification
// logs in a local SQLite database. Both logs are capped: once a log
// exceeds its limit the oldest rows are pruned, keeping exports bounded.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	verifdomain "github.com/fd1az/chainguard/business/verification/domain"
	wddomain "github.com/fd1az/chainguard/business/withdrawal/domain"
)

const defaultLimit = 100

const schema = `
CREATE TABLE IF NOT EXISTS withdrawals (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL,
	chain         TEXT NOT NULL,
	destination   TEXT NOT NULL,
	amount        TEXT NOT NULL,
	risk          TEXT NOT NULL,
	status        TEXT NOT NULL,
	tx_hash       TEXT,
	gas_used      INTEGER,
	gas_price_wei TEXT,
	reason        TEXT,
	ts            TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS verifications (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_hash       TEXT NOT NULL,
	chain         TEXT NOT NULL,
	status        TEXT NOT NULL,
	block_number  INTEGER,
	confirmations INTEGER,
	gas_used      INTEGER,
	explorer_link TEXT,
	source        TEXT,
	reason        TEXT,
	verified_at   TIMESTAMP NOT NULL
);
`

// Store is the SQLite-backed history log. It serves both the withdrawal
// and verification history ports.
type Store struct {
	db    *sql.DB
	limit int
}

// Open creates or opens the database at path and applies the schema.
// limit caps each log; values below 1 fall back to the default of 100.
func Open(path string, limit int) (*Store, error) {
	if limit < 1 {
		limit = defaultLimit
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db, limit: limit}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendWithdrawal implements the withdrawal history port.
func (s *Store) AppendWithdrawal(ctx context.Context, rec wddomain.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawals (id, chain, destination, amount, risk, status, tx_hash, gas_used, gas_price_wei, reason, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Chain, rec.Destination, rec.Amount.String(), string(rec.Risk),
		string(rec.Status), rec.TxHash, rec.GasUsed, rec.GasPriceWei, rec.Reason, rec.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("append withdrawal: %w", err)
	}
	return s.prune(ctx, "withdrawals")
}

// RecentWithdrawals implements the withdrawal history port, newest first.
func (s *Store) RecentWithdrawals(ctx context.Context, limit int) ([]wddomain.Record, error) {
	if limit < 1 || limit > s.limit {
		limit = s.limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chain, destination, amount, risk, status, tx_hash, gas_used, gas_price_wei, reason, ts
		FROM withdrawals ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load withdrawals: %w", err)
	}
	defer rows.Close()

	var out []wddomain.Record
	for rows.Next() {
		var rec wddomain.Record
		var amount, risk, status string
		if err := rows.Scan(&rec.ID, &rec.Chain, &rec.Destination, &amount, &risk,
			&status, &rec.TxHash, &rec.GasUsed, &rec.GasPriceWei, &rec.Reason, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		rec.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse withdrawal amount: %w", err)
		}
		rec.Risk = wddomain.RiskLevel(risk)
		rec.Status = wddomain.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// WithdrawnSince implements the withdrawal history port. Only completed
// withdrawals count against the daily limit.
func (s *Store) WithdrawnSince(ctx context.Context, t time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT amount FROM withdrawals WHERE status = ? AND ts > ?`,
		string(wddomain.StatusCompleted), t.UTC())
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum withdrawals: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("scan withdrawal amount: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse withdrawal amount: %w", err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// LastWithdrawalAt implements the withdrawal history port.
func (s *Store) LastWithdrawalAt(ctx context.Context) (time.Time, error) {
	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(ts) FROM withdrawals WHERE status = ?`,
		string(wddomain.StatusCompleted)).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("load last withdrawal time: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// AppendVerification implements the verification history port.
func (s *Store) AppendVerification(ctx context.Context, res verifdomain.Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verifications (tx_hash, chain, status, block_number, confirmations, gas_used, explorer_link, source, reason, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.TxHash, res.Chain, string(res.Status), res.BlockNumber, res.Confirmations,
		res.GasUsed, res.ExplorerLink, res.Source, res.Reason, res.VerifiedAt.UTC())
	if err != nil {
		return fmt.Errorf("append verification: %w", err)
	}
	return s.prune(ctx, "verifications")
}

// RecentVerifications implements the verification history port, newest first.
func (s *Store) RecentVerifications(ctx context.Context, limit int) ([]verifdomain.Result, error) {
	if limit < 1 || limit > s.limit {
		limit = s.limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, chain, status, block_number, confirmations, gas_used, explorer_link, source, reason, verified_at
		FROM verifications ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load verifications: %w", err)
	}
	defer rows.Close()

	var out []verifdomain.Result
	for rows.Next() {
		var res verifdomain.Result
		var status string
		if err := rows.Scan(&res.TxHash, &res.Chain, &status, &res.BlockNumber, &res.Confirmations,
			&res.GasUsed, &res.ExplorerLink, &res.Source, &res.Reason, &res.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		res.Status = verifdomain.Status(status)
		out = append(out, res)
	}
	return out, rows.Err()
}

// prune drops the oldest rows beyond the cap.
func (s *Store) prune(ctx context.Context, table string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE seq <= (
			SELECT seq FROM %s ORDER BY seq DESC LIMIT 1 OFFSET ?
		)`, table, table), s.limit)
	if err != nil {
		return fmt.Errorf("prune %s: %w", table, err)
	}
	return nil
}
