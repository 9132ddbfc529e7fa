// Package store persists payment transactions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/shaparak/provider"
)

var (
	// ErrNotFound is returned for an unknown transaction id
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicateOrder is returned when a gateway already has the order id
	ErrDuplicateOrder = errors.New("order id already used for this gateway")
	// ErrConflict is returned when the record changed since it was loaded
	ErrConflict = errors.New("transaction was modified concurrently")
)

// Record is one stored transaction
type Record struct {
	ID        string                       `json:"id"`
	Gateway   string                       `json:"gateway"`
	Snapshot  provider.TransactionSnapshot `json:"transaction"`
	Version   int64                        `json:"-"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// Transaction rebuilds the live transaction of the record
func (r *Record) Transaction() *provider.BasicTransaction {
	return provider.RestoreTransaction(r.Snapshot)
}

// Transactions stores transaction snapshots
type Transactions struct {
	db  *sql.DB
	now func() time.Time
}

// NewTransactions creates the transactions table on db
func NewTransactions(db *sql.DB) (*Transactions, error) {
	s := &Transactions{db: db, now: time.Now}
	query := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		gateway TEXT NOT NULL,
		order_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(gateway, order_id)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(gateway, status);
	`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Create stores a new transaction under a generated id and returns its record
func (s *Transactions) Create(ctx context.Context, gateway string, txn *provider.BasicTransaction) (*Record, error) {
	return s.CreateWithID(ctx, uuid.New().String(), gateway, txn)
}

// CreateWithID stores a new transaction under id. The id is chosen by the
// caller when it must be known before the transaction exists, as in a
// callback URL.
func (s *Transactions) CreateWithID(ctx context.Context, id, gateway string, txn *provider.BasicTransaction) (*Record, error) {
	snap := txn.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	now := s.now().UTC()
	rec := &Record{
		ID:        id,
		Gateway:   gateway,
		Snapshot:  snap,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, gateway, order_id, status, snapshot, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		rec.ID, gateway, snap.GatewayOrderID, string(snap.Status), string(raw), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s order %d", ErrDuplicateOrder, gateway, snap.GatewayOrderID)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return rec, nil
}

// Get loads a transaction by id
func (s *Transactions) Get(ctx context.Context, id string) (*Record, error) {
	var (
		rec Record
		raw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, gateway, snapshot, version, created_at, updated_at
		FROM transactions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Gateway, &raw, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction %s: %w", id, err)
	}
	return &rec, nil
}

// Save writes the current state of txn into rec. It fails with ErrConflict
// when another writer saved rec after it was loaded.
func (s *Transactions) Save(ctx context.Context, rec *Record, txn *provider.BasicTransaction) error {
	snap := txn.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = ?, snapshot = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(snap.Status), string(raw), now, rec.ID, rec.Version)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, rec.ID)
	}

	rec.Snapshot = snap
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

// CountByStatus returns how many transactions of gateway are in each status
func (s *Transactions) CountByStatus(ctx context.Context, gateway string) (map[provider.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM transactions WHERE gateway = ? GROUP BY status`, gateway)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[provider.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[provider.Status(status)] = n
	}
	return counts, rows.Err()
}
