// Package store persists swap records over Postgres and is the single point
// where the swap status machine is enforced: every status-changing query
// predicates its UPDATE on the expected current status, so a duplicate
// delivery affects zero rows instead of corrupting state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/riftresearch/cbbtc-swapd/pkg/logging"
)

// Status is the swap's position in the state machine of spec §3.2.
type Status string

const (
	StatusPendingDeposit Status = "pending_deposit"
	StatusExecuting      Status = "executing"
	StatusComplete       Status = "complete"
	StatusFailed         Status = "failed"
	StatusExpired        Status = "expired"
	StatusRefundPending  Status = "refund_pending"
	StatusRefunded       Status = "refunded"
)

// IsTerminal reports whether a swap in this status can never transition again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusExpired, StatusRefunded:
		return true
	default:
		return false
	}
}

// ErrNotFound is returned when a lookup by id or vault address finds nothing.
var ErrNotFound = errors.New("swap not found")

// ErrNoProgress is returned when a status-gated UPDATE affects zero rows —
// the store-level name for the StateConflict error kind: another worker
// already advanced this swap, or it never existed.
var ErrNoProgress = errors.New("no progress: status-gated update affected no rows")

// Swap is the persisted record described by spec §3.1.
type Swap struct {
	SwapID           string
	ChainID          uint64
	VaultAddress     string
	VaultSalt        string // hex-encoded, 32 bytes
	SellToken        string // serialized token descriptor (always CBBTC on ChainID)
	BuyToken         string // serialized token descriptor
	RecipientAddress string
	RefundAddress    string
	Status           Status
	CreatedAt        time.Time
	ExpiresAt        time.Time
	UpdatedAt        time.Time

	DepositTxHash sql.NullString
	DepositAmount *big.Int

	CowOrderUID sql.NullString
	OrderStatus sql.NullString

	SettlementTxHash sql.NullString
	ActualBuyAmount  *big.Int

	FailureReason sql.NullString

	RefundTxHash sql.NullString
	RefundAmount *big.Int
}

// StatusCount is one row of the SettlementPoller's gauge refresh query.
type StatusCount struct {
	ChainID uint64
	Status  Status
	Count   int64
}

// Store is the transactional persistence layer for swap records.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// Open connects to databaseURL (a postgres:// DSN), applies any pending
// embedded migrations, and returns a ready Store.
func Open(ctx context.Context, databaseURL string, log *logging.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if log == nil {
		log = logging.Default()
	}
	s := &Store{db: db, log: log}
	if err := runMigrations(ctx, db, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw connection pool for callers (e.g. tests) that need it.
func (s *Store) DB() *sql.DB { return s.db }

func numericString(n *big.Int) *string {
	if n == nil {
		return nil
	}
	v := n.String()
	return &v
}

func parseNumeric(s sql.NullString) *big.Int {
	if !s.Valid || s.String == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil
	}
	return v
}

// Create inserts a new swap row in pending_deposit status.
func (s *Store) Create(ctx context.Context, sw *Swap) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swaps (
			swap_id, chain_id, vault_address, vault_salt, sell_token, buy_token,
			recipient_address, refund_address, status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sw.SwapID, sw.ChainID, sw.VaultAddress, sw.VaultSalt, sw.SellToken, sw.BuyToken,
		sw.RecipientAddress, sw.RefundAddress, StatusPendingDeposit, sw.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert swap: %w", err)
	}
	return nil
}

const selectSwapColumns = `
	swap_id, chain_id, vault_address, vault_salt, sell_token, buy_token,
	recipient_address, refund_address, status, created_at, expires_at, updated_at,
	deposit_tx_hash, deposit_amount, cow_order_uid, order_status,
	settlement_tx_hash, actual_buy_amount, failure_reason,
	refund_tx_hash, refund_amount
`

func scanSwap(row interface {
	Scan(dest ...any) error
}) (*Swap, error) {
	var sw Swap
	var depositAmount, actualBuyAmount, refundAmount sql.NullString

	if err := row.Scan(
		&sw.SwapID, &sw.ChainID, &sw.VaultAddress, &sw.VaultSalt, &sw.SellToken, &sw.BuyToken,
		&sw.RecipientAddress, &sw.RefundAddress, &sw.Status, &sw.CreatedAt, &sw.ExpiresAt, &sw.UpdatedAt,
		&sw.DepositTxHash, &depositAmount, &sw.CowOrderUID, &sw.OrderStatus,
		&sw.SettlementTxHash, &actualBuyAmount, &sw.FailureReason,
		&sw.RefundTxHash, &refundAmount,
	); err != nil {
		return nil, err
	}
	sw.DepositAmount = parseNumeric(depositAmount)
	sw.ActualBuyAmount = parseNumeric(actualBuyAmount)
	sw.RefundAmount = parseNumeric(refundAmount)
	return &sw, nil
}

// ByID looks up a swap by its primary key.
func (s *Store) ByID(ctx context.Context, swapID string) (*Swap, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectSwapColumns+` FROM swaps WHERE swap_id = $1`, swapID)
	sw, err := scanSwap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query swap by id: %w", err)
	}
	return sw, nil
}

// ByVault looks up a swap by its unique vault address.
func (s *Store) ByVault(ctx context.Context, vaultAddress string) (*Swap, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectSwapColumns+` FROM swaps WHERE vault_address = $1`, vaultAddress)
	sw, err := scanSwap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query swap by vault: %w", err)
	}
	return sw, nil
}

// PendingByChain returns pending_deposit rows on chainID that have not yet expired.
func (s *Store) PendingByChain(ctx context.Context, chainID uint64) ([]*Swap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectSwapColumns+` FROM swaps
		WHERE chain_id = $1 AND status = $2 AND expires_at > now()
	`, chainID, StatusPendingDeposit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending swaps: %w", err)
	}
	defer rows.Close()
	return collectSwaps(rows)
}

// Executing returns every row currently in the executing status.
func (s *Store) Executing(ctx context.Context) ([]*Swap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectSwapColumns+` FROM swaps WHERE status = $1`, StatusExecuting)
	if err != nil {
		return nil, fmt.Errorf("failed to query executing swaps: %w", err)
	}
	defer rows.Close()
	return collectSwaps(rows)
}

func collectSwaps(rows *sql.Rows) ([]*Swap, error) {
	var out []*Swap
	for rows.Next() {
		sw, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

// MarkExecuting transitions pending_deposit -> executing. Returns
// ErrNoProgress if the row was not in pending_deposit (duplicate dispatch).
func (s *Store) MarkExecuting(ctx context.Context, swapID string) error {
	return s.gatedUpdate(ctx, `
		UPDATE swaps SET status = $1, updated_at = now()
		WHERE swap_id = $2 AND status = $3
	`, StatusExecuting, swapID, StatusPendingDeposit)
}

// RecordDeposit persists the observed deposit before the executing transition.
func (s *Store) RecordDeposit(ctx context.Context, swapID, depositTxHash string, depositAmount *big.Int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE swaps SET deposit_tx_hash = $1, deposit_amount = $2, updated_at = now()
		WHERE swap_id = $3
	`, nullableString(depositTxHash), numericString(depositAmount), swapID)
	if err != nil {
		return fmt.Errorf("failed to record deposit: %w", err)
	}
	return requireRows(res)
}

// SaveOrderUID persists the orderbook-assigned UID and sets order_status=OPEN.
func (s *Store) SaveOrderUID(ctx context.Context, swapID, uid string) error {
	return s.gatedUpdate(ctx, `
		UPDATE swaps SET cow_order_uid = $1, order_status = 'OPEN', updated_at = now()
		WHERE swap_id = $2 AND status = $3
	`, uid, swapID, StatusExecuting)
}

// MarkFailed transitions executing -> failed, recording reason.
func (s *Store) MarkFailed(ctx context.Context, swapID, reason string) error {
	return s.gatedUpdate(ctx, `
		UPDATE swaps SET status = $1, failure_reason = $2, updated_at = now()
		WHERE swap_id = $3 AND status = $4
	`, StatusFailed, reason, swapID, StatusExecuting)
}

// MarkNeedsRefund transitions executing -> refund_pending, recording reason.
func (s *Store) MarkNeedsRefund(ctx context.Context, swapID, reason string) error {
	return s.gatedUpdate(ctx, `
		UPDATE swaps SET status = $1, failure_reason = $2, updated_at = now()
		WHERE swap_id = $3 AND status = $4
	`, StatusRefundPending, reason, swapID, StatusExecuting)
}

// UpdateOrderStatus applies an order status observation from the orderbook.
// FULFILLED moves the swap to complete (requiring txHash/buyAmount);
// EXPIRED/CANCELLED move it to refund_pending; OPEN/PRESIGNATURE_PENDING
// persist the sub-status with no state-machine transition.
func (s *Store) UpdateOrderStatus(ctx context.Context, swapID, orderStatus, txHash string, buyAmount *big.Int) error {
	switch orderStatus {
	case "FULFILLED":
		res, err := s.db.ExecContext(ctx, `
			UPDATE swaps SET
				status = $1, order_status = $2, settlement_tx_hash = $3,
				actual_buy_amount = $4, updated_at = now()
			WHERE swap_id = $5 AND status = $6
		`, StatusComplete, orderStatus, txHash, numericString(buyAmount), swapID, StatusExecuting)
		if err != nil {
			return fmt.Errorf("failed to update order status to FULFILLED: %w", err)
		}
		return requireRows(res)
	case "EXPIRED", "CANCELLED":
		reason := "order expired without fill"
		if orderStatus == "CANCELLED" {
			reason = "order cancelled"
		}
		res, err := s.db.ExecContext(ctx, `
			UPDATE swaps SET status = $1, order_status = $2, failure_reason = $3, updated_at = now()
			WHERE swap_id = $4 AND status = $5
		`, StatusRefundPending, orderStatus, reason, swapID, StatusExecuting)
		if err != nil {
			return fmt.Errorf("failed to update order status to %s: %w", orderStatus, err)
		}
		return requireRows(res)
	default: // OPEN, PRESIGNATURE_PENDING
		res, err := s.db.ExecContext(ctx, `
			UPDATE swaps SET order_status = $1, updated_at = now()
			WHERE swap_id = $2 AND status = $3 AND (order_status IS DISTINCT FROM $1)
		`, orderStatus, swapID, StatusExecuting)
		if err != nil {
			return fmt.Errorf("failed to update order sub-status: %w", err)
		}
		// A no-op here legitimately means "unchanged", not a conflict.
		_, err = res.RowsAffected()
		return err
	}
}

// ExpireOverdue bulk-transitions pending_deposit rows whose expiry has
// passed, returning the number of rows moved.
func (s *Store) ExpireOverdue(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE swaps SET status = $1, updated_at = now()
		WHERE status = $2 AND expires_at < now()
	`, StatusExpired, StatusPendingDeposit)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue swaps: %w", err)
	}
	return res.RowsAffected()
}

// CountsByStatusAndChain aggregates row counts for the settlement gauge refresh.
func (s *Store) CountsByStatusAndChain(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, status, COUNT(*) FROM swaps GROUP BY chain_id, status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count swaps by status: %w", err)
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.ChainID, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StuckExecuting returns executing rows with no order UID whose last update
// predates the grace window — candidates for the stuck-executing sweep.
func (s *Store) StuckExecuting(ctx context.Context, grace time.Duration) ([]*Swap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectSwapColumns+` FROM swaps
		WHERE status = $1 AND cow_order_uid IS NULL AND updated_at < (now() - make_interval(secs => $2))
	`, StatusExecuting, grace.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck executing swaps: %w", err)
	}
	defer rows.Close()
	return collectSwaps(rows)
}

func (s *Store) gatedUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("gated update failed: %w", err)
	}
	return requireRows(res)
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoProgress
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
