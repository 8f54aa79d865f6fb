package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/presale-coordinator/internal/errors"
	"github.com/presale-coordinator/internal/types"
)

// PurchaseRepository handles purchase attempt persistence
type PurchaseRepository struct {
	db *PostgresDB
}

// NewPurchaseRepository creates a new purchase repository
func NewPurchaseRepository(db *PostgresDB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// SavePurchase inserts the purchase attempt or updates its status and hash
// if it already exists. Called when a transaction is broadcast and again at
// each terminal state.
func (r *PurchaseRepository) SavePurchase(ctx context.Context, purchase *types.Purchase) error {
	query := `
		INSERT INTO purchases (
			id, wallet_address, network, currency, amount, usd_value,
			tokens, referral_code, tx_hash, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			tx_hash    = EXCLUDED.tx_hash,
			status     = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		purchase.ID,
		strings.ToLower(purchase.WalletAddress),
		string(purchase.Network),
		string(purchase.Currency),
		purchase.Amount,
		purchase.USDValue,
		purchase.Tokens,
		nullableString(purchase.ReferralCode),
		strings.ToLower(purchase.TxHash),
		string(purchase.Status),
		purchase.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return apperrors.NewDatabaseError("save purchase", err)
	}
	return nil
}

// GetByID retrieves a purchase attempt by id
func (r *PurchaseRepository) GetByID(ctx context.Context, id string) (*types.Purchase, error) {
	query := `
		SELECT id, wallet_address, network, currency, amount, usd_value,
		       tokens, COALESCE(referral_code, ''), tx_hash, status,
		       created_at, updated_at
		FROM purchases
		WHERE id = $1
	`
	return r.scanOne(r.db.Pool().QueryRow(ctx, query, id), "purchase", id)
}

// GetByHash retrieves a purchase attempt by transaction hash
func (r *PurchaseRepository) GetByHash(ctx context.Context, hash string) (*types.Purchase, error) {
	query := `
		SELECT id, wallet_address, network, currency, amount, usd_value,
		       tokens, COALESCE(referral_code, ''), tx_hash, status,
		       created_at, updated_at
		FROM purchases
		WHERE tx_hash = $1
	`
	return r.scanOne(r.db.Pool().QueryRow(ctx, query, strings.ToLower(hash)), "purchase", hash)
}

// ListByWallet returns a wallet's purchase attempts, newest first
func (r *PurchaseRepository) ListByWallet(ctx context.Context, walletAddress string, limit int) ([]*types.Purchase, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, wallet_address, network, currency, amount, usd_value,
		       tokens, COALESCE(referral_code, ''), tx_hash, status,
		       created_at, updated_at
		FROM purchases
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, strings.ToLower(walletAddress), limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list purchases", err)
	}
	defer rows.Close()

	var purchases []*types.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan purchase", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list purchases", err)
	}
	return purchases, nil
}

// ListPending returns purchase attempts still awaiting a terminal state,
// oldest first, for the receipt watcher to poll
func (r *PurchaseRepository) ListPending(ctx context.Context, limit int) ([]*types.Purchase, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, wallet_address, network, currency, amount, usd_value,
		       tokens, COALESCE(referral_code, ''), tx_hash, status,
		       created_at, updated_at
		FROM purchases
		WHERE status IN ('pending', 'confirming')
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pending purchases", err)
	}
	defer rows.Close()

	var purchases []*types.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan purchase", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list pending purchases", err)
	}
	return purchases, nil
}

// RaisedUSD returns the aggregated USD value of confirmed purchases,
// the amount counted against the active stage's cap
func (r *PurchaseRepository) RaisedUSD(ctx context.Context) (float64, error) {
	var raised float64
	query := `SELECT COALESCE(SUM(usd_value), 0) FROM purchases WHERE status = 'confirmed'`
	if err := r.db.Pool().QueryRow(ctx, query).Scan(&raised); err != nil {
		return 0, apperrors.NewDatabaseError("aggregate raised amount", err)
	}
	return raised, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PurchaseRepository) scanOne(row rowScanner, resource, id string) (*types.Purchase, error) {
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(resource, id)
		}
		return nil, apperrors.NewDatabaseError(fmt.Sprintf("get %s", resource), err)
	}
	return p, nil
}

func scanPurchase(row rowScanner) (*types.Purchase, error) {
	var p types.Purchase
	var network, currency, status string
	err := row.Scan(
		&p.ID,
		&p.WalletAddress,
		&network,
		&currency,
		&p.Amount,
		&p.USDValue,
		&p.Tokens,
		&p.ReferralCode,
		&p.TxHash,
		&status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Network = types.Network(network)
	p.Currency = types.Currency(currency)
	p.Status = types.TxStatus(status)
	return &p, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
