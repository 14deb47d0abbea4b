package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/storekeep-erp/storekeep/internal/platform/db"
	"github.com/storekeep-erp/storekeep/internal/shared"
)

// Repository persists items and ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the poster. Document
// orchestrators obtain one for the same transaction as their own tables.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, itemID int64) (Item, error)
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
	UpdateItemStock(ctx context.Context, itemID int64, balance int64, price decimal.Decimal) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other modules can post ledger
// entries atomically with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return shared.WrapConflict(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

const itemColumns = `id, code, description, current_balance, current_price, min_stock_level, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Code, &item.Description, &item.CurrentBalance, &item.CurrentPrice, &item.MinStockLevel, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// GetItem loads one item by id.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id))
}

// GetItemByCode loads one item by its unique code.
func (r *Repository) GetItemByCode(ctx context.Context, code string) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE code=$1`, code))
}

// CreateItem inserts a new item with zero balance.
func (r *Repository) CreateItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO items (code, description, current_balance, current_price, min_stock_level, created_at, updated_at)
VALUES ($1, $2, 0, $3, $4, NOW(), NOW()) RETURNING id`, item.Code, item.Description, item.CurrentPrice, item.MinStockLevel).Scan(&id)
	return id, err
}

// ListLedger returns entries for an item ordered oldest first.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, transaction_type, ref_kind, ref_id, quantity_in, quantity_out, balance_after, unit_price, total_price, date, created_by, created_at
FROM item_ledger
WHERE item_id=$1 AND date BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
ORDER BY id ASC
LIMIT $4`, filter.ItemID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Type, &e.RefKind, &e.RefID, &e.QuantityIn, &e.QuantityOut, &e.BalanceAfter, &e.UnitPrice, &e.TotalPrice, &e.Date, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 FOR UPDATE`, itemID))
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO item_ledger (item_id, transaction_type, ref_kind, ref_id, quantity_in, quantity_out, balance_after, unit_price, total_price, date, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		entry.ItemID, string(entry.Type), entry.RefKind, entry.RefID, entry.QuantityIn, entry.QuantityOut, entry.BalanceAfter, entry.UnitPrice, entry.TotalPrice, entry.Date, nullInt(entry.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateItemStock(ctx context.Context, itemID int64, balance int64, price decimal.Decimal) (int64, error) {
	var stored int64
	err := r.tx.QueryRow(ctx, `UPDATE items SET current_balance=$2, current_price=$3, updated_at=NOW() WHERE id=$1 RETURNING current_balance`,
		itemID, balance, price).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrItemNotFound
		}
		return 0, err
	}
	return stored, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
