package requisition

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storekeep-erp/storekeep/internal/inventory"
	"github.com/storekeep-erp/storekeep/internal/numbering"
	"github.com/storekeep-erp/storekeep/internal/platform/db"
	"github.com/storekeep-erp/storekeep/internal/shared"
)

// Repository persists store requisitions and issue vouchers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by Service. Ledger
// and Sequences give the orchestrator inventory posting and document
// numbering inside the same database transaction.
type TxRepository interface {
	CreateSR(ctx context.Context, sr StoreRequisition) (int64, error)
	InsertSRItem(ctx context.Context, item SRItem) (int64, error)
	GetSRForUpdate(ctx context.Context, id int64) (StoreRequisition, []SRItem, error)
	SetSRChecked(ctx context.Context, id, actorID int64, at time.Time) error
	SetSRApproved(ctx context.Context, id, actorID int64, at time.Time) error
	SetSRRejected(ctx context.Context, id, actorID int64, at time.Time, reason string) error
	UpdateSRStatus(ctx context.Context, id int64, status SRStatus) error
	UpdateSRItemReview(ctx context.Context, line SRItem) error
	CreateSIV(ctx context.Context, siv StoreIssue) (int64, error)
	InsertSIVItem(ctx context.Context, item SIVItem) (int64, error)
	SumIssuedBySR(ctx context.Context, srID int64) (map[int64]int64, error)
	Ledger() inventory.TxRepository
	Sequences() numbering.Allocator
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("requisition repository not initialised")
	}
	return shared.WrapConflict(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

func (r *txRepository) Ledger() inventory.TxRepository {
	return inventory.NewTxRepository(r.tx)
}

func (r *txRepository) Sequences() numbering.Allocator {
	return numbering.NewStore(r.tx)
}

const srColumns = `id, sr_no, date, department, status, requested_by, checked_by, checked_date, approved_by, approved_date, rejected_by, rejected_date, rejection_reason, created_at`

func scanSR(row pgx.Row) (StoreRequisition, error) {
	var sr StoreRequisition
	var checkedBy, approvedBy, rejectedBy *int64
	var checkedDate, approvedDate, rejectedDate *time.Time
	var department, reason *string
	err := row.Scan(&sr.ID, &sr.SRNo, &sr.Date, &department, &sr.Status, &sr.RequestedBy,
		&checkedBy, &checkedDate, &approvedBy, &approvedDate, &rejectedBy, &rejectedDate, &reason, &sr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoreRequisition{}, ErrSRNotFound
		}
		return StoreRequisition{}, err
	}
	if department != nil {
		sr.Department = *department
	}
	if checkedBy != nil {
		sr.CheckedBy = *checkedBy
	}
	if checkedDate != nil {
		sr.CheckedDate = *checkedDate
	}
	if approvedBy != nil {
		sr.ApprovedBy = *approvedBy
	}
	if approvedDate != nil {
		sr.ApprovedDate = *approvedDate
	}
	if rejectedBy != nil {
		sr.RejectedBy = *rejectedBy
	}
	if rejectedDate != nil {
		sr.RejectedDate = *rejectedDate
	}
	if reason != nil {
		sr.RejectionReason = *reason
	}
	return sr, nil
}

func srItems(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, srID int64) ([]SRItem, error) {
	rows, err := q.Query(ctx, `SELECT id, sr_id, item_id, requested_qty, checked_qty, approved_qty FROM sr_items WHERE sr_id=$1 ORDER BY id`, srID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []SRItem{}
	for rows.Next() {
		var item SRItem
		if err := rows.Scan(&item.ID, &item.SRID, &item.ItemID, &item.RequestedQty, &item.CheckedQty, &item.ApprovedQty); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetSR loads one store requisition with lines.
func (r *Repository) GetSR(ctx context.Context, id int64) (StoreRequisition, []SRItem, error) {
	sr, err := scanSR(r.pool.QueryRow(ctx, `SELECT `+srColumns+` FROM store_requisitions WHERE id=$1`, id))
	if err != nil {
		return StoreRequisition{}, nil, err
	}
	items, err := srItems(ctx, r.pool, id)
	if err != nil {
		return StoreRequisition{}, nil, err
	}
	return sr, items, nil
}

// GetSIV loads one store issue voucher with lines.
func (r *Repository) GetSIV(ctx context.Context, id int64) (StoreIssue, []SIVItem, error) {
	var siv StoreIssue
	err := r.pool.QueryRow(ctx, `SELECT id, siv_no, sr_id, date, issued_by, created_at FROM store_issues WHERE id=$1`, id).
		Scan(&siv.ID, &siv.SIVNo, &siv.SRID, &siv.Date, &siv.IssuedBy, &siv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoreIssue{}, nil, ErrSIVNotFound
		}
		return StoreIssue{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, siv_id, item_id, quantity, unit_price, total_price FROM siv_items WHERE siv_id=$1 ORDER BY id`, id)
	if err != nil {
		return StoreIssue{}, nil, err
	}
	defer rows.Close()
	items := []SIVItem{}
	for rows.Next() {
		var item SIVItem
		if err := rows.Scan(&item.ID, &item.SIVID, &item.ItemID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return StoreIssue{}, nil, err
		}
		items = append(items, item)
	}
	return siv, items, rows.Err()
}

func (r *txRepository) CreateSR(ctx context.Context, sr StoreRequisition) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO store_requisitions (sr_no, date, department, status, requested_by, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`, sr.SRNo, sr.Date, nullString(sr.Department), string(sr.Status), sr.RequestedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertSRItem(ctx context.Context, item SRItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sr_items (sr_id, item_id, requested_qty)
VALUES ($1,$2,$3) RETURNING id`, item.SRID, item.ItemID, item.RequestedQty).Scan(&id)
	return id, err
}

func (r *txRepository) GetSRForUpdate(ctx context.Context, id int64) (StoreRequisition, []SRItem, error) {
	sr, err := scanSR(r.tx.QueryRow(ctx, `SELECT `+srColumns+` FROM store_requisitions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return StoreRequisition{}, nil, err
	}
	items, err := srItems(ctx, r.tx, id)
	if err != nil {
		return StoreRequisition{}, nil, err
	}
	return sr, items, nil
}

func (r *txRepository) SetSRChecked(ctx context.Context, id, actorID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE store_requisitions SET status=$2, checked_by=$3, checked_date=$4 WHERE id=$1`,
		id, string(SRStatusChecked), actorID, at)
	return err
}

func (r *txRepository) SetSRApproved(ctx context.Context, id, actorID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE store_requisitions SET status=$2, approved_by=$3, approved_date=$4 WHERE id=$1`,
		id, string(SRStatusApproved), actorID, at)
	return err
}

func (r *txRepository) SetSRRejected(ctx context.Context, id, actorID int64, at time.Time, reason string) error {
	_, err := r.tx.Exec(ctx, `UPDATE store_requisitions SET status=$2, rejected_by=$3, rejected_date=$4, rejection_reason=$5 WHERE id=$1`,
		id, string(SRStatusRejected), actorID, at, reason)
	return err
}

func (r *txRepository) UpdateSRStatus(ctx context.Context, id int64, status SRStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE store_requisitions SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) UpdateSRItemReview(ctx context.Context, line SRItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE sr_items SET checked_qty=$2, approved_qty=$3 WHERE id=$1`,
		line.ID, line.CheckedQty, line.ApprovedQty)
	return err
}

func (r *txRepository) CreateSIV(ctx context.Context, siv StoreIssue) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO store_issues (siv_no, sr_id, date, issued_by, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, siv.SIVNo, siv.SRID, siv.Date, siv.IssuedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertSIVItem(ctx context.Context, item SIVItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO siv_items (siv_id, item_id, quantity, unit_price, total_price)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, item.SIVID, item.ItemID, item.Quantity, item.UnitPrice, item.TotalPrice).Scan(&id)
	return id, err
}

// SumIssuedBySR totals issued quantities per item across every voucher for
// one requisition. Rows inserted earlier in the current transaction are
// visible.
func (r *txRepository) SumIssuedBySR(ctx context.Context, srID int64) (map[int64]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT li.item_id, COALESCE(SUM(li.quantity),0)
FROM siv_items li JOIN store_issues si ON si.id = li.siv_id
WHERE si.sr_id=$1 GROUP BY li.item_id`, srID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	totals := make(map[int64]int64)
	for rows.Next() {
		var itemID, qty int64
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		totals[itemID] = qty
	}
	return totals, rows.Err()
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
