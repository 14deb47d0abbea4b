package procurement

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

// Repository persists procurement documents in PostgreSQL.
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
	CreatePR(ctx context.Context, pr PurchaseRequisition) (int64, error)
	InsertPRItem(ctx context.Context, item PRItem) (int64, error)
	GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequisition, []PRItem, error)
	SetPRApproved(ctx context.Context, id, actorID int64, at time.Time) error
	SetPRRejected(ctx context.Context, id, actorID int64, at time.Time, reason string) error
	UpdatePRStatus(ctx context.Context, id int64, status PRStatus) error
	UpdatePRItemPricing(ctx context.Context, line PRItem) error
	CreateGRN(ctx context.Context, grn GoodsReceivingNote) (int64, error)
	InsertGRNItem(ctx context.Context, item GRNItem) (int64, error)
	Ledger() inventory.TxRepository
	Sequences() numbering.Allocator
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
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

const prColumns = `id, pr_no, date, status, requested_by, approved_by, approved_date, rejected_by, rejected_date, rejection_reason, created_at`

func scanPR(row pgx.Row) (PurchaseRequisition, error) {
	var pr PurchaseRequisition
	var approvedBy, rejectedBy *int64
	var approvedDate, rejectedDate *time.Time
	var reason *string
	err := row.Scan(&pr.ID, &pr.PRNo, &pr.Date, &pr.Status, &pr.RequestedBy, &approvedBy, &approvedDate, &rejectedBy, &rejectedDate, &reason, &pr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequisition{}, ErrPRNotFound
		}
		return PurchaseRequisition{}, err
	}
	if approvedBy != nil {
		pr.ApprovedBy = *approvedBy
	}
	if approvedDate != nil {
		pr.ApprovedDate = *approvedDate
	}
	if rejectedBy != nil {
		pr.RejectedBy = *rejectedBy
	}
	if rejectedDate != nil {
		pr.RejectedDate = *rejectedDate
	}
	if reason != nil {
		pr.RejectionReason = *reason
	}
	return pr, nil
}

func prItems(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, prID int64) ([]PRItem, error) {
	rows, err := q.Query(ctx, `SELECT id, pr_id, item_id, quantity, unit_price, total_price FROM pr_items WHERE pr_id=$1 ORDER BY id`, prID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PRItem{}
	for rows.Next() {
		var item PRItem
		if err := rows.Scan(&item.ID, &item.PRID, &item.ItemID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetPR loads one purchase requisition with lines.
func (r *Repository) GetPR(ctx context.Context, id int64) (PurchaseRequisition, []PRItem, error) {
	pr, err := scanPR(r.pool.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requisitions WHERE id=$1`, id))
	if err != nil {
		return PurchaseRequisition{}, nil, err
	}
	items, err := prItems(ctx, r.pool, id)
	if err != nil {
		return PurchaseRequisition{}, nil, err
	}
	return pr, items, nil
}

// GetGRN loads one receiving note with lines.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceivingNote, []GRNItem, error) {
	var grn GoodsReceivingNote
	var prID *int64
	var invoiceNo *string
	err := r.pool.QueryRow(ctx, `SELECT id, grn_no, pr_id, supplier_id, invoice_no, date, received_by, created_at FROM goods_receiving_notes WHERE id=$1`, id).
		Scan(&grn.ID, &grn.GRNNo, &prID, &grn.SupplierID, &invoiceNo, &grn.Date, &grn.ReceivedBy, &grn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceivingNote{}, nil, ErrGRNNotFound
		}
		return GoodsReceivingNote{}, nil, err
	}
	if prID != nil {
		grn.PRID = *prID
	}
	if invoiceNo != nil {
		grn.InvoiceNo = *invoiceNo
	}
	rows, err := r.pool.Query(ctx, `SELECT id, grn_id, item_id, quantity, unit_price, total_price FROM grn_items WHERE grn_id=$1 ORDER BY id`, id)
	if err != nil {
		return GoodsReceivingNote{}, nil, err
	}
	defer rows.Close()
	items := []GRNItem{}
	for rows.Next() {
		var item GRNItem
		if err := rows.Scan(&item.ID, &item.GRNID, &item.ItemID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return GoodsReceivingNote{}, nil, err
		}
		items = append(items, item)
	}
	return grn, items, rows.Err()
}

// GetSupplier loads one supplier.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var sup Supplier
	err := r.pool.QueryRow(ctx, `SELECT id, name, contact_person, phone, email, address FROM suppliers WHERE id=$1`, id).
		Scan(&sup.ID, &sup.Name, &sup.ContactPerson, &sup.Phone, &sup.Email, &sup.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrSupplierNotFound
		}
		return Supplier{}, err
	}
	return sup, nil
}

// CreateSupplier inserts a supplier.
func (r *Repository) CreateSupplier(ctx context.Context, supplier Supplier) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO suppliers (name, contact_person, phone, email, address, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW()) RETURNING id`, supplier.Name, supplier.ContactPerson, supplier.Phone, supplier.Email, supplier.Address).Scan(&id)
	return id, err
}

func (r *txRepository) CreatePR(ctx context.Context, pr PurchaseRequisition) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_requisitions (pr_no, date, status, requested_by, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, pr.PRNo, pr.Date, string(pr.Status), pr.RequestedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertPRItem(ctx context.Context, item PRItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO pr_items (pr_id, item_id, quantity, unit_price, total_price)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, item.PRID, item.ItemID, item.Quantity, item.UnitPrice, item.TotalPrice).Scan(&id)
	return id, err
}

func (r *txRepository) GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequisition, []PRItem, error) {
	pr, err := scanPR(r.tx.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requisitions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseRequisition{}, nil, err
	}
	items, err := prItems(ctx, r.tx, id)
	if err != nil {
		return PurchaseRequisition{}, nil, err
	}
	return pr, items, nil
}

func (r *txRepository) SetPRApproved(ctx context.Context, id, actorID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_requisitions SET status=$2, approved_by=$3, approved_date=$4 WHERE id=$1`,
		id, string(PRStatusApproved), actorID, at)
	return err
}

func (r *txRepository) SetPRRejected(ctx context.Context, id, actorID int64, at time.Time, reason string) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_requisitions SET status=$2, rejected_by=$3, rejected_date=$4, rejection_reason=$5 WHERE id=$1`,
		id, string(PRStatusRejected), actorID, at, reason)
	return err
}

func (r *txRepository) UpdatePRStatus(ctx context.Context, id int64, status PRStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_requisitions SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) UpdatePRItemPricing(ctx context.Context, line PRItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE pr_items SET quantity=$2, unit_price=$3, total_price=$4 WHERE id=$1`,
		line.ID, line.Quantity, line.UnitPrice, line.TotalPrice)
	return err
}

func (r *txRepository) CreateGRN(ctx context.Context, grn GoodsReceivingNote) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receiving_notes (grn_no, pr_id, supplier_id, invoice_no, date, received_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`, grn.GRNNo, nullInt(grn.PRID), grn.SupplierID, nullString(grn.InvoiceNo), grn.Date, grn.ReceivedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertGRNItem(ctx context.Context, item GRNItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO grn_items (grn_id, item_id, quantity, unit_price, total_price)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, item.GRNID, item.ItemID, item.Quantity, item.UnitPrice, item.TotalPrice).Scan(&id)
	return id, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
