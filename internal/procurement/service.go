package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep-erp/storekeep/internal/inventory"
	"github.com/storekeep-erp/storekeep/internal/numbering"
	"github.com/storekeep-erp/storekeep/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPR(ctx context.Context, id int64) (PurchaseRequisition, []PRItem, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceivingNote, []GRNItem, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	CreateSupplier(ctx context.Context, supplier Supplier) (int64, error)
}

// LedgerPort exposes the inventory posting required by the receiving
// orchestrator.
type LedgerPort interface {
	PostWithin(ctx context.Context, tx inventory.TxRepository, input inventory.PostInput) (inventory.LedgerEntry, error)
	NotifyLowStock(ctx context.Context, itemIDs []int64)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NotifierPort publishes workflow status messages.
type NotifierPort interface {
	Publish(ctx context.Context, note shared.Notification) error
}

// Service orchestrates purchasing flows: the purchase requisition state
// machine and goods receiving, which posts ledger entries per line.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	audit       AuditPort
	notifier    NotifierPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs procurement service. audit, notifier and idempotency
// may be nil.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort, notifier NotifierPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit, notifier: notifier, idempotency: idem}
}

// PRLineInput describes a requested line.
type PRLineInput struct {
	ItemID    int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// CreatePRInput describes creation payload.
type CreatePRInput struct {
	Date        time.Time
	RequestedBy int64
	Lines       []PRLineInput
}

// CreatePurchaseRequisition allocates a PR number and persists header and
// lines in one transaction.
func (s *Service) CreatePurchaseRequisition(ctx context.Context, input CreatePRInput) (PurchaseRequisition, error) {
	if len(input.Lines) == 0 {
		return PurchaseRequisition{}, ErrNoLines
	}
	if input.Date.IsZero() {
		input.Date = time.Now().UTC()
	}
	pr := PurchaseRequisition{Date: input.Date, Status: PRStatusPendingApproval, RequestedBy: input.RequestedBy}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		no, err := numbering.Next(ctx, tx.Sequences(), numbering.SeriesPR, input.Date)
		if err != nil {
			return err
		}
		pr.PRNo = no
		id, err := tx.CreatePR(ctx, pr)
		if err != nil {
			return err
		}
		pr.ID = id
		for _, line := range input.Lines {
			if line.ItemID == 0 || line.Quantity <= 0 {
				return fmt.Errorf("%w: pr line requires item and positive quantity", shared.ErrValidation)
			}
			if line.UnitPrice.IsNegative() {
				return fmt.Errorf("%w: pr line unit price must be >= 0", shared.ErrValidation)
			}
			item := PRItem{
				PRID:       id,
				ItemID:     line.ItemID,
				Quantity:   line.Quantity,
				UnitPrice:  line.UnitPrice,
				TotalPrice: line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)).Round(2),
			}
			if _, err := tx.InsertPRItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	s.recordAudit(ctx, input.RequestedBy, "PR_CREATE", pr.ID, map[string]any{"pr_no": pr.PRNo})
	return pr, nil
}

// PRLineAdjustment updates quantity and unit price of one line during
// approval; total price is recomputed.
type PRLineAdjustment struct {
	LineID    int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// ApprovePurchaseRequisition moves a pending PR to approved, optionally
// adjusting line quantities and prices.
func (s *Service) ApprovePurchaseRequisition(ctx context.Context, prID, actorID int64, adjustments []PRLineAdjustment) (PurchaseRequisition, error) {
	var approved PurchaseRequisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, lines, err := tx.GetPRForUpdate(ctx, prID)
		if err != nil {
			return err
		}
		if pr.Status != PRStatusPendingApproval {
			return stateError(pr, PRStatusPendingApproval)
		}
		byLine := make(map[int64]PRItem, len(lines))
		for _, line := range lines {
			byLine[line.ID] = line
		}
		for _, adj := range adjustments {
			line, ok := byLine[adj.LineID]
			if !ok {
				return fmt.Errorf("%w: pr line %d", shared.ErrNotFound, adj.LineID)
			}
			if adj.Quantity <= 0 || adj.UnitPrice.IsNegative() {
				return fmt.Errorf("%w: pr line adjustment requires positive quantity and non-negative price", shared.ErrValidation)
			}
			line.Quantity = adj.Quantity
			line.UnitPrice = adj.UnitPrice
			line.TotalPrice = adj.UnitPrice.Mul(decimal.NewFromInt(adj.Quantity)).Round(2)
			if err := tx.UpdatePRItemPricing(ctx, line); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := tx.SetPRApproved(ctx, prID, actorID, now); err != nil {
			return err
		}
		pr.Status = PRStatusApproved
		pr.ApprovedBy = actorID
		pr.ApprovedDate = now
		approved = pr
		return nil
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	s.recordAudit(ctx, actorID, "PR_APPROVE", prID, map[string]any{"pr_no": approved.PRNo})
	s.notify(ctx, "pr_approved", approved, fmt.Sprintf("purchase requisition %s approved", approved.PRNo))
	return approved, nil
}

// RejectPurchaseRequisition terminates a pending PR with a reason.
func (s *Service) RejectPurchaseRequisition(ctx context.Context, prID, actorID int64, reason string) (PurchaseRequisition, error) {
	var rejected PurchaseRequisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, _, err := tx.GetPRForUpdate(ctx, prID)
		if err != nil {
			return err
		}
		if pr.Status != PRStatusPendingApproval {
			return stateError(pr, PRStatusPendingApproval)
		}
		now := time.Now().UTC()
		if err := tx.SetPRRejected(ctx, prID, actorID, now, reason); err != nil {
			return err
		}
		pr.Status = PRStatusRejected
		pr.RejectedBy = actorID
		pr.RejectedDate = now
		pr.RejectionReason = reason
		rejected = pr
		return nil
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	s.recordAudit(ctx, actorID, "PR_REJECT", prID, map[string]any{"pr_no": rejected.PRNo, "reason": reason})
	s.notify(ctx, "pr_rejected", rejected, fmt.Sprintf("purchase requisition %s rejected", rejected.PRNo))
	return rejected, nil
}

// OrderPurchaseRequisition marks an approved PR as ordered.
func (s *Service) OrderPurchaseRequisition(ctx context.Context, prID, actorID int64) (PurchaseRequisition, error) {
	var ordered PurchaseRequisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, _, err := tx.GetPRForUpdate(ctx, prID)
		if err != nil {
			return err
		}
		if pr.Status != PRStatusApproved {
			return stateError(pr, PRStatusApproved)
		}
		if err := tx.UpdatePRStatus(ctx, prID, PRStatusOrdered); err != nil {
			return err
		}
		pr.Status = PRStatusOrdered
		ordered = pr
		return nil
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	s.recordAudit(ctx, actorID, "PR_ORDER", prID, map[string]any{"pr_no": ordered.PRNo})
	return ordered, nil
}

// GRNLineInput describes a received line.
type GRNLineInput struct {
	ItemID    int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// CreateGRNInput describes a goods receiving payload. IdempotencyKey is
// optional; when present a retried call returns a conflict instead of posting
// twice.
type CreateGRNInput struct {
	PRID           int64
	SupplierID     int64
	InvoiceNo      string
	Date           time.Time
	ReceivedBy     int64
	Lines          []GRNLineInput
	IdempotencyKey string
}

// CreateGoodsReceiving atomically allocates a GRN number, persists header and
// lines, posts one receive ledger entry per line, and advances a linked PR
// from ordered to received. Any line failure rolls back the whole document
// including postings already applied for this call.
func (s *Service) CreateGoodsReceiving(ctx context.Context, input CreateGRNInput) (GoodsReceivingNote, error) {
	if len(input.Lines) == 0 {
		return GoodsReceivingNote{}, ErrNoLines
	}
	if input.SupplierID == 0 {
		return GoodsReceivingNote{}, fmt.Errorf("%w: supplier required", shared.ErrValidation)
	}
	if input.Date.IsZero() {
		input.Date = time.Now().UTC()
	}
	if _, err := s.repo.GetSupplier(ctx, input.SupplierID); err != nil {
		return GoodsReceivingNote{}, err
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "procurement.grn"); err != nil {
			return GoodsReceivingNote{}, err
		}
		insertedKey = true
	}

	grn := GoodsReceivingNote{
		PRID:       input.PRID,
		SupplierID: input.SupplierID,
		InvoiceNo:  input.InvoiceNo,
		Date:       input.Date,
		ReceivedBy: input.ReceivedBy,
	}
	prAdvanced := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var pr PurchaseRequisition
		if input.PRID != 0 {
			// Lock the PR so concurrent receipts advance it exactly once.
			loaded, _, err := tx.GetPRForUpdate(ctx, input.PRID)
			if err != nil {
				return err
			}
			pr = loaded
		}
		no, err := numbering.Next(ctx, tx.Sequences(), numbering.SeriesGRN, input.Date)
		if err != nil {
			return err
		}
		grn.GRNNo = no
		id, err := tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = id
		for _, line := range input.Lines {
			if line.ItemID == 0 || line.Quantity <= 0 {
				return fmt.Errorf("%w: grn line requires item and positive quantity", shared.ErrValidation)
			}
			if line.UnitPrice.IsNegative() {
				return fmt.Errorf("%w: grn line unit price must be >= 0", shared.ErrValidation)
			}
			entry, err := s.ledger.PostWithin(ctx, tx.Ledger(), inventory.PostInput{
				ItemID:    line.ItemID,
				Direction: inventory.DirectionIn,
				Type:      inventory.TransactionReceive,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
				Date:      input.Date,
				Ref:       inventory.Reference{Kind: "GRN", ID: id},
				ActorID:   input.ReceivedBy,
			})
			if err != nil {
				return err
			}
			item := GRNItem{
				GRNID:      id,
				ItemID:     line.ItemID,
				Quantity:   line.Quantity,
				UnitPrice:  line.UnitPrice,
				TotalPrice: entry.TotalPrice,
			}
			if _, err := tx.InsertGRNItem(ctx, item); err != nil {
				return err
			}
		}
		if input.PRID != 0 && pr.Status == PRStatusOrdered {
			if err := tx.UpdatePRStatus(ctx, input.PRID, PRStatusReceived); err != nil {
				return err
			}
			prAdvanced = true
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return GoodsReceivingNote{}, err
	}
	s.recordAudit(ctx, input.ReceivedBy, "GRN_CREATE", grn.ID, map[string]any{"grn_no": grn.GRNNo, "pr_id": input.PRID})
	if prAdvanced {
		s.recordAudit(ctx, input.ReceivedBy, "PR_RECEIVE", input.PRID, map[string]any{"grn_no": grn.GRNNo})
	}
	return grn, nil
}

// GetPurchaseRequisition loads one PR with lines.
func (s *Service) GetPurchaseRequisition(ctx context.Context, id int64) (PurchaseRequisition, []PRItem, error) {
	return s.repo.GetPR(ctx, id)
}

// GetGoodsReceiving loads one GRN with lines.
func (s *Service) GetGoodsReceiving(ctx context.Context, id int64) (GoodsReceivingNote, []GRNItem, error) {
	return s.repo.GetGRN(ctx, id)
}

// CreateSupplier registers a supplier.
func (s *Service) CreateSupplier(ctx context.Context, supplier Supplier) (Supplier, error) {
	if supplier.Name == "" {
		return Supplier{}, fmt.Errorf("%w: supplier name required", shared.ErrValidation)
	}
	id, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return Supplier{}, err
	}
	supplier.ID = id
	return supplier, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func (s *Service) notify(ctx context.Context, kind string, pr PurchaseRequisition, msg string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Publish(ctx, shared.Notification{
		Kind:     kind,
		Message:  msg,
		Entity:   "purchase_requisition",
		EntityID: pr.PRNo,
	})
}
