package requisition

import (
	"context"
	"fmt"
	"time"

	"github.com/storekeep-erp/storekeep/internal/inventory"
	"github.com/storekeep-erp/storekeep/internal/numbering"
	"github.com/storekeep-erp/storekeep/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSR(ctx context.Context, id int64) (StoreRequisition, []SRItem, error)
	GetSIV(ctx context.Context, id int64) (StoreIssue, []SIVItem, error)
}

// LedgerPort exposes the inventory posting required by the issue orchestrator.
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

// Service orchestrates the store requisition state machine and store issue
// vouchers, which release stock through the inventory ledger.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	audit       AuditPort
	notifier    NotifierPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs the requisition service. audit, notifier and
// idempotency may be nil.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort, notifier NotifierPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit, notifier: notifier, idempotency: idem}
}

// SRLineInput describes a requested line.
type SRLineInput struct {
	ItemID   int64
	Quantity int64
}

// CreateSRInput describes a creation payload.
type CreateSRInput struct {
	Date        time.Time
	Department  string
	RequestedBy int64
	Lines       []SRLineInput
}

// CreateStoreRequisition allocates an SR number and persists header and lines
// in one transaction.
func (s *Service) CreateStoreRequisition(ctx context.Context, input CreateSRInput) (StoreRequisition, error) {
	if len(input.Lines) == 0 {
		return StoreRequisition{}, ErrNoLines
	}
	if input.Date.IsZero() {
		input.Date = time.Now().UTC()
	}
	sr := StoreRequisition{
		Date:        input.Date,
		Department:  input.Department,
		RequestedBy: input.RequestedBy,
		Status:      SRStatusPending,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		no, err := numbering.Next(ctx, tx.Sequences(), numbering.SeriesSR, input.Date)
		if err != nil {
			return err
		}
		sr.SRNo = no
		id, err := tx.CreateSR(ctx, sr)
		if err != nil {
			return err
		}
		sr.ID = id
		for _, line := range input.Lines {
			if line.ItemID == 0 || line.Quantity <= 0 {
				return fmt.Errorf("%w: sr line requires item and positive quantity", shared.ErrValidation)
			}
			item := SRItem{SRID: id, ItemID: line.ItemID, RequestedQty: line.Quantity}
			if _, err := tx.InsertSRItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return StoreRequisition{}, err
	}
	s.recordAudit(ctx, input.RequestedBy, "SR_CREATE", sr.ID, map[string]any{"sr_no": sr.SRNo})
	return sr, nil
}

// SRLineReview overrides the quantity of one line during check or approval.
type SRLineReview struct {
	LineID   int64
	Quantity int64
}

// CheckStoreRequisition moves a pending SR to checked, recording per-line
// checked quantities. Lines without a review keep their requested quantity as
// the effective target.
func (s *Service) CheckStoreRequisition(ctx context.Context, srID, actorID int64, reviews []SRLineReview) (StoreRequisition, error) {
	return s.review(ctx, srID, actorID, reviews, reviewCheck)
}

// ApproveStoreRequisition moves a pending or checked SR to approved, recording
// per-line approved quantities. Lines without a review fall back to the checked
// quantity, then the requested quantity.
func (s *Service) ApproveStoreRequisition(ctx context.Context, srID, actorID int64, reviews []SRLineReview) (StoreRequisition, error) {
	return s.review(ctx, srID, actorID, reviews, reviewApprove)
}

type reviewStage int

const (
	reviewCheck reviewStage = iota
	reviewApprove
)

func (s *Service) review(ctx context.Context, srID, actorID int64, reviews []SRLineReview, stage reviewStage) (StoreRequisition, error) {
	var out StoreRequisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sr, lines, err := tx.GetSRForUpdate(ctx, srID)
		if err != nil {
			return err
		}
		switch stage {
		case reviewCheck:
			if sr.Status != SRStatusPending {
				return stateError(sr, string(SRStatusPending))
			}
		case reviewApprove:
			if sr.Status != SRStatusPending && sr.Status != SRStatusChecked {
				return stateError(sr, "pending or checked")
			}
		}
		byLine := make(map[int64]SRItem, len(lines))
		for _, line := range lines {
			byLine[line.ID] = line
		}
		for _, rev := range reviews {
			line, ok := byLine[rev.LineID]
			if !ok {
				return fmt.Errorf("%w: sr line %d", shared.ErrNotFound, rev.LineID)
			}
			if rev.Quantity <= 0 {
				return fmt.Errorf("%w: sr line review requires positive quantity", shared.ErrValidation)
			}
			qty := rev.Quantity
			if stage == reviewCheck {
				line.CheckedQty = &qty
			} else {
				line.ApprovedQty = &qty
			}
			if err := tx.UpdateSRItemReview(ctx, line); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if stage == reviewCheck {
			if err := tx.SetSRChecked(ctx, srID, actorID, now); err != nil {
				return err
			}
			sr.Status = SRStatusChecked
			sr.CheckedBy = actorID
			sr.CheckedDate = now
		} else {
			if err := tx.SetSRApproved(ctx, srID, actorID, now); err != nil {
				return err
			}
			sr.Status = SRStatusApproved
			sr.ApprovedBy = actorID
			sr.ApprovedDate = now
		}
		out = sr
		return nil
	})
	if err != nil {
		return StoreRequisition{}, err
	}
	if stage == reviewCheck {
		s.recordAudit(ctx, actorID, "SR_CHECK", srID, map[string]any{"sr_no": out.SRNo})
	} else {
		s.recordAudit(ctx, actorID, "SR_APPROVE", srID, map[string]any{"sr_no": out.SRNo})
		s.notify(ctx, "sr_approved", out, fmt.Sprintf("store requisition %s approved", out.SRNo))
	}
	return out, nil
}

// RejectStoreRequisition terminates a pending or checked SR with a reason.
func (s *Service) RejectStoreRequisition(ctx context.Context, srID, actorID int64, reason string) (StoreRequisition, error) {
	var rejected StoreRequisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sr, _, err := tx.GetSRForUpdate(ctx, srID)
		if err != nil {
			return err
		}
		if sr.Status != SRStatusPending && sr.Status != SRStatusChecked {
			return stateError(sr, "pending or checked")
		}
		now := time.Now().UTC()
		if err := tx.SetSRRejected(ctx, srID, actorID, now, reason); err != nil {
			return err
		}
		sr.Status = SRStatusRejected
		sr.RejectedBy = actorID
		sr.RejectedDate = now
		sr.RejectionReason = reason
		rejected = sr
		return nil
	})
	if err != nil {
		return StoreRequisition{}, err
	}
	s.recordAudit(ctx, actorID, "SR_REJECT", srID, map[string]any{"sr_no": rejected.SRNo, "reason": reason})
	s.notify(ctx, "sr_rejected", rejected, fmt.Sprintf("store requisition %s rejected", rejected.SRNo))
	return rejected, nil
}

// SIVLineInput describes one issued line.
type SIVLineInput struct {
	ItemID   int64
	Quantity int64
}

// CreateSIVInput describes a store issue payload. IdempotencyKey is optional;
// when present a retried call returns a conflict instead of issuing twice.
type CreateSIVInput struct {
	SRID           int64
	Date           time.Time
	IssuedBy       int64
	Lines          []SIVLineInput
	IdempotencyKey string
}

// CreateStoreIssue atomically allocates an SIV number, persists header and
// lines, and posts one issue ledger entry per line costed at the item's
// current weighted average. A line may not push an item past its effective
// target across all issues for the requisition. When every line reaches its
// target the SR becomes issued, otherwise partially_issued. Any failure rolls
// back the whole voucher including postings already applied for this call.
func (s *Service) CreateStoreIssue(ctx context.Context, input CreateSIVInput) (StoreIssue, error) {
	if len(input.Lines) == 0 {
		return StoreIssue{}, ErrNoLines
	}
	if input.SRID == 0 {
		return StoreIssue{}, fmt.Errorf("%w: store requisition required", shared.ErrValidation)
	}
	if input.Date.IsZero() {
		input.Date = time.Now().UTC()
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "requisition.siv"); err != nil {
			return StoreIssue{}, err
		}
		insertedKey = true
	}

	siv := StoreIssue{SRID: input.SRID, Date: input.Date, IssuedBy: input.IssuedBy}
	var touched []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock the SR so concurrent issues see consistent coverage.
		sr, srLines, err := tx.GetSRForUpdate(ctx, input.SRID)
		if err != nil {
			return err
		}
		if sr.Status != SRStatusApproved && sr.Status != SRStatusPartiallyIssued {
			return stateError(sr, "approved or partially_issued")
		}
		targets := make(map[int64]int64, len(srLines))
		for _, line := range srLines {
			targets[line.ItemID] = line.TargetQty()
		}
		issued, err := tx.SumIssuedBySR(ctx, input.SRID)
		if err != nil {
			return err
		}

		no, err := numbering.Next(ctx, tx.Sequences(), numbering.SeriesSIV, input.Date)
		if err != nil {
			return err
		}
		siv.SIVNo = no
		id, err := tx.CreateSIV(ctx, siv)
		if err != nil {
			return err
		}
		siv.ID = id
		for _, line := range input.Lines {
			if line.ItemID == 0 || line.Quantity <= 0 {
				return fmt.Errorf("%w: siv line requires item and positive quantity", shared.ErrValidation)
			}
			target, ok := targets[line.ItemID]
			if !ok {
				return fmt.Errorf("%w: item %d is not on requisition %s", shared.ErrValidation, line.ItemID, sr.SRNo)
			}
			if issued[line.ItemID]+line.Quantity > target {
				return fmt.Errorf("%w: item %d issue of %d exceeds remaining quantity %d", shared.ErrValidation, line.ItemID, line.Quantity, target-issued[line.ItemID])
			}
			entry, err := s.ledger.PostWithin(ctx, tx.Ledger(), inventory.PostInput{
				ItemID:    line.ItemID,
				Direction: inventory.DirectionOut,
				Type:      inventory.TransactionIssue,
				Quantity:  line.Quantity,
				Date:      input.Date,
				Ref:       inventory.Reference{Kind: "SIV", ID: id},
				ActorID:   input.IssuedBy,
			})
			if err != nil {
				return err
			}
			item := SIVItem{
				SIVID:      id,
				ItemID:     line.ItemID,
				Quantity:   line.Quantity,
				UnitPrice:  entry.UnitPrice,
				TotalPrice: entry.TotalPrice,
			}
			if _, err := tx.InsertSIVItem(ctx, item); err != nil {
				return err
			}
			issued[line.ItemID] += line.Quantity
			touched = append(touched, line.ItemID)
		}

		next := SRStatusIssued
		for itemID, target := range targets {
			if issued[itemID] < target {
				next = SRStatusPartiallyIssued
				break
			}
		}
		if err := tx.UpdateSRStatus(ctx, input.SRID, next); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return StoreIssue{}, err
	}
	s.recordAudit(ctx, input.IssuedBy, "SIV_CREATE", siv.ID, map[string]any{"siv_no": siv.SIVNo, "sr_id": input.SRID})
	s.ledger.NotifyLowStock(ctx, touched)
	return siv, nil
}

// GetStoreRequisition loads one SR with lines.
func (s *Service) GetStoreRequisition(ctx context.Context, id int64) (StoreRequisition, []SRItem, error) {
	return s.repo.GetSR(ctx, id)
}

// GetStoreIssue loads one SIV with lines.
func (s *Service) GetStoreIssue(ctx context.Context, id int64) (StoreIssue, []SIVItem, error) {
	return s.repo.GetSIV(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "requisition", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func (s *Service) notify(ctx context.Context, kind string, sr StoreRequisition, msg string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Publish(ctx, shared.Notification{
		Kind:     kind,
		Message:  msg,
		Entity:   "store_requisition",
		EntityID: sr.SRNo,
	})
}
