package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep-erp/storekeep/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	GetItemByCode(ctx context.Context, code string) (Item, error)
	CreateItem(ctx context.Context, item Item) (int64, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LowStockAlerter receives items whose balance reached the reorder threshold.
type LowStockAlerter interface {
	LowStockDetected(ctx context.Context, item Item) error
}

// Service owns every mutation of item balances and prices.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	alerter LowStockAlerter
	logger  *slog.Logger
}

// NewService builds Service. audit and alerter may be nil.
func NewService(repo RepositoryPort, audit AuditPort, alerter LowStockAlerter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, alerter: alerter, logger: logger}
}

// CreateItemInput describes a new stock item.
type CreateItemInput struct {
	Code          string
	Description   string
	MinStockLevel int64
}

// CreateItem registers an item with zero balance.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	if input.Code == "" {
		return Item{}, fmt.Errorf("%w: item code required", shared.ErrValidation)
	}
	if input.MinStockLevel < 0 {
		return Item{}, fmt.Errorf("%w: min stock level must be >= 0", shared.ErrValidation)
	}
	item := Item{Code: input.Code, Description: input.Description, MinStockLevel: input.MinStockLevel, CurrentPrice: decimal.Zero}
	id, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Item{}, ErrDuplicateCode
		}
		return Item{}, err
	}
	item.ID = id
	return item, nil
}

// GetItem loads one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListLedger returns ledger entries for an item, oldest first.
func (s *Service) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if filter.ItemID == 0 {
		return nil, fmt.Errorf("%w: item required", shared.ErrValidation)
	}
	return s.repo.ListLedger(ctx, filter)
}

// Post applies one movement inside its own transaction. Used for standalone
// adjustments; document orchestrators use PostWithin inside their own
// transaction instead.
func (s *Service) Post(ctx context.Context, input PostInput) (LedgerEntry, error) {
	var entry LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, err := s.PostWithin(ctx, tx, input)
		if err != nil {
			return err
		}
		entry = posted
		return nil
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	s.recordAudit(ctx, input, entry)
	s.NotifyLowStock(ctx, []int64{input.ItemID})
	return entry, nil
}

// PostWithin applies one movement against the caller's transaction. It locks
// the item row, appends the immutable ledger entry and persists the new
// balance and weighted-average price as one atomic unit. This is the single
// mutation point for Item.CurrentBalance and Item.CurrentPrice.
//
// For DirectionIn the price becomes the quantity-weighted blend of existing
// and incoming stock value; a zero balance takes the incoming price as-is. For
// DirectionOut the price is untouched and the entry is costed at the current
// weighted average.
func (s *Service) PostWithin(ctx context.Context, tx TxRepository, input PostInput) (LedgerEntry, error) {
	if input.Quantity <= 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}
	if input.UnitPrice.IsNegative() {
		return LedgerEntry{}, ErrInvalidUnitPrice
	}
	if input.Date.IsZero() {
		input.Date = time.Now().UTC()
	}

	item, err := tx.GetItemForUpdate(ctx, input.ItemID)
	if err != nil {
		return LedgerEntry{}, err
	}

	qty := decimal.NewFromInt(input.Quantity)
	entry := LedgerEntry{
		ItemID:    item.ID,
		Type:      input.Type,
		RefKind:   input.Ref.Kind,
		RefID:     input.Ref.ID,
		Date:      input.Date,
		CreatedBy: input.ActorID,
	}

	var newBalance int64
	var newPrice decimal.Decimal
	switch input.Direction {
	case DirectionIn:
		newBalance = item.CurrentBalance + input.Quantity
		if item.CurrentBalance == 0 {
			// Cold start: any stale price is discarded.
			newPrice = input.UnitPrice.Round(2)
		} else {
			existing := decimal.NewFromInt(item.CurrentBalance).Mul(item.CurrentPrice)
			incoming := qty.Mul(input.UnitPrice)
			newPrice = existing.Add(incoming).Div(decimal.NewFromInt(newBalance)).Round(2)
		}
		entry.QuantityIn = input.Quantity
		entry.UnitPrice = input.UnitPrice
	case DirectionOut:
		if input.Quantity > item.CurrentBalance {
			return LedgerEntry{}, &InsufficientStockError{ItemID: item.ID, Requested: input.Quantity, Available: item.CurrentBalance}
		}
		newBalance = item.CurrentBalance - input.Quantity
		newPrice = item.CurrentPrice
		entry.QuantityOut = input.Quantity
		entry.UnitPrice = item.CurrentPrice
	default:
		return LedgerEntry{}, fmt.Errorf("%w: unknown direction %q", shared.ErrValidation, input.Direction)
	}

	entry.BalanceAfter = newBalance
	entry.TotalPrice = entry.UnitPrice.Mul(qty).Round(2)

	id, err := tx.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return LedgerEntry{}, shared.WrapConflict(err)
	}
	entry.ID = id

	stored, err := tx.UpdateItemStock(ctx, item.ID, newBalance, newPrice)
	if err != nil {
		return LedgerEntry{}, shared.WrapConflict(err)
	}
	if stored != entry.BalanceAfter {
		return LedgerEntry{}, &ConsistencyError{ItemID: item.ID, Expected: entry.BalanceAfter, Actual: stored}
	}
	return entry, nil
}

// NotifyLowStock checks the given items after a committed posting and hands the
// ones at or below their reorder threshold to the alerter. Alerting is
// best-effort; failures are logged, never propagated.
func (s *Service) NotifyLowStock(ctx context.Context, itemIDs []int64) {
	if s.alerter == nil {
		return
	}
	for _, id := range itemIDs {
		item, err := s.repo.GetItem(ctx, id)
		if err != nil {
			s.logger.Warn("low stock check", slog.Int64("item_id", id), slog.Any("error", err))
			continue
		}
		if !item.LowStock() {
			continue
		}
		if err := s.alerter.LowStockDetected(ctx, item); err != nil {
			s.logger.Warn("low stock alert", slog.String("code", item.Code), slog.Any("error", err))
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, input PostInput, entry LedgerEntry) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   fmt.Sprintf("inventory:%s", input.Type),
		Entity:   "ledger_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta: map[string]any{
			"item_id":       entry.ItemID,
			"quantity_in":   entry.QuantityIn,
			"quantity_out":  entry.QuantityOut,
			"balance_after": entry.BalanceAfter,
			"ref":           fmt.Sprintf("%s:%d", entry.RefKind, entry.RefID),
		},
	})
}
