package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep-erp/storekeep/internal/shared"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TransactionReceive represents stock received from a supplier.
	TransactionReceive TransactionType = "receive"
	// TransactionIssue represents stock issued to a department.
	TransactionIssue TransactionType = "issue"
	// TransactionAdjustment indicates manual corrections.
	TransactionAdjustment TransactionType = "adjustment"
)

// Direction tells whether a movement adds or removes stock.
type Direction string

const (
	// DirectionIn increases the balance.
	DirectionIn Direction = "in"
	// DirectionOut decreases the balance.
	DirectionOut Direction = "out"
)

// Item is a stock keeping unit. CurrentBalance and CurrentPrice are mutated
// only through Service posting; no other code path may touch them.
type Item struct {
	ID             int64
	Code           string
	Description    string
	CurrentBalance int64
	CurrentPrice   decimal.Decimal
	MinStockLevel  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LowStock reports whether the balance has reached the reorder threshold.
func (i Item) LowStock() bool {
	return i.CurrentBalance <= i.MinStockLevel
}

// Reference points a ledger entry at the document that caused it.
type Reference struct {
	Kind string
	ID   int64
}

// LedgerEntry is one immutable stock movement. Entries are append-only; the
// ledger is the audit source of truth and BalanceAfter snapshots the item
// balance at posting time.
type LedgerEntry struct {
	ID           int64
	ItemID       int64
	Type         TransactionType
	RefKind      string
	RefID        int64
	QuantityIn   int64
	QuantityOut  int64
	BalanceAfter int64
	UnitPrice    decimal.Decimal
	TotalPrice   decimal.Decimal
	Date         time.Time
	CreatedBy    int64
	CreatedAt    time.Time
}

// PostInput describes one movement to post.
type PostInput struct {
	ItemID    int64
	Direction Direction
	Type      TransactionType
	Quantity  int64
	UnitPrice decimal.Decimal
	Date      time.Time
	Ref       Reference
	ActorID   int64
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	ItemID int64
	From   time.Time
	To     time.Time
	Limit  int
}

var (
	// ErrItemNotFound indicates a missing item row.
	ErrItemNotFound = fmt.Errorf("%w: inventory item", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: inventory quantity must be positive", shared.ErrValidation)
	// ErrInvalidUnitPrice indicates a negative unit price.
	ErrInvalidUnitPrice = fmt.Errorf("%w: inventory unit price must be >= 0", shared.ErrValidation)
	// ErrDuplicateCode indicates an item code already in use.
	ErrDuplicateCode = fmt.Errorf("%w: inventory item code already exists", shared.ErrValidation)
)

// InsufficientStockError rejects an issue exceeding the current balance.
type InsufficientStockError struct {
	ItemID    int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: cannot issue %d from item %d, balance is %d", e.Requested, e.ItemID, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return shared.ErrInsufficientStock }

// ConsistencyError reports a balance snapshot mismatch after posting. It is a
// bug, not a recoverable condition; the transaction must abort.
type ConsistencyError struct {
	ItemID   int64
	Expected int64
	Actual   int64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("inventory: item %d balance_after %d does not match stored balance %d", e.ItemID, e.Expected, e.Actual)
}

func (e *ConsistencyError) Unwrap() error { return shared.ErrConsistency }
