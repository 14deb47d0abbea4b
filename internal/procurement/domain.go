package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep-erp/storekeep/internal/shared"
)

// PRStatus is the purchase requisition lifecycle status. Transitions are
// one-way: pending_approval -> approved -> ordered -> received. Rejection is
// terminal and only reachable from pending_approval.
type PRStatus string

const (
	PRStatusPendingApproval PRStatus = "pending_approval"
	PRStatusApproved        PRStatus = "approved"
	PRStatusRejected        PRStatus = "rejected"
	PRStatusOrdered         PRStatus = "ordered"
	PRStatusReceived        PRStatus = "received"
)

// PurchaseRequisition is a request to buy stock. PRNo is assigned once at
// creation and immutable thereafter.
type PurchaseRequisition struct {
	ID              int64
	PRNo            string
	Date            time.Time
	Status          PRStatus
	RequestedBy     int64
	ApprovedBy      int64
	ApprovedDate    time.Time
	RejectedBy      int64
	RejectedDate    time.Time
	RejectionReason string
	CreatedAt       time.Time
}

// PRItem is one requested line; TotalPrice is always Quantity x UnitPrice.
type PRItem struct {
	ID         int64
	PRID       int64
	ItemID     int64
	Quantity   int64
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// GoodsReceivingNote records stock received from a supplier. PRID is zero when
// the receipt is not linked to a purchase requisition.
type GoodsReceivingNote struct {
	ID         int64
	GRNNo      string
	PRID       int64
	SupplierID int64
	InvoiceNo  string
	Date       time.Time
	ReceivedBy int64
	CreatedAt  time.Time
}

// GRNItem is one received line. Persisting it goes hand in hand with posting a
// receive ledger entry; the orchestrator keeps the two in one transaction.
type GRNItem struct {
	ID         int64
	GRNID      int64
	ItemID     int64
	Quantity   int64
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// Supplier is the procurement counterparty referenced by receiving notes.
type Supplier struct {
	ID            int64
	Name          string
	ContactPerson string
	Phone         string
	Email         string
	Address       string
}

var (
	// ErrPRNotFound indicates a missing purchase requisition.
	ErrPRNotFound = fmt.Errorf("%w: purchase requisition", shared.ErrNotFound)
	// ErrGRNNotFound indicates a missing goods receiving note.
	ErrGRNNotFound = fmt.Errorf("%w: goods receiving note", shared.ErrNotFound)
	// ErrSupplierNotFound indicates a missing supplier.
	ErrSupplierNotFound = fmt.Errorf("%w: supplier", shared.ErrNotFound)
	// ErrNoLines indicates a document without line items.
	ErrNoLines = fmt.Errorf("%w: document requires at least one line", shared.ErrValidation)
)

func stateError(pr PurchaseRequisition, required PRStatus) error {
	return &shared.StateError{
		Entity:   fmt.Sprintf("purchase requisition %s", pr.PRNo),
		Current:  string(pr.Status),
		Required: string(required),
	}
}
