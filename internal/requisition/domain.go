package requisition

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep-erp/storekeep/internal/shared"
)

// SRStatus is the store requisition workflow state.
type SRStatus string

const (
	SRStatusPending         SRStatus = "pending"
	SRStatusChecked         SRStatus = "checked"
	SRStatusApproved        SRStatus = "approved"
	SRStatusRejected        SRStatus = "rejected"
	SRStatusPartiallyIssued SRStatus = "partially_issued"
	SRStatusIssued          SRStatus = "issued"
)

// StoreRequisition is a department's request for stock. It moves
// pending -> checked -> approved and then to issued through store issue
// vouchers; rejected is terminal.
type StoreRequisition struct {
	ID              int64
	SRNo            string
	Date            time.Time
	Department      string
	RequestedBy     int64
	Status          SRStatus
	CheckedBy       int64
	CheckedDate     time.Time
	ApprovedBy      int64
	ApprovedDate    time.Time
	RejectedBy      int64
	RejectedDate    time.Time
	RejectionReason string
	CreatedAt       time.Time
}

// SRItem is one requested line. CheckedQty and ApprovedQty are nil until the
// corresponding workflow step sets them; the issue target for a line is
// ApprovedQty when set, else CheckedQty, else RequestedQty.
type SRItem struct {
	ID           int64
	SRID         int64
	ItemID       int64
	RequestedQty int64
	CheckedQty   *int64
	ApprovedQty  *int64
}

// TargetQty resolves the quantity a line is entitled to receive.
func (it SRItem) TargetQty() int64 {
	if it.ApprovedQty != nil {
		return *it.ApprovedQty
	}
	if it.CheckedQty != nil {
		return *it.CheckedQty
	}
	return it.RequestedQty
}

// StoreIssue is a store issue voucher releasing stock against an approved
// requisition. Several issues may serve one requisition.
type StoreIssue struct {
	ID        int64
	SIVNo     string
	SRID      int64
	Date      time.Time
	IssuedBy  int64
	CreatedAt time.Time
}

// SIVItem is one issued line, costed at the item's weighted average price at
// posting time.
type SIVItem struct {
	ID         int64
	SIVID      int64
	ItemID     int64
	Quantity   int64
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

var (
	// ErrSRNotFound is returned when a store requisition id does not exist.
	ErrSRNotFound = fmt.Errorf("%w: store requisition", shared.ErrNotFound)
	// ErrSIVNotFound is returned when a store issue id does not exist.
	ErrSIVNotFound = fmt.Errorf("%w: store issue", shared.ErrNotFound)
	// ErrNoLines rejects documents without lines.
	ErrNoLines = fmt.Errorf("%w: document requires at least one line", shared.ErrValidation)
)

func stateError(sr StoreRequisition, required string) error {
	return &shared.StateError{Entity: fmt.Sprintf("store requisition %s", sr.SRNo), Current: string(sr.Status), Required: required}
}
