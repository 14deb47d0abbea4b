package requisition

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/storekeep-erp/storekeep/internal/inventory"
	"github.com/storekeep-erp/storekeep/internal/numbering"
	"github.com/storekeep-erp/storekeep/internal/shared"
)

type fakeStore struct {
	srs      map[int64]StoreRequisition
	srItems  map[int64][]SRItem
	sivs     map[int64]StoreIssue
	sivItems map[int64][]SIVItem
	seqs     map[string]int64
	postings []inventory.PostInput
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		srs:      make(map[int64]StoreRequisition),
		srItems:  make(map[int64][]SRItem),
		sivs:     make(map[int64]StoreIssue),
		sivItems: make(map[int64][]SIVItem),
		seqs:     make(map[string]int64),
	}
}

func (s *fakeStore) snapshot() *fakeStore {
	clone := newFakeStore()
	clone.nextID = s.nextID
	for k, v := range s.srs {
		clone.srs[k] = v
	}
	for k, v := range s.srItems {
		clone.srItems[k] = append([]SRItem(nil), v...)
	}
	for k, v := range s.sivs {
		clone.sivs[k] = v
	}
	for k, v := range s.sivItems {
		clone.sivItems[k] = append([]SIVItem(nil), v...)
	}
	for k, v := range s.seqs {
		clone.seqs[k] = v
	}
	clone.postings = append([]inventory.PostInput(nil), s.postings...)
	return clone
}

func (s *fakeStore) restore(from *fakeStore) {
	s.srs = from.srs
	s.srItems = from.srItems
	s.sivs = from.sivs
	s.sivItems = from.sivItems
	s.seqs = from.seqs
	s.postings = from.postings
	s.nextID = from.nextID
}

type fakeRepo struct {
	store *fakeStore
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.store.snapshot()
	if err := fn(ctx, &fakeTx{store: r.store}); err != nil {
		r.store.restore(before)
		return err
	}
	return nil
}

func (r *fakeRepo) GetSR(ctx context.Context, id int64) (StoreRequisition, []SRItem, error) {
	sr, ok := r.store.srs[id]
	if !ok {
		return StoreRequisition{}, nil, ErrSRNotFound
	}
	return sr, append([]SRItem(nil), r.store.srItems[id]...), nil
}

func (r *fakeRepo) GetSIV(ctx context.Context, id int64) (StoreIssue, []SIVItem, error) {
	siv, ok := r.store.sivs[id]
	if !ok {
		return StoreIssue{}, nil, ErrSIVNotFound
	}
	return siv, append([]SIVItem(nil), r.store.sivItems[id]...), nil
}

type fakeTx struct {
	store *fakeStore
}

func (tx *fakeTx) CreateSR(ctx context.Context, sr StoreRequisition) (int64, error) {
	tx.store.nextID++
	sr.ID = tx.store.nextID
	tx.store.srs[sr.ID] = sr
	return sr.ID, nil
}

func (tx *fakeTx) InsertSRItem(ctx context.Context, item SRItem) (int64, error) {
	tx.store.nextID++
	item.ID = tx.store.nextID
	tx.store.srItems[item.SRID] = append(tx.store.srItems[item.SRID], item)
	return item.ID, nil
}

func (tx *fakeTx) GetSRForUpdate(ctx context.Context, id int64) (StoreRequisition, []SRItem, error) {
	sr, ok := tx.store.srs[id]
	if !ok {
		return StoreRequisition{}, nil, ErrSRNotFound
	}
	return sr, append([]SRItem(nil), tx.store.srItems[id]...), nil
}

func (tx *fakeTx) SetSRChecked(ctx context.Context, id, actorID int64, at time.Time) error {
	sr := tx.store.srs[id]
	sr.Status = SRStatusChecked
	sr.CheckedBy = actorID
	sr.CheckedDate = at
	tx.store.srs[id] = sr
	return nil
}

func (tx *fakeTx) SetSRApproved(ctx context.Context, id, actorID int64, at time.Time) error {
	sr := tx.store.srs[id]
	sr.Status = SRStatusApproved
	sr.ApprovedBy = actorID
	sr.ApprovedDate = at
	tx.store.srs[id] = sr
	return nil
}

func (tx *fakeTx) SetSRRejected(ctx context.Context, id, actorID int64, at time.Time, reason string) error {
	sr := tx.store.srs[id]
	sr.Status = SRStatusRejected
	sr.RejectedBy = actorID
	sr.RejectedDate = at
	sr.RejectionReason = reason
	tx.store.srs[id] = sr
	return nil
}

func (tx *fakeTx) UpdateSRStatus(ctx context.Context, id int64, status SRStatus) error {
	sr := tx.store.srs[id]
	sr.Status = status
	tx.store.srs[id] = sr
	return nil
}

func (tx *fakeTx) UpdateSRItemReview(ctx context.Context, line SRItem) error {
	items := tx.store.srItems[line.SRID]
	for i := range items {
		if items[i].ID == line.ID {
			items[i] = line
			return nil
		}
	}
	return fmt.Errorf("%w: sr line %d", shared.ErrNotFound, line.ID)
}

func (tx *fakeTx) CreateSIV(ctx context.Context, siv StoreIssue) (int64, error) {
	tx.store.nextID++
	siv.ID = tx.store.nextID
	tx.store.sivs[siv.ID] = siv
	return siv.ID, nil
}

func (tx *fakeTx) InsertSIVItem(ctx context.Context, item SIVItem) (int64, error) {
	tx.store.nextID++
	item.ID = tx.store.nextID
	tx.store.sivItems[item.SIVID] = append(tx.store.sivItems[item.SIVID], item)
	return item.ID, nil
}

func (tx *fakeTx) SumIssuedBySR(ctx context.Context, srID int64) (map[int64]int64, error) {
	totals := make(map[int64]int64)
	for sivID, siv := range tx.store.sivs {
		if siv.SRID != srID {
			continue
		}
		for _, line := range tx.store.sivItems[sivID] {
			totals[line.ItemID] += line.Quantity
		}
	}
	return totals, nil
}

func (tx *fakeTx) Ledger() inventory.TxRepository { return nil }

func (tx *fakeTx) Sequences() numbering.Allocator {
	return fakeAllocator{store: tx.store}
}

type fakeAllocator struct {
	store *fakeStore
}

func (a fakeAllocator) NextSeq(ctx context.Context, series, period string) (int64, error) {
	key := series + ":" + period
	a.store.seqs[key]++
	return a.store.seqs[key], nil
}

// fakeLedger costs every issue at a fixed per-item average price and records
// which items were flagged for low-stock checks.
type fakeLedger struct {
	store      *fakeStore
	prices     map[int64]decimal.Decimal
	balances   map[int64]int64
	lowChecked []int64
}

func (l *fakeLedger) PostWithin(ctx context.Context, _ inventory.TxRepository, input inventory.PostInput) (inventory.LedgerEntry, error) {
	avg, ok := l.prices[input.ItemID]
	if !ok {
		return inventory.LedgerEntry{}, inventory.ErrItemNotFound
	}
	if input.Direction == inventory.DirectionOut && input.Quantity > l.balances[input.ItemID] {
		return inventory.LedgerEntry{}, &inventory.InsufficientStockError{
			ItemID: input.ItemID, Requested: input.Quantity, Available: l.balances[input.ItemID],
		}
	}
	l.store.postings = append(l.store.postings, input)
	return inventory.LedgerEntry{
		ID:          int64(len(l.store.postings)),
		ItemID:      input.ItemID,
		Type:        input.Type,
		QuantityOut: input.Quantity,
		UnitPrice:   avg,
		TotalPrice:  avg.Mul(decimal.NewFromInt(input.Quantity)).Round(2),
	}, nil
}

func (l *fakeLedger) NotifyLowStock(ctx context.Context, itemIDs []int64) {
	l.lowChecked = append(l.lowChecked, itemIDs...)
}

func newTestFixture() (*fakeStore, *fakeLedger, *Service) {
	store := newFakeStore()
	ledger := &fakeLedger{
		store: store,
		prices: map[int64]decimal.Decimal{
			201: decimal.RequireFromString("2.33"),
			202: decimal.RequireFromString("5.50"),
		},
		balances: map[int64]int64{201: 100, 202: 100},
	}
	return store, ledger, NewService(&fakeRepo{store: store}, ledger, nil, nil, nil)
}

func createPendingSR(t *testing.T, svc *Service) StoreRequisition {
	t.Helper()
	sr, err := svc.CreateStoreRequisition(context.Background(), CreateSRInput{
		Date:        time.Date(2026, time.September, 12, 0, 0, 0, 0, time.UTC),
		Department:  "Kitchen",
		RequestedBy: 4,
		Lines: []SRLineInput{
			{ItemID: 201, Quantity: 10},
			{ItemID: 202, Quantity: 6},
		},
	})
	require.NoError(t, err)
	return sr
}

func TestCreateStoreRequisition(t *testing.T) {
	_, _, svc := newTestFixture()

	sr := createPendingSR(t, svc)
	require.Equal(t, "SR-202609-0001", sr.SRNo)
	require.Equal(t, SRStatusPending, sr.Status)

	_, err := svc.CreateStoreRequisition(context.Background(), CreateSRInput{RequestedBy: 4})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCheckThenApproveQuantityCascade(t *testing.T) {
	_, _, svc := newTestFixture()
	sr := createPendingSR(t, svc)

	_, lines, err := svc.GetStoreRequisition(context.Background(), sr.ID)
	require.NoError(t, err)

	// Checker trims the first line, leaves the second untouched.
	checked, err := svc.CheckStoreRequisition(context.Background(), sr.ID, 5, []SRLineReview{
		{LineID: lines[0].ID, Quantity: 8},
	})
	require.NoError(t, err)
	require.Equal(t, SRStatusChecked, checked.Status)
	require.Equal(t, int64(5), checked.CheckedBy)

	// Approver trims the first line again; second line still falls back to
	// its requested quantity.
	approved, err := svc.ApproveStoreRequisition(context.Background(), sr.ID, 6, []SRLineReview{
		{LineID: lines[0].ID, Quantity: 7},
	})
	require.NoError(t, err)
	require.Equal(t, SRStatusApproved, approved.Status)

	_, lines, err = svc.GetStoreRequisition(context.Background(), sr.ID)
	require.NoError(t, err)
	require.Equal(t, int64(7), lines[0].TargetQty())
	require.Equal(t, int64(6), lines[1].TargetQty())
}

func TestApproveStraightFromPending(t *testing.T) {
	_, _, svc := newTestFixture()
	sr := createPendingSR(t, svc)

	approved, err := svc.ApproveStoreRequisition(context.Background(), sr.ID, 6, nil)
	require.NoError(t, err)
	require.Equal(t, SRStatusApproved, approved.Status)

	// Checking after approval is out of order.
	_, err = svc.CheckStoreRequisition(context.Background(), sr.ID, 5, nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRejectIsTerminal(t *testing.T) {
	_, _, svc := newTestFixture()
	sr := createPendingSR(t, svc)

	rejected, err := svc.RejectStoreRequisition(context.Background(), sr.ID, 5, "budget freeze")
	require.NoError(t, err)
	require.Equal(t, SRStatusRejected, rejected.Status)
	require.Equal(t, "budget freeze", rejected.RejectionReason)

	_, err = svc.ApproveStoreRequisition(context.Background(), sr.ID, 6, nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.CreateStoreIssue(context.Background(), CreateSIVInput{
		SRID: sr.ID, IssuedBy: 2, Lines: []SIVLineInput{{ItemID: 201, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestFullIssueMarksIssued(t *testing.T) {
	store, ledger, svc := newTestFixture()
	sr := createPendingSR(t, svc)
	_, err := svc.ApproveStoreRequisition(context.Background(), sr.ID, 6, nil)
	require.NoError(t, err)

	siv, err := svc.CreateStoreIssue(context.Background(), CreateSIVInput{
		SRID:     sr.ID,
		Date:     time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC),
		IssuedBy: 2,
		Lines: []SIVLineInput{
			{ItemID: 201, Quantity: 10},
			{ItemID: 202, Quantity: 6},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "SIV-202609-0001", siv.SIVNo)
	require.Len(t, store.postings, 2)
	require.Equal(t, inventory.DirectionOut, store.postings[0].Direction)

	got, _, err := svc.GetStoreRequisition(context.Background(), sr.ID)
	require.NoError(t, err)
	require.Equal(t, SRStatusIssued, got.Status)

	// Lines were costed from the posting, not from any client input.
	_, lines, err := svc.GetStoreIssue(context.Background(), siv.ID)
	require.NoError(t, err)
	require.Equal(t, "2.33", lines[0].UnitPrice.StringFixed(2))
	require.Equal(t, "23.30", lines[0].TotalPrice.StringFixed(2))

	require.ElementsMatch(t, []int64{201, 202}, ledger.lowChecked)
}

func TestPartialIssueAccumulates(t *testing.T) {
	_, _, svc := newTestFixture()
	sr := createPendingSR(t, svc)
	_, err := svc.ApproveStoreRequisition(context.Background(), sr.ID, 6, nil)
	require.NoError(t, err)

	_, err = svc.CreateStoreIssue(context.Background(), CreateSIVInput{
		SRID: sr.ID, IssuedBy: 2,
		Lines: []SIVLineInput{{ItemID: 201, Quantity: 4}},
	})
	require.NoError(t, err)

	got, _, err := svc.GetStoreRequisition(context.Background(), sr.ID)
	require.NoError(t, err)
	require.Equal(t, SRStatusPartiallyIssued, got.Status)

	// The remainder of both lines completes the requisition.
	siv, err := svc.CreateStoreIssue(context.Background(), CreateSIVInput{
		SRID: sr.ID, IssuedBy: 2,
		Lines: []SIVLineInput{
			{ItemID: 201, Quantity: 6},
			{ItemID: 202, Quantity: 6},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "SIV-202609-0002", siv.SIVNo)

	got, _, err = svc.GetStoreRequisition(context.Background(), sr.ID)
	require.NoError(t, err)
	require.Equal(t, SRStatusIssued, got.Status)
}

func TestIssueCannotExceedTarget(t *testing.T) {
	store, _, svc := newTestFixture()
	sr := createPendingSR(t, svc)
	_, err := svc.ApproveStoreRequisition(context.Background(), sr.ID, 6, nil)
	require.NoError(t, err)

	_, err = svc.CreateStoreIssue(context.Background(), CreateSIVInput{
		SRID: sr.ID, IssuedBy: 2,
		Lines: []SIVLineInput{{ItemID: 201, Quantity: 8}},
	})
	require.NoError(t, err)

	_, err = svc.CreateStoreIssue(context.Background(), CreateSIVInput{
		SRID: sr.ID, IssuedBy: 2,
		Lines: []SIVLineInput{{ItemID: 201, Quantity: 3}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Len(t, store.sivs, 1, "rejected voucher must not persist")
	require.Len(t, store.postings, 1)
}

func TestIssueRollsBackOnLineFailure(t *testing.T) {
	store, ledger, svc := newTestFixture()
	ledger.balances[202] = 2
	sr := createPendingSR(t, svc)
	_, err := svc.ApproveStoreRequisition(context.Background(), sr.ID, 6, nil)
	require.NoError(t, err)

	_, err = svc.CreateStoreIssue(context.Background(), CreateSIVInput{
		SRID: sr.ID, IssuedBy: 2,
		Lines: []SIVLineInput{
			{ItemID: 201, Quantity: 10},
			{ItemID: 202, Quantity: 6},
		},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	require.Empty(t, store.sivs, "voucher must not survive a failed line")
	require.Empty(t, store.postings, "postings from earlier lines must be rolled back")
	got, _, err := svc.GetStoreRequisition(context.Background(), sr.ID)
	require.NoError(t, err)
	require.Equal(t, SRStatusApproved, got.Status)
}

func TestIssueRejectsItemNotOnRequisition(t *testing.T) {
	_, _, svc := newTestFixture()
	sr := createPendingSR(t, svc)
	_, err := svc.ApproveStoreRequisition(context.Background(), sr.ID, 6, nil)
	require.NoError(t, err)

	_, err = svc.CreateStoreIssue(context.Background(), CreateSIVInput{
		SRID: sr.ID, IssuedBy: 2,
		Lines: []SIVLineInput{{ItemID: 999, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
