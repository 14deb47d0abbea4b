package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/storekeep-erp/storekeep/internal/shared"
)

type memoryRepo struct {
	items       map[int64]*Item
	ledger      []LedgerEntry
	nextItemID  int64
	nextEntryID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]*Item)}
}

func (r *memoryRepo) addItem(code string, balance int64, price string, minLevel int64) int64 {
	r.nextItemID++
	r.items[r.nextItemID] = &Item{
		ID:             r.nextItemID,
		Code:           code,
		CurrentBalance: balance,
		CurrentPrice:   decimal.RequireFromString(price),
		MinStockLevel:  minLevel,
	}
	return r.nextItemID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return *item, nil
}

func (r *memoryRepo) GetItemByCode(ctx context.Context, code string) (Item, error) {
	for _, item := range r.items {
		if item.Code == code {
			return *item, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (r *memoryRepo) CreateItem(ctx context.Context, item Item) (int64, error) {
	r.nextItemID++
	item.ID = r.nextItemID
	r.items[item.ID] = &item
	return item.ID, nil
}

func (r *memoryRepo) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, e := range r.ledger {
		if e.ItemID == filter.ItemID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	return tx.repo.GetItem(ctx, itemID)
}

func (tx *memoryTx) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	tx.repo.nextEntryID++
	entry.ID = tx.repo.nextEntryID
	tx.repo.ledger = append(tx.repo.ledger, entry)
	return entry.ID, nil
}

func (tx *memoryTx) UpdateItemStock(ctx context.Context, itemID int64, balance int64, price decimal.Decimal) (int64, error) {
	item, ok := tx.repo.items[itemID]
	if !ok {
		return 0, ErrItemNotFound
	}
	item.CurrentBalance = balance
	item.CurrentPrice = price
	return balance, nil
}

type recordingAlerter struct {
	items []Item
}

func (a *recordingAlerter) LowStockDetected(ctx context.Context, item Item) error {
	a.items = append(a.items, item)
	return nil
}

func receive(t *testing.T, svc *Service, itemID, qty int64, price string) LedgerEntry {
	t.Helper()
	entry, err := svc.Post(context.Background(), PostInput{
		ItemID:    itemID,
		Direction: DirectionIn,
		Type:      TransactionReceive,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
		Date:      time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return entry
}

func issue(svc *Service, itemID, qty int64) (LedgerEntry, error) {
	return svc.Post(context.Background(), PostInput{
		ItemID:    itemID,
		Direction: DirectionOut,
		Type:      TransactionIssue,
		Quantity:  qty,
		Date:      time.Date(2026, time.September, 2, 0, 0, 0, 0, time.UTC),
	})
}

func TestWeightedAverageOnReceive(t *testing.T) {
	repo := newMemoryRepo()
	itemID := repo.addItem("CEM-001", 10, "2.00", 0)
	svc := NewService(repo, nil, nil, nil)

	entry := receive(t, svc, itemID, 5, "3.00")
	require.Equal(t, int64(15), entry.BalanceAfter)

	item, err := svc.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, int64(15), item.CurrentBalance)
	// 35/15 rounded to two places.
	require.Equal(t, "2.33", item.CurrentPrice.StringFixed(2))
}

func TestColdStartPriceDiscardsStale(t *testing.T) {
	repo := newMemoryRepo()
	itemID := repo.addItem("NAIL-002", 0, "99.99", 0)
	svc := NewService(repo, nil, nil, nil)

	receive(t, svc, itemID, 8, "4.50")

	item, err := svc.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, "4.50", item.CurrentPrice.StringFixed(2))
	require.Equal(t, int64(8), item.CurrentBalance)
}

func TestIssueKeepsPrice(t *testing.T) {
	repo := newMemoryRepo()
	itemID := repo.addItem("PIPE-003", 10, "2.50", 0)
	svc := NewService(repo, nil, nil, nil)

	entry, err := issue(svc, itemID, 4)
	require.NoError(t, err)
	require.Equal(t, int64(6), entry.BalanceAfter)
	require.Equal(t, "2.50", entry.UnitPrice.StringFixed(2))
	require.Equal(t, "10.00", entry.TotalPrice.StringFixed(2))

	item, err := svc.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, "2.50", item.CurrentPrice.StringFixed(2))
	require.Equal(t, int64(6), item.CurrentBalance)
}

func TestIssueRejectsInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	itemID := repo.addItem("GLUE-004", 10, "1.00", 0)
	svc := NewService(repo, nil, nil, nil)

	_, err := issue(svc, itemID, 12)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int64(12), stockErr.Requested)
	require.Equal(t, int64(10), stockErr.Available)

	item, err := svc.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, int64(10), item.CurrentBalance)
	require.Empty(t, repo.ledger)
}

func TestPostRejectsBadInput(t *testing.T) {
	repo := newMemoryRepo()
	itemID := repo.addItem("WIRE-005", 10, "1.00", 0)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Post(context.Background(), PostInput{ItemID: itemID, Direction: DirectionIn, Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Post(context.Background(), PostInput{ItemID: itemID, Direction: DirectionIn, Quantity: 1, UnitPrice: decimal.RequireFromString("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitPrice)
	require.Empty(t, repo.ledger)
}

func TestBalanceEqualsLedgerSum(t *testing.T) {
	repo := newMemoryRepo()
	itemID := repo.addItem("BOLT-006", 0, "0", 0)
	svc := NewService(repo, nil, nil, nil)

	receive(t, svc, itemID, 10, "2.00")
	receive(t, svc, itemID, 5, "3.00")
	_, err := issue(svc, itemID, 7)
	require.NoError(t, err)
	receive(t, svc, itemID, 2, "4.00")

	entries, err := svc.ListLedger(context.Background(), LedgerFilter{ItemID: itemID})
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.QuantityIn - e.QuantityOut
	}
	item, err := svc.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, item.CurrentBalance, sum)
	require.Equal(t, item.CurrentBalance, entries[len(entries)-1].BalanceAfter)
}

type mismatchTx struct {
	*memoryTx
}

func (tx *mismatchTx) UpdateItemStock(ctx context.Context, itemID int64, balance int64, price decimal.Decimal) (int64, error) {
	stored, err := tx.memoryTx.UpdateItemStock(ctx, itemID, balance, price)
	if err != nil {
		return 0, err
	}
	return stored + 1, nil
}

func TestConsistencyMismatchAborts(t *testing.T) {
	repo := newMemoryRepo()
	itemID := repo.addItem("SAND-007", 10, "1.50", 0)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.PostWithin(context.Background(), &mismatchTx{&memoryTx{repo: repo}}, PostInput{
		ItemID:    itemID,
		Direction: DirectionOut,
		Type:      TransactionIssue,
		Quantity:  3,
	})
	require.ErrorIs(t, err, shared.ErrConsistency)
	var consistencyErr *ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	require.Equal(t, int64(7), consistencyErr.Expected)
}

func TestLowStockAlertAfterIssue(t *testing.T) {
	repo := newMemoryRepo()
	itemID := repo.addItem("OIL-008", 12, "5.00", 10)
	alerter := &recordingAlerter{}
	svc := NewService(repo, nil, alerter, nil)

	_, err := issue(svc, itemID, 1)
	require.NoError(t, err)
	require.Empty(t, alerter.items, "balance 11 is above the threshold")

	_, err = issue(svc, itemID, 3)
	require.NoError(t, err)
	require.Len(t, alerter.items, 1)
	require.Equal(t, "OIL-008", alerter.items[0].Code)
	require.Equal(t, int64(8), alerter.items[0].CurrentBalance)
}
