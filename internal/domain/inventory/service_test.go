package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRemote is an in-memory RemoteStore with per-method failure switches.
type fakeRemote struct {
	items map[string]Item
	txns  map[string]Transaction
	recs  map[string]WithdrawalRecord

	failInsertItem bool
	failUpdateItem bool
	failUpdateQty  bool
	failInsertTxn  bool
	failUpdateTxn  bool
	failDeleteTxn  bool
	failSelects    bool
	failSelectRecs bool
	failReplaceAll bool
	failInsertRec  bool
	qtyUpdates     []int // every quantity written, compensations included
	errInjected    error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		items:       map[string]Item{},
		txns:        map[string]Transaction{},
		recs:        map[string]WithdrawalRecord{},
		errInjected: errors.New("injected"),
	}
}

func (f *fakeRemote) SelectItems(context.Context) ([]Item, error) {
	if f.failSelects {
		return nil, f.errInjected
	}
	out := make([]Item, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeRemote) SelectTransactions(context.Context) ([]Transaction, error) {
	if f.failSelects {
		return nil, f.errInjected
	}
	out := make([]Transaction, 0, len(f.txns))
	for _, t := range f.txns {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeRemote) SelectWithdrawals(context.Context) ([]WithdrawalRecord, error) {
	if f.failSelects || f.failSelectRecs {
		return nil, f.errInjected
	}
	out := make([]WithdrawalRecord, 0, len(f.recs))
	for _, r := range f.recs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRemote) InsertItem(_ context.Context, it Item) error {
	if f.failInsertItem {
		return f.errInjected
	}
	f.items[it.ID] = it
	return nil
}

func (f *fakeRemote) UpdateItem(_ context.Context, it Item) error {
	if f.failUpdateItem {
		return f.errInjected
	}
	f.items[it.ID] = it
	return nil
}

func (f *fakeRemote) UpdateItemQuantity(_ context.Context, id string, qty int, updatedAt time.Time) error {
	if f.failUpdateQty {
		return f.errInjected
	}
	it, ok := f.items[id]
	if !ok {
		return errors.New("no such item")
	}
	it.Quantity = qty
	it.LastUpdated = updatedAt
	f.items[id] = it
	f.qtyUpdates = append(f.qtyUpdates, qty)
	return nil
}

func (f *fakeRemote) DeleteItem(_ context.Context, id string) error {
	delete(f.items, id)
	for tid, t := range f.txns {
		if t.ItemID == id {
			delete(f.txns, tid)
		}
	}
	for rid, r := range f.recs {
		if r.ItemID == id {
			delete(f.recs, rid)
		}
	}
	return nil
}

func (f *fakeRemote) InsertTransaction(_ context.Context, t Transaction) error {
	if f.failInsertTxn {
		return f.errInjected
	}
	f.txns[t.ID] = t
	return nil
}

func (f *fakeRemote) UpdateTransaction(_ context.Context, t Transaction) error {
	if f.failUpdateTxn {
		return f.errInjected
	}
	f.txns[t.ID] = t
	return nil
}

func (f *fakeRemote) DeleteTransaction(_ context.Context, id string) error {
	if f.failDeleteTxn {
		return f.errInjected
	}
	delete(f.txns, id)
	return nil
}

func (f *fakeRemote) InsertWithdrawal(_ context.Context, rec WithdrawalRecord) error {
	if f.failInsertRec {
		return f.errInjected
	}
	f.recs[rec.ID] = rec
	return nil
}

func (f *fakeRemote) DeleteWithdrawal(_ context.Context, id string) error {
	delete(f.recs, id)
	return nil
}

func (f *fakeRemote) ReplaceAll(_ context.Context, items []Item, txns []Transaction, recs []WithdrawalRecord) error {
	if f.failReplaceAll {
		return f.errInjected
	}
	f.items = map[string]Item{}
	f.txns = map[string]Transaction{}
	f.recs = map[string]WithdrawalRecord{}
	for _, it := range items {
		f.items[it.ID] = it
	}
	for _, t := range txns {
		f.txns[t.ID] = t
	}
	for _, r := range recs {
		f.recs[r.ID] = r
	}
	return nil
}

func (f *fakeRemote) Ping(context.Context) error { return nil }

// fakeCache records snapshots in memory.
type fakeCache struct {
	items []Item
	txns  []Transaction
	saves int
}

func (c *fakeCache) SaveItems(items []Item)                   { c.items = items; c.saves++ }
func (c *fakeCache) SaveTransactions(t []Transaction)         { c.txns = t; c.saves++ }
func (c *fakeCache) LoadItems() ([]Item, error)               { return c.items, nil }
func (c *fakeCache) LoadTransactions() ([]Transaction, error) { return c.txns, nil }
func (c *fakeCache) Clear()                                   { c.items, c.txns = nil, nil }

func newTestService(t *testing.T) (*Service, *fakeRemote, *fakeCache) {
	t.Helper()
	remote := newFakeRemote()
	cache := &fakeCache{}
	svc := NewService(remote, cache, slog.New(slog.DiscardHandler))

	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}
	return svc, remote, cache
}

func mustAddItem(t *testing.T, svc *Service, code string, qty int) Item {
	t.Helper()
	it, err := svc.AddItem(context.Background(), NewItem{Code: code, Name: "テスト部品 " + code, Quantity: qty})
	require.NoError(t, err)
	return it
}

func TestAddItemDefaultsUnit(t *testing.T) {
	svc, remote, _ := newTestService(t)

	it := mustAddItem(t, svc, "A100", 10)
	require.Equal(t, DefaultUnit, it.Unit)
	require.NotEmpty(t, it.ID)
	require.Contains(t, remote.items, it.ID)
}

func TestAddItemDuplicateCodeWritesNothing(t *testing.T) {
	svc, remote, _ := newTestService(t)
	mustAddItem(t, svc, "A100", 10)

	_, err := svc.AddItem(context.Background(), NewItem{Code: "A100", Name: "重複"})
	require.ErrorIs(t, err, ErrDuplicateCode)
	require.Len(t, remote.items, 1)
	require.Len(t, svc.Items(ItemFilters{}), 1)
}

func TestAddItemRemoteFailureLeavesLocalUntouched(t *testing.T) {
	svc, remote, cache := newTestService(t)
	remote.failInsertItem = true

	_, err := svc.AddItem(context.Background(), NewItem{Code: "A100", Name: "部品"})
	require.ErrorIs(t, err, ErrRemoteWrite)
	require.Empty(t, svc.Items(ItemFilters{}))
	require.Zero(t, cache.saves)
}

func TestEditItemRejectsDuplicateCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustAddItem(t, svc, "A100", 10)
	b := mustAddItem(t, svc, "B200", 5)

	code := "A100"
	_, err := svc.EditItem(context.Background(), b.ID, ItemUpdate{Code: &code})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestApplyTransactionStockFlow(t *testing.T) {
	svc, remote, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 10)

	txn, err := svc.ApplyTransaction(context.Background(), it.ID, StockOut, 3, "出荷")
	require.NoError(t, err)
	require.Equal(t, StockOut, txn.Type)
	require.Equal(t, it.Code, txn.ItemCode)

	got, ok := svc.ItemByID(it.ID)
	require.True(t, ok)
	require.Equal(t, 7, got.Quantity)
	require.Equal(t, 7, remote.items[it.ID].Quantity)

	_, err = svc.ApplyTransaction(context.Background(), it.ID, StockIn, 5, "")
	require.NoError(t, err)
	got, _ = svc.ItemByID(it.ID)
	require.Equal(t, 12, got.Quantity)

	txns := svc.Transactions(TransactionFilters{})
	require.Len(t, txns, 2)
	require.Equal(t, StockIn, txns[0].Type) // newest first
}

func TestApplyTransactionInsufficientStock(t *testing.T) {
	svc, remote, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 2)

	_, err := svc.ApplyTransaction(context.Background(), it.ID, StockOut, 3, "")
	require.ErrorIs(t, err, ErrInsufficientStock)

	got, _ := svc.ItemByID(it.ID)
	require.Equal(t, 2, got.Quantity)
	require.Empty(t, remote.qtyUpdates)
	require.Empty(t, svc.Transactions(TransactionFilters{}))
}

func TestApplyTransactionRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 10)

	_, err := svc.ApplyTransaction(context.Background(), it.ID, StockIn, 0, "")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyTransaction(context.Background(), it.ID, TxType("調整"), 1, "")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyTransaction(context.Background(), "missing", StockIn, 1, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyTransactionCompensatesFailedInsert(t *testing.T) {
	svc, remote, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 10)
	remote.failInsertTxn = true

	_, err := svc.ApplyTransaction(context.Background(), it.ID, StockOut, 4, "")
	require.ErrorIs(t, err, ErrRemoteWrite)

	// First write moved the quantity to 6, the compensation restored 10.
	require.Equal(t, []int{6, 10}, remote.qtyUpdates)
	require.Equal(t, 10, remote.items[it.ID].Quantity)

	got, _ := svc.ItemByID(it.ID)
	require.Equal(t, 10, got.Quantity)
	require.Empty(t, svc.Transactions(TransactionFilters{}))
}

func TestEditTransactionShiftsQuantityByDelta(t *testing.T) {
	svc, _, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 10)
	txn, err := svc.ApplyTransaction(context.Background(), it.ID, StockOut, 3, "")
	require.NoError(t, err)

	qty := 5
	edited, err := svc.EditTransaction(context.Background(), txn.ID, TxUpdate{Quantity: &qty})
	require.NoError(t, err)
	require.Equal(t, 5, edited.Quantity)

	got, _ := svc.ItemByID(it.ID)
	require.Equal(t, 5, got.Quantity)
}

func TestEditTransactionInsufficientAfterEdit(t *testing.T) {
	svc, _, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 10)
	txn, err := svc.ApplyTransaction(context.Background(), it.ID, StockOut, 3, "")
	require.NoError(t, err)

	qty := 50
	_, err = svc.EditTransaction(context.Background(), txn.ID, TxUpdate{Quantity: &qty})
	require.ErrorIs(t, err, ErrInsufficientStock)

	got, _ := svc.ItemByID(it.ID)
	require.Equal(t, 7, got.Quantity)
}

func TestEditTransactionCompensatesFailedUpdate(t *testing.T) {
	svc, remote, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 10)
	txn, err := svc.ApplyTransaction(context.Background(), it.ID, StockOut, 3, "")
	require.NoError(t, err)
	remote.failUpdateTxn = true

	qty := 5
	_, err = svc.EditTransaction(context.Background(), txn.ID, TxUpdate{Quantity: &qty})
	require.ErrorIs(t, err, ErrRemoteWrite)

	got, _ := svc.ItemByID(it.ID)
	require.Equal(t, 7, got.Quantity)
	require.Equal(t, 7, remote.items[it.ID].Quantity)
}

func TestDeleteTransactionRollsBackEffect(t *testing.T) {
	svc, _, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 10)
	txn, err := svc.ApplyTransaction(context.Background(), it.ID, StockOut, 3, "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(context.Background(), txn.ID))

	got, _ := svc.ItemByID(it.ID)
	require.Equal(t, 10, got.Quantity)
	require.Empty(t, svc.Transactions(TransactionFilters{}))
}

func TestDeleteTransactionWouldGoNegative(t *testing.T) {
	svc, _, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 0)
	txn, err := svc.ApplyTransaction(context.Background(), it.ID, StockIn, 5, "")
	require.NoError(t, err)
	_, err = svc.ApplyTransaction(context.Background(), it.ID, StockOut, 4, "")
	require.NoError(t, err)

	// Removing the 入庫 of 5 would take the quantity to -4.
	err = svc.DeleteTransaction(context.Background(), txn.ID)
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestDeleteItemPurgesTransactionsLocally(t *testing.T) {
	svc, remote, _ := newTestService(t)
	a := mustAddItem(t, svc, "A100", 10)
	b := mustAddItem(t, svc, "B200", 10)
	_, err := svc.ApplyTransaction(context.Background(), a.ID, StockOut, 1, "")
	require.NoError(t, err)
	_, err = svc.ApplyTransaction(context.Background(), b.ID, StockOut, 1, "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteItem(context.Background(), a.ID))

	require.Len(t, svc.Items(ItemFilters{}), 1)
	txns := svc.Transactions(TransactionFilters{})
	require.Len(t, txns, 1)
	require.Equal(t, b.ID, txns[0].ItemID)
	require.NotContains(t, remote.items, a.ID)
}

func TestWithdrawalRecordLifecycle(t *testing.T) {
	svc, remote, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 10)

	rec, err := svc.AddWithdrawalRecord(context.Background(), it.ID, NewWithdrawal{
		WithdrawalQuantity: 2,
		Quantity:           15,
		Note:               "3月:10 7月:5",
	})
	require.NoError(t, err)
	require.Equal(t, WithdrawalReason, rec.Reason)
	require.Equal(t, DefaultUnit, rec.Unit)
	require.Contains(t, remote.recs, rec.ID)

	got, _ := svc.ItemByID(it.ID)
	require.Len(t, got.WithdrawalRecords, 1)

	require.NoError(t, svc.DeleteWithdrawalRecord(context.Background(), it.ID, rec.ID))
	got, _ = svc.ItemByID(it.ID)
	require.Empty(t, got.WithdrawalRecords)
	require.NotContains(t, remote.recs, rec.ID)
}

func TestReconcileFromRemoteReplacesWholesale(t *testing.T) {
	svc, remote, cache := newTestService(t)
	stale := mustAddItem(t, svc, "OLD", 1)

	// Another client rewrote the remote store behind our back.
	fresh := Item{ID: "r-1", Code: "B1", Name: "リモート品", Quantity: 42, Unit: DefaultUnit}
	remote.items = map[string]Item{fresh.ID: fresh}
	remote.txns = map[string]Transaction{}
	remote.recs = map[string]WithdrawalRecord{
		"w-1": {ID: "w-1", ItemID: fresh.ID, Code: "B1", Quantity: 10},
	}

	require.NoError(t, svc.ReconcileFromRemote(context.Background()))

	items := svc.Items(ItemFilters{})
	require.Len(t, items, 1)
	require.Equal(t, fresh.ID, items[0].ID)
	require.Len(t, items[0].WithdrawalRecords, 1)

	_, ok := svc.ItemByID(stale.ID)
	require.False(t, ok)
	require.Len(t, cache.items, 1)
}

func TestReconcileFromRemotePartialReadKeepsLocal(t *testing.T) {
	svc, remote, _ := newTestService(t)
	it := mustAddItem(t, svc, "A100", 10)
	remote.failSelectRecs = true

	err := svc.ReconcileFromRemote(context.Background())
	require.ErrorIs(t, err, ErrSyncFailed)

	// All three reads must succeed before anything is replaced.
	got, ok := svc.ItemByID(it.ID)
	require.True(t, ok)
	require.Equal(t, 10, got.Quantity)
}

func TestImportReplaceIsDestructive(t *testing.T) {
	svc, remote, _ := newTestService(t)
	mustAddItem(t, svc, "OLD", 1)

	data := Dataset{
		Items: []Item{{ID: "n-1", Code: "N1", Name: "輸入品", Quantity: 5, Unit: DefaultUnit}},
		Withdrawals: []WithdrawalRecord{
			{ID: "w-1", ItemID: "n-1", Code: "N1", Quantity: 3},
		},
	}
	require.NoError(t, svc.ImportReplace(context.Background(), data))

	items := svc.Items(ItemFilters{})
	require.Len(t, items, 1)
	require.Equal(t, "n-1", items[0].ID)
	require.Len(t, items[0].WithdrawalRecords, 1)
	require.Len(t, remote.items, 1)
	require.NotContains(t, remote.items, "OLD")
}

func TestSubscribeDeliversEvents(t *testing.T) {
	svc, _, _ := newTestService(t)
	ch := svc.Subscribe()

	mustAddItem(t, svc, "A100", 1)

	select {
	case ev := <-ch:
		require.Equal(t, EventItemsChanged, ev)
	default:
		t.Fatal("expected an items event")
	}
}

func TestFilterItemsStockStatus(t *testing.T) {
	items := []Item{
		{Code: "A", Quantity: 0},
		{Code: "B", Quantity: 3},
		{Code: "C", Quantity: 50},
	}

	require.Len(t, FilterItems(items, ItemFilters{StockStatus: "out"}), 1)
	low := FilterItems(items, ItemFilters{StockStatus: "low"})
	require.Len(t, low, 1)
	require.Equal(t, "B", low[0].Code)
	require.Len(t, FilterItems(items, ItemFilters{StockStatus: "sufficient"}), 1)
}

func TestFilterTransactionsByTypeAndDate(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC) }
	txns := []Transaction{
		{ID: "1", Type: StockIn, ItemCode: "A", Date: day(1)},
		{ID: "2", Type: StockOut, ItemCode: "A", Date: day(5)},
		{ID: "3", Type: StockOut, ItemCode: "B", Date: day(9)},
	}

	out := FilterTransactions(txns, TransactionFilters{Type: StockOut})
	require.Len(t, out, 2)
	require.Equal(t, "3", out[0].ID) // newest first by default

	ranged := FilterTransactions(txns, TransactionFilters{StartDate: day(2), EndDate: day(6)})
	require.Len(t, ranged, 1)
	require.Equal(t, "2", ranged[0].ID)
}
