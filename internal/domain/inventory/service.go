package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cache is the durable local mirror (see internal/cache). Saves never fail
// the caller; loads report corruption alongside a usable empty slice.
type Cache interface {
	SaveItems([]Item)
	SaveTransactions([]Transaction)
	LoadItems() ([]Item, error)
	LoadTransactions() ([]Transaction, error)
	Clear()
}

// Event tells subscribers which part of the state changed.
type Event string

const (
	EventItemsChanged        Event = "items"
	EventTransactionsChanged Event = "transactions"
	EventReconciled          Event = "reconciled"
)

// Service keeps the in-memory state, the local cache and the remote store
// mutually consistent. Remote writes are not atomic across collections, so
// the paired item-update/transaction-insert is compensated manually.
//
// All operations serialize on mu — the Go rendition of the original's
// single event loop. State slices are replaced wholesale on every
// mutation, never edited in place.
type Service struct {
	log    *slog.Logger
	remote RemoteStore
	cache  Cache
	now    func() time.Time
	newID  func() string

	mu    sync.Mutex
	items []Item
	txns  []Transaction

	subMu sync.Mutex
	subs  []chan Event
}

func NewService(remote RemoteStore, cache Cache, log *slog.Logger) *Service {
	return &Service{
		log:    log,
		remote: remote,
		cache:  cache,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Subscribe returns a channel that receives change notifications. Slow
// subscribers miss events rather than block a mutation.
func (s *Service) Subscribe() <-chan Event {
	ch := make(chan Event, 8)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Service) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// LoadLocal seeds the in-memory state from the cache snapshots. Corrupt
// snapshots degrade to empty collections and are logged by the cache.
func (s *Service) LoadLocal() {
	items, errI := s.cache.LoadItems()
	txns, errT := s.cache.LoadTransactions()
	if errI != nil || errT != nil {
		s.log.Warn("local cache degraded, starting from what could be read",
			"items_err", errI, "transactions_err", errT)
	}
	s.mu.Lock()
	s.items = items
	s.txns = txns
	s.mu.Unlock()
}

// Items returns a filtered copy of the current items.
func (s *Service) Items(f ItemFilters) []Item {
	s.mu.Lock()
	items := s.items
	s.mu.Unlock()
	return FilterItems(items, f)
}

// Transactions returns a filtered copy of the current transactions.
func (s *Service) Transactions(f TransactionFilters) []Transaction {
	s.mu.Lock()
	txns := s.txns
	s.mu.Unlock()
	return FilterTransactions(txns, f)
}

// ItemByID returns a copy of one item.
func (s *Service) ItemByID(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// NewItem carries the user-entered fields of an item to create.
type NewItem struct {
	Code             string
	Name             string
	CorrectionNumber string
	Quantity         int
	Unit             string
	StorageLocation  string
	Note             string
}

// AddItem registers a new item. The code must be unique; nothing is
// written anywhere when the check fails.
func (s *Service) AddItem(ctx context.Context, in NewItem) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Quantity < 0 {
		return Item{}, ErrInvalidQuantity
	}
	for _, it := range s.items {
		if it.Code == in.Code {
			return Item{}, ErrDuplicateCode
		}
	}

	now := s.now()
	it := Item{
		ID:                s.newID(),
		Code:              in.Code,
		Name:              in.Name,
		CorrectionNumber:  in.CorrectionNumber,
		Quantity:          in.Quantity,
		Unit:              in.Unit,
		StorageLocation:   in.StorageLocation,
		Note:              in.Note,
		CreatedAt:         now,
		LastUpdated:       now,
		WithdrawalRecords: []WithdrawalRecord{},
	}
	if it.Unit == "" {
		it.Unit = DefaultUnit
	}

	if err := s.remote.InsertItem(ctx, it); err != nil {
		return Item{}, fmt.Errorf("%w: insert item: %w", ErrRemoteWrite, err)
	}

	s.items = append(cloneItems(s.items), it)
	s.cache.SaveItems(s.items)
	s.publish(EventItemsChanged)
	return it, nil
}

// ItemUpdate carries the editable fields; nil means "leave unchanged".
type ItemUpdate struct {
	Code             *string
	Name             *string
	CorrectionNumber *string
	Quantity         *int
	Unit             *string
	StorageLocation  *string
	Note             *string
}

// EditItem applies an update to one item, remote first.
func (s *Service) EditItem(ctx context.Context, id string, upd ItemUpdate) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, it := range s.items {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Item{}, ErrNotFound
	}

	if upd.Code != nil {
		for _, other := range s.items {
			if other.ID != id && other.Code == *upd.Code {
				return Item{}, ErrDuplicateCode
			}
		}
	}
	if upd.Quantity != nil && *upd.Quantity < 0 {
		return Item{}, ErrInvalidQuantity
	}

	it := s.items[idx]
	if upd.Code != nil {
		it.Code = *upd.Code
	}
	if upd.Name != nil {
		it.Name = *upd.Name
	}
	if upd.CorrectionNumber != nil {
		it.CorrectionNumber = *upd.CorrectionNumber
	}
	if upd.Quantity != nil {
		it.Quantity = *upd.Quantity
	}
	if upd.Unit != nil {
		it.Unit = *upd.Unit
	}
	if upd.StorageLocation != nil {
		it.StorageLocation = *upd.StorageLocation
	}
	if upd.Note != nil {
		it.Note = *upd.Note
	}
	it.LastUpdated = s.now()

	if err := s.remote.UpdateItem(ctx, it); err != nil {
		return Item{}, fmt.Errorf("%w: update item: %w", ErrRemoteWrite, err)
	}

	items := cloneItems(s.items)
	items[idx] = it
	s.items = items
	s.cache.SaveItems(s.items)
	s.publish(EventItemsChanged)
	return it, nil
}

// DeleteItem removes the item remotely (the store cascades to its
// transactions and withdrawal records) and purges both locally.
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, it := range s.items {
		if it.ID == id {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	if err := s.remote.DeleteItem(ctx, id); err != nil {
		return fmt.Errorf("%w: delete item: %w", ErrRemoteWrite, err)
	}

	items := make([]Item, 0, len(s.items)-1)
	for _, it := range s.items {
		if it.ID != id {
			items = append(items, it)
		}
	}
	txns := make([]Transaction, 0, len(s.txns))
	for _, t := range s.txns {
		if t.ItemID != id {
			txns = append(txns, t)
		}
	}
	s.items, s.txns = items, txns
	s.cache.SaveItems(s.items)
	s.cache.SaveTransactions(s.txns)
	s.publish(EventItemsChanged)
	s.publish(EventTransactionsChanged)
	return nil
}

// ApplyTransaction posts a stock movement. The remote item update strictly
// precedes the transaction insert; if the insert fails, a compensating
// update restores the previous quantity and timestamp before the original
// error is surfaced. Local state changes only after both writes succeed.
func (s *Service) ApplyTransaction(ctx context.Context, itemID string, typ TxType, qty int, note string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !typ.Valid() || qty <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}

	idx := -1
	for i, it := range s.items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Transaction{}, ErrNotFound
	}
	item := s.items[idx]

	if typ == StockOut && qty > item.Quantity {
		return Transaction{}, ErrInsufficientStock
	}

	newQty := item.Quantity + qty
	if typ == StockOut {
		newQty = item.Quantity - qty
	}

	now := s.now()
	txn := Transaction{
		ID:               s.newID(),
		ItemID:           item.ID,
		ItemCode:         item.Code,
		ItemName:         item.Name,
		CorrectionNumber: item.CorrectionNumber,
		Type:             typ,
		Quantity:         qty,
		Date:             now,
		Note:             note,
	}

	if err := s.remote.UpdateItemQuantity(ctx, item.ID, newQty, now); err != nil {
		return Transaction{}, fmt.Errorf("%w: update quantity: %w", ErrRemoteWrite, err)
	}
	if err := s.remote.InsertTransaction(ctx, txn); err != nil {
		// Compensate the quantity update; the insert failure is the error
		// the caller sees either way.
		if rbErr := s.remote.UpdateItemQuantity(ctx, item.ID, item.Quantity, item.LastUpdated); rbErr != nil {
			s.log.Error("compensation failed, remote quantity may be ahead",
				"item", item.Code, "err", rbErr)
		}
		return Transaction{}, fmt.Errorf("%w: insert transaction: %w", ErrRemoteWrite, err)
	}

	items := cloneItems(s.items)
	items[idx].Quantity = newQty
	items[idx].LastUpdated = now
	s.items = items
	s.txns = append([]Transaction{txn}, s.txns...)
	s.cache.SaveItems(s.items)
	s.cache.SaveTransactions(s.txns)
	s.publish(EventItemsChanged)
	s.publish(EventTransactionsChanged)
	return txn, nil
}

// TxUpdate carries the editable fields of a recorded movement.
type TxUpdate struct {
	Type     *TxType
	Quantity *int
	Note     *string
}

// EditTransaction rewrites a recorded movement and shifts the owning
// item's quantity by the difference in effect, with the same ordering and
// compensation discipline as ApplyTransaction.
func (s *Service) EditTransaction(ctx context.Context, txID string, upd TxUpdate) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tIdx := -1
	for i, t := range s.txns {
		if t.ID == txID {
			tIdx = i
			break
		}
	}
	if tIdx < 0 {
		return Transaction{}, ErrNotFound
	}
	old := s.txns[tIdx]

	edited := old
	if upd.Type != nil {
		if !upd.Type.Valid() {
			return Transaction{}, ErrInvalidQuantity
		}
		edited.Type = *upd.Type
	}
	if upd.Quantity != nil {
		if *upd.Quantity <= 0 {
			return Transaction{}, ErrInvalidQuantity
		}
		edited.Quantity = *upd.Quantity
	}
	if upd.Note != nil {
		edited.Note = *upd.Note
	}

	iIdx := -1
	for i, it := range s.items {
		if it.ID == old.ItemID {
			iIdx = i
			break
		}
	}
	if iIdx < 0 {
		return Transaction{}, ErrNotFound
	}
	item := s.items[iIdx]

	newQty := item.Quantity - effect(old) + effect(edited)
	if newQty < 0 {
		return Transaction{}, ErrInsufficientStock
	}

	now := s.now()
	if err := s.remote.UpdateItemQuantity(ctx, item.ID, newQty, now); err != nil {
		return Transaction{}, fmt.Errorf("%w: update quantity: %w", ErrRemoteWrite, err)
	}
	if err := s.remote.UpdateTransaction(ctx, edited); err != nil {
		if rbErr := s.remote.UpdateItemQuantity(ctx, item.ID, item.Quantity, item.LastUpdated); rbErr != nil {
			s.log.Error("compensation failed, remote quantity may be ahead",
				"item", item.Code, "err", rbErr)
		}
		return Transaction{}, fmt.Errorf("%w: update transaction: %w", ErrRemoteWrite, err)
	}

	items := cloneItems(s.items)
	items[iIdx].Quantity = newQty
	items[iIdx].LastUpdated = now
	s.items = items
	txns := cloneTxns(s.txns)
	txns[tIdx] = edited
	s.txns = txns
	s.cache.SaveItems(s.items)
	s.cache.SaveTransactions(s.txns)
	s.publish(EventItemsChanged)
	s.publish(EventTransactionsChanged)
	return edited, nil
}

// DeleteTransaction removes a recorded movement and rolls its effect out
// of the owning item's quantity. If the item is already gone, only the
// record is deleted.
func (s *Service) DeleteTransaction(ctx context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tIdx := -1
	for i, t := range s.txns {
		if t.ID == txID {
			tIdx = i
			break
		}
	}
	if tIdx < 0 {
		return ErrNotFound
	}
	old := s.txns[tIdx]

	iIdx := -1
	for i, it := range s.items {
		if it.ID == old.ItemID {
			iIdx = i
			break
		}
	}

	if iIdx >= 0 {
		item := s.items[iIdx]
		newQty := item.Quantity - effect(old)
		if newQty < 0 {
			return ErrInsufficientStock
		}
		now := s.now()
		if err := s.remote.UpdateItemQuantity(ctx, item.ID, newQty, now); err != nil {
			return fmt.Errorf("%w: update quantity: %w", ErrRemoteWrite, err)
		}
		if err := s.remote.DeleteTransaction(ctx, txID); err != nil {
			if rbErr := s.remote.UpdateItemQuantity(ctx, item.ID, item.Quantity, item.LastUpdated); rbErr != nil {
				s.log.Error("compensation failed, remote quantity may be ahead",
					"item", item.Code, "err", rbErr)
			}
			return fmt.Errorf("%w: delete transaction: %w", ErrRemoteWrite, err)
		}
		items := cloneItems(s.items)
		items[iIdx].Quantity = newQty
		items[iIdx].LastUpdated = now
		s.items = items
		s.cache.SaveItems(s.items)
		s.publish(EventItemsChanged)
	} else if err := s.remote.DeleteTransaction(ctx, txID); err != nil {
		return fmt.Errorf("%w: delete transaction: %w", ErrRemoteWrite, err)
	}

	txns := make([]Transaction, 0, len(s.txns)-1)
	for _, t := range s.txns {
		if t.ID != txID {
			txns = append(txns, t)
		}
	}
	s.txns = txns
	s.cache.SaveTransactions(s.txns)
	s.publish(EventTransactionsChanged)
	return nil
}

// NewWithdrawal carries the fields of a planned withdrawal to record.
type NewWithdrawal struct {
	WithdrawalQuantity int
	Quantity           int // planned total across the month plan
	Unit               string
	Note               string // may embed the encoded month plan
}

// AddWithdrawalRecord attaches a planned withdrawal to an item.
func (s *Service) AddWithdrawalRecord(ctx context.Context, itemID string, in NewWithdrawal) (WithdrawalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, it := range s.items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return WithdrawalRecord{}, ErrNotFound
	}
	item := s.items[idx]

	if in.WithdrawalQuantity < 0 || in.Quantity < 0 {
		return WithdrawalRecord{}, ErrInvalidQuantity
	}

	now := s.now()
	rec := WithdrawalRecord{
		ID:                 s.newID(),
		ItemID:             item.ID,
		Code:               item.Code,
		Name:               item.Name,
		Date:               now,
		Reason:             WithdrawalReason,
		Quantity:           in.Quantity,
		WithdrawalQuantity: in.WithdrawalQuantity,
		Unit:               in.Unit,
		Note:               in.Note,
	}
	if rec.Unit == "" {
		rec.Unit = item.Unit
	}
	if rec.Unit == "" {
		rec.Unit = DefaultUnit
	}

	if err := s.remote.InsertWithdrawal(ctx, rec); err != nil {
		return WithdrawalRecord{}, fmt.Errorf("%w: insert withdrawal: %w", ErrRemoteWrite, err)
	}

	items := cloneItems(s.items)
	items[idx].WithdrawalRecords = append(items[idx].WithdrawalRecords, rec)
	items[idx].LastUpdated = now
	s.items = items
	s.cache.SaveItems(s.items)
	s.publish(EventItemsChanged)
	return rec, nil
}

// DeleteWithdrawalRecord removes one planned withdrawal from an item.
func (s *Service) DeleteWithdrawalRecord(ctx context.Context, itemID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, it := range s.items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	if err := s.remote.DeleteWithdrawal(ctx, recordID); err != nil {
		return fmt.Errorf("%w: delete withdrawal: %w", ErrRemoteWrite, err)
	}

	items := cloneItems(s.items)
	recs := make([]WithdrawalRecord, 0, len(items[idx].WithdrawalRecords))
	for _, r := range items[idx].WithdrawalRecords {
		if r.ID != recordID {
			recs = append(recs, r)
		}
	}
	items[idx].WithdrawalRecords = recs
	items[idx].LastUpdated = s.now()
	s.items = items
	s.cache.SaveItems(s.items)
	s.publish(EventItemsChanged)
	return nil
}

// ReconcileFromRemote pulls all three collections, joins withdrawal
// records onto their items and replaces the in-memory state and cache
// wholesale. Nothing is replaced unless every read succeeds; failures
// aggregate into ErrSyncFailed.
func (s *Service) ReconcileFromRemote(ctx context.Context) error {
	items, errItems := s.remote.SelectItems(ctx)
	txns, errTxns := s.remote.SelectTransactions(ctx)
	recs, errRecs := s.remote.SelectWithdrawals(ctx)
	if errItems != nil || errTxns != nil || errRecs != nil {
		return errors.Join(ErrSyncFailed, errItems, errTxns, errRecs)
	}

	byItem := make(map[string][]WithdrawalRecord)
	for _, r := range recs {
		byItem[r.ItemID] = append(byItem[r.ItemID], r)
	}
	for i := range items {
		if rs, ok := byItem[items[i].ID]; ok {
			items[i].WithdrawalRecords = rs
		}
	}

	s.mu.Lock()
	s.items = items
	s.txns = txns
	s.mu.Unlock()

	s.cache.SaveItems(items)
	s.cache.SaveTransactions(txns)
	s.publish(EventReconciled)
	return nil
}

// Dataset is a full three-collection snapshot, as produced by the
// spreadsheet import.
type Dataset struct {
	Items        []Item
	Transactions []Transaction
	Withdrawals  []WithdrawalRecord
}

// ImportReplace performs the destructive delete-and-reinsert of all three
// remote collections, then adopts the dataset locally.
func (s *Service) ImportReplace(ctx context.Context, data Dataset) error {
	if err := s.remote.ReplaceAll(ctx, data.Items, data.Transactions, data.Withdrawals); err != nil {
		return fmt.Errorf("%w: replace all: %w", ErrRemoteWrite, err)
	}

	items := cloneItems(data.Items)
	byItem := make(map[string][]WithdrawalRecord)
	for _, r := range data.Withdrawals {
		byItem[r.ItemID] = append(byItem[r.ItemID], r)
	}
	for i := range items {
		items[i].WithdrawalRecords = byItem[items[i].ID]
		if items[i].WithdrawalRecords == nil {
			items[i].WithdrawalRecords = []WithdrawalRecord{}
		}
	}

	s.mu.Lock()
	s.items = items
	s.txns = data.Transactions
	s.mu.Unlock()

	s.cache.SaveItems(items)
	s.cache.SaveTransactions(data.Transactions)
	s.publish(EventReconciled)
	return nil
}

func effect(t Transaction) int {
	if t.Type == StockOut {
		return -t.Quantity
	}
	return t.Quantity
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	for i := range out {
		recs := make([]WithdrawalRecord, len(out[i].WithdrawalRecords))
		copy(recs, out[i].WithdrawalRecords)
		out[i].WithdrawalRecords = recs
	}
	return out
}

func cloneTxns(txns []Transaction) []Transaction {
	out := make([]Transaction, len(txns))
	copy(out, txns)
	return out
}
