package inventory

import (
	"sort"
	"strings"
	"time"
)

type TxType string

const (
	// Legacy wire values, shared with the spreadsheet format.
	StockIn  TxType = "入庫"
	StockOut TxType = "出庫"
)

func (t TxType) Valid() bool { return t == StockIn || t == StockOut }

// DefaultUnit is used when an item row carries no unit.
const DefaultUnit = "個"

// WithdrawalReason is the fixed reason string on every planned withdrawal.
const WithdrawalReason = "10ヶ月予定数"

// Item is a tracked stock-keeping unit. Code is the user-facing business
// key and must stay unique across all items; Quantity never goes negative.
type Item struct {
	ID                string             `json:"id"`
	Code              string             `json:"code"`
	Name              string             `json:"name"`
	CorrectionNumber  string             `json:"correctionNumber,omitempty"`
	Quantity          int                `json:"quantity"`
	Unit              string             `json:"unit"`
	StorageLocation   string             `json:"storageLocation,omitempty"`
	Note              string             `json:"note,omitempty"`
	LastUpdated       time.Time          `json:"lastUpdated"`
	CreatedAt         time.Time          `json:"createdAt"`
	WithdrawalRecords []WithdrawalRecord `json:"withdrawalRecords"`
}

// Transaction records a single stock movement. The item fields are a
// snapshot taken at transaction time, not a live reference.
type Transaction struct {
	ID               string    `json:"id"`
	ItemID           string    `json:"itemId"`
	ItemCode         string    `json:"itemCode"`
	ItemName         string    `json:"itemName"`
	CorrectionNumber string    `json:"correctionNumber,omitempty"`
	Type             TxType    `json:"type"`
	Quantity         int       `json:"quantity"`
	Date             time.Time `json:"date"`
	Note             string    `json:"note,omitempty"`
}

// WithdrawalRecord is a planned future withdrawal. Note may embed the
// encoded month plan (see the plan package); Quantity is the plan total,
// WithdrawalQuantity the amount to pull out now.
type WithdrawalRecord struct {
	ID                 string    `json:"id"`
	ItemID             string    `json:"itemId"`
	Code               string    `json:"code"`
	Name               string    `json:"name"`
	Date               time.Time `json:"date"`
	Reason             string    `json:"reason"`
	Quantity           int       `json:"quantity"`
	WithdrawalQuantity int       `json:"withdrawalQuantity"`
	Unit               string    `json:"unit"`
	Note               string    `json:"note,omitempty"`
}

// ItemFilters narrows and orders item listings.
type ItemFilters struct {
	SearchText      string
	Unit            string
	StockStatus     string // "low" | "out" | "sufficient"
	StorageLocation string
	SortBy          string // "code" | "name" | "quantity" | "updated" | "correctionNumber" | "storageLocation"
}

// TransactionFilters narrows and orders transaction listings.
type TransactionFilters struct {
	Type       TxType
	ItemCode   string
	StartDate  time.Time
	EndDate    time.Time
	SearchText string
	SortBy     string // "date-asc" | "date-desc" | "code" | "quantity-asc" | "quantity-desc"
}

const lowStockThreshold = 5

func (f ItemFilters) match(it Item) bool {
	if f.SearchText != "" {
		s := strings.ToLower(f.SearchText)
		if !strings.Contains(strings.ToLower(it.Code), s) &&
			!strings.Contains(strings.ToLower(it.Name), s) &&
			!strings.Contains(strings.ToLower(it.CorrectionNumber), s) {
			return false
		}
	}
	if f.Unit != "" && it.Unit != f.Unit {
		return false
	}
	if f.StorageLocation != "" && it.StorageLocation != f.StorageLocation {
		return false
	}
	switch f.StockStatus {
	case "out":
		if it.Quantity != 0 {
			return false
		}
	case "low":
		if it.Quantity == 0 || it.Quantity > lowStockThreshold {
			return false
		}
	case "sufficient":
		if it.Quantity <= lowStockThreshold {
			return false
		}
	}
	return true
}

// FilterItems applies f to a copy of items; the input slice is not touched.
func FilterItems(items []Item, f ItemFilters) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if f.match(it) {
			out = append(out, it)
		}
	}
	switch f.SortBy {
	case "name":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	case "quantity":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	case "updated":
		sort.SliceStable(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	case "correctionNumber":
		sort.SliceStable(out, func(i, j int) bool { return out[i].CorrectionNumber < out[j].CorrectionNumber })
	case "storageLocation":
		sort.SliceStable(out, func(i, j int) bool { return out[i].StorageLocation < out[j].StorageLocation })
	default: // "code"
		sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	}
	return out
}

func (f TransactionFilters) match(t Transaction) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.ItemCode != "" && !strings.Contains(strings.ToLower(t.ItemCode), strings.ToLower(f.ItemCode)) {
		return false
	}
	if !f.StartDate.IsZero() && t.Date.Before(f.StartDate) {
		return false
	}
	if !f.EndDate.IsZero() && t.Date.After(f.EndDate) {
		return false
	}
	if f.SearchText != "" {
		s := strings.ToLower(f.SearchText)
		if !strings.Contains(strings.ToLower(t.ItemCode), s) &&
			!strings.Contains(strings.ToLower(t.ItemName), s) &&
			!strings.Contains(strings.ToLower(t.Note), s) {
			return false
		}
	}
	return true
}

// FilterTransactions applies f to a copy of txns; default order is newest first.
func FilterTransactions(txns []Transaction, f TransactionFilters) []Transaction {
	out := make([]Transaction, 0, len(txns))
	for _, t := range txns {
		if f.match(t) {
			out = append(out, t)
		}
	}
	switch f.SortBy {
	case "date-asc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	case "code":
		sort.SliceStable(out, func(i, j int) bool { return out[i].ItemCode < out[j].ItemCode })
	case "quantity-asc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	case "quantity-desc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Quantity > out[j].Quantity })
	default: // "date-desc"
		sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	}
	return out
}
