// Package excel reads and writes the three-sheet workbook (items,
// transaction history, withdrawal plans) the team exchanges with the
// warehouse floor. Import re-derives item identities by matching 品番
// against the existing remote items and is applied as a destructive
// replace of all three collections.
package excel

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/zaiko-app/zaiko/internal/domain/inventory"
	"github.com/zaiko-app/zaiko/internal/domain/plan"
)

const (
	SheetItems        = "商品"
	SheetTransactions = "取引履歴"
	SheetWithdrawals  = "抜き予定"
)

const dateLayout = "2006/01/02 15:04:05"

var itemHeader = []interface{}{"品番", "品名", "訂正", "在庫数", "単位", "保管場所", "備考"}

var txHeader = []interface{}{"日時", "種類", "品番", "品名", "訂正", "数量", "備考"}

func withdrawalHeader() []interface{} {
	h := []interface{}{"日時", "品番", "品名", "抜き数量", "予定総数", "単位"}
	for _, m := range plan.Months() {
		h = append(h, fmt.Sprintf("%d月予定数", m))
	}
	return append(h, "備考")
}

// Filename names an export after the current date.
func Filename(t time.Time) string {
	return fmt.Sprintf("在庫データ_%s.xlsx", t.Format("20060102"))
}

// Export writes the full dataset as a three-sheet workbook.
func Export(w io.Writer, data inventory.Dataset) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for _, sheet := range []string{SheetItems, SheetTransactions, SheetWithdrawals} {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	if err := f.SetSheetRow(SheetItems, "A1", &itemHeader); err != nil {
		return err
	}
	for i, it := range data.Items {
		row := []interface{}{it.Code, it.Name, it.CorrectionNumber, it.Quantity, it.Unit, it.StorageLocation, it.Note}
		if err := writeRow(f, SheetItems, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetSheetRow(SheetTransactions, "A1", &txHeader); err != nil {
		return err
	}
	for i, t := range data.Transactions {
		row := []interface{}{t.Date.Format(dateLayout), string(t.Type), t.ItemCode, t.ItemName, t.CorrectionNumber, t.Quantity, t.Note}
		if err := writeRow(f, SheetTransactions, i+2, row); err != nil {
			return err
		}
	}

	wh := withdrawalHeader()
	if err := f.SetSheetRow(SheetWithdrawals, "A1", &wh); err != nil {
		return err
	}
	for i, r := range data.Withdrawals {
		monthly, rest := plan.Decode(r.Note)
		unit := r.Unit
		if unit == "" {
			unit = inventory.DefaultUnit
		}
		row := []interface{}{r.Date.Format(dateLayout), r.Code, r.Name, r.WithdrawalQuantity, r.Quantity, unit}
		for _, m := range plan.Months() {
			row = append(row, monthly[m])
		}
		row = append(row, rest)
		if err := writeRow(f, SheetWithdrawals, i+2, row); err != nil {
			return err
		}
	}

	return f.Write(w)
}

func writeRow(f *excelize.File, sheet string, rowNum int, row []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &row)
}

// Parse reads a workbook and rebuilds the dataset. Item IDs are carried
// over from existing items matched by 品番; history and plan rows naming
// an unknown 品番 synthesize a zero-quantity item, as the legacy importer
// did. The caller applies the result as a destructive replace.
func Parse(r io.Reader, existing []inventory.Item) (inventory.Dataset, error) {
	var data inventory.Dataset

	f, err := excelize.OpenReader(r)
	if err != nil {
		return data, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, sheet := range []string{SheetItems, SheetTransactions, SheetWithdrawals} {
		if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
			return data, fmt.Errorf("required sheet %q not found", sheet)
		}
	}

	existingByCode := make(map[string]inventory.Item, len(existing))
	for _, it := range existing {
		existingByCode[it.Code] = it
	}

	now := time.Now()
	byCode := map[string]*inventory.Item{}
	var order []string

	ensureItem := func(code, name, unit string) *inventory.Item {
		if it, ok := byCode[code]; ok {
			return it
		}
		it := &inventory.Item{
			ID:                uuid.NewString(),
			Code:              code,
			Name:              name,
			Unit:              unit,
			CreatedAt:         now,
			LastUpdated:       now,
			WithdrawalRecords: []inventory.WithdrawalRecord{},
		}
		if it.Unit == "" {
			it.Unit = inventory.DefaultUnit
		}
		if prev, ok := existingByCode[code]; ok {
			it.ID = prev.ID
			it.CreatedAt = prev.CreatedAt
		}
		byCode[code] = it
		order = append(order, code)
		return it
	}

	// 商品
	rows, err := f.GetRows(SheetItems)
	if err != nil || len(rows) < 2 {
		return data, fmt.Errorf("sheet %s has no data rows", SheetItems)
	}
	cols := headerIndex(rows[0])
	for i, row := range rows[1:] {
		code := strings.TrimSpace(cell(row, cols, "品番"))
		name := strings.TrimSpace(cell(row, cols, "品名"))
		if code == "" || name == "" {
			return data, fmt.Errorf("sheet %s row %d: 品番 and 品名 are required", SheetItems, i+2)
		}
		it := ensureItem(code, name, strings.TrimSpace(cell(row, cols, "単位")))
		it.Name = name
		it.CorrectionNumber = strings.TrimSpace(cell(row, cols, "訂正"))
		it.Quantity = parseInt(cell(row, cols, "在庫数"))
		it.StorageLocation = strings.TrimSpace(cell(row, cols, "保管場所"))
		it.Note = strings.TrimSpace(cell(row, cols, "備考"))
	}

	// 取引履歴
	rows, err = f.GetRows(SheetTransactions)
	if err != nil {
		return data, fmt.Errorf("read sheet %s: %w", SheetTransactions, err)
	}
	if len(rows) > 0 {
		cols = headerIndex(rows[0])
		for i, row := range rows[1:] {
			code := strings.TrimSpace(cell(row, cols, "品番"))
			name := strings.TrimSpace(cell(row, cols, "品名"))
			typ := inventory.TxType(strings.TrimSpace(cell(row, cols, "種類")))
			if code == "" || name == "" || typ == "" {
				return data, fmt.Errorf("sheet %s row %d: 品番, 品名 and 種類 are required", SheetTransactions, i+2)
			}
			if !typ.Valid() {
				return data, fmt.Errorf("sheet %s row %d: 種類 must be %s or %s", SheetTransactions, i+2, inventory.StockIn, inventory.StockOut)
			}
			it := ensureItem(code, name, "")
			data.Transactions = append(data.Transactions, inventory.Transaction{
				ID:               uuid.NewString(),
				ItemID:           it.ID,
				ItemCode:         code,
				ItemName:         it.Name,
				CorrectionNumber: it.CorrectionNumber,
				Type:             typ,
				Quantity:         parseInt(cell(row, cols, "数量")),
				Date:             parseDate(cell(row, cols, "日時"), now),
				Note:             strings.TrimSpace(cell(row, cols, "備考")),
			})
		}
	}

	// 抜き予定
	rows, err = f.GetRows(SheetWithdrawals)
	if err != nil {
		return data, fmt.Errorf("read sheet %s: %w", SheetWithdrawals, err)
	}
	if len(rows) > 0 {
		cols = headerIndex(rows[0])
		for i, row := range rows[1:] {
			code := strings.TrimSpace(cell(row, cols, "品番"))
			name := strings.TrimSpace(cell(row, cols, "品名"))
			if code == "" || name == "" {
				return data, fmt.Errorf("sheet %s row %d: 品番 and 品名 are required", SheetWithdrawals, i+2)
			}
			it := ensureItem(code, name, strings.TrimSpace(cell(row, cols, "単位")))

			monthly := map[int]int{}
			for _, m := range plan.Months() {
				if qty := parseInt(cell(row, cols, fmt.Sprintf("%d月予定数", m))); qty > 0 {
					monthly[m] = qty
				}
			}
			note := plan.Encode(monthly, strings.TrimSpace(cell(row, cols, "備考")))

			data.Withdrawals = append(data.Withdrawals, inventory.WithdrawalRecord{
				ID:                 uuid.NewString(),
				ItemID:             it.ID,
				Code:               code,
				Name:               it.Name,
				Date:               parseDate(cell(row, cols, "日時"), now),
				Reason:             inventory.WithdrawalReason,
				Quantity:           parseInt(cell(row, cols, "予定総数")),
				WithdrawalQuantity: parseInt(cell(row, cols, "抜き数量")),
				Unit:               it.Unit,
				Note:               note,
			})
		}
	}

	for _, code := range order {
		data.Items = append(data.Items, *byCode[code])
	}
	return data, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

// cell returns the column value or "" when the row is short or the column
// is absent from the header.
func cell(row []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseDate(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range []string{dateLayout, "2006/01/02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
