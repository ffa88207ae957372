package plan

import (
	"sort"

	"github.com/zaiko-app/zaiko/internal/domain/inventory"
)

// Summary is one withdrawal record with its note unpacked.
type Summary struct {
	Date               string      `json:"date"`
	TotalQuantity      int         `json:"totalQuantity"`
	WithdrawalQuantity int         `json:"withdrawalQuantity"`
	MonthlyQuantities  map[int]int `json:"monthlyQuantities"`
	Note               string      `json:"note"`
}

// Summarize unpacks each record's note and orders the result newest first.
func Summarize(records []inventory.WithdrawalRecord) []Summary {
	out := make([]Summary, 0, len(records))
	for _, r := range records {
		monthly, rest := Decode(r.Note)
		out = append(out, Summary{
			Date:               r.Date.Format("2006-01-02T15:04:05Z07:00"),
			TotalQuantity:      r.Quantity,
			WithdrawalQuantity: r.WithdrawalQuantity,
			MonthlyQuantities:  monthly,
			Note:               rest,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}
