// Package plan handles the legacy note encoding of monthly withdrawal
// plans: space-joined "<month>月:<qty>" tokens, optionally followed by a
// free-text remark behind a "備考:" label. The format is lossy and
// order-independent; only the extracted month map round-trips exactly.
package plan

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const remarkLabel = "備考:"

var tokenPattern = regexp.MustCompile(`(\d+)月:(\d+)`)

// Encode packs a sparse month→quantity map (months 1..12, only qty > 0 is
// emitted) plus a free-text remark into a single note string.
func Encode(monthly map[int]int, freeText string) string {
	months := make([]int, 0, len(monthly))
	for m, q := range monthly {
		if m >= 1 && m <= 12 && q > 0 {
			months = append(months, m)
		}
	}
	sort.Ints(months)

	tokens := make([]string, 0, len(months))
	for _, m := range months {
		tokens = append(tokens, fmt.Sprintf("%d月:%d", m, monthly[m]))
	}

	parts := make([]string, 0, 2)
	if len(tokens) > 0 {
		parts = append(parts, strings.Join(tokens, " "))
	}
	if ft := strings.TrimSpace(freeText); ft != "" {
		parts = append(parts, remarkLabel+" "+ft)
	}
	return strings.Join(parts, "\n")
}

// Decode extracts the month map from a note and returns it together with
// the remaining free text. Anything matching the token pattern is treated
// as month data; there is no escaping.
func Decode(note string) (map[int]int, string) {
	monthly := map[int]int{}
	for _, m := range tokenPattern.FindAllStringSubmatch(note, -1) {
		month, err1 := strconv.Atoi(m[1])
		qty, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		monthly[month] = qty
	}

	rest := tokenPattern.ReplaceAllString(note, "")
	rest = strings.TrimSpace(rest)
	rest = strings.TrimPrefix(rest, remarkLabel)
	return monthly, strings.TrimSpace(rest)
}

// Total sums the planned quantities of a month map.
func Total(monthly map[int]int) int {
	total := 0
	for _, q := range monthly {
		total += q
	}
	return total
}

// Months returns the fixed 1..12 column order used by the spreadsheet.
func Months() []int {
	months := make([]int, 12)
	for i := range months {
		months[i] = i + 1
	}
	return months
}

// MonthsFrom returns n month numbers starting at t's month, wrapping the
// year boundary. The summary view uses a rolling 10-month window.
func MonthsFrom(t time.Time, n int) []int {
	months := make([]int, n)
	cur := int(t.Month()) - 1
	for i := 0; i < n; i++ {
		months[i] = (cur+i)%12 + 1
	}
	return months
}
