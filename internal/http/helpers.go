package http

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/visibility"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

// newCategoryOption is the category select sentinel that switches the
// form over to free-text input.
const newCategoryOption = "➕ 新しいカテゴリを追加..."

// fallbackCategories seed the select when the store has none or cannot
// be reached.
var fallbackCategories = []string{"食費", "その他"}

// parseMonth reads the month filter from the query. Absent or malformed
// values fall back to the current month; "all" disables the filter.
func parseMonth(r *http.Request) core.Month {
	v := strings.TrimSpace(r.URL.Query().Get("month"))
	switch v {
	case "":
		return core.ThisMonth()
	case string(core.MonthAll):
		return core.MonthAll
	}
	if _, err := time.Parse("2006-01", v); err != nil {
		return core.ThisMonth()
	}
	return core.Month(v)
}

// viewOptions reads the per-request visibility switches from the query.
func viewOptions(r *http.Request) visibility.Options {
	return visibility.Options{
		ShowDeleted: r.URL.Query().Get("deleted") == "1",
		ViewAs:      sanitizeInput(r.URL.Query().Get("view_as")),
	}
}

// monthOptions lists the months present in the set, newest first.
func monthOptions(entries []core.Entry) []core.Month {
	seen := make(map[core.Month]struct{})
	for _, e := range entries {
		seen[e.Date.Month()] = struct{}{}
	}
	months := make([]core.Month, 0, len(seen))
	for m := range seen {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i] > months[j] })
	return months
}

// formatYen formats a whole-yen amount with thousand separators,
// e.g. "¥1,234" or "-¥200".
func formatYen(m core.Money) string {
	yen := m.Yen
	neg := yen < 0
	if neg {
		yen = -yen
	}

	digits := strconv.FormatInt(yen, 10)
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}

	if neg {
		return "-¥" + b.String()
	}
	return "¥" + b.String()
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
