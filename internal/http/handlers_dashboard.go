package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

type indexPage struct {
	Username    string
	IsAdmin     bool
	Today       string
	Month       core.Month
	Months      []core.Month
	Owners      []string
	Categories  []string
	NewOption   string
	ScanEnabled bool
	Prefill     prefillPartial
}

// handleIndex renders the dashboard shell. The data sections are htmx
// partials that load themselves.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	identity := s.identity(r)
	if identity == "" {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	snap := s.viewer.Load(r.Context(), identity, viewOptions(r))

	s.render(w, r, "index.html", indexPage{
		Username:    identity,
		IsAdmin:     s.viewer.IsAdmin(identity),
		Today:       core.Today().String(),
		Month:       core.ThisMonth(),
		Months:      monthOptions(snap.Entries),
		Owners:      snap.Owners,
		Categories:  s.categories(r),
		NewOption:   newCategoryOption,
		ScanEnabled: s.extractor != nil,
		Prefill:     prefillPartial{Date: core.Today().String()},
	})
}

// categories returns the select options, always ending with the
// new-category sentinel. Store failures degrade to the fallback list.
func (s *Server) categories(r *http.Request) []string {
	cats, err := s.store.ListCategories(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Category list failed", "error", err)
		cats = nil
	}
	if len(cats) == 0 {
		cats = append(cats, fallbackCategories...)
	}
	return cats
}

// partialIdentity authorizes a partial request. Partials answer 401
// with a small fragment instead of redirecting.
func (s *Server) partialIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := s.identity(r)
	if identity == "" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`<div class="error">セッションが切れました。再ログインしてください</div>`))
		return "", false
	}
	return identity, true
}

type summaryPartial struct {
	Month      core.Month
	AllPeriods bool
	Total      core.Money
	Delta      core.Money
	DeltaUp    bool
	AllTotal   core.Money
	Count      int
}

// handleSummary renders the KPI strip: month total, month-over-month
// delta, all-period total and entry count.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.partialIdentity(w, r)
	if !ok {
		return
	}

	opts := viewOptions(r)
	opts.ShowDeleted = false // KPIs never include trashed rows
	snap := s.viewer.Load(r.Context(), identity, opts)

	month := parseMonth(r)
	query := sanitizeInput(r.URL.Query().Get("q"))
	visible := core.Filter(snap.Entries, query, month)

	data := summaryPartial{
		Month:      month,
		AllPeriods: month == core.MonthAll,
		Total:      core.Total(visible),
		AllTotal:   core.Total(core.Filter(snap.Entries, query, core.MonthAll)),
		Count:      len(visible),
	}
	if !data.AllPeriods {
		data.Delta = core.MonthDelta(snap.Entries, month)
		data.DeltaUp = data.Delta.Yen > 0
	}

	s.render(w, r, "summary.html", data)
}

type shareRow struct {
	Name   string
	Total  core.Money
	Width  int
	Share  int // percent of the filtered total
}

type sharePartial struct {
	Month core.Month
	Rows  []shareRow
	Empty bool
}

// handleCategoryShare renders per-category totals as proportional bars.
func (s *Server) handleCategoryShare(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.partialIdentity(w, r)
	if !ok {
		return
	}

	opts := viewOptions(r)
	opts.ShowDeleted = false
	snap := s.viewer.Load(r.Context(), identity, opts)

	month := parseMonth(r)
	sums := core.CategoryShare(snap.Entries, month)

	var maxYen, totalYen int64
	for _, cs := range sums {
		totalYen += cs.Total.Yen
		if cs.Total.Yen > maxYen {
			maxYen = cs.Total.Yen
		}
	}

	data := sharePartial{Month: month, Empty: len(sums) == 0}
	for _, cs := range sums {
		data.Rows = append(data.Rows, shareRow{
			Name:  cs.Category,
			Total: cs.Total,
			Width: barWidth(cs.Total.Yen, maxYen),
			Share: int((cs.Total.Yen*100 + totalYen/2) / totalYen),
		})
	}
	s.render(w, r, "category_share.html", data)
}

type seriesRow struct {
	Label string
	Total core.Money
	Width int
}

type seriesPartial struct {
	Bucket core.Bucket
	Rows   []seriesRow
	Empty  bool
}

// handleSpendSeries renders spending resampled into day, week or month
// buckets over the currently filtered set.
func (s *Server) handleSpendSeries(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.partialIdentity(w, r)
	if !ok {
		return
	}

	opts := viewOptions(r)
	opts.ShowDeleted = false
	snap := s.viewer.Load(r.Context(), identity, opts)

	month := parseMonth(r)
	query := sanitizeInput(r.URL.Query().Get("q"))
	visible := core.Filter(snap.Entries, query, month)

	bucket := core.Bucket(strings.TrimSpace(r.URL.Query().Get("bucket")))
	if bucket == "" {
		bucket = core.BucketDay
	}
	sums, err := core.Resample(visible, bucket)
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">不正な集計単位です</div>`))
		return
	}

	var maxYen int64
	for _, bs := range sums {
		if bs.Total.Yen > maxYen {
			maxYen = bs.Total.Yen
		}
	}

	data := seriesPartial{Bucket: bucket, Empty: len(sums) == 0}
	for _, bs := range sums {
		data.Rows = append(data.Rows, seriesRow{
			Label: bs.Label,
			Total: bs.Total,
			Width: barWidth(bs.Total.Yen, maxYen),
		})
	}
	s.render(w, r, "spend_series.html", data)
}

// barWidth converts an amount to a rounded percent of the largest bar,
// clamped so tiny values stay visible.
func barWidth(yen, maxYen int64) int {
	if maxYen <= 0 || yen <= 0 {
		return 0
	}
	width := int((yen*100 + maxYen/2) / maxYen)
	if width < 2 {
		width = 2
	}
	if width > 100 {
		width = 100
	}
	return width
}

type historyRow struct {
	ID        int64
	Date      string
	Category  string
	Memo      string
	Amount    core.Money
	Owner     string
	DeletedAt string
}

type historyPartial struct {
	Rows      []historyRow
	Trash     bool
	ShowOwner bool
	Empty     bool
}

// handleHistory renders the entry list. With deleted=1 it becomes the
// trash view, ordered by deletion time instead of entry date.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.partialIdentity(w, r)
	if !ok {
		return
	}

	opts := viewOptions(r)
	snap := s.viewer.Load(r.Context(), identity, opts)

	month := parseMonth(r)
	query := sanitizeInput(r.URL.Query().Get("q"))
	visible := core.Filter(snap.Entries, query, month)

	if opts.ShowDeleted {
		core.SortByDeletedAt(visible)
	} else {
		core.SortByDate(visible)
	}

	data := historyPartial{
		Trash:     opts.ShowDeleted,
		ShowOwner: s.viewer.IsAdmin(identity),
		Empty:     len(visible) == 0,
	}
	for _, e := range visible {
		row := historyRow{
			ID:       e.ID,
			Date:     e.Date.String(),
			Category: e.Category,
			Memo:     e.Memo,
			Amount:   e.Amount,
			Owner:    e.Owner,
		}
		if e.DeletedAt != nil {
			row.DeletedAt = e.DeletedAt.In(core.Tokyo).Format("2006-01-02 15:04")
		}
		data.Rows = append(data.Rows, row)
	}
	s.render(w, r, "history.html", data)
}

type editPartial struct {
	ID         int64
	Date       string
	Memo       string
	Amount     int64
	Categories []string
	Selected   int
}

// handleEntryEdit renders the inline edit form for one entry. The
// stored category is appended to the select if it is no longer listed.
func (s *Server) handleEntryEdit(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.partialIdentity(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("id")), 10, 64)
	if err != nil || id <= 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">対象が見つかりません</div>`))
		return
	}

	entry, err := s.store.GetEntry(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<div class="error">対象が見つかりません</div>`))
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Entry lookup failed", "error", err, "entry_id", id)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<div class="error">読み込みに失敗しました</div>`))
		return
	}
	if entry.Owner != identity && !s.viewer.IsAdmin(identity) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<div class="error">権限がありません</div>`))
		return
	}

	cats, selected := core.CategoryIndex(s.categories(r), entry.Category)
	s.render(w, r, "entry_edit.html", editPartial{
		ID:         entry.ID,
		Date:       entry.Date.String(),
		Memo:       entry.Memo,
		Amount:     entry.Amount.Yen,
		Categories: cats,
		Selected:   selected,
	})
}
