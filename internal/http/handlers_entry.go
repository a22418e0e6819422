package http

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kakeibo/internal/amqp"
	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

// handleCreateEntry records a new expense for the logged-in user.
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(r)
	if identity == "" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`<div class="error">ログインしてください</div>`))
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.ErrorContext(r.Context(), "Parse form error", "error", err, "url", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<div class="error">リクエストを読み取れませんでした</div>`))
		return
	}

	entry, msg, ok := s.entryFromForm(r, identity)
	if !ok {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">` + template.HTMLEscapeString(msg) + `</div>`))
		return
	}

	id, err := s.store.InsertEntry(r.Context(), entry)
	if err != nil {
		slog.ErrorContext(r.Context(), "Entry insert failed", "error", err, "owner", identity)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<div class="error">保存に失敗しました</div>`))
		return
	}

	s.publish(r, amqp.NewEntrySavedEvent(id))

	w.Header().Set("HX-Trigger", "entry:saved")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<div class="success">記録しました: ` +
		template.HTMLEscapeString(entry.Category) + ` ` +
		template.HTMLEscapeString(formatYen(entry.Amount)) + `</div>`))
}

// handleUpdateEntry rewrites all four editable fields of one entry.
func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(r)
	if identity == "" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`<div class="error">ログインしてください</div>`))
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<div class="error">リクエストを読み取れませんでした</div>`))
		return
	}

	existing, id, ok := s.ownedEntry(w, r, identity)
	if !ok {
		return
	}

	entry, msg, ok := s.entryFromForm(r, existing.Owner)
	if !ok {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">` + template.HTMLEscapeString(msg) + `</div>`))
		return
	}

	if err := s.store.UpdateEntry(r.Context(), id, entry); err != nil {
		slog.ErrorContext(r.Context(), "Entry update failed", "error", err, "entry_id", id)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<div class="error">更新に失敗しました</div>`))
		return
	}

	s.publish(r, amqp.NewEntrySavedEvent(id))

	w.Header().Set("HX-Trigger", "entry:saved")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<div class="success">更新しました</div>`))
}

// handleDeleteEntry soft-deletes one entry. The row stays recoverable
// in the trash view.
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(r)
	if identity == "" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`<div class="error">ログインしてください</div>`))
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<div class="error">リクエストを読み取れませんでした</div>`))
		return
	}

	_, id, ok := s.ownedEntry(w, r, identity)
	if !ok {
		return
	}

	err := s.store.SoftDeleteEntry(r.Context(), id, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		// Already deleted; treat the retry as settled.
		w.Header().Set("HX-Trigger", "entry:deleted")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<div class="success">削除済みです</div>`))
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Entry delete failed", "error", err, "entry_id", id)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<div class="error">削除に失敗しました</div>`))
		return
	}

	s.publish(r, amqp.NewEntryDeletedEvent(id))

	w.Header().Set("HX-Trigger", "entry:deleted")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<div class="success">削除しました</div>`))
}

// entryFromForm builds a validated entry from form fields. The date
// defaults to today when absent or malformed; the failure message is
// user-facing.
func (s *Server) entryFromForm(r *http.Request, owner string) (core.Entry, string, bool) {
	date := core.Today()
	if v := strings.TrimSpace(r.Form.Get("date")); v != "" {
		if d, err := core.ParseDate(v); err == nil {
			date = d
		}
	}

	category := sanitizeInput(r.Form.Get("category"))
	if category == newCategoryOption {
		category = sanitizeInput(r.Form.Get("new_category"))
		if category == "" {
			return core.Entry{}, "新しいカテゴリ名を入力してください", false
		}
		// Idempotent: re-adding an existing name is not an error.
		if err := s.store.InsertCategory(r.Context(), category); err != nil {
			slog.ErrorContext(r.Context(), "Category insert failed", "error", err, "category", category)
			return core.Entry{}, "カテゴリの追加に失敗しました", false
		}
	}

	yen, err := core.ParseYen(r.Form.Get("amount"))
	if err != nil {
		return core.Entry{}, "金額は正の整数で入力してください", false
	}

	entry := core.Entry{
		Owner:    owner,
		Date:     date,
		Category: category,
		Memo:     sanitizeInput(r.Form.Get("memo")),
		Amount:   core.Money{Yen: yen},
	}
	if err := entry.Validate(); err != nil {
		switch {
		case errors.Is(err, core.ErrZeroAmount), errors.Is(err, core.ErrNegativeAmount):
			return core.Entry{}, "金額は1円以上で入力してください", false
		case errors.Is(err, core.ErrEmptyCategory):
			return core.Entry{}, "カテゴリを選択してください", false
		default:
			return core.Entry{}, "入力内容を確認してください", false
		}
	}
	return entry, "", true
}

// ownedEntry loads the entry named by the id form value and checks the
// caller may touch it: the owner, or the administrator.
func (s *Server) ownedEntry(w http.ResponseWriter, r *http.Request, identity string) (core.Entry, int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Form.Get("id")), 10, 64)
	if err != nil || id <= 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">対象が見つかりません</div>`))
		return core.Entry{}, 0, false
	}

	entry, err := s.store.GetEntry(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<div class="error">対象が見つかりません</div>`))
		return core.Entry{}, 0, false
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Entry lookup failed", "error", err, "entry_id", id)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<div class="error">読み込みに失敗しました</div>`))
		return core.Entry{}, 0, false
	}

	if entry.Owner != identity && !s.viewer.IsAdmin(identity) {
		slog.WarnContext(r.Context(), "Entry access denied",
			"entry_id", id,
			"owner", entry.Owner,
			"identity", identity)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<div class="error">権限がありません</div>`))
		return core.Entry{}, 0, false
	}
	return entry, id, true
}

// publish announces a mutation. Loss is tolerated: the worker's
// periodic sweep mirrors rows whose events never arrived.
func (s *Server) publish(r *http.Request, ev amqp.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(r.Context(), ev); err != nil {
		slog.ErrorContext(r.Context(), "Event publish failed",
			"error", err,
			"kind", ev.Kind,
			"entry_id", ev.EntryID)
	}
}
