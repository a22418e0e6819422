package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kakeibo/internal/amqp"
	"kakeibo/internal/auth"
	"kakeibo/internal/core"
	"kakeibo/internal/storage"
	"kakeibo/internal/visibility"
)

type fakeStore struct {
	users      map[string]string
	entries    map[int64]core.Entry
	categories []string
	nextID     int64
	published  []amqp.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[string]string{"alice": "pw", "boss": "pw"},
		entries:    map[int64]core.Entry{},
		categories: []string{"食費", "交通費"},
		nextID:     1,
	}
}

func (f *fakeStore) FindUser(_ context.Context, username, password string) (core.User, error) {
	if pw, ok := f.users[username]; ok && pw == password {
		return core.User{Username: username, Password: password}, nil
	}
	return core.User{}, storage.ErrNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, username, password string) error {
	if _, ok := f.users[username]; ok {
		return storage.ErrUsernameTaken
	}
	f.users[username] = password
	return nil
}

func (f *fakeStore) InsertEntry(_ context.Context, e core.Entry) (int64, error) {
	id := f.nextID
	f.nextID++
	e.ID = id
	f.entries[id] = e
	return id, nil
}

func (f *fakeStore) UpdateEntry(_ context.Context, id int64, e core.Entry) error {
	old, ok := f.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.ID = id
	e.Owner = old.Owner
	f.entries[id] = e
	return nil
}

func (f *fakeStore) SoftDeleteEntry(_ context.Context, id int64, ts time.Time) error {
	e, ok := f.entries[id]
	if !ok || e.DeletedAt != nil {
		return storage.ErrNotFound
	}
	e.DeletedAt = &ts
	f.entries[id] = e
	return nil
}

func (f *fakeStore) GetEntry(_ context.Context, id int64) (core.Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return core.Entry{}, storage.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) ListEntries(_ context.Context, filter storage.EntryFilter) ([]core.Entry, error) {
	var out []core.Entry
	for _, e := range f.entries {
		if filter.Owner != "" && e.Owner != filter.Owner {
			continue
		}
		if filter.Deleted != (e.DeletedAt != nil) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) ListCategories(_ context.Context) ([]string, error) {
	return f.categories, nil
}

func (f *fakeStore) InsertCategory(_ context.Context, name string) error {
	for _, c := range f.categories {
		if c == name {
			return nil
		}
	}
	f.categories = append(f.categories, name)
	return nil
}

func (f *fakeStore) Publish(_ context.Context, ev amqp.Event) error {
	f.published = append(f.published, ev)
	return nil
}

func newTestServer(t *testing.T, store *fakeStore, adminUser string) *Server {
	t.Helper()
	s := NewServer(":0", Deps{
		Store:    store,
		Auth:     auth.NewService(store),
		Sessions: auth.NewSessions(100, time.Hour),
		Viewer:   visibility.NewResolver(store, adminUser),
		Events:   store,
	})
	t.Cleanup(func() { s.rateLimiter.stop() })
	return s
}

func login(t *testing.T, s *Server, username, password string) *http.Cookie {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func postForm(s *Server, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func get(s *Server, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t, newFakeStore(), "")

	form := url.Values{"username": {"alice"}, "password": {"wrong"}}
	rec := postForm(s, "/login", form, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestRegisterDoesNotLogIn(t *testing.T) {
	s := newTestServer(t, newFakeStore(), "")

	form := url.Values{"username": {"carol"}, "password": {"pw"}}
	rec := postForm(s, "/register", form, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	assert.Contains(t, rec.Body.String(), "ログインしてください")

	// Duplicate username conflicts and changes nothing.
	rec = postForm(s, "/register", form, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIndexRedirectsWithoutSession(t *testing.T) {
	s := newTestServer(t, newFakeStore(), "")

	rec := get(s, "/", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestCreateEntry(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store, "")
	cookie := login(t, s, "alice", "pw")

	form := url.Values{
		"date":     {"2024-03-05"},
		"category": {"食費"},
		"memo":     {"スーパー"},
		"amount":   {"800"},
	}
	rec := postForm(s, "/entries", form, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "entry:saved", rec.Header().Get("HX-Trigger"))

	e := store.entries[1]
	assert.Equal(t, "alice", e.Owner)
	assert.Equal(t, int64(800), e.Amount.Yen)

	require.Len(t, store.published, 1)
	assert.Equal(t, amqp.KindEntrySaved, store.published[0].Kind)
}

func TestCreateEntryRejectsZeroAmount(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store, "")
	cookie := login(t, s, "alice", "pw")

	form := url.Values{"category": {"食費"}, "amount": {"0"}}
	rec := postForm(s, "/entries", form, cookie)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, store.entries)
}

func TestCreateEntryWithNewCategory(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store, "")
	cookie := login(t, s, "alice", "pw")

	form := url.Values{
		"category":     {newCategoryOption},
		"new_category": {"推し活"},
		"amount":       {"1200"},
	}
	rec := postForm(s, "/entries", form, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "推し活", store.entries[1].Category)
	assert.Contains(t, store.categories, "推し活")

	// Reusing the fresh category keeps the list deduplicated.
	rec = postForm(s, "/entries", form, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	count := 0
	for _, c := range store.categories {
		if c == "推し活" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDeleteEntryForbiddenForOtherUser(t *testing.T) {
	store := newFakeStore()
	store.entries[1] = core.Entry{
		ID: 1, Owner: "bob", Date: core.NewDate(2024, 3, 1),
		Category: "食費", Amount: core.Money{Yen: 500},
	}
	s := newTestServer(t, store, "")
	cookie := login(t, s, "alice", "pw")

	rec := postForm(s, "/entries/delete", url.Values{"id": {"1"}}, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, store.entries[1].DeletedAt)
}

func TestAdminCanDeleteAnyEntry(t *testing.T) {
	store := newFakeStore()
	store.entries[1] = core.Entry{
		ID: 1, Owner: "alice", Date: core.NewDate(2024, 3, 1),
		Category: "食費", Amount: core.Money{Yen: 500},
	}
	s := newTestServer(t, store, "boss")
	cookie := login(t, s, "boss", "pw")

	rec := postForm(s, "/entries/delete", url.Values{"id": {"1"}}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, store.entries[1].DeletedAt)

	require.Len(t, store.published, 1)
	assert.Equal(t, amqp.KindEntryDeleted, store.published[0].Kind)
}

func TestUpdateEntryKeepsOwner(t *testing.T) {
	store := newFakeStore()
	store.entries[1] = core.Entry{
		ID: 1, Owner: "alice", Date: core.NewDate(2024, 3, 1),
		Category: "食費", Amount: core.Money{Yen: 500},
	}
	s := newTestServer(t, store, "boss")
	cookie := login(t, s, "boss", "pw")

	form := url.Values{
		"id":       {"1"},
		"date":     {"2024-03-02"},
		"category": {"交通費"},
		"memo":     {"修正"},
		"amount":   {"640"},
	}
	rec := postForm(s, "/entries/update", form, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	e := store.entries[1]
	assert.Equal(t, "alice", e.Owner, "editing must not reassign ownership")
	assert.Equal(t, int64(640), e.Amount.Yen)
	assert.Equal(t, "交通費", e.Category)
}

func TestHistoryScopedToOwner(t *testing.T) {
	store := newFakeStore()
	store.entries[1] = core.Entry{ID: 1, Owner: "alice", Date: core.NewDate(2024, 3, 1), Category: "食費", Amount: core.Money{Yen: 500}}
	store.entries[2] = core.Entry{ID: 2, Owner: "bob", Date: core.NewDate(2024, 3, 1), Category: "食費", Memo: "bobのランチ", Amount: core.Money{Yen: 900}}
	s := newTestServer(t, store, "")
	cookie := login(t, s, "alice", "pw")

	rec := get(s, "/ui/history?month=2024-03", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "bobのランチ")
}

func TestHistoryTrashView(t *testing.T) {
	store := newFakeStore()
	deletedAt := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store.entries[1] = core.Entry{ID: 1, Owner: "alice", Date: core.NewDate(2024, 3, 1), Category: "食費", Memo: "消した記録", Amount: core.Money{Yen: 500}, DeletedAt: &deletedAt}
	store.entries[2] = core.Entry{ID: 2, Owner: "alice", Date: core.NewDate(2024, 3, 2), Category: "食費", Memo: "残っている記録", Amount: core.Money{Yen: 700}}
	s := newTestServer(t, store, "")
	cookie := login(t, s, "alice", "pw")

	rec := get(s, "/ui/history?month=2024-03&deleted=1", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "消した記録")
	assert.NotContains(t, body, "残っている記録")
}

func TestSummaryTotals(t *testing.T) {
	store := newFakeStore()
	store.entries[1] = core.Entry{ID: 1, Owner: "alice", Date: core.NewDate(2024, 3, 1), Category: "食費", Amount: core.Money{Yen: 800}}
	store.entries[2] = core.Entry{ID: 2, Owner: "alice", Date: core.NewDate(2024, 3, 15), Category: "交通費", Amount: core.Money{Yen: 200}}
	store.entries[3] = core.Entry{ID: 3, Owner: "alice", Date: core.NewDate(2024, 2, 20), Category: "食費", Amount: core.Money{Yen: 300}}
	s := newTestServer(t, store, "")
	cookie := login(t, s, "alice", "pw")

	rec := get(s, "/ui/summary?month=2024-03", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "¥1,000")
	assert.Contains(t, body, "+¥700") // vs February's 300
}

func TestCategoryShareAllPeriods(t *testing.T) {
	store := newFakeStore()
	store.entries[1] = core.Entry{ID: 1, Owner: "alice", Date: core.NewDate(2024, 3, 1), Category: "食費", Amount: core.Money{Yen: 800}}
	store.entries[2] = core.Entry{ID: 2, Owner: "alice", Date: core.NewDate(2023, 12, 1), Category: "交通費", Amount: core.Money{Yen: 1200}}
	s := newTestServer(t, store, "")
	cookie := login(t, s, "alice", "pw")

	// The all-periods option must chart every live entry, not render the
	// empty-state placeholder.
	rec := get(s, "/ui/category-share?month=all", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "まだ記録がありません")
	assert.Contains(t, body, "食費")
	assert.Contains(t, body, "交通費")
	assert.Contains(t, body, "¥1,200")
}

func TestSpendSeriesRejectsUnknownBucket(t *testing.T) {
	s := newTestServer(t, newFakeStore(), "")
	cookie := login(t, s, "alice", "pw")

	rec := get(s, "/ui/spend-series?bucket=year", cookie)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestScanReceiptWithoutExtractor(t *testing.T) {
	s := newTestServer(t, newFakeStore(), "")
	cookie := login(t, s, "alice", "pw")

	rec := postForm(s, "/receipts/scan", url.Values{}, cookie)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPartialsRequireSession(t *testing.T) {
	s := newTestServer(t, newFakeStore(), "")

	for _, path := range []string{"/ui/summary", "/ui/history", "/ui/category-share", "/ui/spend-series"} {
		rec := get(s, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestFormatYen(t *testing.T) {
	assert.Equal(t, "¥0", formatYen(core.Money{}))
	assert.Equal(t, "¥800", formatYen(core.Money{Yen: 800}))
	assert.Equal(t, "¥1,234,567", formatYen(core.Money{Yen: 1234567}))
	assert.Equal(t, "-¥200", formatYen(core.Money{Yen: -200}))
}
