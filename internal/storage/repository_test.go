package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kakeibo/internal/core"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "kakeibo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustDate(t *testing.T, s string) core.Date {
	t.Helper()
	d, err := core.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestUserRegistrationAndLogin(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, "alice", "secret"))

	// Duplicate username is a conflict with no mutation.
	err := repo.CreateUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	u, err := repo.FindUser(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	// The pair must match exactly.
	_, err = repo.FindUser(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindUser(ctx, "bob", "secret")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntryLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.InsertEntry(ctx, core.Entry{
		Owner:    "alice",
		Date:     mustDate(t, "2024-03-05"),
		Category: "食費",
		Memo:     "lunch",
		Amount:   core.Money{Yen: 800},
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	id2, err := repo.InsertEntry(ctx, core.Entry{
		Owner:    "alice",
		Date:     mustDate(t, "2024-03-20"),
		Category: "食費",
		Amount:   core.Money{Yen: 200},
	})
	require.NoError(t, err)

	entries, err := repo.ListEntries(ctx, EntryFilter{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1000), core.MonthTotal(entries, "2024-03").Yen)
	// Default ordering is date descending.
	assert.Equal(t, "2024-03-20", entries[0].Date.String())

	// Soft-delete the second entry: it vanishes from default fetches and
	// is the only row in the trash.
	require.NoError(t, repo.SoftDeleteEntry(ctx, id2, time.Date(2024, 3, 21, 9, 0, 0, 0, time.UTC)))

	entries, err = repo.ListEntries(ctx, EntryFilter{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(800), core.MonthTotal(entries, "2024-03").Yen)

	trash, err := repo.ListEntries(ctx, EntryFilter{Owner: "alice", Deleted: true})
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, id2, trash[0].ID)
	require.NotNil(t, trash[0].DeletedAt)

	// Deleting an already-deleted row is not found; there is no restore.
	err = repo.SoftDeleteEntry(ctx, id2, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	// GetEntry still sees the deleted row (needed for the edit form and
	// the backup pipeline).
	got, err := repo.GetEntry(ctx, id2)
	require.NoError(t, err)
	assert.True(t, got.Deleted())
}

func TestUpdateEntryRewritesAllFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.InsertEntry(ctx, core.Entry{
		Owner:    "alice",
		Date:     mustDate(t, "2024-03-05"),
		Category: "食費",
		Memo:     "lunch",
		Amount:   core.Money{Yen: 800},
	})
	require.NoError(t, err)

	err = repo.UpdateEntry(ctx, id, core.Entry{
		Owner:    "alice",
		Date:     mustDate(t, "2024-03-06"),
		Category: "交通費",
		Memo:     "bus",
		Amount:   core.Money{Yen: 210},
	})
	require.NoError(t, err)

	got, err := repo.GetEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-06", got.Date.String())
	assert.Equal(t, "交通費", got.Category)
	assert.Equal(t, "bus", got.Memo)
	assert.Equal(t, int64(210), got.Amount.Yen)

	err = repo.UpdateEntry(ctx, 99999, got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEntriesFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed := []core.Entry{
		{Owner: "alice", Date: mustDate(t, "2024-03-05"), Category: "食費", Amount: core.Money{Yen: 800}},
		{Owner: "bob", Date: mustDate(t, "2024-03-06"), Category: "趣味", Amount: core.Money{Yen: 500}},
		{Owner: "alice", Date: mustDate(t, "2024-04-01"), Category: "食費", Amount: core.Money{Yen: 300}},
	}
	for _, e := range seed {
		_, err := repo.InsertEntry(ctx, e)
		require.NoError(t, err)
	}

	// No owner filter: all owners (the administrator path).
	all, err := repo.ListEntries(ctx, EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, int64(1300), core.MonthTotal(all, "2024-03").Yen)

	// Owner filter.
	mine, err := repo.ListEntries(ctx, EntryFilter{Owner: "alice"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	// Month filter.
	march, err := repo.ListEntries(ctx, EntryFilter{Month: "2024-03"})
	require.NoError(t, err)
	assert.Len(t, march, 2)

	// MonthAll sentinel disables the month filter.
	everything, err := repo.ListEntries(ctx, EntryFilter{Month: core.MonthAll})
	require.NoError(t, err)
	assert.Len(t, everything, 3)
}

func TestInsertCategoryIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertCategory(ctx, "推し活"))
	// A second insert, as fired by every save in "new category" mode,
	// is silently treated as success.
	require.NoError(t, repo.InsertCategory(ctx, "推し活"))

	names, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"推し活"}, names)
}

func TestSyncBookkeeping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.InsertEntry(ctx, core.Entry{
		Owner:    "alice",
		Date:     mustDate(t, "2024-03-05"),
		Category: "食費",
		Amount:   core.Money{Yen: 800},
	})
	require.NoError(t, err)

	pending, err := repo.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkSynced(ctx, id, time.Now()))

	pending, err = repo.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// An edit queues the row for re-sync.
	e, err := repo.GetEntry(ctx, id)
	require.NoError(t, err)
	e.Amount.Yen = 900
	require.NoError(t, repo.UpdateEntry(ctx, id, e))

	pending, err = repo.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// A soft delete queues the row again, so the sweep can still mirror
	// the deletion when the mutation event is lost.
	require.NoError(t, repo.MarkSynced(ctx, id, time.Now()))
	require.NoError(t, repo.SoftDeleteEntry(ctx, id, time.Now()))

	pending, err = repo.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotNil(t, pending[0].DeletedAt)
}
