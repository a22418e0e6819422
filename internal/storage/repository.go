// Package storage implements the ledger and credential store on SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"

	"kakeibo/internal/core"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned when registering an existing username.
	// Username uniqueness is enforced here, at the storage layer, and
	// nowhere else.
	ErrUsernameTaken = errors.New("username already taken")
)

var entryColumns = []string{"id", "user_id", "date", "category", "memo", "amount", "deleted_at"}

// EntryFilter selects which receipt rows a list call returns.
type EntryFilter struct {
	Owner   string     // restrict to one owner; empty means all owners
	Deleted bool       // true fetches the trash (deleted_at NOT NULL)
	Month   core.Month // restrict to one YYYY-MM; empty or MonthAll means all
}

type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the SQLite database and runs
// migrations. Any failure here is fatal to the caller: the application
// must not start against an unreachable or unmigratable store.
func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// FindUser returns the user matching the exact username+password pair, or
// ErrNotFound. Login succeeds iff exactly one pair matches.
func (r *Repository) FindUser(ctx context.Context, username, password string) (core.User, error) {
	query := sq.Select("username", "password").
		From("users").
		Where(sq.Eq{"username": username, "password": password})

	var u core.User
	err := query.RunWith(r.db).QueryRowContext(ctx).Scan(&u.Username, &u.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// CreateUser registers a new username+password pair. A duplicate username
// is a conflict, reported as ErrUsernameTaken with no data mutation.
func (r *Repository) CreateUser(ctx context.Context, username, password string) error {
	res, err := sq.Insert("users").
		Options("OR IGNORE").
		Columns("username", "password").
		Values(username, password).
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create user rows affected: %w", err)
	}
	if n == 0 {
		return ErrUsernameTaken
	}

	slog.InfoContext(ctx, "User registered", "username", username)
	return nil
}

// InsertEntry saves a new expense entry and returns its assigned ID.
func (r *Repository) InsertEntry(ctx context.Context, e core.Entry) (int64, error) {
	res, err := sq.Insert("receipts").
		Columns("user_id", "date", "category", "memo", "amount").
		Values(e.Owner, e.Date.String(), e.Category, e.Memo, e.Amount.Yen).
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert entry id: %w", err)
	}

	slog.InfoContext(ctx, "Entry saved",
		"id", id,
		"owner", e.Owner,
		"date", e.Date.String(),
		"category", e.Category,
		"amount_yen", e.Amount.Yen)

	return id, nil
}

// UpdateEntry rewrites the four editable fields of an entry. The row is
// queued for re-sync to the backup spreadsheet.
func (r *Repository) UpdateEntry(ctx context.Context, id int64, e core.Entry) error {
	res, err := sq.Update("receipts").
		Set("date", e.Date.String()).
		Set("category", e.Category).
		Set("memo", e.Memo).
		Set("amount", e.Amount.Yen).
		Set("synced_at", nil).
		Where(sq.Eq{"id": id}).
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entry rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	slog.InfoContext(ctx, "Entry updated", "id", id, "category", e.Category, "amount_yen", e.Amount.Yen)
	return nil
}

// SoftDeleteEntry marks a live entry deleted at the given timestamp.
// Already-deleted rows are not touched; there is no restore. The row is
// queued for re-sync so the deletion reaches the backup spreadsheet even
// when the mutation event is lost.
func (r *Repository) SoftDeleteEntry(ctx context.Context, id int64, ts time.Time) error {
	res, err := sq.Update("receipts").
		Set("deleted_at", ts.UTC().Format(time.RFC3339)).
		Set("synced_at", nil).
		Where(sq.Eq{"id": id}).
		Where("deleted_at IS NULL").
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("soft delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	slog.InfoContext(ctx, "Entry soft-deleted", "id", id)
	return nil
}

// GetEntry fetches a single entry by ID, deleted or not.
func (r *Repository) GetEntry(ctx context.Context, id int64) (core.Entry, error) {
	row := sq.Select(entryColumns...).
		From("receipts").
		Where(sq.Eq{"id": id}).
		RunWith(r.db).QueryRowContext(ctx)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, ErrNotFound
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// ListEntries returns entries matching the filter. Default ordering is
// date descending; the trash is ordered by deletion time descending.
func (r *Repository) ListEntries(ctx context.Context, f EntryFilter) ([]core.Entry, error) {
	query := sq.Select(entryColumns...).From("receipts")

	if f.Deleted {
		query = query.Where("deleted_at IS NOT NULL").OrderBy("deleted_at DESC", "id DESC")
	} else {
		query = query.Where("deleted_at IS NULL").OrderBy("date DESC", "id DESC")
	}
	if f.Owner != "" {
		query = query.Where(sq.Eq{"user_id": f.Owner})
	}
	if f.Month != "" && f.Month != core.MonthAll {
		query = query.Where(sq.Like{"date": string(f.Month) + "-%"})
	}

	rows, err := query.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// ListCategories returns the canonical category names, sorted. Rendering
// code appends its own "create new" sentinel.
func (r *Repository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := sq.Select("name").
		From("categories").
		OrderBy("name ASC").
		RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return names, nil
}

// InsertCategory registers a category name. Duplicates are silently
// ignored: category creation is opportunistic and fires on every save in
// "new category" mode, so a lost race is still success.
func (r *Repository) InsertCategory(ctx context.Context, name string) error {
	_, err := sq.Insert("categories").
		Options("OR IGNORE").
		Columns("name").
		Values(name).
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// ListUnsynced returns entries not yet mirrored to the backup
// spreadsheet, oldest first, up to limit.
func (r *Repository) ListUnsynced(ctx context.Context, limit int) ([]core.Entry, error) {
	rows, err := sq.Select(entryColumns...).
		From("receipts").
		Where("synced_at IS NULL").
		OrderBy("id ASC").
		Limit(uint64(limit)).
		RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unsynced: %w", err)
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unsynced entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsynced: %w", err)
	}
	return entries, nil
}

// MarkSynced records that an entry was mirrored to the spreadsheet.
func (r *Repository) MarkSynced(ctx context.Context, id int64, ts time.Time) error {
	_, err := sq.Update("receipts").
		Set("synced_at", ts.UTC().Format(time.RFC3339)).
		Where(sq.Eq{"id": id}).
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (core.Entry, error) {
	var (
		e         core.Entry
		dateStr   string
		deletedAt sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Owner, &dateStr, &e.Category, &e.Memo, &e.Amount.Yen, &deletedAt); err != nil {
		return core.Entry{}, err
	}

	d, err := core.ParseDate(dateStr)
	if err != nil {
		return core.Entry{}, fmt.Errorf("parse entry date %q: %w", dateStr, err)
	}
	e.Date = d

	if deletedAt.Valid {
		ts, err := time.Parse(time.RFC3339, deletedAt.String)
		if err != nil {
			return core.Entry{}, fmt.Errorf("parse deleted_at %q: %w", deletedAt.String, err)
		}
		e.DeletedAt = &ts
	}
	return e, nil
}
