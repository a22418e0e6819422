package core

import (
	"errors"
	"strings"
	"time"
)

// Tokyo is the wall clock used for "today" defaults. Entry dates carry no
// time component or zone; only the notion of the current day is zoned.
var Tokyo = time.FixedZone("UTC+9", 9*60*60)

type (
	// Date is a calendar date with no time component.
	Date struct {
		time.Time
	}

	// Money is a whole-yen amount. No minor units.
	Money struct {
		Yen int64
	}

	// Month is a "YYYY-MM" key used for month-scoped filters and totals.
	Month string

	// User is a stored credential pair. Passwords are opaque strings
	// compared by exact equality (see DESIGN.md).
	User struct {
		Username string
		Password string
	}

	// Entry is one recorded expense.
	Entry struct {
		ID        int64
		Owner     string // owning username
		Date      Date
		Category  string
		Memo      string
		Amount    Money
		DeletedAt *time.Time // non-nil marks a soft delete
	}

	// Snapshot is the role- and filter-scoped working set handed to the
	// aggregation functions for a single request. It is never mutated.
	Snapshot struct {
		Entries []Entry
		// Owners lists the view-as candidates offered to the
		// administrator. Empty for everyone else.
		Owners []string
	}
)

// MonthAll disables month filtering ("all periods").
const MonthAll Month = "all"

var (
	ErrZeroAmount     = errors.New("amount is zero")
	ErrNegativeAmount = errors.New("negative amount")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrEmptyCategory  = errors.New("empty category")
	ErrEmptyOwner     = errors.New("empty owner")
	ErrInvalidBucket  = errors.New("invalid bucket mode")
)

const dateLayout = "2006-01-02"

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Month returns the YYYY-MM key the date falls in.
func (d Date) Month() Month {
	return Month(d.Format("2006-01"))
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// Today returns the current calendar date under the fixed UTC+9 clock.
func Today() Date {
	n := time.Now().In(Tokyo)
	return NewDate(n.Year(), int(n.Month()), n.Day())
}

// ThisMonth returns the current month under the fixed UTC+9 clock.
func ThisMonth() Month {
	return Today().Month()
}

// Prev returns the month before m, derived from the first day of m minus
// one day. Returns m unchanged when m is not a parseable YYYY-MM key.
func (m Month) Prev() Month {
	t, err := time.Parse("2006-01", string(m))
	if err != nil {
		return m
	}
	return Month(t.AddDate(0, 0, -1).Format("2006-01"))
}

func (m Money) Validate() error {
	if m.Yen < 0 {
		return ErrNegativeAmount
	}
	if m.Yen == 0 {
		return ErrZeroAmount
	}
	return nil
}

// Deleted reports whether the entry has been soft-deleted.
func (e Entry) Deleted() bool {
	return e.DeletedAt != nil
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.Owner) == "" {
		return ErrEmptyOwner
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	// Memo may be empty.
	return nil
}
