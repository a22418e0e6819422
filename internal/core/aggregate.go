package core

import (
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

// Bucket selects the calendar grouping used by Resample.
type Bucket string

const (
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week" // ISO week, anchored to Monday
	BucketMonth Bucket = "month"
)

type (
	// BucketSum is one resampled time bucket. Only buckets that contain
	// at least one entry are produced; there is no zero-fill.
	BucketSum struct {
		Label string // YYYY-MM-DD for day/week buckets, YYYY-MM for month
		Start Date
		Total Money
	}

	// CategorySum is a per-category amount, used for share displays.
	CategorySum struct {
		Category string
		Total    Money
	}
)

// weekCfg anchors week buckets to Monday without touching the package
// global in jinzhu/now.
var weekCfg = &now.Config{WeekStartDay: time.Monday}

// Total sums all amounts in the set. Empty set sums to 0.
func Total(entries []Entry) Money {
	var sum int64
	for _, e := range entries {
		sum += e.Amount.Yen
	}
	return Money{Yen: sum}
}

// MonthTotal sums the amounts of entries dated within the given month.
func MonthTotal(entries []Entry, m Month) Money {
	var sum int64
	for _, e := range entries {
		if e.Date.Month() == m {
			sum += e.Amount.Yen
		}
	}
	return Money{Yen: sum}
}

// MonthDelta returns the given month's total minus the previous month's
// total. The sign is preserved.
func MonthDelta(entries []Entry, m Month) Money {
	cur := MonthTotal(entries, m)
	prev := MonthTotal(entries, m.Prev())
	return Money{Yen: cur.Yen - prev.Yen}
}

// Resample groups entries into calendar buckets and sums amounts per
// bucket. Buckets are returned in ascending time order. Any mode other
// than day, week or month is a caller error.
func Resample(entries []Entry, mode Bucket) ([]BucketSum, error) {
	switch mode {
	case BucketDay, BucketWeek, BucketMonth:
	default:
		return nil, ErrInvalidBucket
	}

	sums := make(map[time.Time]int64)
	for _, e := range entries {
		key := bucketStart(e.Date.Time, mode)
		sums[key] += e.Amount.Yen
	}

	out := make([]BucketSum, 0, len(sums))
	for start, total := range sums {
		label := start.Format("2006-01-02")
		if mode == BucketMonth {
			label = start.Format("2006-01")
		}
		out = append(out, BucketSum{
			Label: label,
			Start: Date{Time: start},
			Total: Money{Yen: total},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start.Time)
	})
	return out, nil
}

func bucketStart(t time.Time, mode Bucket) time.Time {
	switch mode {
	case BucketWeek:
		return weekCfg.With(t).BeginningOfWeek()
	case BucketMonth:
		return weekCfg.With(t).BeginningOfMonth()
	default:
		return weekCfg.With(t).BeginningOfDay()
	}
}

// CategoryShare returns per-category sums restricted to the given month,
// largest first. MonthAll (or the empty string) disables the month
// restriction, same as Filter. An empty result means there is no data to
// chart.
func CategoryShare(entries []Entry, m Month) []CategorySum {
	sums := make(map[string]int64)
	for _, e := range entries {
		if m != "" && m != MonthAll && e.Date.Month() != m {
			continue
		}
		sums[e.Category] += e.Amount.Yen
	}
	out := make([]CategorySum, 0, len(sums))
	for cat, total := range sums {
		out = append(out, CategorySum{Category: cat, Total: Money{Yen: total}})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total.Yen != out[j].Total.Yen {
			return out[i].Total.Yen > out[j].Total.Yen
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Filter narrows the set by an exact month key and a free-text query.
//
// The month filter is applied first; MonthAll (or the empty string)
// disables it. The query is a case-sensitive substring match against memo
// OR category; an empty query passes everything through.
func Filter(entries []Entry, query string, m Month) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if m != "" && m != MonthAll && e.Date.Month() != m {
			continue
		}
		if query != "" &&
			!strings.Contains(e.Memo, query) &&
			!strings.Contains(e.Category, query) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// CategoryIndex returns the index of stored within categories, extending a
// copy of the list when the stored category is no longer registered. The
// returned list is always valid for the returned index.
func CategoryIndex(categories []string, stored string) ([]string, int) {
	for i, c := range categories {
		if c == stored {
			return categories, i
		}
	}
	extended := make([]string, len(categories), len(categories)+1)
	copy(extended, categories)
	extended = append(extended, stored)
	return extended, len(extended) - 1
}

// Partition splits the set into live and soft-deleted entries.
func Partition(entries []Entry) (live, deleted []Entry) {
	for _, e := range entries {
		if e.Deleted() {
			deleted = append(deleted, e)
		} else {
			live = append(live, e)
		}
	}
	return live, deleted
}

// DistinctOwners returns the distinct owner usernames in the set, sorted.
func DistinctOwners(entries []Entry) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		seen[e.Owner] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// SortByDate orders entries by date descending, newest first. Ties break
// on ID descending so recently inserted rows surface first.
func SortByDate(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date.Time) {
			return entries[i].Date.After(entries[j].Date.Time)
		}
		return entries[i].ID > entries[j].ID
	})
}

// SortByDeletedAt orders entries by deletion time descending, for the
// trash view. Entries without a deletion time sink to the end.
func SortByDeletedAt(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].DeletedAt, entries[j].DeletedAt
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.After(*dj)
		}
	})
}
