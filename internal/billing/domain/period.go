package billing

import (
	"fmt"
	"strconv"
	"time"
)

const (
	MinStatementYear = 1900
	MaxStatementYear = 2100
)

// StatementPeriod is a calendar month selecting invoices by issue date.
type StatementPeriod struct {
	month int
	year  int
	start time.Time
	end   time.Time
}

// NewStatementPeriod validates month/year and builds the [start, end) window in UTC.
func NewStatementPeriod(month, year int) (StatementPeriod, error) {
	if month < 1 || month > 12 {
		return StatementPeriod{}, &InvalidPeriodError{Month: month, Year: year, Parsed: true, Reason: "month must be 1-12"}
	}
	if year < MinStatementYear || year > MaxStatementYear {
		return StatementPeriod{}, &InvalidPeriodError{
			Month:  month,
			Year:   year,
			Parsed: true,
			Reason: fmt.Sprintf("year must be %d-%d", MinStatementYear, MaxStatementYear),
		}
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return StatementPeriod{
		month: month,
		year:  year,
		start: start,
		end:   start.AddDate(0, 1, 0),
	}, nil
}

// ParseStatementPeriod parses raw query values. Both are required integers.
func ParseStatementPeriod(rawMonth, rawYear string) (StatementPeriod, error) {
	if rawMonth == "" || rawYear == "" {
		return StatementPeriod{}, &InvalidPeriodError{Reason: "month and year are required"}
	}
	month, err := strconv.Atoi(rawMonth)
	if err != nil {
		return StatementPeriod{}, &InvalidPeriodError{Reason: "month must be an integer"}
	}
	year, err := strconv.Atoi(rawYear)
	if err != nil {
		return StatementPeriod{}, &InvalidPeriodError{Reason: "year must be an integer"}
	}
	return NewStatementPeriod(month, year)
}

// Month returns the calendar month (1-12).
func (p StatementPeriod) Month() int { return p.month }

// Year returns the calendar year.
func (p StatementPeriod) Year() int { return p.year }

// Start is the first instant of the period.
func (p StatementPeriod) Start() time.Time { return p.start }

// End is the first instant of the next period (exclusive).
func (p StatementPeriod) End() time.Time { return p.end }

// Contains reports whether an invoice date falls inside [start, end).
func (p StatementPeriod) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.start) && t.Before(p.end)
}

// Next returns the following month.
func (p StatementPeriod) Next() StatementPeriod {
	next, _ := NewStatementPeriod(int(p.end.Month()), p.end.Year())
	return next
}

// Label formats the period as MM/YYYY.
func (p StatementPeriod) Label() string {
	return fmt.Sprintf("%02d/%04d", p.month, p.year)
}

// String implements fmt.Stringer.
func (p StatementPeriod) String() string { return p.Label() }
