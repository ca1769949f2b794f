package core

import (
	"fmt"
	"time"
)

// Period is a calendar month, the default aggregation bucket.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the month containing d.
func PeriodOf(d Date) Period {
	return Period{Year: d.Year(), Month: d.Time.Month()}
}

// ParsePeriod parses YYYY-MM.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start is the first day of the month.
func (p Period) Start() Date {
	return NewDate(p.Year, int(p.Month), 1)
}

// End is the last day of the month.
func (p Period) End() Date {
	return Date{Time: p.Start().AddDate(0, 1, -1)}
}

func (p Period) Next() Period {
	t := p.Start().AddDate(0, 1, 0)
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// Contains reports whether d falls inside the month.
func (p Period) Contains(d Date) bool {
	return d.Year() == p.Year && d.Time.Month() == p.Month
}

// PeriodsBetween lists every month from first to last inclusive.
func PeriodsBetween(first, last Period) []Period {
	var out []Period
	for p := first; !last.Before(p); p = p.Next() {
		out = append(out, p)
	}
	return out
}
