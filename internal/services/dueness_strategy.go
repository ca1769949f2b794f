package services

// Strategies deciding when a recurring rule is due. Each repetition type
// has its own checker; the processor handles start and end dates.

import (
	"fmt"
	"time"

	"budgetledger/internal/core"
)

// DuenessChecker decides whether a rule that last ran on lastRun (empty if
// never) should run today.
type DuenessChecker interface {
	IsDue(lastRun, today, startDate core.Date) bool
}

// DailyChecker is due once per calendar day.
type DailyChecker struct{}

func (DailyChecker) IsDue(lastRun, today, _ core.Date) bool {
	return lastRun.IsEmpty() || lastRun.Before(today.Time)
}

// WeeklyChecker is due when 7 or more days have passed since the last run.
type WeeklyChecker struct{}

func (WeeklyChecker) IsDue(lastRun, today, _ core.Date) bool {
	if lastRun.IsEmpty() {
		return true
	}
	return !today.Before(lastRun.AddDate(0, 0, 7))
}

// MonthlyChecker is due once per month, on or after the start date's day.
// Days past the end of a short month fall on its last day.
type MonthlyChecker struct{}

func (MonthlyChecker) IsDue(lastRun, today, startDate core.Date) bool {
	if lastRun.IsEmpty() {
		return true
	}
	if lastRun.Year() == today.Year() && lastRun.Month() == today.Month() {
		return false
	}
	return today.Day() >= clampDay(startDate.Day(), today.Year(), today.Month())
}

// YearlyChecker is due once per year, on or after the start date's month
// and day.
type YearlyChecker struct{}

func (YearlyChecker) IsDue(lastRun, today, startDate core.Date) bool {
	if lastRun.IsEmpty() {
		return true
	}
	if lastRun.Year() == today.Year() {
		return false
	}
	switch {
	case today.Month() < startDate.Month():
		return false
	case today.Month() > startDate.Month():
		return true
	}
	return today.Day() >= clampDay(startDate.Day(), today.Year(), today.Month())
}

func clampDay(day, year, month int) int {
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

var duenessStrategies = map[core.RepetitionTypes]DuenessChecker{
	core.Daily:   DailyChecker{},
	core.Weekly:  WeeklyChecker{},
	core.Monthly: MonthlyChecker{},
	core.Yearly:  YearlyChecker{},
}

// GetDuenessChecker returns the checker for a repetition type.
func GetDuenessChecker(frequency core.RepetitionTypes) (DuenessChecker, error) {
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown repetition type: %s", frequency)
	}
	return checker, nil
}

// RegisterDuenessChecker adds or replaces the checker for a repetition type.
func RegisterDuenessChecker(frequency core.RepetitionTypes, checker DuenessChecker) {
	duenessStrategies[frequency] = checker
}

// IsRuleDue applies the rule's window and its dueness strategy.
func IsRuleDue(r core.RecurringRule, today core.Date) (bool, error) {
	if today.Before(r.StartDate.Time) {
		return false, nil
	}
	if !r.EndDate.IsEmpty() && today.After(r.EndDate.Time) {
		return false, nil
	}
	checker, err := GetDuenessChecker(r.Every)
	if err != nil {
		return false, err
	}
	return checker.IsDue(r.LastRun, today, r.StartDate), nil
}
