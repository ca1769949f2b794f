package core

// CategoryAmount represents an amount aggregated by category.
type CategoryAmount struct {
	CategoryID string
	Name       string
	Amount     Money
}

// PeriodOverview is income and expense for one bucket of a series, in the
// ledger's reporting currency.
type PeriodOverview struct {
	Label      string // 2024-01, 2024-Q1 or 2024
	From       Date
	To         Date
	Income     Money
	Expense    Money
	ByCategory []CategoryAmount
	Incomplete bool
}

// Net is income minus expense.
func (o PeriodOverview) Net() Money {
	return Money{Minor: o.Income.Minor - o.Expense.Minor, Currency: o.Income.Currency}
}
