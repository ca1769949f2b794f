package http

import (
	"strings"
	"time"

	"budgetledger/internal/aggregate"
	"budgetledger/internal/analytics"
	"budgetledger/internal/classifier"
	"budgetledger/internal/core"
	"budgetledger/internal/parser"
	"budgetledger/internal/services"
)

// Amounts cross the API as decimal strings at the currency scale.
type moneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toMoney(m core.Money) moneyDTO {
	if m.Currency == "" {
		return moneyDTO{Amount: "0"}
	}
	return moneyDTO{Amount: m.String(), Currency: string(m.Currency)}
}

type (
	budgetRequest struct {
		Name              string `json:"name"`
		ReportingCurrency string `json:"reporting_currency"`
	}

	budgetDTO struct {
		ID                string    `json:"id"`
		Name              string    `json:"name"`
		ReportingCurrency string    `json:"reporting_currency"`
		CreatedAt         time.Time `json:"created_at"`
	}
)

func toBudget(b core.Budget) budgetDTO {
	return budgetDTO{ID: b.ID, Name: b.Name, ReportingCurrency: string(b.ReportingCurrency), CreatedAt: b.CreatedAt}
}

type (
	accountRequest struct {
		Name            string `json:"name"`
		Type            string `json:"type"`
		DefaultCurrency string `json:"default_currency"`
		InitialBalance  string `json:"initial_balance"`
	}

	accountDTO struct {
		ID              string    `json:"id"`
		Name            string    `json:"name"`
		Type            string    `json:"type"`
		DefaultCurrency string    `json:"default_currency"`
		InitialBalance  moneyDTO  `json:"initial_balance"`
		Balance         *moneyDTO `json:"balance,omitempty"`
		Converted       *moneyDTO `json:"converted,omitempty"`
		IsActive        bool      `json:"is_active"`
		CreatedAt       time.Time `json:"created_at"`
	}
)

func toAccount(a core.Account) accountDTO {
	return accountDTO{
		ID:              a.ID,
		Name:            a.Name,
		Type:            string(a.Type),
		DefaultCurrency: string(a.DefaultCurrency),
		InitialBalance:  toMoney(a.InitialBalance),
		IsActive:        a.IsActive,
		CreatedAt:       a.CreatedAt,
	}
}

func toAccountBalance(ab aggregate.AccountBalance) accountDTO {
	dto := toAccount(ab.Account)
	balance := toMoney(ab.Account.Balance)
	dto.Balance = &balance
	if ab.Converted.Currency != "" {
		converted := toMoney(ab.Converted)
		dto.Converted = &converted
	}
	return dto
}

type (
	categoryRequest struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		ParentID string `json:"parent_id"`
	}

	categoryDTO struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Type     string `json:"type,omitempty"`
		ParentID string `json:"parent_id,omitempty"`
	}
)

func toCategory(c core.Category) categoryDTO {
	return categoryDTO{ID: c.ID, Name: c.Name, Type: string(c.Type), ParentID: c.ParentID}
}

type (
	vocabularyEntry struct {
		Name      string   `json:"name"`
		Type      string   `json:"type,omitempty"`
		Keywords  []string `json:"keywords"`
		Merchants []string `json:"merchants"`
	}

	vocabularyDTO struct {
		Categories []vocabularyEntry `json:"categories"`
	}
)

func (v vocabularyDTO) vocabulary() classifier.Vocabulary {
	out := classifier.Vocabulary{Categories: make([]classifier.Entry, 0, len(v.Categories))}
	for _, e := range v.Categories {
		out.Categories = append(out.Categories, classifier.Entry{
			Name:      sanitizeInput(e.Name),
			Type:      core.TransactionType(e.Type),
			Keywords:  e.Keywords,
			Merchants: e.Merchants,
		})
	}
	return out
}

func toVocabulary(v classifier.Vocabulary) vocabularyDTO {
	out := vocabularyDTO{Categories: make([]vocabularyEntry, 0, len(v.Categories))}
	for _, e := range v.Categories {
		out.Categories = append(out.Categories, vocabularyEntry{
			Name:      e.Name,
			Type:      string(e.Type),
			Keywords:  e.Keywords,
			Merchants: e.Merchants,
		})
	}
	return out
}

type (
	transactionRequest struct {
		AccountID        string `json:"account_id"`
		CounterAccountID string `json:"counter_account_id"`
		Amount           string `json:"amount"`
		Currency         string `json:"currency"`
		Type             string `json:"type"`
		CategoryID       string `json:"category_id"`
		Description      string `json:"description"`
		Merchant         string `json:"merchant"`
		Notes            string `json:"notes"`
		Date             string `json:"date"`
	}

	transactionPatchRequest struct {
		AccountID   *string `json:"account_id"`
		Amount      *string `json:"amount"`
		Currency    *string `json:"currency"`
		Type        *string `json:"type"`
		CategoryID  *string `json:"category_id"`
		Description *string `json:"description"`
		Merchant    *string `json:"merchant"`
		Notes       *string `json:"notes"`
		Date        *string `json:"date"`
	}

	transactionDTO struct {
		ID               string    `json:"id"`
		AccountID        string    `json:"account_id"`
		CounterAccountID string    `json:"counter_account_id,omitempty"`
		TransferID       string    `json:"transfer_id,omitempty"`
		Amount           moneyDTO  `json:"amount"`
		Type             string    `json:"type"`
		CategoryID       string    `json:"category_id,omitempty"`
		Description      string    `json:"description"`
		Merchant         string    `json:"merchant,omitempty"`
		OriginalText     string    `json:"original_text,omitempty"`
		Notes            string    `json:"notes,omitempty"`
		Date             string    `json:"date"`
		Source           string    `json:"source"`
		CreatedAt        time.Time `json:"created_at"`
		UpdatedAt        time.Time `json:"updated_at"`
	}
)

// transaction converts the request into a ledger entry dated today when
// no date is given.
func (req transactionRequest) transaction(ledgerID string, today core.Date) (core.Transaction, error) {
	typ, err := parseTransactionType("type", req.Type, core.Expense)
	if err != nil {
		return core.Transaction{}, err
	}
	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		return core.Transaction{}, err
	}
	date, err := parseDateField("date", req.Date, today)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		LedgerID:         ledgerID,
		AccountID:        sanitizeInput(req.AccountID),
		CounterAccountID: sanitizeInput(req.CounterAccountID),
		Amount:           amount,
		Type:             typ,
		CategoryID:       sanitizeInput(req.CategoryID),
		Description:      sanitizeInput(req.Description),
		Merchant:         sanitizeInput(req.Merchant),
		Notes:            sanitizeInput(req.Notes),
		OccurredAt:       date,
	}, nil
}

// patch converts the request. An amount without a currency is left as text
// for the ledger to resolve against the currency the transaction has.
func (req transactionPatchRequest) patch() (core.TransactionPatch, error) {
	var p core.TransactionPatch
	if req.Amount == nil && req.Currency != nil {
		return p, invalidField("amount", core.ErrInvalidAmount)
	}
	switch {
	case req.Amount != nil && req.Currency != nil:
		m, err := parseMoney(*req.Amount, *req.Currency)
		if err != nil {
			return p, err
		}
		p.Amount = &m
	case req.Amount != nil:
		a := strings.TrimSpace(*req.Amount)
		if a == "" {
			return p, invalidField("amount", core.ErrInvalidAmount)
		}
		p.AmountText = &a
	}
	if req.Type != nil {
		t, err := parseTransactionType("type", *req.Type, "")
		if err != nil {
			return p, err
		}
		if t == "" {
			return p, invalidField("type", core.ErrInvalidType)
		}
		p.Type = &t
	}
	if req.Date != nil {
		d, err := parseDateField("date", *req.Date, core.Date{})
		if err != nil {
			return p, err
		}
		if d.IsZero() {
			return p, invalidField("date", core.ErrInvalidDay)
		}
		p.OccurredAt = &d
	}
	p.AccountID = sanitized(req.AccountID)
	p.CategoryID = sanitized(req.CategoryID)
	p.Description = sanitized(req.Description)
	p.Merchant = sanitized(req.Merchant)
	p.Notes = sanitized(req.Notes)
	return p, nil
}

func sanitized(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}

func toTransaction(tx core.Transaction) transactionDTO {
	return transactionDTO{
		ID:               tx.ID,
		AccountID:        tx.AccountID,
		CounterAccountID: tx.CounterAccountID,
		TransferID:       tx.TransferID,
		Amount:           toMoney(tx.Amount),
		Type:             string(tx.Type),
		CategoryID:       tx.CategoryID,
		Description:      tx.Description,
		Merchant:         tx.Merchant,
		OriginalText:     tx.OriginalText,
		Notes:            tx.Notes,
		Date:             tx.OccurredAt.String(),
		Source:           string(tx.Source),
		CreatedAt:        tx.CreatedAt,
		UpdatedAt:        tx.UpdatedAt,
	}
}

func toTransactions(txs []core.Transaction) []transactionDTO {
	out := make([]transactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransaction(tx))
	}
	return out
}

type (
	textRequest struct {
		Text      string `json:"text"`
		AccountID string `json:"account_id"`
	}

	candidateDTO struct {
		Amount            moneyDTO           `json:"amount"`
		Type              string             `json:"type"`
		Merchant          string             `json:"merchant,omitempty"`
		Date              string             `json:"date"`
		Category          string             `json:"category,omitempty"`
		CategorySuggested bool               `json:"category_suggested"`
		AccountID         string             `json:"account_id,omitempty"`
		Description       string             `json:"description"`
		OriginalText      string             `json:"original_text"`
		Confidence        map[string]float64 `json:"confidence"`
		Uncertain         []string           `json:"uncertain"`
	}

	smartAddDTO struct {
		Transaction transactionDTO `json:"transaction"`
		Parsed      candidateDTO   `json:"parsed"`
	}
)

func toCandidate(c parser.Candidate, uncertain []parser.Field) candidateDTO {
	conf := make(map[string]float64, len(c.Confidence))
	for f, v := range c.Confidence {
		conf[string(f)] = v
	}
	fields := make([]string, 0, len(uncertain))
	for _, f := range uncertain {
		fields = append(fields, string(f))
	}
	return candidateDTO{
		Amount:            toMoney(c.Amount),
		Type:              string(c.Type),
		Merchant:          c.Merchant,
		Date:              c.OccurredAt.String(),
		Category:          c.Category,
		CategorySuggested: c.CategorySuggested,
		AccountID:         c.AccountID,
		Description:       c.Description,
		OriginalText:      c.OriginalText,
		Confidence:        conf,
		Uncertain:         fields,
	}
}

func toSmartAdd(res services.SmartAddResult) smartAddDTO {
	return smartAddDTO{
		Transaction: toTransaction(res.Transaction),
		Parsed:      toCandidate(res.Candidate, res.Uncertain),
	}
}

type (
	rateRequest struct {
		Base  string `json:"base"`
		Quote string `json:"quote"`
		Rate  string `json:"rate"`
		AsOf  string `json:"as_of"`
	}

	rateDTO struct {
		Base  string    `json:"base"`
		Quote string    `json:"quote"`
		Rate  string    `json:"rate"`
		AsOf  time.Time `json:"as_of"`
	}
)

func toRate(r core.ExchangeRate) rateDTO {
	return rateDTO{Base: string(r.Base), Quote: string(r.Quote), Rate: r.Rate.String(), AsOf: r.AsOf}
}

type (
	recurringRequest struct {
		Transaction transactionRequest `json:"transaction"`
		Every       string             `json:"every"`
		StartDate   string             `json:"start_date"`
		EndDate     string             `json:"end_date"`
	}

	recurringDTO struct {
		ID          string         `json:"id"`
		Transaction transactionDTO `json:"transaction"`
		Every       string         `json:"every"`
		StartDate   string         `json:"start_date"`
		EndDate     string         `json:"end_date,omitempty"`
		LastRun     string         `json:"last_run,omitempty"`
	}
)

func toRecurring(r core.RecurringRule) recurringDTO {
	return recurringDTO{
		ID:          r.ID,
		Transaction: toTransaction(r.Template),
		Every:       string(r.Every),
		StartDate:   r.StartDate.String(),
		EndDate:     r.EndDate.String(),
		LastRun:     r.LastRun.String(),
	}
}

type (
	categoryAmountDTO struct {
		CategoryID string   `json:"category_id,omitempty"`
		Name       string   `json:"name"`
		Amount     moneyDTO `json:"amount"`
	}

	overviewDTO struct {
		Label      string              `json:"label"`
		From       string              `json:"from"`
		To         string              `json:"to"`
		Income     moneyDTO            `json:"income"`
		Expense    moneyDTO            `json:"expense"`
		Net        moneyDTO            `json:"net"`
		ByCategory []categoryAmountDTO `json:"by_category,omitempty"`
		Incomplete bool                `json:"incomplete"`
	}

	dashboardDTO struct {
		Currency       string       `json:"currency"`
		Period         string       `json:"period"`
		TotalBalance   moneyDTO     `json:"total_balance"`
		MonthlyIncome  moneyDTO     `json:"monthly_income"`
		MonthlyExpense moneyDTO     `json:"monthly_expense"`
		Accounts       []accountDTO `json:"accounts"`
		Incomplete     bool         `json:"incomplete"`
	}

	categoryReportDTO struct {
		Period     string              `json:"period"`
		Type       string              `json:"type"`
		Currency   string              `json:"currency"`
		Categories []categoryAmountDTO `json:"categories"`
		Total      moneyDTO            `json:"total"`
		Incomplete bool                `json:"incomplete"`
	}

	incomeVsExpensesDTO struct {
		Currency   string        `json:"currency"`
		Months     []overviewDTO `json:"months"`
		Income     moneyDTO      `json:"income"`
		Expense    moneyDTO      `json:"expense"`
		Net        moneyDTO      `json:"net"`
		Incomplete bool          `json:"incomplete"`
	}
)

func toCategoryAmounts(cs []core.CategoryAmount) []categoryAmountDTO {
	out := make([]categoryAmountDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, categoryAmountDTO{CategoryID: c.CategoryID, Name: c.Name, Amount: toMoney(c.Amount)})
	}
	return out
}

func toOverview(o core.PeriodOverview) overviewDTO {
	dto := overviewDTO{
		Label:      o.Label,
		From:       o.From.String(),
		To:         o.To.String(),
		Income:     toMoney(o.Income),
		Expense:    toMoney(o.Expense),
		Net:        toMoney(o.Net()),
		Incomplete: o.Incomplete,
	}
	if len(o.ByCategory) > 0 {
		dto.ByCategory = toCategoryAmounts(o.ByCategory)
	}
	return dto
}

func toOverviews(overviews []core.PeriodOverview) []overviewDTO {
	out := make([]overviewDTO, 0, len(overviews))
	for _, o := range overviews {
		out = append(out, toOverview(o))
	}
	return out
}

func toDashboard(d analytics.Dashboard) dashboardDTO {
	accounts := make([]accountDTO, 0, len(d.Accounts))
	for _, a := range d.Accounts {
		accounts = append(accounts, toAccountBalance(a))
	}
	return dashboardDTO{
		Currency:       string(d.Currency),
		Period:         d.Period.String(),
		TotalBalance:   toMoney(d.TotalBalance),
		MonthlyIncome:  toMoney(d.MonthlyIncome),
		MonthlyExpense: toMoney(d.MonthlyExpense),
		Accounts:       accounts,
		Incomplete:     d.Incomplete,
	}
}

func toCategoryReport(r analytics.CategoryReport) categoryReportDTO {
	return categoryReportDTO{
		Period:     r.Period.String(),
		Type:       string(r.Type),
		Currency:   string(r.Currency),
		Categories: toCategoryAmounts(r.Categories),
		Total:      toMoney(r.Total),
		Incomplete: r.Incomplete,
	}
}

func toIncomeVsExpenses(r analytics.IncomeVsExpenses) incomeVsExpensesDTO {
	return incomeVsExpensesDTO{
		Currency:   string(r.Currency),
		Months:     toOverviews(r.Months),
		Income:     toMoney(r.Income),
		Expense:    toMoney(r.Expense),
		Net:        toMoney(r.Net),
		Incomplete: r.Incomplete,
	}
}
