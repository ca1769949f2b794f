// Package parser turns a free-text description of a financial event into a
// transaction candidate.
//
// Parsing is deterministic and stateless. Date phrases are located first and
// masked so their digits are never read as amounts; then the amount and its
// currency, the transaction type, the merchant and finally the category are
// extracted. Every field carries a confidence so callers can ask the user to
// confirm weak guesses. A text without a usable amount is always rejected
// with core.ErrAmbiguousAmount. Texts longer than MaxTextRunes are rejected
// before any scanning.
package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"budgetledger/internal/classifier"
	"budgetledger/internal/core"
)

// Field names a parsed attribute.
type Field string

const (
	FieldAmount   Field = "amount"
	FieldCurrency Field = "currency"
	FieldType     Field = "type"
	FieldMerchant Field = "merchant"
	FieldDate     Field = "date"
	FieldCategory Field = "category"
)

var fieldOrder = []Field{FieldAmount, FieldCurrency, FieldType, FieldMerchant, FieldDate, FieldCategory}

// Confidence levels assigned by the extraction rules.
const (
	High   = 1.0
	Medium = 0.5
	Low    = 0.2
)

// MaxTextRunes bounds the input of a single parse.
const MaxTextRunes = 2000

const (
	maxDescriptionRunes = 200
	maxConfidentWords   = 4
	keywordReachBefore  = 3 // a type keyword up to two tokens before the amount
	keywordReachAfter   = 2 // or one token after it
)

type (
	Classifier interface {
		Classify(ledgerID, text, merchant string) classifier.Result
	}

	RateSource interface {
		GetRate(base, quote core.Currency, asOf time.Time) (decimal.Decimal, error)
	}

	// Options scope a parse to a ledger.
	Options struct {
		LedgerID        string
		DefaultCurrency core.Currency
		Now             time.Time // zero means the parser clock
		Accounts        []core.Account
	}

	// Candidate is a parsed, not yet persisted, transaction.
	Candidate struct {
		Amount            core.Money
		Type              core.TransactionType
		Merchant          string
		OccurredAt        core.Date
		Category          string
		CategorySuggested bool
		AccountID         string
		Description       string
		OriginalText      string
		Confidence        map[Field]float64
	}

	Parser struct {
		classifier Classifier
		rates      RateSource
		now        func() time.Time
	}
)

// New creates a parser. rates may be nil, in which case markers naming
// several currencies resolve to the ledger default or their first currency.
func New(c Classifier, rates RateSource) *Parser {
	return &Parser{classifier: c, rates: rates, now: time.Now}
}

// WithClock replaces the processing clock.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	cp := *p
	cp.now = now
	return &cp
}

// Parse extracts a candidate from text. It returns an error wrapping
// core.ErrAmbiguousAmount when no single amount can be identified, and a
// *core.ValidationError for text over MaxTextRunes.
func (p *Parser) Parse(ctx context.Context, text string, opts Options) (Candidate, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxTextRunes {
		return Candidate{}, &core.ValidationError{Field: "text", Err: core.ErrTextTooLong}
	}
	if !opts.DefaultCurrency.Valid() {
		return Candidate{}, fmt.Errorf("%w: default currency %q", core.ErrInvalidCurrency, opts.DefaultCurrency)
	}
	now := opts.Now
	if now.IsZero() {
		now = p.now()
	}

	c := Candidate{
		OriginalText: text,
		Description:  truncate(text, maxDescriptionRunes),
		Confidence:   make(map[Field]float64, len(fieldOrder)),
	}

	toks := tokenize(text)

	dates := findDates(text, now)
	markDates(toks, dates)
	c.OccurredAt, c.Confidence[FieldDate] = pickDate(dates, now)

	keywords := typeKeywords(toks)

	amount, err := chooseAmount(text, toks, keywords)
	if err != nil {
		return Candidate{}, err
	}
	currency, curConf := p.resolveCurrency(amount, opts.DefaultCurrency, c.OccurredAt)
	c.Amount, err = core.ParseAmount(amount.number, currency)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %q is not a positive amount", core.ErrAmbiguousAmount, amount.number)
	}
	c.Confidence[FieldAmount] = High
	c.Confidence[FieldCurrency] = curConf

	c.Type, c.Confidence[FieldType] = inferType(keywords, amount)

	c.Merchant = extractMerchant(text, toks)
	c.Confidence[FieldMerchant] = High
	if c.Merchant != "" && len(strings.Fields(c.Merchant)) > maxConfidentWords {
		c.Confidence[FieldMerchant] = Medium
	}

	c.AccountID = matchAccount(text, opts.Accounts)

	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}
	res := classifier.Result{Category: classifier.Uncategorized, Suggested: true}
	if p.classifier != nil {
		res = p.classifier.Classify(opts.LedgerID, text, c.Merchant)
	}
	c.Category = res.Category
	c.CategorySuggested = res.Suggested
	c.Confidence[FieldCategory] = res.Confidence

	return c, nil
}

// Uncertain lists fields whose confidence is below threshold. A suggested
// category is always listed.
func (c Candidate) Uncertain(threshold float64) []Field {
	var out []Field
	for _, f := range fieldOrder {
		conf, ok := c.Confidence[f]
		if !ok {
			continue
		}
		if conf < threshold || (f == FieldCategory && c.CategorySuggested) {
			out = append(out, f)
		}
	}
	return out
}

// Flags returns a *core.AmbiguousFieldError naming uncertain fields, or nil.
func (c Candidate) Flags(threshold float64) error {
	fields := c.Uncertain(threshold)
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return &core.AmbiguousFieldError{Fields: names}
}

// Transaction converts the candidate into a ledger entry. Category and
// account references are resolved by the caller.
func (c Candidate) Transaction(ledgerID string) core.Transaction {
	return core.Transaction{
		LedgerID:     ledgerID,
		AccountID:    c.AccountID,
		Amount:       c.Amount,
		Type:         c.Type,
		Description:  c.Description,
		Merchant:     c.Merchant,
		OriginalText: c.OriginalText,
		OccurredAt:   c.OccurredAt,
		Source:       core.SourceParsed,
	}
}

func pickDate(dates []dateMatch, now time.Time) (core.Date, float64) {
	if len(dates) == 0 {
		return core.DateOf(now), High
	}
	for _, d := range dates[1:] {
		if d.date != dates[0].date {
			return dates[0].date, Medium
		}
	}
	return dates[0].date, High
}

// markDates flags tokens overlapping a date phrase. Both slices are ordered
// by offset and dates do not overlap, so one forward pass suffices.
func markDates(toks []token, dates []dateMatch) {
	d := 0
	for i := range toks {
		for d < len(dates) && dates[d].end <= toks[i].start {
			d++
		}
		for j := d; j < len(dates) && dates[j].start < toks[i].end; j++ {
			if toks[i].start < dates[j].end {
				toks[i].inDate = true
				break
			}
		}
	}
}

type keywordHit struct {
	index int
	typ   core.TransactionType
}

func typeKeywords(toks []token) []keywordHit {
	var hits []keywordHit
	for i, t := range toks {
		if t.kind != tokWord || t.inDate {
			continue
		}
		if typ, ok := keywordType(t.lower); ok {
			hits = append(hits, keywordHit{index: i, typ: typ})
		}
	}
	return hits
}

// nearKeyword reports a keyword within reach of the amount. keywords are
// ordered by token index.
func nearKeyword(c amountCandidate, keywords []keywordHit) bool {
	from := sort.Search(len(keywords), func(i int) bool {
		return keywords[i].index >= c.first-keywordReachBefore
	})
	for _, k := range keywords[from:] {
		if k.index > c.last+keywordReachAfter {
			break
		}
		if d := c.first - k.index; d > 0 && d <= keywordReachBefore {
			return true
		}
		if d := k.index - c.last; d > 0 && d <= keywordReachAfter {
			return true
		}
	}
	return false
}

// chooseAmount applies the tie-breaks: currency-marked numbers beat bare
// ones; among several, the single one next to a type keyword wins.
func chooseAmount(text string, toks []token, keywords []keywordHit) (amountCandidate, error) {
	all := extractAmounts(toks)
	if len(all) == 0 {
		return amountCandidate{}, fmt.Errorf("%w: no amount in %q", core.ErrAmbiguousAmount, text)
	}

	pool := make([]amountCandidate, 0, len(all))
	for _, c := range all {
		if c.marked() {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = all
	}
	if len(pool) == 1 || sameAmount(pool) {
		return pool[0], nil
	}

	var near []amountCandidate
	for _, c := range pool {
		if nearKeyword(c, keywords) {
			near = append(near, c)
		}
	}
	if len(near) == 1 || (len(near) > 1 && sameAmount(near)) {
		return near[0], nil
	}

	seen := make([]string, len(pool))
	for i, c := range pool {
		seen[i] = text[toks[c.first].start:toks[c.last].end]
	}
	return amountCandidate{}, fmt.Errorf("%w: %d candidates (%s)", core.ErrAmbiguousAmount, len(pool), strings.Join(seen, ", "))
}

func sameAmount(cs []amountCandidate) bool {
	for _, c := range cs[1:] {
		if c.number != cs[0].number || !sameCurrencies(c.currencies, cs[0].currencies) {
			return false
		}
	}
	return true
}

func sameCurrencies(a, b []core.Currency) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// resolveCurrency picks the currency for a candidate. A bare number takes the
// ledger default at medium confidence. A marker naming several currencies
// prefers the default, then the first one convertible to the default at the
// transaction date.
func (p *Parser) resolveCurrency(c amountCandidate, def core.Currency, on core.Date) (core.Currency, float64) {
	switch len(c.currencies) {
	case 0:
		return def, Medium
	case 1:
		return c.currencies[0], High
	}
	for _, cur := range c.currencies {
		if cur == def {
			return cur, High
		}
	}
	if p.rates != nil {
		for _, cur := range c.currencies {
			if _, err := p.rates.GetRate(cur, def, on.EndOfDay()); err == nil {
				return cur, High
			}
		}
	}
	return c.currencies[0], Medium
}

// inferType uses the type keyword closest to the amount; income wins ties.
// Without any keyword the result is expense at low confidence.
func inferType(keywords []keywordHit, amount amountCandidate) (core.TransactionType, float64) {
	if len(keywords) == 0 {
		return core.Expense, Low
	}
	best, bestDist := keywords[0], distance(keywords[0].index, amount)
	mixed := false
	for _, k := range keywords[1:] {
		if k.typ != best.typ {
			mixed = true
		}
		d := distance(k.index, amount)
		if d < bestDist || (d == bestDist && k.typ == core.Income) {
			best, bestDist = k, d
		}
	}
	if mixed {
		return best.typ, Medium
	}
	return best.typ, High
}

func distance(index int, c amountCandidate) int {
	if index < c.first {
		return c.first - index
	}
	return index - c.last
}

// extractMerchant returns the words after the first merchant marker
// (at, from, to, ...) up to punctuation, a number, a date, a currency or a
// stop word.
func extractMerchant(text string, toks []token) string {
	for i, t := range toks {
		if t.inDate || !merchantMarkers[t.lower] {
			continue
		}
		first, last := -1, -1
		for j := i + 1; j < len(toks); j++ {
			n := toks[j]
			if n.inDate || n.kind == tokNumber || n.kind == tokSymbol {
				break
			}
			if n.kind == tokPunct && n.text != "&" {
				break
			}
			if _, isCur := currencyMarkers[n.lower]; isCur {
				break
			}
			if merchantStops[n.lower] || merchantMarkers[n.lower] {
				break
			}
			if _, isKw := keywordType(n.lower); isKw {
				break
			}
			if first < 0 && articles[n.lower] {
				continue
			}
			if first < 0 {
				first = j
			}
			last = j
		}
		if first >= 0 {
			return strings.TrimSpace(text[toks[first].start:toks[last].end])
		}
	}
	return ""
}

// matchAccount finds the longest account name mentioned in text.
func matchAccount(text string, accounts []core.Account) string {
	lower := " " + words(text) + " "
	best, bestLen := "", 0
	for _, a := range accounts {
		name := words(a.Name)
		if name == "" || len(name) <= bestLen {
			continue
		}
		if strings.Contains(lower, " "+name+" ") {
			best, bestLen = a.ID, len(name)
		}
	}
	return best
}

func words(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
