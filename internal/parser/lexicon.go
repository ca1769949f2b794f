package parser

import (
	"strings"

	"budgetledger/internal/core"
)

// currencyMarkers maps lowercase symbols, codes and words to the currencies
// they may denote. Markers listing several currencies are disambiguated
// against the ledger default and the rate table.
var currencyMarkers = map[string][]core.Currency{
	"$": {core.USD, core.USDT},
	"€": {core.EUR},
	"₾": {core.GEL},
	"₴": {core.UAH},
	"₮": {core.USDT},

	"gel":  {core.GEL},
	"usd":  {core.USD},
	"eur":  {core.EUR},
	"uah":  {core.UAH},
	"usdt": {core.USDT},

	"lari": {core.GEL}, "лари": {core.GEL}, "лар": {core.GEL},
	"dollar": {core.USD}, "dollars": {core.USD}, "доллар": {core.USD}, "долларов": {core.USD}, "доллара": {core.USD}, "бакс": {core.USD}, "баксов": {core.USD},
	"euro": {core.EUR}, "euros": {core.EUR}, "евро": {core.EUR},
	"грн": {core.UAH}, "hryvnia": {core.UAH}, "hryvnias": {core.UAH}, "гривна": {core.UAH}, "гривен": {core.UAH}, "гривны": {core.UAH},
	"tether": {core.USDT},
}

// Type keywords. A trailing '*' matches any word with that prefix.
var (
	incomeKeywords = []string{
		"received", "receive", "earned", "earn", "salary", "income", "bonus", "profit",
		"freelance", "refund", "refunded", "dividend", "dividends", "sold",
		"получил*", "заработ*", "зарплата", "доход", "премия", "бонус", "пришл*", "вернули",
	}
	expenseKeywords = []string{
		"spent", "spend", "paid", "pay", "bought", "buy", "purchased", "purchase", "expense", "cost", "costs",
		"потрат*", "купил*", "оплатил*", "заплатил*", "расход",
	}
)

// Words that introduce a merchant and words that end one.
var (
	merchantMarkers = map[string]bool{
		"at": true, "from": true, "to": true, "@": true,
		"в": true, "во": true, "у": true, "от": true,
	}
	merchantStops = map[string]bool{
		"for": true, "on": true, "with": true, "and": true, "by": true, "via": true, "using": true, "in": true,
		"за": true, "на": true, "для": true, "с": true, "и": true, "по": true,
	}
	articles = map[string]bool{"the": true, "a": true, "an": true}
)

func keywordType(word string) (core.TransactionType, bool) {
	if matchLexicon(incomeKeywords, word) {
		return core.Income, true
	}
	if matchLexicon(expenseKeywords, word) {
		return core.Expense, true
	}
	return "", false
}

func matchLexicon(list []string, word string) bool {
	for _, k := range list {
		if stem, ok := strings.CutSuffix(k, "*"); ok {
			if strings.HasPrefix(word, stem) {
				return true
			}
			continue
		}
		if word == k {
			return true
		}
	}
	return false
}
