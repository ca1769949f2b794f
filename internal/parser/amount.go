package parser

import (
	"strings"

	"budgetledger/internal/core"
)

// amountCandidate is a number, optionally with an adjacent currency marker.
type amountCandidate struct {
	number     string          // normalized, dot as decimal separator
	currencies []core.Currency // nil when no marker is adjacent
	first      int             // token span, inclusive
	last       int
}

func (c amountCandidate) marked() bool { return len(c.currencies) > 0 }

// extractAmounts scans tokens outside date phrases for numbers. A currency
// marker directly after the number wins over one directly before it.
func extractAmounts(toks []token) []amountCandidate {
	var out []amountCandidate
	for i, t := range toks {
		if t.kind != tokNumber || t.inDate {
			continue
		}
		if i+1 < len(toks) && toks[i+1].text == "%" {
			continue
		}
		num, ok := normalizeNumber(t.text)
		if !ok {
			continue
		}
		c := amountCandidate{number: num, first: i, last: i}
		if i+1 < len(toks) && !toks[i+1].inDate {
			if cur, ok := marker(toks[i+1]); ok {
				c.currencies, c.last = cur, i+1
			}
		}
		if !c.marked() && i > 0 && !toks[i-1].inDate {
			if cur, ok := marker(toks[i-1]); ok {
				c.currencies, c.first = cur, i-1
			}
		}
		out = append(out, c)
	}
	return out
}

func marker(t token) ([]core.Currency, bool) {
	if t.kind != tokSymbol && t.kind != tokWord {
		return nil, false
	}
	cur, ok := currencyMarkers[t.lower]
	return cur, ok
}

// normalizeNumber turns a numeric token into a plain decimal string.
//
// When both separators appear the last one is the decimal point. A lone
// comma followed by exactly three digits is a thousands separator (1,200);
// any other lone comma is a decimal comma (12,50). Repeated separators of
// one kind are thousands separators (1.200.000).
func normalizeNumber(s string) (string, bool) {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots == 0 && commas == 0:
		return s, true
	case dots > 0 && commas > 0:
		dec, thou := ".", ","
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			dec, thou = ",", "."
		}
		if strings.Count(s, dec) > 1 {
			return "", false
		}
		intPart, frac, _ := strings.Cut(s, dec)
		if !validGroups(intPart, thou) {
			return "", false
		}
		return strings.ReplaceAll(intPart, thou, "") + "." + frac, true
	case commas == 1:
		intPart, frac, _ := strings.Cut(s, ",")
		if len(frac) == 3 && len(intPart) <= 3 {
			return intPart + frac, true
		}
		return intPart + "." + frac, true
	case dots == 1:
		return s, true
	default:
		sep := "."
		if commas > 1 {
			sep = ","
		}
		if !validGroups(s, sep) {
			return "", false
		}
		return strings.ReplaceAll(s, sep, ""), true
	}
}

// validGroups checks thousands grouping: a 1-3 digit head, then groups of three.
func validGroups(s, sep string) bool {
	parts := strings.Split(s, sep)
	if len(parts[0]) == 0 || (len(parts) > 1 && len(parts[0]) > 3) {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}
