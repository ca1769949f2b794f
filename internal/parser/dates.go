package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"budgetledger/internal/core"
)

type dateMatch struct {
	start, end int
	date       core.Date
}

type datePattern struct {
	re      *regexp.Regexp
	resolve func(m []string, now time.Time) (core.Date, bool)
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January, "января": time.January, "январь": time.January,
	"february": time.February, "feb": time.February, "февраля": time.February, "февраль": time.February,
	"march": time.March, "mar": time.March, "марта": time.March, "март": time.March,
	"april": time.April, "apr": time.April, "апреля": time.April, "апрель": time.April,
	"may": time.May, "мая": time.May, "май": time.May,
	"june": time.June, "jun": time.June, "июня": time.June, "июнь": time.June,
	"july": time.July, "jul": time.July, "июля": time.July, "июль": time.July,
	"august": time.August, "aug": time.August, "августа": time.August, "август": time.August,
	"september": time.September, "sept": time.September, "sep": time.September, "сентября": time.September, "сентябрь": time.September,
	"october": time.October, "oct": time.October, "октября": time.October, "октябрь": time.October,
	"november": time.November, "nov": time.November, "ноября": time.November, "ноябрь": time.November,
	"december": time.December, "dec": time.December, "декабря": time.December, "декабрь": time.December,
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "понедельник": time.Monday,
	"tuesday": time.Tuesday, "вторник": time.Tuesday,
	"wednesday": time.Wednesday, "среду": time.Wednesday, "среда": time.Wednesday,
	"thursday": time.Thursday, "четверг": time.Thursday,
	"friday": time.Friday, "пятницу": time.Friday, "пятница": time.Friday,
	"saturday": time.Saturday, "субботу": time.Saturday, "суббота": time.Saturday,
	"sunday": time.Sunday, "воскресенье": time.Sunday,
}

var relativeDays = map[string]int{
	"today": 0, "сегодня": 0,
	"yesterday": -1, "вчера": -1,
	"day before yesterday": -2, "позавчера": -2,
}

// alternation builds a regexp alternation with longer words first so the
// leftmost-first engine prefers "september" over "sep".
func alternation[V any](m map[string]V) string {
	words := make([]string, 0, len(m))
	for w := range m {
		words = append(words, regexp.QuoteMeta(w))
	}
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	return strings.Join(words, "|")
}

var datePatterns = func() []datePattern {
	mon := alternation(months)
	wd := alternation(weekdays)
	rel := alternation(relativeDays)
	return []datePattern{
		{
			re: regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`),
			resolve: func(m []string, _ time.Time) (core.Date, bool) {
				return makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
			},
		},
		{
			re: regexp.MustCompile(`(\d{1,2})[./](\d{1,2})[./](\d{4}|\d{2})`),
			resolve: func(m []string, _ time.Time) (core.Date, bool) {
				y := atoi(m[3])
				if y < 100 {
					y += 2000
				}
				return makeDate(y, atoi(m[2]), atoi(m[1]))
			},
		},
		{
			re: regexp.MustCompile(`(?i)(?:on\s+)?(` + mon + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?`),
			resolve: func(m []string, now time.Time) (core.Date, bool) {
				return monthDay(months[strings.ToLower(m[1])], atoi(m[2]), m[3], now)
			},
		},
		{
			re: regexp.MustCompile(`(?i)(?:on\s+)?(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + mon + `)(?:\s+(\d{4}))?`),
			resolve: func(m []string, now time.Time) (core.Date, bool) {
				return monthDay(months[strings.ToLower(m[2])], atoi(m[1]), m[3], now)
			},
		},
		{
			re: regexp.MustCompile(`(?i)(\d{1,3})\s+(?:days?\s+ago|дн(?:я|ей|ень)\s+назад)`),
			resolve: func(m []string, now time.Time) (core.Date, bool) {
				return core.DateOf(now.AddDate(0, 0, -atoi(m[1]))), true
			},
		},
		{
			re: regexp.MustCompile(`(?i)(?:on\s+)?(` + rel + `)`),
			resolve: func(m []string, now time.Time) (core.Date, bool) {
				return core.DateOf(now.AddDate(0, 0, relativeDays[strings.ToLower(m[1])])), true
			},
		},
		{
			re: regexp.MustCompile(`(?i)(?:(last|on|в\s+прошл(?:ый|ую|ое)|в)\s+)?(` + wd + `)`),
			resolve: func(m []string, now time.Time) (core.Date, bool) {
				target := weekdays[strings.ToLower(m[2])]
				back := (int(now.Weekday()) - int(target) + 7) % 7
				if back == 0 && m[1] != "" && !strings.EqualFold(m[1], "on") && !strings.EqualFold(m[1], "в") {
					back = 7
				}
				return core.DateOf(now.AddDate(0, 0, -back)), true
			},
		},
	}
}()

// findDates returns every date phrase in text, earliest first, without overlaps.
func findDates(text string, now time.Time) []dateMatch {
	var found []dateMatch
	taken := make([]bool, len(text))
	for _, p := range datePatterns {
		for _, idx := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := idx[0], idx[1]
			if !atBoundary(text, start, end) || overlaps(taken, start, end) {
				continue
			}
			groups := make([]string, len(idx)/2)
			for g := range groups {
				if idx[2*g] >= 0 {
					groups[g] = text[idx[2*g]:idx[2*g+1]]
				}
			}
			d, ok := p.resolve(groups, now)
			if !ok {
				continue
			}
			found = append(found, dateMatch{start: start, end: end, date: d})
			for i := start; i < end; i++ {
				taken[i] = true
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].start < found[j].start })
	return found
}

func atBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// overlaps reports whether any byte of [start, end) already belongs to a date.
func overlaps(taken []bool, start, end int) bool {
	for _, t := range taken[start:end] {
		if t {
			return true
		}
	}
	return false
}

// monthDay resolves a day and month. Without a year, the most recent such
// date not after now is used.
func monthDay(month time.Month, day int, year string, now time.Time) (core.Date, bool) {
	if year != "" {
		return makeDate(atoi(year), int(month), day)
	}
	d, ok := makeDate(now.Year(), int(month), day)
	if ok && d.After(core.DateOf(now).Time) {
		d, ok = makeDate(now.Year()-1, int(month), day)
	}
	return d, ok
}

// makeDate rejects dates that time.Date would normalize, such as Feb 30.
func makeDate(y, m, d int) (core.Date, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return core.Date{}, false
	}
	date := core.NewDate(y, m, d)
	if date.Day() != d || date.Month() != m {
		return core.Date{}, false
	}
	return date, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
