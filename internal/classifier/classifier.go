// Package classifier maps free text and merchant names to category labels.
//
// Matching is deterministic: an exact merchant match beats a fuzzy merchant
// match, which beats a keyword found in the text. When nothing matches the
// result is Uncategorized with zero confidence; classification never fails.
package classifier

import (
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"

	"budgetledger/internal/cache"
	"budgetledger/internal/core"
)

// MatchKind records which rule produced a result.
type MatchKind string

const (
	MatchMerchantExact MatchKind = "merchant_exact"
	MatchMerchantToken MatchKind = "merchant_token"
	MatchMerchantFuzzy MatchKind = "merchant_fuzzy"
	MatchMerchantText  MatchKind = "merchant_in_text"
	MatchKeyword       MatchKind = "keyword"
	MatchNone          MatchKind = "none"
)

const (
	scoreMerchantExact = 1.0
	scoreMerchantToken = 0.9
	scoreMerchantText  = 0.8
	scoreKeyword       = 0.55
	scoreKeywordExtra  = 0.1
	scoreKeywordMax    = 0.85

	// minFuzzySimilarity is the normalized Levenshtein similarity a merchant
	// needs before it is treated as a fuzzy match.
	minFuzzySimilarity = 0.8
	minPrefixRunes     = 4

	memoSize = 4096
	memoTTL  = time.Hour
)

// DefaultThreshold marks results below it as suggestions.
const DefaultThreshold = 0.6

type (
	Result struct {
		Category   string
		Type       core.TransactionType
		Confidence float64
		Suggested  bool
		Match      MatchKind
	}

	// index is a compiled, read-only form of a Vocabulary.
	index struct {
		vocab     Vocabulary
		merchants map[string]int // normalized merchant -> entry
		keywords  [][]string     // per entry, normalized
	}

	Classifier struct {
		mu        sync.RWMutex
		base      Vocabulary
		ledgers   map[string]*index
		fallback  *index
		threshold float64
		memo      *cache.LRUCache[Result]
	}
)

// New creates a classifier whose ledgers start from base.
func New(base Vocabulary, threshold float64) *Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Classifier{
		base:      base,
		ledgers:   map[string]*index{},
		fallback:  compile(base),
		threshold: threshold,
		memo:      cache.NewLRUCache[Result](memoSize, memoTTL),
	}
}

// Threshold returns the suggestion cutoff.
func (c *Classifier) Threshold() float64 { return c.threshold }

// Memo exposes the merchant memo so a cache manager can expire it.
func (c *Classifier) Memo() *cache.LRUCache[Result] { return c.memo }

// SetVocabulary replaces a ledger's vocabulary. The base vocabulary is kept
// underneath so stock categories still match.
func (c *Classifier) SetVocabulary(ledgerID string, v Vocabulary) error {
	if err := v.Validate(); err != nil {
		return err
	}
	idx := compile(c.base.Merge(v))
	c.mu.Lock()
	c.ledgers[ledgerID] = idx
	c.mu.Unlock()
	c.memo.DeletePrefix(ledgerID + "\x00")
	return nil
}

// Vocabulary returns the effective vocabulary for a ledger.
func (c *Classifier) Vocabulary(ledgerID string) Vocabulary {
	return c.indexFor(ledgerID).vocab
}

// AddCategory makes a ledger category matchable by its own name.
func (c *Classifier) AddCategory(ledgerID, name string, typ core.TransactionType) {
	c.mu.Lock()
	cur, ok := c.ledgers[ledgerID]
	if !ok {
		cur = c.fallback
	}
	if _, err := cur.vocab.Lookup(name); err == nil {
		c.mu.Unlock()
		return
	}
	c.ledgers[ledgerID] = compile(cur.vocab.Merge(Vocabulary{Categories: []Entry{{
		Name:     name,
		Type:     typ,
		Keywords: []string{strings.ToLower(name)},
	}}}))
	c.mu.Unlock()
	c.memo.DeletePrefix(ledgerID + "\x00")
}

// Learn files merchant under category for a ledger, taking it away from any
// other entry, so the next lookup of that merchant is an exact match.
func (c *Classifier) Learn(ledgerID, merchant, category string, typ core.TransactionType) {
	m := normalize(merchant)
	if m == "" || strings.TrimSpace(category) == "" || strings.EqualFold(category, Uncategorized) {
		return
	}
	if typ != core.Income && typ != core.Expense {
		typ = ""
	}
	c.mu.Lock()
	cur, ok := c.ledgers[ledgerID]
	if !ok {
		cur = c.fallback
	}
	if i, known := cur.merchants[m]; known && strings.EqualFold(cur.vocab.Categories[i].Name, category) {
		c.mu.Unlock()
		return
	}
	v := cur.vocab.Merge(Vocabulary{})
	for i := range v.Categories {
		v.Categories[i].Merchants = slices.DeleteFunc(v.Categories[i].Merchants, func(s string) bool {
			return normalize(s) == m
		})
	}
	c.ledgers[ledgerID] = compile(v.Merge(Vocabulary{Categories: []Entry{{
		Name:      category,
		Type:      typ,
		Merchants: []string{merchant},
	}}}))
	c.mu.Unlock()
	c.memo.DeletePrefix(ledgerID + "\x00")
}

// Classify picks a category for text, giving merchant evidence precedence
// over keywords.
func (c *Classifier) Classify(ledgerID, text, merchant string) Result {
	idx := c.indexFor(ledgerID)

	if m := normalize(merchant); m != "" {
		key := ledgerID + "\x00" + m
		if r, ok := c.memo.Get(key); ok {
			return r
		}
		if r, ok := idx.matchMerchant(m); ok {
			r = c.finish(r)
			c.memo.Set(key, r)
			return r
		}
	}

	tokens := tokenize(text + " " + merchant)
	if r, ok := idx.merchantInText(tokens); ok {
		return c.finish(r)
	}
	if r, ok := idx.matchKeywords(tokens); ok {
		return c.finish(r)
	}
	return Result{Category: Uncategorized, Confidence: 0, Suggested: true, Match: MatchNone}
}

func (c *Classifier) finish(r Result) Result {
	r.Suggested = r.Confidence < c.threshold
	return r
}

func (c *Classifier) indexFor(ledgerID string) *index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx, ok := c.ledgers[ledgerID]; ok {
		return idx
	}
	return c.fallback
}

func compile(v Vocabulary) *index {
	idx := &index{
		vocab:     v,
		merchants: map[string]int{},
		keywords:  make([][]string, len(v.Categories)),
	}
	for i, e := range v.Categories {
		for _, m := range e.Merchants {
			if n := normalize(m); n != "" {
				if _, dup := idx.merchants[n]; !dup {
					idx.merchants[n] = i
				}
			}
		}
		for _, k := range e.Keywords {
			if n := normalize(k); n != "" {
				idx.keywords[i] = append(idx.keywords[i], n)
			}
		}
	}
	return idx
}

func (idx *index) result(i int, score float64, kind MatchKind) Result {
	e := idx.vocab.Categories[i]
	return Result{Category: e.Name, Type: e.Type, Confidence: score, Match: kind}
}

// matchMerchant tries exact, whole-word, then fuzzy matching of a normalized merchant.
func (idx *index) matchMerchant(m string) (Result, bool) {
	if i, ok := idx.merchants[m]; ok {
		return idx.result(i, scoreMerchantExact, MatchMerchantExact), true
	}

	padded := " " + m + " "
	best, bestLen := -1, 0
	for name, i := range idx.merchants {
		if strings.Contains(padded, " "+name+" ") && (len(name) > bestLen || (len(name) == bestLen && i < best)) {
			best, bestLen = i, len(name)
		}
	}
	if best >= 0 {
		return idx.result(best, scoreMerchantToken, MatchMerchantToken), true
	}

	best, bestSim := -1, 0.0
	for name, i := range idx.merchants {
		sim := similarity(m, name)
		if sim < minFuzzySimilarity {
			continue
		}
		if sim > bestSim || (sim == bestSim && i < best) {
			best, bestSim = i, sim
		}
	}
	if best >= 0 {
		return idx.result(best, scoreMerchantToken*bestSim, MatchMerchantFuzzy), true
	}
	return Result{}, false
}

// merchantInText finds a known merchant named in the free text.
func (idx *index) merchantInText(tokens []string) (Result, bool) {
	padded := " " + strings.Join(tokens, " ") + " "
	best, bestLen := -1, 0
	for name, i := range idx.merchants {
		if strings.Contains(padded, " "+name+" ") && (len(name) > bestLen || (len(name) == bestLen && i < best)) {
			best, bestLen = i, len(name)
		}
	}
	if best < 0 {
		return Result{}, false
	}
	return idx.result(best, scoreMerchantText, MatchMerchantText), true
}

// matchKeywords scores each entry by the number of distinct keywords present.
func (idx *index) matchKeywords(tokens []string) (Result, bool) {
	padded := " " + strings.Join(tokens, " ") + " "
	best, bestHits := -1, 0
	for i, kws := range idx.keywords {
		hits := 0
		for _, kw := range kws {
			if keywordPresent(kw, tokens, padded) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return Result{}, false
	}
	score := scoreKeyword + scoreKeywordExtra*float64(bestHits-1)
	if score > scoreKeywordMax {
		score = scoreKeywordMax
	}
	return idx.result(best, score, MatchKeyword), true
}

func keywordPresent(kw string, tokens []string, padded string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(padded, " "+kw+" ")
	}
	prefixOK := len([]rune(kw)) >= minPrefixRunes
	for _, t := range tokens {
		if t == kw || (prefixOK && strings.HasPrefix(t, kw)) {
			return true
		}
	}
	return false
}

func similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// normalize lowercases s and collapses everything but letters, digits and
// ampersands into single spaces.
func normalize(s string) string {
	return strings.Join(tokenize(s), " ")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&' && r != '\''
	})
}
