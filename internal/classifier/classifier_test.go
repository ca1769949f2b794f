package classifier

import (
	"testing"

	"budgetledger/internal/core"
)

func TestClassify(t *testing.T) {
	c := New(DefaultVocabulary(), 0.6)

	tests := []struct {
		name      string
		text      string
		merchant  string
		want      string
		match     MatchKind
		suggested bool
	}{
		{"merchant exact", "Bought groceries for 50 GEL", "Carrefour", "Food", MatchMerchantExact, false},
		{"merchant case and punctuation", "", "  BOLT. ", "Transport", MatchMerchantExact, false},
		{"merchant with suffix", "", "Carrefour Express", "Food", MatchMerchantToken, false},
		{"merchant typo", "", "Carrefur", "Food", MatchMerchantFuzzy, false},
		{"merchant beats keyword", "paid for the taxi", "Spar", "Food", MatchMerchantExact, false},
		{"merchant named in text", "uber to the airport", "", "Transport", MatchMerchantText, false},
		{"single keyword is a suggestion", "Received 1200 USD salary", "", "Salary", MatchKeyword, true},
		{"keyword prefix", "groceries for the week", "", "Food", MatchKeyword, true},
		{"two keywords", "lunch and coffee", "", "Food", MatchKeyword, false},
		{"russian stem", "купил лекарства", "", "Health", MatchKeyword, true},
		{"unknown", "misc stuff", "Acme Widgets", Uncategorized, MatchNone, true},
		{"empty", "", "", Uncategorized, MatchNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify("b1", tt.text, tt.merchant)
			if got.Category != tt.want {
				t.Fatalf("Classify() category = %q, want %q (%+v)", got.Category, tt.want, got)
			}
			if got.Match != tt.match {
				t.Errorf("Classify() match = %q, want %q", got.Match, tt.match)
			}
			if got.Suggested != tt.suggested {
				t.Errorf("Classify() suggested = %v, want %v (confidence %.2f)", got.Suggested, tt.suggested, got.Confidence)
			}
		})
	}
}

func TestClassifyUnknownHasZeroConfidence(t *testing.T) {
	c := New(DefaultVocabulary(), 0.6)
	got := c.Classify("b1", "zzz", "")
	if got.Confidence != 0 || got.Category != Uncategorized {
		t.Fatalf("expected Uncategorized with 0 confidence, got %+v", got)
	}
}

func TestPerLedgerVocabulary(t *testing.T) {
	c := New(DefaultVocabulary(), 0.6)
	err := c.SetVocabulary("b1", Vocabulary{Categories: []Entry{
		{Name: "Coworking", Type: core.Expense, Merchants: []string{"Impact Hub"}},
		{Name: "Food", Merchants: []string{"Baker Street"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Classify("b1", "", "Impact Hub"); got.Category != "Coworking" {
		t.Errorf("b1 Impact Hub = %q, want Coworking", got.Category)
	}
	if got := c.Classify("b2", "", "Impact Hub"); got.Category != Uncategorized {
		t.Errorf("b2 must not see b1 vocabulary, got %q", got.Category)
	}
	if got := c.Classify("b1", "", "Baker Street"); got.Category != "Food" {
		t.Errorf("merged entry lost: got %q", got.Category)
	}
	if got := c.Classify("b1", "", "Carrefour"); got.Category != "Food" {
		t.Errorf("base vocabulary lost: got %q", got.Category)
	}
}

func TestSetVocabularyInvalidatesMemo(t *testing.T) {
	c := New(DefaultVocabulary(), 0.6)
	if got := c.Classify("b1", "", "Corner Shop"); got.Category != Uncategorized {
		t.Fatalf("expected Uncategorized, got %q", got.Category)
	}
	if err := c.SetVocabulary("b1", Vocabulary{Categories: []Entry{{Name: "Food", Merchants: []string{"Corner Shop"}}}}); err != nil {
		t.Fatal(err)
	}
	if got := c.Classify("b1", "", "Corner Shop"); got.Category != "Food" {
		t.Fatalf("stale memo after vocabulary change: %q", got.Category)
	}
}

func TestAddCategory(t *testing.T) {
	c := New(DefaultVocabulary(), 0.6)
	c.AddCategory("b1", "Gym", core.Expense)
	got := c.Classify("b1", "monthly gym membership", "")
	if got.Category != "Gym" || got.Type != core.Expense {
		t.Fatalf("expected Gym, got %+v", got)
	}
	c.AddCategory("b1", "food", core.Expense)
	if n := len(c.Vocabulary("b1").Categories); n != len(DefaultVocabulary().Categories)+1 {
		t.Fatalf("existing category was duplicated: %d entries", n)
	}
}

func TestLearn(t *testing.T) {
	c := New(DefaultVocabulary(), 0.6)
	if got := c.Classify("b1", "", "Blue Door"); got.Category != Uncategorized {
		t.Fatalf("expected Uncategorized before learning, got %+v", got)
	}
	if got := c.Classify("b1", "", "Spar"); got.Category != "Food" {
		t.Fatalf("expected stock Food for Spar, got %+v", got)
	}

	c.Learn("b1", "Blue Door", "Dining Out", core.Expense)
	c.Learn("b1", "SPAR", "Household", core.Expense)

	tests := []struct {
		merchant string
		want     string
	}{
		{"Blue Door", "Dining Out"},
		{"blue door.", "Dining Out"},
		{"Spar", "Household"},
	}
	for _, tt := range tests {
		t.Run(tt.merchant, func(t *testing.T) {
			got := c.Classify("b1", "", tt.merchant)
			if got.Category != tt.want || got.Suggested || got.Match != MatchMerchantExact {
				t.Fatalf("Classify(%q) = %+v, want confident %s", tt.merchant, got, tt.want)
			}
		})
	}

	food, err := c.Vocabulary("b1").Lookup("Food")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range food.Merchants {
		if normalize(m) == "spar" {
			t.Fatalf("Spar must leave Food once learned elsewhere: %v", food.Merchants)
		}
	}
	if got := c.Classify("b2", "", "Spar"); got.Category != "Food" {
		t.Fatalf("learning must stay within its ledger, got %+v", got)
	}

	n := len(c.Vocabulary("b1").Categories)
	c.Learn("b1", "", "Food", core.Expense)
	c.Learn("b1", "Nowhere", Uncategorized, core.Expense)
	if got := len(c.Vocabulary("b1").Categories); got != n {
		t.Fatalf("empty merchant or Uncategorized must be ignored, entries %d -> %d", n, got)
	}
}

func TestThresholdIsConfigurable(t *testing.T) {
	c := New(DefaultVocabulary(), 0.5)
	if got := c.Classify("b1", "salary", ""); got.Suggested {
		t.Fatalf("keyword match should pass a 0.5 threshold: %+v", got)
	}
	if New(DefaultVocabulary(), 0).Threshold() != DefaultThreshold {
		t.Fatalf("invalid threshold should fall back to default")
	}
}

func TestParseVocabulary(t *testing.T) {
	data := []byte(`
categories:
  - name: Food
    type: expense
    keywords: [groceries]
    merchants: [Carrefour]
  - name: Salary
    type: income
    keywords: [salary]
`)
	v, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Categories) != 2 || v.Categories[0].Merchants[0] != "Carrefour" {
		t.Fatalf("unexpected vocabulary: %+v", v)
	}

	bads := []string{
		"categories:\n  - name: ''\n",
		"categories:\n  - name: Food\n  - name: food\n",
		"categories:\n  - name: Food\n    type: transfer\n",
		"categories: [",
	}
	for i, b := range bads {
		if _, err := Parse([]byte(b)); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}
