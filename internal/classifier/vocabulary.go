package classifier

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"budgetledger/internal/core"
)

// Uncategorized is the label returned when nothing matches.
const Uncategorized = "Uncategorized"

type (
	// Entry describes one category: the words that suggest it in free text
	// and the merchants known to belong to it.
	Entry struct {
		Name      string               `yaml:"name"`
		Type      core.TransactionType `yaml:"type"`
		Keywords  []string             `yaml:"keywords"`
		Merchants []string             `yaml:"merchants"`
	}

	// Vocabulary is the classifier configuration for one ledger. Entry order
	// breaks ties between equally scored categories.
	Vocabulary struct {
		Categories []Entry `yaml:"categories"`
	}
)

// LoadFile reads a YAML vocabulary:
//
//	categories:
//	  - name: Food
//	    type: expense
//	    keywords: [groceries, restaurant]
//	    merchants: [Carrefour, Spar]
func LoadFile(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read vocabulary: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML vocabulary.
func Parse(data []byte) (Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("decode vocabulary: %w", err)
	}
	if err := v.Validate(); err != nil {
		return Vocabulary{}, err
	}
	return v, nil
}

func (v Vocabulary) Validate() error {
	seen := map[string]bool{}
	for i, e := range v.Categories {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			return fmt.Errorf("vocabulary entry %d: %w", i, core.ErrEmptyName)
		}
		if seen[name] {
			return fmt.Errorf("vocabulary entry %d: duplicate category %q", i, e.Name)
		}
		seen[name] = true
		if e.Type != "" && e.Type != core.Income && e.Type != core.Expense {
			return fmt.Errorf("vocabulary entry %q: %w", e.Name, core.ErrInvalidType)
		}
	}
	return nil
}

// Merge returns v extended with the entries of other. Entries with a known
// name gain the other entry's keywords and merchants.
func (v Vocabulary) Merge(other Vocabulary) Vocabulary {
	out := Vocabulary{Categories: make([]Entry, len(v.Categories))}
	idx := map[string]int{}
	for i, e := range v.Categories {
		e.Keywords = append([]string(nil), e.Keywords...)
		e.Merchants = append([]string(nil), e.Merchants...)
		out.Categories[i] = e
		idx[strings.ToLower(e.Name)] = i
	}
	for _, e := range other.Categories {
		i, ok := idx[strings.ToLower(e.Name)]
		if !ok {
			idx[strings.ToLower(e.Name)] = len(out.Categories)
			out.Categories = append(out.Categories, e)
			continue
		}
		out.Categories[i].Keywords = append(out.Categories[i].Keywords, e.Keywords...)
		out.Categories[i].Merchants = append(out.Categories[i].Merchants, e.Merchants...)
		if out.Categories[i].Type == "" {
			out.Categories[i].Type = e.Type
		}
	}
	return out
}

// Lookup finds an entry by case-insensitive name.
func (v Vocabulary) Lookup(name string) (Entry, error) {
	for _, e := range v.Categories {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return Entry{}, errors.New("category not in vocabulary: " + name)
}

// DefaultVocabulary covers the stock income and expense categories with
// English, Russian and Georgian-market merchant names.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{Categories: []Entry{
		{Name: "Salary", Type: core.Income, Keywords: []string{"salary", "payroll", "wage", "зарплата", "зп", "оклад"}},
		{Name: "Freelance", Type: core.Income, Keywords: []string{"freelance", "client", "invoice", "фриланс", "заказчик"}, Merchants: []string{"Upwork", "Fiverr"}},
		{Name: "Investment", Type: core.Income, Keywords: []string{"dividend", "interest", "investment", "дивиденд", "проценты"}},
		{Name: "Bonus", Type: core.Income, Keywords: []string{"bonus", "premium", "бонус", "премия"}},
		{Name: "Other Income", Type: core.Income, Keywords: []string{"refund", "cashback", "gift", "возврат", "кэшбэк", "подарок"}},
		{Name: "Food", Type: core.Expense,
			Keywords:  []string{"grocer", "food", "restaurant", "cafe", "coffee", "lunch", "dinner", "breakfast", "pizza", "продукт", "еда", "ресторан", "кафе", "кофе", "обед", "ужин"},
			Merchants: []string{"Carrefour", "Spar", "Nikora", "Goodwill", "Agrohub", "Fresco", "Glovo", "Wolt", "McDonald's", "Starbucks"}},
		{Name: "Transport", Type: core.Expense,
			Keywords:  []string{"taxi", "bus", "metro", "fuel", "gas", "petrol", "parking", "train", "flight", "такси", "автобус", "метро", "бензин", "парковка"},
			Merchants: []string{"Bolt", "Uber", "Yandex Go", "Gulf", "Wissol", "Rompetrol", "Socar"}},
		{Name: "Entertainment", Type: core.Expense,
			Keywords:  []string{"cinema", "movie", "concert", "game", "bar", "party", "theatre", "кино", "концерт", "игры", "вечеринк"},
			Merchants: []string{"Netflix", "Spotify", "Steam", "Cavea"}},
		{Name: "Health", Type: core.Expense,
			Keywords:  []string{"pharmacy", "doctor", "medicine", "dentist", "clinic", "hospital", "аптек", "врач", "лекарств", "стоматолог", "клиник"},
			Merchants: []string{"PSP", "Aversi", "GPC"}},
		{Name: "Clothes", Type: core.Expense,
			Keywords:  []string{"clothes", "shoes", "jacket", "dress", "shirt", "одежд", "обувь", "куртк"},
			Merchants: []string{"Zara", "H&M", "LC Waikiki", "Nike"}},
		{Name: "Rent", Type: core.Expense,
			Keywords: []string{"rent", "landlord", "apartment", "utilities", "аренда", "квартир", "коммунал"}},
		{Name: "Pets", Type: core.Expense,
			Keywords: []string{"pet", "vet", "dog", "cat", "корм", "ветеринар", "собак", "кот"}},
		{Name: "Technology", Type: core.Expense,
			Keywords:  []string{"laptop", "phone", "computer", "software", "subscription", "hosting", "ноутбук", "телефон", "компьютер", "подписк"},
			Merchants: []string{"Apple", "Google", "Amazon", "Zoommer", "Alta"}},
		{Name: "Children", Type: core.Expense,
			Keywords: []string{"kids", "child", "school", "toys", "kindergarten", "детск", "школ", "игрушк", "садик"}},
		{Name: "Debts", Type: core.Expense,
			Keywords: []string{"loan", "debt", "credit", "mortgage", "кредит", "долг", "ипотек"}},
	}}
}
