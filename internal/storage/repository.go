package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetledger/internal/core"
	"budgetledger/internal/ledger"

	_ "modernc.org/sqlite"
)

var _ ledger.Repository = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := Migrate(dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite schema ready", "component", "storage", "path", dbPath, "version", version)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers, for readiness checks.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// withTx runs fn in a database transaction, rolling back on error.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
}

func isUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func parseDate(s string) (core.Date, error) {
	if s == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s)
}

// Budgets

func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, name, reporting_currency, created_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.Name, string(b.ReportingCurrency), unixNano(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	slog.InfoContext(ctx, "Budget saved to SQLite", "ledger_id", b.ID, "name", b.Name)
	return nil
}

const budgetColumns = `id, name, reporting_currency, created_at`

func scanBudget(s scanner) (core.Budget, error) {
	var (
		b        core.Budget
		currency string
		created  int64
	)
	if err := s.Scan(&b.ID, &b.Name, &currency, &created); err != nil {
		return core.Budget{}, err
	}
	b.ReportingCurrency = core.Currency(currency)
	b.CreatedAt = fromUnixNano(created)
	return b, nil
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, notFound("budget", id)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+budgetColumns+` FROM budgets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	out := make([]core.Budget, 0)
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Transactions

const transactionColumns = `id, ledger_id, account_id, counter_account_id, transfer_id,
	amount_minor, currency, type, category_id, description, merchant, original_text,
	notes, occurred_at, created_at, updated_at, source`

func transactionArgs(t core.Transaction) []any {
	return []any{
		t.ID, t.LedgerID, t.AccountID, t.CounterAccountID, t.TransferID,
		t.Amount.Minor, string(t.Amount.Currency), string(t.Type), t.CategoryID,
		t.Description, t.Merchant, t.OriginalText, t.Notes, t.OccurredAt.String(),
		unixNano(t.CreatedAt), unixNano(t.UpdatedAt), string(t.Source),
	}
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t                       core.Transaction
		currency, typ, source   string
		occurred                string
		created, updated, minor int64
	)
	err := s.Scan(&t.ID, &t.LedgerID, &t.AccountID, &t.CounterAccountID, &t.TransferID,
		&minor, &currency, &typ, &t.CategoryID, &t.Description, &t.Merchant, &t.OriginalText,
		&t.Notes, &occurred, &created, &updated, &source)
	if err != nil {
		return core.Transaction{}, err
	}
	d, err := parseDate(occurred)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse occurred_at %q: %w", occurred, err)
	}
	t.Amount = core.NewMoney(minor, core.Currency(currency))
	t.Type = core.TransactionType(typ)
	t.Source = core.Source(source)
	t.OccurredAt = d
	t.CreatedAt = fromUnixNano(created)
	t.UpdatedAt = fromUnixNano(updated)
	return t, nil
}

func (r *SQLiteRepository) AppendTransactions(ctx context.Context, txs ...core.Transaction) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range txs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO transactions (`+transactionColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				transactionArgs(t)...)
			if err != nil {
				return fmt.Errorf("insert transaction %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) ReplaceTransactions(ctx context.Context, txs ...core.Transaction) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range txs {
			res, err := tx.ExecContext(ctx, `UPDATE transactions SET
				account_id = ?, counter_account_id = ?, transfer_id = ?, amount_minor = ?,
				currency = ?, type = ?, category_id = ?, description = ?, merchant = ?,
				original_text = ?, notes = ?, occurred_at = ?, updated_at = ?, source = ?
				WHERE id = ? AND ledger_id = ?`,
				t.AccountID, t.CounterAccountID, t.TransferID, t.Amount.Minor,
				string(t.Amount.Currency), string(t.Type), t.CategoryID, t.Description, t.Merchant,
				t.OriginalText, t.Notes, t.OccurredAt.String(), unixNano(t.UpdatedAt), string(t.Source),
				t.ID, t.LedgerID)
			if err != nil {
				return fmt.Errorf("update transaction %s: %w", t.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return notFound("transaction", t.ID)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) DeleteTransactions(ctx context.Context, ledgerID string, ids ...string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND ledger_id = ?`, id, ledgerID)
			if err != nil {
				return fmt.Errorf("delete transaction %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return notFound("transaction", id)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, ledgerID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND ledger_id = ?`, id, ledgerID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, notFound("transaction", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, ledgerID string, f core.TransactionFilter) ([]core.Transaction, error) {
	var (
		where = []string{"ledger_id = ?"}
		args  = []any{ledgerID}
	)
	if !f.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, f.To.String())
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY occurred_at, created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.queryTransactions(ctx, query, args...)
}

func (r *SQLiteRepository) TransferLegs(ctx context.Context, ledgerID, transferID string) ([]core.Transaction, error) {
	if transferID == "" {
		return nil, notFound("transfer", transferID)
	}
	legs, err := r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE ledger_id = ? AND transfer_id = ? ORDER BY occurred_at, created_at, id`,
		ledgerID, transferID)
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, notFound("transfer", transferID)
	}
	return legs, nil
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CountByCategory(ctx context.Context, ledgerID, categoryID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM transactions WHERE ledger_id = ? AND category_id = ?) +
		(SELECT COUNT(*) FROM recurring_rules WHERE ledger_id = ? AND category_id = ?)`,
		ledgerID, categoryID, ledgerID, categoryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count category references: %w", err)
	}
	return n, nil
}

// Accounts

const accountColumns = `id, ledger_id, name, type, default_currency, initial_balance_minor, is_active, created_at`

func scanAccount(s scanner) (core.Account, error) {
	var (
		a                core.Account
		typ, currency    string
		initial, created int64
		active           bool
	)
	if err := s.Scan(&a.ID, &a.LedgerID, &a.Name, &typ, &currency, &initial, &active, &created); err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(typ)
	a.DefaultCurrency = core.Currency(currency)
	a.InitialBalance = core.NewMoney(initial, a.DefaultCurrency)
	a.IsActive = active
	a.CreatedAt = fromUnixNano(created)
	return a, nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LedgerID, a.Name, string(a.Type), string(a.DefaultCurrency),
		a.InitialBalance.Minor, a.IsActive, unixNano(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, ledgerID, id string) (core.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ? AND ledger_id = ?`, id, ledgerID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, notFound("account", id)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, ledgerID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE ledger_id = ? ORDER BY name`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]core.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Categories

const categoryColumns = `id, ledger_id, name, type, parent_id`

func scanCategory(s scanner) (core.Category, error) {
	var (
		c   core.Category
		typ string
	)
	if err := s.Scan(&c.ID, &c.LedgerID, &c.Name, &typ, &c.ParentID); err != nil {
		return core.Category{}, err
	}
	c.Type = core.TransactionType(typ)
	return c, nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.LedgerID, c.Name, string(c.Type), c.ParentID)
	if isUnique(err) {
		return fmt.Errorf("category %q: %w", c.Name, core.ErrInUse)
	}
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateCategory(ctx context.Context, c core.Category) error {
	res, err := r.db.ExecContext(ctx, `UPDATE categories SET name = ?, type = ?, parent_id = ? WHERE id = ? AND ledger_id = ?`,
		c.Name, string(c.Type), c.ParentID, c.ID, c.LedgerID)
	if isUnique(err) {
		return fmt.Errorf("category %q: %w", c.Name, core.ErrInUse)
	}
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("category", c.ID)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, ledgerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ? AND ledger_id = ?`, id, ledgerID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("category", id)
	}
	return nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, ledgerID, id string) (core.Category, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ? AND ledger_id = ?`, id, ledgerID)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, notFound("category", id)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, ledgerID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE ledger_id = ? ORDER BY name`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := make([]core.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Rates

func (r *SQLiteRepository) AppendRate(ctx context.Context, rate core.ExchangeRate) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO exchange_rates (base, quote, rate, as_of) VALUES (?, ?, ?, ?)
		ON CONFLICT (base, quote, as_of) DO UPDATE SET rate = excluded.rate`,
		string(rate.Base), string(rate.Quote), rate.Rate.String(), unixNano(rate.AsOf))
	if err != nil {
		return fmt.Errorf("insert rate: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRates(ctx context.Context) ([]core.ExchangeRate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT base, quote, rate, as_of FROM exchange_rates ORDER BY as_of, base, quote`)
	if err != nil {
		return nil, fmt.Errorf("list rates: %w", err)
	}
	defer rows.Close()

	out := make([]core.ExchangeRate, 0)
	for rows.Next() {
		var (
			base, quote, value string
			asOf               int64
		)
		if err := rows.Scan(&base, &quote, &value, &asOf); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("parse rate %q: %w", value, err)
		}
		out = append(out, core.ExchangeRate{
			Base:  core.Currency(base),
			Quote: core.Currency(quote),
			Rate:  d,
			AsOf:  fromUnixNano(asOf),
		})
	}
	return out, rows.Err()
}

// Recurring rules

const ruleColumns = `id, ledger_id, account_id, amount_minor, currency, type, category_id,
	description, merchant, notes, every, start_date, end_date, last_run`

func scanRule(s scanner) (core.RecurringRule, error) {
	var (
		rule                 core.RecurringRule
		minor                int64
		currency, typ, every string
		start, end, lastRun  string
	)
	tpl := &rule.Template
	err := s.Scan(&rule.ID, &rule.LedgerID, &tpl.AccountID, &minor, &currency, &typ, &tpl.CategoryID,
		&tpl.Description, &tpl.Merchant, &tpl.Notes, &every, &start, &end, &lastRun)
	if err != nil {
		return core.RecurringRule{}, err
	}
	tpl.LedgerID = rule.LedgerID
	tpl.Amount = core.NewMoney(minor, core.Currency(currency))
	tpl.Type = core.TransactionType(typ)
	rule.Every = core.RepetitionTypes(every)
	if rule.StartDate, err = parseDate(start); err != nil {
		return core.RecurringRule{}, err
	}
	if rule.EndDate, err = parseDate(end); err != nil {
		return core.RecurringRule{}, err
	}
	if rule.LastRun, err = parseDate(lastRun); err != nil {
		return core.RecurringRule{}, err
	}
	return rule, nil
}

// ruleArgs lists id and ledger_id first, then the mutable columns.
func ruleArgs(rule core.RecurringRule) []any {
	tpl := rule.Template
	return []any{
		rule.ID, rule.LedgerID, tpl.AccountID, tpl.Amount.Minor, string(tpl.Amount.Currency),
		string(tpl.Type), tpl.CategoryID, tpl.Description, tpl.Merchant, tpl.Notes,
		string(rule.Every), rule.StartDate.String(), rule.EndDate.String(), rule.LastRun.String(),
	}
}

func (r *SQLiteRepository) CreateRecurringRule(ctx context.Context, rule core.RecurringRule) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recurring_rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ruleArgs(rule)...)
	if err != nil {
		return fmt.Errorf("insert recurring rule: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateRecurringRule(ctx context.Context, rule core.RecurringRule) error {
	args := append(ruleArgs(rule)[2:], rule.ID, rule.LedgerID)
	res, err := r.db.ExecContext(ctx, `UPDATE recurring_rules SET
		account_id = ?, amount_minor = ?, currency = ?, type = ?, category_id = ?,
		description = ?, merchant = ?, notes = ?, every = ?, start_date = ?, end_date = ?, last_run = ?
		WHERE id = ? AND ledger_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update recurring rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("recurring rule", rule.ID)
	}
	return nil
}

func (r *SQLiteRepository) ListRecurringRules(ctx context.Context, ledgerID string) ([]core.RecurringRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurring_rules`
	var args []any
	if ledgerID != "" {
		query += ` WHERE ledger_id = ?`
		args = append(args, ledgerID)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recurring rules: %w", err)
	}
	defer rows.Close()

	out := make([]core.RecurringRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
