package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	ports "budgetledger/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const defaultCacheValidDuration = 10 * time.Minute

// Options configure the Sheets client. CredentialsJSON takes precedence over
// CredentialsFile; with neither, GOOGLE_APPLICATION_CREDENTIALS is used.
type Options struct {
	SpreadsheetID   string
	ReportSheet     string // base name; the report year is prefixed
	CredentialsJSON string
	CredentialsFile string
}

// Client writes monthly reports to one sheet per year, one row per
// ledger-month.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	reportBase    string

	mu                 sync.Mutex
	sheets             map[string]*sheetIndex
	cacheValidDuration time.Duration
}

// sheetIndex maps ledger-month keys to row numbers of one sheet.
type sheetIndex struct {
	rows      map[string]int
	next      int
	expiresAt time.Time
}

var _ ports.ReportWriter = (*Client)(nil)

func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(opts.ReportSheet)
	if base == "" {
		base = "Reports"
	}

	creds, err := credentials(ctx, opts)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", spreadsheetID, "report_sheet", base)

	return newClient(svc, spreadsheetID, base), nil
}

func newClient(svc *gsheet.Service, spreadsheetID, base string) *Client {
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		reportBase:         base,
		sheets:             map[string]*sheetIndex{},
		cacheValidDuration: defaultCacheValidDuration,
	}
}

// credentials resolves service account credentials.
func credentials(ctx context.Context, opts Options) ([]byte, error) {
	inline := strings.TrimSpace(opts.CredentialsJSON)
	file := strings.TrimSpace(opts.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(inline), nil
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON, GOOGLE_CREDENTIALS_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
}

// WriteMonth writes r to its year's sheet, replacing the row previously
// written for the same ledger-month.
func (c *Client) WriteMonth(ctx context.Context, r ports.MonthlyReport) (string, error) {
	if r.LedgerID == "" {
		return "", errors.New("report without ledger id")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	sheet := yearPrefixedName(c.reportBase, r.Period.Year)

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.indexLocked(ctx, sheet)
	if err != nil {
		return "", err
	}
	row := idx.rowFor(rowKey(r.LedgerID, r.Period.String()))

	rng := fmt.Sprintf("%s!A%d:K%d", sheet, row, row)
	vr := &gsheet.ValueRange{Values: [][]any{reportRow(r)}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		// the row may not have been written, so the index can no longer be trusted
		delete(c.sheets, sheet)
		return "", fmt.Errorf("failed to update %s: %w", rng, err)
	}
	return rng, nil
}

// InvalidateCache forgets every cached row index.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sheets = map[string]*sheetIndex{}
}

func (c *Client) cachedLocked(sheet string) (*sheetIndex, bool) {
	idx, ok := c.sheets[sheet]
	if !ok || !time.Now().Before(idx.expiresAt) {
		return nil, false
	}
	return idx, true
}

func (c *Client) indexLocked(ctx context.Context, sheet string) (*sheetIndex, error) {
	if idx, ok := c.cachedLocked(sheet); ok {
		return idx, nil
	}
	if err := c.ensureSheet(ctx, sheet); err != nil {
		return nil, err
	}

	rng := fmt.Sprintf("%s!A:C", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	if len(resp.Values) == 0 {
		header := fmt.Sprintf("%s!A1:K1", sheet)
		vr := &gsheet.ValueRange{Values: [][]any{reportHeader}}
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, header, vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return nil, fmt.Errorf("write header to %s: %w", sheet, err)
		}
		resp.Values = [][]any{reportHeader[:3]}
	}

	rows, next := indexRows(resp.Values)
	idx := &sheetIndex{rows: rows, next: next, expiresAt: time.Now().Add(c.cacheValidDuration)}
	c.sheets[sheet] = idx
	return idx, nil
}

// ensureSheet adds the sheet to the spreadsheet when it does not exist yet.
func (c *Client) ensureSheet(ctx context.Context, sheet string) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets(properties(title))").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheet {
			return nil
		}
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheet}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %q: %w", sheet, err)
	}
	slog.InfoContext(ctx, "Created report sheet", "sheet", sheet)
	return nil
}

func (idx *sheetIndex) rowFor(key string) int {
	if row, ok := idx.rows[key]; ok {
		return row
	}
	row := idx.next
	idx.rows[key] = row
	idx.next++
	return row
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
