// Package google persists ledger values in a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	applog "ledger/internal/log"
	"ledger/internal/sheets"
	"ledger/internal/storage"
)

// Client keeps one value under key in a single row of sheetName.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	key           string
	chunkSize     int
	logger        *applog.Logger

	// serializes the find-row-then-write sequence of Save
	mu sync.Mutex
}

type Option func(*Client)

func WithChunkSize(n int) Option {
	return func(c *Client) { c.chunkSize = n }
}

func WithLogger(l *applog.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent(applog.ComponentSheets) }
}

// New creates a client authenticated with service account credentials from
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, spreadsheetID, sheetName, key string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	c := NewWithService(nil, spreadsheetID, sheetName, key, opts...)
	svc, err := newSheetsService(ctx, c.logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	c.svc = svc
	return c, nil
}

// NewWithService wraps an existing service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName, key string, opts ...Option) *Client {
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Ledger"
	}
	if key == "" {
		key = storage.DefaultKey
	}
	c := &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(spreadsheetID),
		sheetName:     strings.TrimSpace(sheetName),
		key:           key,
		chunkSize:     sheets.DefaultChunkSize,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = applog.OrNop(c.logger)
	return c
}

func newSheetsService(ctx context.Context, logger *applog.Logger) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	logger.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)
	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Load returns the value stored under the client's key, or
// storage.ErrNotFound when no row carries it.
func (c *Client) Load(ctx context.Context) ([]byte, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := c.a1("")
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	idx := sheets.FindRow(resp.Values, c.key)
	if idx < 0 {
		return nil, storage.ErrNotFound
	}
	data, err := sheets.DecodeRow(resp.Values[idx])
	if err != nil {
		return nil, fmt.Errorf("row %d of %s: %w", idx+1, c.sheetName, err)
	}
	return data, nil
}

// Save overwrites the key's row, appending a new one when the key is new.
func (c *Client) Save(ctx context.Context, data []byte) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	colA := c.a1("A:A")
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, colA).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", colA, err)
	}
	rowNum := sheets.FindRow(resp.Values, c.key) + 1
	if rowNum == 0 {
		rowNum = len(resp.Values) + 1
	}

	row := sheets.EncodeRow(c.key, data, c.chunkSize)
	target := c.a1(fmt.Sprintf("A%d", rowNum))
	vr := &gsheet.ValueRange{Values: [][]any{row}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, target, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", target, err)
	}
	c.logger.DebugContext(ctx, "Saved value to sheet",
		applog.FieldStorageKey, c.key, "row", rowNum, "chunks", len(row)-2)
	return nil
}

// a1 quotes the sheet name so names with spaces work.
func (c *Client) a1(ref string) string {
	name := "'" + strings.ReplaceAll(c.sheetName, "'", "''") + "'"
	if ref == "" {
		return name
	}
	return name + "!" + ref
}
