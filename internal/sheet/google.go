package sheet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/foxzi/disparos/internal/models"
)

var (
	ErrInvalidSheetURL = errors.New("not a Google Sheets link")
	ErrSheetTooLarge   = errors.New("spreadsheet exceeds the size limit")
)

const googleSheetsHost = "docs.google.com"

// ExportURL converts a shared Google Sheets link into its CSV export URL.
// The gid of the linked tab is kept from the query or the fragment.
func ExportURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSheetURL, err)
	}
	if u.Host != googleSheetsHost {
		return "", ErrInvalidSheetURL
	}

	// /spreadsheets/d/{id}/edit
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "spreadsheets" || parts[1] != "d" || parts[2] == "" {
		return "", ErrInvalidSheetURL
	}
	id := parts[2]

	gid := u.Query().Get("gid")
	if gid == "" && u.Fragment != "" {
		if frag, err := url.ParseQuery(u.Fragment); err == nil {
			gid = frag.Get("gid")
		}
	}
	if gid == "" {
		gid = "0"
	}

	return fmt.Sprintf("https://%s/spreadsheets/d/%s/export?format=csv&gid=%s", googleSheetsHost, id, url.QueryEscape(gid)), nil
}

// Fetcher downloads published sheets
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewFetcher creates a fetcher bounded by timeout and body size
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

// FetchGoogleSheet downloads a shared Google Sheets link as CSV
func (f *Fetcher) FetchGoogleSheet(ctx context.Context, link string) (*models.ParsedData, error) {
	exportURL, err := ExportURL(link)
	if err != nil {
		return nil, err
	}
	return f.FetchCSV(ctx, exportURL)
}

// FetchCSV downloads and parses a CSV document
func (f *Fetcher) FetchCSV(ctx context.Context, rawURL string) (*models.ParsedData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download sheet: HTTP %d (is the sheet shared publicly?)", resp.StatusCode)
	}

	if f.maxBytes <= 0 {
		return ParseCSV(resp.Body)
	}

	// One byte past the limit tells a full body from a cut one
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to download sheet: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSheetTooLarge, f.maxBytes)
	}
	return ParseCSV(bytes.NewReader(data))
}
