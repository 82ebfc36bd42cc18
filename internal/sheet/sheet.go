// Package sheet turns uploaded spreadsheets and shared Google Sheets into
// header-keyed rows ready for validation.
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/foxzi/disparos/internal/models"
	"github.com/xuri/excelize/v2"
)

var (
	ErrEmptySheet        = errors.New("spreadsheet has no data rows")
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse picks the parser from the file extension
func Parse(filename string, r io.Reader) (*models.ParsedData, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return ParseCSV(r)
	case ".xlsx", ".xlsm":
		return ParseXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// ParseCSV reads a comma or semicolon separated file. The first non-empty
// record is the header row.
func ParseCSV(r io.Reader) (*models.ParsedData, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1 // Allow variable fields
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return fromRecords(records)
}

// ParseXLSX reads the first worksheet of an Excel workbook
func ParseXLSX(r io.Reader) (*models.ParsedData, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return fromRecords(records)
}

// detectDelimiter counts candidate separators on the header line
func detectDelimiter(data []byte) rune {
	line, _, _ := bytes.Cut(data, []byte("\n"))

	best, bestCount := ',', 0
	for _, sep := range []rune{',', ';', '\t'} {
		if n := bytes.Count(line, []byte(string(sep))); n > bestCount {
			best, bestCount = sep, n
		}
	}
	return best
}

func fromRecords(records [][]string) (*models.ParsedData, error) {
	start := 0
	for start < len(records) && blank(records[start]) {
		start++
	}
	if start == len(records) {
		return nil, ErrEmptySheet
	}

	headers := headerNames(records[start])
	parsed := &models.ParsedData{Headers: headers, Rows: []map[string]string{}}

	for _, rec := range records[start+1:] {
		if blank(rec) {
			continue
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		parsed.Rows = append(parsed.Rows, row)
	}

	if len(parsed.Rows) == 0 {
		return nil, ErrEmptySheet
	}
	return parsed, nil
}

// headerNames trims headers and names blank or repeated columns so every
// row key is unique
func headerNames(rec []string) []string {
	headers := make([]string, len(rec))
	seen := make(map[string]bool, len(rec))
	for _, h := range rec {
		seen[strings.TrimSpace(h)] = true
	}
	used := make(map[string]bool, len(rec))

	for i, h := range rec {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Coluna %d", i+1)
		}
		if used[h] {
			base := h
			for n := 2; used[h] || (seen[h] && h != base); n++ {
				h = fmt.Sprintf("%s (%d)", base, n)
			}
		}
		used[h] = true
		headers[i] = h
	}
	return headers
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
