package sheet

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		headers []string
		rows    int
	}{
		{
			name:    "comma",
			input:   "Nome,Email,Telefone\nAna,ana@example.com,11999999999\nBruno,bruno@example.com,\n",
			headers: []string{"Nome", "Email", "Telefone"},
			rows:    2,
		},
		{
			name:    "semicolon",
			input:   "Nome;Email;Cidade\nAna;ana@example.com;São Paulo, SP\n",
			headers: []string{"Nome", "Email", "Cidade"},
			rows:    1,
		},
		{
			name:    "bom and blank lines",
			input:   "\xEF\xBB\xBFNome,Email\n\nAna,ana@example.com\n,\n",
			headers: []string{"Nome", "Email"},
			rows:    1,
		},
		{
			name:    "trimmed and repeated headers",
			input:   " Nome ,Email,,Email\nAna,a@b.com,x,c@d.com\n",
			headers: []string{"Nome", "Email", "Coluna 3", "Email (2)"},
			rows:    1,
		},
		{
			name:    "renamed header already taken",
			input:   "A,A,A (2)\n1,2,3\n",
			headers: []string{"A", "A (3)", "A (2)"},
			rows:    1,
		},
		{
			name:    "short rows padded",
			input:   "A,B,C\n1\n",
			headers: []string{"A", "B", "C"},
			rows:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := ParseCSV(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ParseCSV failed: %v", err)
			}
			if strings.Join(data.Headers, "|") != strings.Join(tt.headers, "|") {
				t.Errorf("headers = %q, want %q", data.Headers, tt.headers)
			}
			if len(data.Rows) != tt.rows {
				t.Errorf("rows = %d, want %d", len(data.Rows), tt.rows)
			}
			for _, row := range data.Rows {
				if len(row) != len(tt.headers) {
					t.Errorf("row has %d keys, want %d", len(row), len(tt.headers))
				}
			}
		})
	}
}

func TestHeaderNamesUnique(t *testing.T) {
	tests := [][]string{
		{"A", "A", "A (2)"},
		{"A (2)", "A", "A", "A"},
		{"", "Coluna 1", "Coluna 1"},
		{"Email", "Email (2)", "Email", "Email (3)", "Email"},
	}

	for _, rec := range tests {
		headers := headerNames(rec)
		seen := make(map[string]bool, len(headers))
		for _, h := range headers {
			if seen[h] {
				t.Errorf("headerNames(%q) = %q, %q repeated", rec, headers, h)
			}
			seen[h] = true
		}
	}
}

func TestParseCSVValues(t *testing.T) {
	data, err := ParseCSV(strings.NewReader("Nome;Cidade\n  Ana  ;\"São Paulo; SP\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	row := data.Rows[0]
	if row["Nome"] != "Ana" {
		t.Errorf("Nome = %q", row["Nome"])
	}
	if row["Cidade"] != "São Paulo; SP" {
		t.Errorf("Cidade = %q", row["Cidade"])
	}
}

func TestParseCSVEmpty(t *testing.T) {
	for _, input := range []string{"", "\n\n", "Nome,Email\n", "Nome,Email\n,\n"} {
		if _, err := ParseCSV(strings.NewReader(input)); !errors.Is(err, ErrEmptySheet) {
			t.Errorf("ParseCSV(%q) error = %v, want ErrEmptySheet", input, err)
		}
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := f.GetSheetName(0)
	f.SetSheetRow(sheetName, "A1", &[]any{"Nome", "Email", "Telefone"})
	f.SetSheetRow(sheetName, "A2", &[]any{"Ana", "ana@example.com", "+55 11 99999-9999"})
	f.SetSheetRow(sheetName, "A3", &[]any{"Bruno", "bruno@example.com"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	data, err := Parse("leads.xlsx", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(data.Headers) != 3 || len(data.Rows) != 2 {
		t.Fatalf("got %d headers, %d rows", len(data.Headers), len(data.Rows))
	}
	if data.Rows[0]["Telefone"] != "+55 11 99999-9999" {
		t.Errorf("Telefone = %q", data.Rows[0]["Telefone"])
	}
	if data.Rows[1]["Telefone"] != "" {
		t.Errorf("missing cell should be empty, got %q", data.Rows[1]["Telefone"])
	}
}

func TestParseUnsupported(t *testing.T) {
	if _, err := Parse("leads.pdf", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDetectDelimiter(t *testing.T) {
	tests := map[string]rune{
		"a,b,c\n1;2":  ',',
		"a;b;c\n1,2":  ';',
		"a\tb\tc\n":   '\t',
		"single\n1,2": ',',
	}
	for input, want := range tests {
		if got := detectDelimiter([]byte(input)); got != want {
			t.Errorf("detectDelimiter(%q) = %q, want %q", input, got, want)
		}
	}
}
