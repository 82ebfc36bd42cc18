package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/foxzi/disparos/internal/contacts"
	"github.com/foxzi/disparos/internal/models"
)

func TestImportSourceValidate(t *testing.T) {
	tests := []struct {
		name    string
		src     importSource
		wantErr bool
	}{
		{"file", importSource{File: "contacts.csv"}, false},
		{"url", importSource{URL: "https://docs.google.com/spreadsheets/d/x/edit"}, false},
		{"example", importSource{Example: 10}, false},
		{"none", importSource{}, true},
		{"file and example", importSource{File: "contacts.csv", Example: 10}, true},
		{"url and file", importSource{File: "a.csv", URL: "https://x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.src.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRowsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.csv")
	csv := "Nome;E-mail;Celular\nAna;ana@example.com;(11) 98765-4321\nBruno;bruno@example.com;\n"
	if err := os.WriteFile(path, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	data, mapping, origin, err := loadRows(context.Background(), importSource{File: path}, nil)
	if err != nil {
		t.Fatalf("loadRows() error = %v", err)
	}
	if len(data.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(data.Rows))
	}
	if origin != models.SheetOriginUpload {
		t.Errorf("origin = %s", origin)
	}
	if mapping.Email != "E-mail" || mapping.Phone != "Celular" {
		t.Errorf("suggested mapping = %+v", mapping)
	}
}

func TestLoadRowsExample(t *testing.T) {
	data, mapping, _, err := loadRows(context.Background(), importSource{Example: 7}, nil)
	if err != nil {
		t.Fatalf("loadRows() error = %v", err)
	}
	if len(data.Rows) != 7 {
		t.Errorf("rows = %d, want 7", len(data.Rows))
	}
	if mapping.Email != contacts.ExampleMapping.Email {
		t.Errorf("mapping = %+v", mapping)
	}
}

func TestLoadRowsMissingFile(t *testing.T) {
	_, _, _, err := loadRows(context.Background(), importSource{File: "/nonexistent/contacts.csv"}, nil)
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOverrideMapping(t *testing.T) {
	base := models.ColumnMapping{Name: "Nome", Email: "Email", Phone: "Telefone"}

	got := overrideMapping(base, "", "Correio", "")
	if got.Name != "Nome" || got.Email != "Correio" || got.Phone != "Telefone" {
		t.Errorf("overrideMapping() = %+v", got)
	}
}
