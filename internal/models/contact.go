package models

// Contact is a validated, normalized spreadsheet row
type Contact struct {
	Name   string            `json:"name"`
	Email  string            `json:"email"`
	Phone  string            `json:"phone"`
	Extras map[string]string `json:"extras"`
}

// ColumnMapping maps spreadsheet headers to contact fields
type ColumnMapping struct {
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Phone  string   `json:"phone"`
	Extras []string `json:"extras"`
}

// ParsedData is a raw tabular import. It lives only for the import session.
type ParsedData struct {
	Headers []string            `json:"headers"`
	Rows    []map[string]string `json:"rows"`
}

// SheetOrigin tells where an import came from
type SheetOrigin string

const (
	SheetOriginUpload SheetOrigin = "upload"
	SheetOriginURL    SheetOrigin = "url"
)

// SheetMeta describes the imported spreadsheet
type SheetMeta struct {
	Origin        SheetOrigin `json:"origin"`
	FilenameOrURL string      `json:"filename_or_url"`
	TotalRows     int         `json:"total_rows"`
}
