// Package contacts validates spreadsheet rows and partitions the resulting
// contacts into dispatch batches.
package contacts

import (
	"regexp"
	"strings"

	"github.com/foxzi/disparos/internal/models"
)

// MinPhoneDigits is the minimum digit count of a valid phone number
const MinPhoneDigits = 10

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// NormalizeEmail trims and lowercases an address. It returns "" when the
// address does not look like local@domain.tld.
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !emailPattern.MatchString(email) {
		return ""
	}
	return email
}

// NormalizePhone keeps digits only, preserving a leading "+". It returns ""
// when fewer than MinPhoneDigits digits remain.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	digits := nonDigits.ReplaceAllString(trimmed, "")
	if len(digits) < MinPhoneDigits {
		return ""
	}
	if strings.HasPrefix(trimmed, "+") {
		return "+" + digits
	}
	return digits
}

// ValidateContact maps a raw row through mapping. The row is valid when at
// least one of email or phone is valid; the invalid one is dropped to "".
func ValidateContact(row map[string]string, mapping models.ColumnMapping) (models.Contact, bool) {
	email := NormalizeEmail(cell(row, mapping.Email))
	phone := NormalizePhone(cell(row, mapping.Phone))
	if email == "" && phone == "" {
		return models.Contact{}, false
	}

	extras := make(map[string]string, len(mapping.Extras))
	for _, key := range mapping.Extras {
		if v, ok := row[key]; ok {
			extras[key] = strings.TrimSpace(v)
		}
	}

	return models.Contact{
		Name:   strings.TrimSpace(cell(row, mapping.Name)),
		Email:  email,
		Phone:  phone,
		Extras: extras,
	}, true
}

func cell(row map[string]string, header string) string {
	if header == "" {
		return ""
	}
	return row[header]
}
