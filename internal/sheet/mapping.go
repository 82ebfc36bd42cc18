package sheet

import (
	"strings"

	"github.com/foxzi/disparos/internal/models"
)

// Common header aliases for auto-mapping, Portuguese and English
var headerAliases = map[string][]string{
	"name":  {"nome", "name", "nome_completo", "full_name", "fullname", "cliente", "contato", "first_name"},
	"email": {"email", "e-mail", "e_mail", "email_address", "emailaddress", "mail", "correio"},
	"phone": {"telefone", "phone", "celular", "whatsapp", "mobile", "cell", "tel", "fone", "phone_number", "numero"},
}

// SuggestMapping auto-maps headers to contact fields. The first header
// matching an alias wins; every other header becomes an extra.
func SuggestMapping(headers []string) models.ColumnMapping {
	mapping := models.ColumnMapping{Extras: []string{}}

	for _, header := range headers {
		switch field := matchField(header); {
		case field == "name" && mapping.Name == "":
			mapping.Name = header
		case field == "email" && mapping.Email == "":
			mapping.Email = header
		case field == "phone" && mapping.Phone == "":
			mapping.Phone = header
		default:
			mapping.Extras = append(mapping.Extras, header)
		}
	}

	return mapping
}

func matchField(header string) string {
	normalized := normalizeHeader(header)
	for field, aliases := range headerAliases {
		for _, alias := range aliases {
			if normalized == alias {
				return field
			}
		}
	}
	return ""
}

func normalizeHeader(header string) string {
	normalized := strings.ToLower(strings.TrimSpace(header))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	return normalized
}
