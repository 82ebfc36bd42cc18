package contacts

import (
	"fmt"

	"github.com/foxzi/disparos/internal/models"
)

// ExampleMapping matches the headers produced by GenerateExamples
var ExampleMapping = models.ColumnMapping{
	Name:   "Nome",
	Email:  "Email",
	Phone:  "Telefone",
	Extras: []string{"Empresa", "Cidade"},
}

var exampleCities = []string{"São Paulo", "Rio de Janeiro", "Belo Horizonte", "Curitiba", "Recife"}

// GenerateExamples builds n distinct, valid sample rows
func GenerateExamples(n int) *models.ParsedData {
	data := &models.ParsedData{
		Headers: []string{"Nome", "Email", "Telefone", "Empresa", "Cidade"},
		Rows:    make([]map[string]string, 0, n),
	}
	for i := 1; i <= n; i++ {
		data.Rows = append(data.Rows, map[string]string{
			"Nome":     fmt.Sprintf("Contato %d", i),
			"Email":    fmt.Sprintf("contato%d@exemplo.com", i),
			"Telefone": fmt.Sprintf("+55 11 9%04d-%04d", i/10000, i%10000),
			"Empresa":  fmt.Sprintf("Empresa %d", (i-1)%10+1),
			"Cidade":   exampleCities[(i-1)%len(exampleCities)],
		})
	}
	return data
}
