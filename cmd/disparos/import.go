package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/disparos/internal/contacts"
	"github.com/foxzi/disparos/internal/dispatch"
	"github.com/foxzi/disparos/internal/models"
	"github.com/foxzi/disparos/internal/sheet"
)

var (
	importUser      string
	importCampaign  string
	importBatchSize int
	importExample   int
	importURL       string
	importName      string
	importEmail     string
	importPhone     string
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import contacts from a CSV or XLSX file into ready batches",
	Long: `Import contacts for a user and campaign. The source is a local CSV/XLSX
file, a shared Google Sheets link (--url) or generated sample rows (--example).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importUser, "user", "", "owner user ID (required)")
	importCmd.Flags().StringVar(&importCampaign, "campaign", "", "campaign ID (required)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "contacts per batch (default from config)")
	importCmd.Flags().IntVar(&importExample, "example", 0, "generate N sample contacts instead of reading a file")
	importCmd.Flags().StringVar(&importURL, "url", "", "shared Google Sheets link")
	importCmd.Flags().StringVar(&importName, "name-column", "", "header of the name column")
	importCmd.Flags().StringVar(&importEmail, "email-column", "", "header of the email column")
	importCmd.Flags().StringVar(&importPhone, "phone-column", "", "header of the phone column")
	importCmd.MarkFlagRequired("user")
	importCmd.MarkFlagRequired("campaign")

	rootCmd.AddCommand(importCmd)
}

// importSource describes where rows come from
type importSource struct {
	File    string
	URL     string
	Example int
}

func (s importSource) validate() error {
	n := 0
	if s.File != "" {
		n++
	}
	if s.URL != "" {
		n++
	}
	if s.Example > 0 {
		n++
	}
	if n != 1 {
		return fmt.Errorf("exactly one of a file argument, --url or --example is required")
	}
	return nil
}

// loadRows reads the source and returns the rows, the default mapping and
// the import origin
func loadRows(ctx context.Context, src importSource, fetcher *sheet.Fetcher) (*models.ParsedData, models.ColumnMapping, models.SheetOrigin, error) {
	switch {
	case src.Example > 0:
		return contacts.GenerateExamples(src.Example), contacts.ExampleMapping, models.SheetOriginUpload, nil

	case src.URL != "":
		data, err := fetcher.FetchGoogleSheet(ctx, src.URL)
		if err != nil {
			return nil, models.ColumnMapping{}, "", err
		}
		return data, sheet.SuggestMapping(data.Headers), models.SheetOriginURL, nil

	default:
		f, err := os.Open(src.File)
		if err != nil {
			return nil, models.ColumnMapping{}, "", err
		}
		defer f.Close()

		data, err := sheet.Parse(filepath.Base(src.File), f)
		if err != nil {
			return nil, models.ColumnMapping{}, "", err
		}
		return data, sheet.SuggestMapping(data.Headers), models.SheetOriginUpload, nil
	}
}

// overrideMapping applies column flags on top of the suggested mapping
func overrideMapping(m models.ColumnMapping, name, email, phone string) models.ColumnMapping {
	if name != "" {
		m.Name = name
	}
	if email != "" {
		m.Email = email
	}
	if phone != "" {
		m.Phone = phone
	}
	return m
}

func runImport(cmd *cobra.Command, args []string) error {
	src := importSource{URL: importURL, Example: importExample}
	if len(args) == 1 {
		src.File = args[0]
	}
	if err := src.validate(); err != nil {
		return err
	}

	application, cfg, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	batchSize := importBatchSize
	if batchSize == 0 {
		batchSize = cfg.Import.DefaultBatchSize
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fetcher := sheet.NewFetcher(cfg.Import.FetchTimeout, cfg.Import.MaxUploadBytes)
	data, mapping, origin, err := loadRows(ctx, src, fetcher)
	if err != nil {
		return fmt.Errorf("failed to read contacts: %w", err)
	}
	mapping = overrideMapping(mapping, importName, importEmail, importPhone)

	source := src.File
	switch {
	case src.URL != "":
		source = src.URL
	case src.Example > 0:
		source = fmt.Sprintf("example-%d", src.Example)
	}

	result, err := application.Dispatcher.Import(ctx, importUser, dispatch.ImportRequest{
		CampaignID: importCampaign,
		Data:       data,
		Mapping:    mapping,
		BatchSize:  batchSize,
		Origin:     origin,
		Source:     source,
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %d rows: %d valid, %d invalid, %d duplicates\n",
		result.Stats.Total, result.Stats.Valid, result.Stats.Invalid, result.Stats.Duplicates)
	for _, b := range result.Batches {
		fmt.Printf("  batch %d  %s  contacts %d-%d\n", b.BlockNumber, b.ID, b.Range.Start, b.Range.End)
	}
	return nil
}
