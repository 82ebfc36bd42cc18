package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/foxzi/disparos/internal/contacts"
	"github.com/foxzi/disparos/internal/dispatch"
	"github.com/foxzi/disparos/internal/models"
	"github.com/foxzi/disparos/internal/sheet"
)

const (
	previewRows     = 10
	maxExampleCount = 1000
)

// ImportJSONRequest imports a shared Google Sheets link
type ImportJSONRequest struct {
	CampaignID string                `json:"campaign_id"`
	URL        string                `json:"url"`
	Mapping    *models.ColumnMapping `json:"mapping,omitempty"`
	BatchSize  int                   `json:"batch_size"`
}

// ExampleImportRequest is the request body for POST /imports/example
type ExampleImportRequest struct {
	CampaignID string `json:"campaign_id"`
	Count      int    `json:"count"`
	BatchSize  int    `json:"batch_size"`
}

// PreviewResponse is the response for POST /imports/preview
type PreviewResponse struct {
	Headers          []string             `json:"headers"`
	Rows             []map[string]string  `json:"rows"`
	TotalRows        int                  `json:"total_rows"`
	SuggestedMapping models.ColumnMapping `json:"suggested_mapping"`
}

// ImportResponse is the response of a stored import
type ImportResponse struct {
	ImportID string         `json:"import_id,omitempty"`
	Stats    contacts.Stats `json:"stats"`
	Batches  []BatchSummary `json:"batches"`
}

// requestError is a client error detected while reading an import
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// importInput is an import request decoded from either transport
type importInput struct {
	data       *models.ParsedData
	origin     models.SheetOrigin
	source     string
	campaignID string
	batchSize  int
	mapping    *models.ColumnMapping
}

// handlePreviewImport handles POST /api/v1/imports/preview
func (s *Server) handlePreviewImport(w http.ResponseWriter, r *http.Request) {
	in, err := s.readImport(w, r)
	if err != nil {
		s.sendImportError(w, err)
		return
	}

	rows := in.data.Rows
	if len(rows) > previewRows {
		rows = rows[:previewRows]
	}

	sendJSON(w, http.StatusOK, PreviewResponse{
		Headers:          in.data.Headers,
		Rows:             rows,
		TotalRows:        len(in.data.Rows),
		SuggestedMapping: sheet.SuggestMapping(in.data.Headers),
	})
}

// handleCreateImport handles POST /api/v1/imports. Accepts a multipart
// upload (file, campaign_id, batch_size, mapping) or a JSON body with a
// Google Sheets URL. Without a mapping the suggested one is used.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	in, err := s.readImport(w, r)
	if err != nil {
		s.sendImportError(w, err)
		return
	}
	if in.campaignID == "" {
		sendError(w, http.StatusBadRequest, "campaign_id is required")
		return
	}

	mapping := sheet.SuggestMapping(in.data.Headers)
	if in.mapping != nil {
		mapping = *in.mapping
	}
	if mapping.Email == "" && mapping.Phone == "" {
		sendError(w, http.StatusBadRequest, "mapping must include an email or phone column")
		return
	}
	if err := checkMapping(in.data.Headers, mapping); err != nil {
		s.sendImportError(w, err)
		return
	}

	s.storeImport(w, r, dispatch.ImportRequest{
		CampaignID: in.campaignID,
		Data:       in.data,
		Mapping:    mapping,
		BatchSize:  in.batchSize,
		Origin:     in.origin,
		Source:     in.source,
	})
}

// handleExampleImport handles POST /api/v1/imports/example
func (s *Server) handleExampleImport(w http.ResponseWriter, r *http.Request) {
	var req ExampleImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CampaignID == "" {
		sendError(w, http.StatusBadRequest, "campaign_id is required")
		return
	}
	if req.Count <= 0 || req.Count > maxExampleCount {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxExampleCount))
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = s.importCfg.DefaultBatchSize
	}

	s.storeImport(w, r, dispatch.ImportRequest{
		CampaignID: req.CampaignID,
		Data:       contacts.GenerateExamples(req.Count),
		Mapping:    contacts.ExampleMapping,
		BatchSize:  req.BatchSize,
		Origin:     models.SheetOriginUpload,
		Source:     "exemplo.csv",
	})
}

func (s *Server) storeImport(w http.ResponseWriter, r *http.Request, req dispatch.ImportRequest) {
	result, err := s.dispatcher.Import(r.Context(), userID(r), req)
	if err != nil {
		s.sendStoreError(w, "failed to store import", err)
		return
	}

	resp := ImportResponse{Stats: result.Stats, Batches: make([]BatchSummary, 0, len(result.Batches))}
	for i := range result.Batches {
		resp.Batches = append(resp.Batches, summarize(&result.Batches[i]))
	}
	if len(result.Batches) > 0 {
		resp.ImportID = result.Batches[0].ImportID
	}

	sendJSON(w, http.StatusCreated, resp)
}

// readImport decodes a multipart upload or a JSON body with a sheet URL
func (s *Server) readImport(w http.ResponseWriter, r *http.Request) (*importInput, error) {
	in := &importInput{batchSize: s.importCfg.DefaultBatchSize}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, s.importCfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.importCfg.MaxUploadBytes); err != nil {
			return nil, badRequest("invalid upload: %v", err)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, badRequest("file is required")
		}
		defer file.Close()

		data, err := sheet.Parse(header.Filename, file)
		if err != nil {
			return nil, err
		}

		in.data = data
		in.origin = models.SheetOriginUpload
		in.source = header.Filename
		in.campaignID = r.FormValue("campaign_id")

		if v := r.FormValue("batch_size"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, badRequest("batch_size must be a number")
			}
			in.batchSize = n
		}
		if v := r.FormValue("mapping"); v != "" {
			var m models.ColumnMapping
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return nil, badRequest("mapping must be a JSON object")
			}
			in.mapping = &m
		}
		return in, nil
	}

	var req ImportJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, badRequest("Invalid request body")
	}
	if req.URL == "" {
		return nil, badRequest("url is required")
	}
	if s.sheets == nil {
		return nil, &requestError{status: http.StatusNotImplemented, msg: "sheet links are not supported"}
	}

	data, err := s.sheets.FetchGoogleSheet(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, sheet.ErrInvalidSheetURL) || errors.Is(err, sheet.ErrEmptySheet) ||
			errors.Is(err, sheet.ErrSheetTooLarge) {
			return nil, err
		}
		return nil, &requestError{status: http.StatusBadGateway, msg: err.Error()}
	}

	in.data = data
	in.origin = models.SheetOriginURL
	in.source = req.URL
	in.campaignID = req.CampaignID
	in.mapping = req.Mapping
	if req.BatchSize != 0 {
		in.batchSize = req.BatchSize
	}
	return in, nil
}

func (s *Server) sendImportError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		sendError(w, re.status, re.msg)
		return
	}
	s.sendStoreError(w, "failed to read import", err)
}

// checkMapping rejects mappings naming columns the sheet does not have
func checkMapping(headers []string, m models.ColumnMapping) error {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	for _, col := range append([]string{m.Name, m.Email, m.Phone}, m.Extras...) {
		if col != "" && !known[col] {
			return badRequest("unknown column in mapping: %s", col)
		}
	}
	return nil
}
