// Package server is the HTTP front. It adapts the transport catalogue
// (submission, document retrieval, path queries, aggregation, analytics)
// onto the core services.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/analytics"
	"github.com/feedworks/crypto-reports/internal/database"
	"github.com/feedworks/crypto-reports/internal/models"
	"github.com/feedworks/crypto-reports/internal/pipeline"
	"github.com/feedworks/crypto-reports/internal/query"
)

const maxUploadBytes = 32 << 20

type ReportService struct {
	Pipeline  pipeline.Submitter
	Query     query.Engine
	Analytics analytics.Views
	DBManager database.DBManager
	Log       *zap.Logger
}

func NewReportService(
	submitter pipeline.Submitter,
	engine query.Engine,
	views analytics.Views,
	dbManager database.DBManager,
	log *zap.Logger,
) *ReportService {
	return &ReportService{
		Pipeline:  submitter,
		Query:     engine,
		Analytics: views,
		DBManager: dbManager,
		Log:       log,
	}
}

func (h *ReportService) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Upload accepts one tabular submission as multipart form data with fields
// requestId, mapper (JSON object), webhookUrl and the file part "file"
// (falling back to a plain "csv" form field). It acknowledges with 202
// before the pipeline runs.
func (h *ReportService) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	var mapping models.FieldMapping
	if raw := r.FormValue("mapper"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			http.Error(w, "Field 'mapper' must be a JSON object", http.StatusBadRequest)
			return
		}
	}

	csvContent := r.FormValue("csv")
	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Failed to read uploaded file", http.StatusBadRequest)
			return
		}
		csvContent = string(data)
	}

	ack, err := h.Pipeline.Submit(models.ProcessRequest{
		RequestID:  r.FormValue("requestId"),
		Mapping:    mapping,
		WebhookURL: r.FormValue("webhookUrl"),
		CSVContent: csvContent,
	})
	if err != nil {
		var inputErr *models.InputError
		if errors.As(err, &inputErr) {
			http.Error(w, inputErr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to accept submission", http.StatusInternalServerError)
		return
	}
	h.Log.Info("upload accepted",
		zap.String("request_id", ack.RequestID),
		zap.String("checksum", ack.Checksum))
	writeJSON(w, http.StatusAccepted, ack)
}

func (h *ReportService) GetDocument(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	id, err := strconv.Atoi(idStr)
	if err != nil || id <= 0 {
		http.Error(w, "Document id is required in the URL path /api/documents/{id}", http.StatusBadRequest)
		return
	}

	doc, err := h.DBManager.GetDocumentByID(id)
	if err != nil {
		http.Error(w, "Failed to retrieve document", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// LatestXML serves the raw content of the latest valid document.
func (h *ReportService) LatestXML(w http.ResponseWriter, r *http.Request) {
	doc, err := h.DBManager.GetLatestOK()
	if err != nil {
		http.Error(w, "Failed to retrieve latest document", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "No valid document available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, doc.XMLContent)
}

func (h *ReportService) LatestAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Analytics.ListAssets()
	if err != nil {
		http.Error(w, "Failed to expand latest document", http.StatusInternalServerError)
		return
	}
	if assets == nil {
		assets = []models.AssetDetail{}
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *ReportService) PathQuery(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("expr")
	filters := models.QueryFilters{
		StartDate: r.URL.Query().Get("data_inicio"),
		EndDate:   r.URL.Query().Get("data_fim"),
		Status:    r.URL.Query().Get("status"),
	}

	results, err := h.Query.Query(expr, filters)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *ReportService) Aggregate(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("expr")
	if strings.TrimSpace(expr) == "" {
		http.Error(w, "Query parameter 'expr' is required", http.StatusBadRequest)
		return
	}
	result := h.Query.Aggregate(expr, r.URL.Query().Get("func"))
	writeJSON(w, http.StatusOK, result)
}

func (h *ReportService) TopMarketCap(w http.ResponseWriter, r *http.Request) {
	results, err := h.Analytics.TopByMarketCap(
		intQueryParam(r, "limit", 10), r.URL.Query().Get("tipo"))
	if err != nil {
		http.Error(w, "Failed to rank assets", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *ReportService) StatsByType(w http.ResponseWriter, r *http.Request) {
	results, err := h.Analytics.GroupedStats()
	if err != nil {
		http.Error(w, "Failed to compute grouped stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *ReportService) Movers(w http.ResponseWriter, r *http.Request) {
	results, err := h.Analytics.Movers(
		intQueryParam(r, "limit", 10), r.URL.Query().Get("direction"))
	if err != nil {
		http.Error(w, "Failed to rank movers", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func intQueryParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
