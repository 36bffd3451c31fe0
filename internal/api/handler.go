package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/ringwatch/internal/analysis"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/ingest"
	"github.com/opensource-finance/ringwatch/internal/rules"
)

// uploadField is the multipart field carrying the CSV files.
const uploadField = "files"

// Handler holds dependencies for API handlers.
type Handler struct {
	service   *analysis.Service
	repo      domain.ReportRepository
	cache     domain.Cache
	bus       domain.EventBus
	rules     *rules.Engine
	logger    *slog.Logger
	version   string
	maxUpload int64
}

// NewHandler creates a new API handler.
func NewHandler(cfg domain.ServerConfig, deps Deps) *Handler {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:   deps.Service,
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		rules:     deps.Rules,
		logger:    logger,
		version:   deps.Version,
		maxUpload: maxUpload,
	}
}

// FileEntry is one item of the stored report listing.
type FileEntry struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
}

// JobEntry is one accepted async job.
type JobEntry struct {
	JobID    string `json:"job_id"`
	FileName string `json:"file_name"`
}

// UploadFiles handles POST /input/files. Every file is validated before
// any is analyzed; the response maps each file name to its result.
func (h *Handler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	uploads, ok := h.readUploads(w, r)
	if !ok {
		return
	}

	results, err := h.service.AnalyzeFiles(r.Context(), uploads)
	if err != nil {
		h.writeAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, results)
}

// UploadFilesAsync handles POST /input/files/async. Files are queued on the
// event bus and the response lists the job ids.
func (h *Handler) UploadFilesAsync(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "async analysis is not available")
		return
	}

	uploads, ok := h.readUploads(w, r)
	if !ok {
		return
	}

	jobs := make([]JobEntry, 0, len(uploads))
	for _, u := range uploads {
		jobID, err := h.service.Submit(r.Context(), u.Name, u.Content)
		if err != nil {
			h.logger.Error("failed to queue analysis", "file", u.Name, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue "+u.Name)
			return
		}
		jobs = append(jobs, JobEntry{JobID: jobID, FileName: u.Name})
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobs": jobs,
	})
}

// readUploads parses the multipart body and checks every file name before
// any analysis starts. It writes the error response itself on failure.
func (h *Handler) readUploads(w http.ResponseWriter, r *http.Request) ([]analysis.Upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return nil, false
		}
		if errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "No files uploaded")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No files uploaded")
		return nil, false
	}

	for _, fh := range headers {
		if !ingest.IsCSV(fh.Filename) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is not a csv file", fh.Filename))
			return nil, false
		}
	}

	uploads := make([]analysis.Upload, 0, len(headers))
	for _, fh := range headers {
		content, err := readPart(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid CSV file %s: %v", fh.Filename, err))
			return nil, false
		}
		uploads = append(uploads, analysis.Upload{Name: fh.Filename, Content: content})
	}
	return uploads, true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// writeAnalysisError maps analysis failures to HTTP statuses. Input
// problems are 400 and name the file; everything else is 500.
func (h *Handler) writeAnalysisError(w http.ResponseWriter, err error) {
	var schemaErr *domain.SchemaValidationError
	switch {
	case errors.As(err, &schemaErr),
		errors.Is(err, domain.ErrEmptyInput),
		errors.Is(err, domain.ErrUnsupportedFile):
		writeError(w, http.StatusBadRequest, "Invalid CSV file "+err.Error())
	default:
		h.logger.Error("analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
	}
}

// ListFiles handles GET /show/output/files.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files := []FileEntry{}
	if h.repo == nil {
		writeJSON(w, http.StatusOK, map[string]any{"files": files})
		return
	}

	infos, err := h.repo.ListReports(r.Context())
	if err != nil {
		h.logger.Error("failed to list reports", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"files": files,
			"error": err.Error(),
		})
		return
	}

	for _, info := range infos {
		fileName := info.Name + ".json"
		files = append(files, FileEntry{
			Name:        fileName,
			DownloadURL: "/download/" + fileName,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// Download handles GET /download/{name}. The name may be given with or
// without its ".json" extension.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		writeError(w, http.StatusBadRequest, "Invalid filename")
		return
	}
	name = strings.TrimSuffix(name, ".json")
	fileName := name + ".json"

	if h.repo == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("File '%s' not found", fileName))
		return
	}

	stored, err := h.repo.GetReport(r.Context(), name)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("File '%s' not found", fileName))
		return
	}
	if err != nil {
		h.logger.Error("failed to load report", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}

	body, err := json.MarshalIndent(stored.Report, "", "    ")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode report")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	if h.repo != nil {
		checks["repository"] = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
			checks["repository"] = err.Error()
		}
	}
	if h.cache != nil {
		checks["cache"] = "ok"
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
			checks["cache"] = err.Error()
		}
	}
	if h.bus != nil {
		checks["eventBus"] = "ok"
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
			checks["eventBus"] = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns the reason rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := []domain.ReasonRule{}
	if h.rules != nil {
		loaded = h.rules.GetLoadedRules()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// ValidateRule compiles a reason rule without loading it.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var req domain.ReasonRule
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if h.rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}
	if err := h.rules.ValidateRule(req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"valid":  false,
			"detail": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes the {"detail": msg} error body the upload frontend reads.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
