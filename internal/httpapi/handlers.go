package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/ingest"
	"github.com/sells-group/geobatch/internal/store"
	"github.com/sells-group/geobatch/pkg/geocode"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  eris.ToString(err, false),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// geocodeRequest is the body of POST /v1/geocode: the semantic address
// fields plus an optional run mode.
type geocodeRequest struct {
	Name        string `json:"name,omitempty"`
	Street      string `json:"street,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	City        string `json:"city,omitempty"`
	Governorate string `json:"governorate,omitempty"`
	Country     string `json:"country,omitempty"`
	Complement  string `json:"complement,omitempty"`
	FullAddress string `json:"full_address,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

func (q geocodeRequest) fields() geocode.Fields {
	return geocode.Fields{
		Name:        q.Name,
		Street:      q.Street,
		PostalCode:  q.PostalCode,
		City:        q.City,
		Governorate: q.Governorate,
		Country:     q.Country,
		Complement:  q.Complement,
		FullAddress: q.FullAddress,
	}
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	var req geocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	fields := req.fields()
	if fields.Empty() {
		writeError(w, http.StatusBadRequest, "no address fields provided")
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.ToString(err, false))
		return
	}

	engine := s.newEngine(mode)
	result := engine.GeocodeRow(r.Context(), fields, 0)
	writeJSON(w, http.StatusOK, result)
}

// jobRequest is the body of POST /v1/jobs. Mapping is optional: when absent
// the column names of the submitted rows are matched against the known
// header synonyms.
type jobRequest struct {
	Rows      []geocode.Row         `json:"rows"`
	Mapping   *geocode.FieldMapping `json:"mapping,omitempty"`
	Mode      string                `json:"mode,omitempty"`
	Workers   int                   `json:"workers,omitempty"`
	BatchSize int                   `json:"batch_size,omitempty"`
}

// jobResponse pairs the sealed record with its per-row results.
type jobResponse struct {
	Job     *geocode.JobRecord `json:"job"`
	Results []geocode.Result   `json:"results"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "rows must not be empty")
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.ToString(err, false))
		return
	}

	var explicit geocode.FieldMapping
	if req.Mapping != nil {
		explicit = *req.Mapping
	}
	mapping := ingest.ResolveMapping(explicit, rowColumns(req.Rows))
	if mapping.IsZero() {
		writeError(w, http.StatusBadRequest, "no recognizable address columns; provide a mapping")
		return
	}

	workers := req.Workers
	if workers <= 0 {
		workers = s.cfg.Geocode.Workers
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.Geocode.BatchSize
	}

	rec := geocode.OpenJob(geocode.NewJobID(), mode, len(req.Rows))
	sched := &geocode.Scheduler{
		Engine:    s.newEngine(mode),
		BatchSize: batchSize,
		Workers:   workers,
	}
	results := sched.Run(r.Context(), mapping, req.Rows)
	geocode.FinalizeJob(rec, results)

	if s.store != nil {
		if err := s.store.SaveJob(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, eris.ToString(err, false))
			return
		}
		if err := s.store.SaveResults(r.Context(), rec.JobID, results); err != nil {
			writeError(w, http.StatusInternalServerError, eris.ToString(err, false))
			return
		}
	}

	zap.L().Info("httpapi: job complete",
		zap.String("job_id", rec.JobID),
		zap.Int("rows", rec.TotalRows),
		zap.Int("ok", rec.SuccessCount),
		zap.Int("failed", rec.FailedCount),
	)
	writeJSON(w, http.StatusOK, jobResponse{Job: rec, Results: results})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}

	filter := store.JobFilter{}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = geocode.JobStatus(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, eris.ToString(err, false))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	jobID := chi.URLParam(r, "id")

	rec, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found: "+jobID)
			return
		}
		writeError(w, http.StatusInternalServerError, eris.ToString(err, false))
		return
	}
	results, err := s.store.GetResults(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, eris.ToString(err, false))
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: rec, Results: results})
}

// newEngine assembles a fresh engine for one request. Cache and quota
// suppression are job-scoped, so engines are never shared across requests.
func (s *Server) newEngine(mode geocode.RunMode) *geocode.Engine {
	cache, _ := geocode.NewCache(s.cfg.Geocode.CacheCapacity) //nolint:errcheck // validated at config load
	return geocode.NewEngine(
		geocode.OrderForMode(mode, s.registry.All()),
		cache,
		geocode.BuildLimiters(s.cfg.Geocode.OSMRatePerSec),
	)
}

func parseMode(s string) (geocode.RunMode, error) {
	if s == "" {
		return geocode.ModeMulti, nil
	}
	return geocode.ParseRunMode(s)
}

// rowColumns returns the sorted union of column names across rows.
func rowColumns(rows []geocode.Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols
}
