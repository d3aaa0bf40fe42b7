package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/jobrunner/osmacc/internal/adapters/report"
	"github.com/jobrunner/osmacc/internal/domain"
)

// maxBodyBytes bounds request bodies. Requests only name datasets.
const maxBodyBytes = 1 << 20

// SweepParams is the body of a sweep request.
type SweepParams struct {
	OSM     string    `json:"osm"`
	Ref     string    `json:"ref"`
	ROI     string    `json:"roi,omitempty"`
	Buffers []float64 `json:"buffers"`
	Workers int       `json:"nprocs,omitempty"`
}

// AccuracyParams is the body of an accuracy request. Tolerances are
// either a list of thresholds or an upper bound for the tolerance search.
type AccuracyParams struct {
	OSM     string   `json:"osm"`
	Ref     string   `json:"ref"`
	Grid    string   `json:"grid,omitempty"`
	ULGrid  string   `json:"ul_grid,omitempty"`
	LRGrid  string   `json:"lr_grid,omitempty"`
	BoxGrid string   `json:"box_grid,omitempty"`
	Output  string   `json:"output"`
	TolEval []string `json:"tol_eval,omitempty"`
	TolMax  float64  `json:"tol_max,omitempty"`
	Perc    *float64 `json:"perc,omitempty"`
	Workers int      `json:"nprocs,omitempty"`
}

// handleHealth reports whether the geometry engine answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.inspector.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetDataset returns length and extent of a dataset.
func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	info, err := s.inspector.Describe(r.Context(), domain.Dataset(name))
	if err != nil {
		s.handleRunError(w, "describe", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":         info.Name,
		"total_length": info.TotalLength,
		"extent": map[string]interface{}{
			"min_x": info.Extent.MinX,
			"min_y": info.Extent.MinY,
			"max_x": info.Extent.MaxX,
			"max_y": info.Extent.MaxY,
			"srid":  info.Extent.SRID,
		},
	})
}

// handleSweep runs a buffer sweep and returns the report. The format query
// parameter selects json (default), yaml or text.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	format := report.FormatJSON
	if f := r.URL.Query().Get("format"); f != "" {
		parsed, err := report.ParseFormat(f)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = parsed
	}

	var params SweepParams
	if err := s.decodeBody(w, r, &params); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := domain.SweepRequest{
		Candidate: domain.Dataset(params.OSM),
		Reference: domain.Dataset(params.Ref),
		Region:    domain.Dataset(params.ROI),
		Distances: params.Buffers,
		Workers:   s.workers(params.Workers),
	}

	rep, err := s.sweeps.Run(r.Context(), req)
	if err != nil {
		s.handleRunError(w, "sweep", err)
		return
	}

	var buf bytes.Buffer
	if err := report.Encode(&buf, format, rep); err != nil {
		s.logger.Error("encoding sweep report", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to encode report")
		return
	}
	w.Header().Set("Content-Type", contentType(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleAccuracy runs a cell-wise accuracy assessment.
func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var params AccuracyParams
	if err := s.decodeBody(w, r, &params); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, warnings, err := s.accuracyRequest(&params)
	if err != nil {
		s.handleRunError(w, "accuracy", err)
		return
	}
	for _, warning := range warnings {
		s.logger.Warn(warning, "output", req.Output)
	}

	result, err := s.accuracy.Run(r.Context(), req)
	if err != nil {
		s.handleRunError(w, "accuracy", err)
		return
	}

	cells := make([]map[string]interface{}, len(result.Cells))
	for i := range result.Cells {
		cells[i] = formatCell(&result.Cells[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"output":   result.Output,
		"mode":     result.Mode,
		"cells":    cells,
		"count":    len(cells),
		"warnings": warnings,
		"outcomes": map[string]int{
			domain.OutcomeSolved.String():      result.Count(domain.OutcomeSolved),
			domain.OutcomeNoSolution.String():  result.Count(domain.OutcomeNoSolution),
			domain.OutcomeNoReference.String(): result.Count(domain.OutcomeNoReference),
			domain.OutcomeMeasured.String():    result.Count(domain.OutcomeMeasured),
		},
	})
}

// accuracyRequest maps the request body onto the domain request.
func (s *Server) accuracyRequest(p *AccuracyParams) (domain.AccuracyRequest, []string, error) {
	grid, warnings, err := domain.ParseGridSource(p.Grid, p.ULGrid, p.LRGrid, p.BoxGrid)
	if err != nil {
		return domain.AccuracyRequest{}, nil, err
	}

	thresholds, err := domain.ParseThresholds(strings.Join(p.TolEval, ","))
	if err != nil {
		return domain.AccuracyRequest{}, nil, err
	}

	percent := s.defaults.Percent
	if p.Perc != nil {
		percent = *p.Perc
	}

	return domain.AccuracyRequest{
		Candidate:  domain.Dataset(p.OSM),
		Reference:  domain.Dataset(p.Ref),
		Grid:       grid,
		Output:     domain.Dataset(p.Output),
		Thresholds: thresholds,
		UpperBound: p.TolMax,
		Percent:    percent,
		Workers:    s.workers(p.Workers),
	}, warnings, nil
}

func (s *Server) workers(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.defaults.Workers
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

// formatCell formats a cell for JSON output.
func formatCell(c *domain.Cell) map[string]interface{} {
	out := map[string]interface{}{
		"id":     c.ID,
		"status": c.Outcome.String(),
		"extent": map[string]interface{}{
			"min_x": c.Extent.MinX,
			"min_y": c.Extent.MinY,
			"max_x": c.Extent.MaxX,
			"max_y": c.Extent.MaxY,
		},
	}
	if c.Evaluated() {
		out["osm_length"] = c.CandidateLength
	}
	if c.Outcome == domain.OutcomeSolved {
		out["tolerance"] = c.Tolerance
	}
	if len(c.Coverages) > 0 {
		coverages := make([]map[string]interface{}, len(c.Coverages))
		for i, cov := range c.Coverages {
			coverages[i] = map[string]interface{}{
				"threshold": cov.Threshold.Label,
				"length":    cov.Length,
				"percent":   cov.Percent,
			}
		}
		out["coverages"] = coverages
	}
	return out
}

// handleOpenAPI returns the OpenAPI specification as JSON.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := openAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// handleOpenAPIYAML returns the OpenAPI specification as written.
func (s *Server) handleOpenAPIYAML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPIYAML)
}

// handleRunError maps domain errors to HTTP status codes.
func (s *Server) handleRunError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
		s.writeError(w, status, op+" failed")
		return
	}
	s.writeError(w, status, err.Error())
}

// statusFor returns the HTTP status for a domain error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func contentType(f report.Format) string {
	switch f {
	case report.FormatText:
		return "text/plain; charset=utf-8"
	case report.FormatYAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
