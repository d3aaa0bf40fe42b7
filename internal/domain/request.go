package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultEpsilon is the default tolerance search resolution.
const DefaultEpsilon = 0.005

// DefaultCellMargin is the fraction by which a cell's box grows before the
// reference dataset is clipped to it.
const DefaultCellMargin = 0.10

// SweepRequest describes a buffer-sweep run.
type SweepRequest struct {
	Candidate Dataset
	Reference Dataset
	Region    Dataset // optional region of interest polygons
	Distances []float64
	Output    string // report destination; empty skips writing
	Workers   int
}

// Validate checks the request without touching the geometry engine.
func (r SweepRequest) Validate() error {
	if r.Candidate.IsZero() {
		return &ConfigError{Field: "osm", Message: "candidate dataset is required"}
	}
	if r.Reference.IsZero() {
		return &ConfigError{Field: "ref", Message: "reference dataset is required"}
	}
	if len(r.Distances) == 0 {
		return &ConfigError{Field: "buffers", Message: "at least one buffer distance is required"}
	}
	for _, d := range r.Distances {
		if !isFinite(d) {
			return &ConfigError{Field: "buffers", Message: fmt.Sprintf("buffer distance %g is not a finite number", d)}
		}
		if d < 0 {
			return &ConfigError{Field: "buffers", Message: fmt.Sprintf("buffer distance %g is negative", d)}
		}
	}
	if r.Workers < 0 {
		return &ConfigError{Field: "nprocs", Message: "worker count must not be negative"}
	}
	return nil
}

// GridKind selects how the analysis region is partitioned.
type GridKind int

// Grid kinds.
const (
	GridWholeRegion GridKind = iota
	GridPrebuilt
	GridGenerated
)

// String returns the kind name.
func (k GridKind) String() string {
	switch k {
	case GridPrebuilt:
		return "prebuilt"
	case GridGenerated:
		return "generated"
	default:
		return "whole_region"
	}
}

// GridSource is a pre-built grid dataset, a generated grid, or one cell
// spanning the whole region.
type GridSource struct {
	Kind GridKind
	Name Dataset
	Spec GridSpec
}

// ParseGridSource resolves the grid parameters. A pre-built grid wins over
// generation parameters, which is reported as a warning. Generation
// parameters must be given together.
func ParseGridSource(grid, upperLeft, lowerRight, box string) (GridSource, []string, error) {
	var warnings []string
	grid = strings.TrimSpace(grid)
	given := 0
	for _, p := range []string{upperLeft, lowerRight, box} {
		if strings.TrimSpace(p) != "" {
			given++
		}
	}

	if grid != "" {
		if given > 0 {
			warnings = append(warnings, "grid dataset given, ul_grid, lr_grid and box_grid are ignored")
		}
		return GridSource{Kind: GridPrebuilt, Name: Dataset(grid)}, warnings, nil
	}
	if given == 0 {
		return GridSource{Kind: GridWholeRegion}, nil, nil
	}
	if given < 3 {
		return GridSource{}, nil, &ConfigError{
			Field:   "grid",
			Message: "ul_grid, lr_grid and box_grid must be given together",
		}
	}

	west, north, err := ParsePair(upperLeft)
	if err != nil {
		return GridSource{}, nil, &ConfigError{Field: "ul_grid", Message: err.Error()}
	}
	east, south, err := ParsePair(lowerRight)
	if err != nil {
		return GridSource{}, nil, &ConfigError{Field: "lr_grid", Message: err.Error()}
	}
	ewres, nsres, err := ParsePair(box)
	if err != nil {
		return GridSource{}, nil, &ConfigError{Field: "box_grid", Message: err.Error()}
	}
	spec := GridSpec{North: north, West: west, South: south, East: east, EWRes: ewres, NSRes: nsres}
	if err := spec.Validate(); err != nil {
		return GridSource{}, nil, err
	}
	return GridSource{Kind: GridGenerated, Spec: spec}, warnings, nil
}

// AccuracyRequest describes a cell-wise accuracy run.
type AccuracyRequest struct {
	Candidate  Dataset
	Reference  Dataset
	Grid       GridSource
	Output     Dataset
	Thresholds []Threshold // threshold mode
	UpperBound float64     // tolerance mode, 0 when unset
	Percent    float64     // share of the candidate length the tolerance must cover
	Workers    int
}

// Mode returns the evaluation mode implied by the request.
func (r AccuracyRequest) Mode() EvaluationMode {
	if len(r.Thresholds) > 0 {
		return ModeThreshold
	}
	return ModeTolerance
}

// Layout returns the attribute layout of the output dataset.
func (r AccuracyRequest) Layout() CellLayout {
	return CellLayout{Mode: r.Mode(), Thresholds: r.Thresholds}
}

// Validate checks the request without touching the geometry engine.
func (r AccuracyRequest) Validate() error {
	if r.Candidate.IsZero() {
		return &ConfigError{Field: "osm", Message: "candidate dataset is required"}
	}
	if r.Reference.IsZero() {
		return &ConfigError{Field: "ref", Message: "reference dataset is required"}
	}
	if r.Output.IsZero() {
		return &ConfigError{Field: "output", Message: "output dataset name is required"}
	}
	if r.Grid.Kind == GridPrebuilt && r.Grid.Name.IsZero() {
		return &ConfigError{Field: "grid", Message: "grid dataset name is empty"}
	}
	if r.Grid.Kind == GridGenerated {
		if err := r.Grid.Spec.Validate(); err != nil {
			return err
		}
	}

	hasThresholds := len(r.Thresholds) > 0
	hasUpper := r.UpperBound != 0
	switch {
	case hasThresholds && hasUpper:
		return &ConfigError{Field: "tol_eval", Message: "tol_eval and tol_max are mutually exclusive"}
	case !hasThresholds && !hasUpper:
		return &ConfigError{Field: "tol_eval", Message: "one of tol_eval or tol_max is required"}
	case hasUpper && (!(r.UpperBound > 0) || !isFinite(r.UpperBound)):
		return &ConfigError{Field: "tol_max", Message: "upper bound must be a positive finite number"}
	}
	seen := make(map[string]bool, len(r.Thresholds))
	for _, t := range r.Thresholds {
		if !isFinite(t.Value) {
			return &ConfigError{Field: "tol_eval", Message: fmt.Sprintf("threshold %s is not a finite number", t.Label)}
		}
		if t.Value < 0 {
			return &ConfigError{Field: "tol_eval", Message: fmt.Sprintf("threshold %s is negative", t.Label)}
		}
		if seen[t.Label] {
			return &ConfigError{Field: "tol_eval", Message: fmt.Sprintf("threshold %s is repeated", t.Label)}
		}
		seen[t.Label] = true
	}
	if !hasThresholds && !(r.Percent > 0 && r.Percent <= 100) {
		return &ConfigError{Field: "perc", Message: "percentage must be in (0, 100]"}
	}
	if r.Workers < 0 {
		return &ConfigError{Field: "nprocs", Message: "worker count must not be negative"}
	}
	return nil
}

// ParseFloatList parses a comma separated list of numbers.
func ParseFloatList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := parseNumber(part)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", part, ErrInvalidInput)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseThresholds parses a comma separated threshold list, keeping each
// value's spelling as its label.
func ParseThresholds(s string) ([]Threshold, error) {
	var out []Threshold
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := parseNumber(part)
		if err != nil {
			return nil, fmt.Errorf("parsing threshold %q: %w", part, ErrInvalidInput)
		}
		out = append(out, Threshold{Label: part, Value: v})
	}
	return out, nil
}

// ParsePair parses "a,b" into two numbers.
func ParsePair(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected two comma separated numbers, got %q", s)
	}
	a, err := parseNumber(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing %q: %w", parts[0], err)
	}
	b, err := parseNumber(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing %q: %w", parts[1], err)
	}
	return a, b, nil
}

// parseNumber parses a finite number; NaN and infinities are rejected.
func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if !isFinite(v) {
		return 0, fmt.Errorf("%s is not a finite number", strings.TrimSpace(s))
	}
	return v, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
