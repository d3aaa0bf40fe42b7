package domain

// CoverageResult splits a subject's length by a buffer around a reference.
type CoverageResult struct {
	Inside  float64
	Outside float64
}

// Total returns the measured subject length.
func (r CoverageResult) Total() float64 {
	return r.Inside + r.Outside
}

// IndexedDistance is a buffer distance tagged with its input position.
type IndexedDistance struct {
	Index    int
	Distance float64
}

// IndexDistances tags each distance with its position in the input list.
func IndexDistances(distances []float64) []IndexedDistance {
	out := make([]IndexedDistance, len(distances))
	for i, d := range distances {
		out[i] = IndexedDistance{Index: i, Distance: d}
	}
	return out
}

// BufferStats holds both coverage directions for one buffer distance.
// Candidate is the OSM length around the reference, Reference the REF
// length around the candidate.
type BufferStats struct {
	IndexedDistance
	Candidate CoverageResult
	Reference CoverageResult
}

// SweepRow is one line of the sweep report.
type SweepRow struct {
	Distance  float64 `json:"buffer" yaml:"buffer"`
	OSMIn     float64 `json:"osm_in" yaml:"osm_in"`
	OSMInPct  float64 `json:"osm_in_pct" yaml:"osm_in_pct"`
	OSMOut    float64 `json:"osm_out" yaml:"osm_out"`
	OSMOutPct float64 `json:"osm_out_pct" yaml:"osm_out_pct"`
	RefIn     float64 `json:"ref_in" yaml:"ref_in"`
	RefInPct  float64 `json:"ref_in_pct" yaml:"ref_in_pct"`
	RefOut    float64 `json:"ref_out" yaml:"ref_out"`
	RefOutPct float64 `json:"ref_out_pct" yaml:"ref_out_pct"`
}

// SweepReport is the result of a buffer sweep.
type SweepReport struct {
	ReferenceLength float64    `json:"ref_length" yaml:"ref_length"`
	CandidateLength float64    `json:"osm_length" yaml:"osm_length"`
	Difference      float64    `json:"difference" yaml:"difference"`
	DifferencePct   float64    `json:"difference_pct" yaml:"difference_pct"`
	Rows            []SweepRow `json:"rows" yaml:"rows"`
}

// NewSweepReport builds the report rows in the order of stats.
func NewSweepReport(candidate, reference LineDataset, stats []BufferStats) *SweepReport {
	report := &SweepReport{
		ReferenceLength: reference.TotalLength,
		CandidateLength: candidate.TotalLength,
		Difference:      reference.TotalLength - candidate.TotalLength,
		DifferencePct:   percent(reference.TotalLength-candidate.TotalLength, reference.TotalLength),
		Rows:            make([]SweepRow, 0, len(stats)),
	}
	for _, s := range stats {
		report.Rows = append(report.Rows, SweepRow{
			Distance:  s.Distance,
			OSMIn:     s.Candidate.Inside,
			OSMInPct:  percent(s.Candidate.Inside, candidate.TotalLength),
			OSMOut:    s.Candidate.Outside,
			OSMOutPct: percent(s.Candidate.Outside, candidate.TotalLength),
			RefIn:     s.Reference.Inside,
			RefInPct:  percent(s.Reference.Inside, reference.TotalLength),
			RefOut:    s.Reference.Outside,
			RefOutPct: percent(s.Reference.Outside, reference.TotalLength),
		})
	}
	return report
}

// Series returns the distances and the inside percentages of both
// datasets, the input of coverage charts.
func (r *SweepReport) Series() (distances, osmIn, refIn []float64) {
	for _, row := range r.Rows {
		distances = append(distances, row.Distance)
		osmIn = append(osmIn, row.OSMInPct)
		refIn = append(refIn, row.RefInPct)
	}
	return distances, osmIn, refIn
}

// Solution is the outcome of a tolerance search.
type Solution struct {
	Tolerance float64
	Found     bool
	Probes    int
}

// AccuracyResult is the outcome of a cell-wise accuracy run.
type AccuracyResult struct {
	Output Dataset        `json:"output"`
	Mode   EvaluationMode `json:"mode"`
	Cells  []Cell         `json:"cells"`
}

// Count returns how many cells ended with outcome.
func (r *AccuracyResult) Count(outcome CellOutcome) int {
	n := 0
	for _, c := range r.Cells {
		if c.Outcome == outcome {
			n++
		}
	}
	return n
}

// Percent returns part as a percentage of whole, 0 when whole is not positive.
func Percent(part, whole float64) float64 {
	return percent(part, whole)
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part * 100 / whole
}
