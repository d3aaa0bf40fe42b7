package domain

import (
	"strconv"
	"strings"
)

// CellOutcome records what happened to a cell during an accuracy run.
type CellOutcome int

// Cell outcomes.
const (
	// OutcomeNotEvaluated is the state of a selected cell before evaluation.
	OutcomeNotEvaluated CellOutcome = iota
	// OutcomeNoReference marks a cell without reference data near it.
	OutcomeNoReference
	// OutcomeNoSolution marks a cell whose tolerance exceeds the upper bound.
	OutcomeNoSolution
	// OutcomeSolved marks a cell with a tolerance value.
	OutcomeSolved
	// OutcomeMeasured marks a cell evaluated against fixed thresholds.
	OutcomeMeasured
)

// String returns the persisted STATUS value.
func (o CellOutcome) String() string {
	switch o {
	case OutcomeNoReference:
		return "no_reference"
	case OutcomeNoSolution:
		return "no_solution"
	case OutcomeSolved:
		return "solved"
	case OutcomeMeasured:
		return "measured"
	default:
		return "not_evaluated"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o CellOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Threshold is a fixed buffer distance of the threshold evaluation mode.
// Label keeps the user's spelling so column names stay recognisable.
type Threshold struct {
	Label string
	Value float64
}

// NewThreshold builds a threshold labelled with the shortest decimal form.
func NewThreshold(v float64) Threshold {
	return Threshold{Label: strconv.FormatFloat(v, 'f', -1, 64), Value: v}
}

// LengthColumn is the attribute holding the covered length.
func (t Threshold) LengthColumn() string {
	return "t_" + t.Label
}

// PercentColumn is the attribute holding the covered percentage.
func (t Threshold) PercentColumn() string {
	return "p_" + t.Label
}

// ThresholdCoverage is the coverage of a cell at one threshold.
type ThresholdCoverage struct {
	Threshold Threshold
	Length    float64
	Percent   float64
}

// Cell is one spatial partition unit of the analysis region.
type Cell struct {
	ID              int64
	Extent          Extent
	CandidateLength float64
	Outcome         CellOutcome
	Tolerance       float64
	Coverages       []ThresholdCoverage
}

// Evaluated reports whether the cell has been processed.
func (c Cell) Evaluated() bool {
	return c.Outcome != OutcomeNotEvaluated
}

// Attribute column names of the grid output dataset.
const (
	ColumnCat       = "cat"
	ColumnCandidate = "OSM"
	ColumnTolerance = "TOL"
	ColumnStatus    = "STATUS"
)

// EvaluationMode selects how cells are evaluated.
type EvaluationMode int

// Evaluation modes.
const (
	ModeTolerance EvaluationMode = iota
	ModeThreshold
)

// String returns the mode name.
func (m EvaluationMode) String() string {
	if m == ModeThreshold {
		return "threshold"
	}
	return "tolerance"
}

// MarshalText implements encoding.TextMarshaler.
func (m EvaluationMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Column describes one attribute of the grid output dataset.
type Column struct {
	Name string
	Text bool
}

// CellLayout describes the attribute table of the grid output dataset.
type CellLayout struct {
	Mode       EvaluationMode
	Thresholds []Threshold
}

// Columns returns the attribute columns after cat and geometry.
func (l CellLayout) Columns() []Column {
	cols := []Column{{Name: ColumnCandidate}}
	if l.Mode == ModeThreshold {
		for _, t := range l.Thresholds {
			cols = append(cols, Column{Name: t.LengthColumn()}, Column{Name: t.PercentColumn()})
		}
	} else {
		cols = append(cols, Column{Name: ColumnTolerance})
	}
	return append(cols, Column{Name: ColumnStatus, Text: true})
}

// Value returns the cell's value for column, or nil when the attribute is
// unset. A nil value is persisted as NULL.
func (c Cell) Value(column string) any {
	switch column {
	case ColumnStatus:
		return c.Outcome.String()
	case ColumnCandidate:
		if !c.Evaluated() {
			return nil
		}
		return c.CandidateLength
	case ColumnTolerance:
		if c.Outcome != OutcomeSolved {
			return nil
		}
		return c.Tolerance
	}
	if c.Outcome != OutcomeMeasured {
		return nil
	}
	for _, cov := range c.Coverages {
		switch {
		case strings.EqualFold(column, cov.Threshold.LengthColumn()):
			return cov.Length
		case strings.EqualFold(column, cov.Threshold.PercentColumn()):
			return cov.Percent
		}
	}
	return nil
}
