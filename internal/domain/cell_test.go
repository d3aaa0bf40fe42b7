package domain

import (
	"reflect"
	"testing"
)

func TestCellLayout_Columns(t *testing.T) {
	tests := []struct {
		name   string
		layout CellLayout
		want   []string
	}{
		{
			name:   "tolerance",
			layout: CellLayout{Mode: ModeTolerance},
			want:   []string{"OSM", "TOL", "STATUS"},
		},
		{
			name: "thresholds",
			layout: CellLayout{Mode: ModeThreshold, Thresholds: []Threshold{
				{Label: "1", Value: 1},
				{Label: "2.5", Value: 2.5},
			}},
			want: []string{"OSM", "t_1", "p_1", "t_2.5", "p_2.5", "STATUS"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, c := range tt.layout.Columns() {
				got = append(got, c.Name)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Columns() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCell_Value(t *testing.T) {
	threshold := Threshold{Label: "5", Value: 5}

	tests := []struct {
		name   string
		cell   Cell
		column string
		want   any
	}{
		{"not evaluated has no length", Cell{ID: 1}, ColumnCandidate, nil},
		{"not evaluated status", Cell{ID: 1}, ColumnStatus, "not_evaluated"},
		{"solved tolerance", Cell{Outcome: OutcomeSolved, Tolerance: 3.25, CandidateLength: 80}, ColumnTolerance, 3.25},
		{"solved length", Cell{Outcome: OutcomeSolved, Tolerance: 3.25, CandidateLength: 80}, ColumnCandidate, 80.0},
		{"no solution leaves tolerance unset", Cell{Outcome: OutcomeNoSolution, CandidateLength: 80}, ColumnTolerance, nil},
		{"no solution status", Cell{Outcome: OutcomeNoSolution}, ColumnStatus, "no_solution"},
		{
			name: "measured length",
			cell: Cell{Outcome: OutcomeMeasured, Coverages: []ThresholdCoverage{
				{Threshold: threshold, Length: 40, Percent: 50},
			}},
			column: "t_5",
			want:   40.0,
		},
		{
			name: "measured percent",
			cell: Cell{Outcome: OutcomeMeasured, Coverages: []ThresholdCoverage{
				{Threshold: threshold, Length: 40, Percent: 50},
			}},
			column: "p_5",
			want:   50.0,
		},
		{
			name:   "no reference leaves thresholds unset",
			cell:   Cell{Outcome: OutcomeNoReference, CandidateLength: 10},
			column: "t_5",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cell.Value(tt.column); got != tt.want {
				t.Errorf("Value(%q) = %v, want %v", tt.column, got, tt.want)
			}
		})
	}
}

func TestNewThreshold(t *testing.T) {
	tests := []struct {
		value float64
		label string
	}{
		{5, "5"},
		{2.5, "2.5"},
		{0.25, "0.25"},
	}

	for _, tt := range tests {
		if got := NewThreshold(tt.value).Label; got != tt.label {
			t.Errorf("NewThreshold(%v).Label = %q, want %q", tt.value, got, tt.label)
		}
	}
}
