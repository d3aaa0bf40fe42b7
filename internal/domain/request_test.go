package domain

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestParseGridSource(t *testing.T) {
	tests := []struct {
		name         string
		grid         string
		ul, lr, box  string
		wantKind     GridKind
		wantWarnings int
		wantErr      bool
	}{
		{name: "whole region", wantKind: GridWholeRegion},
		{name: "prebuilt", grid: "grid_1km", wantKind: GridPrebuilt},
		{name: "prebuilt wins with warning", grid: "grid_1km", ul: "0,10", wantKind: GridPrebuilt, wantWarnings: 1},
		{name: "generated", ul: "0,100", lr: "200,0", box: "50,50", wantKind: GridGenerated},
		{name: "partial corners", ul: "0,100", lr: "200,0", wantErr: true},
		{name: "only box", box: "50,50", wantErr: true},
		{name: "malformed corner", ul: "0;100", lr: "200,0", box: "50,50", wantErr: true},
		{name: "inverted corners", ul: "200,0", lr: "0,100", box: "50,50", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings, err := ParseGridSource(tt.grid, tt.ul, tt.lr, tt.box)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGridSource() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("error %v should be ErrInvalidInput", err)
				}
				return
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if len(warnings) != tt.wantWarnings {
				t.Errorf("warnings = %v, want %d", warnings, tt.wantWarnings)
			}
		})
	}
}

func TestParseGridSource_CornerOrder(t *testing.T) {
	got, _, err := ParseGridSource("", "10,100", "60,20", "5,4")
	if err != nil {
		t.Fatalf("ParseGridSource() error = %v", err)
	}
	want := GridSpec{North: 100, West: 10, South: 20, East: 60, EWRes: 5, NSRes: 4}
	if got.Spec != want {
		t.Errorf("Spec = %+v, want %+v", got.Spec, want)
	}
}

func validAccuracyRequest() AccuracyRequest {
	return AccuracyRequest{
		Candidate:  "osm",
		Reference:  "ref",
		Output:     "acc_grid",
		UpperBound: 10,
		Percent:    100,
	}
}

func TestAccuracyRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(r *AccuracyRequest)
		wantErr string // field of the expected ConfigError
	}{
		{name: "valid tolerance", modify: func(*AccuracyRequest) {}},
		{name: "valid thresholds", modify: func(r *AccuracyRequest) {
			r.UpperBound = 0
			r.Thresholds = []Threshold{{Label: "1", Value: 1}}
		}},
		{name: "missing candidate", modify: func(r *AccuracyRequest) { r.Candidate = "" }, wantErr: "osm"},
		{name: "missing reference", modify: func(r *AccuracyRequest) { r.Reference = " " }, wantErr: "ref"},
		{name: "missing output", modify: func(r *AccuracyRequest) { r.Output = "" }, wantErr: "output"},
		{name: "both modes", modify: func(r *AccuracyRequest) {
			r.Thresholds = []Threshold{{Label: "1", Value: 1}}
		}, wantErr: "tol_eval"},
		{name: "neither mode", modify: func(r *AccuracyRequest) { r.UpperBound = 0 }, wantErr: "tol_eval"},
		{name: "negative upper bound", modify: func(r *AccuracyRequest) { r.UpperBound = -1 }, wantErr: "tol_max"},
		{name: "NaN upper bound", modify: func(r *AccuracyRequest) { r.UpperBound = math.NaN() }, wantErr: "tol_max"},
		{name: "infinite upper bound", modify: func(r *AccuracyRequest) { r.UpperBound = math.Inf(1) }, wantErr: "tol_max"},
		{name: "percent above 100", modify: func(r *AccuracyRequest) { r.Percent = 120 }, wantErr: "perc"},
		{name: "NaN percent", modify: func(r *AccuracyRequest) { r.Percent = math.NaN() }, wantErr: "perc"},
		{name: "NaN threshold", modify: func(r *AccuracyRequest) {
			r.UpperBound = 0
			r.Thresholds = []Threshold{{Label: "NaN", Value: math.NaN()}}
		}, wantErr: "tol_eval"},
		{name: "NaN grid cell size", modify: func(r *AccuracyRequest) {
			r.Grid = GridSource{Kind: GridGenerated, Spec: GridSpec{North: 1, East: 1, EWRes: math.NaN(), NSRes: 1}}
		}, wantErr: "box_grid"},
		{name: "duplicate thresholds", modify: func(r *AccuracyRequest) {
			r.UpperBound = 0
			r.Thresholds = []Threshold{{Label: "1", Value: 1}, {Label: "1", Value: 1}}
		}, wantErr: "tol_eval"},
		{name: "bad generated grid", modify: func(r *AccuracyRequest) {
			r.Grid = GridSource{Kind: GridGenerated, Spec: GridSpec{North: 1, East: 1}}
		}, wantErr: "box_grid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validAccuracyRequest()
			tt.modify(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want ConfigError", err)
			}
			if cfgErr.Field != tt.wantErr {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantErr)
			}
		})
	}
}

func TestAccuracyRequest_Mode(t *testing.T) {
	req := validAccuracyRequest()
	if req.Mode() != ModeTolerance {
		t.Errorf("Mode() = %v, want tolerance", req.Mode())
	}
	req.Thresholds = []Threshold{{Label: "2", Value: 2}}
	if req.Mode() != ModeThreshold {
		t.Errorf("Mode() = %v, want threshold", req.Mode())
	}
}

func TestSweepRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SweepRequest
		wantErr bool
	}{
		{"valid", SweepRequest{Candidate: "osm", Reference: "ref", Distances: []float64{1, 2, 5}}, false},
		{"zero distance allowed", SweepRequest{Candidate: "osm", Reference: "ref", Distances: []float64{0}}, false},
		{"no distances", SweepRequest{Candidate: "osm", Reference: "ref"}, true},
		{"negative distance", SweepRequest{Candidate: "osm", Reference: "ref", Distances: []float64{-1}}, true},
		{"NaN distance", SweepRequest{Candidate: "osm", Reference: "ref", Distances: []float64{math.NaN()}}, true},
		{"infinite distance", SweepRequest{Candidate: "osm", Reference: "ref", Distances: []float64{math.Inf(1)}}, true},
		{"missing reference", SweepRequest{Candidate: "osm", Distances: []float64{1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseFloatList(t *testing.T) {
	got, err := ParseFloatList(" 1, 2.5 ,5,")
	if err != nil {
		t.Fatalf("ParseFloatList() error = %v", err)
	}
	if want := []float64{1, 2.5, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("ParseFloatList() = %v, want %v", got, want)
	}
	if _, err := ParseFloatList("1,x"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ParseFloatList(1,x) error = %v, want ErrInvalidInput", err)
	}
}

func TestParseThresholds_KeepsLabels(t *testing.T) {
	got, err := ParseThresholds("1,2.50")
	if err != nil {
		t.Fatalf("ParseThresholds() error = %v", err)
	}
	want := []Threshold{{Label: "1", Value: 1}, {Label: "2.50", Value: 2.5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseThresholds() = %v, want %v", got, want)
	}
}

func TestParse_RejectsNonFinite(t *testing.T) {
	for _, in := range []string{"NaN", "nan", "Inf", "+Inf", "-inf", "1,NaN"} {
		t.Run(in, func(t *testing.T) {
			if _, err := ParseFloatList(in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ParseFloatList(%q) error = %v, want ErrInvalidInput", in, err)
			}
			if _, err := ParseThresholds(in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ParseThresholds(%q) error = %v, want ErrInvalidInput", in, err)
			}
		})
	}
	if _, _, err := ParsePair("NaN,5"); err == nil {
		t.Error("ParsePair(NaN,5) error = nil, want error")
	}
}
