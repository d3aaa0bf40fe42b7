package application

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/jobrunner/osmacc/internal/domain"
)

// stepProbe covers total once the radius reaches at, and a proportional
// share below it.
func stepProbe(at, total float64) Probe {
	return func(_ context.Context, r float64) (float64, error) {
		if r >= at {
			return total, nil
		}
		return total * r / (2 * at), nil
	}
}

// linearProbe covers slope*r, capped at total.
func linearProbe(slope, total float64) Probe {
	return func(_ context.Context, r float64) (float64, error) {
		return math.Min(slope*r, total), nil
	}
}

func TestToleranceSolver_Solve(t *testing.T) {
	tests := []struct {
		name      string
		probe     Probe
		target    float64
		upper     float64
		epsilon   float64
		wantFound bool
		want      float64
	}{
		{
			name:      "full containment at 5",
			probe:     stepProbe(5, 1000),
			target:    1000,
			upper:     10,
			epsilon:   0.5,
			wantFound: true,
			want:      5,
		},
		{
			name:      "linear coverage",
			probe:     linearProbe(100, 1000),
			target:    500,
			upper:     10,
			epsilon:   0.005,
			wantFound: true,
			want:      5,
		},
		{
			name:      "target beyond upper bound",
			probe:     linearProbe(100, 1000),
			target:    1200,
			upper:     10,
			epsilon:   0.005,
			wantFound: false,
		},
		{
			name:      "reached exactly at upper bound",
			probe:     stepProbe(10, 1000),
			target:    1000,
			upper:     10,
			epsilon:   0.005,
			wantFound: true,
			want:      10,
		},
		{
			name:      "zero target",
			probe:     linearProbe(100, 1000),
			target:    0,
			upper:     10,
			epsilon:   0.005,
			wantFound: true,
			want:      0,
		},
		{
			name:      "tiny radius rounds up to a centimetre",
			probe:     linearProbe(1e6, 1000),
			target:    1000,
			upper:     10,
			epsilon:   0.005,
			wantFound: true,
			want:      0.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			solver := NewToleranceSolver(tt.epsilon, nil)
			got, err := solver.Solve(context.Background(), tt.probe, tt.target, tt.upper)
			if err != nil {
				t.Fatalf("Solve() error = %v", err)
			}
			if got.Found != tt.wantFound {
				t.Fatalf("Found = %v, want %v (tolerance %v)", got.Found, tt.wantFound, got.Tolerance)
			}
			if tt.wantFound && math.Abs(got.Tolerance-tt.want) > 1e-9 {
				t.Errorf("Tolerance = %v, want %v", got.Tolerance, tt.want)
			}
		})
	}
}

func TestToleranceSolver_Properties(t *testing.T) {
	ctx := context.Background()
	probes := map[string]Probe{
		"step at 5":   stepProbe(5, 1000),
		"step at 2.5": stepProbe(2.5, 1000),
		"linear":      linearProbe(100, 1000),
	}
	const eps = 0.5

	for name, probe := range probes {
		t.Run(name, func(t *testing.T) {
			solver := NewToleranceSolver(eps, nil)
			sol, err := solver.Solve(ctx, probe, 1000, 10)
			if err != nil {
				t.Fatalf("Solve() error = %v", err)
			}
			if !sol.Found {
				t.Fatal("Solve() found no solution")
			}

			// coverage at the result reaches the target
			if v, _ := probe(ctx, sol.Tolerance); v < 1000 {
				t.Errorf("coverage(%v) = %v, want >= 1000", sol.Tolerance, v)
			}
			// one resolution step below does not
			if v, _ := probe(ctx, sol.Tolerance-eps); v >= 1000 {
				t.Errorf("coverage(%v) = %v, want < 1000", sol.Tolerance-eps, v)
			}

			// the result as a tighter upper bound reproduces itself
			again, err := solver.Solve(ctx, probe, 1000, sol.Tolerance)
			if err != nil {
				t.Fatalf("second Solve() error = %v", err)
			}
			if !again.Found || again.Tolerance != sol.Tolerance {
				t.Errorf("second Solve() = %+v, want tolerance %v", again, sol.Tolerance)
			}
		})
	}
}

// bisectTolerance is the plain bisection with epsilon refinement, without
// the solver's shortcuts. It gives up after maxSteps probes.
func bisectTolerance(reaches func(r float64) bool, upper, eps float64) (float64, bool) {
	const maxSteps = 100000
	down, up := 0.0, upper
	mid := up / 2
	for i := 0; i < maxSteps; i++ {
		if reaches(mid) {
			up = mid
			mid = down + (mid-down)/2
			continue
		}
		if !(down < mid+eps && mid+eps < up) {
			if up != upper {
				return roundUp(up), true
			}
			return 0, false
		}
		if reaches(mid + eps) {
			return roundUp(mid + eps), true
		}
		down = mid + eps
		mid = down + (up-down)/2
	}
	return math.NaN(), false
}

func TestToleranceSolver_MatchesPlainBisection(t *testing.T) {
	ctx := context.Background()
	const (
		upper = 10.0
		eps   = 0.005
	)
	solver := NewToleranceSolver(eps, nil)

	mismatches := 0
	for i := 1; i <= 9000; i++ {
		at := float64(i) * 0.000997
		probe := stepProbe(at, 1)
		want, wantFound := bisectTolerance(func(r float64) bool {
			v, _ := probe(ctx, r)
			return v >= 1
		}, upper, eps)

		got, err := solver.Solve(ctx, probe, 1, upper)
		if err != nil {
			t.Fatalf("Solve() at %v error = %v", at, err)
		}
		if got.Found != wantFound || math.Abs(got.Tolerance-want) > 1e-9 {
			mismatches++
			if mismatches <= 5 {
				t.Errorf("step at %v: Solve() = %v/%v, want %v/%v", at, got.Found, got.Tolerance, wantFound, want)
			}
		}
	}
	if mismatches > 0 {
		t.Errorf("%d of 9000 step positions differ from plain bisection", mismatches)
	}
}

func TestToleranceSolver_NoSolutionIffUpperFails(t *testing.T) {
	ctx := context.Background()
	probe := linearProbe(100, 1000)
	solver := NewToleranceSolver(0.005, nil)

	for _, target := range []float64{200, 999, 1000, 1000.5, 2000} {
		sol, err := solver.Solve(ctx, probe, target, 10)
		if err != nil {
			t.Fatalf("Solve(%v) error = %v", target, err)
		}
		atUpper, _ := probe(ctx, 10)
		if wantFound := atUpper >= target; sol.Found != wantFound {
			t.Errorf("Solve(%v).Found = %v, want %v", target, sol.Found, wantFound)
		}
	}
}

func TestToleranceSolver_InvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		epsilon float64
		upper   float64
	}{
		{"zero upper bound", 0.005, 0},
		{"negative upper bound", 0.005, -3},
		{"zero epsilon", 0, 10},
		{"NaN upper bound", 0.005, math.NaN()},
		{"infinite upper bound", 0.005, math.Inf(1)},
		{"NaN epsilon", math.NaN(), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			solver := NewToleranceSolver(tt.epsilon, nil)
			_, err := solver.Solve(context.Background(), linearProbe(1, 1), 1, tt.upper)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Solve() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestToleranceSolver_ProbeError(t *testing.T) {
	boom := errors.New("overlay failed")
	calls := 0
	probe := func(_ context.Context, _ float64) (float64, error) {
		calls++
		if calls == 3 {
			return 0, boom
		}
		return 0, nil
	}

	_, err := NewToleranceSolver(0.005, nil).Solve(context.Background(), probe, 10, 10)
	if !errors.Is(err, boom) {
		t.Errorf("Solve() error = %v, want %v", err, boom)
	}
	if calls != 3 {
		t.Errorf("probe calls = %d, want 3", calls)
	}
}

func TestToleranceSolver_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewToleranceSolver(0.005, nil).Solve(ctx, linearProbe(1, 10), 5, 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Solve() error = %v, want context.Canceled", err)
	}
}

func TestToleranceSolver_RecordsProbes(t *testing.T) {
	metrics := &mockMetrics{}
	solver := NewToleranceSolver(0.5, metrics)

	sol, err := solver.Solve(context.Background(), stepProbe(5, 1000), 1000, 10)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if len(metrics.probes) != 1 || metrics.probes[0] != sol.Probes {
		t.Errorf("recorded probes = %v, want [%d]", metrics.probes, sol.Probes)
	}
	if sol.Probes == 0 {
		t.Error("Probes = 0, want > 0")
	}
}

func TestRoundUp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{5, 5},
		{0.07, 0.07},
		{3.001, 3.01},
		{3.0149, 3.02},
		{0, 0},
	}

	for _, tt := range tests {
		if got := roundUp(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("roundUp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
