package application

import (
	"context"
	"fmt"
	"time"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// OutsideMethod selects how the length outside a buffer is obtained.
type OutsideMethod string

const (
	// OutsideOverlay measures the outside part with a difference overlay.
	OutsideOverlay OutsideMethod = "overlay"
	// OutsideSubtract derives it as total minus inside.
	OutsideSubtract OutsideMethod = "subtract"
)

// ParseOutsideMethod parses a configured outside method.
func ParseOutsideMethod(s string) (OutsideMethod, error) {
	switch OutsideMethod(s) {
	case "", OutsideOverlay:
		return OutsideOverlay, nil
	case OutsideSubtract:
		return OutsideSubtract, nil
	}
	return "", &domain.ConfigError{Field: "outside_method", Message: fmt.Sprintf("unknown method %q", s)}
}

// CoverageCalculator measures how much of one line dataset lies within a
// buffer drawn around another.
type CoverageCalculator struct {
	engine  output.GeometryEngine
	metrics output.MetricsCollector
	method  OutsideMethod
}

// NewCoverageCalculator creates a coverage calculator.
func NewCoverageCalculator(engine output.GeometryEngine, metrics output.MetricsCollector, method OutsideMethod) *CoverageCalculator {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	if method == "" {
		method = OutsideOverlay
	}
	return &CoverageCalculator{engine: engine, metrics: metrics, method: method}
}

// Coverage splits subject's length by the buffer of distance around reference.
func (c *CoverageCalculator) Coverage(ctx context.Context, scope *RunScope, subject, reference domain.LineDataset, distance float64) (domain.CoverageResult, error) {
	return c.measure(ctx, scope, subject, reference, distance, true)
}

// Inside returns only the subject length inside the buffer.
func (c *CoverageCalculator) Inside(ctx context.Context, scope *RunScope, subject, reference domain.LineDataset, distance float64) (float64, error) {
	res, err := c.measure(ctx, scope, subject, reference, distance, false)
	return res.Inside, err
}

// Stats measures both directions for one buffer distance.
func (c *CoverageCalculator) Stats(ctx context.Context, scope *RunScope, candidate, reference domain.LineDataset, d domain.IndexedDistance) (domain.BufferStats, error) {
	stats := domain.BufferStats{IndexedDistance: d}

	var err error
	stats.Candidate, err = c.Coverage(ctx, scope, candidate, reference, d.Distance)
	if err != nil {
		return stats, fmt.Errorf("candidate around reference at %g: %w", d.Distance, err)
	}
	stats.Reference, err = c.Coverage(ctx, scope, reference, candidate, d.Distance)
	if err != nil {
		return stats, fmt.Errorf("reference around candidate at %g: %w", d.Distance, err)
	}
	return stats, nil
}

func (c *CoverageCalculator) measure(ctx context.Context, scope *RunScope, subject, reference domain.LineDataset, distance float64, withOutside bool) (res domain.CoverageResult, err error) {
	if subject.IsEmpty() {
		return domain.CoverageResult{}, nil
	}
	if reference.IsEmpty() {
		return domain.CoverageResult{Outside: subject.TotalLength}, nil
	}

	tmp := scope.Child("c")
	defer func() {
		if relErr := tmp.Release(ctx); relErr != nil && err == nil {
			err = relErr
		}
	}()

	buf := tmp.Temp("buf")
	if err := c.call(ctx, "buffer", buf, func() error {
		return c.engine.Buffer(ctx, reference.Name, buf, distance)
	}); err != nil {
		return res, err
	}

	in := tmp.Temp("in")
	if err := c.call(ctx, "overlay_and", in, func() error {
		return c.engine.OverlayAnd(ctx, subject.Name, buf, in)
	}); err != nil {
		return res, err
	}
	if res.Inside, err = c.length(ctx, in); err != nil {
		return res, err
	}
	if !withOutside {
		return res, nil
	}

	if c.method == OutsideSubtract {
		res.Inside = min(res.Inside, subject.TotalLength)
		res.Outside = subject.TotalLength - res.Inside
		return res, nil
	}

	out := tmp.Temp("out")
	if err := c.call(ctx, "overlay_not", out, func() error {
		return c.engine.OverlayNot(ctx, subject.Name, buf, out)
	}); err != nil {
		return res, err
	}
	res.Outside, err = c.length(ctx, out)
	return res, err
}

func (c *CoverageCalculator) length(ctx context.Context, ds domain.Dataset) (float64, error) {
	var l float64
	err := c.call(ctx, "length", ds, func() error {
		var err error
		l, err = c.engine.Length(ctx, ds)
		return err
	})
	return l, err
}

// call runs one engine operation, records it and wraps its failure.
func (c *CoverageCalculator) call(ctx context.Context, op string, ds domain.Dataset, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	c.metrics.ObserveEngineCall(op, time.Since(start), err == nil)
	if err != nil {
		return &domain.EngineError{Op: op, Dataset: ds, Err: err}
	}
	return nil
}
