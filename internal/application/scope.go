// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// RunScope owns the temporary datasets of one run, or of one task within a
// run. Every temporary name embeds the scope's namespace, so concurrent runs
// and tasks never collide and a crashed run can be swept by namespace.
type RunScope struct {
	engine    output.GeometryEngine
	namespace string

	mu       sync.Mutex
	seq      int
	children int
	temps    []domain.Dataset
}

// NewRunScope creates a scope with a fresh namespace.
func NewRunScope(engine output.GeometryEngine) *RunScope {
	ns := "r" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return &RunScope{engine: engine, namespace: ns}
}

// Namespace returns the scope's unique namespace.
func (s *RunScope) Namespace() string {
	return s.namespace
}

// Child returns a scope nested in this one, used per task. Each child gets
// its own namespace even when tags repeat.
func (s *RunScope) Child(tag string) *RunScope {
	s.mu.Lock()
	s.children++
	n := s.children
	s.mu.Unlock()

	return &RunScope{
		engine:    s.engine,
		namespace: fmt.Sprintf("%s_%s%d", s.namespace, tag, n),
	}
}

// Temp allocates a unique temporary dataset name and tracks it for release.
func (s *RunScope) Temp(prefix string) domain.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	name := domain.Dataset(fmt.Sprintf("%s_%s_%d", prefix, s.namespace, s.seq))
	s.temps = append(s.temps, name)
	return name
}

// Tracked returns the temporaries not yet released.
func (s *RunScope) Tracked() []domain.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Dataset(nil), s.temps...)
}

// Release drops the tracked temporaries, newest first. It runs even when
// ctx is already canceled.
func (s *RunScope) Release(ctx context.Context) error {
	s.mu.Lock()
	temps := s.temps
	s.temps = nil
	s.mu.Unlock()

	if len(temps) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(temps) - 1; i >= 0; i-- {
		if err := s.engine.Drop(ctx, temps[i]); err != nil {
			errs = append(errs, fmt.Errorf("dropping %s: %w", temps[i], err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the tracked temporaries and then removes anything else
// left under the namespace, such as datasets of a task that panicked.
func (s *RunScope) Close(ctx context.Context) error {
	releaseErr := s.Release(ctx)
	sweepErr := s.engine.DropMatching(context.WithoutCancel(ctx), s.namespace)
	if sweepErr != nil {
		sweepErr = fmt.Errorf("sweeping namespace %s: %w", s.namespace, sweepErr)
	}
	return errors.Join(releaseErr, sweepErr)
}
