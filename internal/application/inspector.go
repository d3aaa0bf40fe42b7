package application

import (
	"context"
	"fmt"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/input"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// InspectorService answers dataset lookups and health checks.
type InspectorService struct {
	engine output.GeometryEngine
}

// NewInspectorService creates a new inspector service.
func NewInspectorService(engine output.GeometryEngine) *InspectorService {
	return &InspectorService{engine: engine}
}

// Describe returns the length and extent of a dataset.
func (s *InspectorService) Describe(ctx context.Context, name domain.Dataset) (*input.DatasetInfo, error) {
	if name.IsZero() {
		return nil, &domain.ConfigError{Field: "name", Message: "dataset name is required"}
	}
	exists, err := s.engine.Exists(ctx, name)
	if err != nil {
		return nil, &domain.EngineError{Op: "exists", Dataset: name, Err: err}
	}
	if !exists {
		return nil, &domain.DatasetError{Dataset: name, Err: domain.ErrDatasetNotFound}
	}

	l, err := s.engine.Length(ctx, name)
	if err != nil {
		return nil, &domain.EngineError{Op: "length", Dataset: name, Err: err}
	}
	info := &input.DatasetInfo{Name: name, TotalLength: l}
	if l > 0 {
		if info.Extent, err = s.engine.Extent(ctx, name); err != nil {
			return nil, &domain.EngineError{Op: "extent", Dataset: name, Err: err}
		}
	}
	return info, nil
}

// Ping checks that the geometry engine answers a trivial lookup.
func (s *InspectorService) Ping(ctx context.Context) error {
	if _, err := s.engine.Exists(ctx, "osmacc_ping"); err != nil {
		return fmt.Errorf("geometry engine %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}
