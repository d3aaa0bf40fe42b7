// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/osmacc/internal/domain"
)

// SweepService defines the primary port for buffer sweeps.
type SweepService interface {
	// Run measures both coverage directions for every buffer distance.
	Run(ctx context.Context, req domain.SweepRequest) (*domain.SweepReport, error)
}

// AccuracyService defines the primary port for cell-wise accuracy runs.
type AccuracyService interface {
	// Run evaluates every grid cell overlapping the candidate dataset.
	Run(ctx context.Context, req domain.AccuracyRequest) (*domain.AccuracyResult, error)
}

// DatasetInspector defines the primary port for dataset lookups.
type DatasetInspector interface {
	// Describe returns the length and extent of a dataset.
	Describe(ctx context.Context, name domain.Dataset) (*DatasetInfo, error)

	// Ping checks that the geometry engine answers.
	Ping(ctx context.Context) error
}

// DatasetInfo summarizes a dataset.
type DatasetInfo struct {
	Name        domain.Dataset
	TotalLength float64
	Extent      domain.Extent
}
