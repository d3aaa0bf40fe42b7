package output

import (
	"context"

	"github.com/jobrunner/osmacc/internal/domain"
)

// ReportWriter defines the secondary port for sweep report serialization.
type ReportWriter interface {
	// WriteSweep writes report to dest. Nothing is written when an error
	// is returned before the first byte.
	WriteSweep(ctx context.Context, dest string, report *domain.SweepReport) error
}
