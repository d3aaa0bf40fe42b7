package output

import (
	"context"

	"github.com/jobrunner/osmacc/internal/domain"
)

// GeometryEngine defines the secondary port for vector geometry operations.
// Operations that produce a dataset write it under dst, which must not exist.
// Calls are synchronous; implementations must be safe for concurrent use as
// long as callers use distinct output names.
type GeometryEngine interface {
	// Exists reports whether a dataset is known to the engine.
	Exists(ctx context.Context, ds domain.Dataset) (bool, error)

	// Length returns the summed feature length, 0 for a dataset without features.
	Length(ctx context.Context, ds domain.Dataset) (float64, error)

	// Extent returns the bounding box of all features.
	Extent(ctx context.Context, ds domain.Dataset) (domain.Extent, error)

	// Buffer writes the dissolved polygon buffer of distance around src.
	Buffer(ctx context.Context, src, dst domain.Dataset, distance float64) error

	// OverlayAnd writes the parts of lines inside areas.
	OverlayAnd(ctx context.Context, lines, areas, dst domain.Dataset) error

	// OverlayNot writes the parts of lines outside areas.
	OverlayNot(ctx context.Context, lines, areas, dst domain.Dataset) error

	// ClipToExtent writes the parts of src inside box.
	ClipToExtent(ctx context.Context, src domain.Dataset, box domain.Extent, dst domain.Dataset) error

	// ClipToCell writes the parts of src inside the grid cell with the given id.
	ClipToCell(ctx context.Context, src, grid domain.Dataset, cellID int64, dst domain.Dataset) error

	// CreateGrid writes rows x cols rectangular cells over region.
	CreateGrid(ctx context.Context, dst domain.Dataset, region domain.Extent, rows, cols int) error

	// SelectOverlapping returns the cells of grid intersecting ds, ordered by id.
	SelectOverlapping(ctx context.Context, grid, ds domain.Dataset) ([]domain.Cell, error)

	// WriteCells persists the given cells of grid with their attributes as dst.
	WriteCells(ctx context.Context, grid, dst domain.Dataset, cells []domain.Cell, layout domain.CellLayout) error

	// Drop removes datasets. Missing datasets are ignored.
	Drop(ctx context.Context, names ...domain.Dataset) error

	// DropMatching removes every dataset whose name contains namespace.
	DropMatching(ctx context.Context, namespace string) error

	// Close releases engine resources.
	Close() error
}
