package application

import (
	"context"
	"fmt"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// CellPartitioner divides the analysis region into cells and cuts the
// per-cell sub-datasets.
type CellPartitioner struct {
	engine output.GeometryEngine
	margin float64
}

// NewCellPartitioner creates a partitioner. margin is the fraction by which
// a cell's box grows before reference data is clipped to it.
func NewCellPartitioner(engine output.GeometryEngine, margin float64) *CellPartitioner {
	if margin < 0 {
		margin = domain.DefaultCellMargin
	}
	return &CellPartitioner{engine: engine, margin: margin}
}

// Build returns the grid dataset for source. Generated grids and the whole
// region cell are temporaries of scope. The whole region is the extent of
// region, normally the reference dataset.
func (p *CellPartitioner) Build(ctx context.Context, scope *RunScope, source domain.GridSource, region domain.Dataset) (domain.Dataset, error) {
	switch source.Kind {
	case domain.GridPrebuilt:
		return source.Name, nil

	case domain.GridGenerated:
		box, rows, cols := source.Spec.Layout()
		ext, err := p.engine.Extent(ctx, region)
		if err != nil {
			return "", &domain.EngineError{Op: "extent", Dataset: region, Err: err}
		}
		box.SRID = ext.SRID
		return p.createGrid(ctx, scope, box, rows, cols)

	case domain.GridWholeRegion:
		box, err := p.engine.Extent(ctx, region)
		if err != nil {
			return "", &domain.EngineError{Op: "extent", Dataset: region, Err: err}
		}
		return p.createGrid(ctx, scope, box, 1, 1)
	}
	return "", &domain.ConfigError{Field: "grid", Message: fmt.Sprintf("unknown grid kind %d", source.Kind)}
}

func (p *CellPartitioner) createGrid(ctx context.Context, scope *RunScope, box domain.Extent, rows, cols int) (domain.Dataset, error) {
	grid := scope.Temp("grid")
	if err := p.engine.CreateGrid(ctx, grid, box, rows, cols); err != nil {
		return "", &domain.EngineError{Op: "create_grid", Dataset: grid, Err: err}
	}
	return grid, nil
}

// Select returns the cells of grid that intersect candidate. Other cells
// are dropped from processing and receive no attributes.
func (p *CellPartitioner) Select(ctx context.Context, grid, candidate domain.Dataset) ([]domain.Cell, error) {
	cells, err := p.engine.SelectOverlapping(ctx, grid, candidate)
	if err != nil {
		return nil, &domain.EngineError{Op: "select_overlapping", Dataset: grid, Err: err}
	}
	return cells, nil
}

// Candidate clips the candidate dataset to the cell.
func (p *CellPartitioner) Candidate(ctx context.Context, scope *RunScope, grid domain.Dataset, cell domain.Cell, candidate domain.Dataset) (domain.LineDataset, error) {
	dst := scope.Temp("osm_box")
	if err := p.engine.ClipToCell(ctx, candidate, grid, cell.ID, dst); err != nil {
		return domain.LineDataset{}, &domain.EngineError{Op: "clip_cell", Dataset: dst, Err: err}
	}
	return p.measure(ctx, dst)
}

// ReferenceIn clips the reference dataset to the cell.
func (p *CellPartitioner) ReferenceIn(ctx context.Context, scope *RunScope, grid domain.Dataset, cell domain.Cell, reference domain.Dataset) (domain.LineDataset, error) {
	dst := scope.Temp("ref_box")
	if err := p.engine.ClipToCell(ctx, reference, grid, cell.ID, dst); err != nil {
		return domain.LineDataset{}, &domain.EngineError{Op: "clip_cell", Dataset: dst, Err: err}
	}
	return p.measure(ctx, dst)
}

// ReferenceNear clips the reference dataset to the cell's box grown by the
// margin, so reference lines running just outside the cell still count.
func (p *CellPartitioner) ReferenceNear(ctx context.Context, scope *RunScope, cell domain.Cell, reference domain.Dataset) (domain.LineDataset, error) {
	dst := scope.Temp("ref_near")
	box := cell.Extent.Expand(p.margin)
	if err := p.engine.ClipToExtent(ctx, reference, box, dst); err != nil {
		return domain.LineDataset{}, &domain.EngineError{Op: "clip_extent", Dataset: dst, Err: err}
	}
	return p.measure(ctx, dst)
}

func (p *CellPartitioner) measure(ctx context.Context, ds domain.Dataset) (domain.LineDataset, error) {
	l, err := p.engine.Length(ctx, ds)
	if err != nil {
		return domain.LineDataset{}, &domain.EngineError{Op: "length", Dataset: ds, Err: err}
	}
	return domain.LineDataset{Name: ds, TotalLength: l}, nil
}
