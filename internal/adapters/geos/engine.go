// Package geos provides an in-process geometry engine on top of GEOS.
// Input datasets are shapefiles or GeoJSON files in a workspace directory,
// loaded on first use; temporaries live in memory and grid outputs are
// written back to the workspace as shapefiles.
package geos

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/twpayne/go-geos"

	"github.com/jobrunner/osmacc/internal/domain"
)

// DefaultQuadSegs is the number of segments per quarter circle of a buffer.
const DefaultQuadSegs = 8

// layer is one loaded dataset. ids[i] is the feature id of geoms[i].
type layer struct {
	geoms []*geos.Geom
	ids   []int64
	srid  int
}

// Engine implements output.GeometryEngine with GEOS.
type Engine struct {
	workspace string
	quadSegs  int

	mu     sync.RWMutex
	layers map[domain.Dataset]*layer
}

// Options configures the engine.
type Options struct {
	Workspace string
	QuadSegs  int
}

// New creates an engine reading datasets from the workspace directory.
func New(opts Options) (*Engine, error) {
	if opts.Workspace == "" {
		return nil, &domain.ConfigError{Field: "engine.workspace", Message: "workspace directory is required"}
	}
	info, err := os.Stat(opts.Workspace)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: opts.Workspace, Err: err}
	}
	if !info.IsDir() {
		return nil, &domain.ConfigError{Field: "engine.workspace", Message: opts.Workspace + " is not a directory"}
	}
	if opts.QuadSegs <= 0 {
		opts.QuadSegs = DefaultQuadSegs
	}
	return &Engine{
		workspace: opts.Workspace,
		quadSegs:  opts.QuadSegs,
		layers:    make(map[domain.Dataset]*layer),
	}, nil
}

// Close releases all loaded datasets.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers = make(map[domain.Dataset]*layer)
	return nil
}

// Exists reports whether ds is loaded or present as a file in the workspace.
func (e *Engine) Exists(_ context.Context, ds domain.Dataset) (bool, error) {
	e.mu.RLock()
	_, ok := e.layers[ds]
	e.mu.RUnlock()
	if ok {
		return true, nil
	}
	_, found := e.datasetFile(ds)
	return found, nil
}

// Length returns the summed length of all geometries in ds.
func (e *Engine) Length(ctx context.Context, ds domain.Dataset) (float64, error) {
	l, err := e.layer(ctx, ds)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, g := range l.geoms {
		total += g.Length()
	}
	return total, nil
}

// Extent returns the bounding box of ds.
func (e *Engine) Extent(ctx context.Context, ds domain.Dataset) (domain.Extent, error) {
	l, err := e.layer(ctx, ds)
	if err != nil {
		return domain.Extent{}, err
	}
	ext, ok := bounds(l.geoms)
	if !ok {
		return domain.Extent{}, fmt.Errorf("extent of %s: %w", ds, domain.ErrEmptyInput)
	}
	ext.SRID = l.srid
	return ext, nil
}

// Buffer writes the dissolved buffer of all geometries of src into dst.
func (e *Engine) Buffer(ctx context.Context, src, dst domain.Dataset, distance float64) error {
	l, err := e.layer(ctx, src)
	if err != nil {
		return err
	}
	out := &layer{srid: l.srid}
	if len(l.geoms) > 0 {
		collection := geos.NewCollection(geos.TypeIDGeometryCollection, cloneAll(l.geoms))
		buf := collection.Buffer(distance, e.quadSegs)
		collection.Destroy()
		out.geoms, out.ids = []*geos.Geom{buf}, []int64{1}
	}
	return e.put(dst, out)
}

// OverlayAnd writes the parts of lines inside the union of areas into dst.
func (e *Engine) OverlayAnd(ctx context.Context, lines, areas, dst domain.Dataset) error {
	ll, al, err := e.layers2(ctx, lines, areas)
	if err != nil {
		return err
	}
	out := &layer{srid: ll.srid}
	if mask := unionAll(al.geoms); mask != nil {
		defer mask.Destroy()
		for i, g := range ll.geoms {
			if !g.Intersects(mask) {
				continue
			}
			if part := g.Intersection(mask); !part.IsEmpty() {
				out.add(part, ll.ids[i])
			}
		}
	}
	return e.put(dst, out)
}

// OverlayNot writes the parts of lines outside the union of areas into dst.
func (e *Engine) OverlayNot(ctx context.Context, lines, areas, dst domain.Dataset) error {
	ll, al, err := e.layers2(ctx, lines, areas)
	if err != nil {
		return err
	}
	out := &layer{srid: ll.srid}
	mask := unionAll(al.geoms)
	for i, g := range ll.geoms {
		if mask == nil || !g.Intersects(mask) {
			out.add(g.Clone(), ll.ids[i])
			continue
		}
		if part := g.Difference(mask); !part.IsEmpty() {
			out.add(part, ll.ids[i])
		}
	}
	if mask != nil {
		mask.Destroy()
	}
	return e.put(dst, out)
}

// ClipToExtent writes the parts of src inside box into dst.
func (e *Engine) ClipToExtent(ctx context.Context, src domain.Dataset, box domain.Extent, dst domain.Dataset) error {
	l, err := e.layer(ctx, src)
	if err != nil {
		return err
	}
	mask := rectangle(box)
	defer mask.Destroy()
	return e.put(dst, clip(l, mask))
}

// ClipToCell writes the parts of src inside the grid cell with cellID into dst.
func (e *Engine) ClipToCell(ctx context.Context, src, grid domain.Dataset, cellID int64, dst domain.Dataset) error {
	l, gl, err := e.layers2(ctx, src, grid)
	if err != nil {
		return err
	}
	for i, id := range gl.ids {
		if id == cellID {
			return e.put(dst, clip(l, gl.geoms[i]))
		}
	}
	return fmt.Errorf("cell %d of %s: %w", cellID, grid, domain.ErrCellNotFound)
}

// CreateGrid writes a rows x cols grid of rectangles over region into dst.
func (e *Engine) CreateGrid(_ context.Context, dst domain.Dataset, region domain.Extent, rows, cols int) error {
	out := &layer{srid: region.SRID}
	for _, c := range domain.CellExtents(region, rows, cols) {
		out.add(rectangle(c.Extent), c.ID)
	}
	return e.put(dst, out)
}

// SelectOverlapping returns the cells of grid intersecting any geometry of
// ds, ordered by id.
func (e *Engine) SelectOverlapping(ctx context.Context, grid, ds domain.Dataset) ([]domain.Cell, error) {
	gl, l, err := e.layers2(ctx, grid, ds)
	if err != nil {
		return nil, err
	}

	var cells []domain.Cell
	for i, cell := range gl.geoms {
		cb := cell.Bounds()
		for _, g := range l.geoms {
			if !boxesOverlap(cb, g.Bounds()) || !g.Intersects(cell) {
				continue
			}
			cells = append(cells, domain.Cell{
				ID: gl.ids[i],
				Extent: domain.Extent{
					MinX: cb.MinX, MinY: cb.MinY, MaxX: cb.MaxX, MaxY: cb.MaxY,
					SRID: gl.srid,
				},
			})
			break
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })
	return cells, nil
}

// WriteCells writes the given cells of grid with their attributes as the
// shapefile dst in the workspace. The output is also kept as a dataset.
func (e *Engine) WriteCells(ctx context.Context, grid, dst domain.Dataset, cells []domain.Cell, layout domain.CellLayout) error {
	gl, err := e.layer(ctx, grid)
	if err != nil {
		return err
	}
	if exists, _ := e.Exists(ctx, dst); exists {
		return fmt.Errorf("%s: %w", dst, domain.ErrOutputExists)
	}

	byID := make(map[int64]*geos.Geom, len(gl.ids))
	for i, id := range gl.ids {
		byID[id] = gl.geoms[i]
	}
	out := &layer{srid: gl.srid}
	for _, c := range cells {
		g, ok := byID[c.ID]
		if !ok {
			return fmt.Errorf("cell %d of %s: %w", c.ID, grid, domain.ErrCellNotFound)
		}
		out.add(g.Clone(), c.ID)
	}

	path := filepath.Join(e.workspace, string(dst)+".shp")
	if err := writeCellShapefile(path, out.geoms, cells, layout); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return e.put(dst, out)
}

// Drop forgets the named datasets. Workspace files are left alone.
func (e *Engine) Drop(_ context.Context, names ...domain.Dataset) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range names {
		delete(e.layers, n)
	}
	return nil
}

// DropMatching forgets every dataset whose name contains namespace.
func (e *Engine) DropMatching(_ context.Context, namespace string) error {
	if strings.TrimSpace(namespace) == "" {
		return &domain.ConfigError{Field: "namespace", Message: "namespace must not be empty"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for n := range e.layers {
		if strings.Contains(string(n), namespace) {
			delete(e.layers, n)
		}
	}
	return nil
}

func (e *Engine) put(name domain.Dataset, l *layer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.layers[name]; ok {
		return fmt.Errorf("%s: %w", name, domain.ErrAlreadyExists)
	}
	e.layers[name] = l
	return nil
}

func (e *Engine) layers2(ctx context.Context, a, b domain.Dataset) (*layer, *layer, error) {
	la, err := e.layer(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	lb, err := e.layer(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return la, lb, nil
}

// layer returns the loaded dataset, reading it from the workspace on first use.
func (e *Engine) layer(ctx context.Context, ds domain.Dataset) (*layer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	l, ok := e.layers[ds]
	e.mu.RUnlock()
	if ok {
		return l, nil
	}

	path, found := e.datasetFile(ds)
	if !found {
		return nil, fmt.Errorf("%s: %w", ds, domain.ErrDatasetNotFound)
	}
	l, err := readDataset(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// another task may have loaded it meanwhile
	if existing, ok := e.layers[ds]; ok {
		return existing, nil
	}
	e.layers[ds] = l
	return l, nil
}

var datasetExtensions = []string{".shp", ".geojson", ".json"}

// datasetFile finds the workspace file backing ds.
func (e *Engine) datasetFile(ds domain.Dataset) (string, bool) {
	name := string(ds)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	for _, ext := range datasetExtensions {
		p := filepath.Join(e.workspace, name+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

func readDataset(path string) (*layer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return readShapefile(path)
	default:
		return readGeoJSON(path)
	}
}

func (l *layer) add(g *geos.Geom, id int64) {
	l.geoms = append(l.geoms, g)
	l.ids = append(l.ids, id)
}

// clip intersects every geometry of l with mask.
func clip(l *layer, mask *geos.Geom) *layer {
	out := &layer{srid: l.srid}
	mb := mask.Bounds()
	for i, g := range l.geoms {
		if !boxesOverlap(mb, g.Bounds()) || !g.Intersects(mask) {
			continue
		}
		if part := g.Intersection(mask); !part.IsEmpty() {
			out.add(part, l.ids[i])
		}
	}
	return out
}
