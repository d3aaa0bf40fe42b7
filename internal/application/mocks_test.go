package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// seg is a horizontal line segment, rect an axis aligned area. The fake
// engine works on these two shapes only; the buffer of a segment is the
// rectangle grown by the distance, which keeps coverage monotonic.
type seg struct{ x0, x1, y float64 }

type rect struct {
	id                     int64
	minX, minY, maxX, maxY float64
}

type fakeLayer struct {
	segs  []seg
	rects []rect
}

// mockEngine implements output.GeometryEngine for testing.
type mockEngine struct {
	mu       sync.Mutex
	layers   map[domain.Dataset]*fakeLayer
	written  map[domain.Dataset][]domain.Cell
	calls    map[string]int
	failOps  map[string]error
	panicOps map[string]bool
	srid     int
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		layers:   make(map[domain.Dataset]*fakeLayer),
		written:  make(map[domain.Dataset][]domain.Cell),
		calls:    make(map[string]int),
		failOps:  make(map[string]error),
		panicOps: make(map[string]bool),
		srid:     25832,
	}
}

func (m *mockEngine) addLines(name domain.Dataset, segs ...seg) {
	m.layers[name] = &fakeLayer{segs: segs}
}

func (m *mockEngine) addAreas(name domain.Dataset, rects ...rect) {
	m.layers[name] = &fakeLayer{rects: rects}
}

func (m *mockEngine) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for n := range m.layers {
		out = append(out, string(n))
	}
	sort.Strings(out)
	return out
}

func (m *mockEngine) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockEngine) enter(op string) (*fakeLayerSet, error) {
	m.mu.Lock()
	m.calls[op]++
	err := m.failOps[op]
	panics := m.panicOps[op]
	m.mu.Unlock()
	if panics {
		panic("mock engine: " + op)
	}
	return &fakeLayerSet{m: m}, err
}

type fakeLayerSet struct{ m *mockEngine }

func (s *fakeLayerSet) get(name domain.Dataset) (*fakeLayer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	l, ok := s.m.layers[name]
	if !ok {
		return nil, domain.ErrDatasetNotFound
	}
	return l, nil
}

func (s *fakeLayerSet) put(name domain.Dataset, l *fakeLayer) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.layers[name]; ok {
		return errors.New("dataset exists: " + string(name))
	}
	s.m.layers[name] = l
	return nil
}

func (m *mockEngine) Exists(_ context.Context, ds domain.Dataset) (bool, error) {
	if _, err := m.enter("exists"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.layers[ds]
	return ok, nil
}

func (m *mockEngine) Length(_ context.Context, ds domain.Dataset) (float64, error) {
	s, err := m.enter("length")
	if err != nil {
		return 0, err
	}
	l, err := s.get(ds)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, sg := range l.segs {
		total += sg.x1 - sg.x0
	}
	return total, nil
}

func (m *mockEngine) Extent(_ context.Context, ds domain.Dataset) (domain.Extent, error) {
	s, err := m.enter("extent")
	if err != nil {
		return domain.Extent{}, err
	}
	l, err := s.get(ds)
	if err != nil {
		return domain.Extent{}, err
	}
	if len(l.segs) == 0 && len(l.rects) == 0 {
		return domain.Extent{}, domain.ErrEmptyInput
	}
	ext := domain.Extent{MinX: 1e300, MinY: 1e300, MaxX: -1e300, MaxY: -1e300, SRID: m.srid}
	for _, sg := range l.segs {
		ext.MinX, ext.MaxX = min(ext.MinX, sg.x0), max(ext.MaxX, sg.x1)
		ext.MinY, ext.MaxY = min(ext.MinY, sg.y), max(ext.MaxY, sg.y)
	}
	for _, r := range l.rects {
		ext.MinX, ext.MaxX = min(ext.MinX, r.minX), max(ext.MaxX, r.maxX)
		ext.MinY, ext.MaxY = min(ext.MinY, r.minY), max(ext.MaxY, r.maxY)
	}
	return ext, nil
}

func (m *mockEngine) Buffer(_ context.Context, src, dst domain.Dataset, distance float64) error {
	s, err := m.enter("buffer")
	if err != nil {
		return err
	}
	l, err := s.get(src)
	if err != nil {
		return err
	}
	out := &fakeLayer{}
	for _, sg := range l.segs {
		out.rects = append(out.rects, rect{
			minX: sg.x0 - distance, maxX: sg.x1 + distance,
			minY: sg.y - distance, maxY: sg.y + distance,
		})
	}
	return s.put(dst, out)
}

func (m *mockEngine) OverlayAnd(_ context.Context, lines, areas, dst domain.Dataset) error {
	return m.overlay("overlay_and", lines, areas, dst, true)
}

func (m *mockEngine) OverlayNot(_ context.Context, lines, areas, dst domain.Dataset) error {
	return m.overlay("overlay_not", lines, areas, dst, false)
}

func (m *mockEngine) overlay(op string, lines, areas, dst domain.Dataset, inside bool) error {
	s, err := m.enter(op)
	if err != nil {
		return err
	}
	ll, err := s.get(lines)
	if err != nil {
		return err
	}
	al, err := s.get(areas)
	if err != nil {
		return err
	}
	out := &fakeLayer{}
	for _, sg := range ll.segs {
		out.segs = append(out.segs, clipSeg(sg, al.rects, inside)...)
	}
	return s.put(dst, out)
}

func (m *mockEngine) ClipToExtent(_ context.Context, src domain.Dataset, box domain.Extent, dst domain.Dataset) error {
	s, err := m.enter("clip_extent")
	if err != nil {
		return err
	}
	l, err := s.get(src)
	if err != nil {
		return err
	}
	r := rect{minX: box.MinX, minY: box.MinY, maxX: box.MaxX, maxY: box.MaxY}
	out := &fakeLayer{}
	for _, sg := range l.segs {
		out.segs = append(out.segs, clipSeg(sg, []rect{r}, true)...)
	}
	return s.put(dst, out)
}

func (m *mockEngine) ClipToCell(_ context.Context, src, grid domain.Dataset, cellID int64, dst domain.Dataset) error {
	s, err := m.enter("clip_cell")
	if err != nil {
		return err
	}
	l, err := s.get(src)
	if err != nil {
		return err
	}
	g, err := s.get(grid)
	if err != nil {
		return err
	}
	var cell *rect
	for i := range g.rects {
		if g.rects[i].id == cellID {
			cell = &g.rects[i]
		}
	}
	if cell == nil {
		return domain.ErrCellNotFound
	}
	out := &fakeLayer{}
	for _, sg := range l.segs {
		out.segs = append(out.segs, clipSeg(sg, []rect{*cell}, true)...)
	}
	return s.put(dst, out)
}

func (m *mockEngine) CreateGrid(_ context.Context, dst domain.Dataset, region domain.Extent, rows, cols int) error {
	s, err := m.enter("create_grid")
	if err != nil {
		return err
	}
	out := &fakeLayer{}
	for _, c := range domain.CellExtents(region, rows, cols) {
		out.rects = append(out.rects, rect{
			id:   c.ID,
			minX: c.Extent.MinX, minY: c.Extent.MinY,
			maxX: c.Extent.MaxX, maxY: c.Extent.MaxY,
		})
	}
	return s.put(dst, out)
}

func (m *mockEngine) SelectOverlapping(_ context.Context, grid, ds domain.Dataset) ([]domain.Cell, error) {
	s, err := m.enter("select_overlapping")
	if err != nil {
		return nil, err
	}
	g, err := s.get(grid)
	if err != nil {
		return nil, err
	}
	l, err := s.get(ds)
	if err != nil {
		return nil, err
	}
	var cells []domain.Cell
	for _, r := range g.rects {
		for _, sg := range l.segs {
			if len(clipSeg(sg, []rect{r}, true)) > 0 {
				cells = append(cells, domain.Cell{
					ID:     r.id,
					Extent: domain.Extent{MinX: r.minX, MinY: r.minY, MaxX: r.maxX, MaxY: r.maxY, SRID: m.srid},
				})
				break
			}
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })
	return cells, nil
}

func (m *mockEngine) WriteCells(_ context.Context, grid, dst domain.Dataset, cells []domain.Cell, _ domain.CellLayout) error {
	s, err := m.enter("write_cells")
	if err != nil {
		return err
	}
	g, err := s.get(grid)
	if err != nil {
		return err
	}
	out := &fakeLayer{}
	for _, c := range cells {
		for _, r := range g.rects {
			if r.id == c.ID {
				out.rects = append(out.rects, r)
			}
		}
	}
	if err := s.put(dst, out); err != nil {
		return err
	}
	m.mu.Lock()
	m.written[dst] = append([]domain.Cell(nil), cells...)
	m.mu.Unlock()
	return nil
}

func (m *mockEngine) Drop(_ context.Context, names ...domain.Dataset) error {
	if _, err := m.enter("drop"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.layers, n)
	}
	return nil
}

func (m *mockEngine) DropMatching(_ context.Context, namespace string) error {
	if _, err := m.enter("drop_matching"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for n := range m.layers {
		if strings.Contains(string(n), namespace) {
			delete(m.layers, n)
		}
	}
	return nil
}

func (m *mockEngine) Close() error {
	return nil
}

// clipSeg returns the parts of sg inside (or outside) the union of rects.
func clipSeg(sg seg, rects []rect, inside bool) []seg {
	type span struct{ a, b float64 }
	var spans []span
	for _, r := range rects {
		if sg.y < r.minY || sg.y > r.maxY {
			continue
		}
		a, b := max(sg.x0, r.minX), min(sg.x1, r.maxX)
		if a < b {
			spans = append(spans, span{a, b})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].a < spans[j].a })

	var merged []span
	for _, s := range spans {
		if n := len(merged); n > 0 && s.a <= merged[n-1].b {
			merged[n-1].b = max(merged[n-1].b, s.b)
			continue
		}
		merged = append(merged, s)
	}

	var out []seg
	if inside {
		for _, s := range merged {
			out = append(out, seg{x0: s.a, x1: s.b, y: sg.y})
		}
		return out
	}
	cur := sg.x0
	for _, s := range merged {
		if s.a > cur {
			out = append(out, seg{x0: cur, x1: s.a, y: sg.y})
		}
		cur = max(cur, s.b)
	}
	if cur < sg.x1 {
		out = append(out, seg{x0: cur, x1: sg.x1, y: sg.y})
	}
	return out
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	downloadErr error
	listErr     error
	uploadErr   error
	downloaded  []string
	uploaded    map[string]string // key -> source path
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.mu.Lock()
	m.downloaded = append(m.downloaded, key)
	m.mu.Unlock()
	return nil
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (m *mockStorage) Upload(_ context.Context, src, key string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploaded == nil {
		m.uploaded = make(map[string]string)
	}
	m.uploaded[key] = src
	return nil
}

// mockWriter implements output.ReportWriter for testing.
type mockWriter struct {
	reports map[string]*domain.SweepReport
	err     error
}

func (w *mockWriter) WriteSweep(_ context.Context, dest string, report *domain.SweepReport) error {
	if w.err != nil {
		return w.err
	}
	if w.reports == nil {
		w.reports = make(map[string]*domain.SweepReport)
	}
	w.reports[dest] = report
	return nil
}

// mockMetrics records solver probes and cell outcomes.
type mockMetrics struct {
	output.NoOpMetrics
	mu       sync.Mutex
	probes   []int
	outcomes map[string]int
	runs     map[string]bool
}

func (m *mockMetrics) ObserveSolverProbes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, n)
}

func (m *mockMetrics) IncCellOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

func (m *mockMetrics) ObserveRun(mode string, _ time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]bool)
	}
	m.runs[mode] = success
}
