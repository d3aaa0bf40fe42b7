// Package spatialite provides the SpatiaLite-based geometry engine. Datasets
// are tables of one SQLite database, usually a GeoPackage; temporaries are
// plain tables with a SpatiaLite "geom" column.
package spatialite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/osmacc/internal/domain"
)

const driverName = "sqlite3_spatialite"

// Ensure sqlite3 driver is registered with extension support.
func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: loadSpatiaLite,
	})
}

// loadSpatiaLite loads mod_spatialite into a new connection from the first
// library path that works.
func loadSpatiaLite(conn *sqlite3.SQLiteConn) error {
	var errs []error
	for _, p := range getSpatiaLiteLibraryPaths() {
		err := conn.LoadExtension(p, "sqlite3_modspatialite_init")
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p, err))
	}
	return fmt.Errorf("loading mod_spatialite: %w", errors.Join(errs...))
}

// getSpatiaLiteLibraryPaths returns a list of paths to try for loading SpatiaLite.
// The order is important: environment variable first, then platform-specific paths.
func getSpatiaLiteLibraryPaths() []string {
	// The env var should point to the exact library path
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return []string{envPath}
	}

	return []string{
		// Alpine Linux (Docker containers)
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",

		// Debian/Ubuntu amd64
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",

		// Debian/Ubuntu arm64
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",

		// macOS Homebrew
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",

		// Generic names (let the system find them via LD_LIBRARY_PATH)
		"mod_spatialite.so",
		"mod_spatialite",
		"mod_spatialite.dylib",
	}
}

// Options configures the engine.
type Options struct {
	Path           string
	BufferSegments int // quadrant segments per buffer arc, 0 keeps the SpatiaLite default
	BusyTimeout    time.Duration
}

// Engine implements output.GeometryEngine on a SpatiaLite database.
type Engine struct {
	db      *sql.DB
	path    string
	version string

	mu       sync.RWMutex
	geomCols map[domain.Dataset]string
}

// Open opens the database and verifies that SpatiaLite is available.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Path == "" {
		return nil, &domain.ConfigError{Field: "engine.database", Message: "database path is required"}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", opts.Path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// Temporaries are created and read on one connection; concurrent tasks
	// queue on it instead of racing for the database lock.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "open", Key: opts.Path, Err: err}
	}

	e := &Engine{db: db, path: opts.Path, geomCols: make(map[domain.Dataset]string)}
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&e.version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}

	if opts.BufferSegments > 0 {
		// SpatiaLite before 4.3 has no buffer options; the default stays.
		_, _ = db.ExecContext(ctx, "SELECT BufferOptions_SetQuadrantSegments(?)", opts.BufferSegments)
	}
	return e, nil
}

// Version returns the loaded SpatiaLite version.
func (e *Engine) Version() string {
	return e.version
}

// Close closes the database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Exists reports whether a table or view named ds exists.
func (e *Engine) Exists(ctx context.Context, ds domain.Dataset) (bool, error) {
	var count int
	err := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?",
		string(ds),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Length returns the summed length of all geometries in ds.
func (e *Engine) Length(ctx context.Context, ds domain.Dataset) (float64, error) {
	col, err := e.geomColumn(ctx, ds)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(
		`SELECT COALESCE(SUM(ST_Length(CastAutomagic(%s))), 0) FROM %s`,
		quoteIdent(col), quoteIdent(string(ds)),
	) //#nosec G201 -- identifiers are quoted

	var l float64
	if err := e.db.QueryRowContext(ctx, query).Scan(&l); err != nil {
		return 0, fmt.Errorf("measuring %s: %w", ds, err)
	}
	return l, nil
}

// Extent returns the bounding box of ds.
func (e *Engine) Extent(ctx context.Context, ds domain.Dataset) (domain.Extent, error) {
	col, err := e.geomColumn(ctx, ds)
	if err != nil {
		return domain.Extent{}, err
	}
	query := fmt.Sprintf(`
		SELECT MIN(MbrMinX(g)), MIN(MbrMinY(g)), MAX(MbrMaxX(g)), MAX(MbrMaxY(g)), MAX(ST_SRID(g))
		FROM (SELECT CastAutomagic(%s) AS g FROM %s)
		WHERE g IS NOT NULL
	`, quoteIdent(col), quoteIdent(string(ds))) //#nosec G201 -- identifiers are quoted

	var minX, minY, maxX, maxY sql.NullFloat64
	var srid sql.NullInt64
	if err := e.db.QueryRowContext(ctx, query).Scan(&minX, &minY, &maxX, &maxY, &srid); err != nil {
		return domain.Extent{}, fmt.Errorf("reading extent of %s: %w", ds, err)
	}
	if !minX.Valid || !minY.Valid || !maxX.Valid || !maxY.Valid {
		return domain.Extent{}, fmt.Errorf("extent of %s: %w", ds, domain.ErrEmptyInput)
	}
	return domain.Extent{
		MinX: minX.Float64, MinY: minY.Float64,
		MaxX: maxX.Float64, MaxY: maxY.Float64,
		SRID: int(srid.Int64),
	}, nil
}

// Buffer writes the dissolved buffer of all geometries of src into dst.
func (e *Engine) Buffer(ctx context.Context, src, dst domain.Dataset, distance float64) error {
	col, err := e.geomColumn(ctx, src)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		`CREATE TABLE %s AS SELECT ST_Buffer(ST_Collect(CastAutomagic(%s)), ?) AS geom FROM %s`,
		quoteIdent(string(dst)), quoteIdent(col), quoteIdent(string(src)),
	) //#nosec G201 -- identifiers are quoted
	return e.create(ctx, dst, "buffering "+string(src), query, distance)
}

// OverlayAnd writes the parts of lines inside the union of areas into dst.
func (e *Engine) OverlayAnd(ctx context.Context, lines, areas, dst domain.Dataset) error {
	lc, ac, err := e.geomColumns(ctx, lines, areas)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		CREATE TABLE %s AS
		WITH u AS (SELECT ST_Union(CastAutomagic(%s)) AS g FROM %s)
		SELECT ST_Intersection(CastAutomagic(l.%s), u.g) AS geom
		FROM %s l, u
		WHERE u.g IS NOT NULL AND ST_Intersects(CastAutomagic(l.%s), u.g) = 1
	`, quoteIdent(string(dst)),
		quoteIdent(ac), quoteIdent(string(areas)),
		quoteIdent(lc), quoteIdent(string(lines)), quoteIdent(lc),
	) //#nosec G201 -- identifiers are quoted
	return e.create(ctx, dst, "intersecting "+string(lines), query)
}

// OverlayNot writes the parts of lines outside the union of areas into dst.
func (e *Engine) OverlayNot(ctx context.Context, lines, areas, dst domain.Dataset) error {
	lc, ac, err := e.geomColumns(ctx, lines, areas)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		CREATE TABLE %s AS
		WITH u AS (SELECT ST_Union(CastAutomagic(%s)) AS g FROM %s)
		SELECT CASE WHEN u.g IS NULL THEN CastAutomagic(l.%s)
			ELSE ST_Difference(CastAutomagic(l.%s), u.g) END AS geom
		FROM %s l, u
	`, quoteIdent(string(dst)),
		quoteIdent(ac), quoteIdent(string(areas)),
		quoteIdent(lc), quoteIdent(lc), quoteIdent(string(lines)),
	) //#nosec G201 -- identifiers are quoted
	return e.create(ctx, dst, "differencing "+string(lines), query)
}

// ClipToExtent writes the parts of src inside box into dst.
func (e *Engine) ClipToExtent(ctx context.Context, src domain.Dataset, box domain.Extent, dst domain.Dataset) error {
	col, err := e.geomColumn(ctx, src)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		CREATE TABLE %s AS
		WITH b AS (SELECT BuildMbr(?, ?, ?, ?, ?) AS g)
		SELECT ST_Intersection(CastAutomagic(s.%s), b.g) AS geom
		FROM %s s, b
		WHERE MbrIntersects(CastAutomagic(s.%s), b.g) = 1
	`, quoteIdent(string(dst)), quoteIdent(col), quoteIdent(string(src)), quoteIdent(col),
	) //#nosec G201 -- identifiers are quoted
	return e.create(ctx, dst, "clipping "+string(src), query,
		box.MinX, box.MinY, box.MaxX, box.MaxY, box.SRID)
}

// ClipToCell writes the parts of src inside the grid cell with cellID into
// dst. Cells are addressed by rowid, which is the cat column of generated
// grids and the feature id of GeoPackage layers.
func (e *Engine) ClipToCell(ctx context.Context, src, grid domain.Dataset, cellID int64, dst domain.Dataset) error {
	sc, gc, err := e.geomColumns(ctx, src, grid)
	if err != nil {
		return err
	}

	var n int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE rowid = ?`, quoteIdent(string(grid))) //#nosec G201
	if err := e.db.QueryRowContext(ctx, countQuery, cellID).Scan(&n); err != nil {
		return fmt.Errorf("looking up cell %d: %w", cellID, err)
	}
	if n == 0 {
		return fmt.Errorf("cell %d of %s: %w", cellID, grid, domain.ErrCellNotFound)
	}

	query := fmt.Sprintf(`
		CREATE TABLE %s AS
		WITH c AS (SELECT CastAutomagic(%s) AS g FROM %s WHERE rowid = ?)
		SELECT ST_Intersection(CastAutomagic(s.%s), c.g) AS geom
		FROM %s s, c
		WHERE ST_Intersects(CastAutomagic(s.%s), c.g) = 1
	`, quoteIdent(string(dst)),
		quoteIdent(gc), quoteIdent(string(grid)),
		quoteIdent(sc), quoteIdent(string(src)), quoteIdent(sc),
	) //#nosec G201 -- identifiers are quoted
	return e.create(ctx, dst, fmt.Sprintf("clipping %s to cell %d", src, cellID), query, cellID)
}

// CreateGrid writes a rows x cols grid of rectangles over region into dst.
func (e *Engine) CreateGrid(ctx context.Context, dst domain.Dataset, region domain.Extent, rows, cols int) (err error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	create := fmt.Sprintf(`CREATE TABLE %s (cat INTEGER PRIMARY KEY, geom BLOB)`, quoteIdent(string(dst))) //#nosec G201
	if _, err = tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("creating grid %s: %w", dst, err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (cat, geom) VALUES (?, BuildMbr(?, ?, ?, ?, ?))`, quoteIdent(string(dst))) //#nosec G201
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range domain.CellExtents(region, rows, cols) {
		if _, err = stmt.ExecContext(ctx, c.ID,
			c.Extent.MinX, c.Extent.MinY, c.Extent.MaxX, c.Extent.MaxY, region.SRID,
		); err != nil {
			return fmt.Errorf("inserting cell %d: %w", c.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	e.remember(dst, "geom")
	return nil
}

// SelectOverlapping returns the cells of grid intersecting any geometry of
// ds, ordered by id.
func (e *Engine) SelectOverlapping(ctx context.Context, grid, ds domain.Dataset) ([]domain.Cell, error) {
	gc, dc, err := e.geomColumns(ctx, grid, ds)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT g.id, MbrMinX(g.geom), MbrMinY(g.geom), MbrMaxX(g.geom), MbrMaxY(g.geom), ST_SRID(g.geom)
		FROM (SELECT rowid AS id, CastAutomagic(%s) AS geom FROM %s) g
		WHERE g.geom IS NOT NULL AND EXISTS (
			SELECT 1 FROM %s d
			WHERE MbrIntersects(CastAutomagic(d.%s), g.geom) = 1
			  AND ST_Intersects(CastAutomagic(d.%s), g.geom) = 1
		)
		ORDER BY g.id
	`, quoteIdent(gc), quoteIdent(string(grid)),
		quoteIdent(string(ds)), quoteIdent(dc), quoteIdent(dc),
	) //#nosec G201 -- identifiers are quoted

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("selecting cells of %s: %w", grid, err)
	}
	defer func() { _ = rows.Close() }()

	var cells []domain.Cell
	for rows.Next() {
		var c domain.Cell
		if err := rows.Scan(&c.ID,
			&c.Extent.MinX, &c.Extent.MinY, &c.Extent.MaxX, &c.Extent.MaxY, &c.Extent.SRID,
		); err != nil {
			return nil, fmt.Errorf("scanning cell: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// WriteCells writes the given cells of grid with their attributes into dst.
func (e *Engine) WriteCells(ctx context.Context, grid, dst domain.Dataset, cells []domain.Cell, layout domain.CellLayout) (err error) {
	gc, err := e.geomColumn(ctx, grid)
	if err != nil {
		return err
	}
	columns := layout.Columns()

	defs := []string{"cat INTEGER PRIMARY KEY", "geom BLOB"}
	names := []string{"cat", "geom"}
	marks := []string{"?", "CastAutomagic(" + quoteIdent(gc) + ")"}
	for _, c := range columns {
		typ := "REAL"
		if c.Text {
			typ = "TEXT"
		}
		defs = append(defs, quoteIdent(c.Name)+" "+typ)
		names = append(names, quoteIdent(c.Name))
		marks = append(marks, "?")
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	create := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(string(dst)), strings.Join(defs, ", ")) //#nosec G201
	if _, err = tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s WHERE rowid = ?`,
		quoteIdent(string(dst)), strings.Join(names, ", "), strings.Join(marks, ", "), quoteIdent(string(grid)),
	) //#nosec G201 -- identifiers are quoted
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, cell := range cells {
		args := make([]any, 0, len(columns)+2)
		args = append(args, cell.ID)
		for _, c := range columns {
			args = append(args, cell.Value(c.Name))
		}
		args = append(args, cell.ID)
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("writing cell %d: %w", cell.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	e.remember(dst, "geom")
	return nil
}

// Drop removes the named tables. Missing tables are ignored.
func (e *Engine) Drop(ctx context.Context, names ...domain.Dataset) error {
	var errs []error
	for _, n := range names {
		if _, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(string(n))); err != nil {
			errs = append(errs, fmt.Errorf("dropping %s: %w", n, err))
			continue
		}
		e.forget(n)
	}
	return errors.Join(errs...)
}

// DropMatching removes every table whose name contains namespace.
func (e *Engine) DropMatching(ctx context.Context, namespace string) error {
	if strings.TrimSpace(namespace) == "" {
		return &domain.ConfigError{Field: "namespace", Message: "namespace must not be empty"}
	}
	rows, err := e.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ESCAPE '\'`,
		"%"+escapeLike(namespace)+"%",
	)
	if err != nil {
		return err
	}
	var names []domain.Dataset
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			_ = rows.Close()
			return err
		}
		names = append(names, domain.Dataset(n))
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return e.Drop(ctx, names...)
}

// create runs a CREATE TABLE ... AS statement producing dst.
func (e *Engine) create(ctx context.Context, dst domain.Dataset, what, query string, args ...any) error {
	if _, err := e.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s into %s: %w", what, dst, err)
	}
	e.remember(dst, "geom")
	return nil
}

func (e *Engine) geomColumns(ctx context.Context, a, b domain.Dataset) (string, string, error) {
	ac, err := e.geomColumn(ctx, a)
	if err != nil {
		return "", "", err
	}
	bc, err := e.geomColumn(ctx, b)
	if err != nil {
		return "", "", err
	}
	return ac, bc, nil
}

// geomColumn resolves the geometry column of ds from the GeoPackage or
// SpatiaLite metadata, falling back to "geom".
func (e *Engine) geomColumn(ctx context.Context, ds domain.Dataset) (string, error) {
	e.mu.RLock()
	col, ok := e.geomCols[ds]
	e.mu.RUnlock()
	if ok {
		return col, nil
	}

	exists, err := e.Exists(ctx, ds)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%s: %w", ds, domain.ErrDatasetNotFound)
	}

	col = "geom"
	lookups := []struct{ table, query string }{
		{"gpkg_geometry_columns", "SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?"},
		{"geometry_columns", "SELECT f_geometry_column FROM geometry_columns WHERE lower(f_table_name) = lower(?)"},
	}
	for _, l := range lookups {
		if ok, err := e.Exists(ctx, domain.Dataset(l.table)); err != nil || !ok {
			continue
		}
		var name string
		err := e.db.QueryRowContext(ctx, l.query, string(ds)).Scan(&name)
		if err == nil {
			col = name
			break
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("reading geometry column of %s: %w", ds, err)
		}
	}

	e.remember(ds, col)
	return col, nil
}

func (e *Engine) remember(ds domain.Dataset, col string) {
	e.mu.Lock()
	e.geomCols[ds] = col
	e.mu.Unlock()
}

func (e *Engine) forget(ds domain.Dataset) {
	e.mu.Lock()
	delete(e.geomCols, ds)
	e.mu.Unlock()
}

// quoteIdent quotes an SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// escapeLike escapes the LIKE wildcards of s for use with ESCAPE '\'.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
