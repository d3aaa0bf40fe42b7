package geos

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geos"

	"github.com/jobrunner/osmacc/internal/domain"
)

// readShapefile loads the polylines or polygons of a shapefile. A "cat"
// attribute, when present, becomes the feature id; otherwise records are
// numbered from 1.
func readShapefile(path string) (*layer, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	catField := -1
	for i, f := range r.Fields() {
		if strings.EqualFold(fieldName(f), domain.ColumnCat) {
			catField = i
		}
	}

	l := &layer{}
	for r.Next() {
		n, shape := r.Shape()
		id := int64(n + 1)
		if catField >= 0 {
			if v, err := strconv.ParseInt(strings.TrimSpace(r.ReadAttribute(n, catField)), 10, 64); err == nil {
				id = v
			}
		}

		g, err := shapeToGeom(shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		if g != nil {
			l.add(g, id)
		}
	}
	return l, nil
}

// shapeToGeom converts a shapefile record. Null shapes yield nil.
func shapeToGeom(shape shp.Shape) (*geos.Geom, error) {
	switch s := shape.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.PolyLine:
		return lineGeom(s.Parts, s.Points), nil
	case *shp.PolyLineZ:
		return lineGeom(s.Parts, s.Points), nil
	case *shp.PolyLineM:
		return lineGeom(s.Parts, s.Points), nil
	case *shp.Polygon:
		return polygonGeom(s.Parts, s.Points), nil
	case *shp.PolygonZ:
		return polygonGeom(s.Parts, s.Points), nil
	case *shp.PolygonM:
		return polygonGeom(s.Parts, s.Points), nil
	}
	return nil, fmt.Errorf("unsupported shape type %T", shape)
}

// splitParts cuts points into the rings or lines starting at parts.
func splitParts(parts []int32, points []shp.Point) [][][]float64 {
	out := make([][][]float64, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(points)) {
			continue
		}
		coords := make([][]float64, 0, end-start)
		for _, p := range points[start:end] {
			coords = append(coords, []float64{p.X, p.Y})
		}
		out = append(out, coords)
	}
	return out
}

func lineGeom(parts []int32, points []shp.Point) *geos.Geom {
	lines := splitParts(parts, points)
	if len(lines) == 1 {
		return geos.NewLineString(lines[0])
	}
	geoms := make([]*geos.Geom, 0, len(lines))
	for _, coords := range lines {
		if len(coords) >= 2 {
			geoms = append(geoms, geos.NewLineString(coords))
		}
	}
	return geos.NewCollection(geos.TypeIDMultiLineString, geoms)
}

// polygonGeom groups shapefile rings into polygons. Clockwise rings are
// shells; counter-clockwise rings are holes of the preceding shell.
func polygonGeom(parts []int32, points []shp.Point) *geos.Geom {
	var polys [][][][]float64
	for _, ring := range splitParts(parts, points) {
		if len(ring) < 4 {
			continue
		}
		if signedArea(ring) > 0 && len(polys) > 0 {
			last := len(polys) - 1
			polys[last] = append(polys[last], ring)
			continue
		}
		polys = append(polys, [][][]float64{ring})
	}
	if len(polys) == 1 {
		return geos.NewPolygon(polys[0])
	}
	geoms := make([]*geos.Geom, len(polys))
	for i, p := range polys {
		geoms[i] = geos.NewPolygon(p)
	}
	return geos.NewCollection(geos.TypeIDMultiPolygon, geoms)
}

// writeCellShapefile writes the grid output: one polygon per cell with the
// cat field followed by the layout columns.
func writeCellShapefile(path string, geoms []*geos.Geom, cells []domain.Cell, layout domain.CellLayout) error {
	if len(geoms) != len(cells) {
		return errors.New("cell and geometry count differ")
	}
	columns := layout.Columns()
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	names = dbfFieldNames(names)

	fields := []shp.Field{shp.NumberField(domain.ColumnCat, 10)}
	for i, c := range columns {
		if c.Text {
			fields = append(fields, shp.StringField(names[i], 16))
		} else {
			fields = append(fields, shp.FloatField(names[i], 19, 6))
		}
	}

	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.SetFields(fields); err != nil {
		return fmt.Errorf("setting fields: %w", err)
	}

	for i, g := range geoms {
		poly := shapePolygon(g)
		row := int(w.Write(poly))
		if err := w.WriteAttribute(row, 0, int(cells[i].ID)); err != nil {
			return fmt.Errorf("writing cat of cell %d: %w", cells[i].ID, err)
		}
		for j, c := range columns {
			v := cells[i].Value(c.Name)
			if v == nil {
				continue
			}
			if err := w.WriteAttribute(row, j+1, v); err != nil {
				return fmt.Errorf("writing %s of cell %d: %w", c.Name, cells[i].ID, err)
			}
		}
	}
	return nil
}

// shapePolygon converts g to a shapefile polygon with clockwise shells and
// counter-clockwise holes.
func shapePolygon(g *geos.Geom) *shp.Polygon {
	var parts [][]shp.Point
	for _, rings := range polygonRings(g) {
		for i, ring := range rings {
			hole := i > 0
			if (signedArea(ring) > 0) != hole {
				reverse(ring)
			}
			pts := make([]shp.Point, len(ring))
			for k, c := range ring {
				pts[k] = shp.Point{X: c[0], Y: c[1]}
			}
			parts = append(parts, pts)
		}
	}
	poly := shp.Polygon(*shp.NewPolyLine(parts))
	return &poly
}

func reverse(ring [][]float64) {
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
}

// dbfFieldName maps a column name onto the DBF limits: at most 10
// characters, no dots.
func dbfFieldName(name string) string {
	name = strings.ReplaceAll(name, ".", "_")
	if len(name) > 10 {
		name = name[:10]
	}
	return name
}

// dbfFieldNames maps column names with dbfFieldName and numbers the tail of
// names that would collide, so t_1.2345678 and t_1.2345679 stay distinct
// columns (t_1_234567 and t_1_2345_2).
func dbfFieldNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, name := range names {
		short := dbfFieldName(name)
		for n := 2; used[strings.ToUpper(short)]; n++ {
			suffix := "_" + strconv.Itoa(n)
			base := dbfFieldName(name)
			if len(base) > 10-len(suffix) {
				base = base[:10-len(suffix)]
			}
			short = base + suffix
		}
		used[strings.ToUpper(short)] = true
		out[i] = short
	}
	return out
}

func fieldName(f shp.Field) string {
	return strings.TrimRight(string(f.Name[:]), "\x00")
}
