package geos

import (
	"github.com/twpayne/go-geos"

	"github.com/jobrunner/osmacc/internal/domain"
)

// unionAll dissolves geoms with a divide and conquer union. It returns nil
// for no input. The inputs are left untouched.
func unionAll(geoms []*geos.Geom) *geos.Geom {
	switch len(geoms) {
	case 0:
		return nil
	case 1:
		return geoms[0].Clone()
	}
	mid := len(geoms) / 2
	left := unionAll(geoms[:mid])
	right := unionAll(geoms[mid:])
	result := left.Union(right)

	// Clean up to free memory
	left.Destroy()
	right.Destroy()
	return result
}

func cloneAll(geoms []*geos.Geom) []*geos.Geom {
	out := make([]*geos.Geom, len(geoms))
	for i, g := range geoms {
		out[i] = g.Clone()
	}
	return out
}

// rectangle returns the polygon of an extent.
func rectangle(e domain.Extent) *geos.Geom {
	return geos.NewPolygon([][][]float64{{
		{e.MinX, e.MinY},
		{e.MaxX, e.MinY},
		{e.MaxX, e.MaxY},
		{e.MinX, e.MaxY},
		{e.MinX, e.MinY},
	}})
}

// bounds returns the combined bounding box of geoms, false when there is
// no non-empty geometry.
func bounds(geoms []*geos.Geom) (domain.Extent, bool) {
	var ext domain.Extent
	found := false
	for _, g := range geoms {
		if g.IsEmpty() {
			continue
		}
		b := g.Bounds()
		if !found {
			ext = domain.Extent{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
			found = true
			continue
		}
		ext.MinX, ext.MinY = min(ext.MinX, b.MinX), min(ext.MinY, b.MinY)
		ext.MaxX, ext.MaxY = max(ext.MaxX, b.MaxX), max(ext.MaxY, b.MaxY)
	}
	return ext, found
}

func boxesOverlap(a, b *geos.Box2D) bool {
	return a.MinX <= b.MaxX && b.MinX <= a.MaxX && a.MinY <= b.MaxY && b.MinY <= a.MaxY
}

// signedArea returns twice the signed area of a closed ring; positive for
// counter-clockwise rings.
func signedArea(ring [][]float64) float64 {
	a := 0.0
	for i := 0; i+1 < len(ring); i++ {
		a += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return a
}

// polygonRings returns the rings of every polygon in g, shells first.
func polygonRings(g *geos.Geom) [][][][]float64 {
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		if g.IsEmpty() {
			return nil
		}
		rings := [][][]float64{g.ExteriorRing().CoordSeq().ToCoords()}
		for i := 0; i < g.NumInteriorRings(); i++ {
			rings = append(rings, g.InteriorRing(i).CoordSeq().ToCoords())
		}
		return [][][][]float64{rings}
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		var out [][][][]float64
		for i := 0; i < g.NumGeometries(); i++ {
			out = append(out, polygonRings(g.Geometry(i))...)
		}
		return out
	}
	return nil
}
