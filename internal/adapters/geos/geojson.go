package geos

import (
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/twpayne/go-geos"

	"github.com/jobrunner/osmacc/internal/domain"
)

// readGeoJSON loads a FeatureCollection, a single Feature or a bare
// geometry. Feature ids come from the "cat" property, then the feature
// "id", then the position.
func readGeoJSON(path string) (*layer, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path resolved inside the workspace
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(data)

	var features []gjson.Result
	switch doc.Get("type").String() {
	case "FeatureCollection":
		features = doc.Get("features").Array()
	case "Feature":
		features = []gjson.Result{doc}
	default:
		g, err := geos.NewGeomFromGeoJSON(doc.Raw)
		if err != nil {
			return nil, err
		}
		return &layer{geoms: []*geos.Geom{g}, ids: []int64{1}}, nil
	}

	l := &layer{}
	for i, f := range features {
		geom := f.Get("geometry")
		if !geom.Exists() || geom.Type == gjson.Null {
			continue
		}
		g, err := geos.NewGeomFromGeoJSON(geom.Raw)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		l.add(g, featureID(f, i))
	}
	return l, nil
}

func featureID(f gjson.Result, index int) int64 {
	if cat := f.Get("properties." + domain.ColumnCat); cat.Type == gjson.Number {
		return cat.Int()
	}
	if id := f.Get("id"); id.Type == gjson.Number {
		return id.Int()
	}
	return int64(index + 1)
}
