// Package storage provides object storage adapters for staging input
// datasets and publishing run outputs.
package storage

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// datasetExtensions are the file types a run can read: SpatiaLite and
// GeoPackage databases, shapefiles with their sidecars and GeoJSON.
var datasetExtensions = map[string]bool{
	".sqlite":  true,
	".db":      true,
	".gpkg":    true,
	".shp":     true,
	".shx":     true,
	".dbf":     true,
	".prj":     true,
	".cpg":     true,
	".geojson": true,
	".json":    true,
}

// IsDatasetFile reports whether name has a dataset file extension.
func IsDatasetFile(name string) bool {
	return datasetExtensions[strings.ToLower(path.Ext(name))]
}

// relativeKey strips prefix and a leading slash from key.
func relativeKey(key, prefix string) string {
	key = strings.TrimPrefix(key, prefix)
	return strings.TrimPrefix(key, "/")
}

// joinKey prefixes key, if a prefix is set.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

// writeFile streams r into dest, creating parent directories.
func writeFile(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}
	f, err := os.Create(dest) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
