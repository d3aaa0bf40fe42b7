// Package domain contains the core entities and value objects of the
// line-network coverage assessment.
package domain

import "strings"

// Dataset identifies a collection of geometries known to the geometry engine.
// For the SpatiaLite engine it is a table name, for the GEOS engine a layer name.
type Dataset string

// String returns the dataset name.
func (d Dataset) String() string {
	return string(d)
}

// IsZero reports whether the identifier is unset.
func (d Dataset) IsZero() bool {
	return strings.TrimSpace(string(d)) == ""
}

// Role names the part a dataset plays in a comparison.
type Role string

// Dataset roles.
const (
	RoleCandidate Role = "candidate"
	RoleReference Role = "reference"
	RoleRegion    Role = "region"
	RoleGrid      Role = "grid"
	RoleOutput    Role = "output"
)

// LineDataset is a dataset together with its derived total length.
// TotalLength is the sum of all feature lengths in the dataset's linear unit.
type LineDataset struct {
	Name        Dataset
	TotalLength float64
}

// IsEmpty reports whether the dataset carries no measurable geometry.
// Empty datasets short-circuit every downstream computation.
func (d LineDataset) IsEmpty() bool {
	return d.TotalLength <= 0
}
