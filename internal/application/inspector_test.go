package application

import (
	"context"
	"errors"
	"testing"

	"github.com/jobrunner/osmacc/internal/domain"
)

func TestInspectorService_Describe(t *testing.T) {
	engine := newNetworkEngine()
	engine.addLines("empty")
	svc := NewInspectorService(engine)

	tests := []struct {
		name       string
		dataset    domain.Dataset
		wantLength float64
		wantExtent domain.Extent
		wantErr    error
	}{
		{
			name:       "reference",
			dataset:    "ref",
			wantLength: 100,
			wantExtent: domain.Extent{MinX: 0, MinY: 0, MaxX: 100, MaxY: 0, SRID: 25832},
		},
		{
			name:       "candidate",
			dataset:    "osm",
			wantLength: 90,
			wantExtent: domain.Extent{MinX: 0, MinY: 2, MaxX: 90, MaxY: 8, SRID: 25832},
		},
		{name: "empty dataset", dataset: "empty"},
		{name: "missing", dataset: "nope", wantErr: domain.ErrNotFound},
		{name: "blank name", dataset: " ", wantErr: domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := svc.Describe(context.Background(), tt.dataset)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Describe() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Describe() error = %v", err)
			}
			if info.TotalLength != tt.wantLength {
				t.Errorf("TotalLength = %v, want %v", info.TotalLength, tt.wantLength)
			}
			if info.Extent != tt.wantExtent {
				t.Errorf("Extent = %v, want %v", info.Extent, tt.wantExtent)
			}
		})
	}
}

func TestInspectorService_Ping(t *testing.T) {
	engine := newMockEngine()
	svc := NewInspectorService(engine)

	if err := svc.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	engine.failOps["exists"] = errors.New("database is locked")
	if err := svc.Ping(context.Background()); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("Ping() error = %v, want ErrUnavailable", err)
	}
}
