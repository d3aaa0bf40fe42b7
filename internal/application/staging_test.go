package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jobrunner/osmacc/internal/ports/output"
)

func TestStagingService_Stage(t *testing.T) {
	dir := t.TempDir()
	// already staged with the stored size
	if err := os.WriteFile(filepath.Join(dir, "ref.gpkg"), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	storage := &mockStorage{objects: []output.StorageObject{
		{Key: "ref.gpkg", Size: 5},
		{Key: "osm.gpkg", Size: 10},
		{Key: "roads/osm.shp", Size: 3},
	}}
	svc := NewStagingService(storage, nil, testLogger(), StagingServiceConfig{StagingDir: dir})

	result, err := svc.Stage(context.Background())
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if result.Total != 3 || result.Downloaded != 2 || result.Skipped != 1 {
		t.Errorf("Stage() = %+v, want 3 total, 2 downloaded, 1 skipped", result)
	}
	if len(storage.downloaded) != 2 || storage.downloaded[0] != "osm.gpkg" || storage.downloaded[1] != "roads/osm.shp" {
		t.Errorf("downloaded = %v", storage.downloaded)
	}
	if result.StagedAt.IsZero() {
		t.Error("StagedAt not set")
	}
}

func TestStagingService_StageErrors(t *testing.T) {
	boom := errors.New("connection reset")

	svc := NewStagingService(&mockStorage{listErr: boom}, nil, testLogger(), StagingServiceConfig{StagingDir: t.TempDir()})
	if _, err := svc.Stage(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Stage() error = %v, want %v", err, boom)
	}

	storage := &mockStorage{
		objects:     []output.StorageObject{{Key: "osm.gpkg", Size: 1}},
		downloadErr: boom,
	}
	svc = NewStagingService(storage, nil, testLogger(), StagingServiceConfig{StagingDir: t.TempDir()})
	if _, err := svc.Stage(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Stage() error = %v, want %v", err, boom)
	}
}

func TestStagingService_Publish(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"accuracy.shp", "accuracy.shx", "accuracy.dbf", "report.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	storage := &mockStorage{}
	svc := NewStagingService(storage, nil, testLogger(), StagingServiceConfig{PublishPrefix: "/results/"})

	err := svc.Publish(context.Background(), filepath.Join(dir, "accuracy.shp"), filepath.Join(dir, "report.txt"))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	for _, key := range []string{"results/accuracy.shp", "results/accuracy.shx", "results/accuracy.dbf", "results/report.txt"} {
		if _, ok := storage.uploaded[key]; !ok {
			t.Errorf("%s not uploaded; got %v", key, storage.uploaded)
		}
	}
	if _, ok := storage.uploaded["results/accuracy.prj"]; ok {
		t.Error("missing sidecar uploaded")
	}
}

func TestStagingService_PublishMissingFile(t *testing.T) {
	storage := &mockStorage{}
	svc := NewStagingService(storage, nil, testLogger(), StagingServiceConfig{})

	err := svc.Publish(context.Background(), filepath.Join(t.TempDir(), "nothing.txt"))
	if err == nil {
		t.Fatal("Publish() error = nil, want missing file error")
	}
	if len(storage.uploaded) != 0 {
		t.Errorf("uploaded = %v, want nothing", storage.uploaded)
	}
}
