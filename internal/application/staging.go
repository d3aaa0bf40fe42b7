package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// StageResult contains the result of a staging operation.
type StageResult struct {
	Downloaded int       `json:"downloaded"`
	Skipped    int       `json:"skipped"`
	Total      int       `json:"total"`
	StagedAt   time.Time `json:"staged_at"`
}

// StagingService copies input datasets from object storage into the local
// staging directory before a run and publishes run outputs afterwards.
type StagingService struct {
	storage       output.ObjectStorage
	metrics       output.MetricsCollector
	logger        *slog.Logger
	stagingDir    string
	publishPrefix string

	// Prevents concurrent staging into the same directory
	mu sync.Mutex
}

// StagingServiceConfig holds configuration for the staging service.
type StagingServiceConfig struct {
	StagingDir    string
	PublishPrefix string
}

// NewStagingService creates a new staging service.
func NewStagingService(storage output.ObjectStorage, metrics output.MetricsCollector, logger *slog.Logger, cfg StagingServiceConfig) *StagingService {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &StagingService{
		storage:       storage,
		metrics:       metrics,
		logger:        logger,
		stagingDir:    cfg.StagingDir,
		publishPrefix: strings.Trim(cfg.PublishPrefix, "/"),
	}
}

// Stage downloads every dataset file that is missing locally or whose size
// differs from the stored object.
func (s *StagingService) Stage(ctx context.Context) (StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("staging datasets from storage", "dir", s.stagingDir)

	start := time.Now()
	objects, err := s.storage.List(ctx)
	s.metrics.IncStorageOperations("list", err == nil)
	s.metrics.ObserveStorageDuration("list", time.Since(start))
	if err != nil {
		return StageResult{}, err
	}

	result := StageResult{Total: len(objects)}
	for _, obj := range objects {
		localPath := filepath.Join(s.stagingDir, filepath.FromSlash(obj.Key))
		if info, err := os.Stat(localPath); err == nil && info.Size() == obj.Size {
			s.logger.Debug("dataset already staged, skipping", "key", obj.Key)
			result.Skipped++
			continue
		}

		start := time.Now()
		err := s.storage.Download(ctx, obj.Key, localPath)
		s.metrics.IncStorageOperations("download", err == nil)
		s.metrics.ObserveStorageDuration("download", time.Since(start))
		if err != nil {
			return result, fmt.Errorf("staging %s: %w", obj.Key, err)
		}
		result.Downloaded++
		s.logger.Debug("dataset staged", "key", obj.Key, "path", localPath)
	}

	result.StagedAt = time.Now()
	s.logger.Info("staging completed",
		"downloaded", result.Downloaded,
		"skipped", result.Skipped,
		"total", result.Total,
	)
	return result, nil
}

// Publish uploads the given local files. Shapefile sidecar files next to a
// .shp are uploaded with it. Missing files are an error.
func (s *StagingService) Publish(ctx context.Context, paths ...string) error {
	var errs []error
	for _, p := range paths {
		for _, f := range withSidecars(p) {
			if err := s.upload(ctx, f); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *StagingService) upload(ctx context.Context, file string) error {
	if _, err := os.Stat(file); err != nil {
		return &domain.StorageError{Operation: "upload", Key: file, Err: err}
	}
	key := filepath.Base(file)
	if s.publishPrefix != "" {
		key = path.Join(s.publishPrefix, key)
	}

	start := time.Now()
	err := s.storage.Upload(ctx, file, key)
	s.metrics.IncStorageOperations("upload", err == nil)
	s.metrics.ObserveStorageDuration("upload", time.Since(start))
	if err != nil {
		return fmt.Errorf("publishing %s: %w", file, err)
	}
	s.logger.Info("published", "file", file, "key", key)
	return nil
}

var shapefileSidecars = []string{".shx", ".dbf", ".prj", ".cpg"}

// withSidecars returns file plus the existing sidecars of a shapefile.
func withSidecars(file string) []string {
	files := []string{file}
	ext := filepath.Ext(file)
	if !strings.EqualFold(ext, ".shp") {
		return files
	}
	base := strings.TrimSuffix(file, ext)
	for _, side := range shapefileSidecars {
		if _, err := os.Stat(base + side); err == nil {
			files = append(files, base+side)
		}
	}
	return files
}
