// Package report serializes sweep reports to files.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/osmacc/internal/domain"
)

// Format selects the report encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Stdout is the destination that writes the report to standard output.
const Stdout = "-"

// ParseFormat validates a format name. An empty name selects text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", &domain.ConfigError{Field: "format", Message: fmt.Sprintf("unknown report format %q", s)}
}

// Options configures a Writer.
type Options struct {
	Format     Format
	SeriesPath string    // optional CSV of the chart series
	Stdout     io.Writer // used for the "-" destination, os.Stdout if nil
}

// Writer implements output.ReportWriter. Files are replaced atomically so a
// failed run never leaves a truncated report behind.
type Writer struct {
	format Format
	series string
	stdout io.Writer
}

// New creates a report writer.
func New(opts Options) (*Writer, error) {
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Writer{format: format, series: opts.SeriesPath, stdout: stdout}, nil
}

// WriteSweep encodes report and writes it to dest, then writes the chart
// series when a series path is configured.
func (w *Writer) WriteSweep(ctx context.Context, dest string, report *domain.SweepReport) error {
	if report == nil {
		return fmt.Errorf("nil report: %w", domain.ErrInvalidInput)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, w.format, report); err != nil {
		return err
	}

	if dest == Stdout {
		if _, err := w.stdout.Write(buf.Bytes()); err != nil {
			return err
		}
	} else if err := writeAtomic(ctx, dest, buf.Bytes()); err != nil {
		return &domain.StorageError{Operation: "write", Key: dest, Err: err}
	}

	if w.series == "" {
		return nil
	}
	buf.Reset()
	if err := WriteSeries(&buf, report); err != nil {
		return err
	}
	if err := writeAtomic(ctx, w.series, buf.Bytes()); err != nil {
		return &domain.StorageError{Operation: "write", Key: w.series, Err: err}
	}
	return nil
}

// Encode writes report to out in the given format.
func Encode(out io.Writer, format Format, report *domain.SweepReport) error {
	switch format {
	case FormatText, "":
		return WriteText(out, report)
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}
	return &domain.ConfigError{Field: "format", Message: fmt.Sprintf("unknown report format %q", format)}
}

// writeAtomic writes data to a temporary file next to dest and renames it
// into place. Missing parent directories are created.
func writeAtomic(ctx context.Context, dest string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil { //#nosec G302 -- reports are meant to be shared
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
