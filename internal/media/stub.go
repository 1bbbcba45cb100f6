package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// StubExtractor is an in-memory Extractor used in tests and keyless
// development. It reports a fixed duration and writes placeholder
// artifact bytes instead of invoking ffmpeg.
type StubExtractor struct {
	logger *slog.Logger

	Info             ProbeInfo
	ProbeErr         error
	FailOffsets      map[float64]bool // offsets whose extraction fails (degraded)
	FailThumb        bool
	FailThumbOffsets map[float64]bool
}

func NewStubExtractor(duration float64, logger *slog.Logger) *StubExtractor {
	return &StubExtractor{
		logger: logger,
		Info: ProbeInfo{
			Duration:  duration,
			Width:     1280,
			Height:    720,
			Codec:     "h264",
			FrameRate: 30,
		},
	}
}

func (s *StubExtractor) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	if s.ProbeErr != nil {
		return nil, s.ProbeErr
	}
	info := s.Info
	return &info, nil
}

func (s *StubExtractor) ExtractFrame(ctx context.Context, path string, offset float64, outPath string) error {
	if s.FailOffsets[offset] {
		return fmt.Errorf("no frame decoded at %.3fs", offset)
	}
	return writeStubArtifact(outPath, fmt.Sprintf("frame@%.3f", offset))
}

func (s *StubExtractor) Thumbnail(ctx context.Context, path string, offset float64, outPath string, width, height int) error {
	if s.FailThumb || s.FailThumbOffsets[offset] {
		return &ThumbnailError{Path: path, Cause: fmt.Errorf("stub thumbnail failure")}
	}
	return writeStubArtifact(outPath, fmt.Sprintf("thumb@%.3f %dx%d", offset, width, height))
}

func writeStubArtifact(outPath, content string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte(content), 0644)
}
