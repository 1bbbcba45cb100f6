package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// qscale:v 2 is near-lossless JPEG.
const frameJPEGQuality = 2

// ProbeInfo describes a decoded video file.
type ProbeInfo struct {
	Duration  float64
	Width     int
	Height    int
	Codec     string
	FrameRate float64
}

// Extractor decodes videos into frame and thumbnail artifacts.
type Extractor interface {
	// Probe inspects a video file. An unreadable or corrupt file
	// returns a DecodeError.
	Probe(ctx context.Context, path string) (*ProbeInfo, error)

	// ExtractFrame decodes the single frame nearest to offset seconds
	// and writes it to outPath.
	ExtractFrame(ctx context.Context, path string, offset float64, outPath string) error

	// Thumbnail decodes the frame nearest to offset seconds, scales it
	// to width x height and writes it to outPath.
	Thumbnail(ctx context.Context, path string, offset float64, outPath string, width, height int) error
}

// FFmpegExtractor is the production Extractor backed by the ffmpeg and
// ffprobe binaries.
type FFmpegExtractor struct {
	logger *slog.Logger
}

func NewFFmpegExtractor(logger *slog.Logger) *FFmpegExtractor {
	return &FFmpegExtractor{logger: logger}
}

func (e *FFmpegExtractor) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &DecodeError{Path: path, Cause: err}
	}

	out, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Cause: err}
	}

	info, err := parseProbe(out)
	if err != nil {
		return nil, &DecodeError{Path: path, Cause: err}
	}
	return info, nil
}

func (e *FFmpegExtractor) ExtractFrame(ctx context.Context, path string, offset float64, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create frame directory: %w", err)
	}

	outArgs := ffmpeg.KwArgs{"frames:v": 1}
	if strings.HasSuffix(outPath, ".jpg") {
		outArgs["qscale:v"] = frameJPEGQuality
	}

	err := ffmpeg.Input(path, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", offset)}).
		Output(outPath, outArgs).
		OverWriteOutput().
		Run()
	if err != nil {
		return fmt.Errorf("ffmpeg frame extraction at %.3fs failed: %w", offset, err)
	}

	// Seeking past the last frame exits zero without writing output.
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("no frame decoded at %.3fs", offset)
	}
	return nil
}

func (e *FFmpegExtractor) Thumbnail(ctx context.Context, path string, offset float64, outPath string, width, height int) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return &ThumbnailError{Path: path, Cause: err}
	}

	err := ffmpeg.Input(path, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", offset)}).
		Output(outPath, ffmpeg.KwArgs{
			"frames:v": 1,
			"vf":       fmt.Sprintf("scale=%d:%d", width, height),
			"qscale:v": frameJPEGQuality,
		}).
		OverWriteOutput().
		Run()
	if err != nil {
		return &ThumbnailError{Path: path, Cause: err}
	}

	if _, err := os.Stat(outPath); err != nil {
		return &ThumbnailError{Path: path, Cause: fmt.Errorf("no frame decoded at %.3fs", offset)}
	}
	return nil
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(raw string) (*ProbeInfo, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe output: %w", err)
	}

	info := &ProbeInfo{}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse duration %q: %w", out.Format.Duration, err)
		}
		info.Duration = d
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width = s.Width
		info.Height = s.Height
		info.Codec = s.CodecName
		info.FrameRate = parseFrameRate(s.AvgFrameRate)
		break
	}

	if info.Duration <= 0 {
		return nil, fmt.Errorf("no duration reported")
	}
	if info.Codec == "" {
		return nil, fmt.Errorf("no video stream found")
	}
	return info, nil
}

// parseFrameRate parses ffprobe's rational frame rate, e.g. "30000/1001".
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
