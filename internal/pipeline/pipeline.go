// Package pipeline turns uploaded videos into their derived artifacts:
// sampled frames, a thumbnail and a multimodal index entry. Each video
// moves uploaded -> processing -> ready or failed; runs are exclusive
// per video and safe to repeat.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/videochat/videochat-backend/internal/config"
	"github.com/videochat/videochat-backend/internal/gemini"
	"github.com/videochat/videochat-backend/internal/media"
	"github.com/videochat/videochat-backend/internal/store"
)

type Pipeline struct {
	cfg       config.Config
	repo      store.Repository
	extractor media.Extractor
	indexer   gemini.Service
	leases    *Leases
	logger    *slog.Logger
}

func New(cfg config.Config, repo store.Repository, extractor media.Extractor, indexer gemini.Service, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		repo:      repo,
		extractor: extractor,
		indexer:   indexer,
		leases:    NewLeases(),
		logger:    logger.With("component", "pipeline"),
	}
}

// Process runs the decomposition pipeline for one video. A video that
// is already ready is left alone unless force is set, in which case
// its derived state is cleared and rebuilt. Returns
// ConcurrentProcessingError when another run holds the video's lease.
func (p *Pipeline) Process(ctx context.Context, videoID string, force bool) error {
	video, err := p.repo.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		return &store.NotFoundError{VideoID: videoID}
	}

	if !p.leases.Acquire(video.ID) {
		return &ConcurrentProcessingError{VideoID: video.ID, Status: video.Status}
	}
	defer p.leases.Release(video.ID)

	logger := p.logger.With("video_id", video.ID)

	switch video.Status {
	case store.StatusReady:
		if !force {
			logger.Info("video already processed, skipping")
			return nil
		}
		if err := p.repo.UpdateStatus(ctx, video.ID, store.StatusUploaded, ""); err != nil {
			return err
		}
		if err := p.clearDerived(ctx, video.ID); err != nil {
			return err
		}
	case store.StatusFailed:
		if err := p.repo.UpdateStatus(ctx, video.ID, store.StatusUploaded, ""); err != nil {
			return err
		}
		if err := p.clearDerived(ctx, video.ID); err != nil {
			return err
		}
	case store.StatusProcessing:
		// Stale row from before our lease existed. Rows left in
		// processing by a crash are reset at startup, so refuse rather
		// than race whatever wrote it.
		return &ConcurrentProcessingError{VideoID: video.ID, Status: video.Status}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout())
	defer cancel()
	p.leases.SetCancel(video.ID, cancel)

	if err := p.repo.UpdateStatus(ctx, video.ID, store.StatusProcessing, ""); err != nil {
		return err
	}

	logger.Info("processing started", "force", force)
	start := time.Now()

	if err := p.run(runCtx, video); err != nil {
		logger.Error("processing failed", "error", err, "elapsed", time.Since(start))
		p.cleanupFailedRun(video.ID)
		// Status writes use the parent context so cancellation of the
		// run itself cannot lose the terminal state.
		if serr := p.repo.UpdateStatus(context.WithoutCancel(ctx), video.ID, store.StatusFailed, err.Error()); serr != nil {
			logger.Error("failed to record failure", "error", serr)
		}
		return err
	}

	if err := p.repo.UpdateStatus(ctx, video.ID, store.StatusReady, ""); err != nil {
		return err
	}
	logger.Info("processing completed", "elapsed", time.Since(start))
	return nil
}

// Cancel aborts an in-flight run for the video, if any.
func (p *Pipeline) Cancel(videoID string) bool {
	return p.leases.Cancel(videoID)
}

// Processing reports whether the video has a run in flight.
func (p *Pipeline) Processing(videoID string) bool {
	return p.leases.Held(videoID)
}

func (p *Pipeline) run(ctx context.Context, video *store.Video) error {
	logger := p.logger.With("video_id", video.ID)

	info, err := p.extractor.Probe(ctx, video.Path)
	if err != nil {
		return err
	}
	if err := p.repo.SetDuration(ctx, video.ID, info.Duration); err != nil {
		return &StorageWriteError{VideoID: video.ID, Cause: err}
	}

	policy := media.SamplePolicy{
		IntervalSeconds: p.cfg.FrameInterval(),
		MaxFrames:       p.cfg.MaxFrames(),
		Format:          p.cfg.FrameFormat(),
	}
	offsets := media.PlanSamples(info.Duration, policy)
	logger.Info("sampling planned",
		"duration", info.Duration,
		"interval", policy.IntervalSeconds,
		"planned_frames", len(offsets),
	)

	frameDir := filepath.Join(p.cfg.FramesDir(), video.ID)
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return &StorageWriteError{VideoID: video.ID, Cause: err}
	}

	extracted, err := p.extractFrames(ctx, video, offsets, frameDir)
	if err != nil {
		return err
	}
	if len(offsets) > 0 && extracted == 0 {
		return &media.DecodeError{Path: video.Path, Cause: errors.New("no frames could be extracted")}
	}

	if err := p.makeThumbnail(ctx, video); err != nil {
		// A missing thumbnail degrades the video, it does not fail it.
		logger.Warn("thumbnail generation failed", "error", err)
	}

	p.indexVideo(ctx, video)
	return nil
}

// extractFrames walks the planned offsets, extracting each frame and
// persisting metadata in batches. Offsets that fail to decode are
// skipped; the count of successfully extracted frames is returned.
func (p *Pipeline) extractFrames(ctx context.Context, video *store.Video, offsets []float64, frameDir string) (int, error) {
	logger := p.logger.With("video_id", video.ID)
	format := p.cfg.FrameFormat()
	batchSize := p.cfg.FrameBatchSize()

	var batch []*store.Frame
	extracted := 0
	for _, offset := range offsets {
		if err := ctx.Err(); err != nil {
			return extracted, err
		}

		// Sequence indices count extracted frames, not planned offsets,
		// so a skipped offset leaves no gap.
		seq := extracted
		outPath := filepath.Join(frameDir, media.FrameFileName(seq, format))
		if err := p.extractor.ExtractFrame(ctx, video.Path, offset, outPath); err != nil {
			logger.Warn("frame extraction failed, skipping offset",
				"offset", offset,
				"error", err,
			)
			continue
		}

		batch = append(batch, &store.Frame{
			ID:        store.NewID(),
			VideoID:   video.ID,
			Seq:       seq,
			Timestamp: offset,
			Path:      outPath,
		})
		extracted++

		if len(batch) >= batchSize {
			if err := p.appendWithRetry(ctx, video.ID, batch); err != nil {
				return extracted, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := p.appendWithRetry(ctx, video.ID, batch); err != nil {
			return extracted, err
		}
	}
	return extracted, nil
}

// appendWithRetry persists a frame batch, retrying transient storage
// failures with exponential backoff before giving up.
func (p *Pipeline) appendWithRetry(ctx context.Context, videoID string, frames []*store.Frame) error {
	attempts := p.cfg.StorageAttempts()
	backoff := p.cfg.BackoffBase()

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := p.repo.AppendFrames(ctx, videoID, frames); err != nil {
			lastErr = err
			p.logger.Warn("frame batch write failed",
				"video_id", videoID,
				"attempt", i+1,
				"error", err,
			)
			continue
		}
		return nil
	}
	return &StorageWriteError{VideoID: videoID, Cause: fmt.Errorf("after %d attempts: %w", attempts, lastErr)}
}

// makeThumbnail renders the poster frame, falling back to offset zero
// when the configured offset cannot be decoded.
func (p *Pipeline) makeThumbnail(ctx context.Context, video *store.Video) error {
	if err := os.MkdirAll(p.cfg.ThumbnailsDir(), 0o755); err != nil {
		return &media.ThumbnailError{Path: video.Path, Cause: err}
	}
	outPath := filepath.Join(p.cfg.ThumbnailsDir(), video.ID+".jpg")
	w, h := p.cfg.ThumbnailWidth(), p.cfg.ThumbnailHeight()

	err := p.extractor.Thumbnail(ctx, video.Path, p.cfg.ThumbnailOffset(), outPath, w, h)
	if err != nil {
		p.logger.Warn("thumbnail offset failed, retrying at start",
			"video_id", video.ID,
			"offset", p.cfg.ThumbnailOffset(),
			"error", err,
		)
		if err = p.extractor.Thumbnail(ctx, video.Path, 0, outPath, w, h); err != nil {
			return err
		}
	}

	return p.repo.ReplaceThumbnail(ctx, &store.Thumbnail{
		VideoID:   video.ID,
		Path:      outPath,
		CreatedAt: time.Now().UTC(),
	})
}

// indexVideo hands the extracted frames to the multimodal service.
// Indexing failures leave the video ready but search-unavailable.
func (p *Pipeline) indexVideo(ctx context.Context, video *store.Video) {
	logger := p.logger.With("video_id", video.ID)

	frames, err := p.repo.ListFramesByVideo(ctx, video.ID)
	if err != nil {
		logger.Warn("skipping indexing, failed to load frames", "error", err)
		return
	}
	thumb, err := p.repo.GetThumbnail(ctx, video.ID)
	if err != nil {
		logger.Warn("failed to load thumbnail for indexing", "error", err)
	}

	indexCtx, cancel := context.WithTimeout(ctx, p.cfg.IndexTimeout())
	defer cancel()

	handle, err := p.indexer.IndexVideo(indexCtx, video, frames, thumb)
	if err != nil {
		logger.Warn("indexing failed, video will not be searchable", "error", err)
		if serr := p.repo.SetIndexHandle(ctx, video.ID, "", false); serr != nil {
			logger.Error("failed to record index state", "error", serr)
		}
		return
	}
	if err := p.repo.SetIndexHandle(ctx, video.ID, handle, true); err != nil {
		logger.Error("failed to record index handle", "error", err)
	}
}

// clearDerived drops a video's frames, thumbnail and index state, rows
// first and then artifacts, before a forced redo.
func (p *Pipeline) clearDerived(ctx context.Context, videoID string) error {
	if thumb, err := p.repo.GetThumbnail(ctx, videoID); err == nil && thumb != nil {
		os.Remove(thumb.Path)
	}
	if err := p.repo.DeleteThumbnail(ctx, videoID); err != nil {
		return err
	}
	if err := p.repo.DeleteFrames(ctx, videoID); err != nil {
		return err
	}
	if err := p.repo.SetIndexHandle(ctx, videoID, "", false); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(p.cfg.FramesDir(), videoID))
}

// cleanupFailedRun removes partial artifacts and rows so a failed
// video holds no derived state.
func (p *Pipeline) cleanupFailedRun(videoID string) {
	ctx := context.Background()
	if err := p.clearDerived(ctx, videoID); err != nil {
		p.logger.Error("failed to clean up after failed run", "video_id", videoID, "error", err)
	}
}
