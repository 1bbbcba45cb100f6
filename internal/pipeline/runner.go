package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/videochat/videochat-backend/internal/store"
)

// Runner polls for uploaded videos and feeds them through the
// pipeline, bounded by a fixed worker pool.
type Runner struct {
	pipeline     *Pipeline
	repo         store.Repository
	logger       *slog.Logger
	pollInterval time.Duration
	workers      int
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(pipeline *Pipeline, repo store.Repository, workers int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		pipeline:     pipeline,
		repo:         repo,
		logger:       logger.With("component", "runner"),
		pollInterval: 2 * time.Second,
		workers:      workers,
	}
}

// Start blocks until ctx is cancelled, dispatching pending videos on
// each poll tick.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("pipeline runner started", "workers", r.workers)

	sem := make(chan struct{}, r.workers)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("pipeline runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.dispatchPending(ctx, sem)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("pipeline runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("pipeline runner resumed")
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) dispatchPending(ctx context.Context, sem chan struct{}) {
	videos, err := r.repo.ListVideosByStatus(ctx, store.StatusUploaded)
	if err != nil {
		r.logger.Error("failed to list pending videos", "error", err)
		return
	}

	for _, v := range videos {
		if ctx.Err() != nil {
			return
		}
		if r.pipeline.Processing(v.ID) {
			continue
		}
		select {
		case sem <- struct{}{}:
		default:
			// Pool is full; the next tick picks the rest up.
			return
		}

		video := v
		go func() {
			defer func() { <-sem }()
			if err := r.pipeline.Process(ctx, video.ID, false); err != nil {
				var concurrent *ConcurrentProcessingError
				if errors.As(err, &concurrent) {
					return
				}
				r.logger.Error("pipeline run failed", "video_id", video.ID, "error", err)
			}
		}()
	}
}
