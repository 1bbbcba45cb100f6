package store

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Reconciler re-establishes consistency between frame/thumbnail rows
// and artifact files after a crash mid-pipeline. Rows whose artifact is
// missing are dangling; files without a row are orphaned. Neither may
// be treated as valid.
type Reconciler struct {
	repo    Repository
	dataDir string
	logger  *slog.Logger
}

func NewReconciler(repo Repository, dataDir string, logger *slog.Logger) *Reconciler {
	return &Reconciler{repo: repo, dataDir: dataDir, logger: logger}
}

// abs resolves a stored artifact path, which may be absolute or
// relative to the data directory.
func (r *Reconciler) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.dataDir, p)
}

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	DanglingFrames    int
	DanglingThumbs    int
	OrphanedArtifacts int
	VideosReset       int
}

// FindDanglingFrames returns frame rows whose artifact file no longer
// exists under the data directory.
func (r *Reconciler) FindDanglingFrames(ctx context.Context) ([]*Frame, error) {
	frames, err := r.repo.ListFrameRows(ctx)
	if err != nil {
		return nil, err
	}

	var dangling []*Frame
	for _, f := range frames {
		if _, err := os.Stat(r.abs(f.Path)); os.IsNotExist(err) {
			dangling = append(dangling, f)
		}
	}
	return dangling, nil
}

// FindOrphanedArtifacts returns artifact files under frames/ and
// thumbnails/ that no row references, as paths relative to the data dir.
func (r *Reconciler) FindOrphanedArtifacts(ctx context.Context) ([]string, error) {
	known := make(map[string]bool)

	frames, err := r.repo.ListFrameRows(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range frames {
		known[r.abs(f.Path)] = true
	}

	thumbs, err := r.repo.ListThumbnailRows(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range thumbs {
		known[r.abs(t.Path)] = true
	}

	var orphans []string
	for _, root := range []string{"frames", "thumbnails"} {
		rootPath := filepath.Join(r.dataDir, root)
		err := filepath.WalkDir(rootPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !known[filepath.Clean(p)] {
				rel, err := filepath.Rel(r.dataDir, p)
				if err != nil {
					return nil
				}
				orphans = append(orphans, rel)
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return orphans, nil
}

// Sweep runs one reconciliation pass: dangling rows are dropped and the
// affected videos reset so the pipeline rebuilds them, and orphaned
// artifact files are removed.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	dangling, err := r.FindDanglingFrames(ctx)
	if err != nil {
		return report, err
	}

	affected := make(map[string]bool)
	for _, f := range dangling {
		affected[f.VideoID] = true
	}
	report.DanglingFrames = len(dangling)

	thumbs, err := r.repo.ListThumbnailRows(ctx)
	if err != nil {
		return report, err
	}
	for _, t := range thumbs {
		if _, err := os.Stat(r.abs(t.Path)); os.IsNotExist(err) {
			affected[t.VideoID] = true
			report.DanglingThumbs++
		}
	}

	// A video with any dangling reference loses its whole derived set;
	// partial old/new state must never be interleaved.
	for videoID := range affected {
		if err := r.repo.DeleteFrames(ctx, videoID); err != nil {
			return report, err
		}
		if err := r.repo.DeleteThumbnail(ctx, videoID); err != nil {
			return report, err
		}

		video, err := r.repo.GetVideo(ctx, videoID)
		if err != nil {
			return report, err
		}
		if video == nil {
			continue
		}
		if video.Status == StatusReady || video.Status == StatusFailed {
			if err := r.repo.UpdateStatus(ctx, videoID, StatusUploaded, ""); err != nil {
				return report, err
			}
			report.VideosReset++
		}
	}

	orphans, err := r.FindOrphanedArtifacts(ctx)
	if err != nil {
		return report, err
	}
	for _, rel := range orphans {
		if err := os.Remove(filepath.Join(r.dataDir, rel)); err != nil && !os.IsNotExist(err) {
			if r.logger != nil {
				r.logger.Warn("failed to remove orphaned artifact", "path", rel, "error", err)
			}
			continue
		}
		report.OrphanedArtifacts++
	}

	if r.logger != nil && (report.DanglingFrames > 0 || report.DanglingThumbs > 0 || report.OrphanedArtifacts > 0) {
		r.logger.Info("reconciliation sweep completed",
			"dangling_frames", report.DanglingFrames,
			"dangling_thumbnails", report.DanglingThumbs,
			"orphaned_artifacts", report.OrphanedArtifacts,
			"videos_reset", report.VideosReset,
		)
	}

	return report, nil
}
