package pipeline

import (
	"context"
	"sync"
)

// Leases enforces per-video exclusivity for decomposition runs within
// this process. A lease optionally carries the run's cancel func so a
// video deletion can abort work in flight.
type Leases struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func NewLeases() *Leases {
	return &Leases{active: make(map[string]context.CancelFunc)}
}

// Acquire takes the lease for a video. It returns false if another run
// already holds it.
func (l *Leases) Acquire(videoID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[videoID]; held {
		return false
	}
	l.active[videoID] = nil
	return true
}

// SetCancel attaches the run's cancel func to an acquired lease.
func (l *Leases) SetCancel(videoID string, cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[videoID]; held {
		l.active[videoID] = cancel
	}
}

// Release frees the lease. Safe to call for a lease not held.
func (l *Leases) Release(videoID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, videoID)
}

// Cancel aborts the run holding the video's lease, if any. The lease
// itself stays held until the run unwinds and releases it.
func (l *Leases) Cancel(videoID string) bool {
	l.mu.Lock()
	cancel := l.active[videoID]
	_, held := l.active[videoID]
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return held
}

// Held reports whether a run currently owns the video's lease.
func (l *Leases) Held(videoID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.active[videoID]
	return held
}
