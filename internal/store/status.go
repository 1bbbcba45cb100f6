package store

import "fmt"

// Video processing states. A video moves uploaded -> processing -> ready
// or uploaded -> processing -> failed. A failed video may be retried and
// a ready video must be reset (clear-and-redo) before it can run again.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

var legalTransitions = map[string]map[string]bool{
	StatusUploaded: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusReady:  true,
		StatusFailed: true,
	},
	StatusFailed: {
		StatusProcessing: true,
		StatusUploaded:   true, // reset
	},
	StatusReady: {
		StatusUploaded: true, // reset (force re-run)
	},
}

// CanTransition reports whether moving a video from one status to
// another is legal. Same-status writes are rejected.
func CanTransition(from, to string) bool {
	return legalTransitions[from][to]
}

// IllegalTransitionError is returned when a status write would violate
// the video state machine, e.g. ready -> processing without a reset.
type IllegalTransitionError struct {
	VideoID string
	From    string
	To      string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition for video %s: %s -> %s", e.VideoID, e.From, e.To)
}

// NotReadyError is returned when a chat or search query targets a video
// that has not finished processing.
type NotReadyError struct {
	VideoID string
	Status  string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("video %s is not ready (status: %s)", e.VideoID, e.Status)
}

// NotFoundError is returned when a video id does not exist.
type NotFoundError struct {
	VideoID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("video %s not found", e.VideoID)
}
