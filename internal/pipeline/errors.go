package pipeline

import "fmt"

// ConcurrentProcessingError means a decomposition run is already in
// flight for the video. Status is the video's status at the time of
// the rejected attempt.
type ConcurrentProcessingError struct {
	VideoID string
	Status  string
}

func (e *ConcurrentProcessingError) Error() string {
	return fmt.Sprintf("video %s is already being processed (status %s)", e.VideoID, e.Status)
}

// StorageWriteError means persisting extracted frame metadata failed
// after retries. Artifacts may exist on disk without matching rows;
// the reconciliation sweep cleans those up.
type StorageWriteError struct {
	VideoID string
	Cause   error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("failed to persist frames for video %s: %v", e.VideoID, e.Cause)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Cause
}
