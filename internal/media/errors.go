package media

import "fmt"

// DecodeError means the source video cannot be opened or decoded at
// all. It is fatal for the video's pipeline run.
type DecodeError struct {
	Path  string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode video %s: %v", e.Path, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// ThumbnailError means no thumbnail could be produced. It degrades the
// result but does not fail the pipeline.
type ThumbnailError struct {
	Path  string
	Cause error
}

func (e *ThumbnailError) Error() string {
	return fmt.Sprintf("cannot generate thumbnail for %s: %v", e.Path, e.Cause)
}

func (e *ThumbnailError) Unwrap() error {
	return e.Cause
}
