// Package gemini talks to the Gemini multimodal API to index videos,
// answer questions grounded in extracted frames and score frames
// against visual search queries. The pipeline only supplies ordered,
// addressed frame data; all inference happens behind the Service
// interface so it can be swapped for a stub in tests.
package gemini

import (
	"context"
	"fmt"

	"github.com/videochat/videochat-backend/internal/store"
)

type Service interface {
	// IndexVideo builds a searchable representation for a processed
	// video and returns an opaque handle persisted alongside it.
	IndexVideo(ctx context.Context, video *store.Video, frames []*store.Frame, thumb *store.Thumbnail) (string, error)

	// AnswerQuestion answers a natural-language question about a video,
	// citing specific moments by timestamp.
	AnswerQuestion(ctx context.Context, video *store.Video, frames []*store.Frame, question string, history []*store.ChatMessage) (*Answer, error)

	// Search scores frames against a free-text query and returns them
	// ordered by relevance, best first.
	Search(ctx context.Context, video *store.Video, frames []*store.Frame, query string, maxResults int) ([]SearchResult, error)

	// DescribeFrames produces a short visual description per frame,
	// keyed by frame id. Frames the model could not describe are
	// absent from the result.
	DescribeFrames(ctx context.Context, video *store.Video, frames []*store.Frame) (map[string]string, error)
}

// Answer is a chat response with frame citations.
type Answer struct {
	Text      string           `json:"text"`
	Citations []store.Citation `json:"citations"`
}

// SearchResult is one scored frame.
type SearchResult struct {
	Frame       *store.Frame `json:"frame"`
	Score       float64      `json:"score"`
	Description string       `json:"description,omitempty"`
}

// Clip is a run of adjacent matching frames.
type Clip struct {
	StartTime  float64        `json:"start_time"`
	EndTime    float64        `json:"end_time"`
	Confidence float64        `json:"confidence"`
	FrameCount int            `json:"frame_count"`
	Frames     []SearchResult `json:"frames"`
}

// IndexingError means the multimodal backend could not index a video.
// The video stays playable but is flagged search-unavailable.
type IndexingError struct {
	VideoID string
	Cause   error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing failed for video %s: %v", e.VideoID, e.Cause)
}

func (e *IndexingError) Unwrap() error {
	return e.Cause
}
