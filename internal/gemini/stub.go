package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/videochat/videochat-backend/internal/store"
)

// StubService is an offline Service used when no API key is configured
// and in tests. Answers are deterministic and cite the first frame.
type StubService struct {
	logger *slog.Logger

	// IndexErr, when set, is returned from IndexVideo wrapped in an
	// IndexingError.
	IndexErr error
}

func NewStubService(logger *slog.Logger) *StubService {
	return &StubService{logger: logger}
}

func (s *StubService) IndexVideo(ctx context.Context, video *store.Video, frames []*store.Frame, thumb *store.Thumbnail) (string, error) {
	if s.IndexErr != nil {
		return "", &IndexingError{VideoID: video.ID, Cause: s.IndexErr}
	}
	s.logger.Info("gemini stub: index requested", "video_id", video.ID, "frame_count", len(frames))
	return "stub/" + video.ID, nil
}

func (s *StubService) AnswerQuestion(ctx context.Context, video *store.Video, frames []*store.Frame, question string, history []*store.ChatMessage) (*Answer, error) {
	s.logger.Info("gemini stub: question", "video_id", video.ID, "question", question)

	text := fmt.Sprintf("Gemini is not configured, so I cannot analyze %q.", video.Filename)
	if len(frames) > 0 {
		text = fmt.Sprintf("Gemini is not configured. The video %q has %d extracted frames, starting at [%s].",
			video.Filename, len(frames), FormatTimestamp(frames[0].Timestamp))
	}
	return &Answer{
		Text:      text,
		Citations: ParseCitations(text, frames),
	}, nil
}

// Search matches frames whose description contains the query text,
// falling back to a uniform low score so callers still get results.
func (s *StubService) Search(ctx context.Context, video *store.Video, frames []*store.Frame, query string, maxResults int) ([]SearchResult, error) {
	s.logger.Info("gemini stub: search", "video_id", video.ID, "query", query)

	q := strings.ToLower(query)
	var results []SearchResult
	for _, f := range frames {
		score := 0.1
		if f.Description != "" && strings.Contains(strings.ToLower(f.Description), q) {
			score = 0.9
		}
		results = append(results, SearchResult{Frame: f, Score: score, Description: f.Description})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

func (s *StubService) DescribeFrames(ctx context.Context, video *store.Video, frames []*store.Frame) (map[string]string, error) {
	s.logger.Info("gemini stub: describe frames", "video_id", video.ID, "frame_count", len(frames))

	descriptions := make(map[string]string, len(frames))
	for _, f := range frames {
		descriptions[f.ID] = fmt.Sprintf("Frame captured at %s of %s.", FormatTimestamp(f.Timestamp), video.Filename)
	}
	return descriptions, nil
}

var _ Service = (*StubService)(nil)
