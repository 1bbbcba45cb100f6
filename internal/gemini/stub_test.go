package gemini

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/videochat/videochat-backend/internal/store"
)

func stubService() *StubService {
	return NewStubService(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStubSearchOrderedByScore(t *testing.T) {
	svc := stubService()
	video := &store.Video{ID: "v1", Filename: "clip.mp4"}
	frames := sampleFrames()
	frames[2].Description = "a red door in the hallway"

	results, err := svc.Search(context.Background(), video, frames, "red door", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != len(frames) {
		t.Fatalf("got %d results, want %d", len(results), len(frames))
	}
	if results[0].Frame.ID != "f2" || results[0].Score != 0.9 {
		t.Errorf("best result = %s score %v, want f2 score 0.9", results[0].Frame.ID, results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("results not ordered by score at %d: %v > %v", i, results[i].Score, results[i-1].Score)
		}
	}
}

func TestStubSearchHonorsMaxResults(t *testing.T) {
	svc := stubService()
	video := &store.Video{ID: "v1", Filename: "clip.mp4"}

	results, err := svc.Search(context.Background(), video, sampleFrames(), "anything", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestStubDescribeFrames(t *testing.T) {
	svc := stubService()
	video := &store.Video{ID: "v1", Filename: "clip.mp4"}
	frames := sampleFrames()

	descriptions, err := svc.DescribeFrames(context.Background(), video, frames)
	if err != nil {
		t.Fatalf("DescribeFrames() error = %v", err)
	}
	if len(descriptions) != len(frames) {
		t.Fatalf("got %d descriptions, want %d", len(descriptions), len(frames))
	}
	for _, f := range frames {
		if descriptions[f.ID] == "" {
			t.Errorf("frame %s has no description", f.ID)
		}
	}
}
