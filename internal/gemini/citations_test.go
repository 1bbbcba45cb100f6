package gemini

import (
	"testing"

	"github.com/videochat/videochat-backend/internal/store"
)

func sampleFrames() []*store.Frame {
	return []*store.Frame{
		{ID: "f0", Seq: 0, Timestamp: 0, Path: "frames/v1/frame_000000.jpg"},
		{ID: "f1", Seq: 1, Timestamp: 2, Path: "frames/v1/frame_000001.jpg"},
		{ID: "f2", Seq: 2, Timestamp: 4, Path: "frames/v1/frame_000002.jpg"},
		{ID: "f3", Seq: 3, Timestamp: 6, Path: "frames/v1/frame_000003.jpg"},
	}
}

func TestParseCitations(t *testing.T) {
	text := "The dog appears at [00:02] and again at [00:05], near the end."
	citations := ParseCitations(text, sampleFrames())

	if len(citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(citations))
	}
	if citations[0].Time != 2 {
		t.Errorf("expected first citation at 2s, got %v", citations[0].Time)
	}
	if citations[0].FramePath != "frames/v1/frame_000001.jpg" {
		t.Errorf("unexpected frame path %q", citations[0].FramePath)
	}
	// 5s falls between frames at 4s and 6s; the frame at or before wins.
	if citations[1].FramePath != "frames/v1/frame_000002.jpg" {
		t.Errorf("expected citation at 5s to map to the 4s frame, got %q", citations[1].FramePath)
	}
	if citations[1].Timestamp != "00:05" {
		t.Errorf("unexpected formatted time %q", citations[1].Timestamp)
	}
}

func TestParseCitationsDeduplicates(t *testing.T) {
	text := "See [00:02]. As mentioned, [00:02] shows the same scene."
	citations := ParseCitations(text, sampleFrames())
	if len(citations) != 1 {
		t.Fatalf("expected duplicate timestamps to collapse, got %d citations", len(citations))
	}
}

func TestParseCitationsNoMarkers(t *testing.T) {
	if got := ParseCitations("no timestamps here", sampleFrames()); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := ParseCitations("[00:02]", nil); got != nil {
		t.Errorf("expected nil without frames, got %v", got)
	}
}

func TestParseCitationsPastEnd(t *testing.T) {
	citations := ParseCitations("ends at [10:00]", sampleFrames())
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
	if citations[0].FramePath != "frames/v1/frame_000003.jpg" {
		t.Errorf("expected last frame, got %q", citations[0].FramePath)
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := map[float64]string{
		0:     "00:00",
		2:     "00:02",
		65:    "01:05",
		599.9: "09:59",
	}
	for in, want := range cases {
		if got := FormatTimestamp(in); got != want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestGroupClips(t *testing.T) {
	frames := sampleFrames()
	results := []SearchResult{
		{Frame: frames[0], Score: 0.5},
		{Frame: frames[1], Score: 0.9},
		{Frame: frames[3], Score: 0.7},
	}

	clips := GroupClips(results, 2.5)
	if len(clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(clips))
	}
	// Ordered by confidence: the 0s-2s run carries the 0.9 score.
	if clips[0].StartTime != 0 || clips[0].EndTime != 2 {
		t.Errorf("unexpected first clip bounds %v-%v", clips[0].StartTime, clips[0].EndTime)
	}
	if clips[0].Confidence != 0.9 {
		t.Errorf("expected clip confidence 0.9, got %v", clips[0].Confidence)
	}
	if clips[0].FrameCount != 2 {
		t.Errorf("expected 2 frames in first clip, got %d", clips[0].FrameCount)
	}
	if clips[1].StartTime != 6 || clips[1].FrameCount != 1 {
		t.Errorf("unexpected second clip %+v", clips[1])
	}
}

func TestGroupClipsEmpty(t *testing.T) {
	if got := GroupClips(nil, 2.5); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestSelectFrames(t *testing.T) {
	frames := sampleFrames()
	if got := selectFrames(frames, 10); len(got) != len(frames) {
		t.Errorf("expected all frames under the cap, got %d", len(got))
	}
	got := selectFrames(frames, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if got[0].Seq != 0 {
		t.Errorf("expected sampling to keep the first frame, got seq %d", got[0].Seq)
	}
}

func TestStripCodeFence(t *testing.T) {
	raw := "```json\n[{\"index\": 0, \"score\": 0.8}]\n```"
	want := `[{"index": 0, "score": 0.8}]`
	if got := stripCodeFence(raw); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := stripCodeFence(want); got != want {
		t.Errorf("unfenced input changed: %q", got)
	}
}
