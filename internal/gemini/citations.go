package gemini

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/videochat/videochat-backend/internal/store"
)

var timestampRe = regexp.MustCompile(`\[(\d{1,3}):(\d{2})\]`)

// ParseCitations pulls [MM:SS] markers out of a model response and maps
// each one to the extracted frame nearest at-or-before that moment.
// Duplicate timestamps collapse to one citation; markers beyond the
// last frame cite the last frame.
func ParseCitations(text string, frames []*store.Frame) []store.Citation {
	if len(frames) == 0 {
		return nil
	}
	matches := timestampRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[float64]bool)
	var citations []store.Citation
	for _, m := range matches {
		var min, sec int
		fmt.Sscanf(m[1], "%d", &min)
		fmt.Sscanf(m[2], "%d", &sec)
		ts := float64(min*60 + sec)
		if seen[ts] {
			continue
		}
		seen[ts] = true

		frame := frameAtOrBefore(frames, ts)
		citations = append(citations, store.Citation{
			Text:      m[0],
			Time:      ts,
			Timestamp: FormatTimestamp(ts),
			FramePath: frame.Path,
		})
	}
	sort.Slice(citations, func(i, j int) bool {
		return citations[i].Time < citations[j].Time
	})
	return citations
}

// frameAtOrBefore assumes frames are ordered by timestamp, which the
// store guarantees.
func frameAtOrBefore(frames []*store.Frame, ts float64) *store.Frame {
	best := frames[0]
	for _, f := range frames {
		if f.Timestamp > ts {
			break
		}
		best = f
	}
	return best
}

// FormatTimestamp renders seconds as MM:SS.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// GroupClips folds relevance-ordered search results into clips of
// temporally adjacent frames. Frames whose timestamps are within
// maxGap seconds of each other join the same clip; a clip's confidence
// is the best score among its frames.
func GroupClips(results []SearchResult, maxGap float64) []Clip {
	if len(results) == 0 {
		return nil
	}
	byTime := make([]SearchResult, len(results))
	copy(byTime, results)
	sort.Slice(byTime, func(i, j int) bool {
		return byTime[i].Frame.Timestamp < byTime[j].Frame.Timestamp
	})

	var clips []Clip
	current := Clip{
		StartTime:  byTime[0].Frame.Timestamp,
		EndTime:    byTime[0].Frame.Timestamp,
		Confidence: byTime[0].Score,
		Frames:     []SearchResult{byTime[0]},
	}
	for _, r := range byTime[1:] {
		if r.Frame.Timestamp-current.EndTime <= maxGap {
			current.EndTime = r.Frame.Timestamp
			if r.Score > current.Confidence {
				current.Confidence = r.Score
			}
			current.Frames = append(current.Frames, r)
			continue
		}
		current.FrameCount = len(current.Frames)
		clips = append(clips, current)
		current = Clip{
			StartTime:  r.Frame.Timestamp,
			EndTime:    r.Frame.Timestamp,
			Confidence: r.Score,
			Frames:     []SearchResult{r},
		}
	}
	current.FrameCount = len(current.Frames)
	clips = append(clips, current)

	sort.Slice(clips, func(i, j int) bool {
		return clips[i].Confidence > clips[j].Confidence
	})
	return clips
}
