package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/videochat/videochat-backend/internal/store"
)

const (
	maxRetries     = 3
	retryBaseDelay = time.Second
)

// Client implements Service against the Gemini API.
type Client struct {
	client    *genai.Client
	model     string
	maxImages int
	logger    *slog.Logger
}

func NewClient(ctx context.Context, apiKey, model string, maxImages int, logger *slog.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{
		client:    client,
		model:     model,
		maxImages: maxImages,
		logger:    logger.With("component", "gemini"),
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) IndexVideo(ctx context.Context, video *store.Video, frames []*store.Frame, thumb *store.Thumbnail) (string, error) {
	prompt := fmt.Sprintf(
		"These are frames sampled from the video %q at the timestamps noted. "+
			"Confirm the frames are readable and reply with a one-paragraph visual summary of the video.",
		video.Filename)

	parts, err := c.buildParts(prompt, frames)
	if err != nil {
		return "", &IndexingError{VideoID: video.ID, Cause: err}
	}
	if _, err := c.generateWithRetry(ctx, parts); err != nil {
		return "", &IndexingError{VideoID: video.ID, Cause: err}
	}

	handle := fmt.Sprintf("genai/%s/%s", c.model, video.ID)
	c.logger.InfoContext(ctx, "video indexed",
		"video_id", video.ID,
		"frame_count", len(frames),
		"handle", handle,
	)
	return handle, nil
}

func (c *Client) AnswerQuestion(ctx context.Context, video *store.Video, frames []*store.Frame, question string, history []*store.ChatMessage) (*Answer, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are answering questions about the video %q (%.1f seconds). ", video.Filename, video.Duration)
	sb.WriteString("The attached images are frames sampled from the video; their timestamps are:\n")
	for _, f := range selectFrames(frames, c.maxImages) {
		fmt.Fprintf(&sb, "- frame %d at [%s]\n", f.Seq, FormatTimestamp(f.Timestamp))
	}
	if len(history) > 0 {
		sb.WriteString("\nEarlier conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", m.Message, m.Response)
		}
	}
	sb.WriteString("\nWhen you refer to a specific moment, cite it inline as [MM:SS] using ")
	sb.WriteString("the frame timestamps above.\n\nQuestion: ")
	sb.WriteString(question)

	parts, err := c.buildParts(sb.String(), frames)
	if err != nil {
		return nil, err
	}
	text, err := c.generateWithRetry(ctx, parts)
	if err != nil {
		return nil, err
	}

	return &Answer{
		Text:      text,
		Citations: ParseCitations(text, frames),
	}, nil
}

func (c *Client) Search(ctx context.Context, video *store.Video, frames []*store.Frame, query string, maxResults int) ([]SearchResult, error) {
	selected := selectFrames(frames, c.maxImages)

	var sb strings.Builder
	fmt.Fprintf(&sb, "The attached images are frames sampled from the video %q, in order. ", video.Filename)
	fmt.Fprintf(&sb, "Score how well each frame matches this query: %q.\n", query)
	sb.WriteString("Reply with a JSON array only, one object per attached frame in order: ")
	sb.WriteString(`[{"index": 0, "score": 0.0, "description": "..."}]` + "\n")
	sb.WriteString("score is between 0 and 1. Do not include frames scoring below 0.2.")

	parts, err := c.buildParts(sb.String(), selected)
	if err != nil {
		return nil, err
	}
	text, err := c.generateWithRetry(ctx, parts)
	if err != nil {
		return nil, err
	}

	var scored []struct {
		Index       int     `json:"index"`
		Score       float64 `json:"score"`
		Description string  `json:"description"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &scored); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	var results []SearchResult
	for _, s := range scored {
		if s.Index < 0 || s.Index >= len(selected) {
			c.logger.WarnContext(ctx, "search result references unknown frame", "index", s.Index)
			continue
		}
		results = append(results, SearchResult{
			Frame:       selected[s.Index],
			Score:       s.Score,
			Description: s.Description,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

func (c *Client) DescribeFrames(ctx context.Context, video *store.Video, frames []*store.Frame) (map[string]string, error) {
	descriptions := make(map[string]string, len(frames))

	batchSize := c.maxImages
	if batchSize <= 0 {
		batchSize = len(frames)
	}
	for start := 0; start < len(frames); start += batchSize {
		end := start + batchSize
		if end > len(frames) {
			end = len(frames)
		}
		batch := frames[start:end]

		var sb strings.Builder
		fmt.Fprintf(&sb, "The attached images are frames sampled from the video %q, in order. ", video.Filename)
		sb.WriteString("Describe what each frame shows in one sentence.\n")
		sb.WriteString("Reply with a JSON array only, one object per attached frame in order: ")
		sb.WriteString(`[{"index": 0, "description": "..."}]`)

		parts, err := c.buildParts(sb.String(), batch)
		if err != nil {
			return nil, err
		}
		text, err := c.generateWithRetry(ctx, parts)
		if err != nil {
			return nil, err
		}

		var described []struct {
			Index       int    `json:"index"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal([]byte(stripCodeFence(text)), &described); err != nil {
			return nil, fmt.Errorf("failed to parse frame descriptions: %w", err)
		}
		for _, d := range described {
			if d.Index < 0 || d.Index >= len(batch) || d.Description == "" {
				continue
			}
			descriptions[batch[d.Index].ID] = d.Description
		}
	}

	c.logger.InfoContext(ctx, "frames described",
		"video_id", video.ID,
		"described", len(descriptions),
		"total", len(frames),
	)
	return descriptions, nil
}

// buildParts assembles the prompt text plus frame images, reading each
// frame file from disk.
func (c *Client) buildParts(prompt string, frames []*store.Frame) ([]genai.Part, error) {
	parts := []genai.Part{genai.Text(prompt)}
	for _, f := range selectFrames(frames, c.maxImages) {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %d: %w", f.Seq, err)
		}
		parts = append(parts, genai.ImageData(imageFormat(f.Path), data))
	}
	return parts, nil
}

func (c *Client) generateWithRetry(ctx context.Context, parts []genai.Part) (string, error) {
	model := c.client.GenerativeModel(c.model)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		resp, err := model.GenerateContent(ctx, parts...)
		if err == nil {
			return extractText(resp)
		}
		lastErr = err
		c.logger.WarnContext(ctx, "gemini generate failed, retrying",
			"attempt", i+1,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryBaseDelay * time.Duration(i+1)):
		}
	}
	return "", fmt.Errorf("gemini generate failed after %d retries: %w", maxRetries, lastErr)
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from gemini")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text in gemini response")
	}
	return sb.String(), nil
}

// selectFrames keeps the image payload bounded: when there are more
// frames than the cap, sample them evenly so the whole duration stays
// represented.
func selectFrames(frames []*store.Frame, max int) []*store.Frame {
	if max <= 0 || len(frames) <= max {
		return frames
	}
	selected := make([]*store.Frame, 0, max)
	step := float64(len(frames)) / float64(max)
	for i := 0; i < max; i++ {
		selected = append(selected, frames[int(float64(i)*step)])
	}
	return selected
}

func imageFormat(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".png") {
		return "png"
	}
	return "jpeg"
}

// stripCodeFence removes a ```json ... ``` wrapper the model sometimes
// adds around JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ Service = (*Client)(nil)
