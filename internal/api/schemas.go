package api

import (
	"time"

	"github.com/videochat/videochat-backend/internal/gemini"
	"github.com/videochat/videochat-backend/internal/store"
)

type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	UptimeS  int64             `json:"uptime_s"`
	Services map[string]string `json:"services"`
}

type UploadResponse struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type VideoResponse struct {
	ID              string  `json:"id"`
	Filename        string  `json:"filename"`
	Status          string  `json:"status"`
	Duration        float64 `json:"duration"`
	FrameCount      int     `json:"frame_count"`
	ThumbnailURL    string  `json:"thumbnail_url,omitempty"`
	SearchAvailable bool    `json:"search_available"`
	Error           string  `json:"error,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type ReprocessResponse struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

type ChatRequest struct {
	VideoID string `json:"video_id"`
	Message string `json:"message"`
}

type CitationResponse struct {
	Text      string  `json:"text"`
	Time      float64 `json:"time"`
	Timestamp string  `json:"timestamp"`
	FrameURL  string  `json:"frame_url,omitempty"`
}

type ChatResponse struct {
	Response  string             `json:"response"`
	Citations []CitationResponse `json:"citations"`
	MessageID string             `json:"message_id"`
}

type ChatHistoryMessage struct {
	ID        string             `json:"id"`
	Message   string             `json:"message"`
	Response  string             `json:"response"`
	Citations []CitationResponse `json:"citations"`
	CreatedAt string             `json:"created_at"`
}

type ChatHistoryResponse struct {
	VideoID  string               `json:"video_id"`
	Messages []ChatHistoryMessage `json:"messages"`
}

type SearchRequest struct {
	VideoID    string `json:"video_id"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type SearchResultResponse struct {
	Timestamp   float64 `json:"timestamp"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
	FrameURL    string  `json:"frame_url"`
}

type ClipResponse struct {
	StartTime  float64                `json:"start_time"`
	EndTime    float64                `json:"end_time"`
	Confidence float64                `json:"confidence"`
	FrameCount int                    `json:"frame_count"`
	Frames     []SearchResultResponse `json:"frames"`
}

type SearchResponse struct {
	Query        string                 `json:"query"`
	Results      []SearchResultResponse `json:"results"`
	Clips        []ClipResponse         `json:"clips"`
	TotalResults int                    `json:"total_results"`
}

type FrameResponse struct {
	ID          string  `json:"id"`
	Timestamp   float64 `json:"timestamp"`
	FrameURL    string  `json:"frame_url"`
	Description string  `json:"description,omitempty"`
}

type FramesResponse struct {
	VideoID string          `json:"video_id"`
	Frames  []FrameResponse `json:"frames"`
}

type AnalyzeFramesResponse struct {
	Message       string `json:"message"`
	AnalyzedCount int    `json:"analyzed_count"`
	TotalFrames   int    `json:"total_frames"`
}

type MessageResponse struct {
	Message string `json:"message"`
	VideoID string `json:"video_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *store.Video, frameCount int, hasThumb bool) VideoResponse {
	resp := VideoResponse{
		ID:              v.ID,
		Filename:        v.Filename,
		Status:          v.Status,
		Duration:        v.Duration,
		FrameCount:      frameCount,
		SearchAvailable: v.SearchAvailable,
		Error:           v.Error,
		CreatedAt:       v.CreatedAt.Format(time.RFC3339),
	}
	if hasThumb {
		resp.ThumbnailURL = "/api/thumbnails/" + v.ID + ".jpg"
	}
	return resp
}

func CitationToResponse(c store.Citation, frameURL string) CitationResponse {
	return CitationResponse{
		Text:      c.Text,
		Time:      c.Time,
		Timestamp: c.Timestamp,
		FrameURL:  frameURL,
	}
}

func SearchResultToResponse(r gemini.SearchResult, frameURL string) SearchResultResponse {
	return SearchResultResponse{
		Timestamp:   r.Frame.Timestamp,
		Confidence:  r.Score,
		Description: r.Description,
		FrameURL:    frameURL,
	}
}
