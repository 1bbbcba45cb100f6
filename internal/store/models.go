package store

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Video is an uploaded media file and its processing state.
type Video struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	Path            string    `json:"path"`
	Duration        float64   `json:"duration"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	IndexHandle     string    `json:"index_handle,omitempty"`
	SearchAvailable bool      `json:"search_available"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Frame is a single still image sampled from a video at a specific
// timestamp. Frames are immutable once written; re-processing replaces
// a video's frame set as a whole.
type Frame struct {
	ID          string    `json:"id"`
	VideoID     string    `json:"video_id"`
	Seq         int       `json:"seq"`
	Timestamp   float64   `json:"timestamp"`
	Path        string    `json:"path"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Thumbnail is the representative still used for preview. One per video.
type Thumbnail struct {
	VideoID   string    `json:"video_id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is one question/answer turn grounded in a video.
type ChatMessage struct {
	ID        string     `json:"id"`
	VideoID   string     `json:"video_id"`
	Message   string     `json:"message"`
	Response  string     `json:"response"`
	Citations []Citation `json:"citations,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Citation points an answer at a specific moment of the video.
type Citation struct {
	Text      string  `json:"text"`
	Time      float64 `json:"time"`
	Timestamp string  `json:"timestamp"`
	FramePath string  `json:"frame_path,omitempty"`
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

func NewID() string {
	return uuid.NewString()
}

// IsVideoFile reports whether filename has a supported video extension.
func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
