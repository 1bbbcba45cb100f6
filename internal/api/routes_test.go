package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/videochat/videochat-backend/internal/db"
	"github.com/videochat/videochat-backend/internal/gemini"
	"github.com/videochat/videochat-backend/internal/media"
	"github.com/videochat/videochat-backend/internal/pipeline"
	"github.com/videochat/videochat-backend/internal/store"
)

type testConfig struct {
	dataDir string
}

func (c *testConfig) Port() int                     { return 8002 }
func (c *testConfig) LogLevel() string              { return "error" }
func (c *testConfig) LogFormat() string             { return "json" }
func (c *testConfig) DataDir() string               { return c.dataDir }
func (c *testConfig) DBPath() string                { return filepath.Join(c.dataDir, "test.db") }
func (c *testConfig) UploadsDir() string            { return filepath.Join(c.dataDir, "uploads") }
func (c *testConfig) FramesDir() string             { return filepath.Join(c.dataDir, "frames") }
func (c *testConfig) ThumbnailsDir() string         { return filepath.Join(c.dataDir, "thumbnails") }
func (c *testConfig) GeminiAPIKey() string          { return "" }
func (c *testConfig) GeminiModel() string           { return "gemini-1.5-flash" }
func (c *testConfig) FrameInterval() float64        { return 2.0 }
func (c *testConfig) MaxFrames() int                { return 300 }
func (c *testConfig) FrameFormat() string           { return "jpeg" }
func (c *testConfig) ThumbnailOffset() float64      { return 1.0 }
func (c *testConfig) ThumbnailWidth() int           { return 320 }
func (c *testConfig) ThumbnailHeight() int          { return 180 }
func (c *testConfig) MaxConcurrent() int            { return 2 }
func (c *testConfig) FrameBatchSize() int           { return 8 }
func (c *testConfig) StorageAttempts() int          { return 3 }
func (c *testConfig) BackoffBase() time.Duration    { return time.Millisecond }
func (c *testConfig) ExtractTimeout() time.Duration { return time.Minute }
func (c *testConfig) IndexTimeout() time.Duration   { return time.Minute }
func (c *testConfig) MaxUploadBytes() int64         { return 1 << 20 }
func (c *testConfig) MaxFramesPerCall() int         { return 20 }

type testEnv struct {
	cfg      *testConfig
	repo     store.Repository
	pipeline *pipeline.Pipeline
	router   http.Handler
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	cfg := &testConfig{dataDir: t.TempDir()}

	database, err := db.New(cfg.DBPath(), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := store.NewRepository(database.Conn())
	extractor := media.NewStubExtractor(10.0, logger)
	indexer := gemini.NewStubService(logger)
	pipe := pipeline.New(cfg, repo, extractor, indexer, logger)

	router := NewRouter(ServerConfig{
		Config:    cfg,
		Repo:      repo,
		Pipeline:  pipe,
		Gemini:    indexer,
		Logger:    logger,
		StartTime: time.Now(),
	})

	return &testEnv{cfg: cfg, repo: repo, pipeline: pipe, router: router}
}

func (e *testEnv) uploadVideo(t *testing.T, filename string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	fw.Write([]byte("fake video bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/video/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// uploadReady uploads a video and runs it through the pipeline.
func (e *testEnv) uploadReady(t *testing.T) string {
	t.Helper()
	rec := e.uploadVideo(t, "clip.mp4")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp UploadResponse
	decodeBody(t, rec, &resp)

	if err := e.pipeline.Process(context.Background(), resp.VideoID, false); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	return resp.VideoID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := setupServer(t)

	rec := doJSON(t, e.router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("health status = %q", resp.Status)
	}
	if resp.Services["gemini"] != "stub" {
		t.Errorf("expected gemini service to report stub, got %q", resp.Services["gemini"])
	}
}

func TestUploadAndPoll(t *testing.T) {
	e := setupServer(t)

	rec := e.uploadVideo(t, "clip.mp4")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var up UploadResponse
	decodeBody(t, rec, &up)
	if up.VideoID == "" || up.Status != store.StatusUploaded {
		t.Fatalf("unexpected upload response %+v", up)
	}

	rec = doJSON(t, e.router, http.MethodGet, "/api/v1/video/"+up.VideoID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("poll status = %d", rec.Code)
	}
	var video VideoResponse
	decodeBody(t, rec, &video)
	if video.Status != store.StatusUploaded || video.FrameCount != 0 {
		t.Errorf("unexpected video %+v", video)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	e := setupServer(t)

	rec := e.uploadVideo(t, "notes.txt")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Code != "UNSUPPORTED_FORMAT" {
		t.Errorf("error code = %q", resp.Code)
	}
}

func TestGetVideoNotFound(t *testing.T) {
	e := setupServer(t)

	rec := doJSON(t, e.router, http.MethodGet, "/api/v1/video/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProcessedVideoStatus(t *testing.T) {
	e := setupServer(t)
	id := e.uploadReady(t)

	rec := doJSON(t, e.router, http.MethodGet, "/api/v1/video/"+id, nil)
	var video VideoResponse
	decodeBody(t, rec, &video)

	if video.Status != store.StatusReady {
		t.Errorf("status = %q, want ready", video.Status)
	}
	if video.FrameCount != 5 {
		t.Errorf("frame_count = %d, want 5", video.FrameCount)
	}
	if video.ThumbnailURL == "" {
		t.Error("expected a thumbnail URL")
	}
	if !video.SearchAvailable {
		t.Error("expected search to be available")
	}
}

func TestChatRejectsUnprocessedVideo(t *testing.T) {
	e := setupServer(t)

	rec := e.uploadVideo(t, "clip.mp4")
	var up UploadResponse
	decodeBody(t, rec, &up)

	rec = doJSON(t, e.router, http.MethodPost, "/api/v1/chat/message",
		ChatRequest{VideoID: up.VideoID, Message: "what happens?"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Code != "VIDEO_NOT_READY" {
		t.Errorf("error code = %q", resp.Code)
	}
}

func TestSearchRejectsUnprocessedVideo(t *testing.T) {
	e := setupServer(t)

	rec := e.uploadVideo(t, "clip.mp4")
	var up UploadResponse
	decodeBody(t, rec, &up)

	rec = doJSON(t, e.router, http.MethodPost, "/api/v1/search/visual",
		SearchRequest{VideoID: up.VideoID, Query: "a dog"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestChatRoundtrip(t *testing.T) {
	e := setupServer(t)
	id := e.uploadReady(t)

	rec := doJSON(t, e.router, http.MethodPost, "/api/v1/chat/message",
		ChatRequest{VideoID: id, Message: "what happens at the start?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d, body %s", rec.Code, rec.Body.String())
	}
	var chat ChatResponse
	decodeBody(t, rec, &chat)
	if chat.Response == "" || chat.MessageID == "" {
		t.Fatalf("unexpected chat response %+v", chat)
	}

	rec = doJSON(t, e.router, http.MethodGet, "/api/v1/chat/"+id+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var history ChatHistoryResponse
	decodeBody(t, rec, &history)
	if len(history.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(history.Messages))
	}
	if history.Messages[0].Message != "what happens at the start?" {
		t.Errorf("unexpected stored message %q", history.Messages[0].Message)
	}

	rec = doJSON(t, e.router, http.MethodDelete, "/api/v1/chat/"+id+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	rec = doJSON(t, e.router, http.MethodGet, "/api/v1/chat/"+id+"/history", nil)
	decodeBody(t, rec, &history)
	if len(history.Messages) != 0 {
		t.Errorf("expected an empty history after clearing, got %d", len(history.Messages))
	}
}

func TestVisualSearch(t *testing.T) {
	e := setupServer(t)
	id := e.uploadReady(t)

	rec := doJSON(t, e.router, http.MethodPost, "/api/v1/search/visual",
		SearchRequest{VideoID: id, Query: "anything", MaxResults: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp SearchResponse
	decodeBody(t, rec, &resp)
	if resp.TotalResults == 0 || len(resp.Results) == 0 {
		t.Fatalf("expected results, got %+v", resp)
	}
	if len(resp.Results) > 3 {
		t.Errorf("max_results not honored, got %d", len(resp.Results))
	}
	if resp.Results[0].FrameURL == "" {
		t.Error("expected a frame URL on results")
	}
	if len(resp.Clips) == 0 {
		t.Error("expected adjacent results to be grouped into clips")
	}
}

func TestAnalyzeFrames(t *testing.T) {
	e := setupServer(t)
	id := e.uploadReady(t)

	rec := doJSON(t, e.router, http.MethodPost, "/api/v1/search/"+id+"/analyze-frames", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp AnalyzeFramesResponse
	decodeBody(t, rec, &resp)
	if resp.AnalyzedCount != 5 || resp.TotalFrames != 5 {
		t.Fatalf("analyzed %d of %d, want 5 of 5", resp.AnalyzedCount, resp.TotalFrames)
	}

	rec = doJSON(t, e.router, http.MethodGet, "/api/v1/search/"+id+"/frames", nil)
	var frames FramesResponse
	decodeBody(t, rec, &frames)
	for _, f := range frames.Frames {
		if f.Description == "" {
			t.Errorf("frame %s has no description after analysis", f.ID)
		}
	}

	// A second pass finds nothing left to analyze.
	rec = doJSON(t, e.router, http.MethodPost, "/api/v1/search/"+id+"/analyze-frames", nil)
	decodeBody(t, rec, &resp)
	if resp.AnalyzedCount != 0 || resp.TotalFrames != 5 {
		t.Errorf("second pass analyzed %d of %d, want 0 of 5", resp.AnalyzedCount, resp.TotalFrames)
	}
}

func TestAnalyzeFramesRejectsUnprocessedVideo(t *testing.T) {
	e := setupServer(t)
	rec := e.uploadVideo(t, "clip.mp4")
	var up UploadResponse
	decodeBody(t, rec, &up)

	rec = doJSON(t, e.router, http.MethodPost, "/api/v1/search/"+up.VideoID+"/analyze-frames", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Code != "VIDEO_NOT_READY" {
		t.Errorf("code = %q, want VIDEO_NOT_READY", resp.Code)
	}
}

func TestListFrames(t *testing.T) {
	e := setupServer(t)
	id := e.uploadReady(t)

	rec := doJSON(t, e.router, http.MethodGet, "/api/v1/search/"+id+"/frames?limit=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp FramesResponse
	decodeBody(t, rec, &resp)
	if len(resp.Frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(resp.Frames))
	}
	if resp.Frames[0].FrameURL != "/api/frames/"+id+"/frame_000000.jpg" {
		t.Errorf("unexpected frame URL %q", resp.Frames[0].FrameURL)
	}
}

func TestFrameByTimestamp(t *testing.T) {
	e := setupServer(t)
	id := e.uploadReady(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/video/"+id+"/frame/3.2", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// 3.2s falls between the samples at 2s and 4s; the 2s frame wins.
	if got := rec.Body.String(); got != "frame@2.000" {
		t.Errorf("unexpected frame body %q", got)
	}
}

func TestDeleteVideo(t *testing.T) {
	e := setupServer(t)
	id := e.uploadReady(t)

	rec := doJSON(t, e.router, http.MethodDelete, "/api/v1/video/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doJSON(t, e.router, http.MethodGet, "/api/v1/video/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rec.Code)
	}

	frames, err := e.repo.ListFramesByVideo(context.Background(), id)
	if err != nil {
		t.Fatalf("ListFramesByVideo() error = %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected frame rows to cascade, got %d", len(frames))
	}
}

func TestReprocess(t *testing.T) {
	e := setupServer(t)
	id := e.uploadReady(t)

	rec := doJSON(t, e.router, http.MethodPost, "/api/v1/video/"+id+"/reprocess", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reprocess status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The redo runs in the background; wait for it to settle.
	deadline := time.Now().Add(5 * time.Second)
	for {
		video, err := e.repo.GetVideo(context.Background(), id)
		if err != nil {
			t.Fatalf("GetVideo() error = %v", err)
		}
		if video.Status == store.StatusReady && !e.pipeline.Processing(id) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reprocess did not finish, status %q", video.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatValidation(t *testing.T) {
	e := setupServer(t)

	rec := doJSON(t, e.router, http.MethodPost, "/api/v1/chat/message", ChatRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty request status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, e.router, http.MethodPost, "/api/v1/chat/message",
		ChatRequest{VideoID: "missing", Message: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown video status = %d, want 404", rec.Code)
	}
}
