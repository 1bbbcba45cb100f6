package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/videochat/videochat-backend/internal/config"
	"github.com/videochat/videochat-backend/internal/gemini"
	"github.com/videochat/videochat-backend/internal/pipeline"
	"github.com/videochat/videochat-backend/internal/store"
)

const defaultHistoryLimit = 50

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware())

	r.Get("/health", healthHandler(cfg))

	r.Route("/api/v1/video", func(r chi.Router) {
		r.Get("/", listVideosHandler(cfg))
		r.Post("/upload", uploadVideoHandler(cfg))
		r.Get("/{id}", getVideoHandler(cfg))
		r.Delete("/{id}", deleteVideoHandler(cfg))
		r.Post("/{id}/reprocess", reprocessHandler(cfg))
		r.Get("/{id}/frame/{timestamp}", frameAtHandler(cfg))
	})

	r.Route("/api/v1/chat", func(r chi.Router) {
		r.Post("/message", chatMessageHandler(cfg))
		r.Get("/{id}/history", chatHistoryHandler(cfg))
		r.Delete("/{id}/history", clearChatHandler(cfg))
	})

	r.Route("/api/v1/search", func(r chi.Router) {
		r.Post("/visual", visualSearchHandler(cfg))
		r.Get("/{id}/frames", listFramesHandler(cfg))
		r.Post("/{id}/analyze-frames", analyzeFramesHandler(cfg))
	})

	r.Handle("/api/frames/*", http.StripPrefix("/api/frames/",
		http.FileServer(http.Dir(cfg.Config.FramesDir()))))
	r.Handle("/api/thumbnails/*", http.StripPrefix("/api/thumbnails/",
		http.FileServer(http.Dir(cfg.Config.ThumbnailsDir()))))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := map[string]string{
			"database": "ok",
			"gemini":   "stub",
		}
		if cfg.Config.GeminiAPIKey() != "" {
			services["gemini"] = "ok"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			Services: services,
		})
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.Repo.ListVideos(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			count, _ := cfg.Repo.CountFrames(r.Context(), v.ID)
			thumb, _ := cfg.Repo.GetThumbnail(r.Context(), v.ID)
			resp.Videos[i] = VideoToResponse(v, count, thumb != nil)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func uploadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Config.MaxUploadBytes())

		file, header, err := r.FormFile("file")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "file field is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		if !store.IsVideoFile(header.Filename) {
			WriteError(w, http.StatusBadRequest, "unsupported video format", "UNSUPPORTED_FORMAT")
			return
		}

		if err := os.MkdirAll(cfg.Config.UploadsDir(), 0o755); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}

		id := store.NewID()
		dstPath := filepath.Join(cfg.Config.UploadsDir(), id+filepath.Ext(header.Filename))
		dst, err := os.Create(dstPath)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			os.Remove(dstPath)
			WriteError(w, http.StatusBadRequest, "upload interrupted", "BAD_REQUEST")
			return
		}
		dst.Close()

		now := time.Now().UTC()
		video := &store.Video{
			ID:        id,
			Filename:  header.Filename,
			Path:      dstPath,
			Status:    store.StatusUploaded,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := cfg.Repo.CreateVideo(r.Context(), video); err != nil {
			os.Remove(dstPath)
			WriteError(w, http.StatusInternalServerError, "failed to record upload", "INTERNAL_ERROR")
			return
		}

		cfg.Logger.Info("video uploaded", "video_id", id, "filename", header.Filename)
		WriteJSON(w, http.StatusAccepted, UploadResponse{
			VideoID: id,
			Status:  video.Status,
			Message: "video queued for processing",
		})
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}
		count, _ := cfg.Repo.CountFrames(r.Context(), video.ID)
		thumb, _ := cfg.Repo.GetThumbnail(r.Context(), video.ID)
		WriteJSON(w, http.StatusOK, VideoToResponse(video, count, thumb != nil))
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}

		// Abort any in-flight processing before tearing state down.
		if cfg.Pipeline.Cancel(video.ID) {
			cfg.Logger.Info("cancelled in-flight processing for deletion", "video_id", video.ID)
		}

		if thumb, err := cfg.Repo.GetThumbnail(r.Context(), video.ID); err == nil && thumb != nil {
			os.Remove(thumb.Path)
		}
		if err := cfg.Repo.DeleteVideo(r.Context(), video.ID); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to delete video", "INTERNAL_ERROR")
			return
		}
		os.RemoveAll(filepath.Join(cfg.Config.FramesDir(), video.ID))
		os.Remove(video.Path)

		WriteJSON(w, http.StatusOK, MessageResponse{Message: "video deleted", VideoID: video.ID})
	}
}

func reprocessHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}
		if cfg.Pipeline.Processing(video.ID) {
			WriteError(w, http.StatusConflict, "video is already being processed", "ALREADY_PROCESSING")
			return
		}

		// The run outlives this request.
		go func() {
			if err := cfg.Pipeline.Process(context.Background(), video.ID, true); err != nil {
				var concurrent *pipeline.ConcurrentProcessingError
				if errors.As(err, &concurrent) {
					return
				}
				cfg.Logger.Error("reprocess failed", "video_id", video.ID, "error", err)
			}
		}()

		WriteJSON(w, http.StatusAccepted, ReprocessResponse{VideoID: video.ID, Status: store.StatusProcessing})
	}
}

func frameAtHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}
		ts, err := strconv.ParseFloat(chi.URLParam(r, "timestamp"), 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid timestamp", "BAD_REQUEST")
			return
		}

		frame, err := cfg.Repo.FrameByTimestamp(r.Context(), video.ID, ts)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to look up frame", "INTERNAL_ERROR")
			return
		}
		if frame == nil {
			WriteError(w, http.StatusNotFound, "no frames extracted for this video", "NOT_FOUND")
			return
		}
		http.ServeFile(w, r, frame.Path)
	}
}

func chatMessageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.VideoID == "" || req.Message == "" {
			WriteError(w, http.StatusBadRequest, "video_id and message are required", "BAD_REQUEST")
			return
		}

		video, ok := loadVideoByID(cfg, w, r, req.VideoID)
		if !ok {
			return
		}
		if !requireReady(w, video) {
			return
		}

		frames, err := cfg.Repo.ListFramesByVideo(r.Context(), video.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load frames", "INTERNAL_ERROR")
			return
		}
		history, err := cfg.Repo.ListChatMessages(r.Context(), video.ID, 20)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load chat history", "INTERNAL_ERROR")
			return
		}

		answer, err := cfg.Gemini.AnswerQuestion(r.Context(), video, frames, req.Message, history)
		if err != nil {
			cfg.Logger.Error("chat failed", "video_id", video.ID, "error", err)
			WriteError(w, http.StatusBadGateway, "failed to answer question", "GEMINI_ERROR")
			return
		}

		msg := &store.ChatMessage{
			ID:        store.NewID(),
			VideoID:   video.ID,
			Message:   req.Message,
			Response:  answer.Text,
			Citations: answer.Citations,
			CreatedAt: time.Now().UTC(),
		}
		if err := cfg.Repo.AddChatMessage(r.Context(), msg); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to save message", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, ChatResponse{
			Response:  answer.Text,
			Citations: citationsToResponse(cfg, answer.Citations),
			MessageID: msg.ID,
		})
	}
}

func chatHistoryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}

		limit := defaultHistoryLimit
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "invalid limit", "BAD_REQUEST")
				return
			}
			limit = n
		}

		messages, err := cfg.Repo.ListChatMessages(r.Context(), video.ID, limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load chat history", "INTERNAL_ERROR")
			return
		}

		resp := ChatHistoryResponse{VideoID: video.ID, Messages: make([]ChatHistoryMessage, len(messages))}
		for i, m := range messages {
			resp.Messages[i] = ChatHistoryMessage{
				ID:        m.ID,
				Message:   m.Message,
				Response:  m.Response,
				Citations: citationsToResponse(cfg, m.Citations),
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func clearChatHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}
		if err := cfg.Repo.ClearChatMessages(r.Context(), video.ID); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to clear chat history", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, MessageResponse{Message: "chat history cleared", VideoID: video.ID})
	}
}

func visualSearchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.VideoID == "" || req.Query == "" {
			WriteError(w, http.StatusBadRequest, "video_id and query are required", "BAD_REQUEST")
			return
		}
		if req.MaxResults <= 0 {
			req.MaxResults = 10
		}

		video, ok := loadVideoByID(cfg, w, r, req.VideoID)
		if !ok {
			return
		}
		if !requireReady(w, video) {
			return
		}

		frames, err := cfg.Repo.ListFramesByVideo(r.Context(), video.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load frames", "INTERNAL_ERROR")
			return
		}

		results, err := cfg.Gemini.Search(r.Context(), video, frames, req.Query, req.MaxResults)
		if err != nil {
			cfg.Logger.Error("visual search failed", "video_id", video.ID, "error", err)
			WriteError(w, http.StatusBadGateway, "search failed", "GEMINI_ERROR")
			return
		}

		// Adjacent matches merge into clips; the gap tolerance spans
		// one missed sample.
		clips := gemini.GroupClips(results, cfg.Config.FrameInterval()*2)

		resp := SearchResponse{
			Query:        req.Query,
			Results:      make([]SearchResultResponse, len(results)),
			Clips:        make([]ClipResponse, len(clips)),
			TotalResults: len(results),
		}
		for i, res := range results {
			resp.Results[i] = SearchResultToResponse(res, frameURL(cfg, res.Frame.Path))
		}
		for i, clip := range clips {
			cr := ClipResponse{
				StartTime:  clip.StartTime,
				EndTime:    clip.EndTime,
				Confidence: clip.Confidence,
				FrameCount: clip.FrameCount,
				Frames:     make([]SearchResultResponse, len(clip.Frames)),
			}
			for j, res := range clip.Frames {
				cr.Frames[j] = SearchResultToResponse(res, frameURL(cfg, res.Frame.Path))
			}
			resp.Clips[i] = cr
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listFramesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}

		frames, err := cfg.Repo.ListFramesByVideo(r.Context(), video.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load frames", "INTERNAL_ERROR")
			return
		}
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "invalid limit", "BAD_REQUEST")
				return
			}
			if len(frames) > n {
				frames = frames[:n]
			}
		}

		resp := FramesResponse{VideoID: video.ID, Frames: make([]FrameResponse, len(frames))}
		for i, f := range frames {
			resp.Frames[i] = FrameResponse{
				ID:          f.ID,
				Timestamp:   f.Timestamp,
				FrameURL:    frameURL(cfg, f.Path),
				Description: f.Description,
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// analyzeFramesHandler backfills per-frame visual descriptions for
// frames that do not have one yet.
func analyzeFramesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}
		if !requireReady(w, video) {
			return
		}

		frames, err := cfg.Repo.ListFramesByVideo(r.Context(), video.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load frames", "INTERNAL_ERROR")
			return
		}

		var pending []*store.Frame
		for _, f := range frames {
			if f.Description == "" {
				pending = append(pending, f)
			}
		}
		if len(pending) == 0 {
			WriteJSON(w, http.StatusOK, AnalyzeFramesResponse{
				Message:       "all frames already analyzed",
				AnalyzedCount: 0,
				TotalFrames:   len(frames),
			})
			return
		}

		descriptions, err := cfg.Gemini.DescribeFrames(r.Context(), video, pending)
		if err != nil {
			cfg.Logger.Error("frame analysis failed", "video_id", video.ID, "error", err)
			WriteError(w, http.StatusBadGateway, "frame analysis failed", "GEMINI_ERROR")
			return
		}
		if err := cfg.Repo.SetFrameDescriptions(r.Context(), video.ID, descriptions); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to save frame descriptions", "INTERNAL_ERROR")
			return
		}

		cfg.Logger.Info("frames analyzed", "video_id", video.ID, "analyzed", len(descriptions))
		WriteJSON(w, http.StatusOK, AnalyzeFramesResponse{
			Message:       "frame analysis complete",
			AnalyzedCount: len(descriptions),
			TotalFrames:   len(frames),
		})
	}
}

func loadVideo(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*store.Video, bool) {
	return loadVideoByID(cfg, w, r, chi.URLParam(r, "id"))
}

func loadVideoByID(cfg ServerConfig, w http.ResponseWriter, r *http.Request, id string) (*store.Video, bool) {
	if id == "" {
		WriteError(w, http.StatusBadRequest, "video id required", "BAD_REQUEST")
		return nil, false
	}
	video, err := cfg.Repo.GetVideo(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load video", "INTERNAL_ERROR")
		return nil, false
	}
	if video == nil {
		WriteDomainError(w, &store.NotFoundError{VideoID: id})
		return nil, false
	}
	return video, true
}

// requireReady rejects chat and search against a video whose derived
// artifacts are incomplete.
func requireReady(w http.ResponseWriter, video *store.Video) bool {
	if video.Status == store.StatusReady {
		return true
	}
	WriteDomainError(w, &store.NotReadyError{VideoID: video.ID, Status: video.Status})
	return false
}

// frameURL maps an on-disk frame path to its public URL under the
// static frames mount.
func frameURL(cfg ServerConfig, path string) string {
	rel, err := filepath.Rel(cfg.Config.FramesDir(), path)
	if err != nil {
		return ""
	}
	return "/api/frames/" + filepath.ToSlash(rel)
}

func citationsToResponse(cfg ServerConfig, citations []store.Citation) []CitationResponse {
	out := make([]CitationResponse, len(citations))
	for i, c := range citations {
		out[i] = CitationToResponse(c, frameURL(cfg, c.FramePath))
	}
	return out
}

// WriteDomainError maps pipeline and store error types onto HTTP
// statuses for handlers that surface them directly.
func WriteDomainError(w http.ResponseWriter, err error) {
	var notFound *store.NotFoundError
	var notReady *store.NotReadyError
	var concurrent *pipeline.ConcurrentProcessingError
	switch {
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.As(err, &notReady):
		WriteError(w, http.StatusConflict, err.Error(), "VIDEO_NOT_READY")
	case errors.As(err, &concurrent):
		WriteError(w, http.StatusConflict, err.Error(), "ALREADY_PROCESSING")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
