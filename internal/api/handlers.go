package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/gaimlab/teachlens/internal/coach"
	"github.com/gaimlab/teachlens/internal/database"
	"github.com/gaimlab/teachlens/internal/media"
	"github.com/gaimlab/teachlens/internal/models"
	"github.com/gaimlab/teachlens/internal/pipeline"
	"github.com/gaimlab/teachlens/internal/storage"
)

// Ingester validates and registers uploaded recordings.
type Ingester interface {
	Ingest(ctx context.Context, file multipart.File, info storage.FileInfo) (*models.MediaAsset, error)
}

type App struct {
	Ingestor      Ingester
	Storage       storage.Storage
	Assets        *database.AssetRepository
	Orchestrator  *pipeline.Orchestrator
	Coach         *coach.Manager
	MaxUploadSize int64
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type videoResponse struct {
	VideoID    string  `json:"video_id"`
	Filename   string  `json:"filename"`
	Size       int64   `json:"size"`
	Duration   float64 `json:"duration"`
	UploadTime string  `json:"upload_time"`
}

func toVideoResponse(asset *models.MediaAsset) videoResponse {
	return videoResponse{
		VideoID:    asset.ID,
		Filename:   asset.Filename,
		Size:       asset.Size,
		Duration:   asset.Duration,
		UploadTime: asset.UploadTime.Format(time.RFC3339),
	}
}

// UploadHandler accepts a multipart lesson recording, validates it, and
// registers the asset.
func (app *App) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to get file")
		return
	}
	defer file.Close()

	asset, err := app.Ingestor.Ingest(r.Context(), file, storage.FileInfo{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	})
	if err != nil {
		app.respondIngestError(w, err)
		return
	}

	if err := app.Assets.Insert(asset); err != nil {
		log.Printf("Failed to persist asset %s: %v", asset.ID, err)
		// Without a row the stored file is unreachable; remove it.
		if err := app.Storage.DeleteFile(asset.StoredName); err != nil {
			log.Printf("Failed to remove orphaned upload %s: %v", asset.StoredName, err)
		}
		respondError(w, http.StatusInternalServerError, "Failed to save video information")
		return
	}

	respondJSON(w, http.StatusCreated, toVideoResponse(asset))
}

func (app *App) respondIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, media.ErrTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, media.ErrInvalidMedia), errors.Is(err, media.ErrTooLong):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("Upload failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to save upload")
	}
}

// VideoListHandler lists the uploaded assets, newest first.
func (app *App) VideoListHandler(w http.ResponseWriter, r *http.Request) {
	assets, err := app.Assets.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load videos")
		return
	}

	videos := make([]videoResponse, 0, len(assets))
	for i := range assets {
		videos = append(videos, toVideoResponse(&assets[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

// VideoStreamHandler serves the stored recording with range support, for
// playback alongside the analysis result.
func (app *App) VideoStreamHandler(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "id")

	asset, err := app.Assets.GetByID(assetID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load video")
		return
	}
	if asset == nil {
		respondError(w, http.StatusNotFound, "Video not found")
		return
	}

	file, err := app.Storage.OpenFile(asset.StoredName)
	if err != nil {
		log.Printf("Failed to open stored file %s: %v", asset.StoredName, err)
		respondError(w, http.StatusInternalServerError, "Failed to open video")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", asset.ContentType)
	http.ServeContent(w, r, asset.Filename, asset.UploadTime, file)
}

type analyzeRequest struct {
	VideoID string `json:"video_id"`
}

// AnalyzeHandler starts an analysis job for an uploaded asset.
func (app *App) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VideoID == "" {
		respondError(w, http.StatusBadRequest, "video_id is required")
		return
	}

	asset, err := app.Assets.GetByID(req.VideoID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load video")
		return
	}
	if asset == nil {
		respondError(w, http.StatusNotFound, "Video not found")
		return
	}

	job, err := app.Orchestrator.Start(asset)
	if err != nil {
		if errors.Is(err, pipeline.ErrAssetBusy) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("Failed to start analysis for asset %s: %v", asset.ID, err)
		respondError(w, http.StatusInternalServerError, "Failed to start analysis")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"analysis_id": job.ID,
		"video_id":    job.AssetID,
		"status":      job.Status,
	})
}

type statusResponse struct {
	AnalysisID string           `json:"analysis_id"`
	VideoID    string           `json:"video_id"`
	Status     models.JobStatus `json:"status"`
	Progress   int              `json:"progress"`
	Error      string           `json:"error,omitempty"`
}

// StatusHandler reports where a job currently is.
func (app *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := app.lookupJob(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{
		AnalysisID: job.ID,
		VideoID:    job.AssetID,
		Status:     job.Status,
		Progress:   job.Progress,
		Error:      job.Error,
	})
}

type resultResponse struct {
	statusResponse
	Transcript *models.TranscriptResult `json:"transcript,omitempty"`
	Vision     *models.VisionResult     `json:"vision,omitempty"`
	Emotion    *models.EmotionResult    `json:"emotion,omitempty"`
	Result     *models.Evaluation       `json:"result,omitempty"`
	FinishedAt string                   `json:"finished_at,omitempty"`
}

// ResultHandler returns the full job, including the evaluation once the
// job has completed.
func (app *App) ResultHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := app.lookupJob(w, r)
	if !ok {
		return
	}

	resp := resultResponse{
		statusResponse: statusResponse{
			AnalysisID: job.ID,
			VideoID:    job.AssetID,
			Status:     job.Status,
			Progress:   job.Progress,
			Error:      job.Error,
		},
		Transcript: job.Transcript,
		Vision:     job.Vision,
		Emotion:    job.Emotion,
		Result:     job.Evaluation,
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, resp)
}

// CancelHandler aborts a running job.
func (app *App) CancelHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := app.Orchestrator.Cancel(jobID); err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "Analysis not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to cancel analysis")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Analysis cancelled"})
}

func (app *App) lookupJob(w http.ResponseWriter, r *http.Request) (*models.AnalysisJob, bool) {
	jobID := chi.URLParam(r, "id")
	job, err := app.Orchestrator.Snapshot(jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "Analysis not found")
		} else {
			log.Printf("Failed to load job %s: %v", jobID, err)
			respondError(w, http.StatusInternalServerError, "Failed to load analysis")
		}
		return nil, false
	}
	return job, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
