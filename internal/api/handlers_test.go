package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gaimlab/teachlens/internal/clients"
	"github.com/gaimlab/teachlens/internal/coach"
	"github.com/gaimlab/teachlens/internal/config"
	"github.com/gaimlab/teachlens/internal/database"
	"github.com/gaimlab/teachlens/internal/media"
	"github.com/gaimlab/teachlens/internal/models"
	"github.com/gaimlab/teachlens/internal/pipeline"
	"github.com/gaimlab/teachlens/internal/scoring"
	"github.com/gaimlab/teachlens/internal/storage"
)

type fakeIngester struct {
	asset *models.MediaAsset
	err   error
}

func (f *fakeIngester) Ingest(ctx context.Context, file multipart.File, info storage.FileInfo) (*models.MediaAsset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.asset, nil
}

type fakeExtractor struct {
	gate chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, asset *models.MediaAsset) (*media.Artifacts, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &media.Artifacts{FramesDir: "frames", AudioPath: "audio.wav", FrameCount: 1}, nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (*models.TranscriptResult, error) {
	return &models.TranscriptResult{
		Text:     "안녕하세요",
		Segments: []models.UtteranceSegment{{Start: 0, End: 5, Text: "안녕하세요"}},
	}, nil
}

type fakeVision struct{}

func (fakeVision) Analyze(ctx context.Context, frames [][]byte) (*models.VisionResult, error) {
	return &models.VisionResult{FaceVisibleRatio: 0.8, GestureActiveRatio: 0.4}, nil
}

type fakeEmotion struct{}

func (fakeEmotion) Analyze(ctx context.Context, frames [][]byte) (*models.EmotionResult, error) {
	return &models.EmotionResult{Ratios: map[string]float64{"happy": 1.0}, Dominant: "happy"}, nil
}

type downGenerative struct{}

func (downGenerative) Generate(ctx context.Context, prompt string) (*clients.GenerateResponse, error) {
	return nil, errors.New("generative backend not configured")
}

type testApp struct {
	app        *App
	handler    http.Handler
	assets     *database.AssetRepository
	ingester   *fakeIngester
	extractor  *fakeExtractor
	storageDir string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := database.NewDB(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	assets := database.NewAssetRepository(db)
	jobs := database.NewJobRepository(db)

	extractor := &fakeExtractor{}
	engine := scoring.NewEngine(config.Default().Scoring.GradeTable)
	orch := pipeline.NewOrchestrator(extractor, fakeTranscriber{}, fakeVision{}, fakeEmotion{}, engine, jobs)
	orch.WithFrameLoader(func(string) ([][]byte, error) { return [][]byte{{1}}, nil })

	storageDir := t.TempDir()
	localStorage, err := storage.NewLocalStorage(storageDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	ingester := &fakeIngester{}
	app := &App{
		Ingestor:      ingester,
		Storage:       localStorage,
		Assets:        assets,
		Orchestrator:  orch,
		Coach:         coach.NewManager(downGenerative{}, orch),
		MaxUploadSize: 1 << 20,
	}

	return &testApp{
		app:        app,
		handler:    NewRouter(app),
		assets:     assets,
		ingester:   ingester,
		extractor:  extractor,
		storageDir: storageDir,
	}
}

func (ta *testApp) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func multipartUpload(t *testing.T, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("video", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("fake video bytes"))
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestPingAndHealth(t *testing.T) {
	ta := newTestApp(t)

	rec := ta.do(t, http.MethodGet, "/ping", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("ping: %d %q", rec.Code, rec.Body.String())
	}

	rec = ta.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status %d", rec.Code)
	}
	if body := decode[map[string]string](t, rec); body["status"] != "ok" {
		t.Errorf("health body %v", body)
	}
}

func TestUpload(t *testing.T) {
	ta := newTestApp(t)
	asset := models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 16, 120)
	ta.ingester.asset = asset

	body, contentType := multipartUpload(t, "lesson.mp4")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[videoResponse](t, rec)
	if resp.VideoID != asset.ID || resp.Filename != "lesson.mp4" {
		t.Errorf("unexpected response %+v", resp)
	}

	stored, err := ta.assets.GetByID(asset.ID)
	if err != nil || stored == nil {
		t.Errorf("asset not persisted: %v", err)
	}
}

func TestUploadErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid container", fmt.Errorf("%w: unsupported file type", media.ErrInvalidMedia), http.StatusBadRequest},
		{"too long", fmt.Errorf("%w: 2000s", media.ErrTooLong), http.StatusBadRequest},
		{"too large", fmt.Errorf("%w: 3GB", media.ErrTooLarge), http.StatusRequestEntityTooLarge},
		{"storage failure", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t)
			ta.ingester.err = tt.err

			body, contentType := multipartUpload(t, "lesson.mp4")
			req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/upload", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			ta.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status %d, want %d", rec.Code, tt.wantStatus)
			}
			if body := decode[map[string]string](t, rec); body["error"] == "" {
				t.Error("no error detail in response")
			}
		})
	}
}

func TestUploadRemovesOrphanedFile(t *testing.T) {
	db, err := database.NewDB(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.Close() // inserts now fail

	storageDir := t.TempDir()
	localStorage, err := storage.NewLocalStorage(storageDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	if err := os.WriteFile(filepath.Join(storageDir, "stored.mp4"), []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}

	app := &App{
		Ingestor:      &fakeIngester{asset: models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 4, 60)},
		Storage:       localStorage,
		Assets:        database.NewAssetRepository(db),
		MaxUploadSize: 1 << 20,
	}

	body, contentType := multipartUpload(t, "lesson.mp4")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	app.UploadHandler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(storageDir, "stored.mp4")); !os.IsNotExist(err) {
		t.Errorf("stored file was not removed after the insert failed: %v", err)
	}
}

func TestAnalyzeFlow(t *testing.T) {
	ta := newTestApp(t)
	asset := models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 16, 120)
	if err := ta.assets.Insert(asset); err != nil {
		t.Fatal(err)
	}

	rec := ta.do(t, http.MethodPost, "/api/v1/analysis/analyze", analyzeRequest{VideoID: asset.ID})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("analyze status %d: %s", rec.Code, rec.Body.String())
	}
	accepted := decode[map[string]any](t, rec)
	jobID, _ := accepted["analysis_id"].(string)
	if jobID == "" {
		t.Fatalf("no analysis_id in %v", accepted)
	}

	deadline := time.Now().Add(5 * time.Second)
	var status statusResponse
	for time.Now().Before(deadline) {
		rec = ta.do(t, http.MethodGet, "/api/v1/analysis/"+jobID+"/status", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status endpoint %d", rec.Code)
		}
		status = decode[statusResponse](t, rec)
		if status.Status.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status.Status != models.StatusCompleted {
		t.Fatalf("job finished as %s (%s)", status.Status, status.Error)
	}
	if status.Progress != 100 {
		t.Errorf("progress %d, want 100", status.Progress)
	}

	rec = ta.do(t, http.MethodGet, "/api/v1/analysis/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result endpoint %d", rec.Code)
	}
	result := decode[resultResponse](t, rec)
	if result.Result == nil {
		t.Fatal("completed job has no evaluation in result payload")
	}
	if result.Result.Grade == "" || len(result.Result.Dimensions) != 7 {
		t.Errorf("unexpected evaluation %+v", result.Result)
	}
	if result.Transcript == nil || result.Transcript.Text != "안녕하세요" {
		t.Error("transcript missing from result payload")
	}
}

func TestAnalyzeUnknownVideo(t *testing.T) {
	ta := newTestApp(t)
	rec := ta.do(t, http.MethodPost, "/api/v1/analysis/analyze", analyzeRequest{VideoID: "no-such-video"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestAnalyzeBusyAsset(t *testing.T) {
	ta := newTestApp(t)
	ta.extractor.gate = make(chan struct{})
	defer close(ta.extractor.gate)

	asset := models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 16, 120)
	if err := ta.assets.Insert(asset); err != nil {
		t.Fatal(err)
	}

	if rec := ta.do(t, http.MethodPost, "/api/v1/analysis/analyze", analyzeRequest{VideoID: asset.ID}); rec.Code != http.StatusAccepted {
		t.Fatalf("first analyze status %d", rec.Code)
	}
	if rec := ta.do(t, http.MethodPost, "/api/v1/analysis/analyze", analyzeRequest{VideoID: asset.ID}); rec.Code != http.StatusConflict {
		t.Errorf("second analyze status %d, want 409", rec.Code)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	ta := newTestApp(t)
	rec := ta.do(t, http.MethodGet, "/api/v1/analysis/no-such-job/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestVideoList(t *testing.T) {
	ta := newTestApp(t)
	for i := 0; i < 2; i++ {
		asset := models.NewMediaAsset(fmt.Sprintf("lesson%d.mp4", i), fmt.Sprintf("s%d.mp4", i), "video/mp4", 16, 120)
		if err := ta.assets.Insert(asset); err != nil {
			t.Fatal(err)
		}
	}

	rec := ta.do(t, http.MethodGet, "/api/v1/analysis/videos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decode[map[string][]videoResponse](t, rec)
	if len(body["videos"]) != 2 {
		t.Errorf("listed %d videos, want 2", len(body["videos"]))
	}
}

func TestVideoStream(t *testing.T) {
	ta := newTestApp(t)

	content := []byte("fake mp4 payload")
	if err := os.WriteFile(filepath.Join(ta.storageDir, "stored.mp4"), content, 0644); err != nil {
		t.Fatal(err)
	}
	asset := models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", int64(len(content)), 120)
	if err := ta.assets.Insert(asset); err != nil {
		t.Fatal(err)
	}

	rec := ta.do(t, http.MethodGet, "/api/v1/analysis/videos/"+asset.ID+"/stream", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("content type %q, want video/mp4", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Error("streamed body does not match the stored file")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analysis/videos/"+asset.ID+"/stream", nil)
	req.Header.Set("Range", "bytes=0-3")
	rec = httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusPartialContent {
		t.Errorf("range request status %d, want 206", rec.Code)
	}
	if got := rec.Body.String(); got != "fake" {
		t.Errorf("range body %q, want %q", got, "fake")
	}

	if rec := ta.do(t, http.MethodGet, "/api/v1/analysis/videos/no-such-video/stream", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown video status %d, want 404", rec.Code)
	}
}

func TestChatLifecycle(t *testing.T) {
	ta := newTestApp(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/chat/message", chatRequest{Message: "시간 배분을 어떻게 개선할 수 있나요?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status %d: %s", rec.Code, rec.Body.String())
	}
	reply := decode[chatResponse](t, rec)
	if reply.SessionID == "" {
		t.Fatal("no session id")
	}
	if reply.Message.Role != models.RoleAssistant || reply.Message.Content == "" {
		t.Errorf("unexpected reply message %+v", reply.Message)
	}
	if len(reply.Suggestions) == 0 {
		t.Error("no suggestions")
	}

	rec = ta.do(t, http.MethodGet, "/api/v1/chat/session/"+reply.SessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status %d", rec.Code)
	}
	session := decode[chatSessionResponse](t, rec)
	if len(session.Messages) != 2 {
		t.Errorf("session has %d messages, want 2", len(session.Messages))
	}

	if rec = ta.do(t, http.MethodDelete, "/api/v1/chat/session/"+reply.SessionID, nil); rec.Code != http.StatusOK {
		t.Errorf("delete status %d", rec.Code)
	}
	if rec = ta.do(t, http.MethodGet, "/api/v1/chat/session/"+reply.SessionID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status %d, want 404", rec.Code)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	ta := newTestApp(t)
	rec := ta.do(t, http.MethodPost, "/api/v1/chat/message", chatRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestQuickFeedbackEndpoint(t *testing.T) {
	ta := newTestApp(t)

	rec := ta.do(t, http.MethodPost, "/api/v1/chat/quick-feedback", quickFeedbackRequest{AnalysisID: "analysis-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		AnalysisID string   `json:"analysis_id"`
		Tips       []string `json:"tips"`
	}](t, rec)
	if resp.AnalysisID != "analysis-1" {
		t.Errorf("analysis_id %q, want analysis-1", resp.AnalysisID)
	}
	if len(resp.Tips) == 0 {
		t.Error("expected at least one tip")
	}

	rec = ta.do(t, http.MethodPost, "/api/v1/chat/quick-feedback", quickFeedbackRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400 without analysis_id", rec.Code)
	}
}
