package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gaimlab/teachlens/internal/config"
	"github.com/gaimlab/teachlens/internal/media"
	"github.com/gaimlab/teachlens/internal/models"
	"github.com/gaimlab/teachlens/internal/scoring"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.AnalysisJob
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.AnalysisJob)}
}

func (s *memStore) put(job *models.AnalysisJob) {
	cp := *job
	s.jobs[job.ID] = &cp
}

func (s *memStore) Insert(job *models.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(job)
	return nil
}

func (s *memStore) Update(job *models.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(job)
	return nil
}

func (s *memStore) GetByID(id string) (*models.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) ActiveJobForAsset(assetID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.AssetID == assetID && !job.Status.Terminal() {
			return job.ID, nil
		}
	}
	return "", nil
}

type fakeExtractor struct {
	gate chan struct{}
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, asset *models.MediaAsset) (*media.Artifacts, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &media.Artifacts{FramesDir: "frames", AudioPath: "audio.wav", FrameCount: 2}, nil
}

type fakeTranscriber struct {
	gate   chan struct{}
	result *models.TranscriptResult
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (*models.TranscriptResult, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

type fakeVision struct {
	result *models.VisionResult
	err    error
}

func (f *fakeVision) Analyze(ctx context.Context, frames [][]byte) (*models.VisionResult, error) {
	return f.result, f.err
}

type fakeEmotion struct {
	result *models.EmotionResult
	err    error
}

func (f *fakeEmotion) Analyze(ctx context.Context, frames [][]byte) (*models.EmotionResult, error) {
	return f.result, f.err
}

type fixture struct {
	orch      *Orchestrator
	store     *memStore
	extractor *fakeExtractor
	speech    *fakeTranscriber
	vision    *fakeVision
	emotion   *fakeEmotion
}

func newFixture() *fixture {
	f := &fixture{
		store:     newMemStore(),
		extractor: &fakeExtractor{},
		speech: &fakeTranscriber{result: &models.TranscriptResult{
			Text:     "안녕하세요",
			Segments: []models.UtteranceSegment{{Start: 0, End: 5, Text: "안녕하세요"}},
		}},
		vision:  &fakeVision{result: &models.VisionResult{FaceVisibleRatio: 0.8, GestureActiveRatio: 0.3}},
		emotion: &fakeEmotion{result: &models.EmotionResult{Ratios: map[string]float64{"neutral": 1.0}, Dominant: "neutral"}},
	}
	engine := scoring.NewEngine(config.Default().Scoring.GradeTable)
	f.orch = NewOrchestrator(f.extractor, f.speech, f.vision, f.emotion, engine, f.store)
	f.orch.WithFrameLoader(func(framesDir string) ([][]byte, error) {
		return [][]byte{{1}, {2}}, nil
	})
	return f
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
}

func TestRunToCompletion(t *testing.T) {
	f := newFixture()
	f.extractor.gate = make(chan struct{})

	job, err := f.orch.Start(models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events, unsubscribe, err := f.orch.Subscribe(job.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()
	close(f.extractor.gate)

	got := collectEvents(t, events)
	if len(got) == 0 {
		t.Fatal("no events received")
	}

	terminal := 0
	lastProgress := -1
	for _, ev := range got {
		if ev.Terminal() {
			terminal++
			continue
		}
		if ev.Progress < lastProgress {
			t.Errorf("progress went backwards: %d after %d", ev.Progress, lastProgress)
		}
		lastProgress = ev.Progress
	}
	if terminal != 1 {
		t.Errorf("got %d terminal events, want exactly 1", terminal)
	}
	if last := got[len(got)-1]; last.Type != EventComplete {
		t.Errorf("last event %v, want complete", last)
	}

	final, err := f.orch.Snapshot(job.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if final.Status != models.StatusCompleted {
		t.Errorf("status %s, want completed", final.Status)
	}
	if final.Progress != 100 {
		t.Errorf("progress %d, want 100", final.Progress)
	}
	if final.Evaluation == nil {
		t.Fatal("completed job has no evaluation")
	}
	if final.Evaluation.Grade == "" {
		t.Error("evaluation has no grade")
	}
	if final.FinishedAt == nil {
		t.Error("completed job has no finish time")
	}
}

func TestRunFailsOnTranscription(t *testing.T) {
	f := newFixture()
	f.speech.err = errors.New("transcribing: stt backend down")

	job, err := f.orch.Start(models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForTerminal(t, f.orch, job.ID)

	final, err := f.orch.Snapshot(job.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if final.Status != models.StatusFailed {
		t.Errorf("status %s, want failed", final.Status)
	}
	if final.Error == "" {
		t.Error("failed job has no error detail")
	}
	if final.Evaluation != nil {
		t.Error("failed job must not carry an evaluation")
	}
}

func TestStartRejectsBusyAsset(t *testing.T) {
	f := newFixture()
	f.extractor.gate = make(chan struct{})
	defer close(f.extractor.gate)

	asset := models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60)
	if _, err := f.orch.Start(asset); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	if _, err := f.orch.Start(asset); !errors.Is(err, ErrAssetBusy) {
		t.Errorf("second Start error %v, want ErrAssetBusy", err)
	}
}

func TestStartAgainAfterCompletion(t *testing.T) {
	f := newFixture()

	asset := models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60)
	job, err := f.orch.Start(asset)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForTerminal(t, f.orch, job.ID)

	if _, err := f.orch.Start(asset); err != nil {
		t.Errorf("Start after completion failed: %v", err)
	}
}

func TestSubscribeAfterTerminal(t *testing.T) {
	f := newFixture()

	job, err := f.orch.Start(models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForTerminal(t, f.orch, job.ID)

	events, unsubscribe, err := f.orch.Subscribe(job.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()

	got := collectEvents(t, events)
	if len(got) != 1 || got[0].Type != EventComplete {
		t.Errorf("late subscriber got %v, want a single complete event", got)
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	f := newFixture()
	if _, _, err := f.orch.Subscribe("no-such-job"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("error %v, want ErrJobNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture()
	f.extractor.gate = make(chan struct{})

	job, err := f.orch.Start(models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := f.orch.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitForTerminal(t, f.orch, job.ID)

	final, err := f.orch.Snapshot(job.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if final.Status != models.StatusFailed {
		t.Errorf("status %s, want failed", final.Status)
	}
	if final.Error != "Cancelled" {
		t.Errorf("error %q, want Cancelled", final.Error)
	}
}

func TestStartClosesOutInterruptedJob(t *testing.T) {
	f := newFixture()

	asset := models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60)
	stale := models.NewAnalysisJob(asset.ID)
	stale.Status = models.StatusTranscribing
	if err := f.store.Insert(stale); err != nil {
		t.Fatal(err)
	}

	job, err := f.orch.Start(asset)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForTerminal(t, f.orch, job.ID)

	closed, err := f.store.GetByID(stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != models.StatusFailed || closed.Error != "Interrupted" {
		t.Errorf("stale job state %s/%q, want failed/Interrupted", closed.Status, closed.Error)
	}
}

func TestStartReturnsPreRunSnapshot(t *testing.T) {
	f := newFixture()

	var jobs []*models.AnalysisJob
	for i := 0; i < 20; i++ {
		asset := models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60)
		job, err := f.orch.Start(asset)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if job.Status != models.StatusQueued || job.Progress != 0 {
			t.Fatalf("Start returned %s/%d, want queued/0", job.Status, job.Progress)
		}
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		waitForTerminal(t, f.orch, job.ID)
	}
}

func TestSubscribeInterruptedJob(t *testing.T) {
	f := newFixture()

	stale := models.NewAnalysisJob("asset-1")
	stale.Status = models.StatusTranscribing
	stale.Progress = 20
	if err := f.store.Insert(stale); err != nil {
		t.Fatal(err)
	}

	events, unsubscribe, err := f.orch.Subscribe(stale.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()

	got := collectEvents(t, events)
	if len(got) != 1 || got[0].Type != EventError {
		t.Fatalf("subscriber got %v, want a single error event", got)
	}
	if got[0].Err != "Interrupted" {
		t.Errorf("error %q, want Interrupted", got[0].Err)
	}

	closed, err := f.store.GetByID(stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != models.StatusFailed || closed.Error != "Interrupted" {
		t.Errorf("stale job state %s/%q, want failed/Interrupted", closed.Status, closed.Error)
	}
}

func TestSubscribeStartsAtCurrentProgress(t *testing.T) {
	f := newFixture()
	f.speech.gate = make(chan struct{})

	job, err := f.orch.Start(models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait until the job is parked in the transcribing stage at 20.
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := f.orch.Snapshot(job.ID)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Status == models.StatusTranscribing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached transcribing, status %s", snap.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	events, unsubscribe, err := f.orch.Subscribe(job.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()
	close(f.speech.gate)

	got := collectEvents(t, events)
	if len(got) == 0 {
		t.Fatal("no events received")
	}
	if first := got[0]; first.Type != EventProgress || first.Progress != 20 {
		t.Fatalf("first event %v, want progress 20", first)
	}
	lastProgress := -1
	for _, ev := range got {
		if ev.Terminal() {
			continue
		}
		if ev.Progress < lastProgress {
			t.Errorf("progress went backwards: %d after %d", ev.Progress, lastProgress)
		}
		lastProgress = ev.Progress
	}
}

func TestTerminalJobLeavesRegistry(t *testing.T) {
	f := newFixture()

	job, err := f.orch.Start(models.NewMediaAsset("lesson.mp4", "stored.mp4", "video/mp4", 100, 60))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForTerminal(t, f.orch, job.ID)

	f.orch.mu.RLock()
	registered := len(f.orch.jobs)
	f.orch.mu.RUnlock()
	if registered != 0 {
		t.Errorf("%d jobs still registered after completion, want 0", registered)
	}

	final, err := f.orch.Snapshot(job.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if final.Status != models.StatusCompleted || final.Evaluation == nil {
		t.Errorf("stored job %s, want completed with evaluation", final.Status)
	}

	if err := f.orch.Cancel(job.ID); err != nil {
		t.Errorf("Cancel of a finished job should be a no-op, got %v", err)
	}
}

func waitForTerminal(t *testing.T, orch *Orchestrator, jobID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := orch.Snapshot(jobID)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if job.Status.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal status", jobID)
}
