package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gaimlab/teachlens/internal/media"
	"github.com/gaimlab/teachlens/internal/models"
	"github.com/gaimlab/teachlens/internal/scoring"
)

var (
	ErrJobNotFound = errors.New("analysis job not found")
	ErrAssetBusy   = errors.New("asset already has an active analysis job")
)

// subscriberBuffer bounds each progress stream. A subscriber that falls
// this far behind loses intermediate progress events; terminal events are
// never dropped.
const subscriberBuffer = 64

// JobStore persists job state across transitions.
type JobStore interface {
	Insert(job *models.AnalysisJob) error
	Update(job *models.AnalysisJob) error
	GetByID(id string) (*models.AnalysisJob, error)
	ActiveJobForAsset(assetID string) (string, error)
}

// Extractor produces the derived artifacts for an asset.
type Extractor interface {
	Extract(ctx context.Context, asset *models.MediaAsset) (*media.Artifacts, error)
}

// Transcriber turns the extracted audio track into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*models.TranscriptResult, error)
}

// VisionAnalyzer aggregates pose detections over the frame samples.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, frames [][]byte) (*models.VisionResult, error)
}

// EmotionAnalyzer classifies the emotion distribution over the frame samples.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, frames [][]byte) (*models.EmotionResult, error)
}

type jobState struct {
	mu          sync.Mutex
	job         *models.AnalysisJob
	subscribers []chan Event
	cancel      context.CancelFunc
}

// Orchestrator runs analysis jobs through their stages and fans progress
// out to subscribers. One goroutine per running job; all job mutation
// happens under the per-job mutex, never while a backend call is in flight.
type Orchestrator struct {
	extractor Extractor
	speech    Transcriber
	vision    VisionAnalyzer
	emotion   EmotionAnalyzer
	engine    *scoring.Engine
	store     JobStore

	loadFrames func(framesDir string) ([][]byte, error)

	mu            sync.RWMutex
	jobs          map[string]*jobState
	activeByAsset map[string]string
}

func NewOrchestrator(extractor Extractor, speech Transcriber, vision VisionAnalyzer, emotion EmotionAnalyzer, engine *scoring.Engine, store JobStore) *Orchestrator {
	return &Orchestrator{
		extractor:     extractor,
		speech:        speech,
		vision:        vision,
		emotion:       emotion,
		engine:        engine,
		store:         store,
		loadFrames:    media.LoadFrames,
		jobs:          make(map[string]*jobState),
		activeByAsset: make(map[string]string),
	}
}

// WithFrameLoader replaces the frame loader (for testing).
func (o *Orchestrator) WithFrameLoader(load func(framesDir string) ([][]byte, error)) {
	o.loadFrames = load
}

// Start creates a job for the asset and begins running it. An asset can
// have at most one non-terminal job at a time.
func (o *Orchestrator) Start(asset *models.MediaAsset) (*models.AnalysisJob, error) {
	o.mu.Lock()
	if jobID, ok := o.activeByAsset[asset.ID]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s", ErrAssetBusy, jobID)
	}

	// A non-terminal job in the store that this process is not running
	// was interrupted by a restart. Close it out rather than blocking
	// the asset forever.
	if staleID, err := o.store.ActiveJobForAsset(asset.ID); err == nil && staleID != "" {
		if stale, err := o.store.GetByID(staleID); err == nil && stale != nil {
			o.closeOut(stale, "Interrupted")
		}
	}

	job := models.NewAnalysisJob(asset.ID)
	if err := o.store.Insert(job); err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &jobState{job: job, cancel: cancel}
	o.jobs[job.ID] = st
	o.activeByAsset[asset.ID] = job.ID
	o.mu.Unlock()

	// Snapshot before the run goroutine exists; after that the job may
	// only be read under st.mu.
	snapshot := snapshotLocked(job)

	log.Printf("Starting analysis job %s for asset %s", job.ID, asset.ID)
	go o.run(ctx, st, asset)

	return snapshot, nil
}

// Snapshot returns a copy of the job's current state. Jobs that finished
// in a previous process come back from the store; a non-terminal store row
// that no goroutine is running was interrupted by a restart and is closed
// out before it is returned.
func (o *Orchestrator) Snapshot(jobID string) (*models.AnalysisJob, error) {
	o.mu.RLock()
	st, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		return snapshotLocked(st.job), nil
	}

	job, err := o.store.GetByID(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if !job.Status.Terminal() {
		o.closeOut(job, "Interrupted")
	}
	return job, nil
}

// Subscribe registers a progress stream for the job. The returned cancel
// func must be called when the subscriber goes away. Subscribing to a job
// that already finished yields its terminal event immediately.
func (o *Orchestrator) Subscribe(jobID string) (<-chan Event, func(), error) {
	o.mu.RLock()
	st, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if !ok {
		job, err := o.store.GetByID(jobID)
		if err != nil {
			return nil, nil, err
		}
		if job == nil {
			return nil, nil, ErrJobNotFound
		}
		// A non-terminal store row with no running goroutine was
		// interrupted by a restart: never report it completed.
		if !job.Status.Terminal() {
			o.closeOut(job, "Interrupted")
		}
		ch := make(chan Event, 1)
		ch <- terminalEventFor(job)
		close(ch)
		return ch, func() {}, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.job.Status.Terminal() {
		ch := make(chan Event, 1)
		ch <- terminalEventFor(st.job)
		close(ch)
		return ch, func() {}, nil
	}

	// The current progress is enqueued first, under the same lock that
	// orders published events, so the stream starts from a known point
	// and stays non-decreasing.
	ch := make(chan Event, subscriberBuffer)
	ch <- progressEvent(st.job.Progress)
	st.subscribers = append(st.subscribers, ch)
	unsubscribe := func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		for i, sub := range st.subscribers {
			if sub == ch {
				st.subscribers = append(st.subscribers[:i], st.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe, nil
}

// Cancel aborts a running job. Finished jobs are left alone; a
// non-terminal store row with no running goroutine is closed out directly.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.RLock()
	st, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if ok {
		st.cancel()
		return nil
	}

	job, err := o.store.GetByID(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if !job.Status.Terminal() {
		o.closeOut(job, "Cancelled")
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, st *jobState, asset *models.MediaAsset) {
	defer st.cancel()

	o.transition(st, models.StatusExtracting, 0)
	artifacts, err := o.extractor.Extract(ctx, asset)
	if err != nil {
		o.fail(ctx, st, asset.ID, fmt.Errorf("extract: %w", err))
		return
	}

	o.transition(st, models.StatusTranscribing, 20)
	transcript, err := o.speech.Transcribe(ctx, artifacts.AudioPath)
	if err != nil {
		o.fail(ctx, st, asset.ID, err)
		return
	}
	st.mu.Lock()
	st.job.Transcript = transcript
	st.mu.Unlock()

	frames, err := o.loadFrames(artifacts.FramesDir)
	if err != nil {
		o.fail(ctx, st, asset.ID, fmt.Errorf("extract: %w", err))
		return
	}

	// Vision and emotion run concurrently over the same frames. Each
	// branch advances progress by 20 as it finishes, whichever order
	// that happens in.
	o.transition(st, models.StatusAnalyzingEmotion, 50)

	var wg sync.WaitGroup
	var firstDone sync.Once
	var visionErr, emotionErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		vision, err := o.vision.Analyze(ctx, frames)
		if err != nil {
			visionErr = err
			return
		}
		st.mu.Lock()
		st.job.Vision = vision
		st.mu.Unlock()
		o.branchDone(st, &firstDone)
	}()
	go func() {
		defer wg.Done()
		emotion, err := o.emotion.Analyze(ctx, frames)
		if err != nil {
			emotionErr = err
			return
		}
		st.mu.Lock()
		st.job.Emotion = emotion
		st.mu.Unlock()
		o.branchDone(st, &firstDone)
	}()
	wg.Wait()

	if visionErr != nil {
		o.fail(ctx, st, asset.ID, visionErr)
		return
	}
	if emotionErr != nil {
		o.fail(ctx, st, asset.ID, emotionErr)
		return
	}

	o.transition(st, models.StatusScoring, 90)

	st.mu.Lock()
	if st.job.Transcript == nil || st.job.Vision == nil || st.job.Emotion == nil {
		st.mu.Unlock()
		o.fail(ctx, st, asset.ID, errors.New("scoring: missing analysis results"))
		return
	}
	st.job.Evaluation = o.engine.Score(st.job.Transcript, st.job.Vision, st.job.Emotion)
	st.job.Status = models.StatusCompleted
	st.job.Progress = 100
	now := time.Now()
	st.job.FinishedAt = &now
	o.persistLocked(st)
	o.publishLocked(st, completeEvent())
	st.mu.Unlock()

	o.release(st.job.ID, asset.ID)
	log.Printf("Job %s completed: total %d grade %s", st.job.ID, st.job.Evaluation.TotalScore, st.job.Evaluation.Grade)
}

// branchDone advances progress for one finished concurrent branch. The
// first branch to finish also moves the status on.
func (o *Orchestrator) branchDone(st *jobState, firstDone *sync.Once) {
	st.mu.Lock()
	defer st.mu.Unlock()
	firstDone.Do(func() {
		st.job.Status = models.StatusAnalyzingVision
	})
	st.job.Progress += 20
	o.persistLocked(st)
	o.publishLocked(st, progressEvent(st.job.Progress))
}

func (o *Orchestrator) transition(st *jobState, status models.JobStatus, progress int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.job.Status = status
	if progress > st.job.Progress {
		st.job.Progress = progress
	}
	o.persistLocked(st)
	o.publishLocked(st, progressEvent(st.job.Progress))
}

func (o *Orchestrator) fail(ctx context.Context, st *jobState, assetID string, err error) {
	msg := err.Error()
	if ctx.Err() != nil {
		msg = "Cancelled"
	}

	st.mu.Lock()
	st.job.Status = models.StatusFailed
	st.job.Error = msg
	now := time.Now()
	st.job.FinishedAt = &now
	o.persistLocked(st)
	o.publishLocked(st, errorEvent(msg))
	st.mu.Unlock()

	o.release(st.job.ID, assetID)
	log.Printf("Job %s failed: %s", st.job.ID, msg)
}

// release drops a finished job from the registries. The store keeps the
// terminal state; Snapshot and Subscribe fall back to it.
func (o *Orchestrator) release(jobID, assetID string) {
	o.mu.Lock()
	delete(o.jobs, jobID)
	delete(o.activeByAsset, assetID)
	o.mu.Unlock()
}

// closeOut marks a job that is not running in this process as failed and
// persists it.
func (o *Orchestrator) closeOut(job *models.AnalysisJob, reason string) {
	job.Status = models.StatusFailed
	job.Error = reason
	now := time.Now()
	job.FinishedAt = &now
	if err := o.store.Update(job); err != nil {
		log.Printf("Failed to close out job %s: %v", job.ID, err)
	}
}

// persistLocked writes the current job state through the store. Callers
// hold st.mu. Persistence failures are logged, not fatal: the in-memory
// state stays authoritative until the job reaches a terminal state.
func (o *Orchestrator) persistLocked(st *jobState) {
	if err := o.store.Update(st.job); err != nil {
		log.Printf("Failed to persist job %s: %v", st.job.ID, err)
	}
}

// publishLocked fans an event out to subscribers. Callers hold st.mu.
// Terminal events close every stream.
func (o *Orchestrator) publishLocked(st *jobState, ev Event) {
	for _, ch := range st.subscribers {
		select {
		case ch <- ev:
		default:
			log.Printf("Dropping progress event for slow subscriber of job %s", st.job.ID)
		}
	}
	if ev.Terminal() {
		for _, ch := range st.subscribers {
			close(ch)
		}
		st.subscribers = nil
	}
}

func terminalEventFor(job *models.AnalysisJob) Event {
	if job.Status == models.StatusFailed {
		return errorEvent(job.Error)
	}
	return completeEvent()
}

func snapshotLocked(job *models.AnalysisJob) *models.AnalysisJob {
	cp := *job
	return &cp
}
