package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/gaimlab/teachlens/internal/config"
	"github.com/gaimlab/teachlens/internal/models"
	"github.com/gaimlab/teachlens/internal/storage"
)

// Ingestion errors. All three reject the upload before any job exists.
var (
	ErrInvalidMedia = errors.New("invalid media")
	ErrTooLarge     = errors.New("media exceeds maximum size")
	ErrTooLong      = errors.New("media exceeds maximum duration")
)

var allowedExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true,
}

// Artifacts are the derived frame samples and audio track for one asset.
// They are written once by Extract and read-only afterwards.
type Artifacts struct {
	FramesDir  string
	AudioPath  string
	FrameCount int
}

// CommandRunner executes an external command. Injectable for tests.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Ingestor validates uploads and extracts the frame samples and mono audio
// track that every analyzer reads.
type Ingestor struct {
	store       storage.Storage
	workDir     string
	maxSize     int64
	maxDuration float64
	interval    int
	frameHeight int
	sampleRate  int
	ffmpegPath  string
	ffprobePath string
	run         CommandRunner
}

func NewIngestor(store storage.Storage, cfg *config.Root) (*Ingestor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	return &Ingestor{
		store:       store,
		workDir:     cfg.Storage.WorkDir,
		maxSize:     cfg.Storage.MaxUploadSize,
		maxDuration: float64(cfg.Storage.MaxDuration),
		interval:    cfg.Media.FrameInterval,
		frameHeight: cfg.Media.FrameHeight,
		sampleRate:  cfg.Media.AudioSampleRate,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		run:         runCommand,
	}, nil
}

// WithCommandRunner replaces the subprocess runner (for testing).
func (in *Ingestor) WithCommandRunner(run CommandRunner) {
	in.run = run
}

// Ingest validates the upload against the container whitelist, the size
// bound, and the duration bound, then stores it and returns the asset.
func (in *Ingestor) Ingest(ctx context.Context, file multipart.File, info storage.FileInfo) (*models.MediaAsset, error) {
	ext := strings.ToLower(filepath.Ext(info.Filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidMedia, ext)
	}
	if info.Size > in.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, info.Size, in.maxSize)
	}

	storedName, err := in.store.SaveFile(file, info)
	if err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	duration, err := in.probeDuration(ctx, in.store.FilePath(storedName))
	if err != nil {
		in.store.DeleteFile(storedName)
		return nil, fmt.Errorf("%w: %v", ErrInvalidMedia, err)
	}
	if in.maxDuration > 0 && duration > in.maxDuration {
		in.store.DeleteFile(storedName)
		return nil, fmt.Errorf("%w: %.0fs (limit %.0fs)", ErrTooLong, duration, in.maxDuration)
	}

	asset := models.NewMediaAsset(info.Filename, storedName, info.ContentType, info.Size, duration)
	log.Printf("Ingested %s as asset %s (%.1fs)", info.Filename, asset.ID, duration)
	return asset, nil
}

// Extract produces the derived artifacts for one asset: frame samples at
// the configured interval and a normalized mono audio track. Called by the
// extracting stage of the owning job; the at-most-one-active-job-per-asset
// rule keeps writers exclusive.
func (in *Ingestor) Extract(ctx context.Context, asset *models.MediaAsset) (*Artifacts, error) {
	videoPath := in.store.FilePath(asset.StoredName)

	assetDir := filepath.Join(in.workDir, asset.ID)
	framesDir := filepath.Join(assetDir, "frames")
	audioPath := filepath.Join(assetDir, "audio.wav")
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frames directory: %w", err)
	}

	if err := in.extractFrames(ctx, videoPath, framesDir); err != nil {
		os.RemoveAll(assetDir)
		return nil, err
	}
	if err := in.extractAudio(ctx, videoPath, audioPath); err != nil {
		os.RemoveAll(assetDir)
		return nil, err
	}

	names, err := frameFileNames(framesDir)
	if err != nil {
		os.RemoveAll(assetDir)
		return nil, fmt.Errorf("failed to count frames: %w", err)
	}

	log.Printf("Extracted %d frames and audio for asset %s", len(names), asset.ID)
	return &Artifacts{
		FramesDir:  framesDir,
		AudioPath:  audioPath,
		FrameCount: len(names),
	}, nil
}

func (in *Ingestor) probeDuration(ctx context.Context, videoPath string) (float64, error) {
	out, err := in.run(ctx, in.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("undecodable media: no duration")
	}
	return duration, nil
}

func (in *Ingestor) extractFrames(ctx context.Context, videoPath, framesDir string) error {
	pattern := filepath.Join(framesDir, "frame_%04d.jpg")
	_, err := in.run(ctx, in.ffmpegPath,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d,scale=-2:%d", in.interval, in.frameHeight),
		"-q:v", "3",
		pattern)
	if err != nil {
		return fmt.Errorf("frame extraction: %w", err)
	}
	return nil
}

func (in *Ingestor) extractAudio(ctx context.Context, videoPath, audioPath string) error {
	_, err := in.run(ctx, in.ffmpegPath,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(in.sampleRate),
		"-c:a", "pcm_s16le",
		audioPath)
	if err != nil {
		return fmt.Errorf("audio extraction: %w", err)
	}
	return nil
}

func frameFileNames(framesDir string) ([]string, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "frame_") && strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadFrames reads the extracted frame samples in timestamp order.
func LoadFrames(framesDir string) ([][]byte, error) {
	names, err := frameFileNames(framesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory: %w", err)
	}

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(framesDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", name, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}
