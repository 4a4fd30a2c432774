package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Port string `yaml:"port"`
}

type Storage struct {
	UploadDir     string `yaml:"upload_dir"`
	WorkDir       string `yaml:"work_dir"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
	MaxDuration   int    `yaml:"max_duration_seconds"`
}

type Media struct {
	FrameInterval   int `yaml:"frame_interval_seconds"`
	FrameHeight     int `yaml:"frame_height"`
	AudioSampleRate int `yaml:"audio_sample_rate"`
}

type Analysis struct {
	FillerWords      []string `yaml:"filler_words"`
	GestureThreshold float64  `yaml:"gesture_threshold"`
	EmotionPriority  []string `yaml:"emotion_priority"`
}

// GradeStep is one row of the score→grade table. Steps are evaluated from
// the highest MinScore downward; the first matching step wins.
type GradeStep struct {
	MinScore int    `yaml:"min_score"`
	Grade    string `yaml:"grade"`
}

type Scoring struct {
	GradeTable []GradeStep `yaml:"grade_table"`
}

type Service struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type Services struct {
	STT        Service `yaml:"stt"`
	Pose       Service `yaml:"pose"`
	Emotion    Service `yaml:"emotion"`
	Generative Service `yaml:"generative"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Root struct {
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	Media    Media    `yaml:"media"`
	Analysis Analysis `yaml:"analysis"`
	Scoring  Scoring  `yaml:"scoring"`
	Services Services `yaml:"services"`
	Database Database `yaml:"database"`
}

// Korean classroom filler words, matching the coaching rubric's lexicon.
var defaultFillerWords = []string{
	"음", "어", "그", "이제", "뭐", "그래서", "아", "에",
	"그러니까", "일단", "막", "좀", "근데", "저기",
}

var defaultEmotionPriority = []string{
	"happy", "surprise", "neutral", "sad", "angry", "fear", "disgust",
}

// Default bands: 84 maps to A, 73 to B. Overrides must stay monotonic.
var defaultGradeTable = []GradeStep{
	{MinScore: 90, Grade: "A+"},
	{MinScore: 80, Grade: "A"},
	{MinScore: 75, Grade: "B+"},
	{MinScore: 70, Grade: "B"},
	{MinScore: 65, Grade: "C+"},
	{MinScore: 60, Grade: "C"},
	{MinScore: 0, Grade: "D"},
}

func Default() *Root {
	return &Root{
		Server: Server{Port: "8080"},
		Storage: Storage{
			UploadDir:     "./uploads",
			WorkDir:       "./work",
			MaxUploadSize: 2048 * 1024 * 1024,
			MaxDuration:   1800,
		},
		Media: Media{
			FrameInterval:   1,
			FrameHeight:     360,
			AudioSampleRate: 16000,
		},
		Analysis: Analysis{
			FillerWords:      append([]string(nil), defaultFillerWords...),
			GestureThreshold: 0.05,
			EmotionPriority:  append([]string(nil), defaultEmotionPriority...),
		},
		Scoring:  Scoring{GradeTable: append([]GradeStep(nil), defaultGradeTable...)},
		Database: Database{Path: "./teachlens.db"},
	}
}

// Load reads the config file named by TEACHLENS_CONFIG (or config.yaml in
// the working directory), applies environment overrides, and validates.
// A missing file is not an error; defaults apply.
func Load() (*Root, error) {
	cfg := Default()

	path := os.Getenv("TEACHLENS_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else if os.Getenv("TEACHLENS_CONFIG") != "" {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Root) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Storage.UploadDir = v
	}
	if v := os.Getenv("WORK_DIR"); v != "" {
		cfg.Storage.WorkDir = v
	}
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Storage.MaxUploadSize = n
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STT_URL"); v != "" {
		cfg.Services.STT.URL = v
	}
	if v := os.Getenv("POSE_URL"); v != "" {
		cfg.Services.Pose.URL = v
	}
	if v := os.Getenv("EMOTION_URL"); v != "" {
		cfg.Services.Emotion.URL = v
	}
	if v := os.Getenv("GENERATIVE_URL"); v != "" {
		cfg.Services.Generative.URL = v
	}
	if v := os.Getenv("GENERATIVE_API_KEY"); v != "" {
		cfg.Services.Generative.APIKey = v
	}
}

func (c *Root) Validate() error {
	if c.Media.FrameInterval <= 0 {
		return fmt.Errorf("media.frame_interval_seconds must be positive")
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("storage.max_upload_size must be positive")
	}
	if c.Analysis.GestureThreshold < 0 {
		return fmt.Errorf("analysis.gesture_threshold must not be negative")
	}
	if len(c.Scoring.GradeTable) == 0 {
		return fmt.Errorf("scoring.grade_table must not be empty")
	}
	steps := c.Scoring.GradeTable
	if !sort.SliceIsSorted(steps, func(i, j int) bool { return steps[i].MinScore > steps[j].MinScore }) {
		return fmt.Errorf("scoring.grade_table must be sorted by min_score descending")
	}
	return nil
}

// GradeFor maps a total score to its letter grade.
func (c *Root) GradeFor(total int) string {
	for _, step := range c.Scoring.GradeTable {
		if total >= step.MinScore {
			return step.Grade
		}
	}
	return c.Scoring.GradeTable[len(c.Scoring.GradeTable)-1].Grade
}
