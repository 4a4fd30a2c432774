package main

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/gaimlab/teachlens/internal/analysis"
	"github.com/gaimlab/teachlens/internal/api"
	"github.com/gaimlab/teachlens/internal/clients"
	"github.com/gaimlab/teachlens/internal/coach"
	"github.com/gaimlab/teachlens/internal/config"
	"github.com/gaimlab/teachlens/internal/database"
	"github.com/gaimlab/teachlens/internal/media"
	"github.com/gaimlab/teachlens/internal/pipeline"
	"github.com/gaimlab/teachlens/internal/scoring"
	"github.com/gaimlab/teachlens/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	localStorage, err := storage.NewLocalStorage(cfg.Storage.UploadDir)
	if err != nil {
		log.Fatal("Failed to initialize storage: ", err)
	}

	db, err := database.NewDB(database.Config{Path: cfg.Database.Path})
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer db.Close()

	assetRepo := database.NewAssetRepository(db)
	jobRepo := database.NewJobRepository(db)

	ingestor, err := media.NewIngestor(localStorage, cfg)
	if err != nil {
		log.Fatal("Failed to initialize media ingestor: ", err)
	}

	httpClient := clients.NewHTTP()
	speech := analysis.NewSpeechAnalyzer(
		clients.NewSTTClient(httpClient, cfg.Services.STT.URL),
		cfg.Analysis.FillerWords,
	)
	vision := analysis.NewVisionAnalyzer(
		clients.NewPoseClient(httpClient, cfg.Services.Pose.URL),
		cfg.Analysis.GestureThreshold,
	)
	emotion := analysis.NewEmotionAnalyzer(
		clients.NewEmotionClient(httpClient, cfg.Services.Emotion.URL),
		cfg.Analysis.EmotionPriority,
	)
	engine := scoring.NewEngine(cfg.Scoring.GradeTable)

	orchestrator := pipeline.NewOrchestrator(ingestor, speech, vision, emotion, engine, jobRepo)

	generative := clients.NewGenerativeClient(httpClient, cfg.Services.Generative.URL, cfg.Services.Generative.APIKey)
	coachManager := coach.NewManager(generative, orchestrator)

	app := &api.App{
		Ingestor:      ingestor,
		Storage:       localStorage,
		Assets:        assetRepo,
		Orchestrator:  orchestrator,
		Coach:         coachManager,
		MaxUploadSize: cfg.Storage.MaxUploadSize,
	}

	router := api.NewRouter(app)

	log.Printf("Server starting on port %s", cfg.Server.Port)
	log.Printf("Upload directory: %s", cfg.Storage.UploadDir)
	log.Printf("Work directory: %s", cfg.Storage.WorkDir)
	log.Printf("Database path: %s", cfg.Database.Path)
	if cfg.Services.Generative.URL == "" {
		log.Printf("Generative service not configured; coach will use rule-based answers")
	}

	if err := http.ListenAndServe(":"+cfg.Server.Port, router); err != nil {
		log.Fatal(err)
	}
}
