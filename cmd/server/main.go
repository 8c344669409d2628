// Package main runs the soundcast core server: signaling, channel registry,
// RTP forking, recording, transcription, embedding, and the REST boundary,
// with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-soundcast/core/config"
	"github.com/aura-soundcast/core/internal/adminstats"
	"github.com/aura-soundcast/core/internal/embedding"
	"github.com/aura-soundcast/core/internal/forker"
	"github.com/aura-soundcast/core/internal/middleware"
	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/internal/pipeline"
	"github.com/aura-soundcast/core/internal/publishers"
	"github.com/aura-soundcast/core/internal/recording"
	"github.com/aura-soundcast/core/internal/recordingsrest"
	"github.com/aura-soundcast/core/internal/registry"
	"github.com/aura-soundcast/core/internal/rooms"
	"github.com/aura-soundcast/core/internal/sfuadapter"
	"github.com/aura-soundcast/core/internal/signaling"
	"github.com/aura-soundcast/core/internal/tenantauth"
	"github.com/aura-soundcast/core/internal/transcription"
	"github.com/aura-soundcast/core/internal/transcripts"
	"github.com/aura-soundcast/core/pkg/database"
	"github.com/aura-soundcast/core/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	db, err := database.NewSQLitePool(cfg.Database.Path, cfg.Database.VecExtension, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	jwtService := tenantauth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Repositories
	tenantRepo := tenantauth.NewRepository(db)
	roomRepo := rooms.NewRepository(db)
	publisherRepo := publishers.NewRepository(db)
	recordingRepo := recording.NewRepository(db)
	transcriptRepo := transcripts.NewRepository(db)

	// Single-operator bootstrap: a default tenant plus a room named "main".
	if cfg.Bootstrap.SingleTenant {
		if err := bootstrapSingleTenant(tenantRepo, roomRepo, cfg.Bootstrap.AdminKey, logger); err != nil {
			logger.Fatal("single tenant bootstrap", zap.Error(err))
		}
	}

	// SFU adapter + port arenas
	reg := registry.New()
	router := sfuadapter.NewPionRouter(logger, nil)
	recordingArena := sfuadapter.NewPortArena(cfg.Forking.RecordingPortMin, cfg.Forking.RecordingPortMax)
	transcriptionArena := sfuadapter.NewPortArena(cfg.Forking.TranscriptionPortMin, cfg.Forking.TranscriptionPortMax)
	forkSvc := forker.NewService(router, recordingArena, transcriptionArena, os.TempDir(), logger)

	// Embedder + vector index
	generator := embedding.NewHTTPGenerator(cfg.Transcription.EmbeddingServiceURL)
	embedder := embedding.New(db, generator, cfg.Transcription.EmbeddingEnabled, 256, logger)

	// Transcription
	transcriberFactory := &transcription.ExecFactory{BinaryPath: cfg.Transcription.TranscriberBin, Log: logger}
	transcriptionMgr := transcription.NewManager(transcriberFactory, cfg.Transcription.ModelDir, cfg.Transcription.ModelSize, cfg.Transcription.TranscriptionEnabled, logger)

	// Transcript store + file writers
	fileWriter := transcripts.NewFileWriter(logger)
	store := transcripts.NewStore(transcriptRepo, embedder, fileWriter, logger)

	// Recording sink; crash-interrupted recordings go to error before
	// anything else starts.
	recordingSvc := recording.NewService(recordingRepo, forkSvc, cfg.Forking.RecordingDir, logger)
	if err := recordingSvc.RecoverCrashed(); err != nil {
		logger.Fatal("recording crash recovery", zap.Error(err))
	}

	// Pipeline glues producer lifecycle to recording + transcription.
	pipe := pipeline.New(roomRepo, recordingSvc, forkSvc, transcriptionMgr, store, fileWriter, cfg.Transcription.Threads, logger)

	// Admin stats
	resolver := adminstats.NewRoomTenantResolver(roomRepo)
	aggregator := adminstats.NewAggregator(resolver, logger)

	// Signaling
	sigServer := signaling.NewServer(signaling.Config{
		ListenIP:    cfg.SFU.ListenIP,
		AnnouncedIP: cfg.SFU.AnnouncedIP,
	}, reg, router, pipe, aggregator, logger)
	roomSockets := signaling.NewRoomSocketHandler(roomRepo, publisherRepo, sigServer, cfg.Server.HTTPSPort, logger)

	// REST handlers
	authHandler := tenantauth.NewHandler(tenantRepo, jwtService)
	roomHandler := rooms.NewHandler(roomRepo)
	publisherHandler := publishers.NewHandler(publisherRepo)
	recordingHandler := recordingsrest.NewHandler(roomRepo, recordingRepo, pipe, sigServer, store, embedder, logger)

	adminValidate := func(apiKey string) (uuid.UUID, error) {
		if tenant, err := tenantRepo.Validate(apiKey); err == nil {
			return tenant.ID, nil
		}
		tenant, err := tenantRepo.ValidateAdminKey("default", apiKey)
		if err != nil {
			return uuid.Nil, err
		}
		return tenant.ID, nil
	}

	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery())
	httpRouter.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	httpRouter.Use(middleware.Logger(logger))

	// Health
	httpRouter.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	httpRouter.POST("/auth/token", authHandler.Token)

	// Protected API (tenant JWT required)
	api := httpRouter.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/rooms", roomHandler.List)
		api.POST("/rooms", roomHandler.Create)
		api.GET("/rooms/:slug", roomHandler.Get)

		api.POST("/publishers", publisherHandler.Create)
		api.GET("/rooms-by-id/:id/publishers", publisherHandler.ListByRoom)

		api.POST("/rooms-by-id/:id/recording/start", recordingHandler.StartRecording)
		api.POST("/rooms-by-id/:id/recording/stop", recordingHandler.StopRecording)
		api.GET("/rooms-by-id/:id/recordings", recordingHandler.ListRecordings)
		api.GET("/recordings/:id/tracks", recordingHandler.ListTracks)

		api.GET("/rooms-by-id/:id/transcripts", recordingHandler.ListTranscripts)
		api.GET("/rooms-by-id/:id/transcripts/recent", recordingHandler.RecentTranscripts)
		api.GET("/rooms-by-id/:id/transcripts/count", recordingHandler.CountTranscripts)
		api.POST("/rooms-by-id/:id/transcripts/search", recordingHandler.Search)
	}

	// WebSockets (credentials in query where required)
	httpRouter.GET("/ws", sigServer.ServeWS())
	httpRouter.GET("/ws/room/:slug/listen", roomSockets.Listen)
	httpRouter.GET("/ws/room/:slug/publish", roomSockets.Publish)
	httpRouter.GET("/ws/admin", aggregator.ServeAdmin(adminValidate))
	httpRouter.GET("/ws/sfu-stats", aggregator.ServeSFUStats(cfg.Bootstrap.SFUSecret))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpRouter,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Embedder worker (long-lived task)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go embedder.Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	var tlsSrv *http.Server
	if cfg.Server.TLSCertPath != "" && cfg.Server.TLSKeyPath != "" {
		tlsSrv = &http.Server{
			Addr:         ":" + cfg.Server.HTTPSPort,
			Handler:      httpRouter,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		}
		go func() {
			logger.Info("https server listening", zap.String("port", cfg.Server.HTTPSPort))
			if err := tlsSrv.ListenAndServeTLS(cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath); err != nil && err != http.ErrServerClosed {
				logger.Fatal("https server", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if tlsSrv != nil {
		if err := tlsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("https server shutdown", zap.Error(err))
		}
	}
	logger.Info("server stopped")
}

// bootstrapSingleTenant provisions the default tenant and a room named
// "main" so a fresh SINGLE_TENANT deployment is usable without any REST
// calls.
func bootstrapSingleTenant(tenantRepo *tenantauth.Repository, roomRepo *rooms.Repository, adminKey string, logger *zap.Logger) error {
	tenant, err := tenantRepo.EnsureBootstrap("default", adminKey)
	if err != nil {
		return err
	}
	if _, err := roomRepo.GetBySlug("main"); err == nil {
		return nil
	}
	room := &models.Room{
		TenantID:    tenant.ID,
		Slug:        "main",
		Name:        "main",
		IsLocalOnly: true,
	}
	if err := roomRepo.Create(room); err != nil {
		return err
	}
	logger.Info("bootstrapped single-tenant deployment", zap.String("room_slug", room.Slug))
	return nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
