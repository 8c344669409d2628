// Package main runs the embedding worker standalone, for deployments that
// separate inference load from the signaling process. The server binary
// runs the same worker in-process by default.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-soundcast/core/config"
	"github.com/aura-soundcast/core/internal/embedding"
	"github.com/aura-soundcast/core/pkg/database"
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

	generator := embedding.NewHTTPGenerator(cfg.Transcription.EmbeddingServiceURL)
	embedder := embedding.New(db, generator, true, 256, logger)

	// Backfill: segments persisted while no worker was running have no
	// vector row yet; enqueue them before draining live arrivals.
	if n, err := enqueueMissing(db, embedder); err != nil {
		logger.Warn("embedding backfill scan failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("queued segments missing embeddings", zap.Int("count", n))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	logger.Info("embedding worker started")
	embedder.Run(ctx)
	logger.Info("embedding worker stopped")
}

// enqueueMissing scans for transcript segments without an embedding
// metadata row and enqueues each for generation.
func enqueueMissing(db *sql.DB, embedder *embedding.Embedder) (int, error) {
	rows, err := db.Query(
		`SELECT id, room_id, text_content FROM transcript_segments
		 WHERE id NOT IN (SELECT transcript_id FROM embedding_metadata)`,
	)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var idStr, roomIDStr, text string
		if err := rows.Scan(&idStr, &roomIDStr, &text); err != nil {
			return n, err
		}
		embedder.Enqueue(uuid.MustParse(idStr), text, uuid.MustParse(roomIDStr))
		n++
	}
	return n, rows.Err()
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
