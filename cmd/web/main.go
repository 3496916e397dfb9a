package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"log/slog"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"payfold.com/app/internal/gateway/stripegw"
	apphttp "payfold.com/app/internal/http"
	"payfold.com/app/internal/storage"
)

func main() {
	// Load .env file (ignore error if not found - prod uses real env vars)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Database connection
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	gw := stripegw.New(stripegw.ConfigFromEnv())
	gw.SetLogger(logger)

	ar, err := storage.FromEnv(context.Background())
	if err != nil {
		log.Fatalf("failed to configure webhook archive: %v", err)
	}
	logger.Info("webhook archive configured", "driver", ar.Driver)

	var delay time.Duration
	if v := os.Getenv("WEBHOOK_PROCESS_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			delay = time.Duration(n) * time.Millisecond
		}
	}

	r := apphttp.NewRouter(apphttp.Deps{
		Logger:        logger,
		DB:            db,
		Gateway:       gw,
		Archive:       ar.Archive,
		OperatorToken: os.Getenv("OPERATOR_API_TOKEN"),
		StoreID:       os.Getenv("STORE_ID"),
		WebhookDelay:  delay,
	})
	_ = r.Run(":8080")
}
