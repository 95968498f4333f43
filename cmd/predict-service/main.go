package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"crop-planner/internal/recommend"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	port := os.Getenv("PREDICT_PORT")
	if port == "" {
		port = "8000"
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           recommend.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Prediction service listening", "addr", srv.Addr, "crops", recommend.Crops())
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("Server shutdown error", "error", err)
		os.Exit(1)
	}
}
