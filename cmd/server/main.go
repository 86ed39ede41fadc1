package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/collabmart/wallet-api/cmd/routes"
	"github.com/collabmart/wallet-api/internal/wallet"
	"github.com/collabmart/wallet-api/pkg/config"
	"github.com/collabmart/wallet-api/pkg/database"
	"github.com/collabmart/wallet-api/pkg/events"
	"github.com/collabmart/wallet-api/pkg/logger"
	"github.com/gorilla/mux"
)

func main() {
	cfg := config.LoadConfig()

	database.Connect(cfg.DBUrl)

	redisClient := events.NewRedisClient(cfg)
	walletRepo := wallet.NewRepository(database.DB)

	// start background worker
	worker := wallet.NewWebhookWorker(cfg, walletRepo, redisClient)
	worker.Start()

	r := mux.NewRouter()
	handler := routes.RegisterRoutes(r, cfg, redisClient, walletRepo)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logger.Fields{"port": cfg.Port, "env": cfg.Env})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", logger.Fields{"port": cfg.Port, "error": err.Error()})
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	logger.Info("Server gracefully shut down")
}
