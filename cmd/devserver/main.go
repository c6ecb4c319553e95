package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"cafechat/internal/config"
	"cafechat/internal/devserver"
	"cafechat/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Client.Environment)
	logger.SetGlobalLogger(log)
	defer log.Logger.Sync() //nolint:errcheck

	server, err := devserver.New(context.Background(), cfg.DevServer, log)
	if err != nil {
		log.Errorf("devserver: startup failed: %v", err)
		os.Exit(1)
	}
	if err := server.Run(); err != nil {
		log.Errorf("devserver: %v", err)
		os.Exit(1)
	}
}
