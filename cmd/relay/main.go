package main

import (
	"context"
	"flag"
	"log"
	"os"

	"nightscout-easyview/internal/agent"
	"nightscout-easyview/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to the secrets file (default ~/.nightscout_easyview/secrets.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("load config: %v", err)
		os.Exit(1)
	}

	logger := agent.BuildLogger(cfg)
	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("relay initialization failed", "error", err)
		os.Exit(1)
	}

	if err := a.Run(context.Background()); err != nil {
		logger.Error("relay runtime failed", "error", err)
		os.Exit(1)
	}
}
