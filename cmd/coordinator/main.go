package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/typestore/typestore/internal/config"
	"github.com/typestore/typestore/internal/coordinator"
	"github.com/typestore/typestore/internal/log_service"
	"github.com/typestore/typestore/internal/wire"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the cluster configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var ls log_service.LogService
	if cfg.LogDir != "" {
		ls, err = log_service.NewLocalDiscLogService(cfg.LogDir, "coordinator")
		if err != nil {
			log.Fatalf("Failed to open log directory: %v", err)
		}
	} else {
		ls = log_service.NewStderrLogService("coordinator")
	}

	c := coordinator.NewCoordinator(ls, cfg.Routes(), wire.NewCodec(cfg.MaxFrameBytes))
	go func() {
		if err := c.ListenAndServe(cfg.Coordinator.Listen); err != nil {
			log.Fatalf("Coordinator failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down coordinator...")
	if err := c.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}
