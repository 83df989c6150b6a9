package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/typestore/typestore/internal/cluster"
	"github.com/typestore/typestore/internal/config"
	"github.com/typestore/typestore/internal/log_service"
	"github.com/typestore/typestore/internal/node"
	"github.com/typestore/typestore/internal/replication"
	"github.com/typestore/typestore/internal/store"
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
		ls, err = log_service.NewLocalDiscLogService(cfg.LogDir, cfg.Node.ID)
		if err != nil {
			log.Fatalf("Failed to open log directory: %v", err)
		}
	} else {
		ls = log_service.NewStderrLogService(cfg.Node.ID)
	}

	st, err := store.NewDiskStore(cfg.Node.DataDir, ls)
	if err != nil {
		log.Fatalf("Failed to open data directory: %v", err)
	}

	codec := wire.NewCodec(cfg.MaxFrameBytes)

	var repl replication.Replicator = replication.NoopReplicator{}
	if cfg.Node.Role == string(cluster.RolePrimary) {
		repl = replication.NewPushReplicator(cfg.Peers(), st.Open, codec, ls, nil)
	}

	srv := node.NewServer(ls, st, codec, repl)
	go func() {
		if err := srv.ListenAndServe(cfg.Node.Listen); err != nil {
			log.Fatalf("Storage node failed: %v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("Shutting down storage node...")
	if err := srv.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}
