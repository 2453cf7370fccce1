package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/appserver-io/memcached/internal/server"
	"github.com/appserver-io/memcached/pkg/config"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting memcached server with config: %+v", cfg)

	srv := server.New(cfg)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down server...")

	if err := srv.Stop(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}

	stats := &srv.Collector().Stats
	log.Printf("Server stopped (connections: %d, evicted: %d, collector overruns: %d)",
		srv.Stats.Accepted.Load(), stats.Evicted.Load(), stats.Overruns.Load())
}
