package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"framesync/internal/config"
	"framesync/internal/server"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  FRAMESYNC - LOCKSTEP SERVER")
	log.Println("🎮 ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}

	log.Printf("🎮 Config: %d Hz, buffer %d, port %d, %d players/room",
		cfg.Network.FrameRate, cfg.Network.BufferSize,
		cfg.Network.ServerPort, cfg.Game.MaxPlayersPerRoom)
	log.Printf("🛡️ Limits: %d msg/s per player, %d max APM, %d frames ahead",
		cfg.Network.MaxRequestsPerSecond, cfg.Game.MaxAPM, cfg.Network.MaxFrameAhead)

	// Start debug server (pprof + metrics, localhost only)
	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := server.StartDebugServer(server.DefaultObservabilityConfig()); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	gs := server.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("🛑 Shutting down...")
		cancel()
	}()

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	if err := gs.Start(ctx); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
	log.Println("👋 Goodbye!")
}
