// Headless reference client: joins a room, runs prediction and
// rollback locally, and feeds scripted inputs. Useful for soak testing
// a server and for verifying two peers stay hash-identical.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"framesync/internal/client"
	"framesync/internal/config"
	"framesync/internal/fixed"
	"framesync/internal/input"

	"github.com/joho/godotenv"
)

func main() {
	var (
		serverURL = flag.String("server", "ws://localhost:8765/ws", "server WebSocket URL")
		playerID  = flag.String("player", "player_0", "player id (index after last underscore)")
		roomID    = flag.String("room", "room_1", "room to join")
		script    = flag.String("script", "idle", "input script: idle, pace, brawl")
	)
	flag.Parse()

	if err := godotenv.Load(".env"); err == nil {
		log.Println("✅ Loaded environment from .env")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}

	c := client.New(cfg, *serverURL, *playerID, *roomID)
	provider, err := scriptProvider(*script)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	c.SetInputProvider(provider)

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("🛑 Leaving...")
		c.Leave()
		cancel()
	}()

	if err := c.Connect(ctx); err != nil {
		log.Fatalf("❌ Connect failed: %v", err)
	}
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("❌ Client error: %v", err)
	}

	stats := c.Predictor().Stats()
	log.Printf("📊 Predictions: %v", stats)
	log.Println("👋 Goodbye!")
}

// scriptProvider maps a script name onto a deterministic input stream.
func scriptProvider(name string) (client.InputProvider, error) {
	switch name {
	case "idle":
		return func(uint32) (uint8, fixed.Fixed, fixed.Fixed) { return 0, 0, 0 }, nil
	case "pace":
		// Walk right for a second, left for a second, repeat.
		return func(frameID uint32) (uint8, fixed.Fixed, fixed.Fixed) {
			if (frameID/30)%2 == 0 {
				return input.FlagMoveRight, 0, 0
			}
			return input.FlagMoveLeft, 0, 0
		}, nil
	case "brawl":
		// Close distance and swing every few frames.
		return func(frameID uint32) (uint8, fixed.Fixed, fixed.Fixed) {
			flags := input.FlagMoveRight
			if frameID%5 == 0 {
				flags |= input.FlagAttack
			}
			return flags, 0, 0
		}, nil
	default:
		return nil, fmt.Errorf("unknown script %q", name)
	}
}
