// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all engine tuning.
//
// Configuration is loaded once at process start from an optional JSON
// file, then environment variables apply on top. Every peer in a
// session MUST run with identical physics, game, and fixed-point
// sections or their simulations diverge.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"framesync/internal/fixed"
	"framesync/internal/sim"
)

// =============================================================================
// PHYSICS CONFIGURATION
// =============================================================================

// PhysicsConfig holds the deterministic simulation constants in plain
// integer units; Q-form conversion happens in ToSim after the
// fixed-point layer is configured.
type PhysicsConfig struct {
	Gravity      int     `json:"gravity"`      // world units per second squared
	Friction     float64 `json:"friction"`     // per-tick velocity multiplier
	MaxVelocity  int     `json:"maxVelocity"`  // world units per second
	WorldWidth   int     `json:"worldWidth"`   // world units
	WorldHeight  int     `json:"worldHeight"`  // world units
	EntityWidth  int     `json:"entityWidth"`  // world units
	EntityHeight int     `json:"entityHeight"` // world units
	GridCellSize int     `json:"gridCellSize"` // world units
}

// DefaultPhysics returns the default physics constants.
func DefaultPhysics() PhysicsConfig {
	return PhysicsConfig{
		Gravity:      980,
		Friction:     0.9,
		MaxVelocity:  1000,
		WorldWidth:   1920,
		WorldHeight:  1080,
		EntityWidth:  32,
		EntityHeight: 32,
		GridCellSize: 64,
	}
}

// =============================================================================
// NETWORK CONFIGURATION
// =============================================================================

// NetworkConfig holds transport and scheduling settings.
type NetworkConfig struct {
	FrameRate            int `json:"frameRate"`            // logic ticks per second
	BufferSize           int `json:"bufferSize"`           // client latency-hiding window in frames
	ServerPort           int `json:"serverPort"`
	AuthTimeoutSec       int `json:"authTimeout"`          // seconds before close 4002
	PingIntervalSec      int `json:"pingInterval"`         // seconds between keepalive pings
	PingTimeoutSec       int `json:"pingTimeout"`          // seconds to wait for a pong
	MaxRequestsPerSecond int `json:"maxRequestsPerSecond"` // per-player message budget
	MaxFrameAhead        int `json:"maxFrameAhead"`        // input frames past the cursor
	FrameTimeoutMs       int `json:"frameTimeoutMs"`       // force-commit deadline
}

// DefaultNetwork returns the default network settings.
func DefaultNetwork() NetworkConfig {
	return NetworkConfig{
		FrameRate:            30,
		BufferSize:           3,
		ServerPort:           8765,
		AuthTimeoutSec:       5,
		PingIntervalSec:      20,
		PingTimeoutSec:       10,
		MaxRequestsPerSecond: 100,
		MaxFrameAhead:        100,
		FrameTimeoutMs:       1000,
	}
}

// NetworkFromEnv applies environment overrides to a network section.
func NetworkFromEnv(cfg NetworkConfig) NetworkConfig {
	if p := getEnvInt("SERVER_PORT", 0); p > 0 {
		cfg.ServerPort = p
	}
	if r := getEnvInt("FRAME_RATE", 0); r > 0 {
		cfg.FrameRate = r
	}
	if b := getEnvInt("BUFFER_SIZE", 0); b > 0 {
		cfg.BufferSize = b
	}
	return cfg
}

// TickIntervalMs returns the logic tick period in milliseconds.
func (n NetworkConfig) TickIntervalMs() int64 {
	if n.FrameRate <= 0 {
		return 33
	}
	return int64(1000 / n.FrameRate)
}

// =============================================================================
// GAME CONFIGURATION
// =============================================================================

// GameConfig holds room and combat tuning.
type GameConfig struct {
	PlayerCount       int `json:"playerCount"`       // players needed for a full frame
	MaxPlayersPerRoom int `json:"maxPlayersPerRoom"`
	PlayerSpeed       int `json:"playerSpeed"`  // world units per second
	AttackRange       int `json:"attackRange"`  // world units
	AttackDamage      int `json:"attackDamage"` // hit points per hit
	DefaultHP         int `json:"defaultHP"`
	MaxAPM            int `json:"maxAPM"` // anti-cheat action budget
}

// DefaultGame returns the default game tuning.
func DefaultGame() GameConfig {
	return GameConfig{
		PlayerCount:       2,
		MaxPlayersPerRoom: 4,
		PlayerSpeed:       300,
		AttackRange:       50,
		AttackDamage:      10,
		DefaultHP:         100,
		MaxAPM:            600,
	}
}

// GameFromEnv applies environment overrides to a game section.
func GameFromEnv(cfg GameConfig) GameConfig {
	if mp := getEnvInt("MAX_PLAYERS_PER_ROOM", 0); mp > 0 {
		cfg.MaxPlayersPerRoom = mp
	}
	return cfg
}

// =============================================================================
// HISTORY CONFIGURATION
// =============================================================================

// HistoryConfig bounds the frame and snapshot rings.
type HistoryConfig struct {
	MaxFrameHistory int `json:"maxFrameHistory"` // committed frames kept for reconnect
	MaxSnapshots    int `json:"maxSnapshots"`    // rollback ring capacity
}

// DefaultHistory returns the default ring sizes.
func DefaultHistory() HistoryConfig {
	return HistoryConfig{
		MaxFrameHistory: 300, // 10 s at 30 Hz
		MaxSnapshots:    60,  // 2 s at 30 Hz
	}
}

// =============================================================================
// FIXED-POINT CONFIGURATION
// =============================================================================

// FixedPointConfig selects the Q format. All peers must agree.
type FixedPointConfig struct {
	FractionBits int `json:"fractionBits"`
}

// DefaultFixedPoint returns Q16.16.
func DefaultFixedPoint() FixedPointConfig {
	return FixedPointConfig{FractionBits: 16}
}

// =============================================================================
// COMPLETE CONFIGURATION
// =============================================================================

// Config is the complete engine configuration.
type Config struct {
	Physics    PhysicsConfig    `json:"physics"`
	Network    NetworkConfig    `json:"network"`
	Game       GameConfig       `json:"game"`
	History    HistoryConfig    `json:"history"`
	FixedPoint FixedPointConfig `json:"fixedPoint"`
}

// Default returns the complete default configuration.
func Default() Config {
	return Config{
		Physics:    DefaultPhysics(),
		Network:    DefaultNetwork(),
		Game:       DefaultGame(),
		History:    DefaultHistory(),
		FixedPoint: DefaultFixedPoint(),
	}
}

// Load reads the optional JSON file at path (empty path or a missing
// file means defaults), applies environment overrides, and configures
// the fixed-point layer. Call once at process start, before any Q-form
// value is computed.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Network = NetworkFromEnv(cfg.Network)
	cfg.Game = GameFromEnv(cfg.Game)

	if err := fixed.Configure(cfg.FixedPoint.FractionBits); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ToSim converts the integer sections into the Q-form tuning the
// simulation kernel consumes. Must run after fixed.Configure.
func (c Config) ToSim() sim.Config {
	scale := fixed.Scale()
	frictionQ := int32(float64(scale) * c.Physics.Friction)

	return sim.Config{
		Gravity:      fixed.FromInt(int32(c.Physics.Gravity)),
		FrictionQ:    fixed.FromRaw(frictionQ),
		MaxVelocity:  fixed.FromInt(int32(c.Physics.MaxVelocity)),
		WorldWidth:   fixed.FromInt(int32(c.Physics.WorldWidth)),
		WorldHeight:  fixed.FromInt(int32(c.Physics.WorldHeight)),
		EntityWidth:  fixed.FromInt(int32(c.Physics.EntityWidth)),
		EntityHeight: fixed.FromInt(int32(c.Physics.EntityHeight)),
		GridCellSize: fixed.FromInt(int32(c.Physics.GridCellSize)),
		PlayerSpeed:  fixed.FromInt(int32(c.Game.PlayerSpeed)),
		AttackRange:  fixed.FromInt(int32(c.Game.AttackRange)),
		AttackDamage: uint32(c.Game.AttackDamage),
		DefaultHP:    uint32(c.Game.DefaultHP),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
