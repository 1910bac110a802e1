package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"framesync/internal/config"
	"framesync/internal/protocol"
)

// GameServer owns the HTTP surface and the room registry. Rooms are
// created on first join and torn down when the last player leaves.
type GameServer struct {
	cfg config.Config

	mu    sync.Mutex
	rooms map[string]*Room

	router      *chi.Mux
	httpServer  *http.Server
	rateLimiter *IPRateLimiter
	upgrader    websocket.Upgrader
}

// New builds a server from config. Call Start to begin serving.
func New(cfg config.Config) *GameServer {
	gs := &GameServer{
		cfg:         cfg,
		rooms:       make(map[string]*Room),
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Game clients are not browsers; origin gating happens at
			// the deployment edge.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	gs.router = gs.buildRouter()
	return gs
}

func (gs *GameServer) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(gs.rateLimiter.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/ws", gs.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", gs.handleStats)
		r.Get("/rooms", gs.handleRooms)
		r.Get("/rooms/{roomID}", gs.handleRoomStats)
		r.Get("/rooms/{roomID}/replay", gs.handleRoomReplay)
	})

	return r
}

// Router exposes the handler tree, mainly for tests.
func (gs *GameServer) Router() http.Handler { return gs.router }

// Start serves until the context is cancelled, then shuts down
// gracefully: rooms stopped, connections closed, listener drained.
func (gs *GameServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", gs.cfg.Network.ServerPort)
	gs.httpServer = &http.Server{
		Addr:              addr,
		Handler:           gs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 Lockstep server listening on %s", addr)
		if err := gs.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	log.Println("👋 Shutting down lockstep server")
	gs.rateLimiter.Stop()

	gs.mu.Lock()
	rooms := make([]*Room, 0, len(gs.rooms))
	for _, room := range gs.rooms {
		rooms = append(rooms, room)
	}
	gs.mu.Unlock()
	for _, room := range rooms {
		room.Stop()
		room.CloseAll()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gs.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// handleWS upgrades the connection, runs the auth handshake, joins the
// room, and pumps messages until disconnect.
func (gs *GameServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := gs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ Upgrade from %s failed: %v", GetClientIP(r), err)
		return
	}

	authTimeout := time.Duration(gs.cfg.Network.AuthTimeoutSec) * time.Second
	auth, err := ReadAuth(conn, authTimeout)
	if err != nil {
		return
	}

	s := NewSession(conn, auth.PlayerID, auth.RoomID, gs.cfg.Network.MaxRequestsPerSecond)

	// A room can close between lookup and join when its last player
	// leaves concurrently; a closed room never accepts members again, so
	// retry against the registry, which replaces it with a fresh one.
	var room *Room
	for {
		room = gs.getOrCreateRoom(auth.RoomID)
		err := room.AddPlayer(s)
		if err == nil {
			break
		}
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		RecordConnectionRejected("room_full")
		s.CloseWithCode(protocol.CloseRoomFull, "room full")
		return
	}
	s.room = room

	joinMsg, err := protocol.Encode(protocol.TypeJoinSuccess, &protocol.JoinSuccessPayload{
		RoomID:      room.ID,
		PlayerID:    s.PlayerID,
		PlayerCount: room.PlayerCount(),
		Players:     room.Players(),
	})
	if err == nil {
		if err := s.Send(joinMsg); err != nil {
			log.Printf("⚠️ Sending joinSuccess to %s failed: %v", s.PlayerID, err)
		}
	}
	gs.updateGauges()

	pingInterval := time.Duration(gs.cfg.Network.PingIntervalSec) * time.Second
	pongTimeout := time.Duration(gs.cfg.Network.PingTimeoutSec) * time.Second
	s.ReadLoop(pingInterval, pongTimeout)

	room.RemovePlayer(s)
	s.Close()
	gs.updateGauges()
}

// getOrCreateRoom returns the live room for an id, starting its tick
// loop on first use. A room that closed but has not yet been removed
// from the registry is replaced rather than handed out: its tick loop
// is gone and a joiner would never receive frames.
func (gs *GameServer) getOrCreateRoom(roomID string) *Room {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if room, ok := gs.rooms[roomID]; ok && !room.Closed() {
		return room
	}
	room := NewRoom(roomID, gs.cfg, gs.removeRoom)
	gs.rooms[roomID] = room
	go room.Run()
	log.Printf("🎮 Room %s created", roomID)
	return room
}

// removeRoom drops an emptied room from the registry.
func (gs *GameServer) removeRoom(room *Room) {
	gs.mu.Lock()
	if gs.rooms[room.ID] == room {
		delete(gs.rooms, room.ID)
	}
	gs.mu.Unlock()
	log.Printf("🎮 Room %s destroyed", room.ID)
	gs.updateGauges()
}

func (gs *GameServer) updateGauges() {
	gs.mu.Lock()
	roomCount := len(gs.rooms)
	players := 0
	for _, room := range gs.rooms {
		players += room.PlayerCount()
	}
	gs.mu.Unlock()

	UpdateRoomCount(roomCount)
	UpdatePlayerCount(players)
}

// ===== Stats endpoints =====

func (gs *GameServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	gs.mu.Lock()
	roomCount := len(gs.rooms)
	players := 0
	for _, room := range gs.rooms {
		players += room.PlayerCount()
	}
	gs.mu.Unlock()

	writeJSON(w, map[string]any{
		"rooms":      roomCount,
		"players":    players,
		"rate_limit": gs.rateLimiter.GetStats(),
	})
}

func (gs *GameServer) handleRooms(w http.ResponseWriter, _ *http.Request) {
	gs.mu.Lock()
	ids := make([]string, 0, len(gs.rooms))
	for id := range gs.rooms {
		ids = append(ids, id)
	}
	gs.mu.Unlock()

	writeJSON(w, map[string]any{"rooms": ids})
}

func (gs *GameServer) handleRoomStats(w http.ResponseWriter, r *http.Request) {
	room := gs.lookupRoom(w, r)
	if room == nil {
		return
	}
	writeJSON(w, room.Stats())
}

// handleRoomReplay streams the session recording so far, zlib-packed.
func (gs *GameServer) handleRoomReplay(w http.ResponseWriter, r *http.Request) {
	room := gs.lookupRoom(w, r)
	if room == nil {
		return
	}

	data, err := room.ReplayBytes(true)
	if err != nil {
		http.Error(w, "replay serialization failed", http.StatusInternalServerError)
		return
	}
	if data == nil {
		http.Error(w, "game not started", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s.fsr", chi.URLParam(r, "roomID")))
	w.Write(data)
}

func (gs *GameServer) lookupRoom(w http.ResponseWriter, r *http.Request) *Room {
	roomID := chi.URLParam(r, "roomID")

	gs.mu.Lock()
	room := gs.rooms[roomID]
	gs.mu.Unlock()

	if room == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return nil
	}
	return room
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️ Writing JSON response failed: %v", err)
	}
}
