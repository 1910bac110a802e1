package server

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"framesync/internal/config"
	"framesync/internal/frame"
	"framesync/internal/input"
	"framesync/internal/protocol"
	"framesync/internal/replay"
)

// ErrRoomFull rejects a join past the per-room player cap.
var ErrRoomFull = errors.New("server: room full")

// ErrRoomClosed rejects a join into a room whose tick loop has already
// stopped. The registry replaces closed rooms on the next join.
var ErrRoomClosed = errors.New("server: room closed")

// Room owns one lockstep session: its frame engine, its player set,
// and the 30 Hz tick task that commits and broadcasts frames. All
// mutations of room state go through r.mu, held only for short
// critical sections; sends happen outside the lock so one slow peer
// never stalls the frame stream.
type Room struct {
	ID        string
	cfg       config.Config
	createdAt time.Time

	mu         sync.Mutex
	sessions   map[string]*Session // playerID -> session
	engine     *frame.Engine
	validator  *input.Validator
	recorder   *replay.Recorder
	started    bool
	startFrame uint32
	closed     bool // set when the last player left; the room never revives

	onEmpty func(*Room)

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRoom creates a room. onEmpty runs after the last player leaves.
func NewRoom(id string, cfg config.Config, onEmpty func(*Room)) *Room {
	return &Room{
		ID:        id,
		cfg:       cfg,
		createdAt: time.Now(),
		sessions:  make(map[string]*Session),
		engine:    frame.NewEngineSized(cfg.Network.BufferSize, cfg.History.MaxFrameHistory),
		validator: input.NewValidator(input.ValidatorConfig{
			MaxAPM:        cfg.Game.MaxAPM,
			MaxFrameAhead: uint32(cfg.Network.MaxFrameAhead),
		}),
		onEmpty: onEmpty,
		stop:    make(chan struct{}),
	}
}

// Run drives the tick loop until Stop. One goroutine per room.
func (r *Room) Run() {
	interval := time.Duration(r.cfg.Network.TickIntervalMs()) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// Stop halts the tick loop.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// AddPlayer inserts a session, wires its numeric index into the frame
// engine, and notifies the rest of the room.
func (r *Room) AddPlayer(s *Session) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	if len(r.sessions) >= r.cfg.Game.MaxPlayersPerRoom {
		r.mu.Unlock()
		return ErrRoomFull
	}
	r.sessions[s.PlayerID] = s
	r.syncEnginePlayers()
	count := len(r.sessions)
	peers := r.peersLocked(s.PlayerID)
	r.mu.Unlock()

	log.Printf("🎮 %s joined room %s (%d players)", s.PlayerID, r.ID, count)

	msg, err := protocol.Encode(protocol.TypePlayerJoined, &protocol.PlayerJoinedPayload{
		PlayerID:    s.PlayerID,
		PlayerCount: count,
	})
	if err == nil {
		sendToAll(peers, msg)
	}
	return nil
}

// RemovePlayer drops a session, resets its validator state, and tells
// the survivors. Returns true when the room is now empty.
func (r *Room) RemovePlayer(s *Session) bool {
	r.mu.Lock()
	if _, ok := r.sessions[s.PlayerID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.PlayerID)
	r.validator.Forget(s.Index)
	r.syncEnginePlayers()
	empty := len(r.sessions) == 0
	if empty {
		// Marked under the same lock AddPlayer takes, so a join racing
		// the teardown either lands before this point or gets
		// ErrRoomClosed and retries against a fresh room.
		r.closed = true
	}
	peers := r.peersLocked("")
	r.mu.Unlock()

	log.Printf("👋 %s left room %s", s.PlayerID, r.ID)

	msg, err := protocol.Encode(protocol.TypePlayerLeft, &protocol.PlayerLeftPayload{
		PlayerID: s.PlayerID,
	})
	if err == nil {
		sendToAll(peers, msg)
	}

	if empty {
		r.Stop()
		if r.onEmpty != nil {
			r.onEmpty(r)
		}
	}
	return empty
}

// Players returns the member player ids, sorted for stable payloads.
func (r *Room) Players() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for pid := range r.sessions {
		ids = append(ids, pid)
	}
	sort.Strings(ids)
	return ids
}

// PlayerCount returns the current occupancy.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// HandleInput runs the validator and, on success, routes the input to
// the frame engine. Rejections are silent toward the client: the
// message is dropped, counted, and the session lives on.
func (r *Room) HandleInput(s *Session, frameID int64, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.validator.Validate(s.Index, frameID, data, r.engine.CurrentFrame(), time.Now())
	if err != nil {
		RecordInputRejected(rejectReason(err))
		return
	}
	if err := r.engine.AddInput(frameID, s.Index, data); err != nil {
		RecordInputRejected("buffer")
	}
}

// HandleReconnect replies with every committed frame the player missed.
func (r *Room) HandleReconnect(s *Session, lastFrame uint32) {
	r.mu.Lock()
	frames := r.engine.HistoryAfter(lastFrame)
	current := r.engine.CurrentFrame()
	r.mu.Unlock()

	payload := protocol.SyncFramesPayload{
		Frames:       make([]protocol.GameFramePayload, 0, len(frames)),
		CurrentFrame: current,
	}
	for _, f := range frames {
		payload.Frames = append(payload.Frames, protocol.FrameToPayload(f))
	}

	msg, err := protocol.Encode(protocol.TypeSyncFrames, &payload)
	if err != nil {
		log.Printf("⚠️ Encoding syncFrames for %s failed: %v", s.PlayerID, err)
		return
	}
	if err := s.Send(msg); err != nil {
		log.Printf("⚠️ Sending syncFrames to %s failed: %v", s.PlayerID, err)
	}
	log.Printf("🔁 %s resynced %d frames in room %s", s.PlayerID, len(frames), r.ID)
}

// tick is one scheduler step: start the game when enough players are
// present, then produce at most one frame, forced if the commit
// deadline has passed.
func (r *Room) tick() {
	start := time.Now()

	r.mu.Lock()
	var startMsg []byte
	if r.readyToStartLocked() {
		r.started = true
		r.startFrame = r.engine.CurrentFrame()
		r.recorder = replay.NewRecorder(r.playersLocked(), 1)
		r.recorder.SetMetadata("roomId", r.ID)

		msg, err := protocol.Encode(protocol.TypeGameStart, &protocol.GameStartPayload{
			StartFrame: r.startFrame,
		})
		if err == nil {
			startMsg = msg
		}
	}

	var f *frame.Frame
	if r.started {
		f = r.engine.Tick()
		if f == nil {
			timeout := time.Duration(r.cfg.Network.FrameTimeoutMs) * time.Millisecond
			if at, ok := r.engine.Deadline(); ok && time.Since(at) > timeout {
				f = r.engine.ForceTick()
			}
		}
		if f != nil && r.recorder != nil {
			r.recorder.RecordFrame(f)
		}
	}
	peers := r.peersLocked("")
	r.mu.Unlock()

	if startMsg != nil {
		log.Printf("🚀 Room %s started at frame %d", r.ID, r.startFrame)
		sendToAll(peers, startMsg)
	}

	if f != nil {
		kind := "confirmed"
		if !f.Confirmed {
			kind = "forced"
		}
		RecordFrame(kind)

		msg, err := protocol.Encode(protocol.TypeGameFrame, protocol.FrameToPayload(f))
		if err != nil {
			log.Printf("⚠️ Encoding frame %d failed: %v", f.ID, err)
		} else {
			sendToAll(peers, msg)
		}
	}

	RecordTick(time.Since(start))
}

// CloseAll force-closes every connection. Used at server shutdown,
// after the tick loop is stopped.
func (r *Room) CloseAll() {
	r.mu.Lock()
	sessions := r.peersLocked("")
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// ReplayBytes serialises the session recording so far, nil when the
// game never started.
func (r *Room) ReplayBytes(compress bool) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recorder == nil {
		return nil, nil
	}
	return r.recorder.Bytes(compress)
}

// Stats reports room state for the HTTP surface.
func (r *Room) Stats() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.engine.Stats()
	stats["room_id"] = r.ID
	stats["players"] = r.playersLocked()
	stats["started"] = r.started
	stats["start_frame"] = r.startFrame
	stats["created_at"] = r.createdAt.UTC().Format(time.RFC3339)
	return stats
}

// Closed reports whether the room has been torn down after its last
// player left.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// readyToStartLocked reports whether the configured player count has
// been reached and the game has not started yet. Caller holds r.mu.
func (r *Room) readyToStartLocked() bool {
	need := r.cfg.Game.PlayerCount
	if need < 2 {
		need = 2
	}
	return !r.started && len(r.sessions) >= need
}

// syncEnginePlayers rebuilds the engine's expected index set. Caller
// holds r.mu.
func (r *Room) syncEnginePlayers() {
	indices := make([]uint16, 0, len(r.sessions))
	for _, s := range r.sessions {
		indices = append(indices, s.Index)
	}
	r.engine.SetPlayers(indices)
}

// playersLocked returns sorted member ids. Caller holds r.mu.
func (r *Room) playersLocked() []string {
	ids := make([]string, 0, len(r.sessions))
	for pid := range r.sessions {
		ids = append(ids, pid)
	}
	sort.Strings(ids)
	return ids
}

// peersLocked snapshots the sessions to send to, excluding one player
// (empty string excludes nobody). Caller holds r.mu.
func (r *Room) peersLocked(except string) []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for pid, s := range r.sessions {
		if pid != except {
			out = append(out, s)
		}
	}
	return out
}

// sendToAll delivers a message to every session, absorbing individual
// failures so one dying peer never blocks the rest.
func sendToAll(sessions []*Session, msg []byte) {
	for _, s := range sessions {
		if err := s.Send(msg); err != nil {
			RecordBroadcastError()
		}
	}
}

// rejectReason maps validator errors onto bounded metric labels.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, input.ErrInputTooLarge):
		return "size"
	case errors.Is(err, input.ErrFrameNegative):
		return "negative_frame"
	case errors.Is(err, input.ErrFrameTooFar):
		return "frame_ahead"
	case errors.Is(err, input.ErrFrameReplayed):
		return "replay"
	case errors.Is(err, input.ErrTargetOOB):
		return "target"
	case errors.Is(err, input.ErrAPMExceeded):
		return "apm"
	case errors.Is(err, input.ErrShortInput), errors.Is(err, input.ErrExtraTooLarge):
		return "decode"
	default:
		return "other"
	}
}
