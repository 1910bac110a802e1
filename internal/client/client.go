package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"framesync/internal/config"
	"framesync/internal/fixed"
	"framesync/internal/frame"
	"framesync/internal/input"
	"framesync/internal/protocol"
	"framesync/internal/sim"
)

// InputProvider supplies the local player's input for a frame. The
// default provider returns an idle input.
type InputProvider func(frameID uint32) (flags uint8, targetX, targetY fixed.Fixed)

// Client is one predicting game peer: it authenticates, streams inputs
// up, consumes committed frames down, and drives the predictor.
type Client struct {
	cfg      config.Config
	url      string
	playerID string
	roomID   string

	conn    *websocket.Conn
	writeMu sync.Mutex // serializes conn writes; gorilla allows one writer

	mu            sync.Mutex
	buf           *frame.Buffer
	state         *sim.GameState
	predictor     *Predictor
	inputs        *input.Manager
	interp        *Interpolator
	players       map[uint16]struct{}
	playerIndex   uint16
	serverFrame   uint32 // highest committed frame id seen + 1
	lastConfirmed int64  // highest committed frame id seen, -1 initially
	started       bool
	startFrame    uint32
	nextPredict   uint32 // first frame id not yet simulated locally

	provider InputProvider

	done     chan struct{}
	closeErr error
	once     sync.Once
}

// New creates a client for the given server URL and identity.
func New(cfg config.Config, url, playerID, roomID string) *Client {
	idx := protocol.PlayerIndex(playerID)
	state := sim.NewGameState(cfg.ToSim(), cfg.Network.TickIntervalMs(), 1)
	state.SetMaxSnapshots(cfg.History.MaxSnapshots)

	return &Client{
		cfg:           cfg,
		url:           url,
		playerID:      playerID,
		roomID:        roomID,
		buf:           frame.NewBuffer(cfg.Network.BufferSize),
		state:         state,
		predictor:     NewPredictor(state, idx),
		inputs:        input.NewManager(idx),
		interp:        NewInterpolator(time.Duration(cfg.Network.TickIntervalMs()) * time.Millisecond),
		players:       make(map[uint16]struct{}),
		playerIndex:   idx,
		lastConfirmed: -1,
		provider: func(uint32) (uint8, fixed.Fixed, fixed.Fixed) {
			return 0, 0, 0
		},
		done: make(chan struct{}),
	}
}

// SetInputProvider installs the local input source. Call before Run.
func (c *Client) SetInputProvider(p InputProvider) { c.provider = p }

// PlayerIndex returns the derived local player index.
func (c *Client) PlayerIndex() uint16 { return c.playerIndex }

// Predictor exposes the prediction core for stats and rendering.
func (c *Client) Predictor() *Predictor { return c.predictor }

// Interpolator exposes the render-side smoothing helper.
func (c *Client) Interpolator() *Interpolator { return c.interp }

// Connect dials the server, authenticates, and waits for joinSuccess.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.url, err)
	}
	c.conn = conn

	auth, err := protocol.Encode(protocol.TypeAuth, &protocol.AuthPayload{
		PlayerID: c.playerID,
		RoomID:   c.roomID,
	})
	if err != nil {
		conn.Close()
		return err
	}
	if err := c.writeMessage(auth); err != nil {
		conn.Close()
		return fmt.Errorf("client: send auth: %w", err)
	}

	authTimeout := time.Duration(c.cfg.Network.AuthTimeoutSec) * time.Second
	conn.SetReadDeadline(time.Now().Add(authTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("client: await joinSuccess: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		conn.Close()
		return err
	}
	if env.Type != protocol.TypeJoinSuccess {
		conn.Close()
		return fmt.Errorf("client: expected joinSuccess, got %q", env.Type)
	}
	var join protocol.JoinSuccessPayload
	if err := env.DecodePayload(&join); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	for _, pid := range join.Players {
		idx := protocol.PlayerIndex(pid)
		c.players[idx] = struct{}{}
		c.state.SpawnPlayer(idx)
	}
	c.mu.Unlock()

	log.Printf("🎮 Joined room %s as %s (%d players)", join.RoomID, join.PlayerID, join.PlayerCount)
	return nil
}

// Run starts the receive loop and drives the 30 Hz logic loop until the
// context is cancelled or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	go c.recvLoop()

	interval := time.Duration(c.cfg.Network.TickIntervalMs()) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-c.done:
			return c.closeErr
		case <-ticker.C:
			if err := c.logicTick(); err != nil {
				log.Printf("⚠️ Logic tick failed: %v", err)
			}
		}
	}
}

// recvLoop reads envelopes until the connection closes.
func (c *Client) recvLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			log.Printf("⚠️ Bad envelope from server: %v", err)
			continue
		}
		if err := c.handleEnvelope(env); err != nil {
			log.Printf("⚠️ Handling %s failed: %v", env.Type, err)
		}
	}
}

func (c *Client) handleEnvelope(env *protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeGameFrame:
		var p protocol.GameFramePayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		c.storeFrame(protocol.FrameFromPayload(p))

	case protocol.TypeSyncFrames:
		var p protocol.SyncFramesPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		for _, fp := range p.Frames {
			c.storeFrame(protocol.FrameFromPayload(fp))
		}
		log.Printf("🔁 Synced %d missed frames, server at %d", len(p.Frames), p.CurrentFrame)

	case protocol.TypeGameStart:
		var p protocol.GameStartPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		c.mu.Lock()
		c.started = true
		c.startFrame = p.StartFrame
		c.nextPredict = p.StartFrame
		c.mu.Unlock()
		log.Printf("🚀 Game started at frame %d", p.StartFrame)

	case protocol.TypePlayerJoined:
		var p protocol.PlayerJoinedPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		idx := protocol.PlayerIndex(p.PlayerID)
		c.mu.Lock()
		c.players[idx] = struct{}{}
		c.state.SpawnPlayer(idx)
		c.mu.Unlock()
		log.Printf("👋 %s joined (%d players)", p.PlayerID, p.PlayerCount)

	case protocol.TypePlayerLeft:
		var p protocol.PlayerLeftPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		idx := protocol.PlayerIndex(p.PlayerID)
		c.mu.Lock()
		delete(c.players, idx)
		c.state.RemovePlayer(idx)
		c.mu.Unlock()
		log.Printf("👋 %s left", p.PlayerID)

	default:
		// Unknown server messages are ignored for forward compatibility.
	}
	return nil
}

func (c *Client) storeFrame(f *frame.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Store(f)
	if int64(f.ID) > c.lastConfirmed {
		c.lastConfirmed = int64(f.ID)
		c.serverFrame = f.ID + 1
	}
}

// logicTick is one 30 Hz step: reconcile every executable committed
// frame, then capture, send, and predict the next local input.
func (c *Client) logicTick() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}

	// Execute committed frames up to the buffered window.
	executable := c.buf.ExecutableFrameID(c.serverFrame)
	for {
		f := c.buf.PeekReady()
		if f == nil || int64(f.ID) > executable {
			break
		}
		c.buf.NextReady()
		if err := c.predictor.OnServerFrame(f); err != nil {
			return err
		}
		if f.ID >= c.nextPredict {
			c.nextPredict = f.ID + 1
		}
		c.interp.Advance(time.Now(), c.entityPositions())
	}

	// Capture the local input for the next unpredicted frame.
	nextFrame := c.nextPredict
	flags, tx, ty := c.provider(nextFrame)
	c.inputs.BeginFrame(nextFrame)
	c.inputs.SetInput(flags, tx, ty, nil)
	if c.inputs.EndFrame() == nil {
		return nil
	}

	// Ship every queued input to the server.
	for _, in := range c.inputs.PendingInputs() {
		if err := c.sendInput(in); err != nil {
			return err
		}
	}

	// Predict ahead with the freshly captured input.
	others := make([]uint16, 0, len(c.players))
	for pid := range c.players {
		if pid != c.playerIndex {
			others = append(others, pid)
		}
	}
	myInput := c.inputs.Input(nextFrame)
	data, err := myInput.Encode()
	if err != nil {
		return err
	}
	if err := c.predictor.PredictFrame(nextFrame, data, others); err != nil {
		if errors.Is(err, ErrPredictionLimit) {
			return nil // stall until the server catches up
		}
		return err
	}
	c.nextPredict++
	return nil
}

func (c *Client) sendInput(in *input.PlayerInput) error {
	data, err := in.Encode()
	if err != nil {
		return err
	}
	msg, err := protocol.Encode(protocol.TypeInput, &protocol.InputPayload{
		FrameID:   int64(in.FrameID),
		InputData: data,
	})
	if err != nil {
		return err
	}
	return c.writeMessage(msg)
}

// writeMessage is the single funnel for outbound traffic. The logic
// loop, Reconnect, and Leave write from different goroutines and the
// connection tolerates only one writer at a time.
func (c *Client) writeMessage(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// entityPositions snapshots current entity positions for interpolation.
func (c *Client) entityPositions() map[uint32][2]fixed.Fixed {
	physics := c.state.Physics()
	out := make(map[uint32][2]fixed.Fixed, physics.EntityCount())
	for _, id := range physics.SortedIDs() {
		e := physics.Entity(id)
		out[id] = [2]fixed.Fixed{e.X, e.Y}
	}
	return out
}

// Reconnect asks the server for every frame missed since the last
// confirmed one.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	last := c.lastConfirmed
	c.mu.Unlock()
	if last < 0 {
		last = 0
	}

	msg, err := protocol.Encode(protocol.TypeReconnect, &protocol.ReconnectPayload{
		LastFrame: uint32(last),
	})
	if err != nil {
		return err
	}
	return c.writeMessage(msg)
}

// Leave sends the explicit goodbye and closes the connection.
func (c *Client) Leave() error {
	msg, err := protocol.Encode(protocol.TypeLeave, &protocol.LeavePayload{})
	if err != nil {
		return err
	}
	if err := c.writeMessage(msg); err != nil {
		return err
	}
	return c.Close()
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Client) shutdown(err error) {
	c.once.Do(func() {
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
		if c.conn != nil {
			c.conn.Close()
		}
		close(c.done)
	})
}
