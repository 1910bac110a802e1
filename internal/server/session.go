package server

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"framesync/internal/protocol"
)

// writeWait bounds how long a single frame send may block before the
// peer is declared dead.
const writeWait = 5 * time.Second

// Session is one authenticated WebSocket connection inside a room.
// The read loop runs on its own goroutine; writes from the room tick
// and from the read loop are serialised by writeMu.
type Session struct {
	PlayerID string
	RoomID   string
	Index    uint16

	conn    *websocket.Conn
	room    *Room
	limiter *MessageLimiter

	connectedAt time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewSession wraps an upgraded connection after a successful auth
// handshake.
func NewSession(conn *websocket.Conn, playerID, roomID string, maxMsgPerSec int) *Session {
	return &Session{
		PlayerID:    playerID,
		RoomID:      roomID,
		Index:       protocol.PlayerIndex(playerID),
		conn:        conn,
		limiter:     NewMessageLimiter(maxMsgPerSec),
		connectedAt: time.Now(),
	}
}

// Send delivers one encoded envelope as a binary message.
func (s *Session) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// CloseWithCode sends a close frame with an application close code and
// tears the connection down.
func (s *Session) CloseWithCode(code int, reason string) {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteMessage(websocket.CloseMessage, msg)
		s.writeMu.Unlock()
		s.conn.Close()
	})
}

// Close tears the connection down without a close frame.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

// ReadLoop pumps messages until the connection dies or the client
// leaves. Blocks; the server runs it on the connection's goroutine.
// Keepalive rides on WebSocket ping/pong: the read deadline is pushed
// forward on every pong, and a ping goroutine fires at the configured
// interval.
func (s *Session) ReadLoop(pingInterval, pongTimeout time.Duration) {
	deadline := pingInterval + pongTimeout
	s.conn.SetReadDeadline(time.Now().Add(deadline))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(pingInterval, stopPing)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("⚠️ %s read error: %v", s.PlayerID, err)
			}
			return
		}

		if !s.limiter.Allow(time.Now()) {
			RecordMessageDropped()
			continue
		}

		if leave := s.dispatch(data); leave {
			return
		}
	}
}

func (s *Session) pingLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// dispatch routes one decoded envelope. Malformed or unknown messages
// are dropped; only an explicit leave ends the loop.
func (s *Session) dispatch(data []byte) (leave bool) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		RecordInputRejected("envelope")
		return false
	}

	switch env.Type {
	case protocol.TypeInput:
		var p protocol.InputPayload
		if err := env.DecodePayload(&p); err != nil {
			RecordInputRejected("envelope")
			return false
		}
		s.room.HandleInput(s, p.FrameID, p.InputData)

	case protocol.TypeReconnect:
		var p protocol.ReconnectPayload
		if err := env.DecodePayload(&p); err != nil {
			return false
		}
		s.room.HandleReconnect(s, p.LastFrame)

	case protocol.TypeLeave:
		return true

	default:
		// Unknown types are ignored so old clients stay compatible.
	}
	return false
}

// ReadAuth performs the handshake on a fresh connection: one auth
// envelope within the timeout, ids validated. The connection is closed
// with the matching application code on failure.
func ReadAuth(conn *websocket.Conn, timeout time.Duration) (*protocol.AuthPayload, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		RecordConnectionRejected("timeout")
		closeWith(conn, protocol.CloseAuthTimeout, "auth timeout")
		return nil, errors.New("server: auth read failed")
	}

	env, err := protocol.DecodeEnvelope(data)
	if err != nil || env.Type != protocol.TypeAuth {
		RecordConnectionRejected("auth")
		closeWith(conn, protocol.CloseAuthFailure, "expected auth")
		return nil, errors.New("server: first message not auth")
	}

	var auth protocol.AuthPayload
	if err := env.DecodePayload(&auth); err != nil || !auth.Valid() {
		RecordConnectionRejected("auth")
		closeWith(conn, protocol.CloseAuthFailure, "invalid auth payload")
		return nil, errors.New("server: invalid auth payload")
	}
	return &auth, nil
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}
