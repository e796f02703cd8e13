package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 10 * time.Second

	// Inbound frames carry attachment metadata arrays, so the limit is
	// well above plain text size.
	maxFrameSize = 64 * 1024

	sendBufferSize = 256
)

// Session is one connected client: a transient connection identity bound
// to a (possibly persisted) anonymous user identity and exactly one room.
type Session struct {
	ID     string // connection id
	UserID string
	IP     string
	UA     string
	Geo    string
	RoomID string

	// nick is only written and read from the session's read goroutine.
	nick string

	hub      *Hub
	pipeline *Pipeline
	conn     *websocket.Conn
	Send     chan []byte

	closeOnce sync.Once
}

func NewSession(hub *Hub, pipeline *Pipeline, conn *websocket.Conn, userID, ip, ua, geo string) *Session {
	return &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		IP:       ip,
		UA:       ua,
		Geo:      geo,
		hub:      hub,
		pipeline: pipeline,
		conn:     conn,
		Send:     make(chan []byte, sendBufferSize),
	}
}

// Name returns the display name: the chosen nick, or the derived anonymous
// name when none was set.
func (s *Session) Name() string {
	if s.nick != "" {
		return s.nick
	}
	return AnonName(s.UserID)
}

func AnonName(userID string) string {
	if len(userID) > 5 {
		userID = userID[:5]
	}
	return "anon-" + userID
}

// TrySend queues a payload without blocking. False means the buffer is
// full; the hub treats that as a slow consumer.
func (s *Session) TrySend(payload []byte) bool {
	select {
	case s.Send <- payload:
		return true
	default:
		return false
	}
}

// Close tears down the connection. The read pump notices the closed
// connection and runs the unconditional disconnect cleanup.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain whatever queued up behind this frame.
			n := len(s.Send)
			for i := 0; i < n; i++ {
				msg, ok := <-s.Send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(msg)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump decodes inbound commands and dispatches them to the pipeline.
// Membership removal, presence and the leave audit run unconditionally on
// exit, cooperative disconnect or not.
func (s *Session) ReadPump() {
	defer func() {
		s.pipeline.Disconnect(context.Background(), s)
		s.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SESSION] Unexpected close for %s: %v", s.ID, err)
			}
			break
		}

		cmd := &Command{}
		if err := json.Unmarshal(raw, cmd); err != nil {
			continue
		}
		s.dispatch(cmd)
	}
}

func (s *Session) dispatch(cmd *Command) {
	ctx := context.Background()

	switch cmd.Type {
	case "setNick":
		var p setNickPayload
		if json.Unmarshal(cmd.Data, &p) == nil {
			s.pipeline.SetNick(s, p.Nick)
		}

	case "setRoom":
		var p setRoomPayload
		if json.Unmarshal(cmd.Data, &p) == nil {
			s.pipeline.UpdateRoom(ctx, s, p.Topic, p.Capacity, p.Locked)
		}

	case "msg":
		var p msgPayload
		if json.Unmarshal(cmd.Data, &p) == nil {
			s.pipeline.Submit(ctx, s, p.Text, p.Files, p.ReplyTo)
		}

	case "edit":
		var p editPayload
		if json.Unmarshal(cmd.Data, &p) != nil {
			return
		}
		if id, err := uuid.Parse(p.MessageID); err == nil {
			s.pipeline.Edit(ctx, s, id, p.Text)
		}

	case "delete":
		if id, ok := s.parseRef(cmd.Data); ok {
			s.pipeline.Delete(ctx, s, id)
		}

	case "pin":
		if id, ok := s.parseRef(cmd.Data); ok {
			s.pipeline.Pin(ctx, s, id)
		}

	case "unpin":
		if id, ok := s.parseRef(cmd.Data); ok {
			s.pipeline.Unpin(ctx, s, id)
		}

	case "typing":
		s.pipeline.Typing(s)

	case "report":
		var p reportPayload
		if json.Unmarshal(cmd.Data, &p) == nil {
			s.pipeline.Report(ctx, s, p.MessageID, p.Reason)
		}
	}
}

func (s *Session) parseRef(data json.RawMessage) (uuid.UUID, bool) {
	var p messageRefPayload
	if json.Unmarshal(data, &p) != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(p.MessageID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
