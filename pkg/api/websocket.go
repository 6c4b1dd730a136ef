package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the client to send its generation request.
	requestWait = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Stream event types. A stream is one "start", one "token" per decoding step,
// then exactly one "done" or "error".
const (
	EventStart = "start"
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// WSMessage is the envelope of every stream message.
type WSMessage struct {
	Type      string      `json:"type"`
	StreamID  string      `json:"stream_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// StartData opens a stream.
type StartData struct {
	Model    string  `json:"model"`
	Vector   string  `json:"vector,omitempty"`
	Strength float64 `json:"strength,omitempty"`
}

// TokenData carries one decoding step.
type TokenData struct {
	Step  int    `json:"step"`
	Token int    `json:"token"`
	Text  string `json:"text"`
}

type stream struct {
	id   string
	conn *websocket.Conn
}

func (s *stream) send(typ string, data interface{}) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(WSMessage{
		Type:      typ,
		StreamID:  s.id,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *stream) sendErr(err error) {
	_, e := toAPIError(err)
	if werr := s.send(EventError, e); werr != nil {
		log.Printf("[ws] stream %s: failed to report error: %v", s.id, werr)
	}
}

// GenerateStream handles GET /api/generate/stream. The client sends one
// GenerateRequest as JSON after the upgrade and receives the completion token
// by token. Closing the socket cancels generation.
func (h *Handlers) GenerateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	defer conn.Close()

	s := &stream{id: uuid.NewString(), conn: conn}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(requestWait))
	var req GenerateRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.Printf("[ws] stream %s: bad request: %v", s.id, err)
		s.send(EventError, &APIError{Code: "invalid_json", Message: "first message must be a generation request"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	mreq, err := req.toManager(h.mgr.Config().Generation.Options())
	if err != nil {
		s.sendErr(err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// The client sends nothing else; a read error means it went away.
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	log.Printf("[ws] stream %s started (vector=%q strength=%g)", s.id, req.Vector, mreq.Strength)
	if err := s.send(EventStart, StartData{Model: h.mgr.ModelName(), Vector: req.Vector, Strength: mreq.Strength}); err != nil {
		return
	}

	var sendErr error
	mreq.OnToken = func(step, token int, text string) bool {
		sendErr = s.send(EventToken, TokenData{Step: step, Token: token, Text: text})
		return sendErr == nil
	}

	res, err := h.mgr.Generate(ctx, mreq)
	switch {
	case sendErr != nil:
		log.Printf("[ws] stream %s: client write failed: %v", s.id, sendErr)
		return
	case err != nil:
		s.sendErr(err)
		return
	}

	s.send(EventDone, GenerateResponse{
		Prompt:   req.Prompt,
		Text:     res.Text,
		Tokens:   res.Tokens,
		Vector:   req.Vector,
		Strength: mreq.Strength,
	})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	log.Printf("[ws] stream %s finished (%d tokens)", s.id, len(res.Tokens))
}
