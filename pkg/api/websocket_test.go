package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, e *testEnv, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/generate/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	return conn
}

// readStream collects messages until a done or error event.
func readStream(t *testing.T, conn *websocket.Conn) []WSMessage {
	t.Helper()
	var msgs []WSMessage
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON after %d messages: %v", len(msgs), err)
		}
		msgs = append(msgs, msg)
		if msg.Type == EventDone || msg.Type == EventError {
			return msgs
		}
	}
}

// -----------------------------------------------------------------------------
// Stream Tests
// -----------------------------------------------------------------------------

func TestGenerateStream_OneMessagePerToken(t *testing.T) {
	e := newTestEnv(t)
	e.trainVector(t, "kind")

	conn := dialStream(t, e, nil)
	if err := conn.WriteJSON(GenerateRequest{Prompt: "Once upon a time", Vector: "kind", Strength: floatPtr(2)}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	msgs := readStream(t, conn)

	if msgs[0].Type != EventStart {
		t.Fatalf("first event %q, want start", msgs[0].Type)
	}
	last := msgs[len(msgs)-1]
	if last.Type != EventDone {
		t.Fatalf("last event %q (%v), want done", last.Type, last.Data)
	}

	id := msgs[0].StreamID
	if len(id) != 36 {
		t.Errorf("stream id %q is not a UUID", id)
	}
	var streamed []int
	for i, m := range msgs[1 : len(msgs)-1] {
		if m.Type != EventToken || m.StreamID != id {
			t.Fatalf("message %d: type %q stream %q", i+1, m.Type, m.StreamID)
		}
		data := m.Data.(map[string]interface{})
		if int(data["step"].(float64)) != i {
			t.Errorf("token %d has step %v", i, data["step"])
		}
		if _, ok := data["text"].(string); !ok {
			t.Errorf("token %d has no text", i)
		}
		streamed = append(streamed, int(data["token"].(float64)))
	}

	done := last.Data.(map[string]interface{})
	final := done["tokens"].([]interface{})
	if len(final) != len(streamed) {
		t.Fatalf("done reports %d tokens, stream sent %d", len(final), len(streamed))
	}
	for i, tok := range final {
		if int(tok.(float64)) != streamed[i] {
			t.Errorf("token %d: streamed %d, final %v", i, streamed[i], tok)
		}
	}
	if done["vector"] != "kind" {
		t.Errorf("done vector = %v", done["vector"])
	}
}

func TestGenerateStream_MatchesPost(t *testing.T) {
	e := newTestEnv(t)

	var post GenerateResponse
	e.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "hello"}, &post)

	conn := dialStream(t, e, nil)
	conn.WriteJSON(GenerateRequest{Prompt: "hello"})
	msgs := readStream(t, conn)
	done := msgs[len(msgs)-1].Data.(map[string]interface{})
	if done["text"] != post.Text {
		t.Errorf("stream text %q, POST text %q", done["text"], post.Text)
	}
}

func TestGenerateStream_Errors(t *testing.T) {
	e := newTestEnv(t)

	t.Run("unknown vector", func(t *testing.T) {
		conn := dialStream(t, e, nil)
		conn.WriteJSON(GenerateRequest{Prompt: "hi", Vector: "nope"})
		msgs := readStream(t, conn)
		last := msgs[len(msgs)-1]
		if last.Type != EventError {
			t.Fatalf("last event %q", last.Type)
		}
		if code := last.Data.(map[string]interface{})["code"]; code != "VECTOR_NOT_FOUND" {
			t.Errorf("code = %v", code)
		}
	})

	t.Run("bad request", func(t *testing.T) {
		conn := dialStream(t, e, nil)
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		msgs := readStream(t, conn)
		if len(msgs) != 1 || msgs[0].Data.(map[string]interface{})["code"] != "invalid_json" {
			t.Errorf("messages = %+v", msgs)
		}
	})

	t.Run("invalid options", func(t *testing.T) {
		zero := 0
		conn := dialStream(t, e, nil)
		conn.WriteJSON(GenerateRequest{Prompt: "hi", MaxNewTokens: &zero})
		msgs := readStream(t, conn)
		if code := msgs[0].Data.(map[string]interface{})["code"]; code != "VALIDATION_INVALID_VALUE" {
			t.Errorf("code = %v", code)
		}
	})
}

func TestGenerateStream_OriginCheck(t *testing.T) {
	e := newTestEnv(t)
	h := NewHandlers(e.mgr, "test")
	h.SetAllowedOrigins([]string{"http://localhost:5173"})

	req := func(origin string) *http.Request {
		r, _ := http.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	if !h.upgrader.CheckOrigin(req("http://localhost:5173")) {
		t.Error("listed origin rejected")
	}
	if h.upgrader.CheckOrigin(req("http://evil.example")) {
		t.Error("unlisted origin accepted")
	}
	if !h.upgrader.CheckOrigin(req("")) {
		t.Error("request without origin rejected")
	}
}
