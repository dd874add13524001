package telephony

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type acceptResult struct {
	stream *MediaStream
	err    error
}

func newStreamServer(t *testing.T) (*httptest.Server, chan acceptResult) {
	t.Helper()
	results := make(chan acceptResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			results <- acceptResult{err: err}
			return
		}
		s, err := AcceptMediaStream(context.Background(), conn, nil)
		results <- acceptResult{stream: s, err: err}
	}))
	t.Cleanup(srv.Close)
	return srv, results
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func startFrame(callID string) map[string]any {
	return map[string]any{
		"event":     "start",
		"streamSid": "MZ1",
		"start": map[string]any{
			"streamSid":        "MZ1",
			"callSid":          "CA1",
			"tracks":           []string{"inbound"},
			"customParameters": map[string]string{"callId": callID},
		},
	}
}

func TestMediaStream_HandshakeAndAudio(t *testing.T) {
	srv, results := newStreamServer(t)
	client := dialStream(t, srv)

	if err := client.WriteJSON(map[string]any{"event": "connected", "protocol": "Call"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.WriteJSON(startFrame("phn_42")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var res acceptResult
	select {
	case res = <-results:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for handshake")
	}
	if res.err != nil {
		t.Fatalf("expected handshake, got %v", res.err)
	}
	s := res.stream
	defer s.Close()
	if s.CallID() != "phn_42" || s.CallSID() != "CA1" || s.StreamSID() != "MZ1" {
		t.Fatalf("unexpected identifiers: %q %q %q", s.CallID(), s.CallSID(), s.StreamSID())
	}

	payload := base64.StdEncoding.EncodeToString([]byte{0xff, 0x7f, 0x00})
	if err := client.WriteJSON(map[string]any{"event": "media", "streamSid": "MZ1", "media": map[string]string{"track": "inbound", "payload": payload}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case frame := <-s.Inbound():
		if len(frame) != 3 || frame[0] != 0xff {
			t.Fatalf("unexpected frame: %v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for inbound audio")
	}

	if err := s.Send(context.Background(), []byte{1, 2}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out streamMessage
	if err := client.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Event != "media" || out.StreamSID != "MZ1" || out.Media == nil {
		t.Fatalf("unexpected outbound frame: %+v", out)
	}
	if got, _ := base64.StdEncoding.DecodeString(out.Media.Payload); len(got) != 2 || got[1] != 2 {
		t.Fatalf("unexpected outbound payload: %v", got)
	}
	if err := client.ReadJSON(&out); err != nil || out.Event != "clear" {
		t.Fatalf("expected clear frame, got %+v (%v)", out, err)
	}

	if err := client.WriteJSON(map[string]any{"event": "stop", "streamSid": "MZ1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected stream to finish after stop")
	}
	if _, ok := <-s.Inbound(); ok {
		t.Fatalf("expected inbound closed")
	}
	if err := s.Send(context.Background(), []byte{1}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestMediaStream_RequiresCallID(t *testing.T) {
	srv, results := newStreamServer(t)
	client := dialStream(t, srv)

	if err := client.WriteJSON(startFrame("")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case res := <-results:
		if !errors.Is(res.err, ErrStreamHandshake) {
			t.Fatalf("expected ErrStreamHandshake, got %v", res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}

func TestMediaStream_PushDropsOldest(t *testing.T) {
	s := &MediaStream{inbound: make(chan []byte, 2)}
	s.push([]byte{1})
	s.push([]byte{2})
	s.push([]byte{3})
	if s.Dropped() != 1 {
		t.Fatalf("expected one drop, got %d", s.Dropped())
	}
	if f := <-s.inbound; f[0] != 2 {
		t.Fatalf("expected oldest dropped, got %v", f)
	}
}
