package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrStreamClosed    = errors.New("telephony: media stream closed")
	ErrStreamHandshake = errors.New("telephony: media stream handshake failed")
)

// MediaLeg is the audio side of an answered telephony leg.
type MediaLeg interface {
	// Inbound yields decoded audio frames from the callee. Closed when the leg ends.
	Inbound() <-chan []byte
	Send(ctx context.Context, frame []byte) error
	// Clear drops audio the carrier has buffered but not yet played.
	Clear() error
	Done() <-chan struct{}
	Close() error
}

const (
	inboundBuffer    = 256
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Twilio Media Streams message types.
type streamMessage struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *streamStart `json:"start,omitempty"`
	Media     *streamMedia `json:"media,omitempty"`
	Mark      *streamMark  `json:"mark,omitempty"`
	DTMF      *streamDTMF  `json:"dtmf,omitempty"`
}

type streamStart struct {
	StreamSID    string            `json:"streamSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	CustomParams map[string]string `json:"customParameters"`
}

type streamMedia struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type streamMark struct {
	Name string `json:"name"`
}

type streamDTMF struct {
	Digit string `json:"digit"`
}

// MediaStream is one Twilio Media Streams websocket, past its start frame.
// Writes are serialized; reads happen on a single goroutine started by AcceptMediaStream.
type MediaStream struct {
	conn *websocket.Conn
	log  *slog.Logger

	streamSID string
	callSID   string
	callID    string

	inbound chan []byte
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	dropped atomic.Int64
}

// AcceptMediaStream consumes the connected/start handshake and starts the read loop.
// The stream's call id comes from the callId custom parameter set by RenderStreamTwiML.
func AcceptMediaStream(ctx context.Context, conn *websocket.Conn, log *slog.Logger) (*MediaStream, error) {
	if log == nil {
		log = slog.Default()
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var start *streamStart
	for start == nil {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStreamHandshake, err)
		}
		switch msg.Event {
		case "connected":
			continue
		case "start":
			if msg.Start == nil {
				return nil, fmt.Errorf("%w: start frame without payload", ErrStreamHandshake)
			}
			start = msg.Start
			if start.StreamSID == "" {
				start.StreamSID = msg.StreamSID
			}
		default:
			return nil, fmt.Errorf("%w: unexpected %q before start", ErrStreamHandshake, msg.Event)
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	callID := start.CustomParams[CallIDParameter]
	if callID == "" {
		return nil, fmt.Errorf("%w: missing %s parameter", ErrStreamHandshake, CallIDParameter)
	}

	s := &MediaStream{
		conn:      conn,
		log:       log.With("call_id", callID, "stream_sid", start.StreamSID),
		streamSID: start.StreamSID,
		callSID:   start.CallSID,
		callID:    callID,
		inbound:   make(chan []byte, inboundBuffer),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *MediaStream) CallID() string    { return s.callID }
func (s *MediaStream) CallSID() string   { return s.callSID }
func (s *MediaStream) StreamSID() string { return s.streamSID }

func (s *MediaStream) Inbound() <-chan []byte { return s.inbound }

func (s *MediaStream) Done() <-chan struct{} { return s.done }

// Dropped counts inbound frames discarded because the consumer fell behind.
func (s *MediaStream) Dropped() int64 { return s.dropped.Load() }

func (s *MediaStream) readLoop() {
	defer close(s.done)
	defer close(s.inbound)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				s.log.Debug("media stream read ended", "err", err)
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("media stream frame undecodable", "err", err)
			continue
		}

		switch msg.Event {
		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				s.log.Warn("media payload undecodable", "err", err)
				continue
			}
			s.push(frame)
		case "mark":
			if msg.Mark != nil {
				s.log.Debug("media mark played", "mark", msg.Mark.Name)
			}
		case "dtmf":
			if msg.DTMF != nil {
				s.log.Info("dtmf received", "digit", msg.DTMF.Digit)
			}
		case "stop":
			return
		}
	}
}

// push never blocks the read loop: when the buffer is full the oldest frame goes.
func (s *MediaStream) push(frame []byte) {
	select {
	case s.inbound <- frame:
		return
	default:
	}
	select {
	case <-s.inbound:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.inbound <- frame:
	default:
		s.dropped.Add(1)
	}
}

func (s *MediaStream) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(map[string]any{
		"event":     "media",
		"streamSid": s.streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(frame),
		},
	})
}

func (s *MediaStream) Clear() error {
	return s.write(map[string]any{
		"event":     "clear",
		"streamSid": s.streamSID,
	})
}

// Mark asks the carrier to echo name back once all audio sent so far has played.
func (s *MediaStream) Mark(name string) error {
	return s.write(map[string]any{
		"event":     "mark",
		"streamSid": s.streamSID,
		"mark":      map[string]string{"name": name},
	})
}

func (s *MediaStream) write(msg any) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *MediaStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
