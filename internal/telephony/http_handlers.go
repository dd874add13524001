package telephony

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/twiml"

	"phonon/pkg/logger"
)

// ErrUnknownCall is returned by CallSessions for ids with no live session.
var ErrUnknownCall = errors.New("telephony: unknown call")

// CallSessions is the session manager as seen from carrier webhooks.
type CallSessions interface {
	Active(callID string) bool
	HandleStatus(ctx context.Context, callID string, u StatusUpdate) error
	// AttachMedia runs the conversation over leg and returns when the call ends.
	AttachMedia(ctx context.Context, callID string, leg MediaLeg) error
}

// WebhookHandler converts carrier callbacks to internal calls.
//
// No business logic here.
type WebhookHandler struct {
	Sessions CallSessions

	// StreamURL is the public websocket URL the carrier streams audio to.
	StreamURL string

	Now func() time.Time
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The carrier does not send an Origin header; requests are authenticated by call id.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleTwiML serves the bridging markup the carrier fetches once the callee answers.
func (h WebhookHandler) HandleTwiML(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	var (
		doc string
		err error
	)
	if h.Sessions == nil || !h.Sessions.Active(callID) {
		log.Warn("twiml requested for unknown call", "call_id", callID)
		doc, err = twiml.Voice([]twiml.Element{twiml.VoiceHangup{}})
	} else {
		doc, err = RenderStreamTwiML(h.StreamURL, callID)
	}
	if err != nil {
		log.Error("twiml render failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, doc)
}

func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}

	callID := c.Param("call_id")
	u, err := ParseStatusCallback(c.Request, h.Now())
	if err != nil {
		log.Warn("status callback parse failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if err := h.Sessions.HandleStatus(c.Request.Context(), callID, u); err != nil {
		if errors.Is(err, ErrUnknownCall) {
			// Late callbacks for finished calls are expected; acknowledge so the carrier stops retrying.
			log.Info("status callback for inactive call", "call_id", callID, "status", u.RawStatus)
			c.Status(http.StatusNoContent)
			return
		}
		log.Error("status callback failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleMediaStream upgrades the carrier's websocket and hands the leg to its session.
func (h WebhookHandler) HandleMediaStream(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media stream upgrade failed", "err", err)
		return
	}

	ctx := c.Request.Context()
	stream, err := AcceptMediaStream(ctx, conn, log)
	if err != nil {
		log.Warn("media stream rejected", "err", err)
		_ = conn.Close()
		return
	}
	defer stream.Close()

	// The request context ends with the hijacked connection only; sessions own their lifetime.
	if err := h.Sessions.AttachMedia(context.WithoutCancel(ctx), stream.CallID(), stream); err != nil {
		log.Warn("media stream not attached", "call_id", stream.CallID(), "err", err)
		return
	}
	log.Info("media stream finished", "call_id", stream.CallID(), "dropped_frames", stream.Dropped())
}
