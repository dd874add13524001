package telephony

import (
	"errors"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// CallIDParameter is the custom stream parameter carrying our call id.
const CallIDParameter = "callId"

// RenderStreamTwiML tells the carrier to bridge the answered call's audio to streamURL.
// callID travels as a custom stream parameter and comes back in the stream's start frame.
func RenderStreamTwiML(streamURL, callID string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.Join(ErrInvalidInput, errors.New("stream url is required"))
	}
	if strings.TrimSpace(callID) == "" {
		return "", errors.Join(ErrInvalidInput, errors.New("call id is required"))
	}

	stream := twiml.VoiceStream{
		Url: streamURL,
		InnerElements: []twiml.Element{
			twiml.VoiceParameter{Name: CallIDParameter, Value: callID},
		},
	}
	connect := twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	return twiml.Voice([]twiml.Element{connect})
}

// StreamURL derives the websocket media endpoint from a public http(s) base.
func StreamURL(publicBase string) string {
	return websocketBase(publicBase) + "/media-stream"
}

func websocketBase(publicBase string) string {
	base := strings.TrimRight(publicBase, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
