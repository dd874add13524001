package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/status/:call_id", ValidateSignature("tok", "https://phonon.sh/api/"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}
	good := sign("tok", "https://phonon.sh/api/webhooks/twilio/status/phn_1", form)

	cases := []struct {
		name string
		sig  string
		want int
	}{
		{"valid", good, http.StatusNoContent},
		{"wrong", "bm9wZQ==", http.StatusForbidden},
		{"missing", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status/phn_1", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if tc.sig != "" {
			req.Header.Set("X-Twilio-Signature", tc.sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
}

func TestValidateSignature_WebsocketHandshake(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/media-stream", ValidateSignature("tok", "https://phonon.sh/api"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name string
		sig  string
		want int
	}{
		{"signed over wss url", sign("tok", "wss://phonon.sh/api/media-stream", nil), http.StatusNoContent},
		{"signed over https url", sign("tok", "https://phonon.sh/api/media-stream", nil), http.StatusForbidden},
		{"unsigned", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/media-stream", nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		if tc.sig != "" {
			req.Header.Set("X-Twilio-Signature", tc.sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
}
