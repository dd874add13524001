package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewWithWriter_LevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "prod")
	l.Debug("hidden")
	l.Info("shown", "call_id", "phn_1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one json record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" || rec["service"] != "phonon" || rec["call_id"] != "phn_1" {
		t.Fatalf("record=%v", rec)
	}

	buf.Reset()
	NewWithWriter(&buf, "dev").Debug("visible")
	if buf.Len() == 0 {
		t.Fatalf("debug should be enabled in dev")
	}
}

func TestFromFallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
	l := Discard()
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(Discard()))
	r.GET("/x", func(c *gin.Context) {
		if From(c.Request.Context()) != FromGin(c) {
			t.Errorf("request context and gin context loggers differ")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)
	if got := w.Header().Get(headerRequestID); got != "rid-1" {
		t.Fatalf("request id=%q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestMiddleware_CallIDAndQuietPaths(t *testing.T) {
	var buf bytes.Buffer
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "prod")))
	r.POST("/v1/calls/:call_id/hangup", func(c *gin.Context) {
		FromGin(c).Info("hangup requested")
		c.Status(http.StatusAccepted)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/calls/phn_7/hangup", nil))

	dec := json.NewDecoder(&buf)
	for i := 0; i < 2; i++ {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if rec["call_id"] != "phn_7" || rec["request_id"] == nil {
			t.Fatalf("record %d missing ids: %v", i, rec)
		}
	}
	if dec.More() {
		t.Fatalf("expected exactly two records")
	}

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("health checks should not log at info: %s", buf.String())
	}
}
