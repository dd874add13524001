package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"phonon/internal/auth"
	"phonon/internal/calls"
	"phonon/internal/eventlog"
	"phonon/internal/reporting"
	"phonon/internal/session"
	"phonon/pkg/logger"
)

// CallManager is the session manager as seen from the public API.
type CallManager interface {
	StartCall(ctx context.Context, req calls.CallRequest) *session.Session
	PlaceCall(ctx context.Context, req calls.CallRequest) calls.CallResult
	Result(ctx context.Context, callID string) (calls.CallResult, error)
	Hangup(ctx context.Context, callID string) (calls.CallResult, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Calls   CallManager
	History *eventlog.Service
	Reports *reporting.Service

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Auth ---

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// IssueToken exchanges API client credentials for a token pair.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Auth.Authenticate(req.ClientID, req.ClientSecret); err != nil {
		logger.FromGin(c).Warn("token request rejected", "client_id", req.ClientID)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid client credentials"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.ClientID, auth.AllScopes)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken, "token_type": "Bearer"})
}

func (h Handlers) RefreshToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(h.now(), req.RefreshToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken, "token_type": "Bearer"})
}

// --- Calls ---

type callRequest struct {
	To            string   `json:"to"`
	Objective     string   `json:"objective"`
	Context       string   `json:"context,omitempty"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`
	Voice         string   `json:"voice,omitempty"`
	Language      string   `json:"language,omitempty"`
	ExtractFields []string `json:"extract_fields,omitempty"`
	WebhookURL    string   `json:"webhook_url,omitempty"`

	// MaxDurationSeconds caps the call. Zero means the server default.
	MaxDurationSeconds int `json:"max_duration_seconds,omitempty"`
}

func (r callRequest) toCallRequest() calls.CallRequest {
	return calls.CallRequest{
		To:            r.To,
		Objective:     r.Objective,
		Context:       r.Context,
		SystemPrompt:  r.SystemPrompt,
		Voice:         r.Voice,
		Language:      r.Language,
		ExtractFields: r.ExtractFields,
		WebhookURL:    r.WebhookURL,
		MaxDuration:   time.Duration(r.MaxDurationSeconds) * time.Second,
	}
}

func (h Handlers) bindCall(c *gin.Context) (calls.CallRequest, bool) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return calls.CallRequest{}, false
	}
	var body callRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return calls.CallRequest{}, false
	}
	req := body.toCallRequest()
	if err := req.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return calls.CallRequest{}, false
	}
	return req, true
}

// StartCall places a call and returns its id immediately.
func (h Handlers) StartCall(c *gin.Context) {
	req, ok := h.bindCall(c)
	if !ok {
		return
	}
	s := h.Calls.StartCall(c.Request.Context(), req)
	clientID, _ := auth.ClientID(c.Request.Context())
	logger.FromGin(c).Info("call accepted", "call_id", s.ID(), "client_id", clientID)
	c.JSON(http.StatusAccepted, gin.H{"call_id": s.ID(), "status": calls.CallStatusQueued})
}

// PlaceCallSync places a call and holds the request open until the call ends.
// Dropping the request hangs the call up.
func (h Handlers) PlaceCallSync(c *gin.Context) {
	req, ok := h.bindCall(c)
	if !ok {
		return
	}
	res := h.Calls.PlaceCall(c.Request.Context(), req)
	c.JSON(http.StatusOK, res)
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	res, err := h.Calls.Result(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HangupCall ends a live call and returns its final result.
func (h Handlers) HangupCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	res, err := h.Calls.Hangup(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) CallEvents(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "event log not configured"})
		return
	}
	recs, err := h.History.History(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		logger.FromGin(c).Error("event history failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event history failed"})
		return
	}
	if len(recs) == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": c.Param("call_id"), "events": recs})
}

func (h Handlers) callError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrUnknownCall) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for call"})
		return
	}
	logger.FromGin(c).Error("call lookup failed", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
}

// --- Reports ---

// CallsReport aggregates stored results. Query: from, to (RFC 3339). Defaults to the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "reporting not configured"})
		return
	}
	to := h.now()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		from = t
	}

	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
	})
	switch {
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
	case err != nil:
		logger.FromGin(c).Error("calls report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
	default:
		c.JSON(http.StatusOK, sum)
	}
}
