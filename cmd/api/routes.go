package main

import (
	"github.com/gin-gonic/gin"

	"phonon/internal/auth"
	"phonon/internal/httpapi"
	"phonon/internal/telephony"
)

// Route registration only. Handlers delegate to internal modules.

// registerPublicRoutes wires health and carrier callbacks. carrierMW guards every
// carrier-originated request, including the media websocket handshake.
func registerPublicRoutes(r *gin.Engine, h httpapi.Handlers, wh telephony.WebhookHandler, carrierMW []gin.HandlerFunc) {
	r.GET("/healthz", h.Health)

	twiml := append(append([]gin.HandlerFunc{}, carrierMW...), wh.HandleTwiML)
	r.GET("/twiml/:call_id", twiml...)
	r.POST("/twiml/:call_id", twiml...)

	status := append(append([]gin.HandlerFunc{}, carrierMW...), wh.HandleStatus)
	r.POST("/webhooks/twilio/status/:call_id", status...)

	media := append(append([]gin.HandlerFunc{}, carrierMW...), wh.HandleMediaStream)
	r.GET("/media-stream", media...)
}

func registerAuthRoutes(r *gin.Engine, h httpapi.Handlers) {
	a := r.Group("/v1/auth")
	{
		a.POST("/token", h.IssueToken)
		a.POST("/refresh", h.RefreshToken)
	}
}

func registerProtectedRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		c := v1.Group("/calls")
		c.POST("", auth.RequireScope(auth.ScopeCallsWrite), h.StartCall)
		c.POST("/sync", auth.RequireScope(auth.ScopeCallsWrite), h.PlaceCallSync)
		c.GET("/:call_id", auth.RequireScope(auth.ScopeCallsRead), h.GetCall)
		c.GET("/:call_id/events", auth.RequireScope(auth.ScopeCallsRead), h.CallEvents)
		c.POST("/:call_id/hangup", auth.RequireScope(auth.ScopeCallsWrite), h.HangupCall)

		reports := v1.Group("/reports")
		reports.Use(auth.RequireScope(auth.ScopeReportsRead))
		reports.GET("/calls", h.CallsReport)
	}
}
