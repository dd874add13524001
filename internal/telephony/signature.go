package telephony

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/client"

	"phonon/pkg/logger"
)

const headerTwilioSignature = "X-Twilio-Signature"

// ValidateSignature rejects webhook requests not signed with authToken.
// publicBase is the externally visible scheme+host the carrier used to reach us;
// behind a proxy the request's own Host is not what was signed.
// Websocket handshakes are signed over the ws(s) form of the URL.
func ValidateSignature(authToken, publicBase string) gin.HandlerFunc {
	validator := client.NewRequestValidator(authToken)
	base := strings.TrimRight(publicBase, "/")
	wsBase := websocketBase(publicBase)

	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}

		url := base + c.Request.URL.RequestURI()
		if websocket.IsWebSocketUpgrade(c.Request) {
			url = wsBase + c.Request.URL.RequestURI()
		}
		if !validator.Validate(url, params, c.GetHeader(headerTwilioSignature)) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
