package handler

import (
	"net/http"

	"claimhub/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the web app's origin; no cookie auth rides on the socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the request and hands the connection to the router.
// A valid identity token joins the user's room right away; without one the
// client sends join itself.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	anonID := h.identityFromRequest(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(conn, h.Log)
	session := h.Router.Connect(client)
	if anonID != "" {
		session.Identify(anonID)
	}
	client.Run(session)
}
