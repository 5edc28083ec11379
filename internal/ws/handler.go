package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced at the HTTP layer
		return true
	},
}

// ServeWS upgrades the request and attaches the connection to the hub
func ServeWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("Websocket upgrade failed")
			return
		}

		client := NewClient(uuid.NewString(), hub, conn)
		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}
