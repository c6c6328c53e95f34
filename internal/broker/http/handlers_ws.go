package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"spectralnotify/internal/broker/instance"
)

// upgrader allows any origin: SpectralNotify is consumed by server-side
// orchestrators and browser dashboards alike, and CORS on the REST side
// already gates browser access.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSubscribe upgrades `/ws/{kind}/{id}` to a WebSocket and attaches it
// to the entity's hub. An invalid kind is rejected with a protocol error
// frame and close code 1008 before the instance directory is ever consulted.
func (d Deps) handleSubscribe(c *gin.Context) {
	kind := c.Param("kind")
	id := c.Param("id")

	if kind != "task" && kind != "workflow" || id == "" {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		rejectSubscribe(conn, "invalid route: kind must be \"task\" or \"workflow\"")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.Logger.Debug("ws upgrade failed for %s/%s: %v", kind, id, err)
		return
	}

	switch kind {
	case "task":
		d.Directory.Task(id).Attach(conn)
	case "workflow":
		d.Directory.Workflow(id).Attach(conn)
	}
}

func rejectSubscribe(conn *websocket.Conn, message string) {
	payload, _ := json.Marshal(instance.ErrorFrame{Type: "error", Message: message})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.WriteMessage(websocket.TextMessage, payload)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(time.Second))
	conn.Close()
}
