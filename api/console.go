package api

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var upgradeConnection = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleVMConsole godoc
//
//	@Summary		Attach to a VM's live console.
//	@Description	Upgrades to a websocket bridged onto the VM's console socket. Binary frames carry console bytes both ways.
//	@Tags			vm
//	@Success		200
//	@Router			/vm/{id}/console [get]
func (h *handler) HandleVMConsole(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("URL", "/vm/:id/console"))

	sockPath, err := h.registry.ConsoleSocket(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgradeConnection.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		conn.Close()
		zlog.Sugar().Errorf("failed to set websocket upgrade: %v", err)
		return
	}

	bridgeConsole(ws, conn)
}

// bridgeConsole relays bytes between the websocket and the console socket
// until either side drops.
func bridgeConsole(ws *websocket.Conn, conn net.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if _, werr := conn.Write(msg); werr != nil {
				return
			}
		}
	}()

	<-done
	ws.Close()
	conn.Close()
	<-done
}
