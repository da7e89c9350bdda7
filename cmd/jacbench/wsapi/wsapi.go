// Package wsapi streams event bus topics over a websocket. A client
// subscribes with /ws?topic=run/<id>&cursor=<seq>; events replay from the
// cursor and then tail live until the client disconnects or the topic is
// dropped.
package wsapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jaseci-llmdocs/jacbench/eventbus"
)

// Register registers web socket handle /ws
type Register interface {
	Register(*gin.Engine)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type wsHandle struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

// New creates new websocket handle
func New(bus *eventbus.Bus, logger *zap.Logger) Register {
	return &wsHandle{bus: bus, logger: logger}
}

func (h *wsHandle) Register(r *gin.Engine) {
	r.GET("/ws", h.handleWS)
}

func (h *wsHandle) handleWS(c *gin.Context) {
	topic := c.Query("topic")
	if topic == "" {
		topic = eventbus.TopicGlobal
	}
	var cursor uint64
	if s := c.Query("cursor"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = v
	}

	sub, err := h.bus.Subscribe(topic, cursor)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}

	// drain client frames so pongs and close frames are processed
	go func() {
		defer conn.Close()
		defer sub.Close()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "topic closed"))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					h.logger.Sugar().Warn("ws write error:", err)
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}
