package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kiksy-chat-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// connection wraps a websocket with a buffered outbound queue so that fan-out
// from the hub never writes to the socket concurrently.
type connection struct {
	ws   *websocket.Conn
	info ConnInfo

	send chan models.Event
	stop chan struct{}
	once sync.Once
}

func newConnection(wsConn *websocket.Conn, info ConnInfo) *connection {
	return &connection{
		ws:   wsConn,
		info: info,
		send: make(chan models.Event, sendBuffer),
		stop: make(chan struct{}),
	}
}

// queueEvent enqueues an event for delivery. A connection that cannot keep up
// is dropped rather than blocking the hub.
func (c *connection) queueEvent(ev models.Event) bool {
	select {
	case <-c.stop:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		log.Printf("ws: send buffer full for conn %s, dropping connection", c.info.ConnID)
		c.close()
		return false
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.stop)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

// writePump serializes all socket writes, including keepalive pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev := <-c.send:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("ws: encode event %s: %v", ev.Name, err)
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}
