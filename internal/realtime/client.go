package realtime

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn is the slice of *websocket.Conn the client needs. Tests swap
// in a recording fake.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Client is one websocket session. A client sits in at most one room;
// room membership is owned by the hub and guarded by the hub's mutex.
type Client struct {
	hub  *Hub
	conn wsConn
	user string

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	room string
}

func newClient(hub *Hub, conn wsConn, user string) *Client {
	return &Client{hub: hub, conn: conn, user: user}
}

func (c *Client) send(msg Message) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf(`{"level":"warn","msg":"websocket write failed","user":%q,"error":%q}`, c.user, err.Error())
	}
}

// readLoop handles inbound events until the connection drops, then
// detaches the client from its room.
func (c *Client) readLoop() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Event {
		case EventJoinRoom:
			if msg.User != "" {
				c.user = msg.User
			}
			room := msg.ID
			if room == "" {
				room = msg.SpaceID
			}
			if room != "" {
				c.hub.Join(room, c)
			}
		case EventUpdateSpace:
			// The sender already holds the new state; everyone else
			// reloads.
			if msg.SpaceID != "" {
				c.hub.PublishUpdate(msg.SpaceID, c)
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and runs the session until it drops.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf(`{"level":"warn","msg":"websocket upgrade failed","error":%q}`, err.Error())
			return
		}
		client := newClient(hub, conn, r.URL.Query().Get("user"))
		client.readLoop()
	}
}
