// Package realtime fans space events out to every connected session of a
// room. Rooms are keyed by space id; messages are JSON over websocket.
package realtime

import (
	"encoding/json"
	"sync"
)

// Wire event names. Clients join a room, hear who else is present, and
// get told when the space behind the room changed.
const (
	EventJoinRoom         = "join room"
	EventUserJoined       = "user joined"
	EventUserDisconnected = "user disconnected"
	EventUpdateSpace      = "update space"
	EventSpaceUpdated     = "space has updated"
)

// Message is the envelope for every event in both directions. The join
// event carries the room under "id"; "spaceId" is accepted as an alias
// for clients that send the update-event shape.
type Message struct {
	Event               string          `json:"event"`
	ID                  string          `json:"id,omitempty"`
	SpaceID             string          `json:"spaceId,omitempty"`
	User                string          `json:"user,omitempty"`
	TotalConnectedUsers int             `json:"totalConnectedUsers,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
}

// Hub tracks which clients sit in which room.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]bool)}
}

// Join adds the client to the room and announces it to every member,
// the joiner included. The reported count is the live room size, so a
// client that reconnects never inflates it.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	if c.room != "" && c.room != room {
		h.removeLocked(c)
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[c] = true
	c.room = room
	targets := h.membersLocked(room)
	count := len(targets)
	h.mu.Unlock()

	msg := Message{
		Event:               EventUserJoined,
		SpaceID:             room,
		User:                c.user,
		TotalConnectedUsers: count,
	}
	for _, member := range targets {
		member.send(msg)
	}
}

// Leave removes the client and tells the remaining members.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	room := c.room
	if room == "" {
		h.mu.Unlock()
		return
	}
	h.removeLocked(c)
	targets := h.membersLocked(room)
	h.mu.Unlock()

	msg := Message{Event: EventUserDisconnected, SpaceID: room, User: c.user}
	for _, member := range targets {
		member.send(msg)
	}
}

// PublishUpdate tells the room the space changed so members reload.
// Pass the mutating client as exclude to spare it a reload of its own
// write; pass nil to include everyone, which is what the forced-flush
// and API-key paths want.
func (h *Hub) PublishUpdate(spaceID string, exclude *Client) {
	h.mu.Lock()
	targets := h.membersLocked(spaceID)
	h.mu.Unlock()

	msg := Message{Event: EventSpaceUpdated, SpaceID: spaceID}
	for _, member := range targets {
		if member == exclude {
			continue
		}
		member.send(msg)
	}
}

// RoomSize reports the number of clients currently in the room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *Hub) removeLocked(c *Client) {
	members, ok := h.rooms[c.room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
	c.room = ""
}

func (h *Hub) membersLocked(room string) []*Client {
	members := h.rooms[room]
	out := make([]*Client, 0, len(members))
	for member := range members {
		out = append(out, member)
	}
	return out
}
