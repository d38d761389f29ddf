package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errClosed = errors.New("connection closed")

type fakeConn struct {
	mu     sync.Mutex
	wrote  []Message
	readFn func(v any) error
	closed bool
}

func (f *fakeConn) ReadJSON(v any) error {
	if f.readFn != nil {
		return f.readFn(v)
	}
	select {}
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wrote = append(f.wrote, v.(Message))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.wrote...)
}

func (f *fakeConn) count(event string) int {
	n := 0
	for _, m := range f.messages() {
		if m.Event == event {
			n++
		}
	}
	return n
}

func join(hub *Hub, room, user string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	c := newClient(hub, conn, user)
	hub.Join(room, c)
	return c, conn
}

func TestJoinAnnouncesLiveRoomSize(t *testing.T) {
	hub := NewHub()
	_, conn1 := join(hub, "spc_1", "ada")
	_, conn2 := join(hub, "spc_1", "ben")
	_, conn3 := join(hub, "spc_1", "cyd")

	if hub.RoomSize("spc_1") != 3 {
		t.Fatalf("room size = %d, want 3", hub.RoomSize("spc_1"))
	}

	// The joiner hears its own announcement too.
	last3 := conn3.messages()
	if len(last3) != 1 || last3[0].Event != EventUserJoined || last3[0].TotalConnectedUsers != 3 {
		t.Errorf("third joiner saw %+v", last3)
	}
	// The first member saw all three joins with counts 1, 2, 3.
	msgs := conn1.messages()
	if len(msgs) != 3 {
		t.Fatalf("first member saw %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.TotalConnectedUsers != i+1 {
			t.Errorf("announcement %d carried count %d", i, m.TotalConnectedUsers)
		}
	}
	if msgs[1].User != "ben" || msgs[2].User != "cyd" {
		t.Errorf("announcements carried users %q, %q", msgs[1].User, msgs[2].User)
	}
	_ = conn2
}

func TestRejoinDoesNotInflateCount(t *testing.T) {
	hub := NewHub()
	c, _ := join(hub, "spc_1", "ada")
	hub.Join("spc_1", c)
	hub.Join("spc_1", c)

	if hub.RoomSize("spc_1") != 1 {
		t.Errorf("room size = %d, want 1", hub.RoomSize("spc_1"))
	}
}

func TestLeaveNotifiesRemainingOnly(t *testing.T) {
	hub := NewHub()
	leaver, leaverConn := join(hub, "spc_1", "ada")
	_, conn2 := join(hub, "spc_1", "ben")
	_, conn3 := join(hub, "spc_1", "cyd")

	hub.Leave(leaver)

	if hub.RoomSize("spc_1") != 2 {
		t.Fatalf("room size = %d, want 2", hub.RoomSize("spc_1"))
	}
	for _, conn := range []*fakeConn{conn2, conn3} {
		if got := conn.count(EventUserDisconnected); got != 1 {
			t.Errorf("remaining member saw %d disconnect events, want 1", got)
		}
	}
	if leaverConn.count(EventUserDisconnected) != 0 {
		t.Error("the leaver must not hear its own disconnect")
	}

	msgs := conn2.messages()
	last := msgs[len(msgs)-1]
	if last.User != "ada" {
		t.Errorf("disconnect named %q, want ada", last.User)
	}
}

func TestPublishUpdateExcludesMutator(t *testing.T) {
	hub := NewHub()
	mutator, mutatorConn := join(hub, "spc_1", "ada")
	_, conn2 := join(hub, "spc_1", "ben")
	_, other := join(hub, "spc_2", "zoe")

	hub.PublishUpdate("spc_1", mutator)

	if got := conn2.count(EventSpaceUpdated); got != 1 {
		t.Errorf("other member saw %d update events, want 1", got)
	}
	if mutatorConn.count(EventSpaceUpdated) != 0 {
		t.Error("mutator must not be told to reload its own write")
	}
	if other.count(EventSpaceUpdated) != 0 {
		t.Error("other rooms must not hear the update")
	}
}

func TestPublishUpdateIncludeEveryone(t *testing.T) {
	hub := NewHub()
	_, conn1 := join(hub, "spc_1", "ada")
	_, conn2 := join(hub, "spc_1", "ben")

	hub.PublishUpdate("spc_1", nil)

	for _, conn := range []*fakeConn{conn1, conn2} {
		if got := conn.count(EventSpaceUpdated); got != 1 {
			t.Errorf("member saw %d update events, want 1", got)
		}
	}
}

func TestJoinRoomAcceptsSpaceIDAlias(t *testing.T) {
	hub := NewHub()

	scripted := []Message{{Event: EventJoinRoom, SpaceID: "spc_1", User: "ada"}}
	i := 0
	conn := &fakeConn{}
	conn.readFn = func(v any) error {
		if i >= len(scripted) {
			select {} // keep the session open
		}
		*(v.(*Message)) = scripted[i]
		i++
		return nil
	}
	c := newClient(hub, conn, "")
	go c.readLoop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && hub.RoomSize("spc_1") == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.RoomSize("spc_1") != 1 {
		t.Errorf("room size = %d, want 1", hub.RoomSize("spc_1"))
	}
}

func TestReadLoopRoutesEvents(t *testing.T) {
	hub := NewHub()
	_, watcher := join(hub, "spc_1", "ben")

	scripted := []Message{
		{Event: EventJoinRoom, ID: "spc_1", User: "ada"},
		{Event: EventUpdateSpace, SpaceID: "spc_1"},
	}
	i := 0
	conn := &fakeConn{}
	conn.readFn = func(v any) error {
		if i >= len(scripted) {
			return errClosed
		}
		*(v.(*Message)) = scripted[i]
		i++
		return nil
	}
	c := newClient(hub, conn, "")
	c.readLoop()

	if watcher.count(EventUserJoined) != 2 {
		t.Errorf("watcher saw %d join events, want 2 (own + ada)", watcher.count(EventUserJoined))
	}
	if watcher.count(EventSpaceUpdated) != 1 {
		t.Errorf("watcher saw %d update events, want 1", watcher.count(EventSpaceUpdated))
	}
	if conn.count(EventSpaceUpdated) != 0 {
		t.Error("sender must not hear its own update")
	}
	if watcher.count(EventUserDisconnected) != 1 {
		t.Error("watcher should hear the disconnect when the loop exits")
	}
	if !conn.closed {
		t.Error("connection should be closed after the loop")
	}
	if hub.RoomSize("spc_1") != 1 {
		t.Errorf("room size = %d, want 1", hub.RoomSize("spc_1"))
	}
}
