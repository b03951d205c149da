package rooms

import (
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu     sync.Mutex
	peer   string
	frames []Message
}

func (c *fakeConn) PeerID() string { return c.peer }

func (c *fakeConn) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, msg)
	return true
}

func (c *fakeConn) received(msgType string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.frames {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *tickClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestHub(rate RateCheck) (*Hub, *tickClock) {
	clock := &tickClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	hub := NewHub(25*time.Second, 3, 5*time.Millisecond, rate, nil).WithClock(clock)
	return hub, clock
}

func TestJoinLeaveCounts(t *testing.T) {
	hub, _ := newTestHub(nil)
	room := hub.Room(1)

	a, b := &fakeConn{peer: "a"}, &fakeConn{peer: "b"}

	if count := room.Join(a, "alice"); count != 1 {
		t.Errorf("first join count = %d, want 1", count)
	}
	if count := room.Join(b, "bob"); count != 2 {
		t.Errorf("second join count = %d, want 2", count)
	}

	room.Leave(a)
	if room.Count() != 1 {
		t.Errorf("count after leave = %d, want 1", room.Count())
	}

	// Last leave drops the room from the hub index.
	room.Leave(b)
	if _, ok := hub.Peek(1); ok {
		t.Error("empty room not dropped from hub")
	}
}

func TestChatBroadcast(t *testing.T) {
	hub, _ := newTestHub(nil)
	room := hub.Room(7)

	a, b := &fakeConn{peer: "a"}, &fakeConn{peer: "b"}
	room.Join(a, "alice")
	room.Join(b, "bob")

	if err := hub.Chat(7, "alice", "hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	for _, conn := range []*fakeConn{a, b} {
		got := conn.received(TypeChat)
		if len(got) != 1 || got[0].Text != "hello" || got[0].From != "alice" {
			t.Errorf("conn %s chat frames = %+v", conn.peer, got)
		}
	}
}

func TestChatRateLimited(t *testing.T) {
	allowed := true
	hub, _ := newTestHub(func(author string) bool { return allowed })
	room := hub.Room(7)
	a := &fakeConn{peer: "a"}
	room.Join(a, "alice")

	allowed = false
	if err := hub.Chat(7, "alice", "spam"); err != ErrChatRateLimited {
		t.Errorf("chat under limit: got %v, want ErrChatRateLimited", err)
	}
	if got := a.received(TypeChat); len(got) != 0 {
		t.Errorf("rate-limited chat was still broadcast: %+v", got)
	}
}

func TestSignalTargetsOnePeer(t *testing.T) {
	hub, _ := newTestHub(nil)
	room := hub.Room(3)

	a, b, c := &fakeConn{peer: "a"}, &fakeConn{peer: "b"}, &fakeConn{peer: "c"}
	room.Join(a, "alice")
	room.Join(b, "bob")
	room.Join(c, "carol")

	if !room.Signal("a", "b", Message{Payload: []byte(`{"sdp":"offer"}`)}) {
		t.Fatal("signal to present peer failed")
	}
	if room.Signal("a", "nobody", Message{}) {
		t.Error("signal to absent peer reported success")
	}

	if got := b.received(TypeSignal); len(got) != 1 || got[0].From != "a" {
		t.Errorf("target frames = %+v", got)
	}
	if got := c.received(TypeSignal); len(got) != 0 {
		t.Errorf("bystander received signal frames: %+v", got)
	}
}

func TestListenerCountDebounce(t *testing.T) {
	hub, _ := newTestHub(nil)
	room := hub.Room(9)

	stay := &fakeConn{peer: "stay"}
	room.Join(stay, "stay")
	time.Sleep(20 * time.Millisecond) // drain the join emission

	before := len(stay.received(TypeListenerCount))

	// A burst of churn within one debounce window coalesces into a single
	// emission carrying the final count.
	for i := 0; i < 5; i++ {
		c := &fakeConn{peer: "x"}
		room.Join(c, "x")
		room.Leave(c)
	}
	time.Sleep(20 * time.Millisecond)

	counts := stay.received(TypeListenerCount)
	emitted := counts[before:]
	if len(emitted) != 1 {
		t.Fatalf("burst emitted %d listener_count frames, want 1", len(emitted))
	}
	if emitted[0].Count != 1 {
		t.Errorf("coalesced count = %d, want 1", emitted[0].Count)
	}
}

func TestZombieSweep(t *testing.T) {
	hub, clock := newTestHub(nil)
	room := hub.Room(5)

	fresh, stale := &fakeConn{peer: "fresh"}, &fakeConn{peer: "stale"}
	room.Join(fresh, "fresh")
	room.Join(stale, "stale")

	// Two missed pings: both still counted.
	clock.advance(2 * 25 * time.Second)
	room.Ping(fresh)
	if room.Count() != 2 {
		t.Fatalf("count at two missed pings = %d, want 2", room.Count())
	}

	// Third miss for stale only.
	clock.advance(25*time.Second + time.Second)
	if room.Count() != 1 {
		t.Fatalf("count after three missed pings = %d, want 1", room.Count())
	}

	dead := room.sweepZombies()
	if len(dead) != 1 || dead[0].PeerID() != "stale" {
		t.Fatalf("sweep removed %v, want [stale]", dead)
	}
	if room.Count() != 1 {
		t.Errorf("count after sweep = %d, want 1", room.Count())
	}
}

func TestJoinCountExcludesZombies(t *testing.T) {
	hub, clock := newTestHub(nil)
	room := hub.Room(6)

	stale := &fakeConn{peer: "stale"}
	room.Join(stale, "stale")

	// stale misses three pings before anyone else arrives.
	clock.advance(3*25*time.Second + time.Second)

	fresh := &fakeConn{peer: "fresh"}
	if count := room.Join(fresh, "fresh"); count != 1 {
		t.Errorf("join count with a zombie present = %d, want 1", count)
	}
}
