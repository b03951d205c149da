package rooms

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Outbound buffer per connection
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient is one websocket presence in a room. Implements Conn.
type wsClient struct {
	hub      *Hub
	room     *Room
	conn     *websocket.Conn
	send     chan Message
	done     chan struct{}
	peerID   string
	identity string
}

func (c *wsClient) PeerID() string { return c.peerID }

// Send enqueues a frame, reporting false on a full buffer. The room treats
// false as best-effort loss, the sweeper as an unreachable presence.
func (c *wsClient) Send(msg Message) bool {
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// CloseConn tears down the underlying socket; the pumps unwind from there.
func (c *wsClient) CloseConn() {
	c.conn.Close()
}

// ServeWS upgrades the request and attaches the connection to the
// station's room. The join response (count + now playing) is pushed as the
// first frames on the socket.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, stationID uint, identity string, snapshot *NowPlaying) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ WebSocket upgrade failed: %v", err)
		return
	}

	room := h.Room(stationID)
	client := &wsClient{
		hub:      h,
		room:     room,
		conn:     conn,
		send:     make(chan Message, sendBuffer),
		done:     make(chan struct{}),
		peerID:   uuid.NewString(),
		identity: identity,
	}

	count := room.Join(client, identity)

	go client.writePump()
	go client.readPump()

	// Join snapshot: current count and what is playing right now.
	client.Send(Message{
		Type:      TypeListenerCount,
		StationID: stationID,
		Count:     count,
		Timestamp: time.Now().UTC(),
	})
	if snapshot != nil {
		client.Send(Message{
			Type:      TypeNowPlaying,
			StationID: stationID,
			Now:       snapshot,
			Timestamp: time.Now().UTC(),
		})
	}
}

// readPump pumps inbound frames into the room until the connection dies.
func (c *wsClient) readPump() {
	defer func() {
		c.room.Leave(c)
		c.conn.Close()
		close(c.done)
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️ WebSocket read error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.Send(Message{Type: TypeError, Text: "malformed frame", Timestamp: time.Now().UTC()})
			continue
		}

		switch msg.Type {
		case TypePing:
			c.room.Ping(c)

		case TypeChat:
			if err := c.hub.Chat(c.room.stationID, c.identity, msg.Text); err != nil {
				c.Send(Message{Type: TypeError, Text: "rate limited", Timestamp: time.Now().UTC()})
			}

		case TypeSignal:
			// Relay only; payload stays opaque.
			if !c.room.Signal(c.peerID, msg.To, Message{To: msg.To, Payload: msg.Payload}) {
				c.Send(Message{Type: TypeError, Text: "unknown peer", Timestamp: time.Now().UTC()})
			}

		default:
			c.Send(Message{Type: TypeError, Text: "unknown message type", Timestamp: time.Now().UTC()})
		}
	}
}

// writePump drains the send buffer onto the socket until readPump signals
// the connection is gone.
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
