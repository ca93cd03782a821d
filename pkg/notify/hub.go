package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslamotors/bluetooth-policy/internal/log"
)

const hubWriteTimeout = 100 * time.Millisecond

// Hub broadcasts notifications to connected websocket clients. Clients that fail a write are
// dropped.
type Hub struct {
	lock    sync.Mutex
	clients map[*websocket.Conn]bool
	queue   queue
	log     log.Logger
}

func NewHub(queueSize int) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		queue:   newQueue(queueSize),
		log:     log.Tag("hub"),
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.clients[conn] = true
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

func (h *Hub) Publish(n Notification) {
	if !h.queue.push(n) {
		h.log.Warning("Queue full, dropped oldest notification")
	}
}

// Run broadcasts queued notifications until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.queue.run(ctx, h.Broadcast)
}

func (h *Hub) Broadcast(n Notification) {
	h.lock.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.lock.Unlock()

	var wg sync.WaitGroup
	var failedLock sync.Mutex
	var failed []*websocket.Conn
	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			c.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.WriteJSON(n); err != nil {
				failedLock.Lock()
				failed = append(failed, c)
				failedLock.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, conn := range failed {
		h.log.Debug("Dropping client %s", conn.RemoteAddr())
		h.RemoveClient(conn)
	}
}
