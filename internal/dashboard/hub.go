package dashboard

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"raffleflow/logger"
	"raffleflow/models"
)

// Hub fans award events out to connected websocket clients. Slow clients are
// dropped rather than allowed to stall the ingestion path.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	log     *logger.Log
}

func newHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]chan []byte),
		log:     logger.GetLogger(),
	}
}

// Publish broadcasts one award event to every connected client.
func (h *Hub) Publish(ev models.AwardEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.WithComponent("dashboard").WithError(err).Warn("failed to marshal award event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.log.WithComponent("dashboard").Warn("dropping slow websocket client")
			close(ch)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for conn, ch := range h.clients {
		close(ch)
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}
