package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/event"
	"auction_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
	wsSendBuffer = 64
)

// wireEvent is the JSON shape of one live market event.
type wireEvent struct {
	Type      string `json:"type"`
	House     uint32 `json:"house"`
	PostingID uint32 `json:"posting_id,omitempty"`
	Item      uint32 `json:"item"`
	Quantity  uint64 `json:"quantity"`
	Amount    uint64 `json:"amount"`
}

type wsClient struct {
	conn  *websocket.Conn
	house domain.HouseID // 0 subscribes to every house
	send  chan []byte
}

// EventHub fans live auction events out to websocket subscribers. It is
// the registry's event sink: Publish releases each pooled event back
// after encoding.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool

	upgrader websocket.Upgrader
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*wsClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Publish encodes and broadcasts one event. Slow subscribers are
// dropped rather than allowed to stall the market tick.
func (h *EventHub) Publish(ev *event.AuctionEvent) {
	msg := wireEvent{
		Type:      ev.Type.String(),
		House:     uint32(ev.House),
		PostingID: ev.PostingID,
		Item:      uint32(ev.Item),
		Quantity:  ev.Quantity,
		Amount:    ev.Amount,
	}
	house := ev.House
	event.ReleaseAuctionEvent(ev)

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	for c := range h.clients {
		if c.house != 0 && c.house != house {
			continue
		}
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades one subscriber connection. The optional house
// query narrows the stream to a single auction house.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	houseID, _ := strconv.ParseUint(r.URL.Query().Get("house"), 10, 32)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &wsClient{
		conn:  conn,
		house: domain.HouseID(houseID),
		send:  make(chan []byte, wsSendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections()
	slog.Info("event subscriber connected",
		slog.Uint64("house", houseID),
		slog.Int("total", total))

	go c.writePump()
	go h.readPump(c)
}

func (h *EventHub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	infra.GlobalMetrics.DecrementConnections()
	_ = c.conn.Close()
}

// readPump discards inbound frames; the stream is one-way. It exists
// to process control frames and detect the peer going away.
func (h *EventHub) readPump(c *wsClient) {
	defer h.drop(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				return
			}
		}
	}
}

// Run serves the event stream on addr until ctx is cancelled.
func (h *EventHub) Run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/events", h)

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("event stream listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
