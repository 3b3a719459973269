package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"civic-issue-tracker/pkg/events"
	"civic-issue-tracker/pkg/middleware"
	"civic-issue-tracker/pkg/response"
)

const clientBuffer = 10

// Hub fans lifecycle events out to connected SSE clients. A slow client
// misses events rather than blocking the others.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan events.LifecycleEvent
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	secret    []byte
	logger    *zap.Logger
	connected prometheus.Gauge
	dropped   prometheus.Counter
}

func NewHub(secret []byte, reg prometheus.Registerer, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan events.LifecycleEvent, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		secret:     secret,
		logger:     logger,
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_connected_clients",
			Help: "Number of open SSE subscriptions",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_dropped_total",
			Help: "Notifications skipped because a client buffer was full",
		}),
	}
	reg.MustRegister(h.connected, h.dropped)
	return h
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.connected.Set(float64(n))
			h.logger.Info("client registered", zap.Int64("user_id", client.UserID), zap.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.connected.Set(float64(n))
			h.logger.Info("client unregistered", zap.Int64("user_id", client.UserID), zap.Int("clients", n))

		case ev := <-h.broadcast:
			note := toNotification(ev)
			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(ev) {
					continue
				}
				select {
				case client.Send <- note:
				default:
					h.dropped.Inc()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues ev for delivery.
func (h *Hub) Publish(ctx context.Context, ev events.LifecycleEvent) error {
	select {
	case h.broadcast <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Consume feeds deliveries into the hub, acking each one once queued.
func (h *Hub) Consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				h.logger.Warn("delivery channel closed")
				return
			}
			var ev events.LifecycleEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				h.logger.Warn("failed to parse lifecycle event", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			if err := h.Publish(ctx, ev); err != nil {
				_ = d.Nack(false, true)
				return
			}
			if err := d.Ack(false); err != nil {
				h.logger.Error("ack failed", zap.Error(err))
			}
		}
	}
}

// Subscribe streams notifications to the caller as server-sent events.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) {
	tokenString := middleware.BearerToken(r)
	if tokenString == "" {
		response.Error(w, http.StatusUnauthorized, "Missing token", "")
		return
	}
	claims, err := middleware.ParseToken(h.secret, tokenString)
	if err != nil {
		h.logger.Warn("invalid token attempt", zap.Error(err))
		response.Error(w, http.StatusUnauthorized, "Invalid token", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Streaming unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := &Client{
		UserID:     claims.UserID,
		Role:       claims.Role,
		Department: claims.Department,
		Send:       make(chan Notification, clientBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		response.Error(w, http.StatusServiceUnavailable, "Shutting down", "")
		return
	case <-r.Context().Done():
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected","message":"Connection established"}`)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case note, ok := <-client.Send:
			if !ok {
				return
			}
			data, err := json.Marshal(note)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
