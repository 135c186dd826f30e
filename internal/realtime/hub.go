package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"trading/internal/auth"
	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StatusMethod names the client callback carrying purchase status updates.
const StatusMethod = "ReceivePurchaseStatus"

var (
	// ErrHubStopped is returned once Run has exited.
	ErrHubStopped = errors.New("hub stopped")
	// ErrHubBusy is returned when the delivery buffer is full and the update was dropped.
	ErrHubBusy = errors.New("hub delivery buffer full")
)

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Message is the frame written to websocket clients.
type Message struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	userID uuid.UUID
	conn   *websocket.Conn
}

type delivery struct {
	userID uuid.UUID
	data   []byte
}

// Hub tracks websocket clients per user and pushes messages to them.
type Hub struct {
	clients    map[uuid.UUID]map[*client]struct{}
	register   chan *client
	unregister chan *client
	deliver    chan delivery
	done       chan struct{}
	logger     *zap.Logger

	writeTimeout time.Duration
	mu           sync.RWMutex
}

// NewHub constructs a Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:      make(map[uuid.UUID]map[*client]struct{}),
		register:     make(chan *client),
		unregister:   make(chan *client),
		deliver:      make(chan delivery, 64),
		done:         make(chan struct{}),
		logger:       logger,
		writeTimeout: 5 * time.Second,
	}
}

// Run processes register/unregister/deliver events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for userID, conns := range h.clients {
				for c := range conns {
					c.conn.Close()
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*client]struct{})
			}
			h.clients[c.userID][c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.remove(c)
		case d := <-h.deliver:
			h.mu.RLock()
			targets := make([]*client, 0, len(h.clients[d.userID]))
			for c := range h.clients[d.userID] {
				targets = append(targets, c)
			}
			h.mu.RUnlock()
			for _, c := range targets {
				c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
				if err := c.conn.WriteMessage(websocket.TextMessage, d.data); err != nil {
					h.logger.Debug("websocket write failed", zap.String("user_id", c.userID.String()), zap.Error(err))
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
	c.conn.Close()
}

// Connected returns the number of open connections for userID.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Deliver queues data for every connection of userID without blocking.
// Users without connections are skipped silently; a full buffer drops the
// update with ErrHubBusy.
func (h *Hub) Deliver(ctx context.Context, userID uuid.UUID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.deliver <- delivery{userID: userID, data: data}:
		return nil
	default:
		h.logger.Warn("status update dropped", zap.String("user_id", userID.String()))
		return ErrHubBusy
	}
}

// NotifyStatus pushes a purchase snapshot to its owner.
func (h *Hub) NotifyStatus(ctx context.Context, snap saga.Snapshot) error {
	data, err := EncodeStatus(snap)
	if err != nil {
		return err
	}
	return h.Deliver(ctx, snap.UserID, data)
}

// EncodeStatus frames snap as a status message.
func EncodeStatus(snap saga.Snapshot) ([]byte, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	return json.Marshal(Message{Method: StatusMethod, Payload: payload})
}

// Handler upgrades authenticated requests and registers the connection for
// the token's user until the client goes away. With no allowed origins only
// same-host browser origins are accepted; "*" accepts any.
func (h *Hub) Handler(verifier TokenVerifier, allowedOrigins ...string) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := verifier.Verify(auth.RequestToken(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		c := &client{userID: userID, conn: conn}
		select {
		case h.register <- c:
		case <-h.done:
			conn.Close()
			return
		}

		// Clients only listen; reads detect disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}
}

// originChecker returns nil (gorilla's same-host check) when allowed is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(origin), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
