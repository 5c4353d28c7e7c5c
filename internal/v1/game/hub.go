// Package game implements the authoritative session server for the
// cooperative platformer: room lifecycle, the lobby membership state
// machine, the JSON message protocol, deterministic entity identity,
// at-most-once item collection and tokenized reconnection.
//
// The Hub is the central coordinator: it owns the room registry,
// generates room codes, upgrades WebSocket connections, and routes the
// session-binding messages (create_room, join_room, reconnect) before
// handing everything else to the room's dispatcher.
package game

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jumpjumpjump/backend/go/internal/v1/bus"
	"github.com/jumpjumpjump/backend/go/internal/v1/logging"
	"github.com/jumpjumpjump/backend/go/internal/v1/metrics"
	"go.uber.org/zap"
)

// roomCodeAlphabet avoids visually ambiguous characters (no I, O, 0, 1).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// RelayService is the cross-pod broadcast relay. Satisfied by
// *bus.Service; nil means single-instance mode.
type RelayService interface {
	Publish(ctx context.Context, roomID string, frame []byte, exclude string) error
	Subscribe(ctx context.Context, roomID string, wg *sync.WaitGroup, handler func(bus.Envelope))
}

// WSLimiter gates WebSocket upgrades per client IP.
type WSLimiter interface {
	CheckWebSocket(c *gin.Context) bool
}

// Hub is the process-wide room registry.
type Hub struct {
	rooms               map[RoomIDType]*Room
	mu                  sync.Mutex
	pendingRoomCleanups map[RoomIDType]*time.Timer
	busCancels          map[RoomIDType]context.CancelFunc
	cleanupGracePeriod  time.Duration

	tokens   *TokenIssuer
	relay    RelayService
	limiter  WSLimiter
	upgrader websocket.Upgrader
}

// NewHub creates a Hub.
// Parameters:
//   - tokens: reconnect token issuer (required)
//   - relay: optional Redis relay for multi-pod deployments (nil for single-instance mode)
//   - limiter: optional per-IP WebSocket upgrade limiter (nil disables the check)
//   - allowedOrigins: origins accepted at upgrade time (empty falls back to localhost:3000)
func NewHub(tokens *TokenIssuer, relay RelayService, limiter WSLimiter, allowedOrigins []string) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	return &Hub{
		rooms:               make(map[RoomIDType]*Room),
		pendingRoomCleanups: make(map[RoomIDType]*time.Timer),
		busCancels:          make(map[RoomIDType]context.CancelFunc),
		cleanupGracePeriod:  5 * time.Second,
		tokens:              tokens,
		relay:               relay,
		limiter:             limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(allowedOrigins),
			WriteBufferPool: &sync.Pool{
				New: func() any {
					return make([]byte, 4096)
				},
			},
		},
	}
}

// --- registry ---

// generateRoomIDLocked draws codes by rejection sampling until one is
// absent from the registry. With 32^6 codes and tiny room counts the
// expected number of tries is barely above one.
func (h *Hub) generateRoomIDLocked() RoomIDType {
	for {
		b := make([]byte, roomCodeLength)
		for i := range b {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
			if err != nil {
				// crypto/rand failure is unrecoverable
				panic(err)
			}
			b[i] = roomCodeAlphabet[n.Int64()]
		}
		code := RoomIDType(b)
		if _, exists := h.rooms[code]; !exists {
			return code
		}
	}
}

// newSeed draws the per-room world seed from [1, 999999]. Zero is
// reserved and never produced.
func newSeed() int {
	n, err := rand.Int(rand.Reader, big.NewInt(999999))
	if err != nil {
		panic(err)
	}
	return int(n.Int64()) + 1
}

// mintPlayerID generates an opaque 16-hex player id.
func mintPlayerID() PlayerIDType {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return PlayerIDType(hex[:16])
}

// CreateRoom registers a new room with the sender as host.
func (h *Hub) CreateRoom(name string, hostID PlayerIDType) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	roomID := h.generateRoomIDLocked()
	room := NewRoom(roomID, name, hostID, h.scheduleRoomCleanup, h.roomBus())
	h.rooms[roomID] = room
	metrics.ActiveRooms.Inc()

	if h.relay != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.busCancels[roomID] = cancel
		h.relay.Subscribe(ctx, string(roomID), nil, func(env bus.Envelope) {
			room.DeliverRemote(env.Frame, PlayerIDType(env.Exclude))
		})
	}

	logging.Info(context.Background(), "Room created",
		zap.String("roomId", string(roomID)), zap.String("hostId", string(hostID)))
	return room
}

// roomBus adapts the relay for Room's narrower publish-only view.
func (h *Hub) roomBus() BusService {
	if h.relay == nil {
		return nil
	}
	return h.relay
}

// GetRoom returns the room, cancelling any pending cleanup so a
// rejoining player cannot race the delete timer.
func (h *Hub) GetRoom(roomID RoomIDType) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	if timer, pending := h.pendingRoomCleanups[roomID]; pending {
		timer.Stop()
		delete(h.pendingRoomCleanups, roomID)
		logging.Info(context.Background(), "Cancelled pending room cleanup", zap.String("roomId", string(roomID)))
	}
	return room
}

// ListAvailable returns lobby summaries for rooms that are joinable:
// game not started and at least one free slot.
func (h *Hub) ListAvailable() []RoomInfo {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		if room.Joinable() {
			infos = append(infos, room.RoomInfo())
		}
	}
	return infos
}

// ListAll returns every room's lobby summary.
func (h *Hub) ListAll() []RoomInfo {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.RoomInfo())
	}
	return infos
}

// scheduleRoomCleanup is invoked by a room when its last live member
// leaves. Deletion is deferred: first by a short grace period covering
// quick rejoins, then, while salvageable disconnected members remain,
// by the full reconnect window.
func (h *Hub) scheduleRoomCleanup(roomID RoomIDType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scheduleRoomCleanupLocked(roomID, h.cleanupGracePeriod)
}

func (h *Hub) scheduleRoomCleanupLocked(roomID RoomIDType, after time.Duration) {
	if existing, ok := h.pendingRoomCleanups[roomID]; ok {
		existing.Stop()
		delete(h.pendingRoomCleanups, roomID)
	}

	timer := time.AfterFunc(after, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		room, ok := h.rooms[roomID]
		if !ok {
			delete(h.pendingRoomCleanups, roomID)
			return
		}

		if room.Removable() {
			delete(h.rooms, roomID)
			delete(h.pendingRoomCleanups, roomID)
			if cancel, ok := h.busCancels[roomID]; ok {
				cancel()
				delete(h.busCancels, roomID)
			}
			metrics.ActiveRooms.Dec()
			metrics.RoomPlayers.DeleteLabelValues(string(roomID))
			logging.Info(context.Background(), "Removed empty room after grace period", zap.String("roomId", string(roomID)))
			return
		}

		if room.LiveCount() == 0 {
			// Disconnected members may still reconnect; try again once
			// their window has certainly elapsed.
			h.scheduleRoomCleanupLocked(roomID, reconnectWindow)
			return
		}

		// Someone came back, cancel the cleanup.
		delete(h.pendingRoomCleanups, roomID)
	})

	h.pendingRoomCleanups[roomID] = timer
}

// Shutdown disconnects every session, stops pending cleanup timers and
// cancels bus subscriptions. Called once at server shutdown.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID, timer := range h.pendingRoomCleanups {
		timer.Stop()
		delete(h.pendingRoomCleanups, roomID)
	}
	for roomID, cancel := range h.busCancels {
		cancel()
		delete(h.busCancels, roomID)
	}
	for roomID, room := range h.rooms {
		room.CloseAll()
		delete(h.rooms, roomID)
		metrics.ActiveRooms.Dec()
		metrics.RoomPlayers.DeleteLabelValues(string(roomID))
	}

	logging.Info(ctx, "Hub shut down")
	return nil
}

// --- transport ---

// ServeWs upgrades an HTTP request to a WebSocket session. The roomId
// path segment is advisory ("new" for create); actual binding happens
// through the first create_room / join_room / reconnect message.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.limiter != nil && !h.limiter.CheckWebSocket(c) {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	logging.Debug(c.Request.Context(), "Session opened", zap.String("path", c.Param("roomId")))

	client := newClient(conn, h)
	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
}

// checkOrigin matches the Origin header against the configured list by
// scheme and host. Requests without an Origin header are allowed so
// non-browser clients can connect.
func checkOrigin(allowedOrigins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, allowed := range allowedOrigins {
			allowedURL, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
				return true
			}
		}
		return false
	}
}

// AllowedOrigins parses a comma-separated origin list, falling back when
// the list is empty or blank.
func AllowedOrigins(raw string, fallback []string) []string {
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return fallback
	}
	return origins
}

// --- session routing ---

// route interprets one inbound message for a session. The binding
// messages are handled here; everything else requires a bound room and
// is funneled into the room's dispatcher.
func (h *Hub) route(ctx context.Context, c *Client, msg *clientMessage) {
	start := time.Now()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(msg.Type).Observe(time.Since(start).Seconds())
	}()

	switch msg.Type {
	case "create_room":
		h.handleCreateRoom(ctx, c, msg)
	case "join_room":
		h.handleJoinRoom(ctx, c, msg)
	case "reconnect":
		h.handleReconnect(ctx, c, msg)
	case "ping":
		c.sendMessage(pongMsg{Type: "pong"})
	default:
		if c.room == nil {
			logging.Debug(ctx, "Dropping message from unbound session", zap.String("type", msg.Type))
			metrics.WebsocketEvents.WithLabelValues(msg.Type, "unbound").Inc()
			return
		}
		c.room.dispatch(ctx, c, msg)
		if msg.Type == "leave_room" {
			c.room = nil
			c.playerID = ""
		}
	}
	metrics.WebsocketEvents.WithLabelValues(msg.Type, "ok").Inc()
}

func (h *Hub) handleCreateRoom(ctx context.Context, c *Client, msg *clientMessage) {
	if c.room != nil {
		return
	}

	playerID := PlayerIDType(msg.PlayerID)
	if playerID == "" {
		playerID = mintPlayerID()
	}

	room := h.CreateRoom(msg.RoomName, playerID)

	token, err := h.tokens.Issue(room.ID, playerID)
	if err != nil {
		logging.Error(ctx, "Failed to issue reconnect token", zap.Error(err))
		c.sendMessage(errorMsg{Type: "error", Message: "Failed to create room"})
		return
	}

	playerNumber := room.AddPlayer(playerID, msg.PlayerName, c, token)
	c.room = room
	c.playerID = playerID

	c.sendMessage(roomCreatedMsg{
		Type:           "room_created",
		RoomID:         room.ID,
		PlayerID:       playerID,
		PlayerNumber:   playerNumber,
		ReconnectToken: token,
		RoomInfo:       room.RoomInfo(),
	})
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, msg *clientMessage) {
	if c.room != nil {
		return
	}

	room := h.GetRoom(RoomIDType(msg.RoomID))
	if room == nil {
		c.sendMessage(errorMsg{Type: "error", Message: "Room not found"})
		return
	}

	playerID := PlayerIDType(msg.PlayerID)
	if playerID == "" {
		playerID = mintPlayerID()
	}

	token, err := h.tokens.Issue(room.ID, playerID)
	if err != nil {
		logging.Error(ctx, "Failed to issue reconnect token", zap.Error(err))
		c.sendMessage(errorMsg{Type: "error", Message: "Failed to join room"})
		return
	}

	playerNumber := room.AddPlayer(playerID, msg.PlayerName, c, token)
	if playerNumber == 0 {
		c.sendMessage(errorMsg{Type: "error", Message: "Room is full or game already started"})
		return
	}
	c.room = room
	c.playerID = playerID

	c.sendMessage(roomJoinedMsg{
		Type:           "room_joined",
		RoomID:         room.ID,
		PlayerID:       playerID,
		PlayerNumber:   playerNumber,
		ReconnectToken: token,
		RoomInfo:       room.RoomInfo(),
	})
}

func (h *Hub) handleReconnect(ctx context.Context, c *Client, msg *clientMessage) {
	if c.room != nil {
		return
	}

	room := h.GetRoom(RoomIDType(msg.RoomID))
	if room == nil {
		c.sendMessage(errorMsg{Type: "error", Message: "Room not found"})
		return
	}

	playerID := PlayerIDType(msg.PlayerID)
	if err := h.tokens.Verify(msg.Token, room.ID, playerID); err != nil {
		logging.Warn(ctx, "Reconnect with invalid token",
			zap.String("roomId", string(room.ID)), zap.String("playerId", string(playerID)))
		c.sendMessage(errorMsg{Type: "error", Message: "Invalid reconnect token"})
		return
	}

	playerNumber, state, ok := room.ReconnectPlayer(playerID, msg.Token, c)
	if !ok {
		c.sendMessage(errorMsg{Type: "error", Message: "Reconnect failed or window expired"})
		return
	}
	c.room = room
	c.playerID = playerID

	c.sendMessage(reconnectedMsg{
		Type:         "reconnected",
		RoomID:       room.ID,
		PlayerID:     playerID,
		PlayerNumber: playerNumber,
		GameState:    state,
	})
}

// handleSessionClosed runs when a session's read loop exits for any
// reason. A bound session is removed from its room with reconnection
// allowed iff the game has started.
func (h *Hub) handleSessionClosed(c *Client) {
	if c.room != nil {
		c.room.HandleDisconnect(c.playerID)
	}
	c.Disconnect()
}

// --- HTTP lobby reads ---

// GetAvailableRooms handles GET /api/rooms.
func (h *Hub) GetAvailableRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.ListAvailable()})
}

// GetAllRooms handles GET /api/rooms/all.
func (h *Hub) GetAllRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.ListAll()})
}
