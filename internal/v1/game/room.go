package game

import (
	"context"
	"sync"
	"time"

	"github.com/jumpjumpjump/backend/go/internal/v1/logging"
	"github.com/jumpjumpjump/backend/go/internal/v1/metrics"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

const (
	maxPlayersPerRoom    = 2
	reconnectWindow      = 60 * time.Second
	maxChatHistoryLength = 20
)

// Room is the per-room aggregate: membership, per-player state, the
// enemy and coin registries, collected-item sets, chat ring, sequence
// counter and reconnection table.
//
// Concurrency Design:
// All state is guarded by one read-write mutex. The dispatcher acquires
// the lock once per inbound message and calls xxxLocked methods, so
// every handler's effects (collection sets, kill flags, broadcasts) form
// a single critical section. The single-flight guarantees for
// collect_item and enemy_killed depend on this.
//
// Memory Management:
//   - Chat history is a bounded ring (last 20 messages).
//   - Disconnect retention is cleared lazily on the next access after
//     the 60 second window expires.
//   - The onEmpty callback hands cleanup to the hub once no live and no
//     salvageable disconnected member remains.
type Room struct {
	ID   RoomIDType
	Name string
	mu   sync.RWMutex

	hostID      PlayerIDType
	maxPlayers  int
	createdAt   time.Time
	gameStarted bool
	level       int
	gameMode    string

	players     map[PlayerIDType]*PlayerState
	conns       map[PlayerIDType]*Client
	playerOrder []PlayerIDType // join order, defines slot 1/2

	// Reconnection support. A player id lives in players XOR
	// disconnected, never both.
	disconnected    map[PlayerIDType]*PlayerState
	disconnectTime  map[PlayerIDType]time.Time
	reconnectTokens map[PlayerIDType]string // pre-issued at join

	seed               int
	enemies            map[string]*EnemyState
	coins              map[string]*CoinState
	projectiles        []map[string]any
	entitySpawnCounter int

	gameStartTimestamp *float64 // unix ms, nil until start_game
	sequenceID         int64

	collectedCoins    set.Set[string]
	collectedPowerups set.Set[string]

	chatHistory []ChatEntry

	// Relay queue for cross-pod publishes. A single drainer goroutine
	// empties it so sibling pods observe frames in broadcast order.
	relayQueue  []relayFrame
	relayActive bool

	onEmpty func(RoomIDType)
	bus     BusService
}

// BusService is the optional cross-pod relay for room broadcasts.
// When nil the server runs in single-instance mode.
type BusService interface {
	Publish(ctx context.Context, roomID string, frame []byte, exclude string) error
}

// NewRoom creates a room with a fresh world seed.
func NewRoom(id RoomIDType, name string, hostID PlayerIDType, onEmpty func(RoomIDType), busService BusService) *Room {
	return &Room{
		ID:         id,
		Name:       name,
		hostID:     hostID,
		maxPlayers: maxPlayersPerRoom,
		createdAt:  time.Now(),
		level:      1,
		gameMode:   "online_coop",

		players:     make(map[PlayerIDType]*PlayerState),
		conns:       make(map[PlayerIDType]*Client),
		playerOrder: make([]PlayerIDType, 0, maxPlayersPerRoom),

		disconnected:    make(map[PlayerIDType]*PlayerState),
		disconnectTime:  make(map[PlayerIDType]time.Time),
		reconnectTokens: make(map[PlayerIDType]string),

		seed:        newSeed(),
		enemies:     make(map[string]*EnemyState),
		coins:       make(map[string]*CoinState),
		projectiles: []map[string]any{},

		collectedCoins:    set.New[string](),
		collectedPowerups: set.New[string](),

		onEmpty: onEmpty,
		bus:     busService,
	}
}

// --- membership ---

func (r *Room) isFullLocked() bool { return len(r.players) >= r.maxPlayers }

// LiveCount returns the number of live (connected) members.
func (r *Room) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// playerNumberLocked returns the 1-based slot for a player, 0 if the
// player is not in the join order.
func (r *Room) playerNumberLocked(playerID PlayerIDType) int {
	for i, pid := range r.playerOrder {
		if pid == playerID {
			return i + 1
		}
	}
	return 0
}

// AddPlayer admits a player, assigns their slot and broadcasts
// player_joined. The pre-issued reconnect token is stored so a mid-game
// drop can be recovered later. Returns the slot, or 0 if the room is
// full or the game has already started.
func (r *Room) AddPlayer(playerID PlayerIDType, playerName string, client *Client, token string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isFullLocked() || r.gameStarted {
		return 0
	}

	playerNumber := len(r.playerOrder) + 1
	r.players[playerID] = newPlayerState(playerID, playerName, playerNumber)
	r.conns[playerID] = client
	r.playerOrder = append(r.playerOrder, playerID)
	r.reconnectTokens[playerID] = token

	metrics.RoomPlayers.WithLabelValues(string(r.ID)).Set(float64(len(r.players)))

	r.broadcastLocked(playerJoinedMsg{
		Type:         "player_joined",
		PlayerID:     playerID,
		PlayerName:   playerName,
		PlayerNumber: playerNumber,
		RoomInfo:     r.roomInfoLocked(),
	}, "")

	return playerNumber
}

// RemovePlayer removes a player. With allowReconnect the player's state
// is retained for the grace window and their slot reservation survives.
func (r *Room) RemovePlayer(playerID PlayerIDType, allowReconnect bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePlayerLocked(playerID, allowReconnect)
}

// HandleDisconnect is the read-loop exit path: remove the player with
// reconnection allowed iff the game has started. A session already
// removed (explicit leave or broadcast prune) is a no-op.
func (r *Room) HandleDisconnect(playerID PlayerIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[playerID]; !ok {
		return
	}
	r.removePlayerLocked(playerID, r.gameStarted)
}

func (r *Room) removePlayerLocked(playerID PlayerIDType, allowReconnect bool) {
	playerName := "Unknown"

	if client, ok := r.conns[playerID]; ok {
		// Closing the send channel lets writePump flush and drop the
		// socket; the read loop then exits on its own.
		client.Disconnect()
	}

	if p, ok := r.players[playerID]; ok {
		playerName = p.PlayerName

		if r.gameStarted && allowReconnect {
			r.disconnected[playerID] = p
			r.disconnectTime[playerID] = time.Now()
			// The reconnect token was issued at join and the client
			// already holds it; nothing new to mint here.
		}
		delete(r.players, playerID)
	}
	delete(r.conns, playerID)

	if !allowReconnect {
		r.dropFromOrderLocked(playerID)
		delete(r.reconnectTokens, playerID)
		delete(r.disconnected, playerID)
		delete(r.disconnectTime, playerID)
	}

	// Host promotion: first live member in join order. The join order
	// may still contain the departed host's reservation, so scan for a
	// live player rather than blindly taking the head.
	if playerID == r.hostID {
		for _, pid := range r.playerOrder {
			if _, live := r.players[pid]; live {
				r.hostID = pid
				break
			}
		}
	}

	// A lobby-phase departure invalidates ready states so the room
	// cannot be started on a stale ready.
	if !r.gameStarted {
		for _, p := range r.players {
			p.IsReady = false
		}
	}

	metrics.RoomPlayers.WithLabelValues(string(r.ID)).Set(float64(len(r.players)))

	msgType := "player_left"
	if allowReconnect {
		msgType = "player_disconnected"
	}
	r.broadcastLocked(playerLeftMsg{
		Type:         msgType,
		PlayerID:     playerID,
		PlayerName:   playerName,
		CanReconnect: allowReconnect,
		RoomInfo:     r.roomInfoLocked(),
	}, "")

	if len(r.players) == 0 && r.onEmpty != nil {
		// The hub callback takes the hub lock. It must not run under
		// r.mu: the hub's cleanup timer and Shutdown hold the hub lock
		// while calling back into room methods that take r.mu.
		go r.onEmpty(r.ID)
	}
}

func (r *Room) dropFromOrderLocked(playerID PlayerIDType) {
	for i, pid := range r.playerOrder {
		if pid == playerID {
			r.playerOrder = append(r.playerOrder[:i], r.playerOrder[i+1:]...)
			return
		}
	}
}

// ReconnectPlayer restores a disconnected player if the token matches
// and the grace window has not elapsed. The slot reservation is kept, so
// the player observes the same slot after the round trip. On success the
// restored slot and the full game-state snapshot are returned.
func (r *Room) ReconnectPlayer(playerID PlayerIDType, token string, client *Client) (int, GameState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.reconnectTokens[playerID]
	if !ok || stored != token {
		return 0, GameState{}, false
	}

	if at, ok := r.disconnectTime[playerID]; ok {
		if time.Since(at) > reconnectWindow {
			r.cleanupReconnectDataLocked(playerID)
			return 0, GameState{}, false
		}
	}

	p, ok := r.disconnected[playerID]
	if !ok {
		return 0, GameState{}, false
	}

	r.players[playerID] = p
	r.conns[playerID] = client
	delete(r.disconnected, playerID)
	delete(r.disconnectTime, playerID)

	metrics.RoomPlayers.WithLabelValues(string(r.ID)).Set(float64(len(r.players)))

	r.broadcastLocked(playerReconnectedMsg{
		Type:       "player_reconnected",
		PlayerID:   playerID,
		PlayerName: p.PlayerName,
		RoomInfo:   r.roomInfoLocked(),
	}, "")

	return r.playerNumberLocked(playerID), r.gameStateLocked(), true
}

// cleanupReconnectDataLocked drops an expired reconnect reservation,
// freeing the slot.
func (r *Room) cleanupReconnectDataLocked(playerID PlayerIDType) {
	delete(r.disconnected, playerID)
	delete(r.disconnectTime, playerID)
	delete(r.reconnectTokens, playerID)
	r.dropFromOrderLocked(playerID)
}

// expireReconnectsLocked lazily clears reservations whose window has
// elapsed. There is no background sweeper.
func (r *Room) expireReconnectsLocked() {
	for pid, at := range r.disconnectTime {
		if time.Since(at) > reconnectWindow {
			logging.Info(context.Background(), "Reconnect window expired",
				zap.String("roomId", string(r.ID)), zap.String("playerId", string(pid)))
			r.cleanupReconnectDataLocked(pid)
		}
	}
}

// Removable reports whether the room has no live members and no
// disconnected member who could still come back.
func (r *Room) Removable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireReconnectsLocked()
	return len(r.players) == 0 && len(r.disconnected) == 0
}

// CloseAll disconnects every live session without the usual departure
// broadcasts. The onEmpty callback is disarmed so in-flight read-loop
// exits cannot schedule cleanup for a room being torn down.
func (r *Room) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEmpty = nil
	for pid, client := range r.conns {
		client.Disconnect()
		delete(r.conns, pid)
		delete(r.players, pid)
	}
}

// --- lobby and snapshot projections ---

// RoomInfo returns the lobby summary.
func (r *Room) RoomInfo() RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomInfoLocked()
}

func (r *Room) roomInfoLocked() RoomInfo {
	players := make([]LobbyPlayer, 0, len(r.players))
	for pid, p := range r.players {
		players = append(players, LobbyPlayer{
			PlayerID:     pid,
			PlayerName:   p.PlayerName,
			PlayerNumber: r.playerNumberLocked(pid),
			IsReady:      p.IsReady,
			Skin:         p.Skin,
		})
	}
	return RoomInfo{
		RoomID:      r.ID,
		RoomName:    r.Name,
		HostID:      r.hostID,
		PlayerCount: len(r.players),
		MaxPlayers:  r.maxPlayers,
		GameStarted: r.gameStarted,
		Players:     players,
	}
}

// Joinable reports whether a new player could enter right now.
func (r *Room) Joinable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.gameStarted && !r.isFullLocked()
}

func (r *Room) gameStateLocked() GameState {
	players := make(map[PlayerIDType]PlayerSnapshot, len(r.players))
	for pid, p := range r.players {
		players[pid] = PlayerSnapshot{
			PlayerState:  *p,
			PlayerNumber: r.playerNumberLocked(pid),
		}
	}

	enemies := make([]EnemyState, 0, len(r.enemies))
	for _, e := range r.enemies {
		if e.IsAlive {
			enemies = append(enemies, *e)
		}
	}
	coins := make([]CoinState, 0, len(r.coins))
	for _, c := range r.coins {
		if !c.IsCollected {
			coins = append(coins, *c)
		}
	}

	chat := r.chatHistory
	if len(chat) > maxChatHistoryLength {
		chat = chat[len(chat)-maxChatHistoryLength:]
	}
	chatCopy := make([]ChatEntry, len(chat))
	copy(chatCopy, chat)

	return GameState{
		Seed:               r.seed,
		Level:              r.level,
		GameMode:           r.gameMode,
		ServerTimestamp:    nowMillis(),
		GameStartTimestamp: r.gameStartTimestamp,
		SequenceID:         r.sequenceID,
		Players:            players,
		Enemies:            enemies,
		Coins:              coins,
		Projectiles:        r.projectiles,
		CollectedCoins:     r.collectedCoins.SortedList(),
		CollectedPowerups:  r.collectedPowerups.SortedList(),
		ChatHistory:        chatCopy,
	}
}

// nextSequenceLocked stamps the next authoritative broadcast. Strictly
// monotonic per room.
func (r *Room) nextSequenceLocked() int64 {
	r.sequenceID++
	return r.sequenceID
}

func nowMillis() float64 {
	return float64(time.Now().UnixMilli())
}
