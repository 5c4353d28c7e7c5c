package game

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoomID(t *testing.T) {
	h := newTestHub()
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := map[RoomIDType]bool{}
	for i := 0; i < 50; i++ {
		code := h.generateRoomIDLocked()
		require.Len(t, code, roomCodeLength)
		for _, ch := range code {
			assert.Contains(t, roomCodeAlphabet, string(ch))
		}
		assert.NotContains(t, string(code), "I")
		assert.NotContains(t, string(code), "O")
		assert.NotContains(t, string(code), "0")
		assert.NotContains(t, string(code), "1")
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45, "codes should essentially never collide")
}

func TestNewSeed_Range(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := newSeed()
		assert.GreaterOrEqual(t, s, 1)
		assert.LessOrEqual(t, s, 999999)
	}
}

func TestMintPlayerID(t *testing.T) {
	id := mintPlayerID()
	require.Len(t, id, 16)
	for _, ch := range id {
		assert.Contains(t, "0123456789abcdef", string(ch))
	}
	assert.NotEqual(t, id, mintPlayerID())
}

func TestListAvailable_FiltersStartedAndFull(t *testing.T) {
	h := newTestHub()

	open := h.CreateRoom("open", "p1")
	open.AddPlayer("p1", "One", newBoundClient(h), "t1")

	full := h.CreateRoom("full", "p2")
	full.AddPlayer("p2", "Two", newBoundClient(h), "t2")
	full.AddPlayer("p3", "Three", newBoundClient(h), "t3")

	started := h.CreateRoom("started", "p4")
	started.AddPlayer("p4", "Four", newBoundClient(h), "t4")
	started.mu.Lock()
	started.gameStarted = true
	started.mu.Unlock()

	available := h.ListAvailable()
	require.Len(t, available, 1)
	assert.Equal(t, "open", available[0].RoomName)

	assert.Len(t, h.ListAll(), 3)
}

func TestRoomCleanup_RemovesEmptyRoom(t *testing.T) {
	h := newTestHub()
	h.cleanupGracePeriod = 10 * time.Millisecond

	c := newBoundClient(h)
	room := h.CreateRoom("R", "p1")
	room.AddPlayer("p1", "One", c, "t1")
	roomID := room.ID

	room.RemovePlayer("p1", false)

	assert.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, exists := h.rooms[roomID]
		return !exists
	}, time.Second, 5*time.Millisecond, "empty room should be deleted after the grace period")
}

func TestRoomCleanup_WaitsForReconnectWindow(t *testing.T) {
	h := newTestHub()
	h.cleanupGracePeriod = 10 * time.Millisecond

	room := h.CreateRoom("R", "p1")
	room.AddPlayer("p1", "One", newBoundClient(h), "t1")
	roomID := room.ID

	room.mu.Lock()
	room.gameStarted = true
	room.mu.Unlock()

	// Mid-game drop: the member is salvageable, so the first cleanup
	// firing must reschedule instead of deleting.
	room.RemovePlayer("p1", true)

	time.Sleep(50 * time.Millisecond)
	h.mu.Lock()
	_, exists := h.rooms[roomID]
	_, pending := h.pendingRoomCleanups[roomID]
	h.mu.Unlock()
	assert.True(t, exists, "room survives while a reconnect is possible")
	assert.True(t, pending, "cleanup is rescheduled, not abandoned")
}

func TestGetRoom_CancelsPendingCleanup(t *testing.T) {
	h := newTestHub()
	h.cleanupGracePeriod = time.Hour

	room := h.CreateRoom("R", "p1")
	room.AddPlayer("p1", "One", newBoundClient(h), "t1")
	room.RemovePlayer("p1", false)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, pending := h.pendingRoomCleanups[room.ID]
		return pending
	}, time.Second, 5*time.Millisecond)

	got := h.GetRoom(room.ID)
	require.NotNil(t, got)

	h.mu.Lock()
	_, pending := h.pendingRoomCleanups[room.ID]
	h.mu.Unlock()
	assert.False(t, pending, "lookup cancels the delete timer")
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://game.example.com", "http://localhost:3000"})

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"no origin header", "", true},
		{"allowed origin", "https://game.example.com", true},
		{"allowed localhost", "http://localhost:3000", true},
		{"scheme mismatch", "http://game.example.com", false},
		{"host mismatch", "https://evil.example.com", false},
		{"malformed origin", "://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/room/new", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.allowed, check(req))
		})
	}
}

func TestNewHub_DefaultOrigins(t *testing.T) {
	h := newTestHub()
	require.NotNil(t, h.upgrader.CheckOrigin)

	req := httptest.NewRequest(http.MethodGet, "/ws/room/new", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, h.upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://elsewhere.example.com")
	assert.False(t, h.upgrader.CheckOrigin(req))
}

func TestLobbyHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHub()

	open := h.CreateRoom("open", "p1")
	open.AddPlayer("p1", "One", newBoundClient(h), "t1")

	started := h.CreateRoom("started", "p2")
	started.AddPlayer("p2", "Two", newBoundClient(h), "t2")
	started.mu.Lock()
	started.gameStarted = true
	started.mu.Unlock()

	router := gin.New()
	router.GET("/api/rooms", h.GetAvailableRooms)
	router.GET("/api/rooms/all", h.GetAllRooms)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Rooms []RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, "open", body.Rooms[0].RoomName)
	assert.Equal(t, 2, body.Rooms[0].MaxPlayers)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/all", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Rooms, 2)
}

func TestRoute_UnboundSessionDropsRoomMessages(t *testing.T) {
	h := newTestHub()
	c := newBoundClient(h)

	h.route(t.Context(), c, &clientMessage{Type: "player_ready", IsReady: true})
	assert.Empty(t, drain(t, c))
}

func TestJoinRoom_NotFound(t *testing.T) {
	h := newTestHub()
	c := newBoundClient(h)

	h.route(t.Context(), c, &clientMessage{Type: "join_room", RoomID: "ZZZZZZ", PlayerName: "X"})
	errFrame := lastOfType(drain(t, c), "error")
	require.NotNil(t, errFrame)
	assert.Equal(t, "Room not found", errFrame["message"])
}

func TestJoinRoom_Full(t *testing.T) {
	h := newTestHub()
	_, created := createRoom(t, h, "h", "Host", "R")
	roomID := created["room_id"].(string)
	joinRoom(t, h, roomID, "c", "Client")

	third := newBoundClient(h)
	h.route(t.Context(), third, &clientMessage{Type: "join_room", RoomID: roomID, PlayerID: "x", PlayerName: "X"})
	errFrame := lastOfType(drain(t, third), "error")
	require.NotNil(t, errFrame)
	assert.Contains(t, errFrame["message"], "full")
}

func TestCreateRoom_MintsPlayerID(t *testing.T) {
	h := newTestHub()
	c := newBoundClient(h)
	h.route(t.Context(), c, &clientMessage{Type: "create_room", RoomName: "R", PlayerName: "Anon"})

	created := lastOfType(drain(t, c), "room_created")
	require.NotNil(t, created)
	assert.Len(t, created["player_id"], 16)
	assert.Equal(t, created["player_id"], string(c.playerID))
}
