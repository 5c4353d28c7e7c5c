package game

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// mockConn is an in-memory wsConnection. Tests inject inbound frames on
// the inbound channel and inspect written frames via writes().
type mockConn struct {
	mu      sync.Mutex
	written [][]byte
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-m.inbound:
		return websocket.TextMessage, data, nil
	case <-m.done:
		return 0, nil, errors.New("connection closed")
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if messageType == websocket.TextMessage {
		cp := make([]byte, len(data))
		copy(cp, data)
		m.written = append(m.written, cp)
	}
	return nil
}

func (m *mockConn) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func (m *mockConn) writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]byte, len(m.written))
	copy(cp, m.written)
	return cp
}

// --- helpers ---

const testSecret = "unit-test-secret-key-that-is-long-enough"

func newTestHub() *Hub {
	return NewHub(NewTokenIssuer(testSecret), nil, nil, nil)
}

// newBoundClient returns a client whose frames pile up in c.send; the
// pumps are not running so tests stay single-goroutine unless they opt
// in.
func newBoundClient(h *Hub) *Client {
	return newClient(newMockConn(), h)
}

// drain decodes every frame currently queued on the client.
func drain(t *testing.T, c *Client) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var frame map[string]any
			require.NoError(t, json.Unmarshal(data, &frame))
			out = append(out, frame)
		default:
			return out
		}
	}
}

// frameTypes lists the type discriminators of a frame batch in order.
func frameTypes(frames []map[string]any) []string {
	types := make([]string, 0, len(frames))
	for _, f := range frames {
		types = append(types, f["type"].(string))
	}
	return types
}

// lastOfType returns the last frame with the given type, nil if none.
func lastOfType(frames []map[string]any, msgType string) map[string]any {
	var found map[string]any
	for _, f := range frames {
		if f["type"] == msgType {
			found = f
		}
	}
	return found
}

// createRoom drives the create_room handshake and returns the bound
// client plus the room_created frame.
func createRoom(t *testing.T, h *Hub, playerID, playerName, roomName string) (*Client, map[string]any) {
	t.Helper()
	c := newBoundClient(h)
	h.route(t.Context(), c, &clientMessage{
		Type:       "create_room",
		RoomName:   roomName,
		PlayerName: playerName,
		PlayerID:   playerID,
	})
	frames := drain(t, c)
	created := lastOfType(frames, "room_created")
	require.NotNil(t, created, "expected room_created, got %v", frameTypes(frames))
	return c, created
}

// joinRoom drives the join_room handshake.
func joinRoom(t *testing.T, h *Hub, roomID, playerID, playerName string) (*Client, map[string]any) {
	t.Helper()
	c := newBoundClient(h)
	h.route(t.Context(), c, &clientMessage{
		Type:       "join_room",
		RoomID:     roomID,
		PlayerName: playerName,
		PlayerID:   playerID,
	})
	frames := drain(t, c)
	joined := lastOfType(frames, "room_joined")
	require.NotNil(t, joined, "expected room_joined, got %v", frameTypes(frames))
	return c, joined
}

// startGame readies both members and has the host start; queued frames
// on both clients are drained afterwards.
func startGame(t *testing.T, h *Hub, host, guest *Client) {
	t.Helper()
	h.route(t.Context(), host, &clientMessage{Type: "player_ready", IsReady: true})
	h.route(t.Context(), guest, &clientMessage{Type: "player_ready", IsReady: true})
	h.route(t.Context(), host, &clientMessage{Type: "start_game"})
	hostFrames := drain(t, host)
	require.NotNil(t, lastOfType(hostFrames, "game_starting"), "host should see game_starting, got %v", frameTypes(hostFrames))
	drain(t, guest)
}
