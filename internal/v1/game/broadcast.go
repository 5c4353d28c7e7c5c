package game

import (
	"context"
	"encoding/json"

	"github.com/jumpjumpjump/backend/go/internal/v1/logging"
	"go.uber.org/zap"
)

// broadcastLocked fans a message out to every member session except an
// optional excluded id. Sends are best effort: a failed send marks the
// session for pruning, and pruning is deferred until iteration completes
// so the connection map is never mutated mid-range. Pruned members are
// removed with allowReconnect mirroring disconnect semantics.
func (r *Room) broadcastLocked(msg any, exclude PlayerIDType) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal broadcast", zap.Error(err))
		return
	}

	r.deliverLocked(data, exclude)
	r.enqueueRelayLocked(data, exclude)
}

// relayFrame is one pending cross-pod publish.
type relayFrame struct {
	data    []byte
	exclude PlayerIDType
}

// enqueueRelayLocked queues a frame for sibling pods and wakes the
// drainer if idle. Publishing happens off the room lock so a slow or
// broken Redis never stalls the room, but through a single drainer so
// frames leave in broadcast order.
func (r *Room) enqueueRelayLocked(data []byte, exclude PlayerIDType) {
	if r.bus == nil {
		return
	}
	r.relayQueue = append(r.relayQueue, relayFrame{data: data, exclude: exclude})
	if r.relayActive {
		return
	}
	r.relayActive = true
	go r.drainRelay()
}

func (r *Room) drainRelay() {
	for {
		r.mu.Lock()
		if len(r.relayQueue) == 0 {
			r.relayActive = false
			r.mu.Unlock()
			return
		}
		frame := r.relayQueue[0]
		r.relayQueue = r.relayQueue[1:]
		r.mu.Unlock()

		_ = r.bus.Publish(context.Background(), string(r.ID), frame.data, string(frame.exclude))
	}
}

// deliverLocked pushes a marshaled frame to local sessions and prunes
// the ones that fail.
func (r *Room) deliverLocked(data []byte, exclude PlayerIDType) {
	var failed []PlayerIDType
	for pid, client := range r.conns {
		if pid == exclude {
			continue
		}
		if !client.trySend(data) {
			failed = append(failed, pid)
		}
	}

	for _, pid := range failed {
		logging.Warn(context.Background(), "Pruning unreachable session",
			zap.String("roomId", string(r.ID)), zap.String("playerId", string(pid)))
		r.removePlayerLocked(pid, r.gameStarted)
	}
}

// DeliverRemote injects a frame relayed from another pod into the local
// sessions, honoring the original broadcast exclusion.
func (r *Room) DeliverRemote(frame []byte, exclude PlayerIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliverLocked(frame, exclude)
}

// sendToPlayerLocked sends a message to one member. A failed send prunes
// the member like a broadcast failure would.
func (r *Room) sendToPlayerLocked(playerID PlayerIDType, msg any) {
	client, ok := r.conns[playerID]
	if !ok {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal message", zap.Error(err))
		return
	}
	if !client.trySend(data) {
		r.removePlayerLocked(playerID, r.gameStarted)
	}
}

// SendToPlayer is the exported form for callers not already holding the
// room lock.
func (r *Room) SendToPlayer(playerID PlayerIDType, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendToPlayerLocked(playerID, msg)
}
