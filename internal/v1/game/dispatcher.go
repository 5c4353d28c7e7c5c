package game

import (
	"context"
	"fmt"
	"time"

	"github.com/jumpjumpjump/backend/go/internal/v1/logging"
	"github.com/jumpjumpjump/backend/go/internal/v1/metrics"
	"go.uber.org/zap"
)

// dispatch routes one in-room message. The write lock is taken once here
// and held for the whole handler, so each message's effects are a single
// critical section; handlers below assume the lock is held.
//
// Host-only actions from a non-host are dropped silently, except
// start_game which answers with an explicit error to aid UX.
func (r *Room) dispatch(ctx context.Context, c *Client, msg *clientMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	isHost := c.playerID == r.hostID

	switch msg.Type {
	case "player_ready":
		r.handleReadyLocked(c, msg.IsReady)

	case "player_state":
		r.handlePlayerStateLocked(c, msg.State)

	case "game_action":
		r.handleGameActionLocked(c, isHost, msg.Action, msg.Data)

	case "collect_item":
		r.handleCollectItemLocked(c, msg.ItemType, msg.ItemID)

	case "enemy_state":
		r.handleEnemyStateLocked(c, msg.EnemyID, msg.State)

	case "enemy_spawn":
		if !isHost {
			return
		}
		r.handleEnemySpawnLocked(msg.Enemy)

	case "enemy_killed":
		r.handleEnemyKilledLocked(c, msg.EnemyID)

	case "coin_spawn":
		if !isHost {
			return
		}
		r.handleCoinSpawnLocked(msg.Coin)

	case "sync_entities":
		if !isHost {
			return
		}
		r.handleSyncEntitiesLocked(c, msg.Enemies, msg.Coins)

	case "start_game":
		r.handleStartGameLocked(c, isHost)

	case "chat":
		r.handleChatLocked(c, msg.Message)

	case "leave_room":
		r.sendToPlayerLocked(c.playerID, roomLeftMsg{Type: "room_left"})
		r.removePlayerLocked(c.playerID, false)

	case "time_sync":
		// Echo with the current (not incremented) sequence so clients
		// can order it against real authoritative broadcasts.
		r.sendToPlayerLocked(c.playerID, timeSyncResponseMsg{
			Type:       "time_sync_response",
			ClientTime: msg.ClientTime,
			ServerTime: nowMillis(),
			SequenceID: r.sequenceID,
		})

	default:
		logging.Debug(ctx, "Ignoring unknown message type",
			zap.String("type", msg.Type), zap.String("playerId", string(c.playerID)))
	}
}

func (r *Room) handleReadyLocked(c *Client, isReady bool) {
	p, ok := r.players[c.playerID]
	if !ok {
		return
	}
	p.IsReady = isReady
	r.broadcastLocked(playerReadyChangedMsg{
		Type:     "player_ready_changed",
		PlayerID: c.playerID,
		IsReady:  isReady,
		RoomInfo: r.roomInfoLocked(),
	}, "")
}

func (r *Room) handlePlayerStateLocked(c *Client, state map[string]any) {
	if p, ok := r.players[c.playerID]; ok {
		applyPlayerUpdate(p, state)
	}
	// Relay the sender's payload verbatim to the other member.
	r.broadcastLocked(playerStateUpdateMsg{
		Type:     "player_state_update",
		PlayerID: c.playerID,
		State:    state,
	}, c.playerID)
}

func (r *Room) handleGameActionLocked(c *Client, isHost bool, action string, data map[string]any) {
	// assist is a host-authoritative teleport of the target player; the
	// resulting position is broadcast to everyone, sender included, so
	// all simulations converge.
	if action == "assist" && isHost {
		if targetID, ok := asString(data["target_player_id"]); ok {
			if target, exists := r.players[PlayerIDType(targetID)]; exists {
				update := map[string]any{}
				if x, ok := asFloat(data["x"]); ok {
					target.X = x
					update["x"] = x
				}
				if y, ok := asFloat(data["y"]); ok {
					target.Y = y
					update["y"] = y
				}
				if len(update) > 0 {
					r.broadcastLocked(playerStateUpdateMsg{
						Type:     "player_state_update",
						PlayerID: PlayerIDType(targetID),
						State:    update,
					}, "")
				}
			}
		}
	}

	r.broadcastLocked(gameActionMsg{
		Type:     "game_action",
		PlayerID: c.playerID,
		Action:   action,
		Data:     data,
	}, c.playerID)
}

// handleCollectItemLocked implements the at-most-once collection
// guarantee: check-then-insert against the collected set, all under the
// room lock, so exactly one concurrent collector wins.
func (r *Room) handleCollectItemLocked(c *Client, itemType, itemID string) {
	collected := r.collectedCoins
	if itemType == "powerup" {
		collected = r.collectedPowerups
	}

	if collected.Has(itemID) {
		metrics.CollectionRacesLost.WithLabelValues(itemType).Inc()
		r.sendToPlayerLocked(c.playerID, itemAlreadyCollectedMsg{
			Type:   "item_already_collected",
			ItemID: itemID,
		})
		return
	}
	collected.Insert(itemID)

	if itemType == "coin" {
		if coin, ok := r.coins[itemID]; ok {
			coin.IsCollected = true
			pid := c.playerID
			coin.CollectedBy = &pid
		}
	}

	playerCoins, playerScore := 0, 0
	if p, ok := r.players[c.playerID]; ok {
		if itemType == "coin" {
			p.Coins++
			p.Score += 10
		}
		playerCoins = p.Coins
		playerScore = p.Score
	}

	r.broadcastLocked(itemCollectedMsg{
		Type:        "item_collected",
		PlayerID:    c.playerID,
		ItemType:    itemType,
		ItemID:      itemID,
		PlayerCoins: playerCoins,
		PlayerScore: playerScore,
	}, "")
}

func (r *Room) handleEnemyStateLocked(c *Client, enemyID string, state map[string]any) {
	if e, ok := r.enemies[enemyID]; ok {
		applyEnemyUpdate(e, state)
	}
	r.broadcastLocked(enemyStateUpdateMsg{
		Type:    "enemy_state_update",
		EnemyID: enemyID,
		State:   state,
	}, c.playerID)
}

func (r *Room) handleEnemySpawnLocked(data map[string]any) {
	enemy := parseEnemy(data)
	if enemy.EnemyID == "" {
		enemy.EnemyID = fmt.Sprintf("enemy_%d", r.entitySpawnCounter)
	}
	r.entitySpawnCounter++
	r.enemies[enemy.EnemyID] = enemy

	r.broadcastLocked(enemySpawnedMsg{Type: "enemy_spawned", Enemy: *enemy}, "")
}

// handleEnemyKilledLocked performs the atomic kill. Exactly one sender
// wins the race; the winner's broadcast is followed by the deterministic
// death drops so every client animates the same coins.
func (r *Room) handleEnemyKilledLocked(c *Client, enemyID string) {
	enemy, ok := r.enemies[enemyID]
	if !ok || !enemy.IsAlive {
		metrics.CollectionRacesLost.WithLabelValues("enemy").Inc()
		r.sendToPlayerLocked(c.playerID, enemyAlreadyDeadMsg{
			Type:    "enemy_already_dead",
			EnemyID: enemyID,
		})
		return
	}

	enemy.IsAlive = false
	enemy.KilledBy = c.playerID
	enemy.State = "dead"

	r.broadcastLocked(enemyKilledMsg{
		Type:     "enemy_killed",
		EnemyID:  enemyID,
		KilledBy: c.playerID,
	}, "")

	for _, coin := range synthesizeDeathDrops(enemy) {
		r.coins[coin.CoinID] = coin
		metrics.CoinDropsMinted.Inc()
		r.broadcastLocked(coinSpawnedMsg{Type: "coin_spawned", Coin: *coin}, "")
	}
}

func (r *Room) handleCoinSpawnLocked(data map[string]any) {
	coin := parseCoin(data)
	if coin.CoinID == "" {
		coin.CoinID = fmt.Sprintf("coin_%d", r.entitySpawnCounter)
	}
	r.entitySpawnCounter++
	r.coins[coin.CoinID] = coin

	r.broadcastLocked(coinSpawnedMsg{Type: "coin_spawned", Coin: *coin}, "")
}

// handleSyncEntitiesLocked lets the host reconcile the authoritative
// registries: enemies are replaced wholesale, coins are added unless
// already collected. Non-host members get the merged result with a
// fresh sequence id.
func (r *Room) handleSyncEntitiesLocked(c *Client, enemies, coins []map[string]any) {
	r.enemies = make(map[string]*EnemyState, len(enemies))
	for i, data := range enemies {
		enemy := parseEnemy(data)
		if enemy.EnemyID == "" {
			enemy.EnemyID = fmt.Sprintf("enemy_%d", r.entitySpawnCounter+i)
		}
		r.enemies[enemy.EnemyID] = enemy
	}

	for _, data := range coins {
		coin := parseCoin(data)
		if coin.CoinID == "" || r.collectedCoins.Has(coin.CoinID) {
			continue
		}
		r.coins[coin.CoinID] = coin
	}

	activeEnemies := make([]EnemyState, 0, len(r.enemies))
	for _, e := range r.enemies {
		if e.IsAlive {
			activeEnemies = append(activeEnemies, *e)
		}
	}
	uncollected := make([]CoinState, 0, len(r.coins))
	for _, coin := range r.coins {
		if !coin.IsCollected {
			uncollected = append(uncollected, *coin)
		}
	}

	r.broadcastLocked(entitiesSyncMsg{
		Type:       "entities_sync",
		Enemies:    activeEnemies,
		Coins:      uncollected,
		SequenceID: r.nextSequenceLocked(),
	}, c.playerID)
}

func (r *Room) handleStartGameLocked(c *Client, isHost bool) {
	if !isHost {
		r.sendToPlayerLocked(c.playerID, errorMsg{Type: "error", Message: "Only the host can start the game"})
		return
	}
	if len(r.players) < r.maxPlayers {
		r.sendToPlayerLocked(c.playerID, errorMsg{Type: "error", Message: "Need 2 players to start"})
		return
	}
	for _, p := range r.players {
		if !p.IsReady {
			r.sendToPlayerLocked(c.playerID, errorMsg{Type: "error", Message: "All players must be ready"})
			return
		}
	}

	r.gameStarted = true
	ts := nowMillis() + 500
	r.gameStartTimestamp = &ts

	seq := r.nextSequenceLocked()
	r.broadcastLocked(gameStartingMsg{
		Type:       "game_starting",
		GameState:  r.gameStateLocked(),
		SequenceID: seq,
	}, "")

	logging.Info(context.Background(), "Game starting",
		zap.String("roomId", string(r.ID)), zap.Int("seed", r.seed), zap.Float64("startAt", ts))
}

func (r *Room) handleChatLocked(c *Client, message string) {
	// Chat exists for mid-game coordination only; lobby chatter is
	// dropped and never retained.
	if !r.gameStarted {
		return
	}
	p, ok := r.players[c.playerID]
	if !ok {
		return
	}

	entry := ChatEntry{
		PlayerID:   c.playerID,
		PlayerName: p.PlayerName,
		Message:    message,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	r.chatHistory = append(r.chatHistory, entry)
	if len(r.chatHistory) > maxChatHistoryLength {
		r.chatHistory = r.chatHistory[len(r.chatHistory)-maxChatHistoryLength:]
	}

	r.broadcastLocked(chatMsg{
		Type:       "chat",
		PlayerID:   entry.PlayerID,
		PlayerName: entry.PlayerName,
		Message:    entry.Message,
		Timestamp:  entry.Timestamp,
	}, "")
}
