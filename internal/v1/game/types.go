package game

// Wire-level identifiers. Player ids are opaque 16-hex strings, room ids
// are 6-character codes from the reduced alphabet in hub.go.
type (
	RoomIDType   string
	PlayerIDType string
)

// PlayerState is a player's full authoritative state. Field names are the
// wire contract with the frontend and must not change.
type PlayerState struct {
	PlayerID    PlayerIDType `json:"player_id"`
	PlayerName  string       `json:"player_name"`
	X           float64      `json:"x"`
	Y           float64      `json:"y"`
	VelocityX   float64      `json:"velocity_x"`
	VelocityY   float64      `json:"velocity_y"`
	Health      int          `json:"health"`
	Lives       int          `json:"lives"`
	Score       int          `json:"score"`
	Skin        string       `json:"skin"`
	Weapon      string       `json:"weapon"`
	IsAlive     bool         `json:"is_alive"`
	IsReady     bool         `json:"is_ready"`
	FacingRight bool         `json:"facing_right"`
	IsJumping   bool         `json:"is_jumping"`
	IsShooting  bool         `json:"is_shooting"`
	Checkpoint  int          `json:"checkpoint"`
	Coins       int          `json:"coins"`
}

// newPlayerState builds the spawn-time state for a freshly joined player.
// Slot 1 spawns at x=400, slot 2 at x=500, both at y=550.
func newPlayerState(id PlayerIDType, name string, playerNumber int) *PlayerState {
	x := 400.0
	skin := "alienGreen"
	if playerNumber != 1 {
		x = 500.0
		skin = "alienPink"
	}
	return &PlayerState{
		PlayerID:    id,
		PlayerName:  name,
		X:           x,
		Y:           550,
		Health:      100,
		Lives:       3,
		Skin:        skin,
		Weapon:      "raygun",
		IsAlive:     true,
		FacingRight: true,
	}
}

// EnemyState is an enemy record. The host client is the simulation
// authority; the server reconciles identity, death, and coin rewards.
type EnemyState struct {
	EnemyID     string       `json:"enemy_id"`
	EnemyType   string       `json:"enemy_type"`
	X           float64      `json:"x"`
	Y           float64      `json:"y"`
	VelocityX   float64      `json:"velocity_x"`
	VelocityY   float64      `json:"velocity_y"`
	Health      int          `json:"health"`
	MaxHealth   int          `json:"max_health"`
	CoinReward  int          `json:"coin_reward"`
	Scale       float64      `json:"scale"`
	IsAlive     bool         `json:"is_alive"`
	FacingRight bool         `json:"facing_right"`
	State       string       `json:"state"`
	KilledBy    PlayerIDType `json:"killed_by,omitempty"`
}

// CoinState is a coin record. Collection is monotone: once collected a
// coin never becomes collectable again.
type CoinState struct {
	CoinID      string        `json:"coin_id"`
	X           float64       `json:"x"`
	Y           float64       `json:"y"`
	IsCollected bool          `json:"is_collected"`
	CollectedBy *PlayerIDType `json:"collected_by"`
	Value       int           `json:"value"`
	VelocityX   float64       `json:"velocity_x"`
	VelocityY   float64       `json:"velocity_y"`
}

// ChatEntry is one chat message retained in the room's bounded history.
type ChatEntry struct {
	PlayerID   PlayerIDType `json:"player_id"`
	PlayerName string       `json:"player_name"`
	Message    string       `json:"message"`
	Timestamp  string       `json:"timestamp"`
}

// LobbyPlayer is the lobby-shaped projection of a player.
type LobbyPlayer struct {
	PlayerID     PlayerIDType `json:"player_id"`
	PlayerName   string       `json:"player_name"`
	PlayerNumber int          `json:"player_number"`
	IsReady      bool         `json:"is_ready"`
	Skin         string       `json:"skin"`
}

// RoomInfo is the lobby summary for a room, used in membership
// broadcasts and the HTTP lobby listings.
type RoomInfo struct {
	RoomID      RoomIDType   `json:"room_id"`
	RoomName    string       `json:"room_name"`
	HostID      PlayerIDType `json:"host_id"`
	PlayerCount int          `json:"player_count"`
	MaxPlayers  int          `json:"max_players"`
	GameStarted bool         `json:"game_started"`
	Players     []LobbyPlayer `json:"players"`
}

// PlayerSnapshot is a player's state plus their slot number, as carried
// inside the full game-state snapshot.
type PlayerSnapshot struct {
	PlayerState
	PlayerNumber int `json:"player_number"`
}

// GameState is the full snapshot sent on game start and on reconnection.
type GameState struct {
	Seed               int                              `json:"seed"`
	Level              int                              `json:"level"`
	GameMode           string                           `json:"game_mode"`
	ServerTimestamp    float64                          `json:"server_timestamp"`
	GameStartTimestamp *float64                         `json:"game_start_timestamp"`
	SequenceID         int64                            `json:"sequence_id"`
	Players            map[PlayerIDType]PlayerSnapshot  `json:"players"`
	Enemies            []EnemyState                     `json:"enemies"`
	Coins              []CoinState                      `json:"coins"`
	Projectiles        []map[string]any                 `json:"projectiles"`
	CollectedCoins     []string                         `json:"collected_coins"`
	CollectedPowerups  []string                         `json:"collected_powerups"`
	ChatHistory        []ChatEntry                      `json:"chat_history"`
}
