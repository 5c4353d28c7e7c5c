package game

// Inbound envelope. Every client frame is one flat JSON object with a
// "type" discriminator; fields irrelevant to a given type are simply
// absent. Unknown fields are ignored by encoding/json, unknown types are
// dropped by the dispatcher.
type clientMessage struct {
	Type string `json:"type"`

	// create_room / join_room / reconnect
	RoomName   string `json:"room_name"`
	PlayerName string `json:"player_name"`
	PlayerID   string `json:"player_id"`
	RoomID     string `json:"room_id"`
	Token      string `json:"token"`

	// player_ready
	IsReady bool `json:"is_ready"`

	// player_state / enemy_state (partial updates)
	State map[string]any `json:"state"`

	// game_action
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`

	// collect_item
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id"`

	// enemy_* / coin_spawn / sync_entities
	EnemyID string           `json:"enemy_id"`
	Enemy   map[string]any   `json:"enemy"`
	Coin    map[string]any   `json:"coin"`
	Enemies []map[string]any `json:"enemies"`
	Coins   []map[string]any `json:"coins"`

	// chat
	Message string `json:"message"`

	// time_sync
	ClientTime float64 `json:"client_time"`
}

// Outbound messages. One struct per server->client type; the catalog is
// exhaustive so the codec can never emit an untyped frame.

type roomCreatedMsg struct {
	Type           string       `json:"type"` // "room_created"
	RoomID         RoomIDType   `json:"room_id"`
	PlayerID       PlayerIDType `json:"player_id"`
	PlayerNumber   int          `json:"player_number"`
	ReconnectToken string       `json:"reconnect_token"`
	RoomInfo       RoomInfo     `json:"room_info"`
}

type roomJoinedMsg struct {
	Type           string       `json:"type"` // "room_joined"
	RoomID         RoomIDType   `json:"room_id"`
	PlayerID       PlayerIDType `json:"player_id"`
	PlayerNumber   int          `json:"player_number"`
	ReconnectToken string       `json:"reconnect_token"`
	RoomInfo       RoomInfo     `json:"room_info"`
}

type playerJoinedMsg struct {
	Type         string       `json:"type"` // "player_joined"
	PlayerID     PlayerIDType `json:"player_id"`
	PlayerName   string       `json:"player_name"`
	PlayerNumber int          `json:"player_number"`
	RoomInfo     RoomInfo     `json:"room_info"`
}

// playerLeftMsg doubles as "player_left" and "player_disconnected"
// depending on whether reconnection is allowed.
type playerLeftMsg struct {
	Type         string       `json:"type"`
	PlayerID     PlayerIDType `json:"player_id"`
	PlayerName   string       `json:"player_name"`
	CanReconnect bool         `json:"can_reconnect"`
	RoomInfo     RoomInfo     `json:"room_info"`
}

type playerReconnectedMsg struct {
	Type       string       `json:"type"` // "player_reconnected"
	PlayerID   PlayerIDType `json:"player_id"`
	PlayerName string       `json:"player_name"`
	RoomInfo   RoomInfo     `json:"room_info"`
}

type playerReadyChangedMsg struct {
	Type     string       `json:"type"` // "player_ready_changed"
	PlayerID PlayerIDType `json:"player_id"`
	IsReady  bool         `json:"is_ready"`
	RoomInfo RoomInfo     `json:"room_info"`
}

type playerStateUpdateMsg struct {
	Type     string         `json:"type"` // "player_state_update"
	PlayerID PlayerIDType   `json:"player_id"`
	State    map[string]any `json:"state"`
}

type gameActionMsg struct {
	Type     string         `json:"type"` // "game_action"
	PlayerID PlayerIDType   `json:"player_id"`
	Action   string         `json:"action"`
	Data     map[string]any `json:"data"`
}

type itemCollectedMsg struct {
	Type        string       `json:"type"` // "item_collected"
	PlayerID    PlayerIDType `json:"player_id"`
	ItemType    string       `json:"item_type"`
	ItemID      string       `json:"item_id"`
	PlayerCoins int          `json:"player_coins"`
	PlayerScore int          `json:"player_score"`
}

type itemAlreadyCollectedMsg struct {
	Type   string `json:"type"` // "item_already_collected"
	ItemID string `json:"item_id"`
}

type enemySpawnedMsg struct {
	Type  string     `json:"type"` // "enemy_spawned"
	Enemy EnemyState `json:"enemy"`
}

type enemyStateUpdateMsg struct {
	Type    string         `json:"type"` // "enemy_state_update"
	EnemyID string         `json:"enemy_id"`
	State   map[string]any `json:"state"`
}

type enemyKilledMsg struct {
	Type     string       `json:"type"` // "enemy_killed"
	EnemyID  string       `json:"enemy_id"`
	KilledBy PlayerIDType `json:"killed_by"`
}

type enemyAlreadyDeadMsg struct {
	Type    string `json:"type"` // "enemy_already_dead"
	EnemyID string `json:"enemy_id"`
}

type coinSpawnedMsg struct {
	Type string    `json:"type"` // "coin_spawned"
	Coin CoinState `json:"coin"`
}

type entitiesSyncMsg struct {
	Type       string       `json:"type"` // "entities_sync"
	Enemies    []EnemyState `json:"enemies"`
	Coins      []CoinState  `json:"coins"`
	SequenceID int64        `json:"sequence_id"`
}

type gameStartingMsg struct {
	Type       string    `json:"type"` // "game_starting"
	GameState  GameState `json:"game_state"`
	SequenceID int64     `json:"sequence_id"`
}

type reconnectedMsg struct {
	Type         string       `json:"type"` // "reconnected"
	RoomID       RoomIDType   `json:"room_id"`
	PlayerID     PlayerIDType `json:"player_id"`
	PlayerNumber int          `json:"player_number"`
	GameState    GameState    `json:"game_state"`
}

type roomLeftMsg struct {
	Type string `json:"type"` // "room_left"
}

type chatMsg struct {
	Type       string       `json:"type"` // "chat"
	PlayerID   PlayerIDType `json:"player_id"`
	PlayerName string       `json:"player_name"`
	Message    string       `json:"message"`
	Timestamp  string       `json:"timestamp"`
}

type pongMsg struct {
	Type string `json:"type"` // "pong"
}

type timeSyncResponseMsg struct {
	Type       string  `json:"type"` // "time_sync_response"
	ClientTime float64 `json:"client_time"`
	ServerTime float64 `json:"server_time"`
	SequenceID int64   `json:"sequence_id"`
}

type errorMsg struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}
