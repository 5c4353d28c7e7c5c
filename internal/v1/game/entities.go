package game

import "fmt"

// pyMod is a modulo whose result is always non-negative, matching the
// death-drop formula's arithmetic for negative coordinates.
func pyMod(a, m int) int {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

// synthesizeDeathDrops mints the deterministic coin drops for a killed
// enemy. The id format and the formula constants are a wire contract
// with the host client: if the host runs the same formula locally its
// coin ids match ours and no duplicate records appear.
func synthesizeDeathDrops(enemy *EnemyState) []*CoinState {
	if enemy.CoinReward <= 0 {
		return nil
	}

	ex := int(enemy.X)
	ey := int(enemy.Y)

	drops := make([]*CoinState, 0, enemy.CoinReward)
	for i := 0; i < enemy.CoinReward; i++ {
		offsetX := pyMod(ex*7+i*13, 61) - 30
		offsetY := pyMod(ey*11+i*17, 21) - 20
		velX := pyMod(ex*3+i*19, 201) - 100
		velY := -200 + pyMod(ey*5+i*23, 101)

		drops = append(drops, &CoinState{
			CoinID:    fmt.Sprintf("coin_drop_%d_%d_%d", ex, ey, i),
			X:         float64(ex + offsetX),
			Y:         float64(ey + offsetY),
			Value:     1,
			VelocityX: float64(velX),
			VelocityY: float64(velY),
		})
	}
	return drops
}

// JSON numbers decode as float64; these helpers coerce the loosely
// typed partial updates coming off the wire.

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	if f, ok := asFloat(v); ok {
		return int(f), true
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// applyPlayerUpdate applies a partial state update to a player record.
// Only known fields are touched; anything else is ignored.
func applyPlayerUpdate(p *PlayerState, update map[string]any) {
	for key, value := range update {
		switch key {
		case "x":
			if f, ok := asFloat(value); ok {
				p.X = f
			}
		case "y":
			if f, ok := asFloat(value); ok {
				p.Y = f
			}
		case "velocity_x":
			if f, ok := asFloat(value); ok {
				p.VelocityX = f
			}
		case "velocity_y":
			if f, ok := asFloat(value); ok {
				p.VelocityY = f
			}
		case "health":
			if n, ok := asInt(value); ok {
				p.Health = n
			}
		case "lives":
			if n, ok := asInt(value); ok {
				p.Lives = n
			}
		case "score":
			if n, ok := asInt(value); ok {
				p.Score = n
			}
		case "skin":
			if s, ok := asString(value); ok {
				p.Skin = s
			}
		case "weapon":
			if s, ok := asString(value); ok {
				p.Weapon = s
			}
		case "is_alive":
			if b, ok := asBool(value); ok {
				p.IsAlive = b
			}
		case "is_ready":
			if b, ok := asBool(value); ok {
				p.IsReady = b
			}
		case "facing_right":
			if b, ok := asBool(value); ok {
				p.FacingRight = b
			}
		case "is_jumping":
			if b, ok := asBool(value); ok {
				p.IsJumping = b
			}
		case "is_shooting":
			if b, ok := asBool(value); ok {
				p.IsShooting = b
			}
		case "checkpoint":
			if n, ok := asInt(value); ok {
				p.Checkpoint = n
			}
		case "coins":
			if n, ok := asInt(value); ok {
				p.Coins = n
			}
		}
	}
}

// applyEnemyUpdate applies a partial state update to an enemy record.
func applyEnemyUpdate(e *EnemyState, update map[string]any) {
	for key, value := range update {
		switch key {
		case "x":
			if f, ok := asFloat(value); ok {
				e.X = f
			}
		case "y":
			if f, ok := asFloat(value); ok {
				e.Y = f
			}
		case "velocity_x":
			if f, ok := asFloat(value); ok {
				e.VelocityX = f
			}
		case "velocity_y":
			if f, ok := asFloat(value); ok {
				e.VelocityY = f
			}
		case "health":
			if n, ok := asInt(value); ok {
				e.Health = n
			}
		case "max_health":
			if n, ok := asInt(value); ok {
				e.MaxHealth = n
			}
		case "is_alive":
			if b, ok := asBool(value); ok {
				e.IsAlive = b
			}
		case "facing_right":
			if b, ok := asBool(value); ok {
				e.FacingRight = b
			}
		case "state":
			if s, ok := asString(value); ok {
				e.State = s
			}
		case "scale":
			if f, ok := asFloat(value); ok {
				e.Scale = f
			}
		}
	}
}

// parseEnemy builds an enemy record from a host-supplied payload,
// filling the documented defaults for anything absent.
func parseEnemy(data map[string]any) *EnemyState {
	e := &EnemyState{
		EnemyType:   "fly",
		Health:      10,
		MaxHealth:   10,
		Scale:       1.0,
		IsAlive:     true,
		FacingRight: true,
		State:       "idle",
	}
	if s, ok := asString(data["enemy_id"]); ok {
		e.EnemyID = s
	}
	if s, ok := asString(data["enemy_type"]); ok {
		e.EnemyType = s
	}
	if f, ok := asFloat(data["x"]); ok {
		e.X = f
	}
	if f, ok := asFloat(data["y"]); ok {
		e.Y = f
	}
	if f, ok := asFloat(data["velocity_x"]); ok {
		e.VelocityX = f
	}
	if f, ok := asFloat(data["velocity_y"]); ok {
		e.VelocityY = f
	}
	if n, ok := asInt(data["health"]); ok {
		e.Health = n
	}
	if n, ok := asInt(data["max_health"]); ok {
		e.MaxHealth = n
	}
	// The host sends coin_reward, older builds sent coinReward.
	if n, ok := asInt(data["coin_reward"]); ok {
		e.CoinReward = n
	} else if n, ok := asInt(data["coinReward"]); ok {
		e.CoinReward = n
	}
	if f, ok := asFloat(data["scale"]); ok {
		e.Scale = f
	}
	if b, ok := asBool(data["facing_right"]); ok {
		e.FacingRight = b
	}
	if s, ok := asString(data["state"]); ok {
		e.State = s
	}
	return e
}

// parseCoin builds a coin record from a host-supplied payload.
func parseCoin(data map[string]any) *CoinState {
	c := &CoinState{Value: 1}
	if s, ok := asString(data["coin_id"]); ok {
		c.CoinID = s
	}
	if f, ok := asFloat(data["x"]); ok {
		c.X = f
	}
	if f, ok := asFloat(data["y"]); ok {
		c.Y = f
	}
	if b, ok := asBool(data["is_collected"]); ok {
		c.IsCollected = b
	}
	if s, ok := asString(data["collected_by"]); ok {
		pid := PlayerIDType(s)
		c.CollectedBy = &pid
	}
	if n, ok := asInt(data["value"]); ok {
		c.Value = n
	}
	if f, ok := asFloat(data["velocity_x"]); ok {
		c.VelocityX = f
	}
	if f, ok := asFloat(data["velocity_y"]); ok {
		c.VelocityY = f
	}
	return c
}
