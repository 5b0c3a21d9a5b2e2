// Package host describes what the relay needs from the game host it serves.
package host

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"badgeup.io/relay/internal/position"
)

// Player is a connected player as seen by the relay.
type Player interface {
	ID() uuid.UUID
	Position() position.Vec3
}

// Spawn asks the host to create an entity next to a player.
type Spawn struct {
	Player      uuid.UUID
	EntityType  string
	Position    position.Vec3
	Color       string
	DisplayName json.RawMessage
}

// World is the host-side registry and entity factory.
type World interface {
	// LookupEntityType reports whether the host knows the entity type id.
	LookupEntityType(id string) bool
	LookupDyeColor(id string) bool
	SpawnEntity(ctx context.Context, s Spawn) error
}

// StaticPlayer is a Player with a fixed position.
type StaticPlayer struct {
	PlayerID uuid.UUID
	At       position.Vec3
}

func (p StaticPlayer) ID() uuid.UUID           { return p.PlayerID }
func (p StaticPlayer) Position() position.Vec3 { return p.At }
