// Package award executes rewards granted by the achievement service on the
// host. The only kind is "entity": spawn a creature next to the player.
package award

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"badgeup.io/relay/internal/host"
	"badgeup.io/relay/internal/position"
	"badgeup.io/relay/internal/protocol"
)

const TypeEntity = "entity"

// Entity spawns an entity described by award data:
//
//	entityType   required host entity type id
//	position     coordinate spec, default {"x":"~","y":"~","z":"~"}
//	color        optional dye color id
//	displayName  optional, passed through to the host untouched
type Entity struct {
	World  host.World
	Logger *log.Logger
}

// Grant resolves data against player and asks the world to spawn the entity.
func (e *Entity) Grant(ctx context.Context, player host.Player, data map[string]any) error {
	spawn, err := e.plan(player, data)
	if err != nil {
		return err
	}
	if err := e.World.SpawnEntity(ctx, spawn); err != nil {
		return fmt.Errorf("spawn %s: %w", spawn.EntityType, err)
	}
	return nil
}

func (e *Entity) plan(player host.Player, data map[string]any) (host.Spawn, error) {
	raw, ok := data["entityType"]
	if !ok || raw == nil {
		return host.Spawn{}, protocol.Errorf(protocol.ErrMissingField, "entityType", "entity award without entityType")
	}
	typ, ok := raw.(string)
	if !ok || typ == "" {
		return host.Spawn{}, protocol.Errorf(protocol.ErrMalformedValue, "entityType", "want non-empty string, got %T", raw)
	}
	if !e.World.LookupEntityType(typ) {
		return host.Spawn{}, protocol.Errorf(protocol.ErrLookupNotFound, "entityType", "unknown entity type %q", typ)
	}

	spec := position.DefaultSpec()
	if p, ok := data["position"]; ok && p != nil {
		m, ok := p.(map[string]any)
		if !ok {
			return host.Spawn{}, protocol.Errorf(protocol.ErrMalformedValue, "position", "want object, got %T", p)
		}
		spec = m
	}
	at, err := position.Resolve(spec, player.Position())
	if err != nil {
		return host.Spawn{}, fmt.Errorf("entity award position: %w", err)
	}

	s := host.Spawn{Player: player.ID(), EntityType: typ, Position: at}

	if c, ok := data["color"]; ok && c != nil {
		color, _ := c.(string)
		if color != "" && e.World.LookupDyeColor(color) {
			s.Color = color
		} else {
			e.printf("entity award: unknown color %v for %s, spawning without", c, typ)
		}
	}

	if d, ok := data["displayName"]; ok && d != nil {
		b, err := json.Marshal(d)
		if err != nil {
			return host.Spawn{}, protocol.Wrap(protocol.ErrMalformedValue, "displayName", err)
		}
		s.DisplayName = b
	}
	return s, nil
}

func (e *Entity) printf(format string, args ...any) {
	if e != nil && e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}
