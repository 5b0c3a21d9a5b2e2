package protocol

import "encoding/json"

// HELLO (host -> relay). The host advertises the registries the relay may
// look things up in; awards never name a type the host did not list.
type HelloMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	HostName        string   `json:"host_name"`
	EntityTypes     []string `json:"entity_types,omitempty"`
	DyeColors       []string `json:"dye_colors,omitempty"`
}

// WELCOME (relay -> host)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// BLOCK_BREAK / BLOCK_PLACE (host -> relay)
type BlockChangeMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	PlayerID        string             `json:"player_id,omitempty"`
	Cancelled       bool               `json:"cancelled,omitempty"`
	Transactions    []BlockTransaction `json:"transactions"`
	MainHand        json.RawMessage    `json:"main_hand,omitempty"`
}

// BlockTransaction carries host block snapshots; the relay never looks inside them.
type BlockTransaction struct {
	Original json.RawMessage `json:"original,omitempty"`
	Final    json.RawMessage `json:"final,omitempty"`
}

// AWARD (host -> relay): a player earned an award that needs a host-side effect.
type AwardMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	PlayerID        string     `json:"player_id"`
	Position        [3]float64 `json:"position"`
	Award           AwardSpec  `json:"award"`
}

type AwardSpec struct {
	Type string         `json:"type"` // "entity"
	Data map[string]any `json:"data"`
}

// SPAWN_ENTITY (relay -> host)
type SpawnEntityMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	PlayerID        string          `json:"player_id"`
	EntityType      string          `json:"entity_type"`
	Position        [3]float64      `json:"position"`
	Color           string          `json:"color,omitempty"`
	DisplayName     json.RawMessage `json:"display_name,omitempty"`
}

// PROGRESS_REQ (host -> relay)
type ProgressReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	PlayerID        string `json:"player_id"`
}

// PROGRESS (relay -> host)
type ProgressMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id"`
	Entries         []ProgressEntry `json:"entries"`
}

type ProgressEntry struct {
	AchievementID   string  `json:"achievement_id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	PercentComplete float64 `json:"percent_complete"`
	Status          string  `json:"status"`
}

// ERROR (relay -> host)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
