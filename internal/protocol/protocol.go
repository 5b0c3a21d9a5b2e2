package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// host -> relay
	TypeHello       = "HELLO"
	TypeBlockBreak  = "BLOCK_BREAK"
	TypeBlockPlace  = "BLOCK_PLACE"
	TypeAward       = "AWARD"
	TypeProgressReq = "PROGRESS_REQ"

	// relay -> host
	TypeWelcome     = "WELCOME"
	TypeSpawnEntity = "SPAWN_ENTITY"
	TypeProgress    = "PROGRESS"
	TypeError       = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
