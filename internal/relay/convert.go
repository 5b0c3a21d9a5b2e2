package relay

import (
	"github.com/google/uuid"

	"badgeup.io/relay/internal/listener"
	"badgeup.io/relay/internal/progress"
	"badgeup.io/relay/internal/protocol"
)

// DecodeBlockChange maps a wire block change to the listener's type. An
// absent player id means the change had no player cause.
func DecodeBlockChange(msg protocol.BlockChangeMsg) (listener.BlockChange, error) {
	c := listener.BlockChange{Cancelled: msg.Cancelled, MainHand: msg.MainHand}
	if msg.PlayerID != "" {
		id, err := uuid.Parse(msg.PlayerID)
		if err != nil {
			return listener.BlockChange{}, protocol.Wrap(protocol.ErrMalformedValue, "player_id", err)
		}
		c.Player = id
	}
	c.Transactions = make([]listener.Transaction, 0, len(msg.Transactions))
	for _, tx := range msg.Transactions {
		c.Transactions = append(c.Transactions, listener.Transaction{Original: tx.Original, Final: tx.Final})
	}
	return c, nil
}

// ProgressEntries renders entries for the wire.
func ProgressEntries(entries []progress.Entry) []protocol.ProgressEntry {
	out := make([]protocol.ProgressEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.ProgressEntry{
			AchievementID:   e.Progress.AchievementID,
			Name:            e.Achievement.Name,
			Description:     e.Achievement.Description,
			PercentComplete: e.Progress.PercentComplete,
			Status:          string(e.Status()),
		})
	}
	return out
}
