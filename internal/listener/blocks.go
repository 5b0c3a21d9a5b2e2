// Package listener turns host block changes into event envelopes and hands
// them to the dispatcher.
package listener

import (
	"bytes"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"badgeup.io/relay/internal/event"
)

// Submitter accepts envelopes without blocking. *dispatch.Dispatcher satisfies it.
type Submitter interface {
	Submit(env event.Envelope)
}

// Transaction is one block snapshot pair of a change.
type Transaction struct {
	Original json.RawMessage
	Final    json.RawMessage
}

// BlockChange is a break or place reported by the host. A zero Player means
// the change was not caused by a player.
type BlockChange struct {
	Player       uuid.UUID
	Cancelled    bool
	Transactions []Transaction
	MainHand     json.RawMessage
}

// FistTool is reported as the tool when the player's main hand is empty.
const FistTool = "fist"

type Blocks struct {
	out    Submitter
	logger *log.Logger
}

func NewBlocks(out Submitter, logger *log.Logger) *Blocks {
	return &Blocks{out: out, logger: logger}
}

// OnBreak emits one block:break per transaction. It returns how many
// envelopes were submitted.
func (b *Blocks) OnBreak(c BlockChange) int {
	if skip(c) {
		return 0
	}
	tool := event.F("tool", FistTool)
	if !isEmpty(c.MainHand) {
		tool = event.F("tool", c.MainHand)
	}
	n := 0
	for _, tx := range c.Transactions {
		if b.emit(event.KeyBlockBreak, c.Player, event.F("block", tx.Original), tool) {
			n++
		}
	}
	return n
}

// OnPlace emits one block:place per transaction, carrying the placed block.
func (b *Blocks) OnPlace(c BlockChange) int {
	if skip(c) {
		return 0
	}
	n := 0
	for _, tx := range c.Transactions {
		if b.emit(event.KeyBlockPlace, c.Player, event.F("block", tx.Final)) {
			n++
		}
	}
	return n
}

func (b *Blocks) emit(key string, subject uuid.UUID, fields ...event.Field) bool {
	env, err := event.Build(key, subject, event.Inc(1), fields...)
	if err != nil {
		b.printf("drop %s subject=%s: %v", key, subject, err)
		return false
	}
	b.out.Submit(env)
	return true
}

func skip(c BlockChange) bool {
	return c.Cancelled || c.Player == uuid.Nil
}

func isEmpty(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func (b *Blocks) printf(format string, args ...any) {
	if b != nil && b.logger != nil {
		b.logger.Printf(format, args...)
	}
}
