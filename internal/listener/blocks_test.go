package listener

import (
	"bytes"
	"encoding/json"
	"log"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"badgeup.io/relay/internal/event"
)

type collect struct{ envs []event.Envelope }

func (c *collect) Submit(env event.Envelope) { c.envs = append(c.envs, env) }

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func field(t *testing.T, env event.Envelope, key string) string {
	t.Helper()
	v, ok := env.Lookup(key)
	require.True(t, ok, "missing %s", key)
	return string(v)
}

func TestOnBreak_OneEnvelopePerTransaction(t *testing.T) {
	out := &collect{}
	b := NewBlocks(out, nil)
	player := uuid.New()

	n := b.OnBreak(BlockChange{
		Player: player,
		Transactions: []Transaction{
			{Original: raw(`{"type":"stone"}`), Final: raw(`{"type":"air"}`)},
			{Original: raw(`{"type":"dirt"}`), Final: raw(`{"type":"air"}`)},
		},
		MainHand: raw(`{"type":"diamond_pickaxe"}`),
	})
	require.Equal(t, 2, n)
	require.Len(t, out.envs, 2)

	env := out.envs[0]
	assert.Equal(t, event.KeyBlockBreak, env.Key())
	assert.Equal(t, player, env.Subject())
	assert.Equal(t, event.Inc(1), env.Modifier())
	assert.JSONEq(t, `{"type":"stone"}`, field(t, env, "block"))
	assert.JSONEq(t, `{"type":"diamond_pickaxe"}`, field(t, env, "tool"))
	assert.JSONEq(t, `{"type":"dirt"}`, field(t, out.envs[1], "block"))
}

func TestOnBreak_EmptyHandIsFist(t *testing.T) {
	for _, hand := range []json.RawMessage{nil, raw("null"), raw("  ")} {
		out := &collect{}
		NewBlocks(out, nil).OnBreak(BlockChange{
			Player:       uuid.New(),
			Transactions: []Transaction{{Original: raw(`{"type":"stone"}`)}},
			MainHand:     hand,
		})
		require.Len(t, out.envs, 1)
		assert.Equal(t, `"fist"`, field(t, out.envs[0], "tool"))
	}
}

func TestOnPlace_CarriesFinalSnapshot(t *testing.T) {
	out := &collect{}
	NewBlocks(out, nil).OnPlace(BlockChange{
		Player:       uuid.New(),
		Transactions: []Transaction{{Original: raw(`{"type":"air"}`), Final: raw(`{"type":"torch"}`)}},
		MainHand:     raw(`{"type":"torch"}`),
	})
	require.Len(t, out.envs, 1)
	env := out.envs[0]
	assert.Equal(t, event.KeyBlockPlace, env.Key())
	assert.JSONEq(t, `{"type":"torch"}`, field(t, env, "block"))
	_, hasTool := env.Lookup("tool")
	assert.False(t, hasTool)
}

func TestSkipsCancelledAndPlayerless(t *testing.T) {
	out := &collect{}
	b := NewBlocks(out, nil)
	tx := []Transaction{{Original: raw(`{}`), Final: raw(`{}`)}}

	assert.Zero(t, b.OnBreak(BlockChange{Player: uuid.New(), Cancelled: true, Transactions: tx}))
	assert.Zero(t, b.OnPlace(BlockChange{Transactions: tx}))
	assert.Empty(t, out.envs)
}

func TestBuildFailureIsLoggedAndSkipped(t *testing.T) {
	var logs bytes.Buffer
	out := &collect{}
	b := NewBlocks(out, log.New(&logs, "", 0))

	n := b.OnPlace(BlockChange{
		Player: uuid.New(),
		Transactions: []Transaction{
			{Final: raw(`{broken`)},
			{Final: raw(`{"type":"sand"}`)},
		},
	})
	assert.Equal(t, 1, n)
	require.Len(t, out.envs, 1)
	assert.JSONEq(t, `{"type":"sand"}`, field(t, out.envs[0], "block"))
	assert.Contains(t, logs.String(), "drop block:place")
}
