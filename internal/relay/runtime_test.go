package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"badgeup.io/relay/internal/api/apitest"
	"badgeup.io/relay/internal/config"
	"badgeup.io/relay/internal/host"
	plog "badgeup.io/relay/internal/persistence/log"
	"badgeup.io/relay/internal/progress"
	"badgeup.io/relay/internal/protocol"
)

func newRuntime(t *testing.T, remote *apitest.Remote) (*Runtime, config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.API.BaseURL = remote.BaseURL()
	cfg.API.APIKey = apitest.Key
	cfg.API.Timeout = 2 * time.Second
	cfg.Data.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())
	rt, err := New(cfg, nil, nil)
	require.NoError(t, err)
	return rt, cfg
}

func closeRuntime(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Close(ctx))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	cfg := config.Defaults()
	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestRuntime_BlockBreakIsDelivered(t *testing.T) {
	remote := apitest.NewRemote(t)
	rt, _ := newRuntime(t, remote)
	player := uuid.New()

	n, err := rt.BlockChange(protocol.BlockChangeMsg{
		Type:         protocol.TypeBlockBreak,
		PlayerID:     player.String(),
		Transactions: []protocol.BlockTransaction{{Original: json.RawMessage(`{"type":"minecraft:stone"}`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	closeRuntime(t, rt)

	events := remote.Events()
	require.Len(t, events, 1)
	assert.JSONEq(t, `{
		"key": "block:break",
		"subject": "`+player.String()+`",
		"modifier": {"@inc": 1},
		"data": {"block": {"type": "minecraft:stone"}, "tool": "fist"}
	}`, string(events[0]))
}

func TestRuntime_BlockChangeErrors(t *testing.T) {
	rt, _ := newRuntime(t, apitest.NewRemote(t))
	defer closeRuntime(t, rt)

	_, err := rt.BlockChange(protocol.BlockChangeMsg{Type: protocol.TypeBlockBreak, PlayerID: "not-a-uuid"})
	assert.True(t, protocol.IsCode(err, protocol.ErrMalformedValue))

	_, err = rt.BlockChange(protocol.BlockChangeMsg{Type: "BLOCK_EXPLODE", PlayerID: uuid.NewString()})
	assert.True(t, protocol.IsCode(err, protocol.ErrProtoBadRequest))

	n, err := rt.BlockChange(protocol.BlockChangeMsg{Type: protocol.TypeBlockPlace, Transactions: []protocol.BlockTransaction{{}}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRuntime_FailedDeliveryIsJournaledAndIndexed(t *testing.T) {
	remote := apitest.NewRemote(t)
	remote.FailEvents.Store(true)
	rt, cfg := newRuntime(t, remote)

	_, err := rt.BlockChange(protocol.BlockChangeMsg{
		Type:         protocol.TypeBlockPlace,
		PlayerID:     uuid.NewString(),
		Transactions: []protocol.BlockTransaction{{Final: json.RawMessage(`{"type":"torch"}`)}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rt.Stats().Dispatch.Failed == 1 }, 3*time.Second, 10*time.Millisecond)
	closeRuntime(t, rt)
	assert.Empty(t, remote.Events())

	var drops []plog.DropRecord
	require.NoError(t, plog.ReadDrops(cfg.Data.Dir, func(r plog.DropRecord) error {
		drops = append(drops, r)
		return nil
	}))
	require.Len(t, drops, 1)
	assert.Equal(t, protocol.ErrRemoteFailure, drops[0].Code)
	assert.Equal(t, "block:place", drops[0].Key)
}

func TestRuntime_ProgressSharesAchievementFetches(t *testing.T) {
	remote := apitest.NewRemote(t)
	remote.AddAchievement("ach-1", "First Steps", "Break a block")
	remote.AddAchievement("ach-2", "Builder", "")
	alice, bob := uuid.NewString(), uuid.NewString()
	remote.SetProgress(alice, "ach-1", 1, "ach-2", 0.5, "ach-1", 1)
	remote.SetProgress(bob, "ach-2", 0)

	rt, _ := newRuntime(t, remote)
	defer closeRuntime(t, rt)

	entries, err := rt.Progress(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "First Steps", entries[0].Achievement.Name)
	assert.Equal(t, progress.StatusComplete, entries[0].Status())
	assert.Equal(t, progress.StatusInProgress, entries[1].Status())

	entries, err = rt.Progress(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, progress.StatusNone, entries[0].Status())

	assert.Equal(t, 1, remote.AchievementCalls("ach-1"))
	assert.Equal(t, 1, remote.AchievementCalls("ach-2"))

	wire := ProgressEntries(entries)
	assert.Equal(t, []protocol.ProgressEntry{{AchievementID: "ach-2", Name: "Builder", Status: "NONE"}}, wire)

	empty, err := rt.Progress(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRuntime_ProgressUnknownAchievement(t *testing.T) {
	remote := apitest.NewRemote(t)
	subject := uuid.NewString()
	remote.SetProgress(subject, "ghost", 0.1)
	rt, _ := newRuntime(t, remote)
	defer closeRuntime(t, rt)

	_, err := rt.Progress(context.Background(), subject)
	assert.True(t, protocol.IsCode(err, protocol.ErrLookupNotFound), "%v", err)
}

type world struct{ spawned []host.Spawn }

func (w *world) LookupEntityType(id string) bool { return id == "minecraft:pig" }
func (w *world) LookupDyeColor(id string) bool   { return false }
func (w *world) SpawnEntity(ctx context.Context, s host.Spawn) error {
	w.spawned = append(w.spawned, s)
	return nil
}

func TestRuntime_Grant(t *testing.T) {
	rt, _ := newRuntime(t, apitest.NewRemote(t))
	defer closeRuntime(t, rt)
	w := &world{}
	player := uuid.NewString()

	err := rt.Grant(context.Background(), w, protocol.AwardMsg{
		PlayerID: player,
		Position: [3]float64{1, 2, 3},
		Award:    protocol.AwardSpec{Type: "entity", Data: map[string]any{"entityType": "minecraft:pig"}},
	})
	require.NoError(t, err)
	require.Len(t, w.spawned, 1)
	assert.Equal(t, [3]float64{1, 2, 3}, w.spawned[0].Position.Array())

	err = rt.Grant(context.Background(), w, protocol.AwardMsg{PlayerID: player, Award: protocol.AwardSpec{Type: "title"}})
	assert.True(t, protocol.IsCode(err, protocol.ErrLookupNotFound))

	err = rt.Grant(context.Background(), w, protocol.AwardMsg{PlayerID: player})
	assert.True(t, protocol.IsCode(err, protocol.ErrMissingField))

	err = rt.Grant(context.Background(), w, protocol.AwardMsg{PlayerID: "nope", Award: protocol.AwardSpec{Type: "entity"}})
	assert.True(t, protocol.IsCode(err, protocol.ErrMalformedValue))
}
