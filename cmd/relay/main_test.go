package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"badgeup.io/relay/internal/api"
	"badgeup.io/relay/internal/api/apitest"
	"badgeup.io/relay/internal/dispatch"
	"badgeup.io/relay/internal/event"
	"badgeup.io/relay/internal/persistence/indexdb"
	plog "badgeup.io/relay/internal/persistence/log"
	"badgeup.io/relay/internal/progress"
	"badgeup.io/relay/internal/protocol"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "progress", "resolve", "drops", "outcomes"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	f := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, f)
	assert.Equal(t, "text", f.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "resolve", "--format", "yaml", "1", "2", "3")
	assert.ErrorContains(t, err, "invalid format")
}

func TestResolve(t *testing.T) {
	out, err := run(t, "resolve", "--at", "10,64,-3", "~5", "~", "3")
	require.NoError(t, err)
	assert.Equal(t, "(15, 64, 3)\n", out)

	out, err = run(t, "resolve", "--format", "json", "--at", "0.5,0,0", "~", "~1.5", "~-2")
	require.NoError(t, err)
	assert.Equal(t, "[0.5,1.5,-2]\n", out)

	_, err = run(t, "resolve", "~abc", "~", "~")
	assert.True(t, protocol.IsCode(err, protocol.ErrMalformedValue), "%v", err)

	_, err = run(t, "resolve", "--at", "1,2", "~", "~", "~")
	assert.ErrorContains(t, err, "--at")
}

func TestRenderProgress_Golden(t *testing.T) {
	entries := []progress.Entry{
		{Progress: api.ProgressRecord{AchievementID: "ach-1", PercentComplete: 1}, Achievement: api.Achievement{ID: "ach-1", Name: "First Steps", Description: "Break a block"}},
		{Progress: api.ProgressRecord{AchievementID: "ach-2", PercentComplete: 0.456}, Achievement: api.Achievement{ID: "ach-2", Name: "Builder"}},
		{Progress: api.ProgressRecord{AchievementID: "ach-3", PercentComplete: 0}, Achievement: api.Achievement{ID: "ach-3", Name: "Explorer", Description: "Visit every biome"}},
	}
	var buf bytes.Buffer
	require.NoError(t, renderProgress(&buf, "text", entries))
	golden(t).Assert(t, "progress_text", buf.Bytes())

	buf.Reset()
	require.NoError(t, renderProgress(&buf, "text", nil))
	assert.Equal(t, "no achievement progress\n", buf.String())
}

func TestProgressCommand(t *testing.T) {
	remote := apitest.NewRemote(t)
	remote.AddAchievement("ach-1", "First Steps", "")
	subject := uuid.NewString()
	remote.SetProgress(subject, "ach-1", 0.5)

	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: "+remote.BaseURL()+"\n  api_key: "+apitest.Key+"\n"), 0o644))
	t.Setenv("BADGEUP_API_KEY", "")
	t.Setenv("BADGEUP_API_URL", "")

	out, err := run(t, "progress", "--config", path, subject)
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS  50%  First Steps\n", out)

	out, err = run(t, "progress", "--config", path, "--format", "json", subject)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"achievement_id":"ach-1","name":"First Steps","percent_complete":0.5,"status":"IN_PROGRESS"}]`, out)
}

func TestDropsCommand_Golden(t *testing.T) {
	dir := t.TempDir()
	j := plog.NewDropJournal(dir, 8, nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	env1, err := event.Build(event.KeyBlockBreak, uuid.MustParse("11111111-1111-4111-8111-111111111111"), event.Inc(1))
	require.NoError(t, err)
	env2, err := event.Build(event.KeyBlockPlace, uuid.MustParse("22222222-2222-4222-8222-222222222222"), event.Inc(1))
	require.NoError(t, err)

	fail := protocol.Wrap(protocol.ErrRemoteFailure, "", errors.New("status=503"))
	j.RecordOutcome(dispatch.Outcome{Envelope: env1, Result: dispatch.Failed, Code: protocol.CodeOf(fail), Err: fail, At: at})
	j.RecordOutcome(dispatch.Outcome{Envelope: env2, Result: dispatch.DroppedFull, At: at.Add(5 * time.Second)})
	require.NoError(t, j.Close())

	out, err := run(t, "drops", "--data", dir)
	require.NoError(t, err)
	golden(t).Assert(t, "drops_text", []byte(out))

	out, err = run(t, "drops", "--data", dir, "--limit", "1", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"result":"failed"`)
	assert.NotContains(t, out, "dropped_full")
}

func TestOutcomesCommand(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "outcomes", "--data", dir)
	assert.ErrorContains(t, err, "no outcome index")

	idx, err := indexdb.OpenSQLite(indexdb.PathFor(dir), nil)
	require.NoError(t, err)
	subject := uuid.New()
	env, err := event.Build(event.KeyBlockBreak, subject, event.Inc(1))
	require.NoError(t, err)
	idx.RecordOutcome(dispatch.Outcome{Envelope: env, Result: dispatch.Delivered, At: time.Now()})
	require.NoError(t, idx.Close())

	out, err := run(t, "outcomes", "--data", dir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"by_result":{"delivered":1},"by_key":{"block:break":1},"last":`+lastField(t, out)+`}`, out)

	out, err = run(t, "outcomes", "recent", "--data", dir, "--subject", subject.String())
	require.NoError(t, err)
	assert.Contains(t, out, `"result":"delivered"`)

	_, err = run(t, "outcomes", "everything", "--data", dir)
	assert.Error(t, err)
}

func lastField(t *testing.T, out string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	return string(m["last"])
}
