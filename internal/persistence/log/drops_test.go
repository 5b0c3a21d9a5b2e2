package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"badgeup.io/relay/internal/dispatch"
	"badgeup.io/relay/internal/event"
	"badgeup.io/relay/internal/protocol"
)

func envelope(t *testing.T, key string) event.Envelope {
	t.Helper()
	env, err := event.Build(key, uuid.New(), event.Inc(1), event.F("block", map[string]string{"type": "stone"}))
	require.NoError(t, err)
	return env
}

func TestDropJournal_RecordsOnlyUndelivered(t *testing.T) {
	dir := t.TempDir()
	j := NewDropJournal(dir, 8, nil)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	failed := envelope(t, event.KeyBlockBreak)
	j.RecordOutcome(dispatch.Outcome{Envelope: envelope(t, event.KeyBlockPlace), Result: dispatch.Delivered, At: at})
	j.RecordOutcome(dispatch.Outcome{
		Envelope: failed,
		Result:   dispatch.Failed,
		Code:     protocol.ErrRemoteFailure,
		Err:      errors.New("status=503"),
		At:       at,
	})
	j.RecordOutcome(dispatch.Outcome{Envelope: envelope(t, event.KeyBlockPlace), Result: dispatch.DroppedFull, At: at})
	require.NoError(t, j.Close())

	var got []DropRecord
	require.NoError(t, ReadDrops(dir, func(r DropRecord) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), j.Written())
	assert.Zero(t, j.Lost())

	assert.Equal(t, "failed", got[0].Result)
	assert.Equal(t, protocol.ErrRemoteFailure, got[0].Code)
	assert.Equal(t, "status=503", got[0].Error)
	assert.Equal(t, failed.Subject().String(), got[0].Subject)
	assert.True(t, at.Equal(got[0].At))
	want, err := failed.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got[0].Envelope))

	assert.Equal(t, "dropped_full", got[1].Result)
	assert.Equal(t, event.KeyBlockPlace, got[1].Key)
}

func TestDropJournal_AfterCloseIsLost(t *testing.T) {
	j := NewDropJournal(t.TempDir(), 1, nil)
	require.NoError(t, j.Close())
	j.RecordOutcome(dispatch.Outcome{Envelope: envelope(t, event.KeyBlockBreak), Result: dispatch.Rejected})
	assert.Equal(t, uint64(1), j.Lost())
	require.NoError(t, j.Close())
}

func TestReadDrops_MissingDir(t *testing.T) {
	n := 0
	require.NoError(t, ReadDrops(filepath.Join(t.TempDir(), "nope"), func(DropRecord) error { n++; return nil }))
	assert.Zero(t, n)
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	now := time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.NoError(t, w.Write(map[string]int{"n": 1}))
	now = now.Add(2 * time.Minute)
	require.NoError(t, w.Write(map[string]int{"n": 2}))
	require.NoError(t, w.Write(map[string]int{"n": 3}))
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"x-2026-03-01-09.jsonl.zst", "x-2026-03-01-10.jsonl.zst"}, names)

	var lines []string
	require.NoError(t, ReadJSONL(dir, "x", func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	}))
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, lines)
}
