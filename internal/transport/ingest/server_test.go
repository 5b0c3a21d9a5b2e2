package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"badgeup.io/relay/internal/api/apitest"
	"badgeup.io/relay/internal/config"
	"badgeup.io/relay/internal/protocol"
	"badgeup.io/relay/internal/relay"
)

func newRouter(t *testing.T, remote *apitest.Remote, index bool) (http.Handler, *relay.Runtime) {
	t.Helper()
	cfg := config.Defaults()
	cfg.API.BaseURL = remote.BaseURL()
	cfg.API.APIKey = apitest.Key
	cfg.API.Timeout = 2 * time.Second
	cfg.Data.Dir = t.TempDir()
	cfg.Data.OutcomeIndex = index
	rt, err := relay.New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Close(ctx)
	})
	return NewServer(rt, nil).Router(nil), rt
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h, _ := newRouter(t, apitest.NewRemote(t), false)
	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestPostEvent(t *testing.T) {
	remote := apitest.NewRemote(t)
	h, rt := newRouter(t, remote, false)
	player := uuid.NewString()

	rec := do(h, http.MethodPost, "/v1/events", `{
		"type": "BLOCK_PLACE",
		"player_id": "`+player+`",
		"transactions": [{"original": {"type": "air"}, "final": {"type": "torch"}}]
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"submitted":1}`, rec.Body.String())

	require.Eventually(t, func() bool { return len(remote.Events()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, string(remote.Events()[0]), `"block:place"`)
	assert.EqualValues(t, 1, rt.Stats().Dispatch.Submitted)
}

func TestPostEvent_BadRequests(t *testing.T) {
	h, _ := newRouter(t, apitest.NewRemote(t), false)

	cases := map[string]string{
		"not json":    `{`,
		"bad version": `{"type":"BLOCK_BREAK","protocol_version":"9"}`,
		"bad type":    `{"type":"AWARD"}`,
		"bad player":  `{"type":"BLOCK_BREAK","player_id":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/v1/events", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var e protocol.ErrorMsg
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.Equal(t, protocol.TypeError, e.Type)
			assert.NotEmpty(t, e.Code)
		})
	}
}

func TestGetProgress(t *testing.T) {
	remote := apitest.NewRemote(t)
	remote.AddAchievement("ach-1", "First Steps", "")
	subject := uuid.NewString()
	remote.SetProgress(subject, "ach-1", 0.25)
	h, _ := newRouter(t, remote, false)

	rec := do(h, http.MethodGet, "/v1/progress/"+subject, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var m protocol.ProgressMsg
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "First Steps", m.Entries[0].Name)
	assert.Equal(t, "IN_PROGRESS", m.Entries[0].Status)

	remote.SetProgress(subject, "missing", 1)
	rec = do(h, http.MethodGet, "/v1/progress/"+subject, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProgress_RemoteDown(t *testing.T) {
	remote := apitest.NewRemote(t)
	h, _ := newRouter(t, remote, false)
	remote.Srv.Close()

	rec := do(h, http.MethodGet, "/v1/progress/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStatsAndOutcomes(t *testing.T) {
	remote := apitest.NewRemote(t)
	h, _ := newRouter(t, remote, true)
	player := uuid.NewString()

	rec := do(h, http.MethodPost, "/v1/events", `{"type":"BLOCK_BREAK","player_id":"`+player+`","transactions":[{"original":{}}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		rec := do(h, http.MethodGet, "/v1/outcomes?subject="+player, "")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"delivered"`)
	}, 3*time.Second, 20*time.Millisecond)

	rec = do(h, http.MethodGet, "/v1/outcomes/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"block:break":1`)

	rec = do(h, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st relay.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.EqualValues(t, 1, st.Dispatch.Delivered)
}

func TestOutcomesDisabled(t *testing.T) {
	h, _ := newRouter(t, apitest.NewRemote(t), false)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/v1/outcomes", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/v1/outcomes/summary", "").Code)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, httpStatus(protocol.ErrTimeout))
	assert.Equal(t, http.StatusInternalServerError, httpStatus("E_WHATEVER"))
}
