// Package apitest runs an in-process stand-in for the remote achievement
// service so packages above api can be tested black-box.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	Key    = "test-key"
	prefix = "/v2/apps/test"
)

// Remote serves POST /events, GET /achievements/<id> and a paginated
// GET /progress under one app prefix, and records what it was sent.
type Remote struct {
	T   testing.TB
	Srv *httptest.Server

	// PageSize bounds records per progress page.
	PageSize int
	// FailEvents makes POST /events answer 503.
	FailEvents atomic.Bool

	mu               sync.Mutex
	events           []json.RawMessage
	achievements     map[string]map[string]any
	progress         map[string][]map[string]any
	achievementCalls map[string]int
}

func NewRemote(t testing.TB) *Remote {
	t.Helper()
	r := &Remote{
		T:                t,
		PageSize:         2,
		achievements:     map[string]map[string]any{},
		progress:         map[string][]map[string]any{},
		achievementCalls: map[string]int{},
	}
	r.Srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Srv.Close)
	return r
}

// BaseURL is the api.base_url pointing at this remote.
func (r *Remote) BaseURL() string { return r.Srv.URL + prefix + "/" }

func (r *Remote) AddAchievement(id, name, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := map[string]any{"id": id, "name": name}
	if description != "" {
		a["description"] = description
	}
	r.achievements[id] = a
}

// SetProgress replaces subject's records; pairs are achievement id and fraction.
func (r *Remote) SetProgress(subject string, pairs ...any) {
	r.T.Helper()
	if len(pairs)%2 != 0 {
		r.T.Fatalf("SetProgress: odd pairs")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := make([]map[string]any, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		recs = append(recs, map[string]any{
			"achievementId":   pairs[i],
			"percentComplete": pairs[i+1],
		})
	}
	r.progress[subject] = recs
}

func (r *Remote) Events() []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]json.RawMessage(nil), r.events...)
}

func (r *Remote) AchievementCalls(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.achievementCalls[id]
}

func (r *Remote) serve(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Authorization") != "Bearer "+Key {
		http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	path, ok := strings.CutPrefix(req.URL.Path, prefix)
	if !ok {
		http.NotFound(w, req)
		return
	}
	switch {
	case req.Method == http.MethodPost && path == "/events":
		r.postEvent(w, req)
	case req.Method == http.MethodGet && path == "/progress":
		r.getProgress(w, req)
	case req.Method == http.MethodGet && strings.HasPrefix(path, "/achievements/"):
		r.getAchievement(w, strings.TrimPrefix(path, "/achievements/"))
	default:
		http.NotFound(w, req)
	}
}

func (r *Remote) postEvent(w http.ResponseWriter, req *http.Request) {
	b, err := io.ReadAll(req.Body)
	if err != nil || !json.Valid(b) {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if r.FailEvents.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	r.mu.Lock()
	r.events = append(r.events, b)
	r.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(b)
}

func (r *Remote) getAchievement(w http.ResponseWriter, id string) {
	r.mu.Lock()
	r.achievementCalls[id]++
	a, ok := r.achievements[id]
	r.mu.Unlock()
	if !ok {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, a)
}

func (r *Remote) getProgress(w http.ResponseWriter, req *http.Request) {
	subject := req.URL.Query().Get("subject")
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	r.mu.Lock()
	recs := r.progress[subject]
	r.mu.Unlock()

	size := r.PageSize
	if size <= 0 {
		size = len(recs) + 1
	}
	start := page * size
	if start > len(recs) {
		start = len(recs)
	}
	end := min(start+size, len(recs))

	var next any
	if end < len(recs) {
		next = fmt.Sprintf("progress?subject=%s&page=%d", url.QueryEscape(subject), page+1)
	}
	data := recs[start:end]
	if data == nil {
		data = []map[string]any{}
	}
	writeJSON(w, map[string]any{
		"data":  data,
		"pages": map[string]any{"next": next},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
