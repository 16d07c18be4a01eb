package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations"
	ws "github.com/vttilv/moon-dev-ai-agents-sub002/internal/websocket"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/events"
)

type fixture struct {
	srv         *httptest.Server
	store       *artifacts.Store
	run         *artifacts.Run
	jobs        *operations.MemoryJobStore
	broadcaster *operations.StatusBroadcaster
	hub         *ws.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	run, err := store.CreateRun("https://example.com/strategy", domain.RunConfig{TargetMetric: domain.TargetReturnPct})
	require.NoError(t, err)
	_, err = run.WriteText("brief.md", "a breakout strategy", "brief", domain.StageIngest)
	require.NoError(t, err)
	require.NoError(t, run.SaveManifest())

	jobs := operations.NewMemoryJobStore()
	require.NoError(t, jobs.CreateJob(&operations.Job{
		ID:        "job-1",
		SourceRef: "https://example.com/strategy",
		Status:    operations.JobStatusRunning,
		RunID:     run.ID(),
		CreatedAt: time.Now(),
	}))

	hub := ws.NewHub(nil)
	hub.Start()
	t.Cleanup(hub.Stop)
	broadcaster := operations.NewStatusBroadcaster(nil, hub)
	broadcaster.StartRun(context.Background(), run.ID(), "https://example.com/strategy", run.Dir(), nil)

	s := NewServer(Options{
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("rbi_runs_total 1\n")) }),
		Hub:         hub,
		Jobs:        jobs,
		Broadcaster: broadcaster,
		ActiveRuns:  func() []string { return []string{run.ID()} },
		RunsRoot:    store.Root(),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, store: store, run: run, jobs: jobs, broadcaster: broadcaster, hub: hub}
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	var body HealthResponse
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.ActiveRuns)
	assert.NotEmpty(t, body.Version.Version)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	var body RunsResponse
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/runs", &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, f.run.ID(), body.Jobs[0].RunID)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, domain.RunStatusRunning, body.Runs[0].Status)
	assert.Equal(t, map[operations.JobStatus]int{operations.JobStatusRunning: 1}, body.Stats)

	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/runs?status=completed", &body))
	assert.Empty(t, body.Jobs)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.srv.URL+"/runs?limit=abc", nil))
}

func TestGetRun(t *testing.T) {
	f := newFixture(t)

	var detail RunDetail
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/runs/"+f.run.ID(), &detail))
	require.NotNil(t, detail.Live)
	require.NotNil(t, detail.Manifest)
	assert.Equal(t, f.run.ID(), detail.Manifest.RunID)
	assert.Equal(t, "https://example.com/strategy", detail.Manifest.SourceRef)
	require.NotNil(t, detail.Job)
	assert.Equal(t, "job-1", detail.Job.ID)

	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/runs/unknown-run", nil))
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)

	var job operations.Job
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/jobs/job-1", &job))
	assert.Equal(t, f.run.ID(), job.RunID)
	assert.Equal(t, operations.JobStatusRunning, job.Status)

	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/jobs/job-2", nil))
}

func TestGetRun_RejectsEscapingID(t *testing.T) {
	h := NewRunsHandler(nil, nil, t.TempDir(), nil)
	for _, id := range []string{"..", ".", "a/b"} {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		req := httptest.NewRequest(http.MethodGet, "/runs/x", nil)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

		rec := httptest.NewRecorder()
		h.GetRun(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, id)
	}
}

func TestGetRun_DiskOnly(t *testing.T) {
	f := newFixture(t)
	other, err := f.store.CreateRun("raw text", domain.RunConfig{})
	require.NoError(t, err)

	var detail RunDetail
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/runs/"+other.ID(), &detail))
	assert.Nil(t, detail.Live)
	assert.Nil(t, detail.Job)
	require.NotNil(t, detail.Manifest)
	assert.Equal(t, "raw text", detail.Manifest.SourceRef)
}

func TestGetGraph(t *testing.T) {
	f := newFixture(t)

	var body GraphResponse
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/runs/"+f.run.ID()+"/graph", &body))
	assert.True(t, body.Verified)
	assert.Equal(t, f.run.ID(), body.Graph.RunID)

	path := filepath.Join(f.run.Dir(), "brief.md")
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0644))

	body = GraphResponse{}
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/runs/"+f.run.ID()+"/graph", &body))
	assert.False(t, body.Verified)
	assert.Contains(t, body.Error, "brief.md")
	assert.Equal(t, f.run.ID(), body.Graph.RunID)

	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/runs/missing/graph", nil))
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// run.started was published before the client connected and is replayed
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame events.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, events.EventRunStarted, frame.Type)
	assert.Equal(t, f.run.ID(), frame.RunID)
}

func TestServer_StartShutdown(t *testing.T) {
	s := NewServer(Options{Addr: "127.0.0.1:0"})
	addr, err := s.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
