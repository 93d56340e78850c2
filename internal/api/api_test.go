package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"qaflow/internal/engine"
	"qaflow/internal/llmclient"
	"qaflow/internal/pipeline"
	"qaflow/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	fake := &llmclient.FakeProvider{
		Reply: func(prompt string, _ llmclient.Params) (string, error) {
			switch {
			case strings.Contains(prompt, "fenced code block"):
				return "```python\ndef test_ok():\n    assert True\n```", nil
			case strings.Contains(prompt, "JSON"):
				return `{"status": "ok"}`, nil
			default:
				return "text result", nil
			}
		},
	}
	e := engine.New(store.NewMemoryStore(), fake, pipeline.Default(), engine.Options{MaxStepRetries: 3})
	srv := httptest.NewServer(NewServer(e).Handler())
	t.Cleanup(srv.Close)
	return srv, e
}

func createRun(t *testing.T, srv *httptest.Server) engine.Run {
	t.Helper()
	body := map[string]any{
		"owner": "alice",
		"document": map[string]string{
			"name":       "reqs.txt",
			"media_type": "text/plain",
			"content":    "login requirements",
		},
	}
	b, _ := json.Marshal(body)
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run engine.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	require.NotEmpty(t, run.ID)
	return run
}

func TestCreateRunEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	run := createRun(t, srv)
	require.Equal(t, engine.StatusPending, run.Status)
	require.Equal(t, "alice", run.Owner)
}

func TestCreateRunRejectsInvalidInput(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(`{"owner": ""}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRunNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/runs/run-missing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdvanceEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	run := createRun(t, srv)

	resp, err := http.Post(srv.URL+"/v1/runs/"+run.ID+"/advance", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Run      engine.Run        `json:"run"`
		Step     string            `json:"step"`
		Artifact *store.Descriptor `json:"artifact"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "mask_pii", out.Step)
	require.Equal(t, engine.StatusAwaitingInput, out.Run.Status)
	require.NotNil(t, out.Artifact)
	require.Equal(t, 1, out.Artifact.Version)
}

func TestCancelThenAdvanceConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	run := createRun(t, srv)

	resp, err := http.Post(srv.URL+"/v1/runs/"+run.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/runs/"+run.ID+"/advance", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestArtifactEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	run := createRun(t, srv)

	// Run the first step so there is a generated artifact too.
	resp, err := http.Post(srv.URL+"/v1/runs/"+run.ID+"/advance", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/v1/runs/" + run.ID + "/artifacts")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		RunID     string             `json:"run_id"`
		Artifacts []store.Descriptor `json:"artifacts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Artifacts, 2)
	require.Equal(t, "input", list.Artifacts[0].Step)
	require.Equal(t, "mask_pii", list.Artifacts[1].Step)

	resp, err = http.Get(srv.URL + "/v1/runs/" + run.ID + "/artifacts/input/doc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	require.Equal(t, "1", resp.Header.Get("X-Artifact-Version"))

	resp, err = http.Get(srv.URL + "/v1/runs/" + run.ID + "/artifacts/input/doc?version=9")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The memory store cannot mint download URLs.
	resp, err = http.Get(srv.URL + "/v1/runs/" + run.ID + "/artifacts/input/doc/url")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestEvictEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	run := createRun(t, srv)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/runs/"+run.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode, "active run cannot be evicted")

	cres, err := http.Post(srv.URL+"/v1/runs/"+run.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	cres.Body.Close()

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestWatchEndpointStreamsEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	run := createRun(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/runs/" + run.ID + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := http.Post(srv.URL+"/v1/runs/"+run.ID+"/advance", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var seen []engine.StepStatus
	for len(seen) < 2 {
		var ev engine.Event
		require.NoError(t, conn.ReadJSON(&ev))
		require.Equal(t, run.ID, ev.RunID)
		seen = append(seen, ev.StepStatus)
	}
	require.Equal(t, []engine.StepStatus{engine.StepRunning, engine.StepSucceeded}, seen)
}
