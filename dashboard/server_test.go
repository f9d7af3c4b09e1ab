package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmind/orchestrator/agent"
	"github.com/flowmind/orchestrator/core"
	"github.com/flowmind/orchestrator/orchestrator"
	"github.com/flowmind/orchestrator/registry"
	"github.com/flowmind/orchestrator/runstore"
)

type scriptedThinker struct{ response string }

func (s *scriptedThinker) Think(ctx context.Context, prompt string) (string, error) {
	return s.response, nil
}

func echoAdapter(name string) *agent.FunctionAdapter {
	return agent.NewFunctionAdapter(name, func(ctx context.Context, task string) (*agent.TaskResult, error) {
		return &agent.TaskResult{Status: agent.StatusOK, Output: "handled: " + task}, nil
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New(0, core.NoOpLogger{})
	require.NoError(t, reg.Add(echoAdapter("researcher")))

	thinker := &scriptedThinker{response: `{"action":"finish","answer":"42"}`}
	loop := orchestrator.NewLoop(thinker, reg, core.NoOpLogger{})

	store := runstore.NewInMemoryStore(50)
	return NewServer(store, reg, loop, orchestrator.DefaultOptions(), core.NoOpLogger{}, []string{"primary"})
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var body struct {
		OK       bool           `json:"ok"`
		Agents   []agentSummary `json:"agents"`
		Gateways []string       `json:"gateways"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.OK)
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "researcher", body.Agents[0].Name)
	assert.True(t, body.Agents[0].Health.Healthy)
	assert.Equal(t, []string{"primary"}, body.Gateways)
}

func TestAgentsHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/agents/health", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Agents []agentHealthEntry `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "researcher", body.Agents[0].Name)
	assert.True(t, body.Agents[0].Healthy)
}

func TestCreateRunThenGetRun(t *testing.T) {
	srv := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"goal":"say hi"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, createReq)

	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	runID := created["runId"]
	require.NotEmpty(t, runID)
	assert.Equal(t, "say hi", created["goal"])

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID, nil)
		srv.Handler().ServeHTTP(w, req)
		return w.Code == http.StatusOK
	}, time.Second, 5*time.Millisecond)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID, nil)
	srv.Handler().ServeHTTP(w, req)

	var run orchestrator.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, orchestrator.RunDone, run.State)
	assert.Equal(t, "42", run.FinalAnswer)
}

func TestCreateRunRejectsMissingGoal(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/runs/does-not-exist", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Run not found", body["error"])
}

func TestListRunsReturnsEmptyInitially(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var runs []*orchestrator.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Empty(t, runs)
}

func TestDeleteRunRemovesItAndPublishesEvent(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, srv.store.Upsert(ctx, &orchestrator.Run{RunID: "r1", Goal: "g", State: orchestrator.RunDone}))

	ch, cancel := srv.broadcaster.Subscribe()
	defer cancel()

	req := httptest.NewRequest(http.MethodDelete, "/api/runs/r1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["deleted"])
	assert.Equal(t, "r1", body["runId"])

	_, ok, _ := srv.store.Get(ctx, "r1")
	assert.False(t, ok)

	select {
	case ev := <-ch:
		assert.Equal(t, EventRunDeleted, ev.Type)
		assert.Equal(t, "r1", ev.RunID)
	case <-time.After(time.Second):
		t.Fatal("expected run:deleted event")
	}
}

func TestEventsEndpointStreamsRunLifecycle(t *testing.T) {
	srv := newTestServer(t)

	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan map[string]interface{}, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
				continue
			}
			events <- payload
		}
	}()

	createResp, err := http.Post(server.URL+"/api/runs", "application/json", strings.NewReader(`{"goal":"stream me"}`))
	require.NoError(t, err)
	createResp.Body.Close()

	seen := map[string]bool{}
	var completeEvent map[string]interface{}
	timeout := time.After(2 * time.Second)
	for !seen[EventRunStarted] || !seen[EventRunComplete] {
		select {
		case payload := <-events:
			evType, _ := payload["type"].(string)
			seen[evType] = true
			// A conformant subscriber reads fields directly off the event,
			// not nested under a "data" key (spec §6).
			_, hasNestedData := payload["data"]
			assert.False(t, hasNestedData, "event payload must be flat, not nested under data")
			if evType == EventRunComplete {
				completeEvent = payload
			}
		case <-timeout:
			t.Fatalf("timed out waiting for run lifecycle events, saw: %v", seen)
		}
	}

	require.NotNil(t, completeEvent)
	_, hasDuration := completeEvent["durationMs"]
	assert.True(t, hasDuration, "run:complete event must carry durationMs")
}

func TestUnknownMethodOnRunsIsRejected(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, "/api/runs", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestOptionsPreflightReturnsNoContent(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

