// Package dashboard implements the HTTP + SSE control surface of spec §6:
// submitting runs, listing/inspecting/deleting them, streaming their
// lifecycle events, and reporting agent health. Grounded on gomind's
// orchestration/task_api.go for the REST handler shape and
// ui/transports/sse/sse.go for the SSE transport.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmind/orchestrator/agent"
	"github.com/flowmind/orchestrator/core"
	"github.com/flowmind/orchestrator/orchestrator"
	"github.com/flowmind/orchestrator/registry"
	"github.com/flowmind/orchestrator/runstore"
)

// Server implements the dashboard's HTTP API over a Loop, a Registry, and
// a RunStore.
type Server struct {
	mux          *http.ServeMux
	store        runstore.RunStore
	registry     *registry.Registry
	loop         *orchestrator.Loop
	broadcaster  *Broadcaster
	opts         orchestrator.Options
	logger       core.Logger
	gatewayNames []string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewServer wires a Server and registers its routes. gatewayNames is
// reported verbatim in GET /api/health's "gateways" field (spec §6).
func NewServer(store runstore.RunStore, reg *registry.Registry, loop *orchestrator.Loop, opts orchestrator.Options, logger core.Logger, gatewayNames []string) *Server {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	s := &Server{
		mux:          http.NewServeMux(),
		store:        store,
		registry:     reg,
		loop:         loop,
		broadcaster:  NewBroadcaster(),
		opts:         opts,
		logger:       logger,
		gatewayNames: gatewayNames,
		cancels:      make(map[string]context.CancelFunc),
	}
	s.routes()
	return s
}

// Handler returns the CORS-wrapped http.Handler to mount (spec §6: "all
// responses set Access-Control-Allow-Origin: *").
func (s *Server) Handler() http.Handler {
	return core.CORSMiddleware(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/agents/health", s.handleAgentsHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRunByID)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "flowmind-dashboard"})
}

// agentSummary is one entry of GET /api/health's "agents" array (spec §6:
// "{name,type,description?,capabilities?,health?}").
type agentSummary struct {
	Name         string                   `json:"name"`
	Type         string                   `json:"type"`
	Description  string                   `json:"description,omitempty"`
	Capabilities []string                 `json:"capabilities,omitempty"`
	Health       *registry.HealthSnapshot `json:"health,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	adapters := s.registry.All()
	health := s.registry.CheckAllHealth(r.Context())

	agents := make([]agentSummary, 0, len(adapters))
	for _, a := range adapters {
		summary := agentSummary{Name: a.Name(), Type: a.Type()}
		if d, ok := a.(agent.Describable); ok {
			summary.Description = d.Description()
			summary.Capabilities = d.Capabilities()
		}
		if snap, ok := health[a.Name()]; ok {
			snap := snap
			summary.Health = &snap
		}
		agents = append(agents, summary)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"agents":   agents,
		"gateways": s.gatewayNames,
	})
}

// agentHealthEntry is one entry of GET /api/agents/health's "agents" array
// (spec §6: "{name,healthy,lastCheck,responseTimeMs?,error?}").
type agentHealthEntry struct {
	Name string `json:"name"`
	registry.HealthSnapshot
}

func (s *Server) handleAgentsHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := s.registry.CheckAllHealth(r.Context())

	entries := make([]agentHealthEntry, 0, len(snapshots))
	for name, snap := range snapshots {
		entries = append(entries, agentHealthEntry{Name: name, HealthSnapshot: snap})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": entries})
}

// handleEvents serves the run lifecycle stream as Server-Sent Events
// (spec §6).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.broadcaster.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte("data: " + string(data) + "\n\n"))
	return err
}

type createRunRequest struct {
	Goal string `json:"goal"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRuns(w, r)
	case http.MethodPost:
		s.handleCreateRun(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	runs, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()

	go s.execute(runCtx, runID, req.Goal)

	writeJSON(w, http.StatusCreated, map[string]string{"runId": runID, "goal": req.Goal})
}

// execute runs the goal to completion, persisting and broadcasting its
// lifecycle. It runs on its own goroutine so handleCreateRun returns
// immediately (spec §6: run submission is asynchronous).
func (s *Server) execute(ctx context.Context, runID, goal string) {
	defer func() {
		s.mu.Lock()
		delete(s.cancels, runID)
		s.mu.Unlock()
	}()

	start := time.Now()
	cb := s.callbacksFor(runID, start)
	s.broadcaster.Publish(Event{Type: EventRunStarted, RunID: runID, Fields: map[string]interface{}{"goal": goal}})

	run := s.loop.Run(ctx, runID, goal, s.opts, cb)

	if err := s.store.Upsert(ctx, run); err != nil {
		s.logger.Error("failed to persist completed run", map[string]interface{}{"runId": runID, "error": err.Error()})
	}
}

func (s *Server) callbacksFor(runID string, start time.Time) orchestrator.Callbacks {
	return orchestrator.Callbacks{
		OnThinking: func(stepNumber int) {
			s.broadcaster.Publish(Event{Type: EventStepThinking, RunID: runID, Fields: map[string]interface{}{"stepNumber": stepNumber}})
		},
		OnStepStart: func(stepNumber int, taskIDs []string, tasks []string) {
			s.broadcaster.Publish(Event{Type: EventStepStarted, RunID: runID, Fields: map[string]interface{}{
				"stepNumber": stepNumber, "taskIds": taskIDs, "tasks": tasks,
			}})
		},
		OnTaskStart: func(stepNumber int, taskID string) {
			s.broadcaster.Publish(Event{Type: EventTaskStarted, RunID: runID, Fields: map[string]interface{}{
				"stepNumber": stepNumber, "taskId": taskID,
			}})
		},
		OnTaskChunk: func(stepNumber int, taskID, content string, done bool) {
			s.broadcaster.Publish(Event{Type: EventTaskChunk, RunID: runID, Fields: map[string]interface{}{
				"stepNumber": stepNumber, "taskId": taskID, "content": content, "done": done,
			}})
		},
		OnTaskEnd: func(stepNumber int, taskID string, result *agent.TaskResult, status string) {
			s.broadcaster.Publish(Event{Type: EventTaskEnded, RunID: runID, Fields: map[string]interface{}{
				"stepNumber": stepNumber, "taskId": taskID, "result": result, "status": status,
			}})
		},
		OnStepEnd: func(stepNumber int) {
			s.broadcaster.Publish(Event{Type: EventStepEnded, RunID: runID, Fields: map[string]interface{}{"stepNumber": stepNumber}})
		},
		OnFinish: func(answer string) {
			s.broadcaster.Publish(Event{Type: EventRunComplete, RunID: runID, Fields: map[string]interface{}{
				"answer": answer, "durationMs": time.Since(start).Milliseconds(),
			}})
		},
		OnError: func(err error) {
			s.broadcaster.Publish(Event{Type: EventRunError, RunID: runID, Fields: map[string]interface{}{"error": err.Error()}})
		},
	}
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Path[len("/api/runs/"):]
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetRun(w, r, runID)
	case http.MethodDelete:
		s.handleDeleteRun(w, r, runID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request, runID string) {
	run, ok, err := s.store.Get(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request, runID string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[runID]; ok {
		cancel()
	}
	s.mu.Unlock()

	if err := s.store.Delete(r.Context(), runID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete run")
		return
	}

	s.broadcaster.Publish(Event{Type: EventRunDeleted, RunID: runID})
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "runId": runID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
