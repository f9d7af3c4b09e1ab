package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmind/orchestrator/core"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// fakeGatewayServer is a minimal stand-in for a real gateway: it accepts a
// connect request and always replies ok, and on chat.send it emits, after
// about 5ms, a chat event with state=final (state=error when
// chatShouldFail, and no event at all when neverFinish).
type fakeGatewayServer struct {
	server         *httptest.Server
	sendChallenge  bool
	chatShouldFail bool
	neverFinish    bool
}

func newFakeGatewayServer(t *testing.T) *fakeGatewayServer {
	f := &fakeGatewayServer{}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeGatewayServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if f.sendChallenge {
		ev := eventFrame{Type: frameTypeEvent, Event: "connect.challenge"}
		payload, _ := json.Marshal(challengePayload{Nonce: "nonce-123"})
		ev.Payload = payload
		raw, _ := json.Marshal(ev)
		conn.WriteMessage(websocket.TextMessage, raw)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req requestFrame
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}

		switch req.Method {
		case "connect":
			payload, _ := json.Marshal(helloPayload{ServerVersion: "test-1"})
			resp := responseFrame{Type: frameTypeResponse, ID: req.ID, OK: true, Payload: payload}
			out, _ := json.Marshal(resp)
			conn.WriteMessage(websocket.TextMessage, out)

		case "chat.send":
			runID := "run-" + req.ID
			payload, _ := json.Marshal(chatSendResult{RunID: runID})
			resp := responseFrame{Type: frameTypeResponse, ID: req.ID, OK: true, Payload: payload}
			out, _ := json.Marshal(resp)
			conn.WriteMessage(websocket.TextMessage, out)

			if f.neverFinish {
				continue
			}

			go func(runID string) {
				time.Sleep(5 * time.Millisecond)
				var ev eventFrame
				if f.chatShouldFail {
					errPayload, _ := json.Marshal(chatEventPayload{RunID: runID, State: "error", Error: &responseError{Code: "boom", Message: "agent crashed"}})
					ev = eventFrame{Type: frameTypeEvent, Event: "chat", Payload: errPayload}
				} else {
					donePayload, _ := json.Marshal(chatEventPayload{RunID: runID, State: "final", Message: chatMessage{Content: []chatContentPart{{Text: "hello "}, {Text: "world"}}}})
					ev = eventFrame{Type: frameTypeEvent, Event: "chat", Payload: donePayload}
				}
				out, _ := json.Marshal(ev)
				conn.WriteMessage(websocket.TextMessage, out)
			}(runID)

		default:
			resp := responseFrame{Type: frameTypeResponse, ID: req.ID, OK: false, Error: &responseError{Code: "unknown_method", Message: req.Method}}
			out, _ := json.Marshal(resp)
			conn.WriteMessage(websocket.TextMessage, out)
		}
	}
}

func (f *fakeGatewayServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
}

func (f *fakeGatewayServer) Close() { f.server.Close() }

func newTestClient(t *testing.T, url string) *GatewayClient {
	t.Helper()
	identity, err := createDeviceIdentity()
	require.NoError(t, err)
	return NewGatewayClient(GatewayConfig{Name: "test-gw", URL: url}, identity, core.NoOpLogger{})
}

func TestClientConnectV1WithoutChallenge(t *testing.T) {
	srv := newFakeGatewayServer(t)
	defer srv.Close()

	c := newTestClient(t, srv.wsURL())
	err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, c.IsConnected())
}

func TestClientConnectV2WithChallenge(t *testing.T) {
	srv := newFakeGatewayServer(t)
	srv.sendChallenge = true
	defer srv.Close()

	c := newTestClient(t, srv.wsURL())
	err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, c.IsConnected())
}

func TestClientConnectCoalescesConcurrentCalls(t *testing.T) {
	srv := newFakeGatewayServer(t)
	defer srv.Close()

	c := newTestClient(t, srv.wsURL())

	errCh1 := make(chan error, 1)
	errCh2 := make(chan error, 1)
	go func() { errCh1 <- c.Connect(context.Background()) }()
	go func() { errCh2 <- c.Connect(context.Background()) }()

	require.NoError(t, <-errCh1)
	require.NoError(t, <-errCh2)
}

func TestClientChatResolvesOnFinal(t *testing.T) {
	srv := newFakeGatewayServer(t)
	defer srv.Close()

	c := newTestClient(t, srv.wsURL())
	require.NoError(t, c.Connect(context.Background()))

	text, err := c.Chat(context.Background(), "hello", "session-1", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestClientChatRejectsOnErrorState(t *testing.T) {
	srv := newFakeGatewayServer(t)
	srv.chatShouldFail = true
	defer srv.Close()

	c := newTestClient(t, srv.wsURL())
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Chat(context.Background(), "hello", "session-1", 2*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent crashed")
}

func TestClientConcurrentChatsCorrelateIndependently(t *testing.T) {
	srv := newFakeGatewayServer(t)
	defer srv.Close()

	c := newTestClient(t, srv.wsURL())
	require.NoError(t, c.Connect(context.Background()))

	ch1 := make(chan string, 1)
	ch2 := make(chan string, 1)
	go func() { text, _ := c.Chat(context.Background(), "first", "s1", 2*time.Second); ch1 <- text }()
	go func() { text, _ := c.Chat(context.Background(), "second", "s2", 2*time.Second); ch2 <- text }()

	assert.Equal(t, "hello world", <-ch1)
	assert.Equal(t, "hello world", <-ch2)
}

func TestClientCloseRejectsAllPending(t *testing.T) {
	srv := newFakeGatewayServer(t)
	srv.neverFinish = true
	defer srv.Close()

	c := newTestClient(t, srv.wsURL())
	require.NoError(t, c.Connect(context.Background()))

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.Chat(context.Background(), "never answered", "s1", 5*time.Second)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	err := <-resultCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Connection closed")
}
