package gateway

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/flowmind/orchestrator/core"
)

// GatewayConfig pairs a name with a websocket URL and optional bearer
// token (spec §3).
type GatewayConfig struct {
	Name  string
	URL   string
	Token string
}

const (
	defaultCallTimeout    = 30 * time.Second
	defaultChatTimeout    = 120 * time.Second
	defaultConnectTimeout = 30 * time.Second
	challengeWait         = 800 * time.Millisecond
)

type callOutcome struct {
	payload json.RawMessage
	err     error
}

type chatOutcome struct {
	text string
	err  error
}

type connectFuture struct {
	done chan struct{}
	err  error
}

// GatewayClient is a single persistent connection to one gateway (spec
// §4.5). Its socket is owned exclusively by this client; every write goes
// through send, guarded by writeMu.
type GatewayClient struct {
	cfg      GatewayConfig
	identity *DeviceIdentity
	logger   core.Logger

	httpClient *http.Client

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	pending      sync.Map // id (string) -> chan callOutcome
	pendingChats sync.Map // runId (string) -> chan chatOutcome

	challengeMu sync.Mutex
	challengeCh chan string

	idSeq atomic.Int64

	connectMu     sync.Mutex
	connectFuture *connectFuture

	hello *helloPayload
}

// NewGatewayClient builds a client for cfg backed by identity. logger may
// be nil.
func NewGatewayClient(cfg GatewayConfig, identity *DeviceIdentity, logger core.Logger) *GatewayClient {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &GatewayClient{
		cfg:        cfg,
		identity:   identity,
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the configured gateway name.
func (c *GatewayClient) Name() string { return c.cfg.Name }

// IsConnected reports whether the socket is currently open.
func (c *GatewayClient) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Connect performs the full handshake sequence (spec §4.5 steps 1-7).
// Concurrent Connect calls coalesce onto a single in-flight attempt.
func (c *GatewayClient) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	if fut := c.connectFuture; fut != nil {
		c.connectMu.Unlock()
		<-fut.done
		return fut.err
	}
	fut := &connectFuture{done: make(chan struct{})}
	c.connectFuture = fut
	c.connectMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	err := c.doConnect(ctx)

	fut.err = err
	close(fut.done)

	c.connectMu.Lock()
	c.connectFuture = nil
	c.connectMu.Unlock()

	return err
}

func (c *GatewayClient) doConnect(ctx context.Context) error {
	cookie := c.attemptLogin(ctx)

	header := http.Header{}
	header.Set("Origin", c.wsOrigin())
	if cookie != "" {
		header.Set("Cookie", cookie)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return core.NewGatewayError("gateway.Connect", fmt.Sprintf("dial %s: %v", c.cfg.URL, err))
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.challengeMu.Lock()
	c.challengeCh = make(chan string, 1)
	c.challengeMu.Unlock()

	go c.readLoop(conn)

	version := "v1"
	nonce := ""
	select {
	case n := <-c.challengeCh:
		version = "v2"
		nonce = n
	case <-time.After(challengeWait):
	}

	signedAt := time.Now().UnixMilli()
	scopes := []string{}
	sig := c.sign(version, signedAt, nonce)

	params := connectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client:      clientInfo{ID: clientID, Mode: clientMode},
		Role:        role,
		Scopes:      scopes,
		Caps:        []string{},
		Auth:        authBlock{Token: c.cfg.Token},
		Device: deviceBlock{
			ID:        c.identity.DeviceID,
			PublicKey: base64URLEncode(c.identity.PublicKey),
			Signature: base64URLEncode(sig),
			SignedAt:  signedAt,
			Nonce:     nonce,
		},
	}

	payload, err := c.call(ctx, "connect", params, defaultConnectTimeout)
	if err != nil {
		c.closeConn()
		return err
	}

	var hello helloPayload
	if err := json.Unmarshal(payload, &hello); err == nil {
		c.hello = &hello
	}

	return nil
}

// sign composes the pipe-joined signature input (spec §4.5 step 4) and
// signs it with the device's Ed25519 key.
func (c *GatewayClient) sign(version string, signedAt int64, nonce string) []byte {
	fields := []string{
		version,
		c.identity.DeviceID,
		clientID,
		clientMode,
		role,
		strings.Join([]string{}, ","),
		strconv.FormatInt(signedAt, 10),
		c.cfg.Token,
	}
	if version == "v2" {
		fields = append(fields, nonce)
	}
	input := strings.Join(fields, "|")
	return ed25519.Sign(c.identity.PrivateKey, []byte(input))
}

// attemptLogin performs the best-effort HTTP login and extracts the
// connect.sid cookie (spec §4.5 step 1). Failure is never fatal.
func (c *GatewayClient) attemptLogin(ctx context.Context) string {
	origin, err := c.httpOrigin()
	if err != nil {
		return ""
	}

	form := url.Values{"token": {c.cfg.Token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, origin+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	for _, sc := range resp.Header.Values("Set-Cookie") {
		if strings.HasPrefix(sc, "connect.sid=") {
			if idx := strings.Index(sc, ";"); idx >= 0 {
				return sc[:idx]
			}
			return sc
		}
	}
	return ""
}

func (c *GatewayClient) httpOrigin() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host, nil
}

func (c *GatewayClient) wsOrigin() string {
	origin, err := c.httpOrigin()
	if err != nil {
		return c.cfg.URL
	}
	return origin
}

// readLoop pumps incoming frames and dispatches them to the pending call
// table, the pending chat table, or the one-shot challenge channel, until
// the socket closes — at which point every outstanding entry is rejected
// exactly once (spec §3 invariant, §4.5 "On close ... every pending entry
// AND every pendingChat entry is rejected").
func (c *GatewayClient) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.rejectAllPending(err)
			c.closeConn()
			return
		}
		c.dispatch(raw)
	}
}

func (c *GatewayClient) dispatch(raw []byte) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		c.logger.Warn("gateway: malformed frame", map[string]interface{}{"error": err.Error()})
		return
	}

	switch w.Type {
	case frameTypeResponse:
		var resp responseFrame
		if err := json.Unmarshal(raw, &resp); err != nil {
			return
		}
		if chAny, ok := c.pending.LoadAndDelete(resp.ID); ok {
			ch := chAny.(chan callOutcome)
			if resp.OK {
				ch <- callOutcome{payload: resp.Payload}
			} else {
				msg := "gateway error"
				if resp.Error != nil {
					msg = fmt.Sprintf("%s: %s", resp.Error.Code, resp.Error.Message)
				}
				ch <- callOutcome{err: core.NewGatewayError("gateway.call", msg)}
			}
		}

	case frameTypeEvent:
		var ev eventFrame
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		c.dispatchEvent(ev)
	}
}

func (c *GatewayClient) dispatchEvent(ev eventFrame) {
	switch ev.Event {
	case "connect.challenge":
		var ch challengePayload
		if err := json.Unmarshal(ev.Payload, &ch); err != nil {
			return
		}
		c.challengeMu.Lock()
		target := c.challengeCh
		c.challengeMu.Unlock()
		if target != nil {
			select {
			case target <- ch.Nonce:
			default:
			}
		}

	case "chat":
		var payload chatEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		c.dispatchChatEvent(payload)
	}
}

func (c *GatewayClient) dispatchChatEvent(payload chatEventPayload) {
	switch payload.State {
	case "final":
		chAny, ok := c.pendingChats.LoadAndDelete(payload.RunID)
		if !ok {
			return
		}
		ch := chAny.(chan chatOutcome)
		ch <- chatOutcome{text: concatChatText(payload.Message)}

	case "error":
		chAny, ok := c.pendingChats.LoadAndDelete(payload.RunID)
		if !ok {
			return
		}
		ch := chAny.(chan chatOutcome)
		msg := "chat error"
		if payload.Error != nil {
			msg = fmt.Sprintf("%s: %s", payload.Error.Code, payload.Error.Message)
		}
		ch <- chatOutcome{err: core.NewGatewayError("gateway.chat", msg)}

	default:
		// Streaming progress: ignored, final is terminal (spec §5).
	}
}

func concatChatText(msg chatMessage) string {
	var b strings.Builder
	for _, part := range msg.Content {
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		raw, _ := json.Marshal(msg)
		return string(raw)
	}
	return b.String()
}

func (c *GatewayClient) rejectAllPending(cause error) {
	code := "unknown"
	if ce, ok := cause.(*websocket.CloseError); ok {
		code = strconv.Itoa(ce.Code)
	}
	msg := fmt.Sprintf("Connection closed (code=%s)", code)
	gwErr := core.NewGatewayError("gateway", msg)

	c.pending.Range(func(key, value any) bool {
		value.(chan callOutcome) <- callOutcome{err: gwErr}
		c.pending.Delete(key)
		return true
	})
	c.pendingChats.Range(func(key, value any) bool {
		value.(chan chatOutcome) <- chatOutcome{err: gwErr}
		c.pendingChats.Delete(key)
		return true
	})
}

func (c *GatewayClient) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close closes the underlying socket, if open.
func (c *GatewayClient) Close() {
	c.closeConn()
}

func (c *GatewayClient) nextID() string {
	return fmt.Sprintf("r%d", c.idSeq.Add(1))
}

func (c *GatewayClient) send(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return core.NewGatewayError("gateway.send", "not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// call sends a request frame and awaits its matching response, timing out
// after timeout (spec §4.5 "Request correlation").
func (c *GatewayClient) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	id := c.nextID()
	ch := make(chan callOutcome, 1)
	c.pending.Store(id, ch)

	if err := c.send(requestFrame{Type: frameTypeRequest, ID: id, Method: method, Params: params}); err != nil {
		c.pending.Delete(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.payload, out.err
	case <-ctx.Done():
		c.pending.Delete(id)
		return nil, ctx.Err()
	case <-timer.C:
		c.pending.Delete(id)
		return nil, core.NewGatewayError("gateway.call", fmt.Sprintf("timeout waiting for %s response", method))
	}
}

// Chat sends a chat.send request and awaits the asynchronously correlated
// final response (spec §4.5 "Chat correlation"). Multiple concurrent
// chats are safe; correlation is solely by runId.
func (c *GatewayClient) Chat(ctx context.Context, message, sessionKey string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}

	payload, err := c.call(ctx, "chat.send", chatSendParams{
		Message:        message,
		SessionKey:     sessionKey,
		IdempotencyKey: uuid.NewString(),
		Deliver:        false,
	}, defaultCallTimeout)
	if err != nil {
		return "", err
	}

	var sendResult chatSendResult
	if err := json.Unmarshal(payload, &sendResult); err != nil || sendResult.RunID == "" {
		return "", core.NewGatewayError("gateway.Chat", "chat.send did not return a runId")
	}

	ch := make(chan chatOutcome, 1)
	c.pendingChats.Store(sendResult.RunID, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.text, out.err
	case <-ctx.Done():
		c.pendingChats.Delete(sendResult.RunID)
		return "", ctx.Err()
	case <-timer.C:
		c.pendingChats.Delete(sendResult.RunID)
		return "", core.NewGatewayError("gateway.Chat", "timeout waiting for chat completion")
	}
}

// Think satisfies orchestrator.Thinker by running one chat turn with no
// session key.
func (c *GatewayClient) Think(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, prompt, "", defaultChatTimeout)
}

// DiscoveredAgent is one entry returned by agent discovery, optionally
// enriched with SOUL.md content (spec §4.5 "Agent discovery").
type DiscoveredAgent struct {
	ID           string
	Name         string
	Description  string
	Capabilities []string
	RolePrompt   string
}

// DiscoverAgents lists every agent known to the gateway and best-effort
// enriches each with its SOUL.md. A single agent's SOUL.md failure
// degrades that entry to {id,name}; a failure of agents.list itself is
// returned to the caller.
func (c *GatewayClient) DiscoverAgents(ctx context.Context) ([]DiscoveredAgent, error) {
	payload, err := c.call(ctx, "agents.list", nil, defaultCallTimeout)
	if err != nil {
		return nil, err
	}

	var listResult agentsListResult
	if err := json.Unmarshal(payload, &listResult); err != nil {
		return nil, core.NewGatewayError("gateway.DiscoverAgents", fmt.Sprintf("parsing agents.list: %v", err))
	}

	agents := make([]DiscoveredAgent, 0, len(listResult.Agents))
	for _, entry := range listResult.Agents {
		agent := DiscoveredAgent{ID: entry.ID, Name: entry.Name}

		soulPayload, err := c.call(ctx, "agents.files.get", agentsFilesGetParams{AgentID: entry.ID, Name: "SOUL.md"}, defaultCallTimeout)
		if err != nil {
			agents = append(agents, agent)
			continue
		}
		var fileResult agentsFilesGetResult
		if err := json.Unmarshal(soulPayload, &fileResult); err != nil {
			agents = append(agents, agent)
			continue
		}

		soul := ParseSoul(fileResult.Content)
		agent.Description = soul.Description
		agent.Capabilities = soul.Capabilities
		agent.RolePrompt = soul.RolePrompt
		agents = append(agents, agent)
	}

	return agents, nil
}
