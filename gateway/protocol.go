// Package gateway implements the Gateway Client protocol (spec §4.5): an
// HTTP-login-then-WebSocket session with a signed Ed25519 handshake,
// request/response correlation by id, asynchronous chat-stream
// correlation by runId, and agent discovery. It also provides the
// GatewayRegistry (retrying connect + round-robin pick) and the
// GatewayAdapter that exposes a gateway chat session as an agent.Adapter.
package gateway

import "encoding/json"

// ProtocolVersion is the fixed protocol version this client negotiates
// (spec §6: "Protocol version fixed to 3").
const ProtocolVersion = 3

const (
	clientID   = "openclaw-control-ui"
	clientMode = "webchat"
	role       = "operator"
)

// Frame type discriminators (spec §4.5 "Frame schema").
const (
	frameTypeRequest  = "req"
	frameTypeResponse = "res"
	frameTypeEvent    = "event"
)

// requestFrame is sent for every call().
type requestFrame struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// responseError mirrors the gateway's error payload shape.
type responseError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      string `json:"details,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
	RetryAfterMs int    `json:"retryAfterMs,omitempty"`
}

// responseFrame is the reply to a requestFrame, matched by ID.
type responseFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *responseError  `json:"error,omitempty"`
}

// eventFrame is an unsolicited server push (challenge, chat progress, ...).
type eventFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// wireFrame is used to sniff a frame's type before decoding the rest.
type wireFrame struct {
	Type string `json:"type"`
}

type challengePayload struct {
	Nonce string `json:"nonce"`
}

type deviceBlock struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce,omitempty"`
}

type connectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      clientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Caps        []string    `json:"caps"`
	Auth        authBlock   `json:"auth"`
	Device      deviceBlock `json:"device"`
}

type clientInfo struct {
	ID   string `json:"id"`
	Mode string `json:"mode"`
}

type authBlock struct {
	Token string `json:"token"`
}

type helloPayload struct {
	ServerVersion     string   `json:"serverVersion"`
	SupportedMethods  []string `json:"supportedMethods"`
	SupportedEvents   []string `json:"supportedEvents"`
	Policy            json.RawMessage `json:"policy,omitempty"`
}

type chatSendParams struct {
	Message        string `json:"message"`
	SessionKey     string `json:"sessionKey,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
	Deliver        bool   `json:"deliver"`
}

type chatSendResult struct {
	RunID string `json:"runId"`
}

type chatContentPart struct {
	Text string `json:"text"`
}

type chatMessage struct {
	Content []chatContentPart `json:"content"`
}

type chatEventPayload struct {
	RunID   string          `json:"runId"`
	State   string          `json:"state"`
	Message chatMessage     `json:"message"`
	Error   *responseError  `json:"error,omitempty"`
}

type agentsListEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type agentsListResult struct {
	Agents []agentsListEntry `json:"agents"`
}

type agentsFilesGetParams struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
}

type agentsFilesGetResult struct {
	Content string `json:"content"`
}
