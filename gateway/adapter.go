package gateway

import (
	"context"
	"time"

	"github.com/flowmind/orchestrator/agent"
)

// ChatClient is the narrow capability GatewayAdapter needs from a
// GatewayClient, so tests can substitute a fake without a real socket.
type ChatClient interface {
	Chat(ctx context.Context, message, sessionKey string, timeout time.Duration) (string, error)
}

// GatewayAdapter exposes a gateway chat session as an agent.Adapter (spec
// §4.5, §9 "the three concrete variants ... are parallel
// implementations"). It prepends the discovered agent's SOUL.md role
// prompt to every task and tags all chats under one sessionKey so the
// gateway can maintain conversational context across tasks.
type GatewayAdapter struct {
	name         string
	client       ChatClient
	rolePrompt   string
	sessionKey   string
	description  string
	capabilities []string
	timeout      time.Duration
}

// GatewayAdapterOption configures optional GatewayAdapter fields.
type GatewayAdapterOption func(*GatewayAdapter)

// WithRolePrompt sets the SOUL.md content prepended to every task.
func WithRolePrompt(prompt string) GatewayAdapterOption {
	return func(a *GatewayAdapter) { a.rolePrompt = prompt }
}

// WithSessionKey overrides the default (agent name) session key used to
// correlate this adapter's chats at the gateway.
func WithSessionKey(key string) GatewayAdapterOption {
	return func(a *GatewayAdapter) { a.sessionKey = key }
}

// WithDescription sets the adapter's Describable description.
func WithDescription(desc string) GatewayAdapterOption {
	return func(a *GatewayAdapter) { a.description = desc }
}

// WithCapabilities sets the adapter's Describable capability list.
func WithCapabilities(caps []string) GatewayAdapterOption {
	return func(a *GatewayAdapter) { a.capabilities = caps }
}

// WithChatTimeout overrides the default 120s chat timeout.
func WithChatTimeout(d time.Duration) GatewayAdapterOption {
	return func(a *GatewayAdapter) { a.timeout = d }
}

// NewGatewayAdapter wraps client as an agent.Adapter named name.
func NewGatewayAdapter(name string, client ChatClient, opts ...GatewayAdapterOption) *GatewayAdapter {
	a := &GatewayAdapter{
		name:       name,
		client:     client,
		sessionKey: name,
		timeout:    defaultChatTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewGatewayAdapterFromDiscovery builds a GatewayAdapter from one
// DiscoveredAgent's description, capabilities, and role prompt.
func NewGatewayAdapterFromDiscovery(client ChatClient, discovered DiscoveredAgent) *GatewayAdapter {
	return NewGatewayAdapter(discovered.Name, client,
		WithRolePrompt(discovered.RolePrompt),
		WithDescription(discovered.Description),
		WithCapabilities(discovered.Capabilities),
		WithSessionKey(discovered.ID),
	)
}

func (a *GatewayAdapter) Name() string            { return a.name }
func (a *GatewayAdapter) Type() string             { return "gateway" }
func (a *GatewayAdapter) Description() string      { return a.description }
func (a *GatewayAdapter) Capabilities() []string   { return a.capabilities }

// Execute runs task as a gateway chat turn, with the role prompt (if any)
// prepended, tagged under this adapter's sessionKey.
func (a *GatewayAdapter) Execute(ctx context.Context, task string) (*agent.TaskResult, error) {
	start := time.Now()

	message := task
	if a.rolePrompt != "" {
		message = a.rolePrompt + "\n\n" + task
	}

	text, err := a.client.Chat(ctx, message, a.sessionKey, a.timeout)
	metadata := map[string]interface{}{"durationMs": time.Since(start).Milliseconds()}

	if err != nil {
		return &agent.TaskResult{Status: agent.StatusError, Output: err.Error(), Metadata: metadata}, nil
	}
	return &agent.TaskResult{Status: agent.StatusOK, Output: text, Metadata: metadata}, nil
}
