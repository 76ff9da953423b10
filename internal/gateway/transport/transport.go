// Package transport defines the chat-surface abstraction the gateway core is
// written against.
//
// A transport adapter (Teams webhook, Matrix client, a test double) converts
// platform messages into Events and implements Responder for the reverse
// direction. The core never sees platform types: quick-action payloads are
// opaque JSON-ish maps that the adapter must echo back verbatim on the next
// Event when the user selects the action. Adapters may not be able to
// guarantee byte-for-byte round-tripping, so consumers validate payloads
// defensively instead of trusting their shape.
package transport

import "context"

// Event is one inbound chat message or quick-action selection.
type Event struct {
	// ConversationID identifies the chat thread (Teams conversation, Matrix
	// room). Session state is keyed by this value.
	ConversationID string

	// SenderID identifies the human sender within the platform.
	SenderID string

	// Text is the plain message text. Empty for pure quick-action events.
	Text string

	// Payload is the interaction payload of a selected quick action, echoed
	// back by the chat client. Nil for ordinary text messages.
	Payload map[string]any
}

// QuickAction is a labeled follow-up button offered alongside a message.
type QuickAction struct {
	// Title is the user-visible label.
	Title string

	// Payload is opaque data delivered back as Event.Payload when selected.
	Payload map[string]any
}

// Responder delivers messages back into a conversation. Implementations must
// be safe for concurrent use; the gateway handles conversations in parallel.
type Responder interface {
	// SendText delivers a Markdown-flavored text message.
	SendText(ctx context.Context, conversationID, markdown string) error

	// SendActions delivers a text message with attached quick actions.
	SendActions(ctx context.Context, conversationID, markdown string, actions []QuickAction) error
}

// Handler processes one inbound event. Adapters call it once per event and
// must not invoke it concurrently for the same conversation.
type Handler func(ctx context.Context, evt Event, out Responder)
