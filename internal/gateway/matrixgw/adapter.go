// Package matrixgw is the Matrix chat surface of the gateway. It syncs
// against a homeserver, turns room messages into transport events and sends
// results back as formatted messages.
//
// Matrix has no interactive card buttons, so quick actions are emulated: the
// options are appended to the message as a numbered list, and a follow-up
// message consisting of a bare number (or the exact option title) selects
// the action.
package matrixgw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/colquisiri/teamsgw/common/trace"
	"github.com/colquisiri/teamsgw/internal/gateway/transport"
)

// Config holds the Matrix connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are the room IDs the gateway listens in. Messages in any other
	// room are ignored.
	Rooms []string
}

// Adapter connects one Matrix account to the gateway. It implements
// transport.Responder; room IDs double as conversation IDs.
type Adapter struct {
	client  *mautrix.Client
	cfg     Config
	handler transport.Handler
	stopCh  chan struct{}

	mu      sync.Mutex
	offered map[string][]transport.QuickAction
}

// New creates the adapter without connecting yet.
func New(cfg Config, handler transport.Handler) (*Adapter, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrixgw: create client: %w", err)
	}
	return &Adapter{
		client:  client,
		cfg:     cfg,
		handler: handler,
		stopCh:  make(chan struct{}),
		offered: make(map[string][]transport.QuickAction),
	}, nil
}

// Start joins the configured rooms and begins syncing in the background,
// reconnecting with exponential back-off. Without the reconnect loop a
// transient homeserver error would silently kill the sync goroutine and
// leave the gateway deaf.
func (a *Adapter) Start(ctx context.Context) error {
	syncer := a.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, a.handleEvent)

	for _, room := range a.cfg.Rooms {
		if err := a.joinRoom(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrixgw: join room %s: %w", room, err)
		}
	}

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin
			if err := a.client.Sync(); err != nil {
				select {
				case <-a.stopCh:
					return
				default:
				}
				slog.Error("matrix sync stopped; reconnecting", "error", err, "backoff", backoff)
				select {
				case <-a.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			return
		}
	}()

	return nil
}

// Stop terminates the sync loop.
func (a *Adapter) Stop() {
	close(a.stopCh)
	a.client.StopSync()
}

func (a *Adapter) joinRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := a.client.JoinRoomByID(ctx, roomID); err != nil {
		// M_FORBIDDEN usually means the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("join room: already a member or access denied", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

// handleEvent filters sync events down to text messages from other users in
// the configured rooms, resolves numbered option replies, and dispatches.
func (a *Adapter) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(a.cfg.UserID) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	if !a.listensIn(evt.RoomID.String()) {
		return
	}

	roomID := evt.RoomID.String()
	text := strings.TrimSpace(content.Body)
	e := transport.Event{
		ConversationID: roomID,
		SenderID:       evt.Sender.String(),
		Text:           text,
	}
	if payload, ok := a.selectOffered(roomID, text); ok {
		e.Text = ""
		e.Payload = payload
	}

	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	slog.Info("matrix event",
		"trace_id", trace.FromContext(ctx),
		"room", roomID,
		"has_payload", e.Payload != nil)
	a.handler(ctx, e, a)
}

func (a *Adapter) listensIn(roomID string) bool {
	for _, r := range a.cfg.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// selectOffered resolves a reply against the room's outstanding options:
// a bare 1-based number or an exact (case-insensitive) title. The options
// stay outstanding until the next SendActions replaces them, so the user can
// pick "show more" repeatedly.
func (a *Adapter) selectOffered(roomID, text string) (map[string]any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	options := a.offered[roomID]
	if len(options) == 0 {
		return nil, false
	}

	if n, err := strconv.Atoi(text); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1].Payload, true
		}
		return nil, false
	}
	for _, opt := range options {
		if strings.EqualFold(text, opt.Title) {
			return opt.Payload, true
		}
	}
	return nil, false
}

// SendText implements transport.Responder.
func (a *Adapter) SendText(ctx context.Context, conversationID, markdown string) error {
	content := event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          markdown,
		Format:        event.FormatHTML,
		FormattedBody: markdownToHTML(markdown),
	}
	_, err := a.client.SendMessageEvent(ctx, id.RoomID(conversationID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("matrixgw: send message: %w", err)
	}
	return nil
}

// SendActions implements transport.Responder by appending a numbered option
// list and remembering the options for the room.
func (a *Adapter) SendActions(ctx context.Context, conversationID, markdown string, actions []transport.QuickAction) error {
	var b strings.Builder
	b.WriteString(markdown)
	b.WriteString("\n")
	for i, action := range actions {
		fmt.Fprintf(&b, "\n%d. %s", i+1, action.Title)
	}
	b.WriteString("\n\nResponde con el número de la opción.")

	if err := a.SendText(ctx, conversationID, b.String()); err != nil {
		return err
	}

	a.mu.Lock()
	a.offered[conversationID] = actions
	a.mu.Unlock()
	return nil
}
