// Package teams adapts the Microsoft Bot Framework protocol to the
// gateway's transport abstraction: a webhook that receives activities and a
// connector client that posts replies.
//
// Inbound JWT validation is delegated to the fronting reverse proxy, which
// terminates TLS and verifies the Bot Framework token before forwarding.
package teams

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/colquisiri/teamsgw/common/trace"
	"github.com/colquisiri/teamsgw/internal/gateway/transport"
)

// maxActivityBytes caps the inbound request body.
const maxActivityBytes = 1 * 1024 * 1024

const greeting = "¡Hola! Estoy listo en este canal de Teams."

// Webhook is the HTTP endpoint the Bot Framework posts activities to. It
// converts message activities into transport events and hands them to the
// configured handler, with a per-request responder bound to the activity's
// conversation.
type Webhook struct {
	connector *Connector
	handler   transport.Handler
	botID     string
}

// NewWebhook builds the webhook endpoint. botID is the bot's own channel
// account ID, used to skip self-referential conversationUpdate members.
func NewWebhook(connector *Connector, botID string, handler transport.Handler) *Webhook {
	return &Webhook{connector: connector, handler: handler, botID: botID}
}

func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var activity Activity
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActivityBytes))
	if err := dec.Decode(&activity); err != nil {
		slog.Warn("dropping undecodable activity", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := trace.WithTraceID(r.Context(), trace.GenerateID())

	switch activity.Type {
	case "message":
		wh.handleMessage(ctx, activity)
	case "conversationUpdate":
		wh.handleConversationUpdate(ctx, activity)
	default:
		slog.Debug("ignoring activity", "type", activity.Type)
	}

	// The Bot Framework only needs an acknowledgement; replies travel
	// through the connector.
	w.WriteHeader(http.StatusOK)
}

func (wh *Webhook) handleMessage(ctx context.Context, activity Activity) {
	evt := transport.Event{
		ConversationID: activity.Conversation.ID,
		SenderID:       activity.From.ID,
		Text:           strings.TrimSpace(activity.Text),
		Payload:        activity.Value,
	}
	if evt.ConversationID == "" {
		slog.Warn("dropping activity without conversation",
			"trace_id", trace.FromContext(ctx))
		return
	}

	slog.Info("teams event",
		"trace_id", trace.FromContext(ctx),
		"conversation", evt.ConversationID,
		"has_payload", evt.Payload != nil)

	out := &activityResponder{
		connector:  wh.connector,
		serviceURL: activity.ServiceURL,
		replyToID:  activity.ID,
	}
	// Handled synchronously: the Bot Framework tolerates slow webhook
	// responses better than it tolerates replies for conversations it has
	// already forgotten.
	wh.handler(ctx, evt, out)
}

func (wh *Webhook) handleConversationUpdate(ctx context.Context, activity Activity) {
	for _, member := range activity.MembersAdded {
		if member.ID == "" || member.ID == wh.botID {
			continue
		}
		err := wh.connector.ReplyText(ctx, activity.ServiceURL,
			activity.Conversation.ID, activity.ID, greeting)
		if err != nil {
			slog.Error("greeting failed",
				"conversation", activity.Conversation.ID, "error", err)
		}
		return
	}
}

// activityResponder replies into the conversation of one inbound activity.
type activityResponder struct {
	connector  *Connector
	serviceURL string
	replyToID  string
}

func (a *activityResponder) SendText(ctx context.Context, conversationID, markdown string) error {
	return a.connector.ReplyText(ctx, a.serviceURL, conversationID, a.replyToID, markdown)
}

func (a *activityResponder) SendActions(ctx context.Context, conversationID, markdown string, actions []transport.QuickAction) error {
	card := HeroCard{Text: markdown}
	for _, action := range actions {
		card.Buttons = append(card.Buttons, CardAction{
			Type:  actionTypeMessageBack,
			Title: action.Title,
			Value: action.Payload,
		})
	}
	return a.connector.ReplyCard(ctx, a.serviceURL, conversationID, a.replyToID, card)
}
