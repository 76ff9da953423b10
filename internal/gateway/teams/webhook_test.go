package teams_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/colquisiri/teamsgw/internal/gateway/teams"
	"github.com/colquisiri/teamsgw/internal/gateway/transport"
)

// postActivity posts one activity JSON to the webhook and returns the status.
func postActivity(t *testing.T, wh *teams.Webhook, body []byte) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, req)
	return rec.Code
}

func TestWebhookMessageBecomesEvent(t *testing.T) {
	// The reply target: a fake connector service the activity's serviceUrl
	// points at.
	var replied teams.Activity
	serviceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&replied)
		w.WriteHeader(http.StatusOK)
	}))
	defer serviceSrv.Close()

	var got transport.Event
	handler := func(ctx context.Context, evt transport.Event, out transport.Responder) {
		got = evt
		if err := out.SendText(ctx, evt.ConversationID, "respuesta"); err != nil {
			t.Errorf("SendText: %v", err)
		}
	}

	wh := teams.NewWebhook(teams.NewConnector("", ""), "bot-id", handler)
	activity := map[string]any{
		"type":         "message",
		"id":           "act-1",
		"text":         "  dt: facturas  ",
		"serviceUrl":   serviceSrv.URL,
		"from":         map[string]any{"id": "user-1"},
		"conversation": map[string]any{"id": "conv-1"},
	}
	raw, _ := json.Marshal(activity)

	if code := postActivity(t, wh, raw); code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}

	if got.ConversationID != "conv-1" || got.SenderID != "user-1" {
		t.Errorf("event identity: %+v", got)
	}
	if got.Text != "dt: facturas" {
		t.Errorf("text must be trimmed: %q", got.Text)
	}
	if got.Payload != nil {
		t.Errorf("plain message must carry no payload: %v", got.Payload)
	}

	if replied.Text != "respuesta" || replied.ReplyToID != "act-1" {
		t.Errorf("reply activity: %+v", replied)
	}
}

func TestWebhookValueBecomesPayload(t *testing.T) {
	var got transport.Event
	handler := func(_ context.Context, evt transport.Event, _ transport.Responder) {
		got = evt
	}

	wh := teams.NewWebhook(teams.NewConnector("", ""), "bot-id", handler)
	raw, _ := json.Marshal(map[string]any{
		"type":         "message",
		"conversation": map[string]any{"id": "conv-1"},
		"value":        map[string]any{"action": "show_more"},
	})

	if code := postActivity(t, wh, raw); code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if got.Payload == nil || got.Payload["action"] != "show_more" {
		t.Errorf("payload: %v", got.Payload)
	}
}

func TestWebhookQuickActionsBecomeHeroCard(t *testing.T) {
	var replied map[string]any
	serviceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&replied)
		w.WriteHeader(http.StatusOK)
	}))
	defer serviceSrv.Close()

	handler := func(ctx context.Context, evt transport.Event, out transport.Responder) {
		err := out.SendActions(ctx, evt.ConversationID, "tabla", []transport.QuickAction{
			{Title: "Ver más", Payload: map[string]any{"action": "show_more"}},
		})
		if err != nil {
			t.Errorf("SendActions: %v", err)
		}
	}

	wh := teams.NewWebhook(teams.NewConnector("", ""), "bot-id", handler)
	raw, _ := json.Marshal(map[string]any{
		"type":         "message",
		"text":         "dt: todo",
		"serviceUrl":   serviceSrv.URL,
		"conversation": map[string]any{"id": "conv-1"},
	})
	postActivity(t, wh, raw)

	attachments, _ := replied["attachments"].([]any)
	if len(attachments) != 1 {
		t.Fatalf("attachments: %v", replied)
	}
	att := attachments[0].(map[string]any)
	if att["contentType"] != "application/vnd.microsoft.card.hero" {
		t.Errorf("contentType: %v", att["contentType"])
	}
	card := att["content"].(map[string]any)
	buttons, _ := card["buttons"].([]any)
	if card["text"] != "tabla" || len(buttons) != 1 {
		t.Fatalf("card: %v", card)
	}
	button := buttons[0].(map[string]any)
	if button["type"] != "messageBack" || button["title"] != "Ver más" {
		t.Errorf("button: %v", button)
	}
	value := button["value"].(map[string]any)
	if value["action"] != "show_more" {
		t.Errorf("button value must round-trip the payload: %v", value)
	}
}

func TestWebhookGreetsOnConversationUpdate(t *testing.T) {
	var replied teams.Activity
	serviceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&replied)
		w.WriteHeader(http.StatusOK)
	}))
	defer serviceSrv.Close()

	handlerCalled := false
	handler := func(context.Context, transport.Event, transport.Responder) {
		handlerCalled = true
	}

	wh := teams.NewWebhook(teams.NewConnector("", ""), "bot-id", handler)
	raw, _ := json.Marshal(map[string]any{
		"type":         "conversationUpdate",
		"serviceUrl":   serviceSrv.URL,
		"conversation": map[string]any{"id": "conv-1"},
		"membersAdded": []map[string]any{
			{"id": "bot-id"},
			{"id": "user-1"},
		},
	})

	if code := postActivity(t, wh, raw); code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if handlerCalled {
		t.Error("conversationUpdate must not reach the event handler")
	}
	if replied.Text == "" {
		t.Error("expected a greeting reply")
	}
}

func TestWebhookRejectsBadInput(t *testing.T) {
	handler := func(context.Context, transport.Event, transport.Responder) {
		t.Error("handler must not run")
	}
	wh := teams.NewWebhook(teams.NewConnector("", ""), "bot-id", handler)

	if code := postActivity(t, wh, []byte("{not json")); code != http.StatusBadRequest {
		t.Errorf("bad JSON: got %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: got %d", rec.Code)
	}
}

func TestWebhookIgnoresOtherActivityTypes(t *testing.T) {
	handler := func(context.Context, transport.Event, transport.Responder) {
		t.Error("handler must not run")
	}
	wh := teams.NewWebhook(teams.NewConnector("", ""), "bot-id", handler)

	raw, _ := json.Marshal(map[string]any{"type": "typing"})
	if code := postActivity(t, wh, raw); code != http.StatusOK {
		t.Errorf("typing activity: got %d", code)
	}
}
