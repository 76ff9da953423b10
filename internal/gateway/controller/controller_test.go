package controller_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/colquisiri/teamsgw/internal/gateway/controller"
	"github.com/colquisiri/teamsgw/internal/gateway/n2sql"
	"github.com/colquisiri/teamsgw/internal/gateway/session"
	"github.com/colquisiri/teamsgw/internal/gateway/transport"
	"github.com/colquisiri/teamsgw/internal/gateway/trigger"
)

// fakeBackend answers from a canned response and records what was asked.
// Safe for concurrent use, like the real client.
type fakeBackend struct {
	response []byte
	err      error

	mu    sync.Mutex
	calls []string
}

func (f *fakeBackend) Ask(_ context.Context, query, dataset string) (*n2sql.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query+"|"+dataset)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &n2sql.Result{Raw: f.response}, nil
}

// sentMessage captures one outbound message.
type sentMessage struct {
	Markdown string
	Actions  []transport.QuickAction
}

type capturingResponder struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *capturingResponder) SendText(_ context.Context, _, markdown string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{Markdown: markdown})
	return nil
}

func (r *capturingResponder) SendActions(_ context.Context, _, markdown string, actions []transport.QuickAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{Markdown: markdown, Actions: actions})
	return nil
}

func (r *capturingResponder) last(t *testing.T) sentMessage {
	t.Helper()
	if len(r.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return r.sent[len(r.sent)-1]
}

// tableResponse builds a columns+rows payload with n numbered rows.
func tableResponse(n int) []byte {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = fmt.Sprintf(`[%d, "fila-%d"]`, i+1, i+1)
	}
	return []byte(`{"columns": ["n", "etiqueta"], "rows": [` + strings.Join(rows, ", ") + `]}`)
}

func newController(backend *fakeBackend, st session.Store, cfg controller.Config) *controller.Controller {
	return controller.New(trigger.NewParser(nil), backend, st, cfg)
}

func textEvent(text string) transport.Event {
	return transport.Event{ConversationID: "conv", SenderID: "user", Text: text}
}

func payloadEvent(payload map[string]any) transport.Event {
	return transport.Event{ConversationID: "conv", SenderID: "user", Payload: payload}
}

func TestNonTriggerGetsHelp(t *testing.T) {
	backend := &fakeBackend{response: tableResponse(1)}
	out := &capturingResponder{}
	c := newController(backend, session.NewMemoryStore(), controller.Config{})

	c.HandleEvent(context.Background(), textEvent("hola, ¿qué tal?"), out)

	if len(backend.calls) != 0 {
		t.Errorf("non-trigger text must not reach the backend: %v", backend.calls)
	}
	if !strings.Contains(out.last(t).Markdown, "dt:") {
		t.Errorf("help must explain the grammar: %q", out.last(t).Markdown)
	}
}

func TestHelpOffersCannedQueries(t *testing.T) {
	out := &capturingResponder{}
	c := newController(&fakeBackend{response: tableResponse(1)}, session.NewMemoryStore(), controller.Config{
		CannedQueries: []controller.CannedQuery{
			{Title: "Facturas pendientes", Query: "facturas pendientes", Dataset: "odoo"},
		},
	})

	c.HandleEvent(context.Background(), textEvent("hola"), out)

	msg := out.last(t)
	if len(msg.Actions) != 1 || msg.Actions[0].Title != "Facturas pendientes" {
		t.Fatalf("actions: got %+v", msg.Actions)
	}
	if msg.Actions[0].Payload["action"] != "replay" || msg.Actions[0].Payload["query"] != "facturas pendientes" {
		t.Errorf("canned payload must be a replay: %v", msg.Actions[0].Payload)
	}
}

func TestTriggerQueriesBackendAndRendersTable(t *testing.T) {
	backend := &fakeBackend{response: tableResponse(3)}
	out := &capturingResponder{}
	c := newController(backend, session.NewMemoryStore(), controller.Config{})

	c.HandleEvent(context.Background(), textEvent("dt[ventas]: facturas pendientes"), out)

	if len(backend.calls) != 1 || backend.calls[0] != "facturas pendientes|ventas" {
		t.Fatalf("backend calls: %v", backend.calls)
	}
	if len(out.sent) != 2 {
		t.Fatalf("want ack then result, got %d messages", len(out.sent))
	}
	if !strings.Contains(out.sent[0].Markdown, "consultando") {
		t.Errorf("first message must be the ack: %q", out.sent[0].Markdown)
	}
	if !strings.Contains(out.sent[1].Markdown, "n | etiqueta") {
		t.Errorf("result must be a table: %q", out.sent[1].Markdown)
	}
	if len(out.sent[1].Actions) != 0 {
		t.Errorf("3 rows fit the first page, no actions expected: %+v", out.sent[1].Actions)
	}
}

func TestBackendFailureLeavesSessionUntouched(t *testing.T) {
	st := session.NewMemoryStore()
	backend := &fakeBackend{response: tableResponse(30)}
	out := &capturingResponder{}
	c := newController(backend, st, controller.Config{})
	ctx := context.Background()

	c.HandleEvent(ctx, textEvent("dt: primera consulta"), out)

	backend.err = errors.New("boom")
	c.HandleEvent(ctx, textEvent("dt: segunda consulta"), out)

	if !strings.Contains(out.last(t).Markdown, "inténtalo más tarde") {
		t.Errorf("failure must be reported to the user: %q", out.last(t).Markdown)
	}

	sess, _ := st.Get(ctx, "conv")
	if sess.LastResult == nil || sess.LastResult.Query != "primera consulta" {
		t.Fatalf("failed query must not replace the last result: %+v", sess.LastResult)
	}
	if len(sess.History) != 1 {
		t.Errorf("failed query must not enter the history: %v", sess.History)
	}

	// Show-more still works against the surviving result.
	backend.err = nil
	out.sent = nil
	c.HandleEvent(ctx, payloadEvent(map[string]any{"action": "show_more"}), out)
	if !strings.Contains(out.last(t).Markdown, "fila-30") {
		t.Errorf("expanded page must include later rows: %q", out.last(t).Markdown)
	}
}

func TestPagination(t *testing.T) {
	st := session.NewMemoryStore()
	backend := &fakeBackend{response: tableResponse(60)}
	out := &capturingResponder{}
	c := newController(backend, st, controller.Config{InitialRows: 20, ExpandedRows: 50})
	ctx := context.Background()

	c.HandleEvent(ctx, textEvent("dt: todo"), out)

	first := out.last(t)
	if !strings.Contains(first.Markdown, "20/60 filas") {
		t.Fatalf("first page must show 20 of 60: %q", first.Markdown)
	}
	if len(first.Actions) == 0 || first.Actions[0].Title != "Ver más" {
		t.Fatalf("truncated result must offer show-more: %+v", first.Actions)
	}

	c.HandleEvent(ctx, payloadEvent(first.Actions[0].Payload), out)
	second := out.last(t)
	if !strings.Contains(second.Markdown, "50/60 filas") {
		t.Fatalf("expanded page must show 50 of 60: %q", second.Markdown)
	}
	if len(second.Actions) == 0 {
		t.Fatal("still-truncated result must re-offer show-more")
	}

	c.HandleEvent(ctx, payloadEvent(second.Actions[0].Payload), out)
	third := out.last(t)
	if strings.Contains(third.Markdown, "filas") {
		t.Fatalf("full dump must carry no truncation note: %q", third.Markdown)
	}
	if !strings.Contains(third.Markdown, "fila-60") {
		t.Errorf("full dump must include the last row: %q", third.Markdown)
	}

	// A further show-more is a polite no-op.
	c.HandleEvent(ctx, payloadEvent(map[string]any{"action": "show_more"}), out)
	if out.last(t).Markdown != "Ya se muestran todas las filas." {
		t.Errorf("after the full dump: got %q", out.last(t).Markdown)
	}
}

func TestShowMoreSkipsExpandedStageWhenItCoversEverything(t *testing.T) {
	st := session.NewMemoryStore()
	backend := &fakeBackend{response: tableResponse(30)}
	out := &capturingResponder{}
	c := newController(backend, st, controller.Config{InitialRows: 20, ExpandedRows: 50})
	ctx := context.Background()

	c.HandleEvent(ctx, textEvent("dt: todo"), out)
	c.HandleEvent(ctx, payloadEvent(map[string]any{"action": "show_more"}), out)

	expanded := out.last(t)
	if strings.Contains(expanded.Markdown, "filas") {
		t.Errorf("30 rows fit the expanded page, no note expected: %q", expanded.Markdown)
	}
	if len(expanded.Actions) != 0 {
		t.Errorf("nothing left to show, no actions expected: %+v", expanded.Actions)
	}

	c.HandleEvent(ctx, payloadEvent(map[string]any{"action": "show_more"}), out)
	if out.last(t).Markdown != "Ya se muestran todas las filas." {
		t.Errorf("got %q", out.last(t).Markdown)
	}
}

func TestShowMoreWithoutSession(t *testing.T) {
	out := &capturingResponder{}
	c := newController(&fakeBackend{}, session.NewMemoryStore(), controller.Config{})

	c.HandleEvent(context.Background(), payloadEvent(map[string]any{"action": "show_more"}), out)

	if out.last(t).Markdown != "No hay ninguna consulta reciente que ampliar." {
		t.Errorf("got %q", out.last(t).Markdown)
	}
}

func TestMalformedCallback(t *testing.T) {
	backend := &fakeBackend{response: tableResponse(1)}
	out := &capturingResponder{}
	c := newController(backend, session.NewMemoryStore(), controller.Config{})
	ctx := context.Background()

	for _, payload := range []map[string]any{
		{"action": "explode"},
		{"action": "replay"},
		{"action": "replay", "query": ""},
		{"garbage": true},
	} {
		c.HandleEvent(ctx, payloadEvent(payload), out)
		if !strings.Contains(out.last(t).Markdown, "interpretar") {
			t.Errorf("payload %v: got %q", payload, out.last(t).Markdown)
		}
	}
	if len(backend.calls) != 0 {
		t.Errorf("malformed payloads must not reach the backend: %v", backend.calls)
	}
}

func TestReplayReRunsQueryWithoutAck(t *testing.T) {
	st := session.NewMemoryStore()
	backend := &fakeBackend{response: tableResponse(2)}
	out := &capturingResponder{}
	c := newController(backend, st, controller.Config{})
	ctx := context.Background()

	c.HandleEvent(ctx, payloadEvent(map[string]any{
		"action": "replay", "query": "ventas del mes", "dataset": "ventas",
	}), out)

	if len(backend.calls) != 1 || backend.calls[0] != "ventas del mes|ventas" {
		t.Fatalf("backend calls: %v", backend.calls)
	}
	if len(out.sent) != 1 {
		t.Fatalf("replay must not send an ack, got %d messages", len(out.sent))
	}

	sess, _ := st.Get(ctx, "conv")
	if sess.LastResult == nil || sess.LastResult.Query != "ventas del mes" ||
		sess.LastResult.Stage != session.StageInitial {
		t.Errorf("replay must re-persist the result: %+v", sess.LastResult)
	}
}

func TestConcurrentEventsForOneConversation(t *testing.T) {
	st := session.NewMemoryStore()
	backend := &fakeBackend{response: tableResponse(60)}
	out := &capturingResponder{}
	c := newController(backend, st, controller.Config{
		InitialRows:  20,
		ExpandedRows: 50,
		HistoryLimit: 20,
	})
	ctx := context.Background()

	// Mixed queries and show-more taps arriving at once for one
	// conversation. Each query's read-modify-write must land whole: with
	// interleaved session updates some queries would vanish from the
	// history.
	const queries = 8
	var wg sync.WaitGroup
	for i := 0; i < queries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.HandleEvent(ctx, textEvent(fmt.Sprintf("dt: consulta %d", i)), out)
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.HandleEvent(ctx, payloadEvent(map[string]any{"action": "show_more"}), out)
		}()
	}
	wg.Wait()

	sess, err := st.Get(ctx, "conv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.History) != queries {
		t.Fatalf("history: got %d entries, want %d (lost update)", len(sess.History), queries)
	}
	seen := make(map[string]bool, queries)
	for _, h := range sess.History {
		if seen[h.Query] {
			t.Errorf("duplicate history entry %q", h.Query)
		}
		seen[h.Query] = true
	}
	for i := 0; i < queries; i++ {
		if q := fmt.Sprintf("consulta %d", i); !seen[q] {
			t.Errorf("history lost %q", q)
		}
	}

	if sess.LastResult == nil {
		t.Fatal("LastResult missing after concurrent queries")
	}
	switch sess.LastResult.Stage {
	case session.StageInitial, session.StageExpanded, session.StageDone:
	default:
		t.Errorf("stage: got %q", sess.LastResult.Stage)
	}
}

func TestResultOffersHistoryReplays(t *testing.T) {
	st := session.NewMemoryStore()
	backend := &fakeBackend{response: tableResponse(2)}
	out := &capturingResponder{}
	c := newController(backend, st, controller.Config{})
	ctx := context.Background()

	c.HandleEvent(ctx, textEvent("dt: consulta uno"), out)
	c.HandleEvent(ctx, textEvent("dt: consulta dos"), out)

	msg := out.last(t)
	if len(msg.Actions) != 1 {
		t.Fatalf("want one replay action, got %+v", msg.Actions)
	}
	a := msg.Actions[0]
	if !strings.Contains(a.Title, "consulta uno") {
		t.Errorf("replay title: got %q", a.Title)
	}
	if a.Payload["action"] != "replay" || a.Payload["query"] != "consulta uno" {
		t.Errorf("replay payload: got %v", a.Payload)
	}
}

func TestReplayActionsCappedAtThree(t *testing.T) {
	st := session.NewMemoryStore()
	backend := &fakeBackend{response: tableResponse(2)}
	out := &capturingResponder{}
	c := newController(backend, st, controller.Config{HistoryLimit: 10})
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		c.HandleEvent(ctx, textEvent(fmt.Sprintf("dt: consulta %d", i)), out)
	}

	// Small result, so no "Ver más" slot: even then no more than three
	// replay buttons accompany the table.
	msg := out.last(t)
	if len(msg.Actions) != 3 {
		t.Fatalf("want 3 replay actions, got %d: %+v", len(msg.Actions), msg.Actions)
	}
	for i, wantQuery := range []string{"consulta 5", "consulta 4", "consulta 3"} {
		if got := msg.Actions[i].Payload["query"]; got != wantQuery {
			t.Errorf("Actions[%d]: got %v, want %q", i, got, wantQuery)
		}
	}

	// With a truncated result the show-more slot comes on top of the same
	// replay cap.
	backend.response = tableResponse(30)
	c.HandleEvent(ctx, textEvent("dt: consulta grande"), out)
	msg = out.last(t)
	if len(msg.Actions) != 4 {
		t.Fatalf("want show-more plus 3 replays, got %d: %+v", len(msg.Actions), msg.Actions)
	}
	if msg.Actions[0].Title != "Ver más" {
		t.Errorf("Actions[0]: got %q, want the show-more slot first", msg.Actions[0].Title)
	}
}
