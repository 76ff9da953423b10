// Package controller implements the gateway's conversation logic: trigger
// classification, backend queries, result pagination and query replay. It is
// written against the transport abstraction and never sees platform types.
package controller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/colquisiri/teamsgw/common/trace"
	"github.com/colquisiri/teamsgw/internal/gateway/format"
	"github.com/colquisiri/teamsgw/internal/gateway/n2sql"
	"github.com/colquisiri/teamsgw/internal/gateway/session"
	"github.com/colquisiri/teamsgw/internal/gateway/transport"
	"github.com/colquisiri/teamsgw/internal/gateway/trigger"
)

// User-facing strings. The deployment audience is Spanish-speaking.
const (
	ackMessage          = "Entendido, consultando…"
	backendErrorMessage = "No pude resolver la consulta, inténtalo más tarde."
	noLastResultMessage = "No hay ninguna consulta reciente que ampliar."
	allShownMessage     = "Ya se muestran todas las filas."
	badActionMessage    = "No he podido interpretar esa acción."
	showMoreTitle       = "Ver más"

	helpMessage = "Puedo consultar los datos de la empresa por ti.\n\n" +
		"- `dt: tu pregunta` — consulta el origen por defecto\n" +
		"- `dt[ventas]: tu pregunta` — consulta otro origen de datos\n" +
		"- `consulta tu pregunta` — forma en lenguaje natural\n\n" +
		"Por ejemplo: `dt: facturas pendientes de cobro`"
)

// maxReplayActions caps how many history buttons accompany a result.
const maxReplayActions = 3

// CannedQuery is a predefined query offered as a quick pick in the help
// message.
type CannedQuery struct {
	Title   string
	Query   string
	Dataset string
}

// Config carries the controller's tunables. Zero values fall back to the
// documented defaults.
type Config struct {
	// InitialRows is the row cap of the first page. Default 20.
	InitialRows int
	// ExpandedRows is the row cap after one "show more". Default 50.
	ExpandedRows int
	// HistoryLimit caps the per-conversation replay history. Default 5.
	HistoryLimit int
	// ShowSQL echoes the backend's generated SQL under each table.
	ShowSQL bool
	// CannedQueries are offered as quick picks with the help message.
	CannedQueries []CannedQuery
}

// Controller routes inbound events to the backend and the session store.
// Its HandleEvent method is a transport.Handler.
type Controller struct {
	triggers *trigger.Parser
	backend  n2sql.Client
	sessions session.Store
	cfg      Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Controller. triggers, backend and sessions are required.
func New(triggers *trigger.Parser, backend n2sql.Client, sessions session.Store, cfg Config) *Controller {
	if cfg.InitialRows <= 0 {
		cfg.InitialRows = 20
	}
	if cfg.ExpandedRows <= 0 {
		cfg.ExpandedRows = 50
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	return &Controller{
		triggers: triggers,
		backend:  backend,
		sessions: sessions,
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// HandleEvent processes one inbound event. Events for the same conversation
// are serialized so concurrent show-more taps cannot race the session state.
func (c *Controller) HandleEvent(ctx context.Context, evt transport.Event, out transport.Responder) {
	unlock := c.lockConversation(evt.ConversationID)
	defer unlock()

	if evt.Payload != nil {
		c.handleCallback(ctx, evt, out)
		return
	}

	m, ok := c.triggers.Classify(evt.Text)
	if !ok {
		c.sendHelp(ctx, evt.ConversationID, out)
		return
	}
	c.runQuery(ctx, evt.ConversationID, out, m.Query, m.Dataset, true)
}

// lockConversation takes the per-conversation mutex, creating it on first
// use, and returns its unlock.
func (c *Controller) lockConversation(id string) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *Controller) sendHelp(ctx context.Context, conversationID string, out transport.Responder) {
	if len(c.cfg.CannedQueries) == 0 {
		c.send(ctx, out, conversationID, helpMessage)
		return
	}
	actions := make([]transport.QuickAction, 0, len(c.cfg.CannedQueries))
	for _, q := range c.cfg.CannedQueries {
		actions = append(actions, transport.QuickAction{
			Title:   q.Title,
			Payload: replayPayload(q.Query, q.Dataset),
		})
	}
	if err := out.SendActions(ctx, conversationID, helpMessage, actions); err != nil {
		slog.Error("send help failed", "conversation", conversationID, "error", err)
	}
}

// runQuery asks the backend and, only on success, replaces the session's
// last result and pushes the query onto the history. A backend failure
// leaves the session exactly as it was, so show-more keeps working against
// the previous result.
func (c *Controller) runQuery(ctx context.Context, conversationID string, out transport.Responder, query, dataset string, withAck bool) {
	if withAck {
		c.send(ctx, out, conversationID, ackMessage)
	}

	res, err := c.backend.Ask(ctx, query, dataset)
	if err != nil {
		slog.Error("backend query failed",
			"conversation", conversationID,
			"trace_id", trace.FromContext(ctx),
			"query", query,
			"error", err)
		c.send(ctx, out, conversationID, backendErrorMessage)
		return
	}

	sess, err := c.sessions.Get(ctx, conversationID)
	if err != nil {
		slog.Error("session load failed", "conversation", conversationID, "error", err)
		sess = session.Session{}
	}
	sess.LastResult = &session.LastResult{
		Query:   query,
		Dataset: dataset,
		Raw:     res.Raw,
		Stage:   session.StageInitial,
	}
	sess.PushHistory(session.HistoryEntry{Query: query, Dataset: dataset}, c.cfg.HistoryLimit)
	if err := c.sessions.Put(ctx, conversationID, sess); err != nil {
		// The user still gets the answer; only show-more degrades.
		slog.Error("session save failed", "conversation", conversationID, "error", err)
	}

	md := format.Render(res, c.cfg.InitialRows, c.cfg.ShowSQL)
	actions := c.followUps(res.RowTotal() > c.cfg.InitialRows, sess.History, query, dataset)
	if len(actions) == 0 {
		c.send(ctx, out, conversationID, md)
		return
	}
	if err := out.SendActions(ctx, conversationID, md, actions); err != nil {
		slog.Error("send result failed", "conversation", conversationID, "error", err)
	}
}

// followUps assembles the quick actions under a result: an optional
// "show more" plus up to maxReplayActions history replays, skipping the
// query just answered.
func (c *Controller) followUps(truncated bool, history []session.HistoryEntry, query, dataset string) []transport.QuickAction {
	var actions []transport.QuickAction
	if truncated {
		actions = append(actions, transport.QuickAction{
			Title:   showMoreTitle,
			Payload: showMorePayload(),
		})
	}
	replays := 0
	for _, h := range history {
		if h.Query == query && h.Dataset == dataset {
			continue
		}
		actions = append(actions, transport.QuickAction{
			Title:   "↺ " + truncateTitle(h.Query, 40),
			Payload: replayPayload(h.Query, h.Dataset),
		})
		replays++
		if replays >= maxReplayActions {
			break
		}
	}
	return actions
}

func (c *Controller) handleCallback(ctx context.Context, evt transport.Event, out transport.Responder) {
	cb, err := decodeCallback(evt.Payload)
	if err != nil {
		slog.Warn("dropping malformed action payload",
			"conversation", evt.ConversationID, "error", err)
		c.send(ctx, out, evt.ConversationID, badActionMessage)
		return
	}

	switch cb.action {
	case actionReplay:
		c.runQuery(ctx, evt.ConversationID, out, cb.query, cb.dataset, false)
	case actionShowMore:
		c.showMore(ctx, evt.ConversationID, out)
	}
}

// showMore advances the pagination of the conversation's last result. The
// stored raw result is re-rendered with a larger cap; the backend is never
// re-queried.
func (c *Controller) showMore(ctx context.Context, conversationID string, out transport.Responder) {
	sess, err := c.sessions.Get(ctx, conversationID)
	if err != nil {
		slog.Error("session load failed", "conversation", conversationID, "error", err)
		c.send(ctx, out, conversationID, backendErrorMessage)
		return
	}
	last := sess.LastResult
	if last == nil {
		c.send(ctx, out, conversationID, noLastResultMessage)
		return
	}

	res := &n2sql.Result{Raw: last.Raw}
	switch last.Stage {
	case session.StageInitial:
		md := format.Render(res, c.cfg.ExpandedRows, c.cfg.ShowSQL)
		last.Stage = session.StageExpanded
		if res.RowTotal() <= c.cfg.ExpandedRows {
			last.Stage = session.StageDone
		}
		c.persist(ctx, conversationID, sess)
		if last.Stage == session.StageExpanded {
			if err := out.SendActions(ctx, conversationID, md, []transport.QuickAction{
				{Title: showMoreTitle, Payload: showMorePayload()},
			}); err != nil {
				slog.Error("send result failed", "conversation", conversationID, "error", err)
			}
			return
		}
		c.send(ctx, out, conversationID, md)

	case session.StageExpanded:
		md := format.Render(res, -1, c.cfg.ShowSQL)
		last.Stage = session.StageDone
		c.persist(ctx, conversationID, sess)
		c.send(ctx, out, conversationID, md)

	default:
		c.send(ctx, out, conversationID, allShownMessage)
	}
}

func (c *Controller) persist(ctx context.Context, conversationID string, sess session.Session) {
	if err := c.sessions.Put(ctx, conversationID, sess); err != nil {
		slog.Error("session save failed", "conversation", conversationID, "error", err)
	}
}

func (c *Controller) send(ctx context.Context, out transport.Responder, conversationID, markdown string) {
	if err := out.SendText(ctx, conversationID, markdown); err != nil {
		slog.Error("send failed", "conversation", conversationID, "error", err)
	}
}

// truncateTitle shortens a query for use as a button label.
func truncateTitle(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
