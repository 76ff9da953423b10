package controller

import "errors"

// Quick-action payloads travel out to the chat client and come back as
// untyped maps. Replay payloads are self-contained — they carry the query
// itself, not an index into the session — so a stale button from before a
// restart still works.
const (
	actionShowMore = "show_more"
	actionReplay   = "replay"
)

var errMalformedCallback = errors.New("controller: malformed action payload")

type callback struct {
	action  string
	query   string
	dataset string
}

// decodeCallback validates an echoed quick-action payload. Unknown extra
// fields are ignored; an unknown action or a replay without a query is
// malformed. Chat clients re-serialize payloads, so nothing about their
// shape is trusted.
func decodeCallback(payload map[string]any) (callback, error) {
	action, _ := payload["action"].(string)
	switch action {
	case actionShowMore:
		return callback{action: actionShowMore}, nil
	case actionReplay:
		query, _ := payload["query"].(string)
		if query == "" {
			return callback{}, errMalformedCallback
		}
		dataset, _ := payload["dataset"].(string)
		return callback{action: actionReplay, query: query, dataset: dataset}, nil
	default:
		return callback{}, errMalformedCallback
	}
}

func showMorePayload() map[string]any {
	return map[string]any{"action": actionShowMore}
}

func replayPayload(query, dataset string) map[string]any {
	p := map[string]any{"action": actionReplay, "query": query}
	if dataset != "" {
		p["dataset"] = dataset
	}
	return p
}
