// Package trigger recognizes the query grammar in free-form chat text.
//
// A message invokes the gateway when it starts with one of the configured
// trigger prefixes, either in simple form ("dt: facturas", "consulta
// facturas") or in header form with an inline dataset override
// ("dt[odoo]: facturas"). Everything else is conversational chatter and is
// answered with the help message.
package trigger

import "strings"

// DefaultPrefixes are the trigger prefixes used when none are configured.
// A prefix ending in ":" matches the colon grammar; a bare word matches when
// followed by whitespace.
var DefaultPrefixes = []string{"dt:", "consulta", "n2sql:"}

// Match is a positive classification result. Query is never empty; Dataset
// is empty unless the header form carried an override.
type Match struct {
	Query   string
	Dataset string
}

// Parser classifies and extracts trigger matches for a fixed prefix set.
type Parser struct {
	// colon-form prefixes, lower-case, including the trailing ":".
	colonPrefixes []string
	// word-form prefixes, lower-case, no trailing separator.
	wordPrefixes []string
	// bases of the colon-form prefixes ("dt:" → "dt"), for the header form.
	bases []string
}

// NewParser builds a Parser from the configured prefix list. Prefix matching
// is case-insensitive; empty entries are ignored. A nil or empty list falls
// back to DefaultPrefixes.
func NewParser(prefixes []string) *Parser {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	p := &Parser{}
	for _, raw := range prefixes {
		pre := strings.ToLower(strings.TrimSpace(raw))
		if pre == "" {
			continue
		}
		if strings.HasSuffix(pre, ":") {
			p.colonPrefixes = append(p.colonPrefixes, pre)
			p.bases = append(p.bases, strings.TrimSuffix(pre, ":"))
		} else {
			p.wordPrefixes = append(p.wordPrefixes, pre)
		}
	}
	return p
}

// Classify reports whether text invokes the query grammar and, if so, returns
// the extracted query and optional dataset override. Empty or whitespace-only
// input never matches, and a positive match always has a non-empty Query.
func (p *Parser) Classify(text string) (Match, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !p.matches(trimmed) {
		return Match{}, false
	}
	m := p.Extract(trimmed)
	if m.Query == "" {
		return Match{}, false
	}
	return m, true
}

// matches implements the recognition rule without extracting anything.
func (p *Parser) matches(text string) bool {
	lower := strings.ToLower(text)
	for _, pre := range p.colonPrefixes {
		if strings.HasPrefix(lower, pre) {
			return true
		}
	}
	for _, pre := range p.wordPrefixes {
		if strings.HasPrefix(lower, pre+" ") {
			return true
		}
	}
	// Header form: "<base>[<dataset>]:" before the first colon.
	if i := strings.IndexByte(text, ':'); i >= 0 {
		return p.isBase(headerBase(text[:i]))
	}
	return false
}

// Extract splits text into the natural-language query and an optional dataset
// override. It assumes Classify already reported a match; on disagreement it
// falls back to returning the whole trimmed text as the query, so a
// classifier bug degrades to a too-broad query instead of a dropped message.
func (p *Parser) Extract(text string) Match {
	text = strings.TrimSpace(text)

	if i := strings.IndexByte(text, ':'); i >= 0 {
		head, body := text[:i], text[i+1:]
		if p.isBase(headerBase(head)) {
			return Match{
				Query:   strings.TrimSpace(body),
				Dataset: headerDataset(head),
			}
		}
	}

	lower := strings.ToLower(text)
	for _, pre := range p.wordPrefixes {
		if strings.HasPrefix(lower, pre+" ") {
			return Match{Query: strings.TrimSpace(text[len(pre)+1:])}
		}
	}

	return Match{Query: text}
}

// isBase reports whether the given header base names a configured prefix.
func (p *Parser) isBase(base string) bool {
	for _, b := range p.bases {
		if base == b {
			return true
		}
	}
	for _, w := range p.wordPrefixes {
		if base == w {
			return true
		}
	}
	return false
}

// headerBase returns the lower-cased portion of a header before any "[".
func headerBase(head string) string {
	if j := strings.IndexByte(head, '['); j >= 0 {
		head = head[:j]
	}
	return strings.ToLower(strings.TrimSpace(head))
}

// headerDataset returns the content of the bracketed dataset override, with
// its original case preserved, or "" when absent or empty.
func headerDataset(head string) string {
	j := strings.IndexByte(head, '[')
	if j < 0 {
		return ""
	}
	k := strings.IndexByte(head[j:], ']')
	if k <= 1 {
		return ""
	}
	return strings.TrimSpace(head[j+1 : j+k])
}
