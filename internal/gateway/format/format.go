// Package format renders backend results as chat-ready Markdown text.
package format

import (
	"fmt"
	"strings"

	"github.com/colquisiri/teamsgw/internal/gateway/n2sql"
)

// noColumnsMessage is rendered when a recognized shape carries no headers.
const noColumnsMessage = "_Sin columnas_"

// Render turns a backend result into a pipe-delimited Markdown table, capped
// at maxRows body rows.
//
// Unrecognized payloads degrade to a fenced raw block tagged ````json so the
// user still sees what came back. When the table was truncated a note states
// how many of how many rows are shown. When showSQL is set and the backend
// reported its generated query text, it is appended as a blockquote.
func Render(res *n2sql.Result, maxRows int, showSQL bool) string {
	table, ok := n2sql.Detect(res.Raw)
	if !ok {
		return "````json\n" + strings.TrimSpace(string(res.Raw)) + "\n````"
	}

	if len(table.Columns) == 0 {
		return noColumnsMessage
	}

	rows := table.Rows
	if maxRows >= 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}

	var b strings.Builder
	b.WriteString(strings.Join(table.Columns, " | "))
	b.WriteString("\n")
	seps := make([]string, len(table.Columns))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString(strings.Join(seps, " | "))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(strings.Join(row, " | "))
	}

	if table.Total > len(rows) {
		fmt.Fprintf(&b, "\n\n_Se muestran %d/%d filas. Usa «Ver más» para ampliar._", len(rows), table.Total)
	}

	if showSQL {
		if sql := res.SQL(); sql != "" {
			b.WriteString("\n\n> SQL: `" + sql + "`")
		}
	}

	return b.String()
}
