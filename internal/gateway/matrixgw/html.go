package matrixgw

import "strings"

// markdownToHTML converts the Markdown subset the gateway produces into HTML
// for a Matrix m.text event with format=org.matrix.custom.html.
//
// Supported constructs:
//   - Pipe tables (header, --- separator, body) → <table>
//   - Fenced code blocks → <pre><code>…</code></pre>
//   - Inline code `…` → <code>…</code>
//   - Bold **…** → <strong>…</strong>
//   - Newlines → <br/>
func markdownToHTML(md string) string {
	var out strings.Builder
	lines := strings.Split(md, "\n")
	inCode := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "```") {
			if !inCode {
				out.WriteString("<pre><code>")
				inCode = true
			} else {
				out.WriteString("</code></pre>")
				inCode = false
			}
			continue
		}
		if inCode {
			out.WriteString(escapeHTML(line))
			out.WriteString("\n")
			continue
		}
		if end, ok := tableExtent(lines, i); ok {
			// Table HTML is emitted on a single line so the later <br/>
			// pass cannot break it apart.
			out.WriteString(tableHTML(lines[i:end]))
			out.WriteString("\n")
			i = end - 1
			continue
		}
		out.WriteString(line)
		out.WriteString("\n")
	}
	result := out.String()

	result = replaceDelimited(result, "`", "<code>", "</code>")
	result = replaceDelimited(result, "**", "<strong>", "</strong>")
	result = strings.ReplaceAll(result, "\n", "<br/>")

	return result
}

// tableExtent reports whether a pipe table starts at lines[start] and, if
// so, the index one past its last row. A table is a header line with a pipe
// followed by a ---  separator line.
func tableExtent(lines []string, start int) (end int, ok bool) {
	if start+1 >= len(lines) || !strings.Contains(lines[start], "|") {
		return 0, false
	}
	if !isSeparatorLine(lines[start+1]) {
		return 0, false
	}
	end = start + 2
	for end < len(lines) && strings.TrimSpace(lines[end]) != "" {
		end++
	}
	return end, true
}

func isSeparatorLine(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.Contains(line, "---") {
		return false
	}
	for _, r := range line {
		switch r {
		case '-', '|', ':', ' ':
		default:
			return false
		}
	}
	return true
}

func tableHTML(lines []string) string {
	var b strings.Builder
	b.WriteString("<table><thead><tr>")
	for _, cell := range splitRow(lines[0]) {
		b.WriteString("<th>")
		b.WriteString(escapeHTML(cell))
		b.WriteString("</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, line := range lines[2:] {
		b.WriteString("<tr>")
		for _, cell := range splitRow(line) {
			b.WriteString("<td>")
			b.WriteString(escapeHTML(cell))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func splitRow(line string) []string {
	line = strings.Trim(strings.TrimSpace(line), "|")
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// replaceDelimited replaces occurrences of delim…delim with
// open+content+close. Only complete pairs are replaced; an unmatched opener
// is left as-is.
func replaceDelimited(s, delim, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start + len(delim)
		b.WriteString(s[:start])
		b.WriteString(open)
		b.WriteString(s[start+len(delim) : end])
		b.WriteString(close)
		s = s[end+len(delim):]
	}
	return b.String()
}
