// Package redact strips credential values from text before it is logged or
// embedded in error messages.
//
// The gateway handles two credentials: the Bot Framework app password and the
// n2sql API key. Neither may ever appear in log lines, error chains, or chat
// output. Redaction is best-effort — it operates on string representations
// and relies on callers passing the right sensitive values; it is not a
// substitute for keeping secrets out of log call-sites in the first place.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid spurious
// redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}
