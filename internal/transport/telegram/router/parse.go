package router

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var reqSeq atomic.Uint64

// newReqID returns a short id for correlating the log lines of one request.
func newReqID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(reqSeq.Add(1), 36)
}

// tokenizeCommandLine splits text on whitespace, keeping quoted runs together
// so that `/addevent "Guild raid" "2h 30m"` yields three tokens.
// Typographic quotes from mobile keyboards count as quotes too.
func tokenizeCommandLine(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		quote rune
		esc   bool
		open  bool // a quoted token was started, even if empty
	)
	flush := func() {
		if buf.Len() > 0 || open {
			out = append(out, buf.String())
			buf.Reset()
		}
		open = false
	}
	for _, r := range strings.TrimSpace(s) {
		switch {
		case esc:
			buf.WriteRune(r)
			esc = false
		case r == '\\':
			esc = true
		case quote != 0:
			if r == quote || (quote == '“' && r == '”') {
				quote = 0
				continue
			}
			buf.WriteRune(r)
		case r == '"' || r == '“':
			quote = r
			open = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return out
}

// commandWord strips the leading slash and an @botname suffix.
func commandWord(tok string) string {
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}

// splitCallback parses "scope:action[:payload]".
func splitCallback(data string) (scope, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}
