package router

import (
	"strings"
	"unicode"

	kit "abyssbot/internal/transport"
)

// sanitizeTelegramCommand maps s onto Telegram's command alphabet
// [a-z0-9_]{1,32}. It returns "" when nothing usable is left.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	under := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			under = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !under {
				b.WriteByte('_')
				under = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a route for the menu:
// ["rule", "set"] -> "rule_set".
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildTelegramMenuCommands lists top level commands for Telegram's "/"
// autocomplete. Restricted commands are marked with a lock.
func buildTelegramMenuCommands(root *cmdNode) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		cmd := sanitizeTelegramCommand(name)
		if cmd == "" {
			continue
		}
		desc := summarizeNodeDesc(n)
		if desc == "" {
			desc = cmd
		}
		if n.minAccess() > AccessEveryone {
			desc = "🔒 " + desc
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: cmd, Description: desc})
		if len(out) == 100 {
			break
		}
	}
	return out
}
