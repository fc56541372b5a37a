package router

import (
	"html"
	"strings"
)

func escape(s string) string { return html.EscapeString(s) }

// helpText renders HTML help for path, or the command list when path is
// empty. Commands the caller cannot run are shown with a lock.
func (m *CommandManager) helpText(path []string, role Access) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root, role)
	}
	word := commandWord(path[0])
	if leaf, ok := alias[word]; ok {
		return helpNode(leaf, splitRoute(leaf.cmd.Route))
	}
	node, full, _, ok := root.walk(word, path[1:])
	if !ok {
		return "❓ <b>Unknown command</b>\nType <code>/help</code> for the list."
	}
	return helpNode(node, full)
}

func helpTop(root *cmdNode, role Access) string {
	lines := []string{"📚 <b>Commands</b>", "Type <code>/help &lt;command&gt;</code> for details.", ""}
	var locked []string
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		line := "<code>/" + escape(name) + "</code>"
		if d := summarizeNodeDesc(n); d != "" {
			line += " - " + escape(d)
		}
		if need := n.minAccess(); need > role {
			locked = append(locked, "• 🔒 "+line)
			continue
		}
		lines = append(lines, "• "+line)
	}
	return strings.Join(append(lines, locked...), "\n")
}

func helpNode(n *cmdNode, full []string) string {
	lines := []string{"📚 <b>Help</b> <code>/" + escape(strings.Join(full, " ")) + "</code>"}
	if c := n.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, escape(d))
		}
		if c.Access > AccessEveryone {
			lines = append(lines, "🔒 <i>"+c.Access.String()+" only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>")
			for _, l := range strings.Split(u, "\n") {
				lines = append(lines, "<code>"+escape(l)+"</code>")
			}
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b> "+escape("/"+strings.Join(c.Aliases, ", /")))
		}
	}
	if len(n.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range n.childNames() {
			ch, _ := n.child(name)
			line := "• <code>/" + escape(strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
			if d := summarizeNodeDesc(ch); d != "" {
				line += " - " + escape(d)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func summarizeNodeDesc(n *cmdNode) string {
	if n.cmd != nil && strings.TrimSpace(n.cmd.Description) != "" {
		return strings.TrimSpace(n.cmd.Description)
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	if len(kids) > 3 {
		return strings.Join(kids[:3], ", ") + ", …"
	}
	return strings.Join(kids, ", ")
}
