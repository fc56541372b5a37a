package router

import (
	"sort"
	"strings"
)

// cmdNode is one token of a space separated route ("rule set days").
// Interior nodes without a command render help for their children.
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode { return &cmdNode{children: map[string]*cmdNode{}} }

func splitRoute(route string) []string { return strings.Fields(route) }

func (n *cmdNode) add(route []string, c Command) *cmdNode {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[strings.ToLower(name)]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// walk descends through args as far as they name subcommands. It returns the
// deepest node, the matched path and the remaining args.
func (n *cmdNode) walk(first string, args []string) (*cmdNode, []string, []string, bool) {
	cur, ok := n.child(first)
	if !ok {
		return nil, nil, args, false
	}
	path := []string{cur.name}
	for len(args) > 0 {
		next, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = next
		path = append(path, next.name)
		args = args[1:]
	}
	return cur, path, args, true
}

// minAccess is the least privileged access any command under n needs.
func (n *cmdNode) minAccess() Access {
	best := AccessOwner
	var visit func(x *cmdNode)
	visit = func(x *cmdNode) {
		if x.cmd != nil && x.cmd.Access < best {
			best = x.cmd.Access
		}
		for _, c := range x.children {
			visit(c)
		}
	}
	visit(n)
	return best
}
