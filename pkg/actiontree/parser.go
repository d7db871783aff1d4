package actiontree

import (
	"strings"
)

// Node is one balanced-parenthesis group.
type Node struct {
	// Children holds tokens and nested groups in source order.
	Children []Child
	// Raw is the exact source text of the group, parentheses included.
	// For the root returned by Parse it is the whole input.
	Raw string
}

// Child is either a terminal token or a nested group. Exactly one field is set.
type Child struct {
	Token string
	Node  *Node
}

// IsNode reports whether the child is a nested group.
func (c Child) IsNode() bool {
	return c.Node != nil
}

// Head returns the first child token of the node, or "" when the first child is a group.
func (n *Node) Head() string {
	if n == nil || len(n.Children) == 0 || n.Children[0].IsNode() {
		return ""
	}
	return n.Children[0].Token
}

// HasNested reports whether any child is a group.
func (n *Node) HasNested() bool {
	if n == nil {
		return false
	}
	for _, c := range n.Children {
		if c.IsNode() {
			return true
		}
	}
	return false
}

// Parse tokenizes text into a tree of balanced groups.
//
// A 0→1 transition of the open-paren counter starts a group and the matching
// 1→0 transition ends it; group contents are parsed recursively with the same
// rule. Text between groups is split on commas outside double quotes.
// Parse always returns a tree: a stray ')' is dropped and an unclosed group
// extends to the end of the input.
func Parse(text string) *Node {
	return &Node{Raw: text, Children: parseLevel(text)}
}

func parseLevel(text string) []Child {
	var children []Child
	depth := 0
	groupStart := 0
	segStart := 0

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(':
			if depth == 0 {
				children = append(children, splitTokens(text[segStart:i])...)
				groupStart = i
			}
			depth++
		case ')':
			if depth == 0 {
				children = append(children, splitTokens(text[segStart:i])...)
				segStart = i + 1
				continue
			}
			depth--
			if depth == 0 {
				children = append(children, Child{Node: &Node{
					Raw:      text[groupStart : i+1],
					Children: parseLevel(text[groupStart+1 : i]),
				}})
				segStart = i + 1
			}
		}
	}

	if depth > 0 {
		// Unclosed group: keep what we have as a partial tree.
		children = append(children, Child{Node: &Node{
			Raw:      text[groupStart:],
			Children: parseLevel(text[groupStart+1:]),
		}})
		return children
	}
	return append(children, splitTokens(text[segStart:])...)
}

// splitTokens splits a paren-free segment on commas that are not inside double quotes.
func splitTokens(seg string) []Child {
	if strings.TrimSpace(seg) == "" {
		return nil
	}

	var out []Child
	var cur strings.Builder
	inQuote := false
	escaped := false

	emit := func() {
		tok := strings.TrimSpace(cur.String())
		cur.Reset()
		if tok != "" {
			out = append(out, Child{Token: tok})
		}
	}

	for i := 0; i < len(seg); i++ {
		ch := seg[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inQuote:
			escaped = true
		case ch == '"':
			inQuote = !inQuote
		case ch == ',' && !inQuote:
			emit()
			continue
		}
		cur.WriteByte(ch)
	}
	emit()
	return out
}
