package actiontree

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MarkerDepthOffset is the number of structural levels between a marker key and
// the key/value pair that owns it. The value is empirical (observed payloads put
// the key inside the keys array, inside the map constructor) and must not be
// generalized: a marker that does not fit it needs manual verification.
const MarkerDepthOffset = 2

// Match is one hit of Search. Node is set when the matching group has nested
// children; otherwise Text holds the group's first token.
type Match struct {
	Node *Node
	Text string
}

// Search walks the tree depth-first (pre-order) and collects every group whose
// first token starts with literalPrefix once a single leading sigil is stripped.
// The result is an ordered set: repeated groups or texts appear once.
func Search(tree *Node, literalPrefix string) []Match {
	var out []Match
	seenNodes := make(map[*Node]bool)
	seenText := make(map[string]bool)

	var visit func(n *Node)
	visit = func(n *Node) {
		if n == nil {
			return
		}
		if head := n.Head(); head != "" && strings.HasPrefix(stripSigil(head), literalPrefix) {
			if n.HasNested() {
				if !seenNodes[n] {
					seenNodes[n] = true
					out = append(out, Match{Node: n})
				}
			} else if !seenText[head] {
				seenText[head] = true
				out = append(out, Match{Text: head})
			}
		}
		for _, c := range n.Children {
			if c.IsNode() {
				visit(c.Node)
			}
		}
	}
	visit(tree)
	return out
}

// FindPath returns the child indices leading from the root to the first token
// (depth-first) equal to target once surrounding quotes are removed.
// It returns nil when the target is absent.
func FindPath(tree *Node, target string) []int {
	if tree == nil {
		return nil
	}
	var path []int
	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		for i, c := range n.Children {
			path = append(path, i)
			if c.IsNode() {
				if visit(c.Node) {
					return true
				}
			} else if Unquote(c.Token) == target {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	if visit(tree) {
		return path
	}
	return nil
}

// OwnerPath drops the last MarkerDepthOffset elements of a FindPath result,
// yielding the path of the group that owns the marker's key/value pair.
// ok is false when the path is too short for the convention to apply. A path of
// exactly MarkerDepthOffset elements is owned by the root.
func OwnerPath(path []int) ([]int, bool) {
	if len(path) < MarkerDepthOffset {
		return nil, false
	}
	owner := make([]int, len(path)-MarkerDepthOffset)
	copy(owner, path)
	return owner, true
}

// Walk follows an index path from the root. An empty path yields the root itself.
func Walk(tree *Node, path []int) (Child, bool) {
	if tree == nil {
		return Child{}, false
	}
	cur := Child{Node: tree}
	for _, idx := range path {
		if !cur.IsNode() || idx < 0 || idx >= len(cur.Node.Children) {
			return Child{}, false
		}
		cur = cur.Node.Children[idx]
	}
	return cur, true
}

// Unquote strips one layer of surrounding quotes from a token, including the
// escaped forms produced by nested serialization.
func Unquote(tok string) string {
	tok = strings.TrimSpace(tok)
	for _, q := range []string{`\\\"`, `\"`, `"`} {
		if len(tok) >= 2*len(q) && strings.HasPrefix(tok, q) && strings.HasSuffix(tok, q) {
			return tok[len(q) : len(tok)-len(q)]
		}
	}
	return tok
}

func stripSigil(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || unicode.IsLetter(r) || unicode.IsDigit(r) {
		return s
	}
	return s[size:]
}
