// Package paramexpr evaluates the map/list constructor subset of the action tree
// grammar into plain Go values.
//
// Only two calls are interpreted: MapMake builds a ParamMap from a keys list and
// a values list, ListMake builds a []any. Every other call is kept verbatim as an
// Opaque value so callers can still inspect it.
package paramexpr

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/aretw0/latch/pkg/actiontree"
)

const (
	MapMake  = "bk.action.map.Make"
	ListMake = "bk.action.array.Make"
)

var (
	// ErrMarkerNotFound is returned when a marker key is absent from the tree.
	ErrMarkerNotFound = errors.New("marker not found")
	// ErrNotAMap is returned when the group owning a marker does not evaluate to a map.
	ErrNotAMap = errors.New("marker owner is not a map")
)

// ParamMap is the evaluated form of a MapMake call.
type ParamMap map[string]any

// String returns the value at key when it is a string.
func (m ParamMap) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Opaque is any call other than MapMake or ListMake.
type Opaque struct {
	Name string
	Args []any
}

// BuildMap pairs keys with values by position. Missing values become nil and
// surplus values are ignored.
func BuildMap(keys, values []any) ParamMap {
	m := make(ParamMap, len(keys))
	for i, k := range keys {
		var v any
		if i < len(values) {
			v = values[i]
		}
		m[keyString(k)] = v
	}
	return m
}

func keyString(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Parse evaluates expr. It returns a ParamMap, a []any, an Opaque call, a string
// token, or nil for empty input. Unbalanced input is closed implicitly.
func Parse(expr string) any {
	p := &evaluator{stack: []*frame{{}}}
	for _, r := range expr {
		p.feed(r)
	}
	return p.finish()
}

type frame struct {
	args   []any
	tok    strings.Builder
	quoted bool
}

func (f *frame) flush() {
	raw := f.tok.String()
	f.tok.Reset()
	if f.quoted {
		f.args = append(f.args, raw)
		f.quoted = false
		return
	}
	if t := strings.TrimSpace(raw); t != "" {
		f.args = append(f.args, t)
	}
}

type evaluator struct {
	stack   []*frame
	inQuote bool
	escaped bool
}

func (p *evaluator) top() *frame {
	return p.stack[len(p.stack)-1]
}

func (p *evaluator) feed(r rune) {
	f := p.top()
	if p.inQuote {
		switch {
		case p.escaped:
			p.escaped = false
		case r == '\\':
			p.escaped = true
		case r == '"':
			p.inQuote = false
			return
		}
		f.tok.WriteRune(r)
		return
	}

	switch r {
	case '"':
		if strings.TrimSpace(f.tok.String()) == "" {
			f.tok.Reset()
		}
		p.inQuote = true
		f.quoted = true
	case '(':
		f.flush()
		p.stack = append(p.stack, &frame{})
	case ',':
		f.flush()
	case ')':
		if len(p.stack) == 1 {
			return
		}
		p.close()
	default:
		if f.quoted && unicode.IsSpace(r) {
			return
		}
		f.tok.WriteRune(r)
	}
}

func (p *evaluator) close() {
	f := p.top()
	f.flush()
	p.stack = p.stack[:len(p.stack)-1]
	parent := p.top()
	parent.args = append(parent.args, evaluate(f.args))
}

func (p *evaluator) finish() any {
	for len(p.stack) > 1 {
		p.close()
	}
	root := p.top()
	root.flush()
	switch len(root.args) {
	case 0:
		return nil
	case 1:
		return root.args[0]
	default:
		return root.args
	}
}

func evaluate(args []any) any {
	if len(args) == 0 {
		return []any{}
	}
	name, _ := args[0].(string)
	switch name {
	case MapMake:
		// The two most recently completed lists are the keys and the values.
		var lists [][]any
		for _, a := range args[1:] {
			if l, ok := a.([]any); ok {
				lists = append(lists, l)
			}
		}
		switch len(lists) {
		case 0:
			return ParamMap{}
		case 1:
			return BuildMap(lists[0], nil)
		default:
			return BuildMap(lists[len(lists)-2], lists[len(lists)-1])
		}
	case ListMake:
		out := make([]any, len(args)-1)
		copy(out, args[1:])
		return out
	default:
		return Opaque{Name: name, Args: args[1:]}
	}
}

// ExtractMap locates marker in tree, steps up to its owning group and evaluates
// that group as a map.
func ExtractMap(tree *actiontree.Node, marker string) (ParamMap, error) {
	path := actiontree.FindPath(tree, marker)
	if path == nil {
		return nil, fmt.Errorf("%w: %q", ErrMarkerNotFound, marker)
	}
	owner, ok := actiontree.OwnerPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: %q sits at depth %d", ErrNotAMap, marker, len(path))
	}
	child, ok := actiontree.Walk(tree, owner)
	if !ok || !child.IsNode() {
		return nil, fmt.Errorf("%w: %q", ErrNotAMap, marker)
	}
	m, ok := Parse(child.Node.Raw).(ParamMap)
	if !ok {
		return nil, fmt.Errorf("%w: %q owned by %q", ErrNotAMap, marker, child.Node.Head())
	}
	return m, nil
}

// Collect evaluates every map constructor in the tree and merges them in
// depth-first order, later maps overriding earlier keys.
func Collect(tree *actiontree.Node) ParamMap {
	out := ParamMap{}
	for _, match := range actiontree.Search(tree, MapMake) {
		if match.Node == nil {
			continue
		}
		if m, ok := Parse(match.Node.Raw).(ParamMap); ok {
			for k, v := range m {
				out[k] = v
			}
		}
	}
	return out
}
