package actiontree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/tidwall/jsonc"
)

// structural ignores Raw so that blocks differing only in whitespace compare equal.
var structural = cmpopts.IgnoreFields(Node{}, "Raw")

// ExtractActionBlocks applies pattern to every string leaf of the parsed text
// (the raw source of each group and each token, depth-first) and returns the
// matches deduplicated by structural equality. Callers must not rely on order.
func ExtractActionBlocks(text string, pattern *regexp.Regexp) []string {
	if pattern == nil {
		return nil
	}
	tree := Parse(text)

	var matches []string
	var parsed []*Node

	add := func(leaf string) {
		m := pattern.FindString(leaf)
		if m == "" {
			return
		}
		candidate := Parse(m)
		for _, p := range parsed {
			if cmp.Equal(p, candidate, structural) {
				return
			}
		}
		parsed = append(parsed, candidate)
		matches = append(matches, m)
	}

	var visit func(n *Node)
	visit = func(n *Node) {
		for _, c := range n.Children {
			if c.IsNode() {
				add(c.Node.Raw)
				visit(c.Node)
				continue
			}
			add(c.Token)
		}
	}
	visit(tree)
	return matches
}

// PayloadAction returns the action-tree source embedded in a response envelope
// (layout.bloks_payload.action). Bodies without an envelope are returned as-is.
func PayloadAction(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw
	}
	var envelope struct {
		Layout struct {
			BloksPayload struct {
				Action string `json:"action"`
			} `json:"bloks_payload"`
		} `json:"layout"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return raw
	}
	if action := envelope.Layout.BloksPayload.Action; action != "" {
		return action
	}
	return raw
}

// DecodeActionBlock normalizes the escaping of one action block and decodes the
// JSON object it carries into v. Numbers decode as json.Number.
func DecodeActionBlock(raw string, v any) error {
	normalized := NormalizeEscaping(raw)
	if !strings.HasPrefix(normalized, "{") {
		return fmt.Errorf("action block carries no object: %.40q", raw)
	}
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(normalized))))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode action block: %w", err)
	}
	return nil
}
