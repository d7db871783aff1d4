package actiontree

import "strings"

// EscapeTableVersion identifies the replacement table below. Bump it whenever an
// entry changes so stored fixtures can be re-validated.
const EscapeTableVersion = 1

// Replacement is one literal substitution of the escaping compatibility shim.
type Replacement struct {
	Old  string
	New  string
	Note string
}

// EscapeReplacements undoes the server's inconsistent double escaping of JSON
// objects embedded in action blocks. Order matters: entries are applied top to bottom.
var EscapeReplacements = []Replacement{
	{Old: `\\\"`, New: `"`, Note: "double-escaped quote"},
	{Old: `\\\\`, New: `\\`, Note: "double-escaped backslash"},
	{Old: `\"`, New: `"`, Note: "single-escaped quote"},
	{Old: `\/`, New: `/`, Note: "escaped slash"},
	{Old: `"{`, New: `{`, Note: "stringified nested object (open)"},
	{Old: `}"`, New: `}`, Note: "stringified nested object (close)"},
}

// NormalizeEscaping applies EscapeReplacements to the span between the first '{'
// and the last '}' of raw and returns that span. When raw holds no such span it
// is returned unchanged.
func NormalizeEscaping(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	s := raw[start : end+1]
	for _, r := range EscapeReplacements {
		s = strings.ReplaceAll(s, r.Old, r.New)
	}
	return s
}
