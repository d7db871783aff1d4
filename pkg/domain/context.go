package domain

import (
	"fmt"
	"reflect"
	"sort"
)

// Well-known SessionContext keys.
const (
	KeyWaterfallID         = "waterfall_id"
	KeyTwoFactorContext    = "two_step_verification_context"
	KeyTwoFactorIdentifier = "two_factor_identifier"
	KeyChallengeContext    = "challenge_context"
	KeyNonceCode           = "nonce_code"
	KeyFlowSource          = "flow_source"
	KeyUsername            = "username"
)

// SessionContext accumulates protocol parameters across every parse of one attempt.
// It only ever grows: Merge adds or overwrites with non-nil values and never deletes.
// It is owned by exactly one machine and is not safe for concurrent use.
type SessionContext struct {
	values map[string]any
}

// NewSessionContext creates an empty context.
func NewSessionContext() *SessionContext {
	return &SessionContext{values: make(map[string]any)}
}

// Merge folds src into the context. Nil values never erase a known key.
// It returns the number of keys that were added or changed.
func (c *SessionContext) Merge(src map[string]any) int {
	changed := 0
	for k, v := range src {
		if v == nil || k == "" {
			continue
		}
		if old, ok := c.values[k]; ok && fmt.Sprint(old) == fmt.Sprint(v) {
			continue
		}
		c.values[k] = v
		changed++
	}
	return changed
}

// Get returns the raw value for key.
func (c *SessionContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// String returns the value for key rendered as a string, or "" when absent.
// Nested maps and lists are not representable as form values and yield "".
func (c *SessionContext) String(key string) string {
	v, ok := c.values[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return ""
	}
	return fmt.Sprint(v)
}

// Len returns the number of known keys.
func (c *SessionContext) Len() int {
	return len(c.values)
}

// Keys returns the known keys in sorted order.
func (c *SessionContext) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy safe for the caller to mutate.
func (c *SessionContext) Snapshot() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
