package testutils

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/latch/pkg/domain"
)

// Envelope wraps an action tree in the JSON response envelope.
func Envelope(action string) string {
	b, err := json.Marshal(map[string]any{
		"layout": map[string]any{"bloks_payload": map[string]any{"action": action}},
		"status": "ok",
	})
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Pair is one key/value entry of MapMake.
type Pair struct {
	Key   string
	Value string
}

// MapMake renders an ordered map constructor whose values are quoted strings.
func MapMake(pairs ...Pair) string {
	keys := make([]string, len(pairs))
	values := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = quote(p.Key)
		values[i] = quote(p.Value)
	}
	return fmt.Sprintf("(bk.action.map.Make, (bk.action.array.Make, %s), (bk.action.array.Make, %s))",
		strings.Join(keys, ", "), strings.Join(values, ", "))
}

// Embedded renders v as JSON with quotes escaped once, the way the server nests
// objects inside action-tree strings.
func Embedded(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return strings.ReplaceAll(string(b), `"`, `\"`)
}

func quote(s string) string {
	return `"` + s + `"`
}

// Authorization builds a bearer token whose payload carries a session cookie.
func Authorization(userID, sessionID string) string {
	payload, _ := json.Marshal(map[string]string{"ds_user_id": userID, "sessionid": sessionID})
	return "Bearer IGT:2:" + base64.StdEncoding.EncodeToString(payload)
}

// LoginSuccess is a reply carrying logged_in_user and an authorization header.
func LoginSuccess(userID, username, authorization string) string {
	login := Embedded(map[string]any{
		"logged_in_user": map[string]any{"pk": json.Number(userID), "username": username},
		"status":         "ok",
	})
	headers := Embedded(map[string]string{"IG-Set-Authorization": authorization})
	return Envelope(fmt.Sprintf("(bk.action.core.TakeLast, %s)",
		MapMake(Pair{"login_response", login}, Pair{"headers", headers})))
}

// TwoFactorRequired is a reply that routes into the verification sub-flow.
func TwoFactorRequired(contextToken, method string) string {
	return Envelope(fmt.Sprintf(
		"(bk.action.core.TakeLast, (bk.action.navigation.OpenScreen, \"com.bloks.www.two_step_verification.entrypoint\"), %s)",
		MapMake(
			Pair{"two_step_verification_context", contextToken},
			Pair{"method", method},
			Pair{"flow_source", "two_factor_login"},
			Pair{"two_factor_identifier", "tfi-" + contextToken},
		)))
}

// CheckpointRequired is a reply that routes into the checkpoint ladder.
func CheckpointRequired(apiPath string) string {
	login := Embedded(map[string]any{
		"message":   "challenge_required",
		"challenge": map[string]any{"api_path": apiPath, "url": "https://example.invalid" + apiPath},
		"status":    "fail",
	})
	return Envelope(fmt.Sprintf("(bk.action.core.TakeLast, %s)", MapMake(Pair{"login_response", login})))
}

// ShowError is a reply carrying one error fragment.
func ShowError(message string) string {
	frag := Embedded(map[string]string{"message": message, "error_type": "generic"})
	return Envelope(fmt.Sprintf("(bk.action.core.TakeLast, (bk.action.caa.ShowError, \"%s\"))", frag))
}

// FailureDialog is a reply showing the login failure dialog with text.
func FailureDialog(text string) string {
	frag := Embedded(map[string]string{"error_title": "login_failure_dialog", "message": text})
	return Envelope(fmt.Sprintf("(bk.action.core.TakeLast, (bk.action.caa.ShowError, \"%s\"))", frag))
}

// ApprovalStatus is a notification poll reply.
func ApprovalStatus(status string) string {
	return Envelope(MapMake(Pair{"approval_status", status}))
}

// Step is a checkpoint ladder reply (plain JSON).
func Step(name string, data map[string]any) string {
	b, _ := json.Marshal(map[string]any{
		"step_name":         name,
		"step_data":         data,
		"challenge_context": "cc-" + name,
		"nonce_code":        "nonce-" + name,
		"status":            "ok",
	})
	return string(b)
}

// Close is the checkpoint reply telling the client to log in again.
func Close() string {
	return `{"action":"close","status":"ok"}`
}

// Reply is one scripted transport answer.
type Reply struct {
	Body string
	Err  error
}

// ScriptedTransport answers requests from a fixed script and records them.
// Once the script is exhausted the last reply repeats.
type ScriptedTransport struct {
	mu       sync.Mutex
	replies  []Reply
	requests []domain.RequestSpec
	auth     string
}

// NewScriptedTransport creates a transport that replies with bodies in order.
func NewScriptedTransport(bodies ...string) *ScriptedTransport {
	t := &ScriptedTransport{}
	for _, b := range bodies {
		t.replies = append(t.replies, Reply{Body: b})
	}
	return t
}

// Push appends replies to the script.
func (t *ScriptedTransport) Push(replies ...Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies = append(t.replies, replies...)
}

func (t *ScriptedTransport) Send(ctx context.Context, req domain.RequestSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, req)
	if len(t.replies) == 0 {
		return "", fmt.Errorf("no scripted reply for %s", req.Path)
	}
	r := t.replies[0]
	if len(t.replies) > 1 {
		t.replies = t.replies[1:]
	}
	return r.Body, r.Err
}

// SetAuthorization records the authorization handed over after login.
func (t *ScriptedTransport) SetAuthorization(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.auth = value
}

// Authorization returns the value passed to SetAuthorization.
func (t *ScriptedTransport) Authorization() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.auth
}

// Requests returns a copy of every request received so far.
func (t *ScriptedTransport) Requests() []domain.RequestSpec {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.RequestSpec, len(t.requests))
	copy(out, t.requests)
	return out
}
