package classify

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/aretw0/latch/pkg/actiontree"
	"github.com/aretw0/latch/pkg/paramexpr"
	"github.com/mitchellh/mapstructure"
)

// Marker keys looked up inside the action tree.
const (
	KeyLoginResponse = "login_response"
	KeyHeaders       = "headers"
	KeyLoggedInUser  = "logged_in_user"
)

// showErrorPattern matches a whole ShowError group. It is anchored on the group's
// raw text, so parentheses inside the message stay part of the block.
var showErrorPattern = regexp.MustCompile(`(?s)^\(\s*@?bk\.action\.caa\.ShowError\s*,.*\)$`)

// Response is one decoded server reply.
type Response struct {
	Raw string
	// Action is the action-tree source, or Raw when the body has no envelope.
	Action string
	Tree   *actiontree.Node
	// Params merges every map constructor found in Tree.
	Params paramexpr.ParamMap
	// Body is the decoded login_response block, or the plain JSON body when the
	// server answered without an action tree.
	Body map[string]any
	// Headers is the decoded headers block, if any.
	Headers map[string]any
}

// Decode parses raw into a Response. It never fails: missing pieces stay nil.
func Decode(raw string) *Response {
	r := &Response{Raw: raw, Action: actiontree.PayloadAction(raw)}
	r.Tree = actiontree.Parse(r.Action)
	r.Params = paramexpr.Collect(r.Tree)

	if s, ok := r.Params.String(KeyLoginResponse); ok {
		var body map[string]any
		if err := actiontree.DecodeActionBlock(s, &body); err == nil {
			r.Body = body
		}
	}
	if s, ok := r.Params.String(KeyHeaders); ok {
		var headers map[string]any
		if err := actiontree.DecodeActionBlock(s, &headers); err == nil {
			r.Headers = headers
		}
	}
	if r.Body == nil && r.Action == raw {
		r.Body = decodePlainJSON(raw)
	}
	return r
}

func decodePlainJSON(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil
	}
	return body
}

// LoggedInUser returns the logged_in_user object when the response reports success.
func (r *Response) LoggedInUser() (map[string]any, bool) {
	if r == nil || r.Body == nil {
		return nil, false
	}
	u, ok := r.Body[KeyLoggedInUser].(map[string]any)
	return u, ok && len(u) > 0
}

// Header returns a header value by case-insensitive name suffix, e.g. "set-authorization".
func (r *Response) Header(suffix string) string {
	if r == nil {
		return ""
	}
	suffix = strings.ToLower(suffix)
	for k, v := range r.Headers {
		if strings.HasSuffix(strings.ToLower(k), suffix) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Fragment is the error detail a server attaches to a failed reply.
type Fragment struct {
	Message   string `mapstructure:"message" json:"message"`
	ErrorType string `mapstructure:"error_type" json:"error_type,omitempty"`
	Title     string `mapstructure:"error_title" json:"error_title,omitempty"`
	Status    string `mapstructure:"status" json:"status,omitempty"`
}

// Fragment returns the first error fragment of the response, or nil.
func (r *Response) Fragment() *Fragment {
	if r == nil {
		return nil
	}
	if frags := FragmentsFrom(r.Action, r.Body); len(frags) > 0 {
		return &frags[0]
	}
	return nil
}

// FragmentsFrom collects error fragments from the ShowError blocks of an
// action tree, then from a failed login_response or plain JSON body.
func FragmentsFrom(action string, body map[string]any) []Fragment {
	var out []Fragment
	for _, block := range actiontree.ExtractActionBlocks(action, showErrorPattern) {
		var m map[string]any
		if err := actiontree.DecodeActionBlock(block, &m); err != nil {
			continue
		}
		if f := fragmentFrom(m); f != nil {
			out = append(out, *f)
		}
	}
	if body != nil {
		status, _ := body["status"].(string)
		_, hasType := body["error_type"]
		if status == "fail" || hasType {
			if f := fragmentFrom(body); f != nil {
				out = append(out, *f)
			}
		}
	}
	return out
}

func fragmentFrom(m map[string]any) *Fragment {
	var f Fragment
	if err := weakDecode(m, &f); err != nil {
		return nil
	}
	if f.Message == "" && f.ErrorType == "" {
		return nil
	}
	return &f
}

func weakDecode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
