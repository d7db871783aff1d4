package actiontree_test

import (
	"encoding/json"
	"regexp"
	"sort"
	"testing"

	"github.com/aretw0/latch/pkg/actiontree"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var showError = regexp.MustCompile(`\(bk\.action\.caa\.ShowError,[^()]*\)`)

func TestExtractActionBlocks_Dedup(t *testing.T) {
	text := `(bk.action.core.TakeLast,
		(bk.action.caa.ShowError, "{\"message\":\"boom\"}"),
		(wrap, (bk.action.caa.ShowError,   "{\"message\":\"boom\"}")),
		(bk.action.caa.ShowError, "{\"message\":\"other\"}"))`

	blocks := actiontree.ExtractActionBlocks(text, showError)
	require.Len(t, blocks, 2, "whitespace-only differences collapse")

	var messages []string
	for _, b := range blocks {
		var v struct {
			Message string `json:"message"`
		}
		require.NoError(t, actiontree.DecodeActionBlock(b, &v))
		messages = append(messages, v.Message)
	}
	sort.Strings(messages)
	assert.Equal(t, []string{"boom", "other"}, messages)
}

func TestExtractActionBlocks_OnePerTopLevelGroup(t *testing.T) {
	group := regexp.MustCompile(`(?s)^\(bk\.action\.f,.*\)$`)
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"none", `bk.action.f, "1"`, nil},
		{"one", `(bk.action.f, "1")`, []string{`(bk.action.f, "1")`}},
		{"three with nesting", `(bk.action.f,"1")(bk.action.f,"2")(bk.action.f,(bk.action.g,"3"))`, []string{
			`(bk.action.f,"1")`,
			`(bk.action.f,"2")`,
			`(bk.action.f,(bk.action.g,"3"))`,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := actiontree.ExtractActionBlocks(tc.text, group)
			sort.Strings(got)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("blocks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractActionBlocks_NoMatch(t *testing.T) {
	assert.Empty(t, actiontree.ExtractActionBlocks("(a, b)", showError))
	assert.Nil(t, actiontree.ExtractActionBlocks("(a, b)", nil))
}

func TestNormalizeEscaping_Table(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"double-escaped quote", `{\\\"a\\\":1}`, `{"a":1}`},
		{"double-escaped backslash", `{"p":"c:\\\\tmp"}`, `{"p":"c:\\tmp"}`},
		{"single-escaped quote", `{\"a\":1}`, `{"a":1}`},
		{"escaped slash", `{"u":"\/challenge\/1\/"}`, `{"u":"/challenge/1/"}`},
		{"stringified object", `{"outer":"{"inner":1}"}`, `{"outer":{"inner":1}}`},
		{"surrounding noise trimmed", `xx "{\"a\":1}" yy`, `{"a":1}`},
		{"no braces", `plain "text"`, `plain "text"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, actiontree.NormalizeEscaping(tc.in)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
	assert.Len(t, actiontree.EscapeReplacements, 6)
	assert.Equal(t, 1, actiontree.EscapeTableVersion)
}

func TestDecodeActionBlock_Numbers(t *testing.T) {
	var v map[string]any
	require.NoError(t, actiontree.DecodeActionBlock(`"{\"pk\":17841400000000001}"`, &v))
	assert.Equal(t, json.Number("17841400000000001"), v["pk"])
}

func TestDecodeActionBlock_NoObject(t *testing.T) {
	var v map[string]any
	assert.Error(t, actiontree.DecodeActionBlock("plain", &v))
}

func TestPayloadAction(t *testing.T) {
	body := `{"layout":{"bloks_payload":{"action":"(bk.action.map.Make, (a), (b))"}},"status":"ok"}`
	assert.Equal(t, "(bk.action.map.Make, (a), (b))", actiontree.PayloadAction(body))

	plain := `{"message":"nope","status":"fail"}`
	assert.Equal(t, plain, actiontree.PayloadAction(plain))
	assert.Equal(t, "(x)", actiontree.PayloadAction("(x)"))
}
