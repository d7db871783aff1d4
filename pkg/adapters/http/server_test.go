package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/latch/internal/runtime"
	"github.com/aretw0/latch/internal/testutils"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
	"github.com/aretw0/latch/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, replies ...string) http.Handler {
	t.Helper()
	transport := testutils.NewScriptedTransport(replies...)
	manager := session.NewManager(func() ports.Attempt {
		return runtime.NewMachine(transport, runtime.WithRetryPolicy(runtime.RetryPolicy{MaxAttempts: 1}))
	})
	return NewHandler(manager, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("latch_rounds_total 0\n"))
	})))
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, AttemptResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp AttemptResponse
	if rec.Body.Len() > 0 && strings.HasPrefix(path, "/attempts") {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func TestServer_TwoFactorFlow(t *testing.T) {
	h := newTestHandler(t,
		testutils.TwoFactorRequired("ctx-1", "sms"),
		testutils.LoginSuccess("42", "alice", testutils.Authorization("42", "s1")),
	)

	rec, resp := do(t, h, http.MethodPost, "/attempts", CreateAttemptRequest{Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, resp.ID)
	require.NotNil(t, resp.State)
	assert.Equal(t, "two_factor_required", resp.State.State)
	assert.Nil(t, resp.Error)

	id := resp.ID
	rec, resp = do(t, h, http.MethodPost, "/attempts/"+id+"/two-factor", TwoFactorRequest{Code: "123456"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.State.Success)
	assert.Equal(t, "42", resp.State.UserID)

	rec, resp = do(t, h, http.MethodGet, "/attempts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", resp.State.State)

	rec, _ = do(t, h, http.MethodPost, "/attempts/"+id+"/two-factor", TwoFactorRequest{Code: "1"})
	assert.Equal(t, http.StatusConflict, rec.Code, "terminal attempts reject further steps")

	rec, _ = do(t, h, http.MethodDelete, "/attempts/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/attempts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ProtocolFailureIsAResult(t *testing.T) {
	h := newTestHandler(t, testutils.FailureDialog("The password you entered is incorrect."))

	rec, resp := do(t, h, http.MethodPost, "/attempts", CreateAttemptRequest{Username: "alice", Password: "bad"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(domain.KindIncorrectPassword), resp.Error.Kind)
	assert.Equal(t, "failed", resp.State.State)
	assert.True(t, resp.State.IsTerminal)
}

func TestServer_BadRequests(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/attempts", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/attempts", CreateAttemptRequest{Username: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/attempts/nope/poll", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/attempts/nope/two-factor", TwoFactorRequest{Method: "carrier_pigeon", Code: "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StepMismatchIsConflict(t *testing.T) {
	h := newTestHandler(t, testutils.TwoFactorRequired("ctx-1", "sms"))

	_, resp := do(t, h, http.MethodPost, "/attempts", CreateAttemptRequest{Username: "alice", Password: "pw"})
	rec, _ := do(t, h, http.MethodPost, "/attempts/"+resp.ID+"/checkpoint", CheckpointRequest{Step: string(domain.StepAcknowledge)})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ListHealthInfoMetrics(t *testing.T) {
	h := newTestHandler(t, testutils.TwoFactorRequired("ctx-1", "sms"))
	_, created := do(t, h, http.MethodPost, "/attempts", CreateAttemptRequest{Username: "alice", Password: "pw"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attempts", nil))
	var list map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{created.ID}, list["attempts"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	assert.Contains(t, rec.Body.String(), "latch-http")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "latch_rounds_total")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/attempts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubscribeEvents(t *testing.T) {
	h := newTestHandler(t,
		testutils.TwoFactorRequired("ctx-1", "sms"),
		testutils.LoginSuccess("42", "alice", testutils.Authorization("42", "s1")),
	)
	srv := httptest.NewServer(h)
	defer srv.Close()

	_, created := do(t, h, http.MethodPost, "/attempts", CreateAttemptRequest{Username: "alice", Password: "pw"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/attempts/"+created.ID+"/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	reader := bufio.NewReader(res.Body)
	readData := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	assert.Contains(t, readData(), `"state":"two_factor_required"`)

	body, _ := json.Marshal(TwoFactorRequest{Code: "123456"})
	post, err := http.Post(srv.URL+"/attempts/"+created.ID+"/two-factor", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	post.Body.Close()

	assert.Contains(t, readData(), `"state":"success"`)
}

func TestStreamManager_SlowClient(t *testing.T) {
	sm := NewStreamManager()
	ch, cancel := sm.Subscribe("a1")
	defer cancel()

	for i := 0; i < 20; i++ {
		sm.Broadcast("a1", domain.None{}.Describe())
	}
	assert.Len(t, ch, cap(ch))
	sm.Broadcast("other", domain.None{}.Describe())
}
