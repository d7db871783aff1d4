package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/latch/internal/config"
	"github.com/aretw0/latch/internal/logging"
	"github.com/aretw0/latch/internal/testutils"
	"github.com/aretw0/latch/pkg/adapters/memory"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalPrompter_TwoFactorSwitchesMethod(t *testing.T) {
	var out bytes.Buffer
	p := NewTerminalPrompter(strings.NewReader("\nemail\n123456\n"), &out)
	pending := domain.TwoFactorPending{
		Method: domain.MethodSMS,
		Context: domain.TwoFactorContext{
			Token:     "ctx",
			Available: []domain.TwoFactorMethod{domain.MethodSMS, domain.MethodEmail},
		},
	}

	method, code, err := p.TwoFactorCode(context.Background(), pending, errors.New("code rejected"))
	require.NoError(t, err)
	assert.Equal(t, domain.MethodEmail, method)
	assert.Equal(t, "123456", code)
	assert.Contains(t, out.String(), "code rejected")
	assert.Contains(t, out.String(), "sms, email")
}

func TestTerminalPrompter_Notification(t *testing.T) {
	p := NewTerminalPrompter(strings.NewReader("push\n"), &bytes.Buffer{})
	method, code, err := p.TwoFactorCode(context.Background(), domain.TwoFactorPending{Method: domain.MethodTOTP}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.MethodNotification, method)
	assert.Empty(t, code)
}

func TestTerminalPrompter_Checkpoint(t *testing.T) {
	tests := []struct {
		name    string
		pending domain.CheckpointPending
		input   string
		want    map[string]string
	}{
		{"select", domain.CheckpointPending{StepKind: domain.StepSelectMethod, Choices: map[string]string{"0": "+1 ***", "1": "a***@x"}}, "1\n", map[string]string{"choice": "1"}},
		{"code", domain.CheckpointPending{StepKind: domain.StepCodeEntry, Contact: "a***@x"}, "424242\n", map[string]string{"security_code": "424242"}},
		{"acknowledge", domain.CheckpointPending{StepKind: domain.StepAcknowledge}, "\n", map[string]string{"choice": "0"}},
		{"phone", domain.CheckpointPending{StepKind: domain.StepSubmitPhone}, "+15550100\n", map[string]string{"phone_number": "+15550100"}},
		{"email", domain.CheckpointPending{StepKind: domain.StepSubmitEmail}, "a@example.com\n", map[string]string{"email": "a@example.com"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewTerminalPrompter(strings.NewReader(tc.input), &bytes.Buffer{})
			got, err := p.CheckpointInput(context.Background(), tc.pending, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	p := NewTerminalPrompter(strings.NewReader(""), &bytes.Buffer{})
	_, err := p.CheckpointInput(context.Background(), domain.CheckpointPending{StepKind: domain.StepWebForm}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidStep)
}

func TestTerminalPrompter_EOF(t *testing.T) {
	p := NewTerminalPrompter(strings.NewReader(""), &bytes.Buffer{})
	_, _, err := p.TwoFactorCode(context.Background(), domain.TwoFactorPending{Method: domain.MethodSMS}, nil)
	assert.True(t, isInterrupted(err))
	assert.NoError(t, HandleExecutionError(err))
}

func TestOpenStore_Encrypted(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Store
	cfg.Backend = config.BackendFile
	cfg.Dir = t.TempDir()
	cfg.EncryptionKey = "correct horse"

	store, rs, err := OpenStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, rs)
	require.NoError(t, store.Set(ctx, domain.CredAuthorization, "Bearer IGT:2:abc"))

	got, err := store.Get(ctx, domain.CredAuthorization)
	require.NoError(t, err)
	assert.Equal(t, "Bearer IGT:2:abc", got)

	cfg.EncryptionKey = ""
	plain, _, err := OpenStore(cfg)
	require.NoError(t, err)
	raw, err := plain.Get(ctx, domain.CredAuthorization)
	require.NoError(t, err)
	assert.NotEqual(t, "Bearer IGT:2:abc", raw, "values are sealed at rest")

	_, _, err = OpenStore(config.StoreConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestNewStack_ReusesStoredDevice(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendFile
	cfg.Store.Dir = t.TempDir()

	store, _, err := OpenStore(cfg.Store)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, domain.CredUserID, "42"))
	require.NoError(t, store.Set(ctx, domain.CredDeviceID, "android-00000000000000aa"))

	cfg.Device.PhoneID = "phone-from-config"
	stack, err := NewStack(ctx, cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	d := stack.Client.Device()
	assert.Equal(t, "android-00000000000000aa", d.DeviceID)
	assert.Equal(t, "phone-from-config", d.PhoneID)
	assert.NotEmpty(t, d.UUID)
	assert.Nil(t, stack.Locker)
}

func TestCredentialCommands(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Set(ctx, domain.CredUserID, "42"))
	require.NoError(t, store.Set(ctx, domain.CredAuthorization, testutils.Authorization("42", "sess-42")))

	var out bytes.Buffer
	require.NoError(t, ListCredentials(ctx, store, &out, false))
	assert.Contains(t, out.String(), "user_id")
	assert.Contains(t, out.String(), "***")
	assert.NotContains(t, out.String(), "Bearer")

	out.Reset()
	require.NoError(t, GetCredential(ctx, store, &out, domain.CredAuthorization, true))
	assert.Contains(t, out.String(), "Bearer IGT:2:")

	assert.Error(t, GetCredential(ctx, store, &out, "missing", false))

	out.Reset()
	require.NoError(t, RemoveCredentials(ctx, store, &out, nil, true))
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPrintPushAuth(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	stack, err := NewStack(ctx, cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	var out bytes.Buffer
	assert.ErrorIs(t, PrintPushAuth(ctx, stack, &out, false), domain.ErrNoActiveSession)

	require.NoError(t, stack.Store.Set(ctx, domain.CredUserID, "42"))
	require.NoError(t, stack.Store.Set(ctx, domain.CredUUID, "0123456789abcdef0123456789"))
	require.NoError(t, stack.Store.Set(ctx, domain.CredAuthorization, testutils.Authorization("42", "sess-42")))

	require.NoError(t, PrintPushAuth(ctx, stack, &out, true))
	assert.Contains(t, out.String(), `"client_id": "0123456789abcdef0123"`)
	assert.Contains(t, out.String(), `"password": "sessionid=sess-42"`)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger("verbose", false)
	assert.Error(t, err)
	logger, err := NewLogger("verbose", true)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
