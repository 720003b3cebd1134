package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/config"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/consent"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/kms"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/security"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/storage"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

func testSettings(backend string) *config.Settings {
	s := &config.Settings{}
	s.Storage.Backend = backend
	s.Storage.DSN = "file::memory:"
	s.Security.MasterKeyIterations = 1000
	s.Security.WorkingKeyIterations = 100
	s.Security.ExpirySweepInterval = 10 * time.Millisecond
	s.Secret = kms.SecretSettings{Secret: "engine-test-secret"}
	return s
}

func TestEngineEndToEnd(t *testing.T) {
	ctx := context.Background()
	oracle := consent.NewMemoryOracle("profile")

	e, err := New(ctx, testSettings(config.BackendSQLite), WithConsentOracle(oracle), WithSecuritySink(security.NopSink{}))
	require.NoError(t, err)
	defer e.Close(ctx)

	data := map[string]any{"userId": "u1", "email": "jane@example.com"}
	require.NoError(t, e.SecureStore.Store(ctx, "profile", data, types.StoreOptions{RequireConsent: true}))

	err = e.SecureStore.Store(ctx, "marketing", data, types.StoreOptions{RequireConsent: true})
	assert.True(t, errors.Is(err, types.ErrConsentRequired))

	var out map[string]any
	require.NoError(t, e.SecureStore.Retrieve(ctx, "profile", &out))
	assert.Equal(t, "jane@example.com", out["email"])

	// Secure store operations land in the audit trail
	res, err := e.Audit.SearchAuditEvents(ctx, types.AuditQuery{})
	require.NoError(t, err)
	var actions []string
	for _, ev := range res.Events {
		actions = append(actions, ev.Action)
	}
	assert.Contains(t, actions, "store")
	assert.Contains(t, actions, "store_denied")
	assert.Contains(t, actions, "retrieve")

	report, err := e.Audit.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestEngineSharedStorageSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()

	first, err := New(ctx, testSettings(config.BackendMemory), WithStorage(store))
	require.NoError(t, err)
	require.NoError(t, first.SecureStore.Store(ctx, "k", "persisted", types.StoreOptions{}))
	require.NoError(t, first.Close(ctx))

	second, err := New(ctx, testSettings(config.BackendMemory), WithStorage(store))
	require.NoError(t, err)
	defer second.Close(ctx)

	var out string
	require.NoError(t, second.SecureStore.Retrieve(ctx, "k", &out))
	assert.Equal(t, "persisted", out)

	report, err := second.Audit.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.CheckedEvents, "store and retrieve")
}

func TestEngineExpirySweep(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, testSettings(config.BackendMemory))
	require.NoError(t, err)
	defer e.Close(ctx)

	require.NoError(t, e.SecureStore.Store(ctx, "short", "v", types.StoreOptions{ExpiresIn: 20 * time.Millisecond}))
	require.NoError(t, e.StartExpirySweep(ctx))

	assert.Eventually(t, func() bool {
		keys, err := e.SecureStore.List(ctx)
		return err == nil && len(keys) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		p := e.Coordinator.GetProcessStatus(ExpirySweepProcess)
		return p != nil && p.Runs > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineRequiresSecret(t *testing.T) {
	s := testSettings(config.BackendMemory)
	s.Secret = kms.SecretSettings{}
	_, err := New(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "application secret")

	_, err = New(context.Background(), nil)
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestEngineUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), testSettings("redis"))
	assert.True(t, errors.Is(err, types.ErrValidation))
}
