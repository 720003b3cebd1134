package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/config"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/engine"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/storage"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

const testConfig = `
log:
  level: error
storage:
  backend: memory
security:
  master_key_iterations: 1000
  working_key_iterations: 100
audit:
  notify_sink: false
secret:
  secret: cli-test-secret
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataprotect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

// seed stores a profile for u1 through an engine sharing store
func seed(t *testing.T, path string, store interfaces.Storage) {
	t.Helper()
	ctx := context.Background()
	s, err := config.Load(path)
	require.NoError(t, err)
	e, err := engine.New(ctx, s, engine.WithStorage(store))
	require.NoError(t, err)
	defer e.Close(ctx)

	profile := map[string]any{"userId": "u1", "email": "jane@example.com"}
	require.NoError(t, e.SecureStore.Store(ctx, "profile:u1", profile, types.StoreOptions{}))
}

func run(t *testing.T, store interfaces.Storage, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(engine.WithStorage(store))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserExportAndErase(t *testing.T) {
	path := writeTestConfig(t)
	store := storage.NewMemoryAdapter()
	seed(t, path, store)

	out, err := run(t, store, "", "user", "export", "u1", "--config", path)
	require.NoError(t, err)
	var export types.UserDataExport
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	require.Len(t, export.Records, 1)
	assert.Equal(t, "profile:u1", export.Records[0].Key)
	assert.Contains(t, string(export.Records[0].Data), "jane@example.com")

	out, err = run(t, store, "", "user", "erase", "u1", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "erased 1 item(s) for u1\n", out)

	out, err = run(t, store, "", "store", "list", "--config", path)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAuditVerifyAndExport(t *testing.T) {
	path := writeTestConfig(t)
	store := storage.NewMemoryAdapter()
	seed(t, path, store)

	out, err := run(t, store, "", "audit", "verify", "--config", path)
	require.NoError(t, err)
	var report types.IntegrityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 1, report.CheckedEvents)

	out, err = run(t, store, "", "audit", "export", "--format", "csv", "--config", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,category,action"))
	assert.Contains(t, lines[1], ",store,")
}

func TestAuditReportRequiresRequester(t *testing.T) {
	path := writeTestConfig(t)
	_, err := run(t, storage.NewMemoryAdapter(), "", "audit", "report", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requested-by")
}

func TestPIIScanFromStdin(t *testing.T) {
	path := writeTestConfig(t)
	out, err := run(t, storage.NewMemoryAdapter(), `{"email":"jane@example.com","note":"hi"}`, "pii", "scan", "-", "--config", path)
	require.NoError(t, err)

	var res struct {
		Detections []struct {
			Field string `json:"field"`
			Type  string `json:"type"`
		} `json:"detections"`
		Classification string `json:"classification"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Detections, 1)
	assert.Equal(t, "email", res.Detections[0].Field)
	assert.Equal(t, string(types.ClassificationConfidential), res.Classification)
}

func TestBadConfigFails(t *testing.T) {
	_, err := run(t, storage.NewMemoryAdapter(), "", "store", "list", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRootCommandVersionAndQuietFailures(t *testing.T) {
	out, err := run(t, storage.NewMemoryAdapter(), "", "--version")
	require.NoError(t, err)
	assert.Equal(t, "dpctl version "+version+"\n", out)

	out, err = run(t, storage.NewMemoryAdapter(), "", "store", "list", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.NotContains(t, out, "Usage:")
}
