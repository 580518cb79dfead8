package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/version"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("ACCOUNTDESK_TEST_ENV", "custom-value")
	assert.Equal(t, "custom-value", getEnvString("ACCOUNTDESK_TEST_ENV", "default"))
	assert.Equal(t, "fallback", getEnvString("ACCOUNTDESK_UNKNOWN_ENV", "fallback"))
}

func TestGetEnvBool(t *testing.T) {
	for _, val := range []string{"true", "TRUE", "True", "1", "yes", "YES"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("TEST_BOOL", val)
			assert.True(t, getEnvBool("TEST_BOOL", false))
		})
	}
	for _, val := range []string{"false", "FALSE", "0", "no", "NO"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("TEST_BOOL", val)
			assert.False(t, getEnvBool("TEST_BOOL", true))
		})
	}

	t.Setenv("TEST_BOOL_INVALID", "sometimes")
	assert.True(t, getEnvBool("TEST_BOOL_INVALID", true), "invalid values keep the default")
	assert.False(t, getEnvBool("TEST_BOOL_MISSING", false))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{".env", ".env.local"}, splitList(" .env, .env.local ,"))
	assert.Nil(t, splitList(""))
}

func TestDefaultFlags(t *testing.T) {
	t.Setenv("ACCOUNTDESK_DEBUG", "true")
	t.Setenv("ACCOUNTDESK_CONFIG_PATH", "/etc/accountdesk/config.yaml")
	t.Setenv("ACCOUNTDESK_DISABLE_DISPATCH", "1")

	f := defaultFlags()
	assert.True(t, f.Debug)
	assert.Equal(t, "/etc/accountdesk/config.yaml", f.ConfigPath)
	assert.True(t, f.DisableDispatch)
	assert.True(t, f.Migrate)
	assert.Equal(t, []string{".env"}, f.EnvFiles)
}

func TestFlags_Print(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Flags{Debug: true, ConfigPath: "c.yaml"}.Print(zap.New(core).Sugar())

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, true, fields["debug"])
	assert.Equal(t, "c.yaml", fields["config_path"])
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, NewLogger(true))
	assert.NotNil(t, NewLogger(false))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listenAddress: 127.0.0.1:9999
dispatch:
  batchSize: 25
smtp:
  host: smtp.example.com
`)
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("DISPATCH_INTERVAL=90s\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("DISPATCH_INTERVAL") })
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := loadConfig(Flags{ConfigPath: path, EnvFiles: []string{envFile, "missing.env"}})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.ListenAddress)
	assert.Equal(t, 25, cfg.Dispatch.BatchSize)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, config.StoreDriverMemory, cfg.Store.Driver)

	interval, err := cfg.DispatchInterval()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, interval)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig(Flags{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)

	_, err = loadConfig(Flags{ConfigPath: writeConfig(t, "dispatch:\n  interval: soon\n")})
	assert.ErrorContains(t, err, "invalid configuration")

	_, err = loadConfig(Flags{ConfigPath: writeConfig(t, "store:\n  driver: sqlite\n")})
	assert.ErrorContains(t, err, "unsupported store driver")
}

func newTestRoot(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	return newTestRootContext(t, context.Background(), args...)
}

func newTestRootContext(t *testing.T, ctx context.Context, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	out := &bytes.Buffer{}
	root := NewRootCommand(Options{
		Out:       out,
		NewLogger: func(bool) *zap.Logger { return zaptest.NewLogger(t) },
	})
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	return out, root.ExecuteContext(ctx)
}

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := version.Version, version.GitCommit
	defer func() { version.Version, version.GitCommit = origVersion, origCommit }()
	version.Version = "v1.2.3"
	version.GitCommit = "abc123"

	out, err := newTestRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "accountdesk v1.2.3 (commit abc123")

	out, err = newTestRoot(t, "version", "-o", "json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "v1.2.3", info.Version)

	out, err = newTestRoot(t, "version", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "version: v1.2.3")

	_, err = newTestRoot(t, "version", "-o", "xml")
	assert.Error(t, err)
}

func TestDispatchCommand_EmptyQueue(t *testing.T) {
	path := writeConfig(t, "smtp:\n  host: 127.0.0.1\n  port: 1\n")

	out, err := newTestRoot(t, "dispatch", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "result=empty queried=0 sent=0 failed=0")
}

func TestDispatchCommand_WithTracing(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	path := writeConfig(t, "telemetry:\n  enabled: true\n  exporter: none\n")
	out, err := newTestRoot(t, "dispatch", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "result=empty")
}

func TestDispatchCommand_BadExporter(t *testing.T) {
	path := writeConfig(t, "telemetry:\n  enabled: true\n  exporter: zipkin\n")
	_, err := newTestRoot(t, "dispatch", "--config", path)
	assert.Error(t, err)
}

func TestDispatchCommand_ConfigError(t *testing.T) {
	_, err := newTestRoot(t, "dispatch", "--config", writeConfig(t, "dispatch:\n  batchSize: -1\n  interval: x\n"))
	assert.Error(t, err)
}

func TestMigrateCommand_MemoryStore(t *testing.T) {
	_, err := newTestRoot(t, "migrate", "--config", writeConfig(t, "store:\n  driver: memory\n"))
	assert.NoError(t, err)
}

func TestServeCommand_StopsOnCancel(t *testing.T) {
	t.Setenv("ACCOUNTDESK_TOKEN_SECRET", "serve-test-secret")
	path := writeConfig(t, `
server:
  listenAddress: 127.0.0.1:0
smtp:
  host: 127.0.0.1
  port: 1
`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := newTestRootContext(t, ctx, "serve", "--config", path)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop after its context was canceled")
	}
}

func TestServeCommand_RequiresTokenSecret(t *testing.T) {
	t.Setenv("ACCOUNTDESK_TOKEN_SECRET", "")
	path := writeConfig(t, "server:\n  listenAddress: 127.0.0.1:0\n")

	_, err := newTestRoot(t, "serve", "--config", path, "--disable-dispatch")
	assert.ErrorContains(t, err, "identity provider")
}
