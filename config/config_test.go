package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_PATH", path)
	// .env ищется в рабочем каталоге
	t.Chdir(dir)
}

func TestLoadConfigDefaults(t *testing.T) {
	writeConfig(t, `
http:
  addr: ":8081"
badger:
  inMemory: true
cors:
  allowedOrigins: [" http://a ", "http://a", ""]
`)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8081", cfg.HTTP.Addr)
	require.Equal(t, DriverBadger, cfg.Storage.Driver)
	require.Equal(t, 5*time.Second, cfg.Storage.AppendTimeout)
	require.Equal(t, "consult-service", cfg.Logging.Service)
	require.Equal(t, "std", cfg.Logging.Backend)
	require.Equal(t, []string{"http://a"}, cfg.CORS.AllowedOrigins)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	writeConfig(t, `
http:
  addr: ":8081"
storage:
  driver: badger
badger:
  path: /tmp/x
`)
	t.Setenv("CONSULT_HTTP_ADDR", ":9999")
	t.Setenv("CONSULT_STORAGE_DRIVER", "postgres")
	t.Setenv("CONSULT_POSTGRES_DSN", "postgres://u:p@localhost/db")
	t.Setenv("CONSULT_STORAGE_APPEND_TIMEOUT", "2s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.HTTP.Addr)
	require.Equal(t, DriverPostgres, cfg.Storage.Driver)
	require.Equal(t, "postgres://u:p@localhost/db", cfg.Postgres.DSN)
	require.Equal(t, 2*time.Second, cfg.Storage.AppendTimeout)
	// значения из YAML, не перекрытые окружением, сохраняются
	require.Equal(t, "/tmp/x", cfg.Badger.Path)
}

func TestLoadConfigDotEnv(t *testing.T) {
	writeConfig(t, `
http:
  addr: ":8081"
badger:
  inMemory: true
`)
	require.NoError(t, os.WriteFile(".env", []byte("CONSULT_LOG_BACKEND=zap\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CONSULT_LOG_BACKEND") })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "zap", cfg.Logging.Backend)
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]string{
		"missing addr":      "badger:\n  inMemory: true\n",
		"unknown driver":    "http:\n  addr: \":1\"\nstorage:\n  driver: sqlite\n",
		"postgres no dsn":   "http:\n  addr: \":1\"\nstorage:\n  driver: postgres\n",
		"mongo no uri":      "http:\n  addr: \":1\"\nstorage:\n  driver: mongo\n",
		"badger no path":    "http:\n  addr: \":1\"\n",
		"key without iss":   "http:\n  addr: \":1\"\nbadger:\n  inMemory: true\nauth:\n  publicKeyPath: /k.pem\n",
		"bad logging env":   "http:\n  addr: \":1\"\nbadger:\n  inMemory: true\nlogging:\n  env: qa\n",
		"malformed yaml":    "http: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			writeConfig(t, body)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig()
	require.Error(t, err)
}
