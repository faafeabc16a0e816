package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoadFile tests the layering of defaults, file and environment
func TestLoadFile(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with no file and no env vars",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 10*time.Minute, cfg.Server.RequestTimeout)
				assert.Equal(t, []string{"http://localhost:8080"}, cfg.Security.AllowedOrigins)
				assert.True(t, cfg.Security.RateLimit.Enabled)
				assert.Equal(t, 100.0, cfg.Security.RateLimit.RPS)

				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, "console", cfg.Logging.Output)

				assert.Equal(t, 5*time.Minute, cfg.Executor.DefaultStageTimeout)
				assert.Equal(t, 1, cfg.Executor.RetryAttempts)
				assert.Equal(t, 4, cfg.Executor.Workers)
				assert.Empty(t, cfg.Executor.OperationTimeouts)

				assert.Equal(t, StorageMemory, cfg.Storage.Driver)
				assert.False(t, cfg.Archive.Enabled)
				assert.Equal(t, "prometheus", cfg.Telemetry.MetricExporter)
			},
		},
		{
			name: "environment overrides defaults",
			env: map[string]string{
				"EMP_SERVER_PORT":                    "9090",
				"EMP_LOGGING_LEVEL":                  "debug",
				"EMP_EXECUTOR_DEFAULT_STAGE_TIMEOUT": "2m",
				"EMP_EXECUTOR_OPERATION_TIMEOUTS":    "chipseq-peaks:30m,singlecell-trajectory:1h",
				"EMP_SECURITY_ALLOWED_ORIGINS":       "http://a.example,http://b.example",
				"EMP_SECURITY_RATE_LIMIT_RPS":        "5.5",
				"EMP_STORAGE_DRIVER":                 "POSTGRES",
				"EMP_STORAGE_DATABASE_URL":           "postgres://emp@localhost/emp",
				"EMP_TELEMETRY_SAMPLE_RATIO":         "0.25",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, 2*time.Minute, cfg.Executor.DefaultStageTimeout)
				assert.Equal(t, map[string]time.Duration{
					"chipseq-peaks":         30 * time.Minute,
					"singlecell-trajectory": time.Hour,
				}, cfg.Executor.OperationTimeouts)
				assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Security.AllowedOrigins)
				assert.Equal(t, 5.5, cfg.Security.RateLimit.RPS)
				assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
				assert.Equal(t, 0.25, cfg.Telemetry.SampleRatio)
			},
		},
		{
			name: "file overrides defaults",
			file: `
server:
  port: 7070
executor:
  default_stage_timeout: 90s
  workers: 8
  operation_timeouts:
    alpha-diversity: 45s
archive:
  enabled: true
  endpoint: minio:9000
  bucket: reports
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, 90*time.Second, cfg.Executor.DefaultStageTimeout)
				assert.Equal(t, 8, cfg.Executor.Workers)
				assert.Equal(t, 45*time.Second, cfg.Executor.OperationTimeouts["alpha-diversity"])
				assert.True(t, cfg.Archive.Enabled)
				assert.Equal(t, "reports", cfg.Archive.Bucket)
				// untouched sections keep their defaults
				assert.Equal(t, "runs", cfg.Archive.Prefix)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
			},
		},
		{
			name: "environment takes precedence over file",
			env:  map[string]string{"EMP_SERVER_PORT": "6060"},
			file: "server:\n  port: 7070\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 6060, cfg.Server.Port)
			},
		},
		{
			name:    "invalid port",
			env:     map[string]string{"EMP_SERVER_PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "non-positive stage timeout",
			file:    "executor:\n  default_stage_timeout: 0s\n",
			wantErr: true,
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"EMP_STORAGE_DRIVER": "postgres"},
			wantErr: true,
		},
		{
			name:    "unknown storage driver",
			env:     map[string]string{"EMP_STORAGE_DRIVER": "sqlite"},
			wantErr: true,
		},
		{
			name:    "archive without endpoint",
			env:     map[string]string{"EMP_ARCHIVE_ENABLED": "true"},
			wantErr: true,
		},
		{
			name:    "malformed env value",
			env:     map[string]string{"EMP_EXECUTOR_WORKERS": "many"},
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			file:    "server: [unclosed",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfigFile(t, tt.file)
			}

			cfg, err := LoadFile(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLoadUsesConfigFileEnv(t *testing.T) {
	path := writeConfigFile(t, "logging:\n  level: warn\n")
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateNormalizesLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "xml"
	cfg.Logging.Output = "syslog"
	cfg.Logging.FilePath = ""

	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "console", cfg.Logging.Output)
	assert.Equal(t, "logs/emprofiler.log", cfg.Logging.FilePath)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().validate())
}

func TestResolvePaths(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.Paths.BaseDir = base
	cfg.Paths.LogsDir = filepath.Join(base, "elsewhere", "logs")

	paths, err := cfg.ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "data"), paths.DataDir)
	assert.Equal(t, filepath.Join(base, "data", "exports"), paths.ExportsDir)
	assert.Equal(t, filepath.Join(base, "elsewhere", "logs"), paths.LogsDir)
	assert.Equal(t, filepath.Join(base, "catalog.yaml"), paths.Resolve("catalog.yaml"))
	assert.Equal(t, "/abs/catalog.yaml", paths.Resolve("/abs/catalog.yaml"))

	require.NoError(t, paths.EnsureDirectories())
	for _, dir := range []string{paths.DataDir, paths.ExportsDir, paths.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
