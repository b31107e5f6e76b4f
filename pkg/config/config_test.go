package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Store struct {
		DSN      string `yaml:"dsn" json:"dsn"`
		MaxConns int    `yaml:"max_conns" json:"max_conns"`
	} `yaml:"store" json:"store"`
	Server struct {
		Host    string        `yaml:"host" json:"host"`
		Port    int           `yaml:"port" json:"port"`
		Timeout time.Duration `yaml:"timeout" json:"timeout"`
		Debug   bool          `yaml:"debug" json:"debug"`
		Tags    []string      `yaml:"tags" json:"tags"`
	} `yaml:"server" json:"server"`
	Hook func() `yaml:"-" json:"-"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "test.yaml", `
store:
  dsn: "file:///var/lib/crosscheck"
  max_conns: 25
server:
  port: 8080
  host: "localhost"
  timeout: 30s
`)

	var cfg testConfig
	require.NoError(t, Load(path, &cfg))

	assert.Equal(t, "file:///var/lib/crosscheck", cfg.Store.DSN)
	assert.Equal(t, 25, cfg.Store.MaxConns)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "test.json", `{"store":{"dsn":"mem://","max_conns":3},"server":{"port":9000}}`)

	var cfg testConfig
	require.NoError(t, Load(path, &cfg))

	assert.Equal(t, "mem://", cfg.Store.DSN)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	var cfg testConfig
	err := Load(writeFile(t, "typo.yaml", "store:\n  max_con: 3\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_con")

	err = Load(writeFile(t, "typo.json", `{"server":{"prot":1}}`), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prot")
}

func TestLoadEmptyYAMLKeepsValues(t *testing.T) {
	var cfg testConfig
	cfg.Server.Port = 8080
	require.NoError(t, Load(writeFile(t, "empty.yml", "# nothing yet\n"), &cfg))
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	var cfg testConfig
	err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.yaml")
}

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()
	var cfg testConfig
	cfg.Store.DSN = "mem://"
	cfg.Server.Timeout = 5 * time.Second

	for _, name := range []string{"out.yaml", "out.json"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, &cfg))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		var got testConfig
		require.NoError(t, Load(path, &got), name)
		assert.Equal(t, cfg.Store.DSN, got.Store.DSN, name)
		assert.Equal(t, cfg.Server.Timeout, got.Server.Timeout, name)
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := writeFile(t, "test.yaml", `
store:
  dsn: "mem://file"
server:
  port: 8080
  host: "localhost"
`)
	t.Setenv("APP_STORE_DSN", "mem://env")
	t.Setenv("APP_SERVER_PORT", "9090")

	var cfg testConfig
	require.NoError(t, LoadWithEnv(path, "APP", &cfg))

	assert.Equal(t, "mem://env", cfg.Store.DSN)
	assert.Equal(t, 9090, cfg.Server.Port)
	// no override for host
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestApplyEnvOverridesUsesYAMLNames(t *testing.T) {
	t.Setenv("X_STORE_MAX_CONNS", "12")
	t.Setenv("X_SERVER_TIMEOUT", "1m30s")
	t.Setenv("X_SERVER_DEBUG", "true")
	t.Setenv("X_SERVER_TAGS", "a, b,c")
	t.Setenv("X_HOOK", "ignored")

	var cfg testConfig
	require.NoError(t, ApplyEnvOverrides("X", &cfg))

	assert.Equal(t, 12, cfg.Store.MaxConns)
	assert.Equal(t, 90*time.Second, cfg.Server.Timeout)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.Tags)
	assert.Nil(t, cfg.Hook)
}

func TestApplyEnvOverridesRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"X_SERVER_PORT":    "eighty",
		"X_SERVER_DEBUG":   "maybe",
		"X_SERVER_TIMEOUT": "10 parsecs",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			var cfg testConfig
			err := ApplyEnvOverrides("X", &cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestApplyEnvOverridesNeedsStructPointer(t *testing.T) {
	var cfg testConfig
	assert.Error(t, ApplyEnvOverrides("X", cfg))
}

func TestRequiredFields(t *testing.T) {
	var cfg testConfig
	cfg.Store.MaxConns = 25

	validator := RequiredFields("Store.DSN")
	assert.Error(t, validator.Validate(&cfg))

	cfg.Store.DSN = "mem://"
	assert.NoError(t, validator.Validate(&cfg))

	assert.Error(t, RequiredFields("Store.Missing").Validate(&cfg))
}

func TestRangeValidator(t *testing.T) {
	var cfg testConfig
	cfg.Store.MaxConns = 5

	validator := RangeValidator("Store.MaxConns", 10, 100)
	assert.Error(t, validator.Validate(&cfg))

	cfg.Store.MaxConns = 50
	assert.NoError(t, validator.Validate(&cfg))

	assert.Error(t, RangeValidator("Store.DSN", 0, 1).Validate(&cfg), "non-numeric field")
}

func TestOneOfValidatorNested(t *testing.T) {
	var cfg testConfig
	cfg.Server.Host = "localhost"

	assert.NoError(t, OneOfValidator("Server.Host", "localhost", "0.0.0.0").Validate(&cfg))

	cfg.Server.Host = "example.org"
	assert.Error(t, OneOfValidator("Server.Host", "localhost", "0.0.0.0").Validate(&cfg))
}

func TestValidateStopsAtFirstFailure(t *testing.T) {
	calls := 0
	failing := ValidatorFunc(func(interface{}) error {
		calls++
		return assert.AnError
	})

	err := Validate(&testConfig{}, failing, failing)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}
