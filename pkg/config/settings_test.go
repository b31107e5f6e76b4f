package config

import (
	"strings"
	"testing"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/invoker"
	"github.com/crosscheckai/crosscheck/pkg/observability/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Validate())

	reg, err := s.Registry()
	require.NoError(t, err)
	assert.Equal(t, 8, reg.Len())
	assert.Equal(t, agent.DefaultBaseURL, reg.BaseURL())
}

func TestLoadSettingsWithoutFile(t *testing.T) {
	t.Setenv("CROSSCHECK_SERVER_ADDR", ":9999")
	t.Setenv("CROSSCHECK_FANOUT_MAX_CONCURRENCY", "3")
	t.Setenv("CROSSCHECK_FANOUT_INVOCATION_TIMEOUT", "45s")

	s, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", s.Server.Addr)
	assert.Equal(t, 3, s.FanoutOptions().MaxConcurrency)
	assert.Equal(t, 45*time.Second, s.FanoutOptions().InvocationTimeout)
	assert.Equal(t, s.Server.Addr, s.HTTPServer().Addr)
}

func TestLoadSettingsFileThenEnv(t *testing.T) {
	path := writeFile(t, "crosscheck.yaml", `
server:
  addr: ":7000"
  max_in_flight: 16
  submit_rate_limit:
    requests_per_minute: 30
    burst: 5
invoker:
  base_url: "https://agents.example.test/"
  breaker:
    threshold: 2
    reset_timeout: 5s
nats:
  enabled: true
  url: "nats://file:4222"
auth:
  api_keys:
    k-123: ops
agents:
  - name: Origin
    id: origin-1
  - name: Value
    id: value-1
    target: "https://custom.example.test/value"
`)
	t.Setenv("CROSSCHECK_NATS_URL", "nats://env:4222")
	t.Setenv("CROSSCHECK_INVOKER_BREAKER_THRESHOLD", "7")

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", s.Server.Addr)
	assert.Equal(t, 16, s.HTTPServer().MaxInFlight)
	assert.Equal(t, 30, s.Server.SubmitRateLimit.RequestsPerMinute)
	assert.Equal(t, 5, s.Server.SubmitRateLimit.Burst)
	assert.Equal(t, 7, s.Invoker.Breaker.Threshold)
	assert.Equal(t, 5*time.Second, s.Invoker.Breaker.ResetTimeout)
	// defaults survive for keys the file leaves out
	assert.Equal(t, 10*time.Second, s.Server.ReadTimeout)

	nc := s.NATSConfig()
	assert.Equal(t, "nats://env:4222", nc.URL)
	assert.Equal(t, "crosscheck", nc.Prefix)

	assert.True(t, s.Auth.Enabled())
	assert.Equal(t, "ops", s.Auth.APIKeys["k-123"])

	reg, err := s.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"origin-1", "value-1"}, reg.IDs())
	d, ok := reg.Resolve("origin-1")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(d.Target, "https://agents.example.test/v2/PipelineExecution/"), d.Target)
	d, _ = reg.Resolve("value-1")
	assert.Equal(t, "https://custom.example.test/value", d.Target)
}

func TestLoadSettingsRejectsBadEnv(t *testing.T) {
	t.Setenv("CROSSCHECK_NATS_ENABLED", "sometimes")

	_, err := LoadSettings("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CROSSCHECK_NATS_ENABLED")
}

func TestSettingsValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"empty addr", func(s *Settings) { s.Server.Addr = "" }, "Server.Addr"},
		{"log level", func(s *Settings) { s.Log.Level = "verbose" }, "Log.Level"},
		{"log file path", func(s *Settings) { s.Log.Output = "file" }, "log.file_path"},
		{"sample ratio", func(s *Settings) { s.Tracing.SampleRatio = 1.5 }, "Tracing.SampleRatio"},
		{"unknown exporter", func(s *Settings) { s.Tracing.Exporter = "jaeger" }, "Tracing.Exporter"},
		{"zipkin without url", func(s *Settings) { s.Tracing.Exporter = tracing.ExporterZipkin }, "zipkin_url"},
		{"short jwt secret", func(s *Settings) { s.Auth.JWTSecret = "too-short" }, "jwt_secret"},
		{"plain text key hash", func(s *Settings) { s.Auth.APIKeyHashes = map[string]string{"ops": "k-1"} }, "api_key_hashes[ops]"},
		{"nats without url", func(s *Settings) {
			s.NATS.Enabled = true
			s.NATS.URL = ""
		}, "nats.url"},
		{"duplicate agent", func(s *Settings) {
			s.Agents = []agent.Descriptor{{Name: "A", ID: "x"}, {Name: "B", ID: "x"}}
		}, "duplicate agent id"},
		{"negative concurrency", func(s *Settings) { s.Fanout.MaxConcurrency = -1 }, "Fanout.MaxConcurrency"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Defaults()
			tc.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSettingsValidateJoinsErrors(t *testing.T) {
	s := Defaults()
	s.Auth.JWTSecret = "short"
	s.NATS.Enabled = true
	s.NATS.URL = ""

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "nats.url")
}

func TestCredentialPrecedence(t *testing.T) {
	t.Setenv(invoker.DefaultCredentialEnv, "")

	s := Defaults()
	assert.False(t, s.CredentialConfigured())

	t.Setenv(invoker.DefaultCredentialEnv, "from-env")
	key, ok := s.Credential()()
	require.True(t, ok)
	assert.Equal(t, "from-env", key)

	s.Invoker.APIKey = "from-file"
	key, ok = s.Credential()()
	require.True(t, ok)
	assert.Equal(t, "from-file", key)
}

func TestCredentialCustomEnv(t *testing.T) {
	s := Defaults()
	s.Invoker.CredentialEnv = "CROSSCHECK_TEST_AGENT_KEY"
	t.Setenv("CROSSCHECK_TEST_AGENT_KEY", "  spaced  ")

	key, ok := s.Credential()()
	require.True(t, ok)
	assert.Equal(t, "spaced", key)
}

func TestExampleSettingsFileLoads(t *testing.T) {
	s, err := LoadSettings("../../config/crosscheck.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, s.Server.WriteTimeout)
	assert.Equal(t, "both", s.Log.Output)
	assert.Equal(t, 30, s.Server.SubmitRateLimit.RequestsPerMinute)
	assert.False(t, s.Auth.Enabled())

	reg, err := s.Registry()
	require.NoError(t, err)
	assert.Equal(t, 8, reg.Len())
}
