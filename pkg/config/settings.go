package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/fanout"
	"github.com/crosscheckai/crosscheck/pkg/invoker"
	"github.com/crosscheckai/crosscheck/pkg/notify"
	"github.com/crosscheckai/crosscheck/pkg/observability/tracing"
	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/crosscheckai/crosscheck/pkg/web/middleware/auth"
	"github.com/crosscheckai/crosscheck/pkg/web/middleware/security"
)

// EnvPrefix prefixes every environment override, e.g. CROSSCHECK_SERVER_ADDR
const EnvPrefix = "CROSSCHECK"

// MinJWTSecretLength is the shortest HS256 secret accepted
const MinJWTSecretLength = 32

// Settings is the complete CrossCheck configuration
type Settings struct {
	Server  ServerSettings     `yaml:"server" json:"server"`
	Log     core.LogConfig     `yaml:"log" json:"log"`
	Invoker InvokerSettings    `yaml:"invoker" json:"invoker"`
	Fanout  FanoutSettings     `yaml:"fanout" json:"fanout"`
	NATS    NATSSettings       `yaml:"nats" json:"nats"`
	Tracing tracing.Config     `yaml:"tracing" json:"tracing"`
	Auth    AuthSettings       `yaml:"auth" json:"auth"`
	Agents  []agent.Descriptor `yaml:"agents" json:"agents"`
}

// ServerSettings configures the HTTP API
type ServerSettings struct {
	Addr               string        `yaml:"addr" json:"addr"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxRequestBodySize int           `yaml:"max_request_body_size" json:"max_request_body_size"`
	MaxInFlight        int           `yaml:"max_in_flight" json:"max_in_flight"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// SubmitRateLimit applies to batch and single-agent submissions. 0 disables it.
	SubmitRateLimit security.RateLimitConfig `yaml:"submit_rate_limit" json:"submit_rate_limit"`
}

// InvokerSettings configures how agents are called
type InvokerSettings struct {
	// APIKey is the agent platform credential. When empty the CredentialEnv variable is read per call.
	APIKey           string          `yaml:"api_key" json:"api_key"`
	CredentialEnv    string          `yaml:"credential_env" json:"credential_env"`
	BaseURL          string          `yaml:"base_url" json:"base_url"`
	Timeout          time.Duration   `yaml:"timeout" json:"timeout"`
	MaxResponseBytes int64           `yaml:"max_response_bytes" json:"max_response_bytes"`
	Breaker          BreakerSettings `yaml:"breaker" json:"breaker"`
}

// BreakerSettings configures the per-agent circuit breakers. Threshold 0 disables them.
type BreakerSettings struct {
	Threshold    int           `yaml:"threshold" json:"threshold"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// FanoutSettings configures the coordinator
type FanoutSettings struct {
	MaxConcurrency    int           `yaml:"max_concurrency" json:"max_concurrency"`
	InvocationTimeout time.Duration `yaml:"invocation_timeout" json:"invocation_timeout"`
}

// NATSSettings configures settled-batch notifications
type NATSSettings struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	URL          string        `yaml:"url" json:"url"`
	Prefix       string        `yaml:"prefix" json:"prefix"`
	Name         string        `yaml:"name" json:"name"`
	FlushTimeout time.Duration `yaml:"flush_timeout" json:"flush_timeout"`
}

// AuthSettings enables API authentication. With neither set the API is open.
type AuthSettings struct {
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer"`

	// APIKeys maps accepted X-API-Key values to caller names
	APIKeys map[string]string `yaml:"api_keys" json:"api_keys"`

	// APIKeyHashes maps caller names to bcrypt hashes from "crosscheck token hash-key"
	APIKeyHashes map[string]string `yaml:"api_key_hashes" json:"api_key_hashes"`
}

// Enabled reports whether any authenticator is configured
func (a AuthSettings) Enabled() bool {
	return a.JWTSecret != "" || len(a.APIKeys) > 0 || len(a.APIKeyHashes) > 0
}

// Defaults returns settings for a local deployment against the hosted agent platform
func Defaults() Settings {
	return Settings{
		Server: ServerSettings{
			Addr:               ":8080",
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			IdleTimeout:        60 * time.Second,
			MaxRequestBodySize: 8 << 20,
			MaxInFlight:        256,
			ShutdownTimeout:    15 * time.Second,
		},
		Log: core.DefaultLogConfig(),
		Invoker: InvokerSettings{
			CredentialEnv:    invoker.DefaultCredentialEnv,
			BaseURL:          agent.DefaultBaseURL,
			Timeout:          120 * time.Second,
			MaxResponseBytes: invoker.DefaultMaxResponseBytes,
			Breaker: BreakerSettings{
				Threshold:    5,
				ResetTimeout: 30 * time.Second,
			},
		},
		Fanout: FanoutSettings{
			InvocationTimeout: fanout.DefaultInvocationTimeout,
		},
		NATS: NATSSettings{
			URL:          "nats://127.0.0.1:4222",
			Prefix:       notify.DefaultPrefix,
			Name:         "crosscheck",
			FlushTimeout: 2 * time.Second,
		},
		Tracing: tracing.Config{
			Exporter:    tracing.ExporterNone,
			ServiceName: "crosscheck",
		},
	}
}

// LoadSettings reads path over Defaults, then applies CROSSCHECK_* overrides and validates.
// An empty path skips the file.
func LoadSettings(path string) (Settings, error) {
	s := Defaults()
	if path != "" {
		if err := Load(path, &s); err != nil {
			return Settings{}, err
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, &s); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings for values the services would reject at startup
func (s *Settings) Validate() error {
	err := Validate(s,
		RequiredFields("Server.Addr", "Invoker.BaseURL"),
		RangeValidator("Server.MaxInFlight", 0, 1<<20),
		RangeValidator("Fanout.MaxConcurrency", 0, 4096),
		RangeValidator("Invoker.Breaker.Threshold", 0, 1000),
		RangeValidator("Tracing.SampleRatio", 0, 1),
		OneOfValidator("Log.Level", "debug", "info", "warn", "error"),
		OneOfValidator("Log.Format", "json", "console"),
		OneOfValidator("Log.Output", "stdout", "stderr", "file", "both"),
		OneOfValidator("Tracing.Exporter", "", tracing.ExporterNone, tracing.ExporterStdout, tracing.ExporterZipkin),
	)
	if err != nil {
		return err
	}

	var errs []error
	if (s.Log.Output == "file" || s.Log.Output == "both") && s.Log.FilePath == "" {
		errs = append(errs, fmt.Errorf("log.file_path is required when log.output is %q", s.Log.Output))
	}
	if s.Tracing.Exporter == tracing.ExporterZipkin && s.Tracing.ZipkinURL == "" {
		errs = append(errs, errors.New("tracing.zipkin_url is required for the zipkin exporter"))
	}
	if s.Auth.JWTSecret != "" && len(s.Auth.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength))
	}
	for name, hash := range s.Auth.APIKeyHashes {
		if err := auth.ValidateKeyHash(hash); err != nil {
			errs = append(errs, fmt.Errorf("auth.api_key_hashes[%s]: %w", name, err))
		}
	}
	if s.NATS.Enabled && s.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	if _, err := s.Registry(); err != nil {
		errs = append(errs, fmt.Errorf("agents: %w", err))
	}
	return errors.Join(errs...)
}

// Registry builds the agent registry. An empty agents list selects the default panel.
func (s *Settings) Registry() (*agent.Registry, error) {
	if len(s.Agents) == 0 {
		return agent.NewDefaultRegistry(s.Invoker.BaseURL)
	}
	return agent.NewRegistry(s.Invoker.BaseURL, s.Agents...)
}

// Credential resolves the agent platform key: api_key first, then the environment per call
func (s *Settings) Credential() invoker.CredentialFunc {
	return invoker.FirstCredential(
		invoker.StaticCredential(s.Invoker.APIKey),
		invoker.EnvCredential(s.Invoker.CredentialEnv),
	)
}

// HTTPServer returns the web server configuration
func (s *Settings) HTTPServer() web.FastHTTPServerConfig {
	return web.FastHTTPServerConfig{
		Addr:               s.Server.Addr,
		ReadTimeout:        s.Server.ReadTimeout,
		WriteTimeout:       s.Server.WriteTimeout,
		IdleTimeout:        s.Server.IdleTimeout,
		MaxRequestBodySize: s.Server.MaxRequestBodySize,
		MaxInFlight:        s.Server.MaxInFlight,
	}
}

// NATSConfig returns the publisher configuration
func (s *Settings) NATSConfig() notify.NATSConfig {
	return notify.NATSConfig{
		URL:          s.NATS.URL,
		Prefix:       s.NATS.Prefix,
		Name:         s.NATS.Name,
		FlushTimeout: s.NATS.FlushTimeout,
	}
}

// FanoutOptions returns coordinator options without the logger
func (s *Settings) FanoutOptions() fanout.Options {
	return fanout.Options{
		MaxConcurrency:    s.Fanout.MaxConcurrency,
		InvocationTimeout: s.Fanout.InvocationTimeout,
	}
}

// CredentialConfigured reports whether a credential is available right now
func (s *Settings) CredentialConfigured() bool {
	_, ok := s.Credential()()
	return ok
}
