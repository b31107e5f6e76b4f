package invoker

import (
	"os"
	"strings"
)

// DefaultCredentialEnv is the environment variable holding the agent platform API key
const DefaultCredentialEnv = "AIRIA_API_KEY"

// CredentialFunc returns the bearer credential. It is called on every invocation,
// so rotating or clearing the source takes effect on the next call.
type CredentialFunc func() (string, bool)

// EnvCredential reads the credential from an environment variable
func EnvCredential(name string) CredentialFunc {
	if name == "" {
		name = DefaultCredentialEnv
	}
	return func() (string, bool) {
		v := strings.TrimSpace(os.Getenv(name))
		return v, v != ""
	}
}

// StaticCredential always returns key
func StaticCredential(key string) CredentialFunc {
	key = strings.TrimSpace(key)
	return func() (string, bool) {
		return key, key != ""
	}
}

// FirstCredential returns the first source that yields a credential
func FirstCredential(sources ...CredentialFunc) CredentialFunc {
	return func() (string, bool) {
		for _, src := range sources {
			if src == nil {
				continue
			}
			if v, ok := src(); ok {
				return v, true
			}
		}
		return "", false
	}
}
