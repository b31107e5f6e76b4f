package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader is where service callers present their key
const APIKeyHeader = "X-API-Key"

// APIKeyConfig configures API key authentication
type APIKeyConfig struct {
	// Keys maps each accepted key to the caller name stored under ClaimsKey
	Keys map[string]string

	// HashedKeys maps caller names to bcrypt hashes of their keys, for
	// deployments that keep raw keys out of configuration
	HashedKeys map[string]string

	// ClaimsKey is the key the caller name is stored under on the request context
	ClaimsKey string

	// SkipPaths bypass authentication, matched exactly or by prefix
	SkipPaths []string
}

// APIKey authenticates service callers by the X-API-Key header
func APIKey(config APIKeyConfig) web.FastMiddleware {
	if len(config.Keys) == 0 && len(config.HashedKeys) == 0 {
		panic("APIKey: at least one key must be provided")
	}
	claimsKey := config.ClaimsKey
	if claimsKey == "" {
		claimsKey = DefaultClaimsKey
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			if skipped(string(ctx.Path()), config.SkipPaths) {
				return next(ctx)
			}

			presented := ctx.RequestCtx.Request.Header.Peek(APIKeyHeader)
			if len(presented) == 0 {
				return unauthorized(ctx, "ApiKey", fmt.Errorf("%s header missing", APIKeyHeader))
			}

			caller, ok := lookupKey(config.Keys, presented)
			if !ok {
				caller, ok = lookupHashedKey(config.HashedKeys, presented)
			}
			if !ok {
				return unauthorized(ctx, "ApiKey", fmt.Errorf("unknown API key"))
			}

			ctx.Set(claimsKey, caller)
			return next(ctx)
		}
	}
}

// lookupKey compares every key in constant time
func lookupKey(keys map[string]string, presented []byte) (string, bool) {
	var (
		caller string
		found  bool
	)
	for key, name := range keys {
		if subtle.ConstantTimeCompare([]byte(key), presented) == 1 {
			caller, found = name, true
		}
	}
	return caller, found
}

// lookupHashedKey checks presented against each bcrypt hash
func lookupHashedKey(hashes map[string]string, presented []byte) (string, bool) {
	for name, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), presented) == nil {
			return name, true
		}
	}
	return "", false
}

// HashAPIKey returns the bcrypt hash to store under auth.api_key_hashes
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("api key cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// ValidateKeyHash reports whether hash is a usable bcrypt hash
func ValidateKeyHash(hash string) error {
	_, err := bcrypt.Cost([]byte(hash))
	return err
}

// Either admits a request that passes any of the given authenticators, trying
// them in order. The last rejection is returned when all fail.
func Either(authenticators ...web.FastMiddleware) web.FastMiddleware {
	if len(authenticators) == 0 {
		panic("Either: no authenticators")
	}
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		wrapped := make([]web.FastRequestHandler, len(authenticators))
		for i, a := range authenticators {
			wrapped[i] = a(next)
		}
		return func(ctx *web.FastRequestContext) error {
			var err error
			for i, h := range wrapped {
				err = h(ctx)
				if !isUnauthorized(err) || i == len(wrapped)-1 {
					return err
				}
				ctx.RequestCtx.Response.Header.Del(fasthttp.HeaderWWWAuthenticate)
			}
			return err
		}
	}
}

func isUnauthorized(err error) bool {
	var he *web.HTTPError
	return errors.As(err, &he) && he.Status == fasthttp.StatusUnauthorized
}
