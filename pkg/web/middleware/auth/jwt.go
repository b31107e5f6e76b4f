package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

// DefaultClaimsKey is where validated claims are stored on the request context
const DefaultClaimsKey = "user"

// JWTConfig configures JWT authentication
type JWTConfig struct {
	// SecretKey is the HMAC secret for verifying tokens
	SecretKey string

	// ValidMethods is the list of accepted signing algorithms. Default: ["HS256"].
	ValidMethods []string

	// Issuer requires a matching `iss` claim when set.
	Issuer string

	// Audience requires a matching `aud` claim when set.
	Audience []string

	// Leeway allows small clock skew for exp/nbf/iat validation.
	Leeway time.Duration

	// ClaimsKey is the key claims are stored under on the request context
	ClaimsKey string

	// SkipPaths bypass authentication, matched exactly or by prefix
	SkipPaths []string
}

// DefaultJWTConfig returns a default JWT configuration
func DefaultJWTConfig(secretKey string) JWTConfig {
	return JWTConfig{
		SecretKey:    secretKey,
		ClaimsKey:    DefaultClaimsKey,
		ValidMethods: []string{"HS256"},
	}
}

// JWT validates bearer tokens from the Authorization header
func JWT(config JWTConfig) web.FastMiddleware {
	if config.SecretKey == "" {
		panic("JWT: SecretKey must be provided")
	}

	validMethods := config.ValidMethods
	if len(validMethods) == 0 {
		validMethods = []string{"HS256"}
	}
	claimsKey := config.ClaimsKey
	if claimsKey == "" {
		claimsKey = DefaultClaimsKey
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(config.SecretKey), nil
	}

	options := []jwt.ParserOption{jwt.WithValidMethods(validMethods)}
	if config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(config.Leeway))
	}
	if config.Issuer != "" {
		options = append(options, jwt.WithIssuer(config.Issuer))
	}
	if len(config.Audience) > 0 {
		options = append(options, jwt.WithAudience(config.Audience...))
	}
	parser := jwt.NewParser(options...)

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			if skipped(string(ctx.Path()), config.SkipPaths) {
				return next(ctx)
			}

			authHeader := string(ctx.RequestCtx.Request.Header.Peek(fasthttp.HeaderAuthorization))
			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				return unauthorized(ctx, "Bearer", fmt.Errorf("authorization header missing or malformed"))
			}

			token, err := parser.ParseWithClaims(tokenString, jwt.MapClaims{}, keyFunc)
			if err != nil {
				return unauthorized(ctx, "Bearer", fmt.Errorf("invalid token: %w", err))
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				return unauthorized(ctx, "Bearer", fmt.Errorf("invalid token claims"))
			}

			ctx.Set(claimsKey, claims)
			return next(ctx)
		}
	}
}

// unauthorized never reflects err to the caller
func unauthorized(ctx *web.FastRequestContext, scheme string, err error) error {
	ctx.RequestCtx.Response.Header.Set(fasthttp.HeaderWWWAuthenticate, fmt.Sprintf(`%s realm="crosscheck", error="invalid_token"`, scheme))
	return web.NewHTTPError(fasthttp.StatusUnauthorized, "unauthorized", "invalid or missing credentials").Wrap(err)
}

func skipped(path string, skip []string) bool {
	for _, p := range skip {
		if path == p || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// GetClaims extracts JWT claims from the request context
func GetClaims(ctx *web.FastRequestContext, key string) (jwt.MapClaims, error) {
	claims, ok := ctx.Get(key).(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("claims not found in context")
	}
	return claims, nil
}

// GetSubject returns the caller identity from the validated claims
func GetSubject(ctx *web.FastRequestContext, key string) (string, error) {
	claims, err := GetClaims(ctx, key)
	if err != nil {
		return "", err
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return uid, nil
	}
	return "", fmt.Errorf("subject not found in claims")
}

// JWTTokenGenerator mints HS256 tokens accepted by JWT
type JWTTokenGenerator struct {
	// Issuer is written to the iss claim when set
	Issuer string

	secret []byte
	now    func() time.Time
}

// NewJWTTokenGenerator creates a new JWT token generator
func NewJWTTokenGenerator(secret []byte) *JWTTokenGenerator {
	return &JWTTokenGenerator{secret: secret, now: time.Now}
}

// Generate signs a token for subject that expires after expiresIn
func (g *JWTTokenGenerator) Generate(subject string, expiresIn time.Duration) (string, error) {
	if len(g.secret) == 0 {
		return "", fmt.Errorf("token secret is empty")
	}
	if expiresIn <= 0 {
		return "", fmt.Errorf("token lifetime must be positive, got %s", expiresIn)
	}

	now := g.now()
	claims := jwt.RegisteredClaims{
		Issuer:    g.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
