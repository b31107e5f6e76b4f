package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/crosscheckai/crosscheck/pkg/observability/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

type countingDoer struct {
	calls atomic.Int64
	next  Doer
}

func (c *countingDoer) Do(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.Do(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestInvoke_Success(t *testing.T) {
	var got invokeRequest
	var auth, requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		requestID = r.Header.Get("X-Request-ID")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"risk_level":"LOW","message":"ok"}`))
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := prometheus.NewMetrics(reg)
	iv := New(Options{
		Client:     srv.Client(),
		Credential: StaticCredential("secret"),
		Metrics:    metrics,
	})

	ctx := core.WithSessionID(context.Background(), "session-1")
	ctx = core.WithRequestID(ctx, "req-1")
	d := agent.Descriptor{Name: "HS", ID: "hs-id", Target: srv.URL}

	out := iv.Invoke(ctx, d, "Commercial Invoice #INV-2025-001")

	require.True(t, out.Succeeded, out.FailureReason)
	assert.Equal(t, "hs-id", out.WorkerID)
	assert.Equal(t, "HS", out.WorkerName)
	assert.JSONEq(t, `{"risk_level":"LOW","message":"ok"}`, string(out.Payload))
	assert.Empty(t, out.FailureReason)
	assert.GreaterOrEqual(t, out.ElapsedMillis, int64(0))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, invokeRequest{SessionID: "session-1", InputText: "Commercial Invoice #INV-2025-001", Synchronous: true}, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.InvocationsTotal.WithLabelValues("HS", "success")))
}

func TestInvoke_GeneratesSessionIDWhenAbsent(t *testing.T) {
	var got invokeRequest
	iv := New(Options{
		Credential: StaticCredential("k"),
		Client: doerFunc(func(r *http.Request) (*http.Response, error) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			return jsonResponse(200, `{}`), nil
		}),
	})

	out := iv.Invoke(context.Background(), agent.Descriptor{Name: "A", ID: "a", Target: "http://agent.test/a"}, "text")
	require.True(t, out.Succeeded)
	assert.NotEmpty(t, got.SessionID)
}

func TestInvoke_NonSuccessStatusEmbedsBoundedExcerpt(t *testing.T) {
	long := strings.Repeat("x", 1000)
	iv := New(Options{
		Credential: StaticCredential("k"),
		Client: doerFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusInternalServerError, long), nil
		}),
	})

	out := iv.Invoke(context.Background(), agent.Descriptor{Name: "B", ID: "b", Target: "http://agent.test/b"}, "text")

	require.False(t, out.Succeeded)
	assert.Equal(t, agent.FailureRemote, out.FailureKind)
	assert.Contains(t, out.FailureReason, "HTTP 500")
	assert.Contains(t, out.FailureReason, strings.Repeat("x", DefaultExcerptBytes)+"...")
	assert.NotContains(t, out.FailureReason, strings.Repeat("x", DefaultExcerptBytes+1))
	assert.Nil(t, out.Payload)
	assert.Equal(t, "B", out.WorkerName)
}

func TestInvoke_MissingCredentialMakesNoCall(t *testing.T) {
	t.Setenv(DefaultCredentialEnv, "")
	doer := &countingDoer{next: doerFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{}`), nil
	})}
	iv := New(Options{Client: doer})

	out := iv.Invoke(context.Background(), agent.Descriptor{Name: "A", ID: "a", Target: "http://agent.test/a"}, "text")

	require.False(t, out.Succeeded)
	assert.Equal(t, agent.FailureConfiguration, out.FailureKind)
	assert.Contains(t, out.FailureReason, DefaultCredentialEnv)
	assert.Equal(t, int64(0), doer.calls.Load())
	assert.Equal(t, int64(0), out.ElapsedMillis)
}

func TestInvoke_CredentialReadOnEveryCall(t *testing.T) {
	t.Setenv(DefaultCredentialEnv, "first")
	iv := New(Options{Client: doerFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{}`), nil
	})})
	d := agent.Descriptor{Name: "A", ID: "a", Target: "http://agent.test/a"}

	assert.True(t, iv.Invoke(context.Background(), d, "text").Succeeded)

	t.Setenv(DefaultCredentialEnv, "")
	out := iv.Invoke(context.Background(), d, "text")
	assert.Equal(t, agent.FailureConfiguration, out.FailureKind)
}

func TestInvoke_UnresolvableDescriptor(t *testing.T) {
	doer := &countingDoer{next: doerFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{}`), nil
	})}
	iv := New(Options{Client: doer, Credential: StaticCredential("k")})

	out := iv.Invoke(context.Background(), agent.Descriptor{ID: "ghost"}, "text")

	assert.Equal(t, agent.FailureResolution, out.FailureKind)
	assert.Equal(t, agent.UnknownName, out.WorkerName)
	assert.Equal(t, int64(0), doer.calls.Load())
}

func TestInvoke_TransportError(t *testing.T) {
	iv := New(Options{
		Credential: StaticCredential("k"),
		Client: doerFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
	})

	out := iv.Invoke(context.Background(), agent.Descriptor{Name: "A", ID: "a", Target: "http://agent.test/a"}, "text")

	assert.Equal(t, agent.FailureRemote, out.FailureKind)
	assert.Contains(t, out.FailureReason, "connection refused")
}

func TestInvoke_NonJSONBody(t *testing.T) {
	iv := New(Options{
		Credential: StaticCredential("k"),
		Client: doerFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(200, "<html>maintenance</html>"), nil
		}),
	})

	out := iv.Invoke(context.Background(), agent.Descriptor{Name: "A", ID: "a", Target: "http://agent.test/a"}, "text")

	require.False(t, out.Succeeded)
	assert.Contains(t, out.FailureReason, "non-JSON")
	assert.Contains(t, out.FailureReason, "maintenance")
}

func TestInvoke_ResponseTooLarge(t *testing.T) {
	iv := New(Options{
		Credential:       StaticCredential("k"),
		MaxResponseBytes: 8,
		Client: doerFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"a":"0123456789"}`), nil
		}),
	})

	out := iv.Invoke(context.Background(), agent.Descriptor{Name: "A", ID: "a", Target: "http://agent.test/a"}, "text")

	require.False(t, out.Succeeded)
	assert.Contains(t, out.FailureReason, "exceeds 8 bytes")
}

func TestInvoke_DeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	iv := New(Options{Client: srv.Client(), Credential: StaticCredential("k")})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := iv.Invoke(ctx, agent.Descriptor{Name: "Slow", ID: "slow", Target: srv.URL}, "text")

	require.False(t, out.Succeeded)
	assert.Equal(t, agent.FailureTimeout, out.FailureKind)
	assert.GreaterOrEqual(t, out.ElapsedMillis, int64(40))
}

func TestInvoke_BreakerOpensAfterThreshold(t *testing.T) {
	doer := &countingDoer{next: doerFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{"error":"down"}`), nil
	})}
	iv := New(Options{
		Client:     doer,
		Credential: StaticCredential("k"),
		Breakers:   NewBreakerSet(2, time.Hour),
	})
	d := agent.Descriptor{Name: "A", ID: "a", Target: "http://agent.test/a"}

	assert.Equal(t, agent.FailureRemote, iv.Invoke(context.Background(), d, "t").FailureKind)
	assert.Equal(t, agent.FailureRemote, iv.Invoke(context.Background(), d, "t").FailureKind)

	out := iv.Invoke(context.Background(), d, "t")
	assert.Equal(t, agent.FailureUnavailable, out.FailureKind)
	assert.Equal(t, int64(2), doer.calls.Load())
}

func TestInvoke_ClientErrorsDoNotTripBreaker(t *testing.T) {
	iv := New(Options{
		Credential: StaticCredential("k"),
		Breakers:   NewBreakerSet(1, time.Hour),
		Client: doerFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusUnauthorized, `{"error":"bad key"}`), nil
		}),
	})
	d := agent.Descriptor{Name: "A", ID: "a", Target: "http://agent.test/a"}

	for i := 0; i < 3; i++ {
		out := iv.Invoke(context.Background(), d, "t")
		assert.Contains(t, out.FailureReason, "HTTP 401")
	}
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "<empty body>", Excerpt(nil, 10))
	assert.Equal(t, "abc", Excerpt([]byte("abc"), 10))
	assert.Equal(t, "ab...", Excerpt([]byte("abc"), 2))
	// a split multi-byte rune is dropped rather than emitted as garbage
	assert.Equal(t, "...", Excerpt([]byte("é"), 1))
}
