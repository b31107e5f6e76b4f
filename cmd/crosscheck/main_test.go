package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/agent"
	"github.com/crosscheckai/crosscheck/pkg/config"
	"github.com/crosscheckai/crosscheck/pkg/fanout"
	"github.com/crosscheckai/crosscheck/pkg/invoker"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// execute runs the root command and returns what it printed to stdout
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crosscheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

type fakeAgents struct {
	*httptest.Server
	inputs atomic.Value
}

func newFakeAgents(t *testing.T) *fakeAgents {
	t.Helper()
	f := &fakeAgents{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InputText string `json:"inputText"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.inputs.Store(body.InputText)
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"risk_level":"HIGH","message":"origin mismatch"}`)
	}))
	t.Cleanup(f.Close)
	return f
}

func agentSettings(t *testing.T, baseURL string) string {
	return writeSettings(t, fmt.Sprintf(`
log:
  level: error
invoker:
  api_key: test-key
  base_url: %q
agents:
  - name: A
    id: a
  - name: B
    id: b
`, baseURL))
}

func TestRunSubsetFromArgument(t *testing.T) {
	srv := newFakeAgents(t)
	path := agentSettings(t, srv.URL)

	out, err := execute(t, "", "--config", path, "run", "--agents", "b,a", "--shipment", "SHP-9", "bill of lading")
	require.NoError(t, err)

	var res runResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.NotEmpty(t, res.BatchID)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "b", res.Outcomes[0].WorkerID)
	assert.Equal(t, "a", res.Outcomes[1].WorkerID)
	for _, o := range res.Outcomes {
		assert.True(t, o.Succeeded, o.FailureReason)
	}
	assert.Equal(t, "SHP-9", res.Verdict.ShipmentID)
	assert.True(t, res.Verdict.Complete)
	assert.Equal(t, "bill of lading", srv.inputs.Load())
}

func TestRunReadsFileAndStdin(t *testing.T) {
	srv := newFakeAgents(t)
	path := agentSettings(t, srv.URL)

	doc := filepath.Join(t.TempDir(), "invoice.txt")
	require.NoError(t, os.WriteFile(doc, []byte("invoice from file"), 0o600))

	out, err := execute(t, "", "--config", path, "run", "--file", doc)
	require.NoError(t, err)
	var res runResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Outcomes, 2)
	assert.Equal(t, "invoice from file", srv.inputs.Load())

	_, err = execute(t, "packing list\n", "--config", path, "run")
	require.NoError(t, err)
	assert.Equal(t, "packing list", srv.inputs.Load())

	_, err = execute(t, "", "--config", path, "run", "--file", doc, "also an argument")
	assert.Error(t, err)
}

func TestRunBlankDocument(t *testing.T) {
	srv := newFakeAgents(t)
	path := agentSettings(t, srv.URL)

	_, err := execute(t, "   \n", "--config", path, "run")
	assert.ErrorIs(t, err, fanout.ErrEmptyPayload)
	assert.Nil(t, srv.inputs.Load(), "nothing was sent")
}

func TestRunWithoutCredential(t *testing.T) {
	srv := newFakeAgents(t)
	t.Setenv(invoker.DefaultCredentialEnv, "")
	path := writeSettings(t, fmt.Sprintf("invoker:\n  base_url: %q\nagents:\n  - {name: A, id: a}\n", srv.URL))

	out, err := execute(t, "", "--config", path, "run", "doc")
	require.NoError(t, err)
	var res runResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, agent.FailureConfiguration, res.Outcomes[0].FailureKind)
	assert.Nil(t, srv.inputs.Load())
}

func TestAgentsCommand(t *testing.T) {
	out, err := execute(t, "", "agents")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Route_Validator")
	assert.Equal(t, 9, strings.Count(out, "\n"))

	out, err = execute(t, "", "agents", "--json")
	require.NoError(t, err)
	var list []agent.Descriptor
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 8)
	assert.True(t, strings.HasPrefix(list[0].Target, agent.DefaultBaseURL))
}

func TestTokenCommand(t *testing.T) {
	path := writeSettings(t, fmt.Sprintf("auth:\n  jwt_secret: %q\n  issuer: crosscheck\n", testSecret))

	out, err := execute(t, "", "--config", path, "token", "--subject", "analyst", "--ttl", "5m")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	}, jwt.WithIssuer("crosscheck"), jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.Equal(t, "analyst", claims["sub"])

	_, err = execute(t, "", "token")
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestTokenHashKey(t *testing.T) {
	out, err := execute(t, "svc-key\n", "token", "hash-key")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("svc-key")))

	path := writeSettings(t, fmt.Sprintf("auth:\n  api_key_hashes:\n    nightly: %q\n", hash))
	out, err = execute(t, "", "--config", path, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "auth true")

	bad := writeSettings(t, "auth:\n  api_key_hashes:\n    nightly: not-a-hash\n")
	_, err = execute(t, "", "--config", bad, "config", "check")
	assert.ErrorContains(t, err, "api_key_hashes[nightly]")

	_, err = execute(t, "", "token", "hash-key", "")
	assert.Error(t, err)
}

func TestConfigInitThenCheck(t *testing.T) {
	t.Setenv(invoker.DefaultCredentialEnv, "")
	dir := t.TempDir()

	for _, name := range []string{"crosscheck.yaml", "crosscheck.json"} {
		path := filepath.Join(dir, name)
		out, err := execute(t, "", "config", "init", path)
		require.NoError(t, err)
		assert.Contains(t, out, path)

		loaded, err := config.LoadSettings(path)
		require.NoError(t, err, name)
		assert.Equal(t, config.Defaults().Server, loaded.Server, name)

		out, err = execute(t, "", "--config", path, "config", "check")
		require.NoError(t, err)
		assert.Equal(t, "settings ok: 8 agents, credential missing, auth false\n", out)

		_, err = execute(t, "", "config", "init", path)
		assert.ErrorContains(t, err, "already exists")
	}
}

func TestInvalidSettingsFailBeforeRunning(t *testing.T) {
	path := writeSettings(t, "log:\n  level: loud\n")

	_, err := execute(t, "", "--config", path, "agents")
	assert.ErrorContains(t, err, "Log.Level")
}

func TestServeStopsOnCancel(t *testing.T) {
	c := &cli{}
	t.Setenv("CROSSCHECK_SERVER_ADDR", "127.0.0.1:0")
	t.Setenv("CROSSCHECK_LOG_LEVEL", "error")
	require.NoError(t, c.load(false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
