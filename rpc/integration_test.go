//go:build unix

package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// backendModeEnv makes the test binary act as a backend instead of running tests.
const backendModeEnv = "MAILVIEW_TEST_BACKEND"

func TestMain(m *testing.M) {
	if os.Getenv(backendModeEnv) != "" {
		os.Exit(runTestBackend())
	}
	os.Exit(m.Run())
}

func runTestBackend() int {
	fmt.Fprintln(os.Stderr, "test backend ready")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			fmt.Fprintf(os.Stderr, "bad request: %s\n", err)
			continue
		}
		reply := func(result any) {
			b, _ := json.Marshal(result)
			fmt.Fprintf(os.Stdout, `{"jsonrpc":"2.0","id":%d,"result":%s}`+"\n", req.ID, b)
		}
		switch req.Method {
		case "shutdown":
			return 0
		case "ping":
			reply("pong")
		case "echo":
			reply(req.Params)
		case "env":
			reply(os.Getenv("MAILVIEW_TEST_ROOT"))
		case "cwd":
			wd, _ := os.Getwd()
			reply(wd)
		case "crash":
			fmt.Fprintln(os.Stderr, "Traceback (most recent call last):")
			fmt.Fprintln(os.Stderr, "RuntimeError: boom")
			return 1
		case "sleep":
			time.Sleep(time.Minute)
		default:
			fmt.Fprintf(os.Stdout, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32603,"message":"Unknown method: %s"}}`+"\n", req.ID, req.Method)
		}
	}
	return 0
}

func newProcessClient(t *testing.T, opts ...Option) (*Client, string) {
	t.Setenv(backendModeEnv, "1")
	dir := t.TempDir()
	exe, err := os.Executable()
	require.NoError(t, err)

	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	c := NewClient(Config{
		Executable:    exe,
		WorkingDir:    dir,
		ModuleRootEnv: "MAILVIEW_TEST_ROOT",
	}, opts...)
	t.Cleanup(func() { c.Close() })
	return c, dir
}

func TestProcessBackend(t *testing.T) {
	c, dir := newProcessClient(t)
	ctx := context.Background()

	var pong string
	require.NoError(t, c.Call(ctx, "ping", nil, &pong))
	assert.Equal(t, "pong", pong)

	var echoed map[string]string
	require.NoError(t, c.Call(ctx, "echo", map[string]string{"path": "x.pst"}, &echoed))
	assert.Equal(t, map[string]string{"path": "x.pst"}, echoed)

	var root string
	require.NoError(t, c.Call(ctx, "env", nil, &root))
	assert.Equal(t, dir, root)

	var wd string
	require.NoError(t, c.Call(ctx, "cwd", nil, &wd))
	expWD, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	actualWD, err := filepath.EvalSymlinks(wd)
	require.NoError(t, err)
	assert.Equal(t, expWD, actualWD)

	err = c.Call(ctx, "nope", nil, nil)
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "Unknown method: nope", remoteErr.Error())

	assert.Eventually(t, func() bool { return c.Diagnostics() == "test backend ready" }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
}

func TestProcessBackendCrash(t *testing.T) {
	c, _ := newProcessClient(t)
	ctx := context.Background()

	err := c.Call(ctx, "crash", nil, nil)
	require.ErrorIs(t, err, ErrBackendTerminated)
	assert.Contains(t, err.Error(), "RuntimeError: boom")

	// the next call gets a fresh backend
	var pong string
	require.NoError(t, c.Call(ctx, "ping", nil, &pong))
	assert.Equal(t, "pong", pong)
}

func TestProcessBackendCallTimeout(t *testing.T) {
	c, _ := newProcessClient(t, WithCallTimeout(200*time.Millisecond))
	ctx := context.Background()

	start := time.Now()
	err := c.Call(ctx, "sleep", nil, nil)
	require.ErrorIs(t, err, ErrCallAborted)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	var pong string
	require.NoError(t, c.Call(ctx, "ping", nil, &pong))
	assert.Equal(t, "pong", pong)
}

func TestProcessBackendStartupFailure(t *testing.T) {
	c := NewClient(Config{Executable: filepath.Join(t.TempDir(), "missing")})
	err := c.Call(context.Background(), "ping", nil, nil)
	require.ErrorIs(t, err, ErrStartup)
	require.NoError(t, c.Close())
}
