package rpc

import (
	"time"

	"github.com/guseggert/mailview/process"
	"go.uber.org/zap"
)

// Config describes how to launch the backend. It is read once by NewClient.
type Config struct {
	Executable string
	Args       []string
	WorkingDir string
	// ModuleRootEnv names an environment variable set to WorkingDir in the backend's
	// environment, so the backend can find its own code. Empty means none is set.
	ModuleRootEnv string
}

type Option func(c *Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = l.Named("rpc_client").Sugar()
	}
}

// WithStarter replaces the starter used to launch the backend.
func WithStarter(s process.Starter) Option {
	return func(c *Client) {
		c.starter = s
	}
}

// WithShutdownTimeout sets how long Close waits for the backend to exit on its own.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.shutdownTimeout = d
	}
}

// WithCallTimeout bounds every call. A call that runs out of time kills the backend,
// which is restarted on the next call. Zero means calls wait as long as their context allows.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithDiagnosticsLimit caps how many bytes of backend stderr are kept.
func WithDiagnosticsLimit(n int) Option {
	return func(c *Client) {
		c.diagLimit = n
	}
}
