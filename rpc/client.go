package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guseggert/mailview/process"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const defaultShutdownTimeout = 1 * time.Second

// Client calls methods on the backend process. It is safe for concurrent use,
// but calls are carried out one at a time.
type Client struct {
	log     *zap.SugaredLogger
	cfg     Config
	starter process.Starter

	shutdownTimeout time.Duration
	callTimeout     time.Duration
	diagLimit       int

	// sem is the single-flight lock. Waiters are served in FIFO order.
	sem *semaphore.Weighted

	// handleMut guards swapping h, so that Close can find the handle while a call holds sem.
	handleMut sync.Mutex
	h         *handle

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewClient constructs a client. The backend is not started until the first call.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		log:             zap.NewNop().Sugar(),
		cfg:             cfg,
		shutdownTimeout: defaultShutdownTimeout,
		diagLimit:       defaultDiagnosticsLimit,
		sem:             semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(c)
	}
	if c.starter == nil {
		c.starter = &process.Local{Log: c.log.Named("process")}
	}
	return c
}

// Call invokes method with params and decodes the result into result, which may be nil.
//
// Errors match ErrStartup, ErrTransport, ErrBackendTerminated, ErrProtocol, ErrCallAborted
// or ErrClosed with errors.Is, or are a *RemoteError.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	rawParams, err := encodeParams(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}

	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting to call %s: %w", ErrCallAborted, method, err)
	}
	defer c.sem.Release(1)
	if c.closed.Load() {
		return ErrClosed
	}

	h, err := c.ensureRunning(ctx)
	if err != nil {
		return err
	}

	res, err := c.roundTrip(ctx, h, method, rawParams)
	if err != nil {
		var remoteErr *RemoteError
		if c.closed.Load() && !errors.As(err, &remoteErr) {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return err
	}

	if result != nil && !isNull(res) {
		if err := json.Unmarshal(res, result); err != nil {
			return fmt.Errorf("%w: decoding %s result: %w", ErrProtocol, method, err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, h *handle, method string, params json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCallAborted, method, err)
	}

	id, err := h.send(method, params)
	if err != nil {
		return nil, err
	}

	// The stream can't be resynchronized after giving up on a reply, so a caller
	// that stops waiting takes the backend down with it.
	stop := context.AfterFunc(ctx, h.abort)
	res, err := h.await(method, id)
	aborted := !stop()
	if err != nil && aborted {
		return nil, fmt.Errorf("%w: %s: %w", ErrCallAborted, method, context.Cause(ctx))
	}
	return res, err
}

// ensureRunning returns a usable handle, replacing the current one if its backend has gone away.
// Must be called with sem held.
func (c *Client) ensureRunning(ctx context.Context) (*handle, error) {
	c.handleMut.Lock()
	h := c.h
	c.handleMut.Unlock()

	if h != nil && h.usable() {
		return h, nil
	}
	if h != nil {
		h.log.Debug("backend is gone, restarting")
		if err := h.shutdown(false, 0); err != nil {
			h.log.Debugf("error disposing backend: %s", err)
		}
		c.handleMut.Lock()
		c.h = nil
		c.handleMut.Unlock()
	}

	newH, err := c.start(ctx)
	if err != nil {
		return nil, err
	}

	c.handleMut.Lock()
	defer c.handleMut.Unlock()
	if c.closed.Load() {
		if err := newH.shutdown(false, 0); err != nil {
			newH.log.Debugf("error disposing backend: %s", err)
		}
		return nil, ErrClosed
	}
	c.h = newH
	return newH, nil
}

func (c *Client) start(ctx context.Context) (*handle, error) {
	req := process.StartRequest{
		Command: c.cfg.Executable,
		Args:    c.cfg.Args,
		WD:      c.cfg.WorkingDir,
	}
	if c.cfg.ModuleRootEnv != "" && c.cfg.WorkingDir != "" {
		req.Env = []string{c.cfg.ModuleRootEnv + "=" + c.cfg.WorkingDir}
	}

	c.log.Debugw("starting backend", "Command", req.Command, "Args", req.Args, "WD", req.WD)
	p, err := c.starter.Start(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	return newHandle(c.log, p, c.diagLimit), nil
}

// Diagnostics returns what the current backend has written to stderr since it started.
func (c *Client) Diagnostics() string {
	c.handleMut.Lock()
	defer c.handleMut.Unlock()
	if c.h == nil {
		return ""
	}
	return c.h.diag.String()
}

// Close shuts the backend down and releases it. Calls made after Close fail with ErrClosed.
// A call still in flight when the shutdown timeout runs out is cut off.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
		defer cancel()
		locked := c.sem.Acquire(ctx, 1) == nil
		if locked {
			defer c.sem.Release(1)
		}

		c.handleMut.Lock()
		h := c.h
		c.h = nil
		c.handleMut.Unlock()
		if h == nil {
			return
		}
		// only notify when no call owns the stream
		c.closeErr = h.shutdown(locked, c.shutdownTimeout)
	})
	return c.closeErr
}
