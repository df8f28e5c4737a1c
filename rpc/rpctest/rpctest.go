// Package rpctest provides an in-memory stand-in for the backend process, for testing
// code built on the rpc package without launching a real interpreter.
package rpctest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/guseggert/mailview/process"
)

// Request is a request line as received by the backend.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IDValue returns the request id, or -1 if it had none.
func (r Request) IDValue() int64 {
	if r.ID == nil {
		return -1
	}
	return *r.ID
}

// Handler answers one request. Handlers run one at a time, in request order.
type Handler func(b *Backend, req Request)

// Backend implements process.Process over in-memory pipes.
// Shutdown requests never reach the handler. They go to the shutdown handler, if any,
// after which the backend exits.
type Backend struct {
	handler    Handler
	onShutdown Handler

	stdinR  *io.PipeReader
	stdinW  *trackedCloser
	stdoutR *trackedCloser
	stdoutW *io.PipeWriter
	stderrR *trackedCloser
	stderrW *io.PipeWriter

	reqCh chan Request
	done  chan struct{}

	exitOnce sync.Once
	killed   atomic.Bool

	mut            sync.Mutex
	requests       []Request
	received       int
	answered       int
	maxOutstanding int
	badLines       []string
}

var _ process.Process = (*Backend)(nil)

// NewBackend starts a backend that answers requests with h.
// onShutdown may be nil.
func NewBackend(h, onShutdown Handler) *Backend {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	b := &Backend{
		handler:    h,
		onShutdown: onShutdown,
		stdinR:     stdinR,
		stdinW:     &trackedCloser{w: stdinW, c: stdinW},
		stdoutR:    &trackedCloser{r: stdoutR, c: stdoutR},
		stdoutW:    stdoutW,
		stderrR:    &trackedCloser{r: stderrR, c: stderrR},
		stderrW:    stderrW,
		reqCh:      make(chan Request, 64),
		done:       make(chan struct{}),
	}
	go b.readRequests()
	go b.serve()
	return b
}

func (b *Backend) readRequests() {
	defer close(b.reqCh)
	scanner := bufio.NewScanner(b.stdinR)
	scanner.Buffer(make([]byte, 0, 4096), 16<<20)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			b.mut.Lock()
			b.badLines = append(b.badLines, scanner.Text())
			b.mut.Unlock()
			continue
		}
		b.mut.Lock()
		b.requests = append(b.requests, req)
		b.received++
		if out := b.received - b.answered; out > b.maxOutstanding {
			b.maxOutstanding = out
		}
		b.mut.Unlock()
		b.reqCh <- req
	}
}

func (b *Backend) serve() {
	for req := range b.reqCh {
		if req.Method == "shutdown" {
			if b.onShutdown != nil {
				b.onShutdown(b, req)
			}
			b.Exit()
			continue
		}
		if b.handler != nil {
			b.handler(b, req)
		}
	}
}

// Reply writes a raw line to stdout. A newline is appended.
func (b *Backend) Reply(line string) {
	b.mut.Lock()
	b.answered++
	b.mut.Unlock()
	_, _ = io.WriteString(b.stdoutW, line+"\n")
}

// Result replies with a result for id.
func (b *Backend) Result(id int64, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		panic(fmt.Sprintf("marshaling result: %s", err))
	}
	b.Reply(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, raw))
}

// Error replies with an error for id.
func (b *Backend) Error(id int64, code int, message string) {
	msg, _ := json.Marshal(message)
	b.Reply(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":%s}}`, id, code, msg))
}

// WriteStderr writes s to the diagnostic stream.
func (b *Backend) WriteStderr(s string) {
	_, _ = io.WriteString(b.stderrW, s)
}

// Exit simulates the process exiting: its output streams end and its input is closed.
func (b *Backend) Exit() {
	b.exitOnce.Do(func() {
		b.stdoutW.Close()
		b.stderrW.Close()
		b.stdinR.Close()
		close(b.done)
	})
}

// BreakStdin closes the backend's end of stdin without exiting, so writes to it fail.
func (b *Backend) BreakStdin() {
	b.stdinR.Close()
}

// Requests returns the requests received so far.
func (b *Backend) Requests() []Request {
	b.mut.Lock()
	defer b.mut.Unlock()
	return append([]Request(nil), b.requests...)
}

// BadLines returns lines that were not valid JSON.
func (b *Backend) BadLines() []string {
	b.mut.Lock()
	defer b.mut.Unlock()
	return append([]string(nil), b.badLines...)
}

// MaxOutstanding returns the largest number of requests that were received but not yet answered at once.
func (b *Backend) MaxOutstanding() int {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.maxOutstanding
}

func (b *Backend) Killed() bool { return b.killed.Load() }

// StreamsClosed reports whether the client closed all three of its stream ends.
func (b *Backend) StreamsClosed() bool {
	return b.stdinW.closed.Load() && b.stdoutR.closed.Load() && b.stderrR.closed.Load()
}

func (b *Backend) Stdin() io.WriteCloser { return b.stdinW }
func (b *Backend) Stdout() io.ReadCloser { return b.stdoutR }
func (b *Backend) Stderr() io.ReadCloser { return b.stderrR }
func (b *Backend) Done() <-chan struct{} { return b.done }
func (b *Backend) PID() int              { return 4242 }

func (b *Backend) Kill() error {
	b.killed.Store(true)
	b.Exit()
	return nil
}

func (b *Backend) Wait(ctx context.Context) (*process.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		code := 0
		if b.killed.Load() {
			code = -1
		}
		return &process.Result{ExitCode: code}, nil
	}
}

type trackedCloser struct {
	r      io.Reader
	w      io.Writer
	c      io.Closer
	closed atomic.Bool
}

func (t *trackedCloser) Read(p []byte) (int, error)  { return t.r.Read(p) }
func (t *trackedCloser) Write(p []byte) (int, error) { return t.w.Write(p) }
func (t *trackedCloser) Close() error {
	t.closed.Store(true)
	return t.c.Close()
}

// Starter hands out a new Backend for every start.
type Starter struct {
	// Handler is used by every backend started.
	Handler Handler
	// ShutdownHandler runs when a backend receives a shutdown request, before it exits.
	ShutdownHandler Handler
	// Err, if set, is returned instead of starting a backend.
	Err error

	mut      sync.Mutex
	backends []*Backend
	reqs     []process.StartRequest
}

func (s *Starter) Start(ctx context.Context, req process.StartRequest) (process.Process, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.reqs = append(s.reqs, req)
	if s.Err != nil {
		return nil, s.Err
	}
	b := NewBackend(s.Handler, s.ShutdownHandler)
	s.backends = append(s.backends, b)
	return b, nil
}

// Starts returns how many backends have been started.
func (s *Starter) Starts() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return len(s.backends)
}

// Backend returns the i'th backend started.
func (s *Starter) Backend(i int) *Backend {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.backends[i]
}

// Last returns the most recently started backend.
func (s *Starter) Last() *Backend {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.backends[len(s.backends)-1]
}

// StartRequests returns every start request received, including failed ones.
func (s *Starter) StartRequests() []process.StartRequest {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]process.StartRequest(nil), s.reqs...)
}

// Results returns a Handler that answers each method with a fixed result.
// Unknown methods get an error like the real backend's.
func Results(results map[string]any) Handler {
	return func(b *Backend, req Request) {
		if req.ID == nil {
			return
		}
		res, ok := results[req.Method]
		if !ok {
			b.Error(*req.ID, -32603, "Unknown method: "+req.Method)
			return
		}
		b.Result(*req.ID, res)
	}
}

// Echo is a Handler that answers every request with its own params.
func Echo(b *Backend, req Request) {
	if req.ID == nil {
		return
	}
	b.Reply(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, *req.ID, orNull(req.Params)))
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
