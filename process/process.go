package process

import (
	"context"
	"io"
)

// StartRequest describes the backend process to start.
type StartRequest struct {
	Command string
	Args    []string
	// Env is appended to the parent's environment.
	Env []string
	WD  string
}

// Result is the outcome of a process that has exited.
type Result struct {
	ExitCode int
	TimeMS   int64
}

// Process is a running child process with its standard streams attached.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser

	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Wait blocks until the process exits or ctx is done.
	Wait(ctx context.Context) (*Result, error)
	Kill() error
	PID() int
}

// Starter creates processes.
type Starter interface {
	Start(ctx context.Context, req StartRequest) (Process, error)
}

// StarterFunc adapts a function to the Starter interface.
type StarterFunc func(ctx context.Context, req StartRequest) (Process, error)

func (f StarterFunc) Start(ctx context.Context, req StartRequest) (Process, error) {
	return f(ctx, req)
}

// Exited reports whether p has exited, without blocking.
func Exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
