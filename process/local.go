package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Local starts processes on this host.
type Local struct {
	Log *zap.SugaredLogger
}

func (l *Local) logger() *zap.SugaredLogger {
	if l.Log == nil {
		return zap.NewNop().Sugar()
	}
	return l.Log
}

func (l *Local) Start(ctx context.Context, req StartRequest) (Process, error) {
	if req.Command == "" {
		return nil, errors.New("request contained no command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.WD
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	cmd.SysProcAttr = sysProcAttr()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW)
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW, stdoutR, stdoutW)
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	start := time.Now()
	err = cmd.Start()
	// the child has its own copies of these now
	closeFiles(stdinR, stdoutW, stderrW)
	if err != nil {
		closeFiles(stdinW, stdoutR, stderrR)
		return nil, fmt.Errorf("starting %q: %w", req.Command, err)
	}

	p := &localProc{
		log:    l.logger().With("pid", cmd.Process.Pid),
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
	}
	p.log.Debugw("process started", "Command", req.Command, "Args", req.Args, "WD", req.WD)
	go p.wait(start)
	return p, nil
}

type localProc struct {
	log *zap.SugaredLogger
	cmd *exec.Cmd

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	done   chan struct{}
	result Result
	err    error
}

func (p *localProc) Stdin() io.WriteCloser { return p.stdin }
func (p *localProc) Stdout() io.ReadCloser { return p.stdout }
func (p *localProc) Stderr() io.ReadCloser { return p.stderr }
func (p *localProc) Done() <-chan struct{} { return p.done }
func (p *localProc) PID() int              { return p.cmd.Process.Pid }

func (p *localProc) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		res := p.result
		return &res, p.err
	}
}

// Kill kills the process. Killing a process that already exited is not an error.
func (p *localProc) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *localProc) wait(start time.Time) {
	err := p.cmd.Wait()
	p.result.TimeMS = time.Since(start).Milliseconds()
	p.result.ExitCode = p.cmd.ProcessState.ExitCode()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			p.log.Debugf("unexpected wait error: %s", err)
			p.err = err
		}
	}
	p.log.Debugw("process exited", "ExitCode", p.result.ExitCode, "TimeMS", p.result.TimeMS)
	close(p.done)
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}
