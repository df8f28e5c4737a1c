package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/mailview/process"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// diagnosticsGrace bounds how long a failing call waits for stderr to be drained.
	diagnosticsGrace = 500 * time.Millisecond
	reapTimeout      = 5 * time.Second
)

// handle owns one backend process and all protocol state tied to it.
// Everything except broken and the streams is only touched by the call holding the client's lock.
type handle struct {
	id   string
	log  *zap.SugaredLogger
	proc process.Process

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	reader *bufio.Reader
	diag   *diagnostics

	nextID  int64
	pending map[int64]json.RawMessage

	// broken is set once the streams can no longer carry a call.
	broken atomic.Bool
}

func newHandle(log *zap.SugaredLogger, proc process.Process, diagLimit int) *handle {
	id := uuid.NewString()
	log = log.With("instance", id, "pid", proc.PID())
	h := &handle{
		id:      id,
		log:     log,
		proc:    proc,
		stdin:   proc.Stdin(),
		stdout:  proc.Stdout(),
		stderr:  proc.Stderr(),
		reader:  bufio.NewReader(proc.Stdout()),
		diag:    newDiagnostics(log.Named("backend_stderr"), diagLimit),
		pending: map[int64]json.RawMessage{},
	}
	go h.diag.collect(h.stderr)
	return h
}

// usable is the cheap liveness check done before every call.
func (h *handle) usable() bool {
	return !h.broken.Load() && !process.Exited(h.proc)
}

func (h *handle) writeLine(msg requestMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", msg.Method, err)
	}
	b = append(b, '\n')
	if _, err := h.stdin.Write(b); err != nil {
		h.broken.Store(true)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// send writes a request with the next id and returns that id.
func (h *handle) send(method string, params json.RawMessage) (int64, error) {
	h.nextID++
	id := h.nextID
	h.log.Debugw("sending request", "ID", id, "Method", method)
	err := h.writeLine(requestMessage{
		JSONRPC: protocolVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// await reads responses until the one for id shows up.
func (h *handle) await(method string, id int64) (json.RawMessage, error) {
	for {
		if res, ok := h.pending[id]; ok {
			delete(h.pending, id)
			h.log.Debugw("using cached response", "ID", id)
			return res, nil
		}

		line, readErr := h.reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			res, done, err := h.handleLine(method, id, line)
			if done {
				return res, err
			}
		}
		if readErr != nil {
			h.broken.Store(true)
			return nil, h.terminated(readErr)
		}
	}
}

// handleLine applies one response line to the call awaiting id.
// done reports whether the call is finished, either with res or with err.
func (h *handle) handleLine(method string, id int64, line []byte) (res json.RawMessage, done bool, err error) {
	resp, err := decodeResponse(line)
	if err != nil {
		return nil, true, err
	}
	match, respID, err := matchID(resp.ID, id)
	if err != nil {
		return nil, true, err
	}

	if resp.Error != nil {
		if match == idOther {
			h.log.Debugw("discarding error for another call", "ID", respID, "Message", resp.Error.Message)
			return nil, false, nil
		}
		return nil, true, &RemoteError{
			Method:  method,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}
	}

	if match != idOther {
		h.log.Debugw("received response", "ID", id, "Match", match)
		return resp.Result, true, nil
	}

	// results for ids at or below the awaited one belong to calls that were abandoned
	if respID <= id {
		h.log.Debugw("dropping stale response", "ID", respID, "Awaiting", id)
		return nil, false, nil
	}
	if _, ok := h.pending[respID]; ok {
		h.log.Debugw("dropping duplicate response", "ID", respID)
		return nil, false, nil
	}
	h.log.Debugw("caching out-of-order response", "ID", respID, "Awaiting", id)
	h.pending[respID] = resp.Result
	return nil, false, nil
}

func (h *handle) terminated(readErr error) error {
	if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, os.ErrClosed) && !errors.Is(readErr, io.ErrClosedPipe) {
		h.log.Debugf("response reader got error: %s", readErr)
	}
	// stdout and stderr close together; give the collector a chance to catch up
	h.diag.wait(diagnosticsGrace)
	return terminatedError(h.diag.String())
}

// abort kills the backend out from under an in-flight call, which unblocks its read.
func (h *handle) abort() {
	h.broken.Store(true)
	h.log.Debug("aborting in-flight call, killing backend")
	if err := h.proc.Kill(); err != nil {
		h.log.Debugf("error killing backend: %s", err)
	}
	closeStream(h.stdout)
}

// shutdown tears the backend down. If notify is set and the backend looks alive, it is
// asked to exit and given up to grace to do so. Every cleanup step runs regardless of
// earlier failures.
func (h *handle) shutdown(notify bool, grace time.Duration) error {
	if notify && h.usable() {
		err := h.writeLine(requestMessage{JSONRPC: protocolVersion, ID: shutdownID, Method: methodShutdown})
		if err != nil {
			h.log.Debugf("error sending shutdown notification: %s", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), grace)
			_, err := h.proc.Wait(ctx)
			cancel()
			if err != nil {
				h.log.Debugf("backend did not exit after shutdown notification: %s", err)
			}
		}
	}

	var errs error
	if !process.Exited(h.proc) {
		errs = multierr.Append(errs, h.proc.Kill())
	}
	errs = multierr.Append(errs, closeStream(h.stdin))
	errs = multierr.Append(errs, closeStream(h.stdout))
	errs = multierr.Append(errs, closeStream(h.stderr))
	if !h.diag.wait(diagnosticsGrace) {
		h.log.Debug("stderr collector did not stop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()
	if _, err := h.proc.Wait(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("waiting for backend to exit: %w", err))
	}
	h.broken.Store(true)
	h.log.Debug("backend released")
	return errs
}

func closeStream(c io.Closer) error {
	err := c.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
