package rpc

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultDiagnosticsLimit = 64 << 10

// diagnostics drains the backend's stderr so the backend never stalls on a full pipe,
// and keeps the most recent output for error messages.
// The newest lines are kept once the total exceeds limit bytes.
type diagnostics struct {
	log   *zap.SugaredLogger
	limit int

	mut   sync.Mutex
	lines []string
	size  int

	done chan struct{}
}

func newDiagnostics(log *zap.SugaredLogger, limit int) *diagnostics {
	if limit <= 0 {
		limit = defaultDiagnosticsLimit
	}
	return &diagnostics{
		log:   log,
		limit: limit,
		done:  make(chan struct{}),
	}
}

// collect reads r line by line until it ends or is closed.
func (d *diagnostics) collect(r io.Reader) {
	defer close(d.done)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			d.log.Debug(line)
			d.append(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				d.log.Debugf("stderr reader got error: %s", err)
			}
			return
		}
	}
}

func (d *diagnostics) append(line string) {
	line = truncate(line, d.limit)

	d.mut.Lock()
	defer d.mut.Unlock()
	d.lines = append(d.lines, line)
	d.size += len(line) + 1
	for d.size > d.limit && len(d.lines) > 1 {
		d.size -= len(d.lines[0]) + 1
		d.lines = d.lines[1:]
	}
}

// String returns the collected output, trimmed.
func (d *diagnostics) String() string {
	d.mut.Lock()
	defer d.mut.Unlock()
	return strings.TrimSpace(strings.Join(d.lines, "\n"))
}

// wait waits up to timeout for the collector to reach the end of the stream.
func (d *diagnostics) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-d.done:
		return true
	case <-timer.C:
		return false
	}
}
