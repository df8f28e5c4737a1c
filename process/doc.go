/*
Package process starts and tracks the local backend process that the rpc package talks to.

A Process exposes the three standard streams of the child as plain pipe endpoints: a write-only
request stream (the child's stdin), a read-only response stream (stdout) and a read-only diagnostic
stream (stderr). The streams are never inherited from the parent's console.

The pipes are created with os.Pipe and handed to the child directly, so exiting the child does not
close the parent's read ends. Anything the child wrote before it exited can still be read, and a
read returns io.EOF only once the child's write end is gone.

Done returns a channel that is closed as soon as the child has been reaped, which gives callers a
cheap non-blocking liveness check.
*/
package process
