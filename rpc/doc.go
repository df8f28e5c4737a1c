/*
Package rpc provides a client for the mailcore backend, a long-lived local process that speaks line-delimited JSON-RPC 2.0 over its stdin and stdout.

The backend is started lazily on the first call, and again on the first call after it has exited or its streams have failed. There is no automatic retry: a failed call is reported to the caller, and only the next call restarts the backend.

The protocol proceeds as follows:

1. The client writes one request per line: {"jsonrpc":"2.0","id":N,"method":"...","params":{...}}
2. The backend writes one response per line, carrying either "result" or "error" ({"message":"...", ...}).
3. The client reads lines until it finds the reply for N. A reply without an id (or with a null id) answers whatever call is being awaited. A result for a later id is cached until that call claims it. Anything else is dropped.
4. On Close the client writes {"jsonrpc":"2.0","id":0,"method":"shutdown"}, gives the backend a moment to exit, and kills it if it does not.

Only one call is on the wire at a time. Callers queue for the connection in FIFO order.

Whatever the backend writes to stderr is collected into a bounded buffer, which is attached to the error when the backend dies mid-call.
*/
package rpc
