package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/mailview/mailcore"
	"github.com/guseggert/mailview/rpc"
	"github.com/guseggert/mailview/rpc/rpctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	Method string
	Params json.RawMessage
}

// fakeCaller answers methods with canned results or errors.
type fakeCaller struct {
	mut     sync.Mutex
	results map[string]any
	errs    map[string]error
	calls   []call
}

func (f *fakeCaller) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	f.mut.Lock()
	f.calls = append(f.calls, call{Method: method, Params: raw})
	f.mut.Unlock()
	if err := f.errs[method]; err != nil {
		return err
	}
	b, err := json.Marshal(f.results[method])
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

func (f *fakeCaller) Calls() []call {
	f.mut.Lock()
	defer f.mut.Unlock()
	return append([]call(nil), f.calls...)
}

func newTestServer(t *testing.T, caller *fakeCaller, opts ...Option) *httptest.Server {
	s := NewServer(mailcore.New(caller), append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC) }
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, http.Header, string) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header, string(b)
}

func TestPing(t *testing.T) {
	ts := newTestServer(t, &fakeCaller{results: map[string]any{"ping": "pong"}})
	status, _, body := get(t, ts.URL+"/ping")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, body)
}

func TestMailbox(t *testing.T) {
	caller := &fakeCaller{results: map[string]any{"load_mailbox": map[string]any{
		"source_path":  "/data/x.pst",
		"display_name": "x",
		"folders": []any{map[string]any{
			"id": "f1", "name": "Inbox", "path": "/Inbox",
			"messages": []any{map[string]any{"id": "m1", "source": "x.pst", "subject": "hi", "sender": "a@example.com"}},
		}},
	}}}
	ts := newTestServer(t, caller)

	status, header, body := get(t, ts.URL+"/mailbox/data/x.pst")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "application/json", header.Get("Content-Type"))

	var mb mailcore.Mailbox
	require.NoError(t, json.Unmarshal([]byte(body), &mb))
	require.Len(t, mb.AllMessages(), 1)
	assert.Equal(t, "hi", mb.AllMessages()[0].Subject)

	calls := caller.Calls()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"path":"/data/x.pst"}`, string(calls[0].Params))
}

func TestWindowsPathParam(t *testing.T) {
	caller := &fakeCaller{results: map[string]any{"load_mailbox": map[string]any{}}}
	ts := newTestServer(t, caller)

	status, _, _ := get(t, ts.URL+"/mailbox/C:/mail/x.pst")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"path":"C:/mail/x.pst"}`, string(caller.Calls()[0].Params))
}

func TestMessagePreview(t *testing.T) {
	msg := map[string]any{
		"id":        "m1",
		"source":    "a.eml",
		"subject":   "<b>quarterly</b>",
		"sender":    "a@example.com",
		"to":        []string{"b@example.com", "c@example.com"},
		"sent_at":   "2024-01-02T03:04:05+00:00",
		"body_text": "see attached",
		"attachments": []any{
			map[string]any{"id": "a1", "filename": "report.pdf", "size": 5, "content_type": "application/pdf"},
			map[string]any{"id": "a2", "filename": "unknown.bin", "size": nil},
		},
	}
	ts := newTestServer(t, &fakeCaller{results: map[string]any{"load_message": msg}})

	status, header, body := get(t, ts.URL+"/message/mail/a.eml")
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "&lt;b&gt;quarterly&lt;/b&gt;")
	assert.NotContains(t, body, "<b>quarterly</b>")
	assert.Contains(t, body, "b@example.com, c@example.com")
	// html/template escapes the plus of the offset
	assert.Contains(t, body, "Tue, 02 Jan 2024 03:04:05 &#43;0000")
	assert.Contains(t, body, "<li>report.pdf (5 bytes)</li>")
	assert.Contains(t, body, "<li>unknown.bin</li>")
	assert.Contains(t, body, "<pre>see attached</pre>")

	status, _, body = get(t, ts.URL+"/message/mail/a.eml?format=json")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"subject":"\u003cb\u003equarterly\u003c/b\u003e"`)
}

func TestHTMLBodyIsSandboxed(t *testing.T) {
	msg := map[string]any{"id": "m1", "source": "a.eml", "body_html": `<p onclick="x()">hi</p>`}
	ts := newTestServer(t, &fakeCaller{results: map[string]any{"load_message": msg}})

	status, _, body := get(t, ts.URL+"/message/a.eml")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `<iframe sandbox srcdoc="&lt;p onclick=&#34;x()&#34;&gt;hi&lt;/p&gt;"`)
}

func TestDisconnectLeavesBackendRunning(t *testing.T) {
	received := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	releaseBackend := func() { releaseOnce.Do(func() { close(release) }) }

	starter := &rpctest.Starter{Handler: func(b *rpctest.Backend, req rpctest.Request) {
		switch req.Method {
		case "load_mailbox":
			close(received)
			<-release
			b.Result(req.IDValue(), map[string]any{"source_path": "x.pst", "display_name": "x", "folders": []any{}})
		case "ping":
			b.Result(req.IDValue(), "pong")
		}
	}}
	rc := rpc.NewClient(rpc.Config{Executable: "python"}, rpc.WithStarter(starter), rpc.WithLogger(zap.NewNop()))
	t.Cleanup(func() { rc.Close() })

	ts := httptest.NewServer(NewServer(mailcore.New(rc)).Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(releaseBackend)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/mailbox/x.pst", nil)
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		errCh <- err
	}()

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("backend never received load_mailbox")
	}
	cancel()
	require.Error(t, <-errCh)
	releaseBackend()

	status, _, body := get(t, ts.URL+"/ping")
	require.Equal(t, http.StatusOK, status, body)
	assert.JSONEq(t, `{"ok":true}`, body)
	assert.Equal(t, 1, starter.Starts())
	assert.False(t, starter.Backend(0).Killed())
}

func TestExport(t *testing.T) {
	caller := &fakeCaller{results: map[string]any{"export_bundle": map[string]any{
		"text": "/out/Archive_20240102_150405.txt",
		"json": "/out/Archive_20240102_150405.json",
	}}}
	dir := filepath.Join("out")
	ts := newTestServer(t, caller, WithExportDir(dir))

	body := `{"paths":["a.eml"],"label":"Archive","include_json":true,"include_attachments":true}`
	resp, err := http.Post(ts.URL+"/export", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res mailcore.BundleResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "/out/Archive_20240102_150405.txt", res.Text)

	calls := caller.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "export_bundle", calls[0].Method)
	textPath := filepath.Join(dir, "Archive_20240102_150405.txt")
	jsonPath := filepath.Join(dir, "Archive_20240102_150405.json")
	assert.JSONEq(t, fmt.Sprintf(`{
		"paths": ["a.eml"],
		"text_path": %q,
		"source": "Archive",
		"show_attachments": true,
		"encoding": "utf-8",
		"write_json": true,
		"json_path": %q,
		"write_hashes": false
	}`, textPath, jsonPath), string(calls[0].Params))
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		expStatus int
	}{
		{name: "remote", err: &rpc.RemoteError{Message: "File not found: x.pst"}, expStatus: http.StatusUnprocessableEntity},
		{name: "terminated", err: fmt.Errorf("%w: Traceback", rpc.ErrBackendTerminated), expStatus: http.StatusBadGateway},
		{name: "startup", err: rpc.ErrStartup, expStatus: http.StatusBadGateway},
		{name: "aborted", err: rpc.ErrCallAborted, expStatus: http.StatusGatewayTimeout},
		{name: "closed", err: rpc.ErrClosed, expStatus: http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeCaller{errs: map[string]error{"load_mailbox": c.err}})
			status, _, body := get(t, ts.URL+"/mailbox/x.pst")
			assert.Equal(t, c.expStatus, status)
			assert.Contains(t, body, c.err.Error())
		})
	}

	ts := newTestServer(t, &fakeCaller{})
	resp, err := http.Post(ts.URL+"/export", "application/json", bytes.NewBufferString(`{"label":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/export", "application/json", bytes.NewBufferString(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunAndStop(t *testing.T) {
	s := NewServer(mailcore.New(&fakeCaller{results: map[string]any{"ping": "pong"}}), WithListenAddr("127.0.0.1:0"))
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run() }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	status, _, body := get(t, "http://"+s.Addr().String()+"/ping")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, body)

	require.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, <-errCh)
}
