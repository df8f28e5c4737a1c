// Package mailcore is the typed face of the mail backend. Every operation is a single
// call through a Caller; parsing and export generation happen in the backend.
package mailcore

import (
	"context"
	"errors"
	"fmt"
)

const (
	methodPing         = "ping"
	methodLoadMailbox  = "load_mailbox"
	methodLoadMessage  = "load_message"
	methodExportText   = "export_text"
	methodExportJSON   = "export_json"
	methodExportHashes = "export_hashes"
	methodExportBundle = "export_bundle"
)

// Caller makes one call to the backend. *rpc.Client implements it.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
}

type Client struct {
	caller Caller
}

func New(caller Caller) *Client {
	return &Client{caller: caller}
}

type pathParams struct {
	Path string `json:"path"`
}

// Ping reports whether the backend answered with "pong".
func (c *Client) Ping(ctx context.Context) (bool, error) {
	var res any
	if err := c.caller.Call(ctx, methodPing, nil, &res); err != nil {
		return false, fmt.Errorf("pinging backend: %w", err)
	}
	pong, _ := res.(string)
	return pong == "pong", nil
}

// LoadMailbox loads a mailbox file (.pst, .ost) or a directory of message files.
func (c *Client) LoadMailbox(ctx context.Context, path string) (*Mailbox, error) {
	var mb Mailbox
	if err := c.caller.Call(ctx, methodLoadMailbox, pathParams{Path: path}, &mb); err != nil {
		return nil, fmt.Errorf("loading mailbox %q: %w", path, err)
	}
	return &mb, nil
}

// LoadMessage loads a single .msg or .eml file.
func (c *Client) LoadMessage(ctx context.Context, path string) (*Message, error) {
	var msg Message
	if err := c.caller.Call(ctx, methodLoadMessage, pathParams{Path: path}, &msg); err != nil {
		return nil, fmt.Errorf("loading message %q: %w", path, err)
	}
	return &msg, nil
}

// Selection is the set of messages an export covers: either messages already loaded,
// or paths of message files for the backend to load.
type Selection struct {
	Messages []*Message `json:"messages,omitempty"`
	Paths    []string   `json:"paths,omitempty"`
}

func (s Selection) empty() bool { return len(s.Messages) == 0 && len(s.Paths) == 0 }

var ErrNothingToExport = errors.New("no messages to export")

type TextExport struct {
	Selection
	Dest            string `json:"dest"`
	Source          string `json:"source,omitempty"`
	ShowAttachments bool   `json:"show_attachments"`
	// Encoding is the text file's character encoding. The backend defaults to utf-8.
	Encoding string `json:"encoding,omitempty"`
}

type JSONExport struct {
	Selection
	Dest   string `json:"dest"`
	Source string `json:"source,omitempty"`
	// OutputText is the path of the text export the sidecar describes, if any.
	OutputText string `json:"output_text,omitempty"`
}

type HashExport struct {
	Selection
	Dest string `json:"dest"`
}

// ExportResult is what a single export wrote.
type ExportResult struct {
	Written string `json:"written"`
}

func (c *Client) ExportText(ctx context.Context, req TextExport) (*ExportResult, error) {
	return c.export(ctx, methodExportText, req.Selection, req.Dest, req)
}

func (c *Client) ExportJSON(ctx context.Context, req JSONExport) (*ExportResult, error) {
	return c.export(ctx, methodExportJSON, req.Selection, req.Dest, req)
}

func (c *Client) ExportHashes(ctx context.Context, req HashExport) (*ExportResult, error) {
	return c.export(ctx, methodExportHashes, req.Selection, req.Dest, req)
}

func (c *Client) export(ctx context.Context, method string, sel Selection, dest string, params any) (*ExportResult, error) {
	if sel.empty() {
		return nil, ErrNothingToExport
	}
	if dest == "" {
		return nil, fmt.Errorf("%s: destination is required", method)
	}
	var res ExportResult
	if err := c.caller.Call(ctx, method, params, &res); err != nil {
		return nil, fmt.Errorf("exporting to %q: %w", dest, err)
	}
	return &res, nil
}

type bundleParams struct {
	Selection
	TextPath        string `json:"text_path"`
	Source          string `json:"source"`
	ShowAttachments bool   `json:"show_attachments"`
	Encoding        string `json:"encoding"`
	WriteJSON       bool   `json:"write_json"`
	JSONPath        string `json:"json_path,omitempty"`
	WriteHashes     bool   `json:"write_hashes"`
	HashesPath      string `json:"hashes_path,omitempty"`
}

// BundleResult holds the paths written by a bundle export. JSON and Hashes are empty
// when that output was not requested.
type BundleResult struct {
	Text   string `json:"text"`
	JSON   string `json:"json,omitempty"`
	Hashes string `json:"hashes,omitempty"`
}

// ExportBundle writes the text export plus whichever sidecars opts enables.
func (c *Client) ExportBundle(ctx context.Context, sel Selection, opts ExportOptions) (*BundleResult, error) {
	if sel.empty() {
		return nil, ErrNothingToExport
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.normalized()
	params := bundleParams{
		Selection:       sel,
		TextPath:        opts.TextPath,
		Source:          opts.SourceLabel,
		ShowAttachments: opts.IncludeAttachments,
		Encoding:        opts.Encoding,
		WriteJSON:       opts.IncludeJSON,
		JSONPath:        opts.JSONPath,
		WriteHashes:     opts.IncludeHashes,
		HashesPath:      opts.HashesPath,
	}
	var res BundleResult
	if err := c.caller.Call(ctx, methodExportBundle, params, &res); err != nil {
		return nil, fmt.Errorf("exporting bundle to %q: %w", opts.TextPath, err)
	}
	return &res, nil
}
