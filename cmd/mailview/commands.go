package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/guseggert/mailview/internal/net"
	"github.com/guseggert/mailview/mailcore"
	"github.com/guseggert/mailview/preview"
	"github.com/urfave/cli/v2"
)

var jsonFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Print the backend's result as JSON.",
}

var pingCommand = &cli.Command{
	Name:  "ping",
	Usage: "check that the backend starts and answers",
	Action: withSession(func(cctx *cli.Context, s *session) error {
		ok, err := s.client.Ping(cctx.Context)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("backend answered, but not with pong")
		}
		fmt.Fprintln(cctx.App.Writer, "pong")
		return nil
	}),
}

var mailboxCommand = &cli.Command{
	Name:      "mailbox",
	Usage:     "list the folders and messages of a mailbox",
	ArgsUsage: "PATH",
	Flags:     []cli.Flag{jsonFlag},
	Action: withSession(func(cctx *cli.Context, s *session) error {
		path := cctx.Args().First()
		if path == "" {
			return errors.New("a mailbox path is required")
		}
		mb, err := s.client.LoadMailbox(cctx.Context, path)
		if err != nil {
			return err
		}
		if cctx.Bool("json") {
			return printJSON(cctx.App.Writer, mb)
		}
		fmt.Fprintf(cctx.App.Writer, "%s (%d messages)\n", mb.Label(), len(mb.AllMessages()))
		for _, f := range mb.Folders {
			printFolder(cctx.App.Writer, f, 1)
		}
		return nil
	}),
}

func printFolder(w io.Writer, f *mailcore.Folder, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s/ (%d)\n", indent, f.Name, len(f.Messages))
	for _, m := range f.Messages {
		fmt.Fprintf(w, "%s  %s  %-30.30s  %s\n", indent, sentDate(m), m.Sender, m.Subject)
	}
	for _, sub := range f.Subfolders {
		printFolder(w, sub, depth+1)
	}
}

func sentDate(m *mailcore.Message) string {
	if t, ok := m.SentTime(); ok {
		return t.Format("2006-01-02 15:04")
	}
	return strings.Repeat(" ", 16)
}

var messageCommand = &cli.Command{
	Name:      "message",
	Usage:     "show a single .msg or .eml file",
	ArgsUsage: "PATH",
	Flags:     []cli.Flag{jsonFlag},
	Action: withSession(func(cctx *cli.Context, s *session) error {
		path := cctx.Args().First()
		if path == "" {
			return errors.New("a message path is required")
		}
		msg, err := s.client.LoadMessage(cctx.Context, path)
		if err != nil {
			return err
		}
		if cctx.Bool("json") {
			return printJSON(cctx.App.Writer, msg)
		}
		w := cctx.App.Writer
		fmt.Fprintf(w, "From:    %s\n", msg.Sender)
		fmt.Fprintf(w, "To:      %s\n", strings.Join(msg.To, ", "))
		if len(msg.CC) > 0 {
			fmt.Fprintf(w, "Cc:      %s\n", strings.Join(msg.CC, ", "))
		}
		fmt.Fprintf(w, "Sent:    %s\n", strings.TrimSpace(sentDate(msg)))
		fmt.Fprintf(w, "Subject: %s\n", msg.Subject)
		for _, a := range msg.Attachments {
			fmt.Fprintf(w, "Attachment: %s\n", a.Filename)
		}
		fmt.Fprintf(w, "\n%s\n", msg.BodyText)
		return nil
	}),
}

var exportCommand = &cli.Command{
	Name:      "export",
	Usage:     "export message files to text, with optional JSON and hash sidecars",
	ArgsUsage: "MESSAGE...",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "text",
			Usage: "Text output file. Defaults to <label>_<timestamp>.txt in the current directory.",
		},
		&cli.StringFlag{
			Name:  "label",
			Usage: "Source label written into the export.",
			Value: "export",
		},
		&cli.BoolFlag{
			Name:  "attachments",
			Usage: "List attachments in the text export.",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "with-json",
			Usage: "Also write a JSON sidecar.",
			Value: true,
		},
		&cli.StringFlag{
			Name:  "json-path",
			Usage: "JSON sidecar path. Derived from the text path if empty.",
		},
		&cli.BoolFlag{
			Name:  "with-hashes",
			Usage: "Also write a CSV of hashes.",
		},
		&cli.StringFlag{
			Name:  "hashes-path",
			Usage: "Hash CSV path. Derived from the text path if empty.",
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "Character encoding of the text export.",
			Value: "utf-8",
		},
	},
	Action: withSession(func(cctx *cli.Context, s *session) error {
		paths := cctx.Args().Slice()
		opts := mailcore.ExportOptions{
			TextPath:           cctx.String("text"),
			IncludeAttachments: cctx.Bool("attachments"),
			IncludeJSON:        cctx.Bool("with-json"),
			JSONPath:           cctx.String("json-path"),
			IncludeHashes:      cctx.Bool("with-hashes"),
			HashesPath:         cctx.String("hashes-path"),
			SourceLabel:        cctx.String("label"),
			Encoding:           cctx.String("encoding"),
		}
		if opts.TextPath == "" {
			opts.TextPath = mailcore.DefaultExportPath(opts.SourceLabel, ".", time.Now())
		}
		opts = opts.DeriveSidecarPaths()

		res, err := s.client.ExportBundle(cctx.Context, mailcore.Selection{Paths: paths}, opts)
		if err != nil {
			return err
		}
		for _, p := range []string{res.Text, res.JSON, res.Hashes} {
			if p != "" {
				fmt.Fprintf(cctx.App.Writer, "wrote %s\n", p)
			}
		}
		return nil
	}),
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "serve a browser preview of mailboxes on a local port",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "The address for the HTTP server to listen on. Overrides the config.",
		},
		&cli.StringFlag{
			Name:  "export-dir",
			Usage: "Where exports without an explicit path are written.",
		},
	},
	Action: withSession(func(cctx *cli.Context, s *session) error {
		listen := s.cfg.Listen
		if v := cctx.String("listen-addr"); v != "" {
			listen = v
		}
		addr, err := net.LoopbackAddr(listen)
		if err != nil {
			return err
		}
		exportDir := cctx.String("export-dir")
		if exportDir == "" {
			if exportDir, err = os.Getwd(); err != nil {
				return err
			}
		}

		server := preview.NewServer(
			s.client,
			preview.WithLogger(s.logger),
			preview.WithListenAddr(addr),
			preview.WithExportDir(exportDir),
		)
		go func() {
			<-cctx.Context.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				s.logger.Sugar().Warnf("error stopping server: %s", err)
			}
		}()
		return server.Run()
	}),
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
