package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/guseggert/mailview/internal/config"
	"github.com/guseggert/mailview/mailcore"
	"github.com/guseggert/mailview/rpc"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mailview",
		Usage: "inspect and export mail archives through the mailcore backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML config file.",
			},
			&cli.StringFlag{
				Name:  "executable",
				Usage: "Interpreter that runs the backend. Overrides the config.",
			},
			&cli.StringFlag{
				Name:  "working-dir",
				Usage: "Directory holding the backend package. Overrides the config.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error]. Overrides the config.",
			},
			&cli.DurationFlag{
				Name:  "call-timeout",
				Usage: "Give up on a backend call after this long and restart the backend. Zero waits forever.",
			},
		},
		Commands: []*cli.Command{
			pingCommand,
			mailboxCommand,
			messageCommand,
			exportCommand,
			serveCommand,
		},
	}
}

// session is a loaded config plus a connected client, torn down by close.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	rpc    *rpc.Client
	client *mailcore.Client
}

func newSession(cctx *cli.Context) (*session, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, err
	}
	if v := cctx.String("executable"); v != "" {
		cfg.Executable = v
	}
	if v := cctx.String("working-dir"); v != "" {
		cfg.WorkingDir = v
	}
	if v := cctx.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if cctx.IsSet("call-timeout") {
		cfg.CallTimeout = cctx.Duration("call-timeout")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	logger = logger.WithOptions(zap.IncreaseLevel(lvl))

	opts := append(cfg.ClientOptions(), rpc.WithLogger(logger))
	rc := rpc.NewClient(cfg.Backend(), opts...)
	return &session{
		cfg:    cfg,
		logger: logger,
		rpc:    rc,
		client: mailcore.New(rc),
	}, nil
}

func (s *session) close() {
	if err := s.rpc.Close(); err != nil {
		s.logger.Sugar().Warnf("error shutting down backend: %s", err)
	}
	_ = s.logger.Sync()
}

// withSession runs f with a session that is closed afterwards.
func withSession(f func(cctx *cli.Context, s *session) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		s, err := newSession(cctx)
		if err != nil {
			return err
		}
		defer s.close()
		return f(cctx, s)
	}
}
