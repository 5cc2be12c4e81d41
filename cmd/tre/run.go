package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crimson-sun/tre/internal/action"
	"github.com/crimson-sun/tre/internal/config"
	"github.com/crimson-sun/tre/internal/connector"
	"github.com/crimson-sun/tre/internal/control"
	"github.com/crimson-sun/tre/internal/logging"
	"github.com/crimson-sun/tre/internal/rules"
	"github.com/crimson-sun/tre/internal/session"
)

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run RULES",
		Short: "Connect to a log stream and verify it against a rule file",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file (default $TRE_CONFIG)")
	flags := config.BindFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath, flags)
		if err != nil {
			return err
		}
		return execute(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], connector.Config{
			Address: net.JoinHostPort(cfg.Source.Host, strconv.Itoa(cfg.Source.Port)),
		}, false)
	}
	return cmd
}

func replayCmd() *cobra.Command {
	var configPath, logPath, rulesPath string
	cmd := &cobra.Command{
		Use:   "replay --log CAPTURE --rules RULES",
		Short: "Verify a captured log file (plain or .zst) against a rule file",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file (default $TRE_CONFIG)")
	cmd.Flags().StringVar(&logPath, "log", "", "captured log file")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "rule file (JSON or YAML)")
	_ = cmd.MarkFlagRequired("log")
	_ = cmd.MarkFlagRequired("rules")
	flags := config.BindFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configPath, flags)
		if err != nil {
			return err
		}
		cfg.Source.Connector = "file"
		return execute(cmd.Context(), cmd.OutOrStdout(), cfg, rulesPath, connector.Config{Path: logPath}, true)
	}
	return cmd
}

func loadConfig(path string, flags *config.Flags) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// execute runs one session and maps its outcome to an exit code.
func execute(parent context.Context, w io.Writer, cfg config.Config, rulesPath string, src connector.Config, offline bool) error {
	if parent == nil {
		parent = context.Background()
	}
	level, _ := logging.ParseLevel(cfg.Log.Level)
	jsonLogs, _ := logging.ParseFormat(cfg.Log.Format)
	logger := logging.Init(jsonLogs || cfg.Output.Format == config.FormatNDJSON, level)

	stepList, err := rules.Load(rulesPath, cfg.Engine.Strict)
	if err != nil {
		return err
	}

	ctor, err := connector.Get(cfg.Source.Connector)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	sk, err := buildSinks(ctx, cfg, runID, w)
	if err != nil {
		return err
	}

	scfg := sessionConfig(cfg, ctor(), src, offline)
	opts := []session.Option{session.WithRunID(runID)}
	if sk.payloads != nil {
		opts = append(opts, session.WithTap(sk.payloads))
	}
	if sk.wire != nil {
		opts = append(opts, session.WithWire(sk.wire))
	}
	var exec action.Executor = action.NewADB(cfg.Action.ADB, cfg.Action.ScreenshotDir, action.WithSerial(cfg.Action.Serial))
	if offline {
		exec = action.Skipped{}
	}
	sup := session.New(scfg, stepList, sk.observer, exec, opts...)

	var srv *control.Server
	if cfg.Control.Listen != "" {
		srv, err = control.Listen(cfg.Control.Listen, sup, logger)
		if err != nil {
			sk.Close(context.Background())
			return err
		}
		slog.Info("control API listening", "addr", srv.Addr().String())
	}

	var (
		sum    session.Summary
		runErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()
	g.Go(func() error {
		defer stopServe()
		sum, runErr = sup.Run(gctx)
		return nil
	})
	if srv != nil {
		g.Go(func() error { return srv.Serve(serveCtx) })
	}
	if err := g.Wait(); err != nil {
		slog.Warn("control API stopped", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sk.Close(closeCtx); err != nil {
		slog.Warn("closing outputs", "error", err)
	}

	pass, fail, errored := sum.Counts()
	elapsed := sum.Ended.Sub(sum.Started)
	if sk.console != nil {
		sk.console.Totals(pass, fail, errored, elapsed)
	}
	slog.Info("run finished", "run", sum.RunID, "reason", sum.Reason,
		"passed", pass, "failed", fail, "errored", errored, "elapsed", elapsed)

	return outcome(sum, runErr)
}

// outcome maps a finished run to an exit code.
func outcome(sum session.Summary, err error) error {
	switch {
	case errors.Is(err, connector.ErrConnect):
		return &exitError{code: exitConnect, err: err}
	case err != nil && !errors.Is(err, connector.ErrStreamClosed):
		return &exitError{code: exitFail, err: err}
	case sum.Passed():
		return nil
	default:
		return &exitError{code: exitFail}
	}
}

func sessionConfig(cfg config.Config, conn connector.Connector, src connector.Config, offline bool) session.Config {
	src.Provider = cfg.Source.Connector
	src.ConnectTimeout = cfg.Source.ConnectTimeout
	src.Attempts = cfg.Source.Retries
	src.Backoff = cfg.Source.Backoff

	scfg := session.Config{
		Connector:        conn,
		Source:           src,
		Settle:           cfg.Source.Settle,
		RingSize:         cfg.Source.RingSize,
		Tick:             cfg.Engine.Tick,
		Reconnect:        cfg.Source.Reconnect,
		ReconnectMax:     cfg.Source.ReconnectMax,
		ReconnectDelay:   cfg.Source.ReconnectDelay,
		HistorySize:      cfg.Engine.HistorySize,
		Step1Timeout:     cfg.Engine.Step1Timeout,
		DefaultTimeout:   cfg.Engine.DefaultTimeout,
		ForcePayloadOnly: cfg.Engine.ForcePayloadOnly,
	}
	if offline {
		scfg.Offline = true
		scfg.Settle = 0
		scfg.Reconnect = false
	}
	return scfg
}
