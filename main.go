package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/invoice-fetcher/check"
	"github.com/dhcgn/invoice-fetcher/config"
	"github.com/dhcgn/invoice-fetcher/filter"
	"github.com/dhcgn/invoice-fetcher/imap"
	"github.com/dhcgn/invoice-fetcher/invoice"
	"github.com/dhcgn/invoice-fetcher/report"
	"github.com/dhcgn/invoice-fetcher/stats"
)

// dialerFactory builds the session provider; tests replace it.
var dialerFactory = func(cfg config.Config, logger *slog.Logger) (imap.Dialer, error) {
	return imap.NewDialer(imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, err := newRootCmd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "invoice-fetcher",
		Short:         "Download PDF invoices from unread IMAP messages and report as JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	checkCmd := &cobra.Command{
		Use:   "connect-test",
		Short: "Verify the mailbox credentials and list folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, func(cfg config.Config, logger *slog.Logger) error {
				return runCheck(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			})
		},
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Save PDF attachments of unread messages whose subject matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, func(cfg config.Config, logger *slog.Logger) error {
				return runFetch(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			})
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		return nil, err
	}
	rootCmd.AddCommand(checkCmd, fetchCmd)
	return rootCmd, nil
}

// withConfig loads the configuration and logger. Failures here are returned
// to cobra and end the process with a non-zero exit code and no report.
func withConfig(cmd *cobra.Command, fn func(config.Config, *slog.Logger) error) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		_ = cleanup()
	}()

	slog.SetDefault(logger)
	logger.Debug("starting invoice-fetcher", "command", cmd.Name(), "host", cfg.IMAPHost, "mailbox", cfg.Mailbox, "dryRun", cfg.DryRun)

	return fn(cfg, logger)
}

// runCheck prints exactly one connectivity report. Only a failure to write
// the report is returned.
func runCheck(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	dialer, err := dialerFactory(cfg, logger)
	if err != nil {
		return report.Write(out, report.NewCheckError(err))
	}

	result, err := check.Run(ctx, dialer, cfg.Credentials(), logger)
	if err != nil {
		logger.Error("connectivity check failed", "err", err)
		return report.Write(out, report.NewCheckError(err))
	}
	return report.Write(out, report.NewCheckSuccess(result.Account, result.Folders))
}

// runFetch prints exactly one fetch report. An invalid exclude pattern is a
// configuration error and is returned instead.
func runFetch(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	f, err := filter.New(filter.Options{
		Extensions:  []string{filter.PDFExtension},
		ExcludeName: cfg.ExcludeAttachment,
	})
	if err != nil {
		return err
	}

	dialer, err := dialerFactory(cfg, logger)
	if err != nil {
		return report.Write(out, report.NewFetchError(err))
	}

	collector := stats.NewCollector()
	fetcher, err := invoice.New(invoice.Options{
		Dir:     cfg.DownloadDir,
		Mailbox: cfg.Mailbox,
		Subject: cfg.Subject,
		DryRun:  cfg.DryRun,
	}, dialer, f, collector, logger)
	if err != nil {
		return err
	}

	reporter := stats.NewReporter(collector, logger)
	entries, err := fetcher.Run(ctx, cfg.Credentials())
	reporter.Report()
	if err != nil {
		logger.Error("fetch failed", "err", err, "entriesBeforeFailure", len(entries))
		return report.Write(out, report.NewFetchError(err))
	}
	return report.Write(out, report.NewFetchComplete(entries))
}

func setupLogger(cfg config.Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("invoice-fetcher-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(stderr, opts)
	return slog.New(handler), cleanup, nil
}
