package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-interview/internal/dotenv"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/interview/backend"
	"github.com/vango-go/vai-interview/pkg/interview/config"
	"github.com/vango-go/vai-interview/pkg/interview/media"
	"github.com/vango-go/vai-interview/pkg/interview/session"
	"github.com/vango-go/vai-interview/pkg/interview/store"
)

// interviewBackend is the part of *backend.Client the CLI drives.
type interviewBackend interface {
	session.Backend
	UploadResume(ctx context.Context, filename string, resume io.Reader, jobDescription string) (*types.ResumeUpload, error)
	InterviewReport(ctx context.Context) (*types.Report, error)
}

type cliDeps struct {
	loadConfig func(path string) (*config.Config, error)
	openStore  func(ctx context.Context, dsn string, logger *slog.Logger) (store.Backend, error)
	newBackend func(cfg *config.Config, logger *slog.Logger) (interviewBackend, error)
	newDevice  func(cfg *config.Config, logger *slog.Logger) media.Device
	stdin      io.Reader
	stdout     io.Writer
}

func defaultCLIDeps() cliDeps {
	return cliDeps{
		loadConfig: config.Load,
		openStore:  store.Open,
		newBackend: func(cfg *config.Config, logger *slog.Logger) (interviewBackend, error) {
			return backend.New(cfg.Backend.BaseURL,
				backend.WithTimeout(cfg.Backend.Timeout),
				backend.WithLogger(logger),
			)
		},
		newDevice: func(cfg *config.Config, logger *slog.Logger) media.Device {
			return media.NewFFmpegDevice(cfg.FFmpegConfig(), logger)
		},
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
}

type app struct {
	deps     cliDeps
	stderr   io.Writer
	out      io.Writer
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   *slog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "interview",
		Short:         "Run a proctored mock interview from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	root.AddCommand(
		newRunCmd(a),
		newUploadResumeCmd(a),
		newReportCmd(a),
		newResetCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := a.deps.loadConfig(a.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) openStore(ctx context.Context) (store.Backend, error) {
	st, err := a.deps.openStore(ctx, a.cfg.Store.DSN, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// syncWriter serializes writes from the prompt loop and the alert printer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps cliDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	if deps.stdout == nil {
		deps.stdout = os.Stdout
	}
	if deps.stdin == nil {
		deps.stdin = os.Stdin
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "interview: %v\n", err)
		return 1
	}

	a := &app{deps: deps, stderr: stderr, out: &syncWriter{w: deps.stdout}}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(deps.stdin)
	root.SetOut(a.out)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "interview: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stderr, defaultCLIDeps())
	stop()
	os.Exit(code)
}
