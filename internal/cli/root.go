// Package cli implements the bsort command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/bsort/internal/app"
	"github.com/ayusman/bsort/internal/bridge"
	"github.com/ayusman/bsort/internal/color"
	"github.com/ayusman/bsort/internal/config"
	"github.com/ayusman/bsort/internal/imageio"
	"github.com/ayusman/bsort/internal/logger"
	"github.com/ayusman/bsort/internal/store"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// skipConfig marks commands that run without a settings file.
const skipConfig = "bsort/skip-config"

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configPath string
	logLevel   string
	jsonMode   bool
}

// session is the state set up once per invocation and shared by
// subcommands.
type session struct {
	flags    rootFlags
	settings *config.Settings
	logger   *slog.Logger
	closeLog func() error
	store    *store.Store
}

// usageError marks failures caused by how the command was invoked.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// NewRootCmd creates the top-level "bsort" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *session) {
	s := &session{}

	root := &cobra.Command{
		Use:   "bsort",
		Short: "Detect bottle caps and sort them by colour",
		Long: "bsort trains and exports a YOLO bottle-cap detector, runs it on images\n" +
			"or a camera and labels every cap light blue, dark blue or other.",
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  s.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return s.close() },
	}

	root.PersistentFlags().StringVarP(&s.flags.configPath, "config", "c", config.DefaultPath, "settings file")
	root.PersistentFlags().StringVar(&s.flags.logLevel, "log-level", "", "log level: debug, info, warn, error (default from settings)")
	root.PersistentFlags().BoolVar(&s.flags.jsonMode, "json", false, "output in JSON format")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(s))
	root.AddCommand(newTrainCmd(s))
	root.AddCommand(newExportCmd(s))
	root.AddCommand(newInferCmd(s))
	root.AddCommand(newClassifyCmd(s))
	root.AddCommand(newResolveCmd(s))
	root.AddCommand(newRunsCmd(s))
	root.AddCommand(newServeCmd(s))

	return root, s
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, s := newRoot()
	err := root.ExecuteContext(ctx)
	// PersistentPostRunE is skipped when a command fails.
	s.close()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return exitCode(err)
}

// exitCode maps an error to 0, 1 (user error) or 2 (system error).
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}

	var ue usageError
	switch {
	case errors.As(err, &ue),
		errors.Is(err, config.ErrConfigNotFound),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, app.ErrNoArtifact),
		errors.Is(err, app.ErrNoCheckpoint),
		errors.Is(err, app.ErrNoBackend),
		errors.Is(err, bridge.ErrYOLONotFound),
		errors.Is(err, color.ErrInvalidCrop),
		errors.Is(err, imageio.ErrUnknownFormat),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, fs.ErrNotExist):
		return exitUserError
	}

	// cobra reports unknown subcommands as plain errors.
	if strings.HasPrefix(err.Error(), "unknown command") {
		return exitUserError
	}
	return exitSysError
}

// setup loads settings and installs the logger.
func (s *session) setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[skipConfig] == "" {
		settings, err := config.Load(s.flags.configPath)
		if err != nil {
			return err
		}
		s.settings = settings
	} else {
		s.settings = config.Default()
	}

	levelName := s.settings.Logging.Level
	if s.flags.logLevel != "" {
		levelName = s.flags.logLevel
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return usageError{err}
	}

	s.logger, s.closeLog = logger.New(
		logger.WithLevel(level),
		logger.WithJSON(s.settings.Logging.JSON),
		logger.WithLogFile(s.settings.Logging.File),
		logger.WithWriter(cmd.ErrOrStderr()),
	)
	slog.SetDefault(s.logger)
	return nil
}

func (s *session) close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
		s.store = nil
	}
	if s.closeLog != nil {
		errs = append(errs, s.closeLog())
		s.closeLog = nil
	}
	return errors.Join(errs...)
}

// openStore opens the run ledger. An empty tracking.db_path disables it.
func (s *session) openStore() (*store.Store, error) {
	if s.store != nil || s.settings.Tracking.DBPath == "" {
		return s.store, nil
	}
	st, err := store.New(s.settings.Tracking.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	s.store = st
	return st, nil
}

// newApp wires the workflows. When requireYOLO is set a missing yolo
// program is an error, otherwise in-process inference still works
// without it.
func (s *session) newApp(requireYOLO bool) (*app.App, error) {
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}

	cfg := app.Config{
		Settings: s.settings,
		Store:    st,
		Logger:   s.logger,
	}

	runner, err := bridge.New(s.settings.Bridge.YOLOBin,
		bridge.WithTimeout(s.settings.Bridge.Timeout),
		bridge.WithLogger(s.logger),
	)
	switch {
	case err == nil:
		cfg.YOLO = runner
	case requireYOLO:
		return nil, err
	default:
		s.logger.Debug("yolo program unavailable", "bin", s.settings.Bridge.YOLOBin, "error", err)
	}

	return app.New(cfg), nil
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}
