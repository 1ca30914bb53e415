package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlstream/internal/config"
	"github.com/roach88/sqlstream/internal/store"
)

// session is the per-command state shared by every subcommand: merged config,
// output formatter and the open store.
type session struct {
	cfg   config.Config
	out   *OutputFormatter
	store *store.Store
}

// loadConfig merges the config sources with the global flags and validates
// the result.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.ConnectionString = o.Database
	}
	if o.Dialect != "" {
		cfg.Dialect = o.Dialect
	}
	if o.Schema != "" {
		cfg.Schema = o.Schema
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// configureLogging installs a text handler on w as the default logger.
func configureLogging(cfg config.Config, w io.Writer) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openSession loads config, configures logging and opens the store. The
// caller must call close.
func (o *RootOptions) openSession(cmd *cobra.Command) (*session, error) {
	out := o.formatter(cmd)
	cfg, err := o.loadConfig()
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			exitErr = WrapExitError(ExitCommandError, "failed to load config", err)
		}
		return nil, out.report(CodeConfig, exitErr)
	}
	logger := configureLogging(cfg, cmd.ErrOrStderr())

	settings, err := cfg.StoreSettings(logger)
	if err != nil {
		return nil, out.report(CodeConfig, WrapExitError(ExitCommandError, "invalid configuration", err))
	}
	if o.Clock != nil {
		settings.Clock = o.Clock
	}

	slog.Debug("opening store", "dialect", cfg.Dialect, "schema", cfg.Schema)
	st, err := store.New(commandContext(cmd), settings)
	if err != nil {
		return nil, out.Fail("failed to open store", err)
	}
	return &session{cfg: cfg, out: out, store: st}, nil
}

func (s *session) close() {
	if err := s.store.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
