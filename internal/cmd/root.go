// Package cmd implements the guesstimate command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rand/guesstimate/internal/app"
	"github.com/rand/guesstimate/internal/config"
	"github.com/rand/guesstimate/internal/log"
)

// Execute runs the command line until it exits or receives an interrupt.
func Execute(version string) error {
	return fang.Execute(context.Background(), Root(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt),
	)
}

// Root builds the command tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "guesstimate",
		Short: "Answer quantitative questions with calibrated estimates",
		Long: heredoc.Doc(`
			Answer quantitative questions ("what is our monthly churn?") by
			escalating through caller facts, learned rules, authoritative
			sources, bounded evidence synthesis and Fermi decomposition.

			Confident answers are learned and reused on later questions.
		`),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := resolveCwd(cmd)
			if err != nil {
				return err
			}
			return loadDotEnv(cwd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "Configuration file (default: discovered from the working directory)")
	pf.StringP("cwd", "C", "", "Working directory")
	pf.StringP("data-dir", "D", "", "Directory for the learned rule database")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-file", "", "Write rotating JSON logs to this file")

	root.AddCommand(
		newEstimateCmd(),
		newRulesCmd(),
		newConfigCmd(),
		newServeCmd(),
	)
	return root
}

func resolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		return filepath.Abs(cwd)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return wd, nil
}

// loadDotEnv loads .env from dir without overriding the environment.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func defaultDataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "guesstimate")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "guesstimate")
	}
	return ".guesstimate"
}

// loadConfig resolves the configuration file and applies command line
// overrides. It returns the path that was loaded, empty for defaults.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	cwd, err := resolveCwd(cmd)
	if err != nil {
		return config.Config{}, "", err
	}
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.Find(cwd)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, "", err
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-file"); v != "" {
		cfg.Log.File = v
	}
	if cfg.Store.Backend == config.BackendSQLite && cfg.Store.Path == "" {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		if dataDir == "" {
			dataDir = defaultDataDir()
		}
		cfg.Store.Path = filepath.Join(dataDir, "rules.db")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, path, nil
}

// openEngine loads configuration, sets up logging and builds the engine.
// The returned cleanup closes both.
func openEngine(cmd *cobra.Command) (*app.Engine, *slog.Logger, func(), error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Store.Path != "" && cfg.Store.Backend != config.BackendMemory {
		dir := cfg.Store.Path
		if cfg.Store.Backend == config.BackendSQLite {
			dir = filepath.Dir(dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	logger, logCloser, err := log.New(log.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Writer:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	engine, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		logCloser.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := engine.Close(); err != nil {
			logger.Warn("close engine", "error", err)
		}
		logCloser.Close()
	}
	return engine, logger, cleanup, nil
}

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}
