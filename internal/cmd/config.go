package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rand/guesstimate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Commands for inspecting guesstimate configuration",
	}
	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSchemaCmd(),
		newConfigValidateCmd(),
		newConfigPathCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the configuration after applying the file and command line overrides",
		Example: heredoc.Doc(`
			# Show config as YAML
			guesstimate config show

			# Show config as JSON
			guesstimate config show --json
		`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Example: heredoc.Doc(`
			guesstimate config validate
			guesstimate config validate -c ./staging.yaml
		`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", err)
				return err
			}
			if path == "" {
				path = "built-in defaults"
			}

			w := cmd.OutOrStdout()
			var warnings []string
			if cfg.Oracle.LLM.Enabled && os.Getenv(cfg.Oracle.LLM.APIKeyEnv) == "" {
				warnings = append(warnings, fmt.Sprintf("LLM oracle enabled but %s is not set", cfg.Oracle.LLM.APIKeyEnv))
			}
			for _, f := range []struct{ name, path string }{
				{"reference", cfg.Oracle.Reference},
				{"benchmarks", cfg.Collect.Benchmarks},
				{"patterns", cfg.Collect.Patterns},
				{"templates", cfg.Fermi.Templates},
			} {
				if f.path == "" {
					continue
				}
				if _, err := os.Stat(f.path); err != nil {
					warnings = append(warnings, fmt.Sprintf("%s file %s: %v", f.name, f.path, err))
				}
			}

			for _, msg := range warnings {
				fmt.Fprintf(w, "  ⚠ %s\n", msg)
			}
			if len(warnings) == 0 {
				fmt.Fprintf(w, "✓ Configuration is valid (%s)\n", path)
			} else {
				fmt.Fprintf(w, "\n✓ Configuration is valid with warnings (%s)\n", path)
			}
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file paths",
		Long:  "Display the paths where configuration files are looked up, in order of precedence",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := resolveCwd(cmd)
			if err != nil {
				return err
			}
			paths := []struct{ name, path string }{
				{"Project config", filepath.Join(cwd, config.ProjectFile)},
				{"Project config (alt)", filepath.Join(cwd, ".guesstimate.yml")},
			}
			if dir, err := os.UserConfigDir(); err == nil {
				paths = append(paths, struct{ name, path string }{"User config", filepath.Join(dir, "guesstimate", "config.yaml")})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Configuration Paths (in order of precedence):")
			fmt.Fprintln(w)
			for _, p := range paths {
				status := "✗"
				if _, err := os.Stat(p.path); err == nil {
					status = "✓"
				}
				fmt.Fprintf(w, "  %s %s\n    %s\n", status, p.name, p.path)
			}
			dataDir, _ := cmd.Flags().GetString("data-dir")
			if dataDir == "" {
				dataDir = defaultDataDir()
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Data directory: %s\n", dataDir)
			return nil
		},
	}
}
