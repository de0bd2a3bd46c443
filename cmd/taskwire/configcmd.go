package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/taskwire/internal/config"
	"github.com/vango-dev/taskwire/internal/errors"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}
	cmd.AddCommand(a.configInitCmd(), a.configShowCmd())
	return cmd
}

func (a *app) configInitCmd() *cobra.Command {
	var (
		useYAML bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a config file with every default filled in",
		Args:  cobra.MaximumNArgs(1),
		// A broken config file must not stop init from replacing it.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			name := config.ConfigFileName
			if useYAML {
				name = config.YAMLFileName
			}
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New("TW103").
					WithDetailf("%s already exists", path).
					WithSuggestion("Pass --force to overwrite it.")
			}
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Write "+config.YAMLFileName+" instead of "+config.ConfigFileName)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func (a *app) configShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config after defaults, env and flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if p := a.cfg.Path(); p != "" {
				a.info("# loaded from %s", p)
			}
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(a.stdout)
				enc.SetIndent(2)
				if err := enc.Encode(a.cfg); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(a.cfg)
			default:
				return errors.New("TW400").WithDetailf("--format %q must be yaml or json", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", "yaml", "Output format: yaml or json")
	return cmd
}
