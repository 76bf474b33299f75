package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"workbench/pkg/config"
	"workbench/pkg/version"
)

const defaultConfigPath = "configs/workbench.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions carries the persistent flags to the subcommands.
type rootOptions struct {
	configPath string
	envFile    string
}

func (o *rootOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", defaultConfigPath, "path to the YAML config file")
	fs.StringVar(&o.envFile, "env-file", ".env", "optional dotenv file loaded before the config")
}

// loadEnv loads the dotenv file. A missing file is not an error.
func (o *rootOptions) loadEnv() error {
	if o.envFile == "" {
		return nil
	}
	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", o.envFile, err)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "workbench",
		Short:         "Settings engine and timeline server of the map workbench",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.loadEnv()
		},
	}
	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCmd(opts),
		newInitConfigCmd(opts),
		newSettingsCmd(opts),
		newTimelineCmd(opts),
		newStateCmd(opts),
	)
	return cmd
}

func newInitConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateDefault(opts.configPath); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file generated: %s\n", opts.configPath)
			return nil
		},
	}
}
