package main

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"workbench/pkg/config"
	"workbench/pkg/settings"
)

// withApp loads the config and opens the app for a one-shot command.
func withApp(ctx context.Context, opts *rootOptions, fn func(a *app) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change stored settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [key]",
			Short: "Print one setting with its source, or the merged tree",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), opts, func(a *app) error {
					var out any = a.engine.Snapshot()
					if len(args) == 1 {
						res := a.engine.Resolve(args[0])
						if res.Source == settings.SourceNone {
							return fmt.Errorf("setting %s is not set", args[0])
						}
						out = map[string]any{"key": args[0], "source": res.Source.String(), "value": res.Value}
					}
					data, err := json.MarshalIndent(out, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <key> <json>",
			Short: "Store a JSON value; bare words are stored as strings",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), opts, func(a *app) error {
					a.engine.Set(args[0], parseValue(args[1]), false)
					return a.engine.Flush(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Remove a setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), opts, func(a *app) error {
					a.engine.Delete(args[0])
					return a.engine.Flush(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "reset [namespace]",
			Short: "Reset a namespace (the application namespace by default)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), opts, func(a *app) error {
					ns := ""
					if len(args) == 1 {
						ns = args[0]
					}
					return a.engine.Reset(cmd.Context(), ns)
				})
			},
		},
	)
	return cmd
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
