package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"workbench/pkg/config"
	"workbench/pkg/db"
	"workbench/pkg/store"
)

// withStore opens only the database, so raw state stays reachable when the
// settings engine cannot start.
func withStore(opts *rootOptions, fn func(d *db.DB, st store.Store) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	d, err := db.Init(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	st := store.NewSQLiteStore(d)
	defer st.Close()
	return fn(d, st)
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the raw state backups",
	}

	var olderThan string
	prune := &cobra.Command{
		Use:   "prune <prefix>",
		Short: "Delete raw state entries under prefix older than --older-than",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := config.ParseDuration(olderThan)
			if err != nil {
				return fmt.Errorf("invalid --older-than: %w", err)
			}
			return withStore(opts, func(d *db.DB, _ store.Store) error {
				n, err := d.PruneState(args[0], age)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries\n", n)
				return nil
			})
		},
	}
	prune.Flags().StringVar(&olderThan, "older-than", "30d", "minimum age of pruned entries")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [prefix]",
			Short: "Print raw state entries, optionally under a key prefix",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				prefix := ""
				if len(args) == 1 {
					prefix = args[0]
				}
				return withStore(opts, func(_ *db.DB, st store.Store) error {
					entries, err := st.ListState(cmd.Context(), prefix)
					if err != nil {
						return err
					}
					keys := make([]string, 0, len(entries))
					for k := range entries {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, entries[k])
					}
					return nil
				})
			},
		},
		prune,
	)
	return cmd
}
