package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"workbench/pkg/timeline"
)

func newTimelineCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Inspect the persisted timeline",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Print the persisted timeline as an XML state document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				raw, ok := a.state.GetState(cmd.Context(), a.cfg.Timeline.StateKey)
				if !ok {
					return fmt.Errorf("no timeline state stored under %s", a.cfg.Timeline.StateKey)
				}
				st, err := timeline.UnmarshalState([]byte(raw))
				if err != nil {
					return err
				}
				playing := st.Playing
				st.Playing = false

				tl := timeline.New(timeline.Options{FPS: a.provider.TimelineFPS()})
				defer tl.Close()
				if err := tl.Restore(st); err != nil {
					return err
				}
				doc := tl.Document()
				if playing {
					doc.PlayState = timeline.PlayForward
				}
				return doc.Encode(cmd.OutOrStdout())
			})
		},
	})
	return cmd
}
