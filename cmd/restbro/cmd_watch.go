package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restbro/internal/collection"
)

var eventNames = map[collection.EventKind]string{
	collection.EventLoaded:             "loaded",
	collection.EventSaved:              "saved",
	collection.EventRequestSaved:       "request saved",
	collection.EventRequestDeleted:     "request deleted",
	collection.EventRequestMoved:       "request moved",
	collection.EventGroupCreated:       "group created",
	collection.EventGroupRenamed:       "group renamed",
	collection.EventGroupDeleted:       "group deleted",
	collection.EventEnvironmentUpdated: "environment updated",
	collection.EventReloaded:           "reloaded",
	collection.EventRemoved:            "removed",
}

func (a *app) newWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Reload collections when their files change on disk",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.settings.CollectionsRoot
			if len(args) == 1 {
				root = args[0]
			}
			out := cmd.OutOrStdout()
			a.collections.Subscribe(func(evt collection.Event) {
				if evt.Kind != collection.EventReloaded && evt.Kind != collection.EventRemoved {
					return
				}
				fmt.Fprintf(out, "%s %s\n", a.styles.key.Render(eventNames[evt.Kind]), evt.Collection)
			})
			colls, err := a.collections.Scan(root)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "watching %d collections under %s\n", len(colls), root)

			err = a.collections.Watch(cmd.Context(), interval)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "polling interval")
	return cmd
}
