package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restbro/internal/history"
)

func (a *app) newHistoryCmd() *cobra.Command {
	var (
		limit      int
		collName   string
		clearAll   bool
	)
	cmd := &cobra.Command{
		Use:   "history [request]",
		Short: "Show recent executions, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearAll {
				if err := a.history.Clear(); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
				return err
			}

			var entries []history.Entry
			switch {
			case len(args) == 1:
				entries = a.history.ByRequest(args[0])
			case collName != "":
				entries = a.history.ByCollection(collName)
			default:
				entries = a.history.Entries()
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if len(entries) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), a.styles.muted.Render("no history"))
				return err
			}

			rows := [][]string{{"WHEN", "STATUS", "TIME", "COLLECTION", "REQUEST", "URL"}}
			for _, e := range entries {
				status := a.styles.status(e.StatusCode, fmt.Sprint(e.StatusCode))
				if e.Error != "" && e.StatusCode != 0 {
					status += a.styles.errorText.Render("!")
				}
				name := e.RequestName
				if e.Environment != "" {
					name += a.styles.muted.Render(" @" + e.Environment)
				}
				rows = append(rows, []string{
					e.ExecutedAt.Local().Format("2006-01-02 15:04:05"),
					status,
					e.Duration.Round(time.Millisecond).String(),
					e.Collection,
					name,
					e.Method + " " + e.URL,
				})
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), strings.TrimRight(a.styles.table(rows), "\n")+"\n")
			return err
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&limit, "limit", "n", 20, "maximum entries to show (0 for all)")
	flags.StringVarP(&collName, "collection", "c", "", "only show entries for this collection")
	flags.BoolVar(&clearAll, "clear", false, "delete all history entries")
	return cmd
}
