package main

import (
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
)

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "restbro",
		Short: "File-backed HTTP request collections with scripting",
		Long: heredoc.Doc(`
			restbro keeps HTTP requests as TOML files grouped into collections,
			resolves {{placeholders}} from per-collection environments and secrets,
			and runs pre-request and post-response JavaScript around each call.

			Settings are read from settings.toml in the config directory
			($RESTBRO_CONFIG_DIR or the user config dir). Every persistent flag
			can also be set through a RESTBRO_* environment variable.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationNoInit] == "true" {
				return nil
			}
			return a.init(cmd)
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.String("root", "", "collections root directory")
	flags.StringP("env", "e", "", "environment used for substitution")
	flags.Duration("timeout", 0, "HTTP request timeout")
	flags.Duration("script-timeout", 0, "per-script execution limit")
	flags.Bool("follow", false, "follow redirects")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.String("proxy", "", "HTTP proxy URL")
	flags.String("secrets", "", "secret backend: vault or memory")
	flags.String("history-path", "", "history file")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	for key, name := range map[string]string{
		"root":           "root",
		"env":            "env",
		"timeout":        "timeout",
		"script_timeout": "script-timeout",
		"follow":         "follow",
		"insecure":       "insecure",
		"proxy":          "proxy",
		"secrets":        "secrets",
		"history_path":   "history-path",
		"log_level":      "log-level",
	} {
		// Lookup never fails for flags registered above.
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(
		a.newScanCmd(),
		a.newCollectionCmd(),
		a.newRunCmd(),
		a.newRequestCmd(),
		a.newGroupCmd(),
		a.newEnvCmd(),
		a.newHistoryCmd(),
		a.newWatchCmd(),
		a.newVersionCmd(),
	)
	return root
}

const annotationNoInit = "restbro/no-init"

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoInit: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "restbro %s\n  commit: %s\n  built:  %s\n", version, commit, date)
			return err
		},
	}
}
