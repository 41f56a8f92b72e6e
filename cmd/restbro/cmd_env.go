package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/util"
)

const maskedValue = "••••••"

func (a *app) newEnvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage collection environments and their variables",
	}
	cmd.AddCommand(
		a.newEnvListCmd(),
		a.newEnvAddCmd(),
		a.newEnvSetCmd(),
		a.newEnvSecretCmd(),
		a.newEnvUnsetCmd(),
		a.newEnvImportCmd(),
	)
	return cmd
}

func (a *app) newEnvListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection> [environment]",
		Short: "Show environments and their variables; secrets are masked",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadCollection(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, env := range c.Environments {
				if len(args) == 2 && env.Name != args[1] {
					continue
				}
				if _, err := fmt.Fprintln(out, a.styles.title.Render(env.Name)); err != nil {
					return err
				}
				rows := make([][]string, 0, len(env.Variables))
				for _, name := range util.SortedKeys(env.Variables) {
					v := env.Variables[name]
					value := v.Value
					if v.Secret {
						value = maskedValue
					}
					if v.Temporary {
						value += a.styles.muted.Render(" (temporary)")
					}
					rows = append(rows, []string{"  " + a.styles.key.Render(name), value})
				}
				if _, err := fmt.Fprint(out, a.styles.table(rows)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) newEnvAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <collection> <environment>",
		Short: "Create an empty environment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.collectionPath(args[0])
			if _, err := a.collections.Load(path); err != nil {
				return err
			}
			if err := a.collections.AddEnvironment(path, args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "added environment %s\n", args[1])
			return err
		},
	}
}

func (a *app) newEnvSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <collection> <environment> <name> <value>",
		Short: "Set a variable; secret variables are written to the secret store",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.collectionPath(args[0])
			if _, err := a.collections.Load(path); err != nil {
				return err
			}
			changes := map[string]string{args[2]: args[3]}
			if err := a.collections.UpdateEnvironmentVariables(cmd.Context(), path, args[1], changes); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "set %s in %s\n", args[2], args[1])
			return err
		},
	}
}

func (a *app) newEnvSecretCmd() *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "secret <collection> <environment> <name> [value]",
		Short: "Mark a variable secret and store its value outside the collection",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value string
			switch {
			case len(args) == 4:
				value = args[3]
			case fromStdin:
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && err != io.EOF {
					return errdef.Wrap(errdef.CodeFilesystem, err, "read secret from stdin")
				}
				value = strings.TrimRight(line, "\r\n")
			default:
				return errdef.New(errdef.CodeParse, "secret value missing: pass it as an argument or use --stdin")
			}
			path := a.collectionPath(args[0])
			if _, err := a.collections.Load(path); err != nil {
				return err
			}
			if err := a.collections.SetSecretVariable(cmd.Context(), path, args[1], args[2], value); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "stored secret %s in %s\n", args[2], args[1])
			return err
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the value from standard input")
	return cmd
}

func (a *app) newEnvUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <collection> <environment> <name>",
		Short: "Remove a variable, deleting its secret value if any",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.collectionPath(args[0])
			if _, err := a.collections.Load(path); err != nil {
				return err
			}
			if err := a.collections.DeleteEnvironmentVariable(cmd.Context(), path, args[1], args[2]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", args[2], args[1])
			return err
		},
	}
}

func (a *app) newEnvImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <collection> <environment> <file>",
		Short: "Merge a .env file into an environment, creating it if needed",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.collectionPath(args[0])
			if _, err := a.collections.Load(path); err != nil {
				return err
			}
			n, err := a.collections.ImportDotEnv(cmd.Context(), path, args[1], args[2])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d variables into %s\n", n, args[1])
			return err
		},
	}
}
