package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restbro/internal/collection"
	"github.com/unkn0wn-root/restbro/internal/history"
	"github.com/unkn0wn-root/restbro/internal/httpclient"
	"github.com/unkn0wn-root/restbro/internal/pipeline"
	"github.com/unkn0wn-root/restbro/internal/util"
)

type runFlags struct {
	noPersist   bool
	showHeaders bool
	quiet       bool
	showStages  bool
}

func (a *app) newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <collection> <request>",
		Short: "Execute a request and write back the variables its scripts changed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadCollection(args[0])
			if err != nil {
				return err
			}
			req, err := findRequest(c, args[1])
			if err != nil {
				return err
			}
			return a.runRequest(cmd.Context(), cmd.OutOrStdout(), c, req, f)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&f.noPersist, "no-persist", false, "do not write changed variables back")
	flags.BoolVarP(&f.showHeaders, "include", "i", false, "print response headers")
	flags.BoolVar(&f.quiet, "quiet", false, "print only the status line")
	flags.BoolVar(&f.showStages, "stages", false, "print pipeline state transitions")
	return cmd
}

func (a *app) runRequest(ctx context.Context, out io.Writer, c *collection.Collection, req collection.Request, f runFlags) error {
	envName := strings.TrimSpace(a.settings.DefaultEnvironment)
	if envName != "" {
		if _, ok := c.Environment(envName); !ok {
			a.log.Warn("environment not found, sending without substitution", "environment", envName, "collection", c.Name)
			envName = ""
		}
	}

	var observer func(pipeline.State)
	if f.showStages {
		observer = func(s pipeline.State) {
			fmt.Fprintln(out, a.styles.muted.Render("· "+s.String()))
		}
	}

	started := time.Now()
	res, runErr := a.executor(observer).Execute(ctx, pipeline.Input{
		Request:        req,
		CollectionName: c.Name,
		Environment:    envName,
		Environments:   c.Environments,
	})

	a.printResponse(out, res.Response, f)

	persisted := false
	if shouldPersist(res, runErr) && !f.noPersist && len(res.Dirty) > 0 {
		if err := pipeline.Persist(ctx, a.collections, c.Path, envName, res.Dirty); err != nil {
			runErr = errors.Join(runErr, err)
		} else if envName != "" {
			persisted = true
			fmt.Fprintf(out, "%s %s\n", a.styles.muted.Render("updated"), strings.Join(util.SortedKeys(res.Dirty), ", "))
		}
	}
	if res.PostScriptErr != nil {
		fmt.Fprintln(out, a.styles.errorText.Render("post-response script: "+res.PostScriptErr.Error()))
	}

	a.record(c, envName, req, res, runErr, started, persisted)
	return runErr
}

// shouldPersist keeps write-back for runs that got a response. Failures
// before or during the send discard the scratch values.
func shouldPersist(res pipeline.Result, err error) bool {
	if err == nil {
		return true
	}
	return res.PostScriptErr != nil && errors.Is(err, res.PostScriptErr)
}

func (a *app) printResponse(out io.Writer, resp *httpclient.Response, f runFlags) {
	if resp == nil {
		return
	}
	line := fmt.Sprintf("%s  %s  %s",
		a.styles.status(resp.StatusCode, resp.Status),
		a.styles.muted.Render(resp.Duration.Round(time.Millisecond).String()),
		a.styles.muted.Render(humanBytes(resp.Size)),
	)
	fmt.Fprintln(out, line)
	if f.quiet {
		return
	}
	if f.showHeaders && len(resp.Headers) > 0 {
		rows := make([][]string, 0, len(resp.Headers))
		for _, name := range util.SortedKeys(resp.Headers) {
			rows = append(rows, []string{a.styles.key.Render(name + ":"), strings.Join(resp.Headers[name], ", ")})
		}
		fmt.Fprint(out, a.styles.table(rows))
		fmt.Fprintln(out)
	}
	if len(resp.Body) > 0 {
		fmt.Fprintln(out, strings.TrimRight(string(resp.Body), "\n"))
	}
}

func (a *app) record(
	c *collection.Collection,
	envName string,
	req collection.Request,
	res pipeline.Result,
	runErr error,
	started time.Time,
	persisted bool,
) {
	entry := history.Entry{
		ExecutedAt:  started,
		Collection:  c.Name,
		Environment: envName,
		RequestName: req.Name,
		RequestPath: req.Path,
		Method:      req.Method,
		URL:         req.URL,
		Duration:    time.Since(started),
	}
	if resp := res.Response; resp != nil {
		entry.Status = resp.Status
		entry.StatusCode = resp.StatusCode
		entry.BodySnippet = history.Snippet(resp.Body)
		if resp.EffectiveURL != "" {
			entry.URL = resp.EffectiveURL
		}
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	for _, s := range res.States {
		entry.Stages = append(entry.Stages, s.String())
	}
	if persisted {
		entry.Dirty = util.SortedKeys(res.Dirty)
	}
	if err := a.history.Append(entry); err != nil {
		a.log.Warn("history append failed", "err", err)
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
