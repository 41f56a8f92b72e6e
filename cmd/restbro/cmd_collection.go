package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restbro/internal/collection"
	"github.com/unkn0wn-root/restbro/internal/curl"
	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/util"
)

func (a *app) newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [root]",
		Short: "List the collections under a root directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.settings.CollectionsRoot
			if len(args) == 1 {
				root = args[0]
			}
			colls, err := a.collections.Scan(root)
			if err != nil {
				return err
			}
			if len(colls) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), a.styles.muted.Render("no collections under "+root))
				return err
			}
			rows := [][]string{{"NAME", "REQUESTS", "GROUPS", "ENVIRONMENTS", "PATH"}}
			for _, c := range colls {
				envs := make([]string, 0, len(c.Environments))
				for _, env := range c.Environments {
					envs = append(envs, env.Name)
				}
				rows = append(rows, []string{
					c.Name,
					fmt.Sprint(len(c.AllRequests())),
					fmt.Sprint(len(c.Groups)),
					strings.Join(envs, ","),
					c.Path,
				})
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), a.styles.table(rows))
			return err
		},
	}
}

func (a *app) newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Create, delete and move requests",
	}
	cmd.AddCommand(a.newRequestSaveCmd(), a.newRequestDeleteCmd(), a.newRequestMoveCmd(), a.newRequestListCmd(), a.newRequestImportCurlCmd())
	return cmd
}

type requestFlags struct {
	method     string
	url        string
	group      string
	body       string
	bodyFile   string
	preFile    string
	postFile   string
	headers    []string
	query      []string
	pathParams []string
}

func (a *app) newRequestSaveCmd() *cobra.Command {
	var f requestFlags
	cmd := &cobra.Command{
		Use:   "save <collection> <name>",
		Short: "Write a request file, replacing one with the same name",
		Example: heredoc.Doc(`
			restbro request save shop login -X POST --url '{{baseUrl}}/login' \
			  -H 'Content-Type: application/json' --body '{"user":"{{user}}"}' \
			  --post-script-file capture-token.js
		`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.collectionPath(args[0])
			c, err := a.collections.Load(path)
			if err != nil {
				return err
			}
			req, err := f.build()
			if err != nil {
				return err
			}
			if existing, ok := lookupRequestInGroup(c, args[1], f.group); ok {
				req.ID = existing.ID
			}
			saved, err := a.collections.SaveRequest(path, req, args[1], f.group)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", saved)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.method, "method", "X", "GET", "HTTP method")
	flags.StringVar(&f.url, "url", "", "request URL, may contain {{placeholders}}")
	flags.StringVarP(&f.group, "group", "g", "", "group to store the request in")
	flags.StringVar(&f.body, "body", "", "request body")
	flags.StringVar(&f.bodyFile, "body-file", "", "read the request body from a file")
	flags.StringVar(&f.preFile, "pre-script-file", "", "pre-request JavaScript file")
	flags.StringVar(&f.postFile, "post-script-file", "", "post-response JavaScript file")
	flags.StringArrayVarP(&f.headers, "header", "H", nil, "header 'Name: value' (repeatable)")
	flags.StringArrayVarP(&f.query, "query", "q", nil, "query parameter key=value (repeatable)")
	flags.StringArrayVarP(&f.pathParams, "path-param", "p", nil, "path parameter key=value (repeatable)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func (f requestFlags) build() (collection.Request, error) {
	req := collection.Request{
		Method: strings.ToUpper(strings.TrimSpace(f.method)),
		URL:    strings.TrimSpace(f.url),
		Body:   f.body,
	}
	var err error
	if f.bodyFile != "" {
		if req.Body, err = readText(f.bodyFile); err != nil {
			return req, err
		}
	}
	if f.preFile != "" {
		if req.PreRequestScript, err = readText(f.preFile); err != nil {
			return req, err
		}
	}
	if f.postFile != "" {
		if req.PostResponseScript, err = readText(f.postFile); err != nil {
			return req, err
		}
	}
	if req.Headers, err = parsePairs(f.headers, ":"); err != nil {
		return req, err
	}
	if req.QueryParams, err = parsePairs(f.query, "="); err != nil {
		return req, err
	}
	if req.PathParams, err = parsePairs(f.pathParams, "="); err != nil {
		return req, err
	}
	return req, nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errdef.Wrap(errdef.CodeFilesystem, err, "read %s", path)
	}
	return string(data), nil
}

// parsePairs splits each "key<sep>value" entry. A leading '!' disables it.
func parsePairs(items []string, sep string) ([]collection.KV, error) {
	var out []collection.KV
	for _, item := range items {
		enabled := true
		if strings.HasPrefix(item, "!") {
			enabled = false
			item = item[1:]
		}
		key, value, ok := strings.Cut(item, sep)
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errdef.New(errdef.CodeParse, "expected key%svalue, got %q", sep, item)
		}
		out = append(out, collection.KV{Key: key, Value: strings.TrimSpace(value), Enabled: enabled})
	}
	return out, nil
}

func (a *app) newRequestImportCurlCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "import-curl <collection> <name> <curl command|->",
		Short: "Save a request parsed from a curl command line",
		Example: heredoc.Doc(`
			restbro request import-curl shop create-user \
			  "curl -X POST https://api.example.com/users --json '{\"name\":\"a\"}'"
			pbpaste | restbro request import-curl shop create-user -
		`),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := args[2]
			if command == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errdef.Wrap(errdef.CodeFilesystem, err, "read curl command from stdin")
				}
				command = string(data)
			}
			req, err := curl.Parse(command)
			if err != nil {
				return err
			}
			path := a.collectionPath(args[0])
			if _, err := a.collections.Load(path); err != nil {
				return err
			}
			saved, err := a.collections.SaveRequest(path, req, args[1], group)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s %s as %s\n", req.Method, req.URL, saved)
			return err
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "group to store the request in")
	return cmd
}

func (a *app) newRequestDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <request>",
		Short: "Delete a request by name, id or relative path",
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
			if err := a.collections.DeleteRequest(c.Path, req); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", req.Path)
			return err
		},
	}
}

func (a *app) newRequestMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <collection> <request> [group]",
		Short: "Move a request into a group, or to the collection root when group is omitted",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadCollection(args[0])
			if err != nil {
				return err
			}
			req, err := findRequest(c, args[1])
			if err != nil {
				return err
			}
			target := ""
			if len(args) == 3 {
				target = args[2]
			}
			moved, err := a.collections.MoveRequest(c.Path, req, target)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "moved to %s\n", moved)
			return err
		},
	}
}

func (a *app) newRequestListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List the requests of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadCollection(args[0])
			if err != nil {
				return err
			}
			rows := [][]string{{"METHOD", "NAME", "URL", "FILE"}}
			for _, r := range sortedRequests(c) {
				rel, _ := filepath.Rel(c.Path, r.Path)
				rows = append(rows, []string{r.Method, r.Name, r.URL, filepath.ToSlash(rel)})
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), a.styles.table(rows))
			return err
		},
	}
}

func sortedRequests(c *collection.Collection) []*collection.Request {
	all := c.AllRequests()
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })
	return all
}

// findRequest resolves ref as a request ID, a path relative to the
// collection ("group/name.toml" or "group/name"), or a unique request name.
func findRequest(c *collection.Collection, ref string) (collection.Request, error) {
	ref = strings.TrimSpace(ref)
	all := sortedRequests(c)
	for _, r := range all {
		if r.ID == ref {
			return r.Clone(), nil
		}
	}
	rel := filepath.FromSlash(ref)
	if !strings.EqualFold(filepath.Ext(rel), collection.RequestExt) {
		rel += collection.RequestExt
	}
	for _, r := range all {
		if r.Path == filepath.Join(c.Path, rel) {
			return r.Clone(), nil
		}
	}
	var matches []*collection.Request
	for _, r := range all {
		if r.Name == ref {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return collection.Request{}, errdef.New(errdef.CodeNotFound, "request %q not found in %s", ref, c.Name)
	case 1:
		return matches[0].Clone(), nil
	default:
		return collection.Request{}, errdef.New(errdef.CodeConflict, "request name %q is ambiguous; use group/name", ref)
	}
}

func lookupRequestInGroup(c *collection.Collection, name, group string) (collection.Request, bool) {
	dir := c.Path
	if strings.TrimSpace(group) != "" {
		dir = filepath.Join(c.Path, collection.SanitizeName(group))
	}
	path := filepath.Join(dir, collection.SanitizeName(name)+collection.RequestExt)
	for _, r := range c.AllRequests() {
		if r.Path == path {
			return r.Clone(), true
		}
	}
	return collection.Request{}, false
}

func (a *app) newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage request groups",
	}
	create := &cobra.Command{
		Use:   "create <collection> <name>",
		Short: "Create an empty group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.collectionPath(args[0])
			if _, err := a.collections.Load(path); err != nil {
				return err
			}
			dir, err := a.collections.CreateGroup(path, args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", dir)
			return err
		},
	}
	rename := &cobra.Command{
		Use:   "rename <collection> <old> <new>",
		Short: "Rename a group",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.collectionPath(args[0])
			if _, err := a.collections.Load(path); err != nil {
				return err
			}
			dir, err := a.collections.RenameGroup(path, args[1], args[2])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "renamed to %s\n", dir)
			return err
		},
	}
	del := &cobra.Command{
		Use:   "delete <collection> <name>",
		Short: "Delete a group and every request in it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.collectionPath(args[0])
			if _, err := a.collections.Load(path); err != nil {
				return err
			}
			if err := a.collections.DeleteGroup(path, args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted group %s\n", args[1])
			return err
		},
	}
	cmd.AddCommand(create, rename, del)
	return cmd
}

func (a *app) newCollectionCmd() *cobra.Command {
	var (
		description string
		envs        []string
	)
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a collection under the collections root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			dir := filepath.Join(a.settings.CollectionsRoot, collection.SanitizeName(name))
			if _, err := os.Stat(filepath.Join(dir, collection.DescriptorFile)); err == nil {
				return errdef.New(errdef.CodeConflict, "collection %s already exists", dir)
			}
			c := &collection.Collection{Name: name, Description: description}
			for _, env := range util.DedupeNonEmptyStrings(envs) {
				c.Environments = append(c.Environments, collection.Environment{
					Name:      env,
					Variables: map[string]collection.EnvironmentVariable{},
				})
			}
			if err := a.collections.SaveCollection(c, dir); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", dir)
			return err
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "collection description")
	cmd.Flags().StringSliceVar(&envs, "environments", nil, "environments to create (comma separated)")
	return cmd
}
