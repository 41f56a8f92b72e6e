package collection

import (
	"strings"
)

const (
	DescriptorFile = "collection.toml"
	RequestExt     = ".toml"

	environmentsDir = "environments"
	defaultVersion  = "1"
	defaultType     = "collection"
)

var methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

func Methods() []string {
	return append([]string(nil), methods...)
}

func ValidMethod(method string) bool {
	upper := strings.ToUpper(strings.TrimSpace(method))
	for _, m := range methods {
		if m == upper {
			return true
		}
	}
	return false
}

type KV struct {
	Key     string `toml:"key"`
	Value   string `toml:"value"`
	Enabled bool   `toml:"enabled"`
}

// Request is one request file. Path is the identity on disk and is never
// serialized; ID is a stable identifier that survives renames and moves.
type Request struct {
	ID                 string `toml:"id,omitempty"`
	Name               string `toml:"name"`
	Method             string `toml:"method"`
	URL                string `toml:"url"`
	Headers            []KV   `toml:"headers,omitempty"`
	QueryParams        []KV   `toml:"query_params,omitempty"`
	PathParams         []KV   `toml:"path_params,omitempty"`
	Body               string `toml:"body,multiline,omitempty"`
	PreRequestScript   string `toml:"pre_request_script,multiline,omitempty"`
	PostResponseScript string `toml:"post_response_script,multiline,omitempty"`

	Path string `toml:"-"`
}

func (r Request) Clone() Request {
	out := r
	out.Headers = cloneKVs(r.Headers)
	out.QueryParams = cloneKVs(r.QueryParams)
	out.PathParams = cloneKVs(r.PathParams)
	return out
}

// Compact drops empty header and parameter lists, matching what a decoded
// request file yields.
func (r *Request) Compact() {
	if len(r.Headers) == 0 {
		r.Headers = nil
	}
	if len(r.QueryParams) == 0 {
		r.QueryParams = nil
	}
	if len(r.PathParams) == 0 {
		r.PathParams = nil
	}
}

// Matches reports structural equality on the (name, method, url) triple used
// to locate requests that predate stable IDs.
func (r Request) Matches(other Request) bool {
	return r.Name == other.Name &&
		strings.EqualFold(r.Method, other.Method) &&
		r.URL == other.URL
}

func cloneKVs(in []KV) []KV {
	if in == nil {
		return nil
	}
	return append([]KV(nil), in...)
}

type Group struct {
	Name         string
	RelativePath string
	Requests     map[string]*Request
}

func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	return &Group{
		Name:         g.Name,
		RelativePath: g.RelativePath,
		Requests:     cloneRequests(g.Requests),
	}
}

type EnvironmentVariable struct {
	Value     string `toml:"value,omitempty"`
	Secret    bool   `toml:"secret,omitempty"`
	Temporary bool   `toml:"temporary,omitempty"`
}

type Environment struct {
	Name      string                         `toml:"name"`
	Variables map[string]EnvironmentVariable `toml:"variables,omitempty"`
}

func (e Environment) Clone() Environment {
	out := Environment{Name: e.Name}
	if e.Variables != nil {
		out.Variables = make(map[string]EnvironmentVariable, len(e.Variables))
		for k, v := range e.Variables {
			out.Variables[k] = v
		}
	}
	return out
}

// Collection is a directory on disk. Path is its primary key; Requests holds
// root-level requests keyed by file path and Groups is keyed by relative path.
type Collection struct {
	Name         string        `toml:"name"`
	Version      string        `toml:"version,omitempty"`
	Type         string        `toml:"type,omitempty"`
	Description  string        `toml:"description,omitempty"`
	Ignore       []string      `toml:"ignore,omitempty"`
	Environments []Environment `toml:"environments,omitempty"`

	Path     string              `toml:"-"`
	Requests map[string]*Request `toml:"-"`
	Groups   map[string]*Group   `toml:"-"`
}

func (c *Collection) Clone() *Collection {
	if c == nil {
		return nil
	}
	out := &Collection{
		Name:        c.Name,
		Version:     c.Version,
		Type:        c.Type,
		Description: c.Description,
		Path:        c.Path,
		Requests:    cloneRequests(c.Requests),
	}
	if c.Ignore != nil {
		out.Ignore = append([]string(nil), c.Ignore...)
	}
	if c.Environments != nil {
		out.Environments = make([]Environment, len(c.Environments))
		for i, env := range c.Environments {
			out.Environments[i] = env.Clone()
		}
	}
	if c.Groups != nil {
		out.Groups = make(map[string]*Group, len(c.Groups))
		for k, g := range c.Groups {
			out.Groups[k] = g.Clone()
		}
	}
	return out
}

// Compact drops empty ignore lists, environment lists and variable maps. The
// descriptor format cannot tell them apart from absent ones, so this is the
// form a collection takes after a trip through disk.
func (c *Collection) Compact() {
	if c == nil {
		return
	}
	if len(c.Ignore) == 0 {
		c.Ignore = nil
	}
	if len(c.Environments) == 0 {
		c.Environments = nil
	}
	for i := range c.Environments {
		if len(c.Environments[i].Variables) == 0 {
			c.Environments[i].Variables = nil
		}
	}
}

func (c *Collection) Environment(name string) (Environment, bool) {
	if c == nil {
		return Environment{}, false
	}
	for _, env := range c.Environments {
		if env.Name == name {
			return env, true
		}
	}
	return Environment{}, false
}

func (c *Collection) environmentIndex(name string) int {
	for i, env := range c.Environments {
		if env.Name == name {
			return i
		}
	}
	return -1
}

// AllRequests flattens root and group requests; used for reporting only.
func (c *Collection) AllRequests() []*Request {
	if c == nil {
		return nil
	}
	var out []*Request
	for _, r := range c.Requests {
		out = append(out, r)
	}
	for _, g := range c.Groups {
		for _, r := range g.Requests {
			out = append(out, r)
		}
	}
	return out
}

func cloneRequests(in map[string]*Request) map[string]*Request {
	out := make(map[string]*Request, len(in))
	for k, r := range in {
		if r == nil {
			continue
		}
		clone := r.Clone()
		out[k] = &clone
	}
	return out
}

// SanitizeName maps filesystem-unsafe characters to '_' and trims spaces.
func SanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_",
		`\`, "_", "|", "_", "?", "_", "*", "_",
	)
	return strings.TrimSpace(replacer.Replace(name))
}
