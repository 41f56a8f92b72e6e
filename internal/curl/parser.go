// Package curl turns a pasted curl command line into a collection request.
package curl

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/restbro/internal/collection"
	"github.com/unkn0wn-root/restbro/internal/errdef"
)

const (
	headerContentType = "Content-Type"
	contentTypeForm   = "application/x-www-form-urlencoded"
	contentTypeJSON   = "application/json"
	contentTypeMulti  = "multipart/form-data"
)

type optKind int

const (
	optNone optKind = iota
	optVal
)

type optFn func(*state, string) error

type optDef struct {
	kind optKind
	fn   optFn
}

var longDefs = map[string]optDef{
	"request":        {optVal, optMethod},
	"header":         {optVal, optHeader},
	"user":           {optVal, optUser},
	"user-agent":     {optVal, optHeaderKey("User-Agent")},
	"referer":        {optVal, optHeaderKey("Referer")},
	"cookie":         {optVal, optHeaderKey("Cookie")},
	"url":            {optVal, optURL},
	"json":           {optVal, optJSON},
	"data":           {optVal, optData(false)},
	"data-ascii":     {optVal, optData(false)},
	"data-raw":       {optVal, optData(false)},
	"data-binary":    {optVal, optData(false)},
	"data-urlencode": {optVal, optData(true)},
	"form":           {optVal, optForm},
	"form-string":    {optVal, optForm},
	"get":            {optNone, optGet},
	"head":           {optNone, optHead},
	"compressed":     {optNone, optCompressed},

	// accepted for compatibility; they configure curl itself
	"location":        {optNone, ignore},
	"insecure":        {optNone, ignore},
	"silent":          {optNone, ignore},
	"show-error":      {optNone, ignore},
	"verbose":         {optNone, ignore},
	"include":         {optNone, ignore},
	"fail":            {optNone, ignore},
	"http1.1":         {optNone, ignore},
	"http2":           {optNone, ignore},
	"output":          {optVal, ignore},
	"max-time":        {optVal, ignore},
	"connect-timeout": {optVal, ignore},
	"proxy":           {optVal, ignore},
	"max-redirs":      {optVal, ignore},
}

var shortDefs = map[byte]string{
	'X': "request",
	'H': "header",
	'u': "user",
	'A': "user-agent",
	'e': "referer",
	'b': "cookie",
	'd': "data",
	'F': "form",
	'G': "get",
	'I': "head",
	'L': "location",
	'k': "insecure",
	's': "silent",
	'S': "show-error",
	'v': "verbose",
	'i': "include",
	'f': "fail",
	'o': "output",
	'm': "max-time",
	'x': "proxy",
}

type state struct {
	req      collection.Request
	rawURL   string
	data     []string
	form     []string
	get      bool
	head     bool
	jsonBody bool
}

// Parse converts a curl command into a request. The leading "curl" word is
// optional. Options that only affect curl's own behaviour are ignored.
func Parse(command string) (collection.Request, error) {
	tokens, err := splitTokens(strings.TrimSpace(command))
	if err != nil {
		return collection.Request{}, errdef.Wrap(errdef.CodeParse, err, "tokenize curl command")
	}
	if len(tokens) > 0 && (tokens[0] == "curl" || strings.HasSuffix(tokens[0], "/curl")) {
		tokens = tokens[1:]
	}

	st := &state{}
	endOfOpts := false
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if endOfOpts || !strings.HasPrefix(tok, "-") || tok == "-" {
			if err := optURL(st, tok); err != nil {
				return collection.Request{}, err
			}
			continue
		}
		if tok == "--" {
			endOfOpts = true
			continue
		}

		if !strings.HasPrefix(tok, "--") {
			consumed, err := st.applyShort(tok, tokens[i+1:])
			if err != nil {
				return collection.Request{}, err
			}
			i += consumed
			continue
		}

		name, value, hasValue := strings.Cut(tok[2:], "=")
		def, ok := longDefs[name]
		if !ok {
			return collection.Request{}, errdef.New(errdef.CodeParse, "unsupported curl option %s", tok)
		}
		if def.kind == optVal && !hasValue {
			if i+1 >= len(tokens) {
				return collection.Request{}, errdef.New(errdef.CodeParse, "option %s needs a value", tok)
			}
			i++
			value = tokens[i]
		}
		if err := def.fn(st, value); err != nil {
			return collection.Request{}, err
		}
	}
	return st.finish()
}

// applyShort handles a bundle such as -sSL or -XPOST and reports how many of
// the following tokens it consumed as a value.
func (st *state) applyShort(tok string, rest []string) (int, error) {
	for j := 1; j < len(tok); j++ {
		long, ok := shortDefs[tok[j]]
		if !ok {
			return 0, errdef.New(errdef.CodeParse, "unsupported curl option -%c", tok[j])
		}
		def := longDefs[long]
		if def.kind == optNone {
			if err := def.fn(st, ""); err != nil {
				return 0, err
			}
			continue
		}
		if j+1 < len(tok) {
			return 0, def.fn(st, tok[j+1:])
		}
		if len(rest) == 0 {
			return 0, errdef.New(errdef.CodeParse, "option -%c needs a value", tok[j])
		}
		return 1, def.fn(st, rest[0])
	}
	return 0, nil
}

func (st *state) finish() (collection.Request, error) {
	if st.rawURL == "" {
		return collection.Request{}, errdef.New(errdef.CodeParse, "curl command has no URL")
	}
	req := st.req
	req.URL = st.rawURL

	switch {
	case st.head:
		req.Method = "HEAD"
	case req.Method == "" && (len(st.data) > 0 || len(st.form) > 0) && !st.get:
		req.Method = "POST"
	case req.Method == "":
		req.Method = "GET"
	}
	req.Method = strings.ToUpper(req.Method)

	switch {
	case st.get && len(st.data) > 0:
		for _, d := range st.data {
			for _, pair := range strings.Split(d, "&") {
				if pair == "" {
					continue
				}
				key, value, _ := strings.Cut(pair, "=")
				req.QueryParams = append(req.QueryParams, collection.KV{Key: key, Value: value, Enabled: true})
			}
		}
	case len(st.form) > 0:
		req.Body = strings.Join(st.form, "&")
		setDefaultHeader(&req, headerContentType, contentTypeMulti)
	case len(st.data) > 0:
		req.Body = strings.Join(st.data, "&")
		if st.jsonBody {
			setDefaultHeader(&req, headerContentType, contentTypeJSON)
			setDefaultHeader(&req, "Accept", contentTypeJSON)
		} else {
			setDefaultHeader(&req, headerContentType, contentTypeForm)
		}
	}
	return req, nil
}

func setDefaultHeader(req *collection.Request, name, value string) {
	for _, h := range req.Headers {
		if strings.EqualFold(h.Key, name) {
			return
		}
	}
	req.Headers = append(req.Headers, collection.KV{Key: name, Value: value, Enabled: true})
}

func optMethod(st *state, v string) error {
	st.req.Method = strings.TrimSpace(v)
	return nil
}

func optHeader(st *state, v string) error {
	name, value, ok := strings.Cut(v, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return errdef.New(errdef.CodeParse, "malformed header %q", v)
	}
	st.req.Headers = append(st.req.Headers, collection.KV{Key: name, Value: strings.TrimSpace(value), Enabled: true})
	return nil
}

func optHeaderKey(name string) optFn {
	return func(st *state, v string) error {
		st.req.Headers = append(st.req.Headers, collection.KV{Key: name, Value: v, Enabled: true})
		return nil
	}
}

func optUser(st *state, v string) error {
	token := base64.StdEncoding.EncodeToString([]byte(v))
	return optHeaderKey("Authorization")(st, "Basic "+token)
}

func optURL(st *state, v string) error {
	if st.rawURL != "" {
		return errdef.New(errdef.CodeParse, "multiple URLs are not supported")
	}
	if !strings.Contains(v, "://") && !strings.Contains(v, "{{") {
		v = "http://" + v
	}
	st.rawURL = v
	return nil
}

func optJSON(st *state, v string) error {
	st.jsonBody = true
	st.data = append(st.data, v)
	return nil
}

func optData(encode bool) optFn {
	return func(st *state, v string) error {
		if encode {
			v = urlEncodeData(v)
		}
		st.data = append(st.data, v)
		return nil
	}
}

// urlEncodeData follows curl's --data-urlencode forms: "content",
// "=content" and "name=content".
func urlEncodeData(v string) string {
	name, content, ok := strings.Cut(v, "=")
	if !ok {
		return url.QueryEscape(v)
	}
	if name == "" {
		return url.QueryEscape(content)
	}
	return name + "=" + url.QueryEscape(content)
}

func optForm(st *state, v string) error {
	if !strings.Contains(v, "=") {
		return errdef.New(errdef.CodeParse, "malformed form field %q", v)
	}
	st.form = append(st.form, v)
	return nil
}

func optGet(st *state, _ string) error {
	st.get = true
	return nil
}

func optHead(st *state, _ string) error {
	st.head = true
	return nil
}

func optCompressed(st *state, _ string) error {
	return optHeaderKey("Accept-Encoding")(st, "gzip, deflate, zstd")
}

func ignore(*state, string) error {
	return nil
}
