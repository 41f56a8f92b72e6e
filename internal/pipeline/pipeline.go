// Package pipeline runs one request end to end: environment resolution,
// pre-request script, HTTP call and post-response script. Variables the
// scripts changed are returned for the caller to persist.
package pipeline

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/unkn0wn-root/restbro/internal/collection"
	"github.com/unkn0wn-root/restbro/internal/httpclient"
	"github.com/unkn0wn-root/restbro/internal/scripts"
	"github.com/unkn0wn-root/restbro/internal/secrets"
	"github.com/unkn0wn-root/restbro/internal/telemetry"
	"github.com/unkn0wn-root/restbro/internal/util"
	"github.com/unkn0wn-root/restbro/internal/vars"
	"github.com/unkn0wn-root/restbro/internal/varstore"
)

type Sender interface {
	Send(ctx context.Context, out httpclient.Outgoing) (*httpclient.Response, error)
}

type Input struct {
	Request        collection.Request
	CollectionName string
	// Environment selects one of Environments. Empty sends the request
	// without any substitution.
	Environment  string
	Environments []collection.Environment
}

type Result struct {
	// Response is set whenever a send was attempted. Transport failures
	// produce a synthetic response with StatusCode 0 and the error as body.
	Response      *httpclient.Response
	Dirty         map[string]string
	PostScriptErr error
	States        []State
}

type Option func(*Executor)

func WithLogger(logger *log.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.log = logger
		}
	}
}

func WithScriptRunner(r *scripts.Runner) Option {
	return func(e *Executor) {
		if r != nil {
			e.scripts = r
		}
	}
}

func WithTelemetry(instr telemetry.Instrumenter) Option {
	return func(e *Executor) {
		if instr != nil {
			e.telemetry = instr
		}
	}
}

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(e *Executor) {
		e.observer = fn
	}
}

type Executor struct {
	sender    Sender
	secrets   secrets.Reader
	scripts   *scripts.Runner
	telemetry telemetry.Instrumenter
	log       *log.Logger
	observer  func(State)
}

func New(sender Sender, reader secrets.Reader, opts ...Option) *Executor {
	e := &Executor{
		sender:    sender,
		secrets:   reader,
		telemetry: telemetry.Noop(),
		log:       log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scripts == nil {
		e.scripts = scripts.NewRunner(scripts.Options{Logger: e.log})
	}
	return e
}

type run struct {
	e      *Executor
	result Result
	span   telemetry.RequestSpan
	req    collection.Request
}

func (r *run) enter(s State) {
	r.result.States = append(r.result.States, s)
	r.span.Stage(s.String())
	r.e.log.Debug("pipeline state", "request", r.req.Name, "state", s)
	if r.e.observer != nil {
		r.e.observer(s)
	}
}

// Execute runs in.Request. It returns the error of the stage that failed;
// Result still carries whatever was produced before that point. Variables
// dirtied before a failure or cancellation stay in Result.Dirty.
func (e *Executor) Execute(ctx context.Context, in Input) (res Result, err error) {
	r := &run{e: e, req: in.Request.Clone()}
	ctx, r.span = e.telemetry.Start(ctx, telemetry.RequestStart{
		Collection:  in.CollectionName,
		Environment: in.Environment,
		RequestName: in.Request.Name,
		Method:      in.Request.Method,
		URL:         in.Request.URL,
	})
	store := varstore.New()
	defer func() {
		r.result.Dirty = store.Dirty()
		status := 0
		if r.result.Response != nil {
			status = r.result.Response.StatusCode
		}
		r.span.End(telemetry.RequestResult{Err: err, StatusCode: status, Dirty: len(r.result.Dirty)})
		res = r.result
	}()

	r.enter(Idle)

	r.enter(ResolvingVariables)
	if in.Environment != "" {
		variables, secretValues, err := vars.LoadEnvironmentData(ctx, in.CollectionName, in.Environment, in.Environments, e.secrets)
		if err != nil {
			r.enter(Failed)
			return r.result, err
		}
		store.InitializeWithEnv(variables, secretValues)
		r.req = vars.ResolveRequest(r.req, variables, secretValues)
	}

	r.enter(PreScript)
	if strings.TrimSpace(r.req.PreRequestScript) != "" {
		out, err := e.scripts.RunPreRequest(ctx, r.req.PreRequestScript, scriptRequest(r.req), store)
		if err != nil {
			r.enter(Failed)
			return r.result, err
		}
		r.req.URL = out.URL
		r.req.Body = out.Body
		r.req.Headers = headersFromScript(out.Headers)
	}

	r.enter(Sending)
	resp, err := e.sender.Send(ctx, httpclient.Outgoing{
		Method:      r.req.Method,
		URL:         r.req.URL,
		Headers:     r.req.Headers,
		Body:        r.req.Body,
		QueryParams: r.req.QueryParams,
		PathParams:  r.req.PathParams,
	})
	if err != nil {
		r.result.Response = &httpclient.Response{
			Body:         []byte(err.Error()),
			Size:         int64(len(err.Error())),
			EffectiveURL: r.req.URL,
		}
		r.enter(Failed)
		return r.result, err
	}
	r.result.Response = resp

	r.enter(ResponseReceived)

	r.enter(PostScript)
	if strings.TrimSpace(r.req.PostResponseScript) != "" {
		err := e.scripts.RunPostResponse(ctx, r.req.PostResponseScript, scriptRequest(r.req), scriptResponse(resp), store)
		if err != nil {
			r.result.PostScriptErr = err
			r.enter(Failed)
			return r.result, err
		}
	}

	r.enter(Completed)
	return r.result, nil
}

func scriptRequest(req collection.Request) scripts.ScriptRequest {
	return scripts.ScriptRequest{
		Method:  req.Method,
		URL:     req.URL,
		Body:    req.Body,
		Headers: enabledMap(req.Headers),
		Query:   enabledMap(req.QueryParams),
	}
}

func enabledMap(list []collection.KV) map[string]string {
	out := make(map[string]string, len(list))
	for _, kv := range list {
		if kv.Enabled && strings.TrimSpace(kv.Key) != "" {
			out[kv.Key] = kv.Value
		}
	}
	return out
}

// headersFromScript turns the script's header object into the request's new
// header list. The old list, disabled entries included, is dropped.
func headersFromScript(headers map[string]string) []collection.KV {
	out := make([]collection.KV, 0, len(headers))
	for _, k := range util.SortedKeys(headers) {
		out = append(out, collection.KV{Key: k, Value: headers[k], Enabled: true})
	}
	return out
}

func scriptResponse(resp *httpclient.Response) scripts.ScriptResponse {
	headers := make(map[string]string, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = strings.Join(v, ", ")
	}
	return scripts.ScriptResponse{
		Status:     resp.StatusCode,
		StatusText: reasonPhrase(resp),
		Body:       string(resp.Body),
		Headers:    headers,
		Latency:    resp.Duration,
		Size:       resp.Size,
	}
}

func reasonPhrase(resp *httpclient.Response) string {
	if text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); text != resp.Status {
		return text
	}
	if resp.Status != "" {
		return resp.Status
	}
	return http.StatusText(resp.StatusCode)
}
