// Package scripts runs user supplied pre-request and post-response
// JavaScript in a fresh goja runtime per call.
package scripts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"

	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/varstore"
)

// ScriptRequest is what scripts see as req. After a pre-request script only
// URL, Headers and Body are read back.
type ScriptRequest struct {
	Method  string
	URL     string
	Body    string
	Headers map[string]string
	Query   map[string]string
}

func (r ScriptRequest) Clone() ScriptRequest {
	out := r
	out.Headers = cloneStrings(r.Headers)
	out.Query = cloneStrings(r.Query)
	return out
}

// ScriptResponse is what post-response scripts see as res.
type ScriptResponse struct {
	Status     int
	StatusText string
	Body       string
	Headers    map[string]string
	Latency    time.Duration
	Size       int64
}

type Options struct {
	Logger *log.Logger
	// Timeout bounds a single script run. Zero means no limit.
	Timeout time.Duration
}

type Runner struct {
	log     *log.Logger
	timeout time.Duration
}

func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{log: logger, timeout: opts.Timeout}
}

// RunPreRequest runs script with req and bro bound and returns req with the
// url, headers and body the script left behind. Headers are taken as a fresh
// set: anything the script removed is gone.
func (r *Runner) RunPreRequest(
	ctx context.Context,
	script string,
	req ScriptRequest,
	store *varstore.Store,
) (ScriptRequest, error) {
	if strings.TrimSpace(script) == "" {
		return req, nil
	}

	var reqObj *goja.Object
	err := r.run(ctx, StagePreRequest, script, func(vm *goja.Runtime) error {
		reqObj = requestObject(vm, req)
		if err := vm.Set("req", reqObj); err != nil {
			return err
		}
		return vm.Set("bro", broObject(vm, store))
	})
	if err != nil {
		return req, err
	}

	out := req.Clone()
	if v := reqObj.Get("url"); !isNullish(v) {
		out.URL = v.String()
	}
	if v := reqObj.Get("body"); !isNullish(v) {
		out.Body = exportString(v)
	}
	out.Headers = exportHeaders(reqObj.Get("headers"))
	return out, nil
}

// RunPostResponse runs script with req, res and bro bound. res.body is parsed
// when the response declares a JSON content type.
func (r *Runner) RunPostResponse(
	ctx context.Context,
	script string,
	req ScriptRequest,
	resp ScriptResponse,
	store *varstore.Store,
) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	return r.run(ctx, StagePostResponse, script, func(vm *goja.Runtime) error {
		if err := vm.Set("req", requestObject(vm, req)); err != nil {
			return err
		}
		if err := vm.Set("res", responseObject(vm, resp)); err != nil {
			return err
		}
		return vm.Set("bro", broObject(vm, store))
	})
}

func (r *Runner) run(
	ctx context.Context,
	stage Stage,
	script string,
	bind func(vm *goja.Runtime) error,
) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	parent := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	vm := goja.New()
	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				vm.Interrupt(ctx.Err())
			case <-stop:
			}
		}()
	}

	if err := bindCommon(vm, r.log.With("stage", string(stage))); err != nil {
		return errdef.Wrap(errdef.CodeScript, err, "bind host api")
	}
	if err := bind(vm); err != nil {
		return errdef.Wrap(errdef.CodeScript, err, "bind %s api", stage)
	}

	_, err := vm.RunScript(stage.filename(), script)
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if perr := parent.Err(); perr != nil {
			return perr
		}
		return stage.wrap(&Error{
			Stage:   stage,
			Message: fmt.Sprintf("script exceeded %s", r.timeout),
			Excerpt: excerpt(script, err),
		})
	}
	return stage.wrap(newError(stage, script, err))
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func exportString(v goja.Value) string {
	if isNullish(v) {
		return ""
	}
	return varstore.Stringify(v.Export())
}

func exportHeaders(v goja.Value) map[string]string {
	out := make(map[string]string)
	if isNullish(v) {
		return out
	}
	m, ok := v.Export().(map[string]interface{})
	if !ok {
		return out
	}
	for k, val := range m {
		if val == nil {
			continue
		}
		out[k] = varstore.Stringify(val)
	}
	return out
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
