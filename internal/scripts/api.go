package scripts

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"

	"github.com/unkn0wn-root/restbro/internal/varstore"
)

func requestObject(vm *goja.Runtime, req ScriptRequest) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("method", req.Method)
	_ = obj.Set("url", req.URL)
	_ = obj.Set("body", req.Body)
	_ = obj.Set("headers", stringsObject(vm, req.Headers))
	_ = obj.Set("query", stringsObject(vm, req.Query))
	return obj
}

func responseObject(vm *goja.Runtime, resp ScriptResponse) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("status", resp.Status)
	_ = obj.Set("statusText", resp.StatusText)
	_ = obj.Set("headers", stringsObject(vm, resp.Headers))
	_ = obj.Set("latency", resp.Latency.Milliseconds())
	_ = obj.Set("size", resp.Size)

	body := vm.ToValue(resp.Body)
	if isJSON(resp.Headers) {
		if parsed, ok := parseJSON(vm, resp.Body); ok {
			body = parsed
		}
	}
	_ = obj.Set("body", body)
	return obj
}

func isJSON(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "content-type") && strings.Contains(strings.ToLower(v), "application/json") {
			return true
		}
	}
	return false
}

// parseJSON goes through the runtime's own JSON.parse so scripts get plain
// JS objects and arrays.
func parseJSON(vm *goja.Runtime, body string) (goja.Value, bool) {
	jsonObj := vm.Get("JSON")
	if isNullish(jsonObj) {
		return nil, false
	}
	parse, ok := goja.AssertFunction(jsonObj.ToObject(vm).Get("parse"))
	if !ok {
		return nil, false
	}
	v, err := parse(jsonObj, vm.ToValue(body))
	if err != nil {
		return nil, false
	}
	return v, true
}

func stringsObject(vm *goja.Runtime, values map[string]string) *goja.Object {
	obj := vm.NewObject()
	for k, v := range values {
		_ = obj.Set(k, v)
	}
	return obj
}

// broObject exposes the execution's variable store. It is the only way a
// script changes environment state.
func broObject(vm *goja.Runtime, store *varstore.Store) *goja.Object {
	if store == nil {
		store = varstore.New()
	}
	obj := vm.NewObject()
	_ = obj.Set("setEnvVar", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if strings.TrimSpace(name) == "" || goja.IsUndefined(call.Argument(0)) {
			panic(vm.NewTypeError("setEnvVar requires a variable name"))
		}
		store.Set(name, call.Argument(1).Export())
		return goja.Undefined()
	})
	_ = obj.Set("getEnvVar", func(call goja.FunctionCall) goja.Value {
		v, ok := store.Get(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(v)
	})
	_ = obj.Set("hasEnvVar", func(call goja.FunctionCall) goja.Value {
		_, ok := store.Get(call.Argument(0).String())
		return vm.ToValue(ok)
	})
	return obj
}

func bindCommon(vm *goja.Runtime, logger *log.Logger) error {
	printer := func(level log.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, consoleString(arg))
			}
			logger.Log(level, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	console := vm.NewObject()
	_ = console.Set("log", printer(log.InfoLevel))
	_ = console.Set("info", printer(log.InfoLevel))
	_ = console.Set("debug", printer(log.DebugLevel))
	_ = console.Set("warn", printer(log.WarnLevel))
	_ = console.Set("error", printer(log.ErrorLevel))
	if err := vm.Set("console", console); err != nil {
		return err
	}
	return bindShim(vm)
}

func consoleString(v goja.Value) string {
	if isNullish(v) {
		return v.String()
	}
	switch v.Export().(type) {
	case map[string]interface{}, []interface{}:
		return varstore.Stringify(v.Export())
	}
	return v.String()
}
