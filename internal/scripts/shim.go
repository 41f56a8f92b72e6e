package scripts

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// bindShim installs the browser and node helpers scripts copied from other
// clients tend to rely on: btoa, atob and a minimal Buffer.
func bindShim(vm *goja.Runtime) error {
	if err := vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	}); err != nil {
		return err
	}
	if err := vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		data, err := decodeBase64(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(string(data))
	}); err != nil {
		return err
	}

	buffer := vm.NewObject()
	_ = buffer.Set("from", func(call goja.FunctionCall) goja.Value {
		enc := "utf8"
		if arg := call.Argument(1); !isNullish(arg) {
			enc = arg.String()
		}
		data, err := decodeBytes(call.Argument(0).String(), enc)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return newBuffer(vm, data)
	})
	return vm.Set("Buffer", buffer)
}

func newBuffer(vm *goja.Runtime, data []byte) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("length", len(data))
	_ = obj.Set("toString", func(call goja.FunctionCall) goja.Value {
		enc := "utf8"
		if arg := call.Argument(0); !isNullish(arg) {
			enc = arg.String()
		}
		out, err := encodeBytes(data, enc)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(out)
	})
	return obj
}

func decodeBytes(value, enc string) ([]byte, error) {
	switch normalizeEncoding(enc) {
	case "utf8":
		return []byte(value), nil
	case "base64":
		return decodeBase64(value)
	case "hex":
		return hex.DecodeString(value)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}

func encodeBytes(data []byte, enc string) (string, error) {
	switch normalizeEncoding(enc) {
	case "utf8":
		return string(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	case "hex":
		return hex.EncodeToString(data), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", enc)
	}
}

func normalizeEncoding(enc string) string {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "utf8", "utf-8":
		return "utf8"
	default:
		return strings.ToLower(strings.TrimSpace(enc))
	}
}

// decodeBase64 accepts padded and unpadded input.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
