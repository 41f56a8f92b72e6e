package httpclient

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/unkn0wn-root/restbro/internal/errdef"
)

// decodeBody undoes a Content-Encoding the transport left in place, which
// happens whenever the request set its own Accept-Encoding. Unknown codings
// pass through untouched.
func decodeBody(encoding string, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	codings := strings.Split(encoding, ",")
	out := raw
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		var err error
		switch coding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			out, err = readAllFrom(gzip.NewReader(bytes.NewReader(out)))
		case "deflate":
			out, err = inflate(out)
		case "zstd":
			out, err = unzstd(out)
		default:
			return out, nil
		}
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeDecode, err, "decode %s response", coding)
		}
	}
	return out, nil
}

func readAllFrom(r io.ReadCloser, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// inflate accepts both zlib-wrapped and raw deflate streams; servers send both.
func inflate(data []byte) ([]byte, error) {
	if out, err := readAllFrom(zlib.NewReader(bytes.NewReader(data))); err == nil {
		return out, nil
	}
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

func unzstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
