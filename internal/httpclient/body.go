package httpclient

import (
	"bytes"
	"mime"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/unkn0wn-root/restbro/internal/errdef"
)

const (
	formURLEncoded = "application/x-www-form-urlencoded"
	formMultipart  = "multipart/form-data"
)

type formField struct {
	key   string
	value string
}

// prepareBody returns the bytes to send and, when it rewrote the body as
// multipart, the content type carrying the boundary. Everything that is not
// a form with @path values, or a multipart form lacking a boundary, goes out
// verbatim.
func (c *Client) prepareBody(body, contentType string) ([]byte, string, error) {
	mediaType, boundary := "", ""
	if contentType != "" {
		if mt, params, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = strings.ToLower(mt)
			boundary = params["boundary"]
		}
	}
	if mediaType != formURLEncoded && mediaType != formMultipart {
		return []byte(body), "", nil
	}

	fields := parseFormFields(body)
	hasFile := false
	for _, f := range fields {
		if isFileRef(f.value) {
			hasFile = true
			break
		}
	}
	if !hasFile && (mediaType != formMultipart || boundary != "") {
		return []byte(body), "", nil
	}
	return c.buildMultipart(fields)
}

// parseFormFields splits key=value pairs separated by '&' or newlines.
func parseFormFields(body string) []formField {
	var fields []formField
	for _, line := range strings.Split(body, "\n") {
		for _, pair := range strings.Split(line, "&") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			key, value, _ := strings.Cut(pair, "=")
			fields = append(fields, formField{key: unescape(key), value: unescape(value)})
		}
	}
	return fields
}

func unescape(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}
	return s
}

func isFileRef(value string) bool {
	return strings.HasPrefix(value, "@") && len(strings.TrimSpace(value)) > 1
}

func (c *Client) buildMultipart(fields []formField) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if !isFileRef(f.value) {
			if err := w.WriteField(f.key, f.value); err != nil {
				return nil, "", errdef.Wrap(errdef.CodeRequestBuild, err, "write form field %s", f.key)
			}
			continue
		}
		path := strings.TrimSpace(f.value[1:])
		data, err := c.fs.ReadFile(path)
		if err != nil {
			// unreadable file: send the token as typed
			if err := w.WriteField(f.key, f.value); err != nil {
				return nil, "", errdef.Wrap(errdef.CodeRequestBuild, err, "write form field %s", f.key)
			}
			continue
		}
		part, err := w.CreateFormFile(f.key, filepath.Base(path))
		if err != nil {
			return nil, "", errdef.Wrap(errdef.CodeRequestBuild, err, "create form file %s", f.key)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", errdef.Wrap(errdef.CodeRequestBuild, err, "write form file %s", f.key)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errdef.Wrap(errdef.CodeRequestBuild, err, "close multipart body")
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
