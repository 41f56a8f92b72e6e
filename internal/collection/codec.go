package collection

import (
	"bytes"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/unkn0wn-root/restbro/internal/errdef"
)

// EncodeCollection renders the descriptor. Secret values are blanked: their
// canonical copy lives in the secret store.
func EncodeCollection(c *Collection) ([]byte, error) {
	if c == nil {
		return nil, errdef.New(errdef.CodeParse, "collection is nil")
	}
	desc := c.Clone()
	desc.Requests = nil
	desc.Groups = nil
	for i := range desc.Environments {
		for name, v := range desc.Environments[i].Variables {
			if v.Secret {
				v.Value = ""
				desc.Environments[i].Variables[name] = v
			}
		}
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(desc); err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "encode collection %q", c.Name)
	}
	return buf.Bytes(), nil
}

func DecodeCollection(data []byte) (*Collection, error) {
	var c Collection
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "decode collection descriptor")
	}
	if strings.TrimSpace(c.Version) == "" {
		c.Version = defaultVersion
	}
	if strings.TrimSpace(c.Type) == "" {
		c.Type = defaultType
	}
	c.Compact()
	c.Requests = make(map[string]*Request)
	c.Groups = make(map[string]*Group)
	return &c, nil
}

func EncodeRequest(r Request) ([]byte, error) {
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(r); err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "encode request %q", r.Name)
	}
	return buf.Bytes(), nil
}

func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := toml.Unmarshal(data, &r); err != nil {
		return Request{}, errdef.Wrap(errdef.CodeParse, err, "decode request")
	}
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = "GET"
	}
	if !ValidMethod(r.Method) {
		return Request{}, errdef.New(errdef.CodeParse, "unsupported method %q", r.Method)
	}
	r.Compact()
	return r, nil
}
