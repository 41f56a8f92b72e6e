// Package vars substitutes {{name}} placeholders in requests with values from
// an environment and its secrets.
package vars

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/restbro/internal/collection"
	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/secrets"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// ResolveString replaces each {{name}} in input. A variables pass runs
// first and a secrets pass second, so a variable holding "Bearer {{token}}"
// picks up the secret token. A name defined in both maps resolves to the
// secret. Unknown names are left verbatim; a broken template never blocks a
// send. Placeholders starting with '$' that neither map defines are then
// expanded as dynamic values ($uuid, $timestamp, $timestampISO8601,
// $randomInt).
func ResolveString(input string, variables, secretValues map[string]string) string {
	out := substitute(input, func(name string) (string, bool) {
		if _, shadowed := secretValues[name]; shadowed {
			return "", false
		}
		v, ok := variables[name]
		return v, ok
	})
	out = substitute(out, func(name string) (string, bool) {
		v, ok := secretValues[name]
		return v, ok
	})
	return substitute(out, func(name string) (string, bool) {
		return resolveDynamic(strings.TrimSpace(name))
	})
}

func substitute(input string, lookup func(name string) (string, bool)) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		if v, ok := lookup(match[2 : len(match)-2]); ok {
			return v
		}
		return match
	})
}

// ResolveRequest returns a copy of req with URL, body and every enabled
// header, query and path parameter resolved. Disabled entries pass through.
func ResolveRequest(req collection.Request, variables, secretValues map[string]string) collection.Request {
	out := req.Clone()
	out.URL = ResolveString(out.URL, variables, secretValues)
	out.Body = ResolveString(out.Body, variables, secretValues)
	resolveKVs(out.Headers, variables, secretValues)
	resolveKVs(out.QueryParams, variables, secretValues)
	resolveKVs(out.PathParams, variables, secretValues)
	return out
}

func resolveKVs(list []collection.KV, variables, secretValues map[string]string) {
	for i := range list {
		if !list[i].Enabled {
			continue
		}
		list[i].Key = ResolveString(list[i].Key, variables, secretValues)
		list[i].Value = ResolveString(list[i].Value, variables, secretValues)
	}
}

// LoadEnvironmentData splits the named environment into plain values and
// secret values fetched from reader. Temporary variables are skipped, missing
// secrets are omitted and an unknown environment yields empty maps.
func LoadEnvironmentData(
	ctx context.Context,
	collectionName, envName string,
	envs []collection.Environment,
	reader secrets.Reader,
) (map[string]string, map[string]string, error) {
	variables := make(map[string]string)
	secretValues := make(map[string]string)

	var env *collection.Environment
	for i := range envs {
		if envs[i].Name == envName {
			env = &envs[i]
			break
		}
	}
	if env == nil {
		return variables, secretValues, nil
	}

	for name, v := range env.Variables {
		if v.Temporary {
			continue
		}
		if !v.Secret {
			variables[name] = v.Value
			continue
		}
		if reader == nil {
			continue
		}
		key := collection.SecretKey(collectionName, envName, name)
		value, ok, err := reader.Read(ctx, key)
		if err != nil {
			return nil, nil, errdef.Wrap(errdef.CodeSecret, err, "read secret %s", key)
		}
		if ok {
			secretValues[name] = string(value)
		}
	}
	return variables, secretValues, nil
}

func resolveDynamic(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "$timestamp":
		return fmt.Sprintf("%d", time.Now().Unix()), true
	case "$timestampiso8601":
		return time.Now().UTC().Format(time.RFC3339), true
	case "$randomint":
		n, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
		return n.String(), true
	case "$uuid", "$guid":
		return uuid.NewString(), true
	default:
		return "", false
	}
}
