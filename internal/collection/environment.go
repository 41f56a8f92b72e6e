package collection

import (
	"context"
	"strings"

	"github.com/joho/godotenv"

	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/secrets"
	"github.com/unkn0wn-root/restbro/internal/util"
)

func SecretKey(collectionName, environment, variable string) secrets.Key {
	return secrets.Key{Collection: collectionName, Environment: environment, Variable: variable}
}

// UpdateEnvironmentVariables persists values changed during an execution.
// Secret variables are written to the secret store first; any store error
// aborts the update before the descriptor or cache is touched. Unknown names
// are added as plain variables.
func (s *Store) UpdateEnvironmentVariables(
	ctx context.Context,
	collectionPath, environment string,
	changes map[string]string,
) error {
	if len(changes) == 0 {
		return nil
	}
	return s.mutateEnvironment(ctx, collectionPath, environment, func(c *Collection, env *Environment) error {
		for _, name := range util.SortedKeys(changes) {
			value := changes[name]
			v, ok := env.Variables[name]
			if ok && v.Secret {
				if err := s.writeSecret(ctx, SecretKey(c.Name, env.Name, name), value); err != nil {
					return err
				}
				continue
			}
			v.Value = value
			env.Variables[name] = v
		}
		return nil
	})
}

// SetSecretVariable flags name as secret and stores value in the secret store.
func (s *Store) SetSecretVariable(ctx context.Context, collectionPath, environment, name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errdef.New(errdef.CodeParse, "variable name is empty")
	}
	return s.mutateEnvironment(ctx, collectionPath, environment, func(c *Collection, env *Environment) error {
		if err := s.writeSecret(ctx, SecretKey(c.Name, env.Name, name), value); err != nil {
			return err
		}
		v := env.Variables[name]
		v.Secret = true
		v.Value = ""
		env.Variables[name] = v
		return nil
	})
}

func (s *Store) DeleteEnvironmentVariable(ctx context.Context, collectionPath, environment, name string) error {
	return s.mutateEnvironment(ctx, collectionPath, environment, func(c *Collection, env *Environment) error {
		v, ok := env.Variables[name]
		if !ok {
			return errdef.New(errdef.CodeNotFound, "variable %q not found in environment %q", name, env.Name)
		}
		if v.Secret && s.secrets != nil {
			if err := s.secrets.Delete(ctx, SecretKey(c.Name, env.Name, name)); err != nil {
				return errdef.Wrap(errdef.CodeSecret, err, "delete secret %s", name)
			}
		}
		delete(env.Variables, name)
		return nil
	})
}

func (s *Store) AddEnvironment(collectionPath, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errdef.New(errdef.CodeParse, "environment name is empty")
	}
	root, err := absPath(collectionPath)
	if err != nil {
		return err
	}

	e := s.entryFor(root)
	e.mu.Lock()
	c, err := s.loadedLocked(e, root)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if c.environmentIndex(name) >= 0 {
		e.mu.Unlock()
		return errdef.New(errdef.CodeConflict, "environment %q already exists", name)
	}
	next := c.Clone()
	next.Environments = append(next.Environments, Environment{
		Name:      name,
		Variables: make(map[string]EnvironmentVariable),
	})
	if err := writeDescriptor(root, next); err != nil {
		e.mu.Unlock()
		return err
	}
	c.Environments = next.Environments
	e.mu.Unlock()

	s.notify(Event{Kind: EventEnvironmentUpdated, Collection: root})
	return nil
}

// ImportDotEnv merges the variables of a .env file into environment, creating
// the environment when it does not exist yet. It returns the number of
// variables imported.
func (s *Store) ImportDotEnv(ctx context.Context, collectionPath, environment, file string) (int, error) {
	values, err := godotenv.Read(file)
	if err != nil {
		return 0, errdef.Wrap(errdef.CodeParse, err, "read env file %s", file)
	}
	if c, ok := s.Collection(collectionPath); !ok || c.environmentIndex(environment) < 0 {
		if err := s.AddEnvironment(collectionPath, environment); err != nil && errdef.CodeOf(err) != errdef.CodeConflict {
			return 0, err
		}
	}
	if err := s.UpdateEnvironmentVariables(ctx, collectionPath, environment, values); err != nil {
		return 0, err
	}
	return len(values), nil
}

// mutateEnvironment applies fn to a copy of the named environment, writes the
// descriptor and only then swaps the copy into the cache.
func (s *Store) mutateEnvironment(
	ctx context.Context,
	collectionPath, environment string,
	fn func(c *Collection, env *Environment) error,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root, err := absPath(collectionPath)
	if err != nil {
		return err
	}

	e := s.entryFor(root)
	e.mu.Lock()
	c, err := s.loadedLocked(e, root)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	idx := c.environmentIndex(environment)
	if idx < 0 {
		e.mu.Unlock()
		return errdef.New(errdef.CodeNotFound, "environment %q not found in %s", environment, c.Name)
	}

	env := c.Environments[idx].Clone()
	if env.Variables == nil {
		env.Variables = make(map[string]EnvironmentVariable)
	}
	if err := fn(c, &env); err != nil {
		e.mu.Unlock()
		return err
	}

	next := c.Clone()
	next.Environments[idx] = env
	if err := writeDescriptor(root, next); err != nil {
		e.mu.Unlock()
		return err
	}
	c.Environments[idx] = env
	e.mu.Unlock()

	s.notify(Event{Kind: EventEnvironmentUpdated, Collection: root})
	return nil
}

func (s *Store) writeSecret(ctx context.Context, key secrets.Key, value string) error {
	if s.secrets == nil {
		return errdef.New(errdef.CodeSecret, "no secret store configured for %s", key)
	}
	if err := s.secrets.Write(ctx, key, []byte(value)); err != nil {
		return errdef.Wrap(errdef.CodeSecret, err, "write secret %s", key)
	}
	return nil
}
