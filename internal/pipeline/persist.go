package pipeline

import "context"

type EnvironmentUpdater interface {
	UpdateEnvironmentVariables(ctx context.Context, collectionPath, environment string, changes map[string]string) error
}

// Persist writes the variables an execution dirtied back to the collection.
// It is a no-op without an environment or changes.
func Persist(ctx context.Context, store EnvironmentUpdater, collectionPath, environment string, dirty map[string]string) error {
	if store == nil || environment == "" || len(dirty) == 0 {
		return nil
	}
	return store.UpdateEnvironmentVariables(ctx, collectionPath, environment, dirty)
}
