package collection

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/unkn0wn-root/restbro/internal/errdef"
)

// groupDirName sanitizes a group name into its directory name. An empty name
// means the collection root.
func groupDirName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	dir := SanitizeName(name)
	switch dir {
	case "", ".", "..":
		return "", errdef.New(errdef.CodeParse, "invalid group name %q", name)
	case environmentsDir, DescriptorFile:
		return "", errdef.New(errdef.CodeConflict, "group name %q is reserved", name)
	}
	return dir, nil
}

func (s *Store) CreateGroup(collectionPath, name string) (string, error) {
	root, err := absPath(collectionPath)
	if err != nil {
		return "", err
	}
	dir, err := groupDirName(name)
	if err != nil {
		return "", err
	}
	if dir == "" {
		return "", errdef.New(errdef.CodeParse, "group name is empty")
	}
	full := filepath.Join(root, dir)

	err = s.mutateStructure(root, func() error {
		if _, err := os.Stat(full); err == nil {
			return errdef.New(errdef.CodeConflict, "group %q already exists", dir)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return errdef.Wrap(errdef.CodeFilesystem, err, "stat %s", full)
		}
		if err := os.Mkdir(full, 0o755); err != nil {
			return errdef.Wrap(errdef.CodeFilesystem, err, "create group %s", full)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.notify(Event{Kind: EventGroupCreated, Collection: root, Path: full})
	return full, nil
}

func (s *Store) RenameGroup(collectionPath, oldName, newName string) (string, error) {
	root, err := absPath(collectionPath)
	if err != nil {
		return "", err
	}
	oldDir, err := groupDirName(oldName)
	if err != nil {
		return "", err
	}
	newDir, err := groupDirName(newName)
	if err != nil {
		return "", err
	}
	if oldDir == "" || newDir == "" {
		return "", errdef.New(errdef.CodeParse, "group names must not be empty")
	}
	from := filepath.Join(root, oldDir)
	to := filepath.Join(root, newDir)

	err = s.mutateStructure(root, func() error {
		if info, err := os.Stat(from); err != nil || !info.IsDir() {
			return errdef.New(errdef.CodeNotFound, "group %q not found", oldDir)
		}
		if _, err := os.Stat(to); err == nil {
			return errdef.New(errdef.CodeConflict, "group %q already exists", newDir)
		}
		if err := os.Rename(from, to); err != nil {
			return errdef.Wrap(errdef.CodeFilesystem, err, "rename group %s", from)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.notify(Event{Kind: EventGroupRenamed, Collection: root, Path: to})
	return to, nil
}

// DeleteGroup removes the group directory and every request inside it.
func (s *Store) DeleteGroup(collectionPath, name string) error {
	root, err := absPath(collectionPath)
	if err != nil {
		return err
	}
	dir, err := groupDirName(name)
	if err != nil {
		return err
	}
	if dir == "" {
		return errdef.New(errdef.CodeParse, "group name is empty")
	}
	full := filepath.Join(root, dir)

	err = s.mutateStructure(root, func() error {
		if info, err := os.Stat(full); err != nil || !info.IsDir() {
			return errdef.New(errdef.CodeNotFound, "group %q not found", dir)
		}
		if err := os.RemoveAll(full); err != nil {
			return errdef.Wrap(errdef.CodeFilesystem, err, "delete group %s", full)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(Event{Kind: EventGroupDeleted, Collection: root, Path: full})
	return nil
}

// mutateStructure runs fn under the collection lock and then rebuilds the
// cached collection from disk, so observers notified afterwards see the new
// tree. The reload also runs when fn fails part way.
func (s *Store) mutateStructure(root string, fn func() error) error {
	e := s.entryFor(root)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := s.loadedLocked(e, root); err != nil {
		return err
	}
	opErr := fn()
	c, err := s.read(root)
	if err != nil {
		if opErr != nil {
			return errors.Join(opErr, err)
		}
		return err
	}
	e.coll = c
	return opErr
}
