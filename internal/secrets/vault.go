package secrets

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/util"
)

const (
	keySize   = 32
	nonceSize = 24

	vaultSchema = `CREATE TABLE IF NOT EXISTS secrets (
	collection  TEXT    NOT NULL,
	environment TEXT    NOT NULL,
	variable    TEXT    NOT NULL,
	nonce       BLOB    NOT NULL,
	sealed      BLOB    NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (collection, environment, variable)
)`
)

// Vault keeps secrets in a SQLite database. Each value is sealed with
// secretbox under a key read from keyPath; the plaintext is prefixed with the
// secret's Key so rows cannot be swapped between variables.
type Vault struct {
	db  *sql.DB
	key [keySize]byte
}

func OpenVault(dbPath, keyPath string) (*Vault, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "create vault dir")
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeSecret, err, "open vault %s", dbPath)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(vaultSchema); err != nil {
		_ = db.Close()
		return nil, errdef.Wrap(errdef.CodeSecret, err, "init vault schema")
	}
	return &Vault{db: db, key: key}, nil
}

func (v *Vault) Close() error {
	if v == nil || v.db == nil {
		return nil
	}
	return v.db.Close()
}

func (v *Vault) Read(ctx context.Context, key Key) ([]byte, bool, error) {
	var nonceRaw, sealed []byte
	row := v.db.QueryRowContext(
		ctx,
		`SELECT nonce, sealed FROM secrets WHERE collection = ? AND environment = ? AND variable = ?`,
		key.Collection, key.Environment, key.Variable,
	)
	if err := row.Scan(&nonceRaw, &sealed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errdef.Wrap(errdef.CodeSecret, err, "read secret %s", key)
	}
	if len(nonceRaw) != nonceSize {
		return nil, false, errdef.New(errdef.CodeSecret, "corrupt nonce for secret %s", key)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], nonceRaw)
	plain, ok := secretbox.Open(nil, sealed, &nonce, &v.key)
	if !ok {
		return nil, false, errdef.New(errdef.CodeSecret, "unseal secret %s", key)
	}

	prefix := binding(key)
	if !bytes.HasPrefix(plain, prefix) {
		return nil, false, errdef.New(errdef.CodeSecret, "secret %s bound to another key", key)
	}
	return plain[len(prefix):], true, nil
}

func (v *Vault) Write(ctx context.Context, key Key, value []byte) error {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return errdef.Wrap(errdef.CodeSecret, err, "generate nonce")
	}

	plain := append(binding(key), value...)
	sealed := secretbox.Seal(nil, plain, &nonce, &v.key)

	_, err := v.db.ExecContext(
		ctx,
		`INSERT INTO secrets (collection, environment, variable, nonce, sealed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (collection, environment, variable)
		 DO UPDATE SET nonce = excluded.nonce, sealed = excluded.sealed, updated_at = excluded.updated_at`,
		key.Collection, key.Environment, key.Variable, nonce[:], sealed, time.Now().Unix(),
	)
	if err != nil {
		return errdef.Wrap(errdef.CodeSecret, err, "write secret %s", key)
	}
	return nil
}

// binding length-prefixes each part of key so no two keys share an encoding,
// whatever separators their names contain.
func binding(key Key) []byte {
	var b []byte
	for _, part := range []string{key.Collection, key.Environment, key.Variable} {
		b = strconv.AppendInt(b, int64(len(part)), 10)
		b = append(b, ':')
		b = append(b, part...)
	}
	return append(b, 0)
}

func (v *Vault) Delete(ctx context.Context, key Key) error {
	_, err := v.db.ExecContext(
		ctx,
		`DELETE FROM secrets WHERE collection = ? AND environment = ? AND variable = ?`,
		key.Collection, key.Environment, key.Variable,
	)
	if err != nil {
		return errdef.Wrap(errdef.CodeSecret, err, "delete secret %s", key)
	}
	return nil
}

func loadOrCreateKey(path string) ([keySize]byte, error) {
	var key [keySize]byte

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != keySize {
			return key, errdef.New(errdef.CodeSecret, "vault key %s has %d bytes, want %d", path, len(data), keySize)
		}
		copy(key[:], data)
		return key, nil
	case !errors.Is(err, fs.ErrNotExist):
		return key, errdef.Wrap(errdef.CodeFilesystem, err, "read vault key %s", path)
	}

	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, errdef.Wrap(errdef.CodeSecret, err, "generate vault key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return key, errdef.Wrap(errdef.CodeFilesystem, err, "create vault key dir")
	}
	if err := util.WriteFileAtomic(path, key[:], 0o600); err != nil {
		return key, errdef.Wrap(errdef.CodeFilesystem, err, "write vault key %s", path)
	}
	return key, nil
}
