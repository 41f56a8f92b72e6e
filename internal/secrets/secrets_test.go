package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/unkn0wn-root/restbro/internal/errdef"
)

func TestMemoryReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	key := Key{Collection: "shop", Environment: "dev", Variable: "token"}

	if _, ok, err := store.Read(ctx, key); err != nil || ok {
		t.Fatalf("expected missing secret, got ok=%v err=%v", ok, err)
	}
	if err := store.Write(ctx, key, []byte("s3cr3t")); err != nil {
		t.Fatalf("write: %v", err)
	}
	value, ok, err := store.Read(ctx, key)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if string(value) != "s3cr3t" {
		t.Fatalf("unexpected value %q", value)
	}

	value[0] = 'X'
	again, _, _ := store.Read(ctx, key)
	if string(again) != "s3cr3t" {
		t.Fatalf("expected stored copy to be isolated from caller mutation")
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store after delete")
	}
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemory().Write(ctx, Key{}, nil); err == nil {
		t.Fatalf("expected context error")
	}
}

func openTestVault(t *testing.T, dir string) *Vault {
	t.Helper()
	vault, err := OpenVault(filepath.Join(dir, "vault.db"), filepath.Join(dir, "vault.key"))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	t.Cleanup(func() { _ = vault.Close() })
	return vault
}

func TestVaultPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := Key{Collection: "shop", Environment: "prod", Variable: "apiKey"}

	first := openTestVault(t, dir)
	if err := first.Write(ctx, key, []byte("one")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := first.Write(ctx, key, []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openTestVault(t, dir)
	value, ok, err := second.Read(ctx, key)
	if err != nil || !ok {
		t.Fatalf("read after reopen: ok=%v err=%v", ok, err)
	}
	if string(value) != "two" {
		t.Fatalf("expected latest value, got %q", value)
	}

	info, err := os.Stat(filepath.Join(dir, "vault.key"))
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected key file mode 0600, got %v", info.Mode().Perm())
	}
}

func TestVaultMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	vault := openTestVault(t, t.TempDir())
	key := Key{Collection: "c", Environment: "e", Variable: "v"}

	if _, ok, err := vault.Read(ctx, key); err != nil || ok {
		t.Fatalf("expected missing, got ok=%v err=%v", ok, err)
	}
	if err := vault.Write(ctx, key, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := vault.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := vault.Read(ctx, key); ok {
		t.Fatalf("expected secret removed")
	}
}

func TestVaultRejectsForeignKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := Key{Collection: "c", Environment: "e", Variable: "v"}

	vault := openTestVault(t, dir)
	if err := vault.Write(ctx, key, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = vault.Close()

	if err := os.WriteFile(filepath.Join(dir, "vault.key"), make([]byte, keySize), 0o600); err != nil {
		t.Fatalf("replace key: %v", err)
	}
	other := openTestVault(t, dir)
	_, _, err := other.Read(ctx, key)
	if err == nil {
		t.Fatalf("expected unseal failure with a different key")
	}
	if errdef.CodeOf(err) != errdef.CodeSecret {
		t.Fatalf("expected secret store code, got %s", errdef.CodeOf(err))
	}
}

func TestVaultRejectsRowMovedToAmbiguousKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	written := Key{Collection: "a/b", Environment: "c", Variable: "v"}
	moved := Key{Collection: "a", Environment: "b/c", Variable: "v"}

	vault := openTestVault(t, dir)
	if err := vault.Write(ctx, written, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := vault.db.ExecContext(ctx,
		`UPDATE secrets SET collection = ?, environment = ? WHERE collection = ? AND environment = ?`,
		moved.Collection, moved.Environment, written.Collection, written.Environment,
	); err != nil {
		t.Fatalf("move row: %v", err)
	}

	_, _, err := vault.Read(ctx, moved)
	if err == nil {
		t.Fatalf("expected value sealed for %s to be rejected under %s", written, moved)
	}
	if errdef.CodeOf(err) != errdef.CodeSecret {
		t.Fatalf("expected secret store code, got %s", errdef.CodeOf(err))
	}
}

func TestVaultRejectsShortKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vault.key"), []byte("short"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := OpenVault(filepath.Join(dir, "vault.db"), filepath.Join(dir, "vault.key")); err == nil {
		t.Fatalf("expected error for short key")
	}
}
