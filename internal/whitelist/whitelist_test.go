package whitelist_test

import (
	"path/filepath"
	"testing"

	"github.com/yuanjing-labs/yuanjing-core/internal/kvstore"
	"github.com/yuanjing-labs/yuanjing-core/internal/whitelist"
)

func openRegistry(t *testing.T) (*kvstore.Store, *whitelist.Registry) {
	t.Helper()
	dir := t.TempDir()
	kv, err := kvstore.Open(filepath.Join(dir, "wl.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	reg, err := whitelist.Open(kv)
	if err != nil {
		t.Fatalf("whitelist.Open: %v", err)
	}
	return kv, reg
}

func TestRegisterThenContains(t *testing.T) {
	_, reg := openRegistry(t)
	hash := [32]byte{1, 2, 3}

	if reg.Contains(hash) {
		t.Fatalf("hash should not be registered yet")
	}

	status, err := reg.Register(hash, "pool-a")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if status != whitelist.Registered {
		t.Fatalf("status = %v, want Registered", status)
	}
	if !reg.Contains(hash) {
		t.Fatalf("hash should be registered")
	}
}

func TestRegisterIsIdempotentOnSamePair(t *testing.T) {
	_, reg := openRegistry(t)
	hash := [32]byte{9}

	if _, err := reg.Register(hash, "pool-x"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	status, err := reg.Register(hash, "pool-x")
	if err != nil {
		t.Fatalf("Register (repeat): %v", err)
	}
	if status != whitelist.Registered {
		t.Fatalf("status = %v, want Registered on identical re-register", status)
	}
}

func TestRegisterConflictOnDifferentDescription(t *testing.T) {
	_, reg := openRegistry(t)
	hash := [32]byte{7}

	if _, err := reg.Register(hash, "pool-original"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	status, err := reg.Register(hash, "pool-different")
	if err != nil {
		t.Fatalf("Register (conflict): %v", err)
	}
	if status != whitelist.AlreadyExists {
		t.Fatalf("status = %v, want AlreadyExists", status)
	}

	entry, ok := reg.Get(hash)
	if !ok {
		t.Fatalf("expected entry to still be present")
	}
	if entry.Description != "pool-original" {
		t.Fatalf("stored description changed to %q, want original preserved", entry.Description)
	}
}

func TestReopenPersistsEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wl.db")

	kv1, err := kvstore.Open(path)
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	reg1, err := whitelist.Open(kv1)
	if err != nil {
		t.Fatalf("whitelist.Open: %v", err)
	}
	hash := [32]byte{3, 1, 4}
	if _, err := reg1.Register(hash, "persisted-pool"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := kv1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	kv2, err := kvstore.Open(path)
	if err != nil {
		t.Fatalf("reopen kvstore.Open: %v", err)
	}
	defer kv2.Close()
	reg2, err := whitelist.Open(kv2)
	if err != nil {
		t.Fatalf("reopen whitelist.Open: %v", err)
	}
	if !reg2.Contains(hash) {
		t.Fatalf("expected hash to survive reopen")
	}
}

type fakeMirror struct {
	calls int
	last  [32]byte
}

func (f *fakeMirror) Mirror(hash [32]byte, description string, registeredAt uint64) {
	f.calls++
	f.last = hash
}

func TestSetMirrorCalledOnNewRegistration(t *testing.T) {
	_, reg := openRegistry(t)
	mirror := &fakeMirror{}
	reg.SetMirror(mirror)

	hash := [32]byte{5}
	if _, err := reg.Register(hash, "mirrored-pool"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if mirror.calls != 1 {
		t.Fatalf("mirror.calls = %d, want 1", mirror.calls)
	}
	if mirror.last != hash {
		t.Fatalf("mirror received wrong hash")
	}
}

func TestMirrorNotCalledOnConflict(t *testing.T) {
	_, reg := openRegistry(t)
	mirror := &fakeMirror{}
	hash := [32]byte{6}
	if _, err := reg.Register(hash, "first"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.SetMirror(mirror)
	if _, err := reg.Register(hash, "second"); err != nil {
		t.Fatalf("Register (conflict): %v", err)
	}
	if mirror.calls != 0 {
		t.Fatalf("mirror.calls = %d, want 0 on conflict", mirror.calls)
	}
}
