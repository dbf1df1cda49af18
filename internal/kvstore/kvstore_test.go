package kvstore_test

import (
	"path/filepath"
	"testing"

	"github.com/yuanjing-labs/yuanjing-core/internal/kvstore"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := kvstore.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	if err := st.Put(kvstore.BucketMeta, "leaf_count", []byte{0, 0, 0, 0, 0, 0, 0, 7}); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	v, ok, err := st.Get(kvstore.BucketMeta, "leaf_count")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !ok {
		t.Fatalf("expected key to be present")
	}
	if len(v) != 8 || v[7] != 7 {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestGetMissingKey(t *testing.T) {
	dir := t.TempDir()
	st, err := kvstore.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	_, ok, err := st.Get(kvstore.BucketMMR, "missing")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be absent")
	}
}

func TestReopenPersistsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	st, err := kvstore.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := st.Put(kvstore.BucketWL, "hash1", []byte("entry")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	st2, err := kvstore.Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st2.Close()

	v, ok, err := st2.Get(kvstore.BucketWL, "hash1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !ok || string(v) != "entry" {
		t.Fatalf("expected data to survive reopen, got %q ok=%v", v, ok)
	}
}

func TestPositionKeyOrdering(t *testing.T) {
	k0 := kvstore.PositionKey(0)
	k1 := kvstore.PositionKey(1)
	k256 := kvstore.PositionKey(256)

	if !(k0 < k1 && k1 < k256) {
		t.Fatalf("expected big-endian position keys to sort numerically: %q %q %q", k0, k1, k256)
	}
}
