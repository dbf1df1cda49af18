package evidence_test

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/yuanjing-labs/yuanjing-core/internal/apierr"
	"github.com/yuanjing-labs/yuanjing-core/internal/evidence"
	"github.com/yuanjing-labs/yuanjing-core/internal/fingerprint"
	"github.com/yuanjing-labs/yuanjing-core/internal/identity"
	"github.com/yuanjing-labs/yuanjing-core/internal/kvstore"
	"github.com/yuanjing-labs/yuanjing-core/internal/mmrstore"
	"github.com/yuanjing-labs/yuanjing-core/internal/whitelist"
)

func writeTestPNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, "sample.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return path
}

func newOrchestrator(t *testing.T) (*evidence.Orchestrator, [32]byte) {
	t.Helper()
	dir := t.TempDir()

	kv, err := kvstore.Open(filepath.Join(dir, "yuanjing.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	mmr, err := mmrstore.Open(kv)
	if err != nil {
		t.Fatalf("mmrstore.Open: %v", err)
	}
	wl, err := whitelist.Open(kv)
	if err != nil {
		t.Fatalf("whitelist.Open: %v", err)
	}

	id, err := identity.LoadOrGenerate(filepath.Join(dir, "identity.key"), "test-signer")
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}

	poolHash := [32]byte{42}
	if _, err := wl.Register(poolHash, "test prompt pool"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	return &evidence.Orchestrator{
		Whitelist:   wl,
		Fingerprint: fingerprint.NewPool(2),
		Signer:      id,
		MMR:         mmr,
	}, poolHash
}

func TestProveAppendsAndSigns(t *testing.T) {
	orch, poolHash := newOrchestrator(t)
	imgPath := writeTestPNG(t, t.TempDir())

	receipt, err := orch.Prove(context.Background(), evidence.ProveRequest{
		ImagePath:      imgPath,
		Verdict:        true,
		Confidence:     "high",
		PromptPoolHash: poolHash,
	})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if receipt.LeafPosition != 0 {
		t.Fatalf("LeafPosition = %d, want 0", receipt.LeafPosition)
	}
	if len(receipt.Signature) == 0 {
		t.Fatalf("expected a non-empty signature")
	}

	root, err := orch.MMR.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if !mmrstore.Equal(root, receipt.Root) {
		t.Fatalf("receipt root does not match store root")
	}

	proof, err := orch.MMR.Proof(receipt.LeafPosition)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	leaf := mmrstore.LeafHash(receipt.Evidence.Encode())
	if !mmrstore.Verify(leaf, receipt.LeafPosition, proof, root) {
		t.Fatalf("receipt evidence does not verify against the appended proof")
	}
}

func TestProveRejectsUnregisteredPromptPool(t *testing.T) {
	orch, _ := newOrchestrator(t)
	imgPath := writeTestPNG(t, t.TempDir())

	_, err := orch.Prove(context.Background(), evidence.ProveRequest{
		ImagePath:      imgPath,
		Verdict:        true,
		Confidence:     "high",
		PromptPoolHash: [32]byte{0xFF},
	})
	if err == nil {
		t.Fatalf("expected error for unregistered prompt pool hash")
	}
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Kind != apierr.BadRequest {
		t.Fatalf("Kind = %v, want BadRequest", apiErr.Kind)
	}
}

func TestProveRejectsMissingImage(t *testing.T) {
	orch, poolHash := newOrchestrator(t)

	_, err := orch.Prove(context.Background(), evidence.ProveRequest{
		ImagePath:      "/nonexistent/path/does-not-exist.png",
		Verdict:        false,
		Confidence:     "low",
		PromptPoolHash: poolHash,
	})
	if err == nil {
		t.Fatalf("expected error for missing image file")
	}
}

func TestSuccessiveProvesAppendSequentially(t *testing.T) {
	orch, poolHash := newOrchestrator(t)
	dir := t.TempDir()
	imgPath := writeTestPNG(t, dir)

	var last uint64
	for i := 0; i < 5; i++ {
		receipt, err := orch.Prove(context.Background(), evidence.ProveRequest{
			ImagePath:      imgPath,
			Verdict:        i%2 == 0,
			Confidence:     "medium",
			PromptPoolHash: poolHash,
		})
		if err != nil {
			t.Fatalf("Prove(%d): %v", i, err)
		}
		if i > 0 && receipt.LeafPosition != last+1 {
			t.Fatalf("LeafPosition = %d, want %d", receipt.LeafPosition, last+1)
		}
		last = receipt.LeafPosition
	}

	if got := orch.MMR.LeafCount(); got != 5 {
		t.Fatalf("LeafCount = %d, want 5", got)
	}
}
