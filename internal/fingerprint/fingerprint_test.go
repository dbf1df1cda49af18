package fingerprint_test

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/yuanjing-labs/yuanjing-core/internal/fingerprint"
)

func writePNG(t *testing.T, path string, fill func(x, y int) color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestSHA256OfFileIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, func(x, y int) color.RGBA { return color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255} })

	a, err := fingerprint.SHA256OfFile(path)
	if err != nil {
		t.Fatalf("SHA256OfFile: %v", err)
	}
	b, err := fingerprint.SHA256OfFile(path)
	if err != nil {
		t.Fatalf("SHA256OfFile: %v", err)
	}
	if a != b {
		t.Fatalf("SHA256OfFile not deterministic")
	}
}

func TestSHA256OfFileMissingReturnsError(t *testing.T) {
	if _, err := fingerprint.SHA256OfFile("/nonexistent/path.png"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPHashOfFileSimilarImagesAreClose(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.png")
	pathB := filepath.Join(dir, "b.png")

	// A gradient with a filled disc on it. A plain x/y ramp is separable,
	// which leaves most low-frequency DCT coefficients at exactly zero, so
	// the median threshold would be decided by rounding noise.
	base := func(x, y int) color.RGBA {
		if (x-12)*(x-12)+(y-18)*(y-18) < 64 {
			return color.RGBA{R: 230, G: 200, B: 40, A: 255}
		}
		return color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 64, A: 255}
	}
	writePNG(t, pathA, base)
	// Near-identical image, one corner pixel perturbed.
	writePNG(t, pathB, func(x, y int) color.RGBA {
		if x == 0 && y == 0 {
			return color.RGBA{R: 255, G: 255, B: 255, A: 255}
		}
		return base(x, y)
	})

	phA, err := fingerprint.PHashOfFile(pathA)
	if err != nil {
		t.Fatalf("PHashOfFile(a): %v", err)
	}
	phB, err := fingerprint.PHashOfFile(pathB)
	if err != nil {
		t.Fatalf("PHashOfFile(b): %v", err)
	}

	dist := hammingDistance(phA, phB)
	if dist > 8 {
		t.Fatalf("hamming distance between near-identical images = %d, want <= 8", dist)
	}
}

func TestPHashOfFileDistinctImagesDiffer(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.png")
	pathB := filepath.Join(dir, "b.png")

	writePNG(t, pathA, func(x, y int) color.RGBA { return color.RGBA{R: 0, G: 0, B: 0, A: 255} })
	writePNG(t, pathB, func(x, y int) color.RGBA {
		if (x+y)%2 == 0 {
			return color.RGBA{R: 255, G: 255, B: 255, A: 255}
		}
		return color.RGBA{R: 0, G: 0, B: 0, A: 255}
	})

	phA, err := fingerprint.PHashOfFile(pathA)
	if err != nil {
		t.Fatalf("PHashOfFile(a): %v", err)
	}
	phB, err := fingerprint.PHashOfFile(pathB)
	if err != nil {
		t.Fatalf("PHashOfFile(b): %v", err)
	}
	if phA == phB {
		t.Fatalf("expected distinct perceptual hashes for visually distinct images")
	}
}

func hammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}

func TestPoolSubmitComputesBothFingerprints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, func(x, y int) color.RGBA { return color.RGBA{R: uint8(x), G: uint8(y), B: 1, A: 255} })

	pool := fingerprint.NewPool(2)
	res, err := pool.Submit(context.Background(), path)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var zero [32]byte
	if res.SHA256 == zero {
		t.Fatalf("expected non-zero SHA256")
	}
	ph, err := fingerprint.PHashOfFile(path)
	if err != nil {
		t.Fatalf("PHashOfFile: %v", err)
	}
	if res.PHash != ph {
		t.Fatalf("PHash = %x, want %x", res.PHash, ph)
	}
}

func TestPoolSubmitRespectsCancellation(t *testing.T) {
	pool := fingerprint.NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.Submit(ctx, "/irrelevant.png"); err == nil {
		t.Fatalf("expected error for already-cancelled context")
	}
}
