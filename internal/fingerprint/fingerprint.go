// Package fingerprint computes the two content fingerprints an Evidence
// record binds to: a SHA-256 content hash and a 64-bit DCT perceptual
// hash. Both are CPU/IO-bound and run exclusively on Pool's bounded
// goroutine pool (see pool.go) so the HTTP reactor never computes a hash
// inline.
package fingerprint

import (
	"crypto/sha256"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/yuanjing-labs/yuanjing-core/internal/apierr"
)

const (
	phashSampleSize = 32 // downsample to phashSampleSize x phashSampleSize grayscale
	phashBlockSize  = 8  // retain the top-left 8x8 DCT coefficients
)

// Result is the pair of fingerprints bound into an Evidence record.
type Result struct {
	SHA256 [32]byte
	PHash  uint64
}

// SHA256OfFile streams path and returns the SHA-256 of its raw bytes.
func SHA256OfFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, apierr.Wrap(apierr.BadRequest, "open image file", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, apierr.Wrap(apierr.BadRequest, "read image file", err)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// PHashOfFile decodes the image at path and computes a 64-bit perceptual
// hash via the standard DCT-based method: downsample to 32x32 grayscale,
// run a 2D DCT-II, keep the top-left 8x8 coefficients excluding the DC
// term, and set each output bit by comparing the coefficient to their
// median.
func PHashOfFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, apierr.Wrap(apierr.BadRequest, "open image file", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, apierr.Wrap(apierr.Unprocessable, "decode image", err)
	}

	gray := downsampleGray(img, phashSampleSize)
	coeffs := dct2D(gray, phashSampleSize)
	return phashFromCoefficients(coeffs), nil
}

// downsampleGray resizes img to an nxn grayscale grid using simple
// nearest-neighbor sampling — adequate for a perceptual hash, where the
// DCT's low-frequency coefficients are what matters, not resampling
// fidelity.
func downsampleGray(img image.Image, n int) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	out := make([][]float64, n)
	for y := 0; y < n; y++ {
		out[y] = make([]float64, n)
		srcY := bounds.Min.Y + y*h/n
		for x := 0; x < n; x++ {
			srcX := bounds.Min.X + x*w/n
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			// Rec. 601 luma, operating on the 16-bit channel values RGBA returns.
			lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			out[y][x] = lum
		}
	}
	return out
}

// dct2D runs a naive O(n^4) 2D DCT-II over an nxn grid. n is fixed at 32
// for this hash, so the naive form is fine; there is no need for an FFT
// based implementation at this size.
func dct2D(grid [][]float64, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}

	for u := 0; u < n; u++ {
		for v := 0; v < n; v++ {
			var sum float64
			for x := 0; x < n; x++ {
				for y := 0; y < n; y++ {
					sum += grid[x][y] *
						math.Cos((2*float64(x)+1)*float64(u)*math.Pi/(2*float64(n))) *
						math.Cos((2*float64(y)+1)*float64(v)*math.Pi/(2*float64(n)))
				}
			}
			cu, cv := 1.0, 1.0
			if u == 0 {
				cu = 1 / math.Sqrt2
			}
			if v == 0 {
				cv = 1 / math.Sqrt2
			}
			out[u][v] = 0.25 * cu * cv * sum
		}
	}
	return out
}

// phashFromCoefficients keeps the top-left phashBlockSize x phashBlockSize
// block excluding the DC coefficient (u=v=0), takes the median of the
// remaining 63 values, and sets bit i of the hash when coefficient i
// exceeds that median.
func phashFromCoefficients(coeffs [][]float64) uint64 {
	vals := make([]float64, 0, phashBlockSize*phashBlockSize-1)
	for u := 0; u < phashBlockSize; u++ {
		for v := 0; v < phashBlockSize; v++ {
			if u == 0 && v == 0 {
				continue
			}
			vals = append(vals, coeffs[u][v])
		}
	}

	median := medianOf(append([]float64(nil), vals...))

	var hash uint64
	for i, v := range vals {
		if v > median {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

func medianOf(vals []float64) float64 {
	n := len(vals)
	for i := 1; i < n; i++ {
		v := vals[i]
		j := i - 1
		for j >= 0 && vals[j] > v {
			vals[j+1] = vals[j]
			j--
		}
		vals[j+1] = v
	}
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
