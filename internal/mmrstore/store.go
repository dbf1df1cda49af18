// Package mmrstore is the append-only Merkle Mountain Range: durable node
// storage backed by internal/kvstore, peak bookkeeping, and inclusion-proof
// generation/verification. Node numbering follows the standard MMR shape
// (leaves interleaved with back-filled interior peaks); the interior hash
// rule is plain Blake3(left‖right) with no position commitment, and the
// position arithmetic lives in math.go.
package mmrstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"lukechampine.com/blake3"

	"github.com/yuanjing-labs/yuanjing-core/internal/apierr"
	"github.com/yuanjing-labs/yuanjing-core/internal/kvstore"
)

const metaLeafCountKey = "leaf_count"

// Digest is a 32-byte Blake3 output: a leaf hash, an interior node hash, or
// the bag-of-peaks root.
type Digest [32]byte

// Proof is the inclusion proof for one leaf: the co-path of sibling
// digests from the leaf up to its mountain peak, the digests of every
// other current peak, and the index at which the leaf's reconstructed
// peak must be spliced into that peak list to recompute the root. Without
// PeakIndex, {siblings, peaks} alone would not say where the
// reconstructed peak goes.
type Proof struct {
	Siblings  []Digest
	Peaks     []Digest
	PeakIndex int
}

// Store is the durable, append-only MMR. It is a shared singleton: all
// state lives in the embedded KV store, guarded by an in-process RWMutex
// that serializes appends and lets proof/root reads run concurrently with
// each other (but not with an in-flight append).
type Store struct {
	mu        sync.RWMutex
	kv        *kvstore.Store
	leafCount uint64
	size      uint64 // total node count (leaves + interior) for leafCount leaves
}

// Open loads (or initializes) the MMR rooted at the given KV store. Node
// digests are a pure function of the leaf sequence, so nothing needs
// replaying here beyond reading the persisted leaf count: the node bucket
// already holds every leaf and interior digest the prior process wrote,
// and bbolt's single-transaction commit in Append means leaf_count and the
// node set are never observed out of sync.
func Open(kv *kvstore.Store) (*Store, error) {
	s := &Store{kv: kv}

	raw, ok, err := kv.Get(kvstore.BucketMeta, metaLeafCountKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "read mmr leaf count", err)
	}
	if ok {
		if len(raw) != 8 {
			return nil, apierr.New(apierr.Internal, "mmr structural corruption: malformed leaf_count")
		}
		s.leafCount = binary.BigEndian.Uint64(raw)
	}
	s.size = totalSize(s.leafCount)

	if err := s.checkIntegrity(); err != nil {
		return nil, err
	}
	return s, nil
}

// checkIntegrity confirms every peak of the current shape is present in
// the node bucket. A missing peak means the store is corrupt (the
// transactional write in Append should make this unreachable in practice,
// but a foreign or hand-edited KV file is still possible).
func (s *Store) checkIntegrity() error {
	if s.leafCount == 0 {
		return nil
	}
	for _, p := range peaks(s.size) {
		if _, ok, err := s.readNode(p); err != nil {
			return apierr.Wrap(apierr.Internal, "mmr integrity check", err)
		} else if !ok {
			return apierr.New(apierr.Internal, fmt.Sprintf("mmr structural corruption: missing peak node at position %d", p-1))
		}
	}
	return nil
}

// LeafCount returns the number of leaves appended so far.
func (s *Store) LeafCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leafCount
}

// Append writes leaf at the next MMR position, greedily merging completed
// sibling peaks, and commits the leaf, every new interior node, and the
// updated leaf count in a single durable KV transaction. It returns the
// 0-based leaf index (not the MMR node position).
//
// State machine: Idle (nothing staged) -> WritingLeaf (the new leaf digest
// staged) -> WritingParent* (one iteration per completed sibling pair,
// height increasing each time) -> Committed (the WriteTxn call below,
// which is the only point anything actually reaches disk).
func (s *Store) Append(leaf Digest) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leafIndex := s.leafCount
	pos := s.size + 1 // 1-based position of the new leaf

	type write struct {
		pos    uint64
		digest Digest
	}
	writes := []write{{pos, leaf}} // WritingLeaf

	current := leaf
	height := uint64(0)
	for posHeight(pos+1) > height { // WritingParent*: a completed right-sibling merge
		parent := pos + 1
		leftPos, _ := leftChild(parent)

		left, ok, err := s.readNode(leftPos)
		if err != nil {
			return 0, apierr.Wrap(apierr.Internal, "read mmr left sibling", err)
		}
		if !ok {
			return 0, apierr.New(apierr.Internal, fmt.Sprintf("mmr structural corruption: missing node at position %d", leftPos-1))
		}

		current = hashPair(left, current)
		pos = parent
		height++
		writes = append(writes, write{pos, current})
	}

	kvs := make(map[string][]byte, len(writes))
	for _, w := range writes {
		d := w.digest
		kvs[kvstore.PositionKey(w.pos-1)] = d[:]
	}

	newLeafCount := leafIndex + 1
	leafCountBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(leafCountBuf, newLeafCount)

	err := s.kv.WriteTxn(func(p kvstore.Putter) error {
		for k, v := range kvs {
			if err := p.Put(kvstore.BucketMMR, k, v); err != nil {
				return err
			}
		}
		return p.Put(kvstore.BucketMeta, metaLeafCountKey, leafCountBuf)
	}) // Committed
	if err != nil {
		return 0, apierr.Wrap(apierr.Internal, "persist mmr append", err)
	}

	s.leafCount = newLeafCount
	s.size = pos
	return leafIndex, nil
}

// Root computes the bag-of-peaks root for the current MMR shape. The root
// is never itself persisted; it is recomputed on demand from the persisted
// peak digests.
func (s *Store) Root() (Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootLocked()
}

func (s *Store) rootLocked() (Digest, error) {
	if s.leafCount == 0 {
		return Digest{}, apierr.New(apierr.NotFound, "mmr is empty")
	}
	digests, err := s.readNodes(peaks(s.size))
	if err != nil {
		return Digest{}, err
	}
	return bagPeaks(digests), nil
}

// Proof returns the inclusion proof for leafIndex against the MMR's
// current shape. It fails with NotFound if leafIndex is out of range.
func (s *Store) Proof(leafIndex uint64) (*Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if leafIndex >= s.leafCount {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("leaf index %d out of range (leaf_count=%d)", leafIndex, s.leafCount))
	}

	siblingPositions, _ := proofPath(leafIndex, s.size)
	siblings, err := s.readNodes(siblingPositions)
	if err != nil {
		return nil, err
	}

	allPeakPositions := peaks(s.size)
	height := peakHeightForLeafIndex(leafIndex, len(siblingPositions))
	idx := peakIndexForHeight(s.leafCount, height)

	otherPositions := make([]uint64, 0, len(allPeakPositions)-1)
	for i, p := range allPeakPositions {
		if i == idx {
			continue
		}
		otherPositions = append(otherPositions, p)
	}
	otherPeaks, err := s.readNodes(otherPositions)
	if err != nil {
		return nil, err
	}

	return &Proof{Siblings: siblings, Peaks: otherPeaks, PeakIndex: idx}, nil
}

// LeafDigest returns the stored digest at leafIndex, for callers (the audit
// handler) that only have a position and need the original leaf to verify a
// freshly generated proof against the current root.
func (s *Store) LeafDigest(leafIndex uint64) (Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if leafIndex >= s.leafCount {
		return Digest{}, apierr.New(apierr.NotFound, fmt.Sprintf("leaf index %d out of range (leaf_count=%d)", leafIndex, s.leafCount))
	}
	d, ok, err := s.readNode(leafPosition(leafIndex) + 1)
	if err != nil {
		return Digest{}, apierr.Wrap(apierr.Internal, "read mmr leaf", err)
	}
	if !ok {
		return Digest{}, apierr.New(apierr.Internal, fmt.Sprintf("mmr structural corruption: missing leaf at index %d", leafIndex))
	}
	return d, nil
}

// Verify reconstructs the leaf's mountain peak by folding the proof's
// siblings onto leaf, splices it into the proof's peak list at PeakIndex,
// recomputes the bag-of-peaks root, and compares it to root. leafIndex
// determines the fold direction at each height: bit h of the leaf's
// offset within its mountain says whether the accumulator was the right
// child (fold sibling on the left) or the left child at that step. The
// offset is leafIndex mod 2^peakHeight, since every earlier mountain is
// strictly taller and its leaf count drops out of the modulus.
func Verify(leaf Digest, leafIndex uint64, proof *Proof, root Digest) bool {
	if proof == nil || proof.PeakIndex < 0 || proof.PeakIndex > len(proof.Peaks) {
		return false
	}
	if len(proof.Siblings) >= 64 {
		return false
	}

	offset := leafIndex & (uint64(1)<<uint(len(proof.Siblings)) - 1)
	acc := leaf
	for h, sib := range proof.Siblings {
		if offset>>uint(h)&1 == 1 {
			acc = hashPair(sib, acc)
		} else {
			acc = hashPair(acc, sib)
		}
	}

	full := make([]Digest, len(proof.Peaks)+1)
	copy(full[:proof.PeakIndex], proof.Peaks[:proof.PeakIndex])
	full[proof.PeakIndex] = acc
	copy(full[proof.PeakIndex+1:], proof.Peaks[proof.PeakIndex:])

	return bagPeaks(full) == root
}

// proofPath walks from leafIndex's 1-based position up to its mountain
// peak, returning the 1-based positions of the sibling nodes encountered
// in height order and the final peak position. At each step the current
// node is either a right child (its parent immediately follows it in the
// numbering) or a left child (its right sibling's whole subtree follows,
// and the parent comes right after that).
func proofPath(leafIndex, size uint64) ([]uint64, uint64) {
	peakSet := make(map[uint64]struct{})
	for _, p := range peaks(size) {
		peakSet[p] = struct{}{}
	}

	cur := leafPosition(leafIndex) + 1
	height := uint64(0)
	var siblings []uint64
	for {
		if _, ok := peakSet[cur]; ok {
			return siblings, cur
		}
		if posHeight(cur+1) == height+1 {
			parent := cur + 1
			left, _ := leftChild(parent)
			siblings = append(siblings, left)
			cur = parent
		} else {
			sib := jumpRightSibling(cur)
			siblings = append(siblings, sib)
			cur = sib + 1
		}
		height++
	}
}

func (s *Store) readNode(pos1 uint64) (Digest, bool, error) {
	raw, ok, err := s.kv.Get(kvstore.BucketMMR, kvstore.PositionKey(pos1-1))
	if err != nil {
		return Digest{}, false, err
	}
	if !ok {
		return Digest{}, false, nil
	}
	var d Digest
	copy(d[:], raw)
	return d, true, nil
}

func (s *Store) readNodes(positions []uint64) ([]Digest, error) {
	out := make([]Digest, len(positions))
	for i, p := range positions {
		d, ok, err := s.readNode(p)
		if err != nil {
			return nil, apierr.Wrap(apierr.Internal, "read mmr node", err)
		}
		if !ok {
			return nil, apierr.New(apierr.Internal, fmt.Sprintf("mmr structural corruption: missing node at position %d", p-1))
		}
		out[i] = d
	}
	return out, nil
}

// LeafHash computes the leaf digest for canonical-encoded Evidence bytes.
func LeafHash(encoded []byte) Digest {
	return Digest(blake3.Sum256(encoded))
}

func hashPair(left, right Digest) Digest {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return Digest(blake3.Sum256(buf))
}

// bagPeaks folds peak digests (descending height / left-to-right order)
// into the single bag-of-peaks root, reducing from the smallest
// (rightmost) peak upward: acc := peaks[last]; for i from len-2 downto 0,
// acc = H(peaks[i] ‖ acc).
func bagPeaks(peakDigests []Digest) Digest {
	n := len(peakDigests)
	acc := peakDigests[n-1]
	for i := n - 2; i >= 0; i-- {
		acc = hashPair(peakDigests[i], acc)
	}
	return acc
}

// Equal reports whether two digests are byte-identical. Exists so callers
// outside this package don't reach for bytes.Equal on array-typed values.
func Equal(a, b Digest) bool {
	return bytes.Equal(a[:], b[:])
}
