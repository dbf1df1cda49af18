// Package evidence defines the Evidence record and its frozen binary
// encoding: the single source of truth for "bytes that get signed/hashed".
// This is distinct from, and never used by, internal/canonical's
// deterministic-JSON encoder — that one serves the export envelope in
// internal/export, not the signing path.
package evidence

import (
	"encoding/binary"
	"fmt"
)

// Evidence is the unit of notarization. Field order here is part of the
// signed encoding — see Encode — and must never change.
type Evidence struct {
	ImageSHA256           [32]byte
	ImagePHash            uint64
	Verdict               bool
	Confidence            string
	ActivatedPrompts      []uint32
	PromptPoolHash        [32]byte
	ExternalKnowledgeHash [32]byte
	Timestamp             int64
	Source                *string
}

// Encode produces the canonical binary pre-image used both for signing and
// for leaf hashing. Rules (frozen):
//   - integers little-endian, fixed width
//   - booleans: one byte, 0x00/0x01
//   - fixed-length byte arrays: raw, no length prefix
//   - variable-length bytes/strings: u32 LE length prefix + raw bytes
//   - sequences: u32 LE element count + elements in order
//   - optionals: presence byte (0x00/0x01), then the value if present
//   - structures: fields concatenated in declared order
//
// No JSON or any other whitespace-sensitive encoding may appear on this
// path.
func (e *Evidence) Encode() []byte {
	buf := make([]byte, 0, 128+len(e.Confidence)+4*len(e.ActivatedPrompts))

	buf = append(buf, e.ImageSHA256[:]...)

	var phash [8]byte
	binary.LittleEndian.PutUint64(phash[:], e.ImagePHash)
	buf = append(buf, phash[:]...)

	if e.Verdict {
		buf = append(buf, 0x01)
	} else {
		buf = append(buf, 0x00)
	}

	buf = appendVarBytes(buf, []byte(e.Confidence))

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(e.ActivatedPrompts)))
	buf = append(buf, count[:]...)
	var elem [4]byte
	for _, p := range e.ActivatedPrompts {
		binary.LittleEndian.PutUint32(elem[:], p)
		buf = append(buf, elem[:]...)
	}

	buf = append(buf, e.PromptPoolHash[:]...)
	buf = append(buf, e.ExternalKnowledgeHash[:]...)

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(e.Timestamp))
	buf = append(buf, ts[:]...)

	if e.Source == nil {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		buf = appendVarBytes(buf, []byte(*e.Source))
	}

	return buf
}

func appendVarBytes(buf []byte, b []byte) []byte {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(b)))
	buf = append(buf, length[:]...)
	return append(buf, b...)
}

// Decode is the inverse of Encode, used by tests and by auditors
// reconstructing Evidence from a stored or replayed encoding.
func Decode(b []byte) (*Evidence, error) {
	e := &Evidence{}
	r := &reader{buf: b}

	if err := r.fixed(e.ImageSHA256[:]); err != nil {
		return nil, fmt.Errorf("image_sha256: %w", err)
	}

	phash, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("image_phash: %w", err)
	}
	e.ImagePHash = phash

	verdict, err := r.byte1()
	if err != nil {
		return nil, fmt.Errorf("verdict: %w", err)
	}
	e.Verdict = verdict == 0x01

	confidence, err := r.varBytes()
	if err != nil {
		return nil, fmt.Errorf("confidence: %w", err)
	}
	e.Confidence = string(confidence)

	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("activated_prompts count: %w", err)
	}
	e.ActivatedPrompts = make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("activated_prompts[%d]: %w", i, err)
		}
		e.ActivatedPrompts = append(e.ActivatedPrompts, v)
	}

	if err := r.fixed(e.PromptPoolHash[:]); err != nil {
		return nil, fmt.Errorf("prompt_pool_hash: %w", err)
	}
	if err := r.fixed(e.ExternalKnowledgeHash[:]); err != nil {
		return nil, fmt.Errorf("external_knowledge_hash: %w", err)
	}

	ts, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	e.Timestamp = int64(ts)

	present, err := r.byte1()
	if err != nil {
		return nil, fmt.Errorf("source presence: %w", err)
	}
	if present == 0x01 {
		src, err := r.varBytes()
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
		s := string(src)
		e.Source = &s
	}

	if r.off != len(r.buf) {
		return nil, fmt.Errorf("trailing bytes after decode: %d remaining", len(r.buf)-r.off)
	}
	return e, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return fmt.Errorf("unexpected end of buffer")
	}
	return nil
}

func (r *reader) fixed(dst []byte) error {
	if err := r.need(len(dst)); err != nil {
		return err
	}
	copy(dst, r.buf[r.off:r.off+len(dst)])
	r.off += len(dst)
	return nil
}

func (r *reader) byte1() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v, nil
}

func (r *reader) varBytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}
