// Package index builds the per-column inverted index: a sorted
// term→posting-bitmap map packed behind an FST (spec.md §3/§4.4,
// component C4).
package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/blevesearch/vellum"
	"github.com/zeebo/errs"
)

// Error is this package's errs.Class.
var Error = errs.Class("index")

// SegmentLength is the compile-time row count per SegmentId
// (SegmentId = row_id / SegmentLength, spec.md §3).
const SegmentLength = 1024

// ColumnIndexer accumulates term→posting-bitmap entries for one column.
// Terms are kept in a plain map plus an insertion-order slice that Write
// sorts; push is idempotent for a repeated (term, segmentID) pair.
type ColumnIndexer struct {
	terms   map[string]*bitset
	order   []string // insertion order; re-sorted lazily in Write
	minLen  uint32
	maxLen  uint32
	minVal  []byte
	maxVal  []byte
	started bool
}

// NewColumnIndexer returns an empty indexer.
func NewColumnIndexer() *ColumnIndexer {
	return &ColumnIndexer{terms: make(map[string]*bitset)}
}

// Push inserts term into the term map if absent and ORs the bit at
// segmentID into its bitmap. termLen is the caller-observed byte length of
// the original term (tracked for min/max even if term is later
// normalized).
func (c *ColumnIndexer) Push(term []byte, segmentID uint32, termLen uint32) {
	key := string(term)
	bs, ok := c.terms[key]
	if !ok {
		bs = newBitset()
		c.terms[key] = bs
		c.order = append(c.order, key)
	}
	bs.set(segmentID)

	if !c.started {
		c.minVal, c.maxVal = append([]byte(nil), term...), append([]byte(nil), term...)
		c.minLen, c.maxLen = termLen, termLen
		c.started = true
		return
	}
	if bytes.Compare(term, c.minVal) < 0 {
		c.minVal = append([]byte(nil), term...)
	}
	if bytes.Compare(term, c.maxVal) > 0 {
		c.maxVal = append([]byte(nil), term...)
	}
	if termLen < c.minLen {
		c.minLen = termLen
	}
	if termLen > c.maxLen {
		c.maxLen = termLen
	}
}

// Empty reports whether no term has ever been pushed; callers skip Write
// for an empty indexer (spec.md §4.4 edge case).
func (c *ColumnIndexer) Empty() bool { return len(c.order) == 0 }

// ColumnIndexMeta describes a finalized per-column buffer.
type ColumnIndexMeta struct {
	MinVal            []byte `json:"min_val"`
	MaxVal            []byte `json:"max_val"`
	MinLen            uint32 `json:"min_len"`
	MaxLen            uint32 `json:"max_len"`
	RelativeFSTOffset uint64 `json:"relative_fst_offset"`
	FSTSize           uint64 `json:"fst_size"`
}

// pack combines (offset, size) into a single u64 as spec.md §4.4 dictates:
// offset in the high 32 bits, size in the low 32 bits.
func pack(offset, size uint32) uint64 {
	return (uint64(offset) << 32) | uint64(size)
}

// Unpack reverses pack, masking appropriately per spec.md §4.4.
func Unpack(v uint64) (offset, size uint32) {
	return uint32(v >> 32), uint32(v & 0xFFFFFFFF)
}

// Write emits terms in sorted order to out: each term's bitmap bytes,
// followed by the FST mapping term→pack(offset,size), the JSON-encoded
// meta, and a trailing 4-byte little-endian meta size (spec.md §3/§4.4).
func (c *ColumnIndexer) Write(out *bytes.Buffer) (ColumnIndexMeta, error) {
	if c.Empty() {
		return ColumnIndexMeta{}, Error.New("cannot write an empty indexer")
	}

	sorted := append([]string(nil), c.order...)
	sort.Strings(sorted) // strict bytewise lexicographic, as the FST requires

	type offsetSize struct {
		offset, size uint32
	}
	positions := make(map[string]offsetSize, len(sorted))

	startLen := out.Len()
	for _, term := range sorted {
		bs := c.terms[term]
		b := bs.bytes()
		offset := uint32(out.Len() - startLen)
		out.Write(b)
		positions[term] = offsetSize{offset: offset, size: uint32(len(b))}
	}

	fstBuf := new(bytes.Buffer)
	builder, err := vellum.New(fstBuf, nil)
	if err != nil {
		return ColumnIndexMeta{}, Error.Wrap(err)
	}
	for _, term := range sorted {
		pos := positions[term]
		if err := builder.Insert([]byte(term), pack(pos.offset, pos.size)); err != nil {
			return ColumnIndexMeta{}, Error.Wrap(err)
		}
	}
	if err := builder.Close(); err != nil {
		return ColumnIndexMeta{}, Error.Wrap(err)
	}

	relativeFSTOffset := uint64(out.Len() - startLen)
	out.Write(fstBuf.Bytes())

	meta := ColumnIndexMeta{
		MinVal:            c.minVal,
		MaxVal:            c.maxVal,
		MinLen:            c.minLen,
		MaxLen:            c.maxLen,
		RelativeFSTOffset: relativeFSTOffset,
		FSTSize:           uint64(fstBuf.Len()),
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return ColumnIndexMeta{}, Error.Wrap(err)
	}
	out.Write(metaJSON)

	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(len(metaJSON)))
	out.Write(sizeBuf)

	return meta, nil
}

// ReadMeta parses the trailing meta block of a per-column buffer: the last
// 4 bytes give the little-endian size of the preceding meta JSON
// (spec.md §6).
func ReadMeta(buf []byte) (ColumnIndexMeta, error) {
	if len(buf) < 4 {
		return ColumnIndexMeta{}, Error.New("buffer too small to contain a meta size")
	}
	metaSize := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if uint32(len(buf)) < metaSize+4 {
		return ColumnIndexMeta{}, Error.New("buffer too small to contain a meta block of size %d", metaSize)
	}
	metaJSON := buf[len(buf)-4-int(metaSize) : len(buf)-4]
	var meta ColumnIndexMeta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return ColumnIndexMeta{}, Error.Wrap(err)
	}
	return meta, nil
}

// OpenFST loads the FST embedded at buf[meta.RelativeFSTOffset:][:meta.FSTSize].
func OpenFST(buf []byte, meta ColumnIndexMeta) (*vellum.FST, error) {
	start := meta.RelativeFSTOffset
	end := start + meta.FSTSize
	if end > uint64(len(buf)) {
		return nil, Error.New("fst range out of bounds")
	}
	fst, err := vellum.Load(buf[start:end])
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return fst, nil
}

// ReadPostingBitmap returns the bitmap bytes at [offset, offset+size)
// within buf, for a (offset, size) pair unpacked from an FST value.
func ReadPostingBitmap(buf []byte, offset, size uint32) []byte {
	return buf[offset : offset+size]
}

// Contains reports whether segmentID's bit is set in a serialized bitmap.
func Contains(bitmapBytes []byte, segmentID uint32) bool {
	return parseBitset(bitmapBytes).test(segmentID)
}
