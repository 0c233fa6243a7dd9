// Package puffin implements the tagged blob container format that bundles
// inverted-index buffers and raw Tantivy-style segment files behind a
// self-describing footer (spec.md §3/§4.5, component C5).
package puffin

import (
	"encoding/binary"
	"encoding/json"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/errs"

	"go.corestream.dev/corestream/pkg/corerr"
)

// Error is this package's errs.Class.
var Error = errs.Class("puffin")

// Magic identifies a Puffin file; it appears at the head and the tail of
// the footer (spec.md §3).
var Magic = [4]byte{'P', 'F', 'A', '1'}

// MagicSize is len(Magic), the byte offset where the first blob begins.
const MagicSize = len(Magic)

// MinFileSize is the smallest a valid Puffin file can be: two magics plus
// an empty JSON payload plus the length and flags words.
const MinFileSize = MagicSize*2 + 2 + 4 + 4

// Compression identifies a blob's on-disk compression. Only None is
// required by this core; Lz4 and Zstd are reserved and must be rejected
// on read (spec.md §3/§6).
type Compression uint8

// Reserved compression codes, per spec.md §6.
const (
	CompressionNone Compression = 0
	CompressionLz4  Compression = 1
	CompressionZstd Compression = 2
)

// BlobMeta describes one blob's placement and metadata within the file.
type BlobMeta struct {
	BlobType    string      `json:"blob_type"`
	BlobKey     string      `json:"blob_key"`
	Offset      int64       `json:"offset"`
	Length      int64       `json:"length"`
	Compression Compression `json:"compression"`
}

// footerPayload is the JSON body between the two footer magics.
type footerPayload struct {
	Blobs []BlobMeta `json:"blobs"`
}

// flagCompressed marks the footer payload itself as zstd-compressed.
const flagCompressed uint32 = 1 << 0

// Error kinds specific to this package's on-open validation (spec.md §4.5).
var (
	ErrHeaderMagicMismatch = Error.New("header magic mismatch")
	ErrFooterMagicMismatch = Error.New("footer magic mismatch")
	ErrPayloadOffsetMismatch = Error.New("payload offset mismatch")
)

// ErrUnsupportedCompression reports a reserved-but-unimplemented codec.
func ErrUnsupportedCompression(c Compression) error {
	return Error.Wrap(corerr.Wrap(corerr.Unsupported, Error.New("unsupported blob compression %d", c)))
}

// ErrTooSmall reports a file smaller than MinFileSize.
func ErrTooSmall(actual int) error {
	return Error.New("file too small: min %d, actual %d", MinFileSize, actual)
}

func marshalPayload(blobs []BlobMeta, compress bool) (payload []byte, flags uint32, err error) {
	raw, err := json.Marshal(footerPayload{Blobs: blobs})
	if err != nil {
		return nil, 0, err
	}
	if !compress {
		return raw, 0, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, 0, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), flagCompressed, nil
}

func unmarshalPayload(payload []byte, flags uint32) ([]BlobMeta, error) {
	if flags&flagCompressed != 0 {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	var fp footerPayload
	if err := json.Unmarshal(payload, &fp); err != nil {
		return nil, err
	}
	return fp.Blobs, nil
}

func putUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
