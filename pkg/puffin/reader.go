package puffin

import (
	"bytes"
	"context"
	"encoding/binary"

	"go.corestream.dev/corestream/pkg/corerr"
	"go.corestream.dev/corestream/pkg/objectstore"
)

// Reader parses a Puffin file's footer once at Open and serves subsequent
// blob reads from the pinned blob list, per the footer-cache invariant in
// spec.md §4.6: "once a file's footer is read ... subsequent calls must
// not re-read the footer."
type Reader struct {
	store  objectstore.Store
	path   string
	size   int64
	blobs  []BlobMeta
}

// Open validates the head/foot magic, parses the footer, and returns a
// Reader with the blob list pinned in memory.
func Open(ctx context.Context, store objectstore.Store, path string) (*Reader, error) {
	size, err := store.Size(ctx, path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if size < int64(MinFileSize) {
		return nil, ErrTooSmall(int(size))
	}

	head, err := store.GetRange(ctx, path, 0, int64(MagicSize))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !bytes.Equal(head, Magic[:]) {
		return nil, ErrHeaderMagicMismatch
	}

	tail, err := store.GetRange(ctx, path, size-int64(MagicSize), int64(MagicSize))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !bytes.Equal(tail, Magic[:]) {
		return nil, ErrFooterMagicMismatch
	}

	// flags(u32) ‖ MAGIC sits immediately before the tail magic;
	// payload_len(u32) sits before that.
	trailer, err := store.GetRange(ctx, path, size-int64(MagicSize)-8, 8)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	payloadLen := binary.LittleEndian.Uint32(trailer[0:4])
	flags := binary.LittleEndian.Uint32(trailer[4:8])

	payloadStart := size - int64(MagicSize) - 8 - int64(payloadLen)
	footerHeadStart := payloadStart - int64(MagicSize)
	if footerHeadStart < int64(MagicSize) {
		return nil, ErrPayloadOffsetMismatch
	}

	footerHead, err := store.GetRange(ctx, path, footerHeadStart, int64(MagicSize))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !bytes.Equal(footerHead, Magic[:]) {
		return nil, ErrFooterMagicMismatch
	}

	payload, err := store.GetRange(ctx, path, payloadStart, int64(payloadLen))
	if err != nil {
		return nil, Error.Wrap(err)
	}

	blobs, err := unmarshalPayload(payload, flags)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	// The last blob ends where the footer-head MAGIC begins, not at
	// payloadStart: Finish writes MAGIC between the last blob and the
	// serialized payload.
	if err := validateContiguous(blobs, size, footerHeadStart); err != nil {
		return nil, err
	}

	return &Reader{store: store, path: path, size: size, blobs: blobs}, nil
}

// validateContiguous enforces: blob offsets are strictly contiguous
// starting at MagicSize, and the last blob ends exactly where the
// footer-head MAGIC begins (spec.md §3/§8).
func validateContiguous(blobs []BlobMeta, fileSize, footerStart int64) error {
	want := int64(MagicSize)
	for _, b := range blobs {
		if b.Offset != want {
			return ErrPayloadOffsetMismatch
		}
		want += b.Length
	}
	if len(blobs) > 0 && want != footerStart {
		return ErrPayloadOffsetMismatch
	}
	return nil
}

// Blobs returns the pinned blob list.
func (r *Reader) Blobs() []BlobMeta {
	return append([]BlobMeta(nil), r.blobs...)
}

// ReadBlob returns the bytes of blob, optionally restricted to rng, a
// sub-range of [blob.Offset, blob.Offset+blob.Length). Rejects reserved
// compression codes the core does not implement.
func (r *Reader) ReadBlob(ctx context.Context, blob BlobMeta, rng *objectstore.Range) ([]byte, error) {
	if blob.Compression != CompressionNone {
		return nil, ErrUnsupportedCompression(blob.Compression)
	}

	start, length := blob.Offset, blob.Length
	if rng != nil {
		if rng.Start < 0 || rng.End > blob.Length {
			return nil, Error.Wrap(corerr.IoError)
		}
		start = blob.Offset + rng.Start
		length = rng.End - rng.Start
	}
	return r.store.GetRange(ctx, r.path, start, length)
}

// FindBlob returns the first blob with the given key, or (BlobMeta{}, false).
func (r *Reader) FindBlob(key string) (BlobMeta, bool) {
	for _, b := range r.blobs {
		if b.BlobKey == key {
			return b, true
		}
	}
	return BlobMeta{}, false
}
