package puffin

import (
	"bytes"
)

// Writer builds a Puffin file in memory: each added blob is appended at
// the current offset, and Finish() serializes the footer.
type Writer struct {
	buf       bytes.Buffer
	blobs     []BlobMeta
	nextOffset int64
}

// NewWriter returns a Writer with the head Magic already written.
func NewWriter() *Writer {
	w := &Writer{}
	w.buf.Write(Magic[:])
	w.nextOffset = int64(MagicSize)
	return w
}

// AddBlob appends data at the current offset under (blobType, blobKey),
// recording it uncompressed (only None is required by this core).
func (w *Writer) AddBlob(blobType, blobKey string, data []byte) {
	offset := w.nextOffset
	w.buf.Write(data)
	w.nextOffset += int64(len(data))
	w.blobs = append(w.blobs, BlobMeta{
		BlobType:    blobType,
		BlobKey:     blobKey,
		Offset:      offset,
		Length:      int64(len(data)),
		Compression: CompressionNone,
	})
}

// Finish writes the footer (MAGIC ‖ payload ‖ payload_len ‖ flags ‖ MAGIC)
// and returns the complete file bytes. compressPayload requests zstd
// compression of the JSON payload, setting the COMPRESSED flag.
func (w *Writer) Finish(compressPayload bool) ([]byte, error) {
	w.buf.Write(Magic[:])

	payload, flags, err := marshalPayload(w.blobs, compressPayload)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	w.buf.Write(payload)
	w.buf.Write(putUint32(uint32(len(payload))))
	w.buf.Write(putUint32(flags))
	w.buf.Write(Magic[:])

	return w.buf.Bytes(), nil
}

// Blobs returns the blob metadata recorded so far, in write order.
func (w *Writer) Blobs() []BlobMeta {
	return append([]BlobMeta(nil), w.blobs...)
}
