package puffin

import (
	"context"
	"path"
	"strings"
	"sync"

	"go.corestream.dev/corestream/pkg/objectstore"
)

// BuilderDirectory is the write-through virtual directory described in
// spec.md §4.5/§9: it records every file a segment builder "opens for
// write" (standing in for Tantivy's directory trait) so that, at
// FinishAndPack, exactly those files are serialized into Puffin blobs.
// Scoped to a builder; Close removes all entries.
type BuilderDirectory struct {
	mu     sync.Mutex
	prefix string
	files  map[string][]byte
}

// NewBuilderDirectory returns an empty directory scoped under prefix.
func NewBuilderDirectory(prefix string) *BuilderDirectory {
	return &BuilderDirectory{prefix: prefix, files: make(map[string][]byte)}
}

// WriteFile records data under the virtual absolute path prefix/name.
func (d *BuilderDirectory) WriteFile(name string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[path.Join(d.prefix, name)] = append([]byte(nil), data...)
}

// allowedExtensions are the Tantivy segment file extensions (plus
// meta.json) packed into the Puffin blob sequence for the O2TtvV1 type
// (spec.md §4.5).
var allowedExtensions = map[string]bool{
	".idx": true, ".pos": true, ".term": true, ".fast": true,
	".store": true, ".fieldnorm": true, ".json": true,
}

// FinishAndPack filters recorded files by allowedExtensions plus
// meta.json, and serializes them into a single Puffin blob sequence typed
// O2TtvV1.
func (d *BuilderDirectory) FinishAndPack() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := NewWriter()
	for name, data := range d.files {
		base := path.Base(name)
		ext := path.Ext(base)
		if !allowedExtensions[ext] && base != "meta.json" {
			continue
		}
		w.AddBlob("O2TtvV1", strings.TrimPrefix(name, d.prefix+"/"), data)
	}
	return w.Finish(false)
}

// Close removes all entries owned by this builder (spec.md §3 ownership:
// "dropping the scope removes all entries with the builder's prefix").
func (d *BuilderDirectory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = nil
}

// ReadDirectory exposes a Reader's O2TtvV1 blobs as a read-only directory
// for a Tantivy-style segment reader: each blob's key is the virtual file
// path, and bytes are served through the range cache (C6) via fetch.
type ReadDirectory struct {
	reader *Reader
	fetch  func(ctx context.Context, path string, rng objectstore.Range) ([]byte, error)
}

// NewReadDirectory wraps reader; fetch should route through the footer +
// range cache (C6) rather than re-reading the Puffin file directly.
func NewReadDirectory(reader *Reader, fetch func(ctx context.Context, path string, rng objectstore.Range) ([]byte, error)) *ReadDirectory {
	return &ReadDirectory{reader: reader, fetch: fetch}
}

// ReadBytes returns [rng.Start, rng.End) of the virtual file at name.
func (d *ReadDirectory) ReadBytes(ctx context.Context, name string, rng objectstore.Range) ([]byte, error) {
	blob, ok := d.reader.FindBlob(name)
	if !ok {
		return nil, Error.New("no such virtual file: %s", name)
	}
	if d.fetch != nil {
		return d.fetch(ctx, name, rng)
	}
	return d.reader.ReadBlob(ctx, blob, &rng)
}

// FileNames lists every virtual file path exposed by this directory.
func (d *ReadDirectory) FileNames() []string {
	blobs := d.reader.Blobs()
	names := make([]string, 0, len(blobs))
	for _, b := range blobs {
		if b.BlobType == "O2TtvV1" {
			names = append(names, b.BlobKey)
		}
	}
	return names
}
