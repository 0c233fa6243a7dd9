package wal

import (
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// EntryHandler dispatches one successfully-read WAL entry into the ingest
// pipeline (C2). Returning an error aborts replay of the current file
// only; spec.md §4.1 scopes corruption handling per-file.
type EntryHandler func(header Header, payload []byte) error

// Replay lists every *.wal file under root and replays each one in turn,
// dispatching entries to handle. A file whose trailing entry is truncated
// is accepted up to the last full entry, then truncated to that position
// so it can be reused as a Writer target.
func Replay(root string, log *zap.Logger, handle EntryHandler) error {
	files, err := globWAL(root)
	if err != nil {
		return Error.Wrap(err)
	}

	for _, path := range files {
		if err := replayFile(path, log, handle); err != nil {
			log.Error("wal replay failed for segment, skipping remainder", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

func replayFile(path string, log *zap.Logger, handle EntryHandler) error {
	r, err := OpenForRead(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for {
		payload, err := r.ReadEntry()
		if err != nil {
			// Corruption: halt replay for this file only.
			return err
		}
		if payload == nil {
			break
		}
		if err := handle(r.Header(), payload); err != nil {
			return err
		}
	}

	pos := r.CurrentPosition()
	if err := Truncate(path, pos); err != nil {
		log.Warn("failed to truncate replayed wal segment", zap.String("path", path), zap.Error(err))
	}
	return nil
}

// globWAL recursively finds every *.wal file under root.
func globWAL(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				// root itself is missing: nothing to replay yet.
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".wal") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
