// Package boltstore implements kvstore.Store on top of go.etcd.io/bbolt,
// grounded on the teacher's private/kvstore/boltdb client (single bucket,
// New(path, bucket) constructor, Close-on-shutdown ownership).
package boltstore

import (
	"context"

	"go.etcd.io/bbolt"

	"go.corestream.dev/corestream/pkg/corerr"
	"go.corestream.dev/corestream/pkg/kvstore"
)

// Error is this package's errs.Class.
var Error = corerr.Class("boltstore")

// Client is a bbolt-backed kvstore.Store scoped to a single bucket.
type Client struct {
	db     *bbolt.DB
	bucket []byte
}

// New opens (creating if necessary) the bbolt database at path and
// ensures bucket exists.
func New(path, bucket string) (*Client, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return &Client{db: db, bucket: []byte(bucket)}, nil
}

// Put writes key=value, overwriting any existing value.
func (c *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(c.bucket).Put(key, value)
	})
	if err != nil {
		return Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return nil
}

// Get returns the value for key, or corerr.KeyNotExists if absent.
func (c *Client) Get(ctx context.Context, key kvstore.Key) (kvstore.Value, error) {
	var value kvstore.Value
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(c.bucket).Get(key)
		if v == nil {
			return corerr.KeyNotExists
		}
		value = append(kvstore.Value(nil), v...)
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return value, nil
}

// Delete removes key; deleting a missing key is not an error (bbolt
// semantics, matching the teacher's boltdb client).
func (c *Client) Delete(ctx context.Context, key kvstore.Key) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(c.bucket).Delete(key)
	})
	if err != nil {
		return Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return nil
}

// Range visits every key in ascending order.
func (c *Client) Range(ctx context.Context, fn kvstore.IterateFunc) error {
	return c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(c.bucket).ForEach(func(k, v []byte) error {
			return fn(ctx, append(kvstore.Key(nil), k...), append(kvstore.Value(nil), v...))
		})
	})
}

// Close releases the underlying bbolt file handle.
func (c *Client) Close() error {
	if err := c.db.Close(); err != nil {
		return Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return nil
}
