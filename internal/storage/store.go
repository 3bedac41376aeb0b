// Package storage defines the object store gateway used by the ingest
// pipeline. The abstraction keeps the ledger and orchestrator independent
// of a specific backend (Google Cloud Storage, the local filesystem, or
// an in-memory store for tests).
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the gateway to the blob backend. Keys are hierarchical
// strings; "latest" selection is always max LastModified under a prefix.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// LatestKey returns the key with the greatest LastModified under prefix,
// or ErrNotFound when the prefix is empty.
func LatestKey(ctx context.Context, store ObjectStore, prefix string) (ObjectInfo, error) {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("list %q: %w", prefix, err)
	}
	if len(objects) == 0 {
		return ObjectInfo{}, ErrNotFound
	}
	latest := objects[0]
	for _, obj := range objects[1:] {
		if obj.LastModified.After(latest.LastModified) {
			latest = obj
		}
	}
	return latest, nil
}

// GetLatest reads the newest object under prefix.
func GetLatest(ctx context.Context, store ObjectStore, prefix string) ([]byte, error) {
	info, err := LatestKey(ctx, store, prefix)
	if err != nil {
		return nil, err
	}
	data, err := store.Get(ctx, info.Key)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", info.Key, err)
	}
	return data, nil
}

// PruneOldObjects deletes all but the newest keep objects under prefix.
// Deletion failures are collected so a single bad key does not stop the
// sweep.
func PruneOldObjects(ctx context.Context, store ObjectStore, prefix string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %q: %w", prefix, err)
	}
	if len(objects) <= keep {
		return nil
	}
	// Newest first.
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
	var errs []error
	for _, obj := range objects[keep:] {
		if err := store.Delete(ctx, obj.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete %q: %w", obj.Key, err))
		}
	}
	return errors.Join(errs...)
}
