package gcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// ObjectInfo describes one object in the source bucket.
type ObjectInfo struct {
	Name string
	Size int64
}

// Bucket wraps a GCS bucket with the list/read/archive operations the
// intake scanner needs.
type Bucket struct {
	handle        *storage.BucketHandle
	archivePrefix string
}

// NewBucket returns a Bucket for the named GCS bucket. archivePrefix
// is where processed source objects are copied; empty disables
// archival.
func NewBucket(client *storage.Client, name, archivePrefix string) *Bucket {
	return &Bucket{
		handle:        client.Bucket(name),
		archivePrefix: archivePrefix,
	}
}

// List returns all objects under the given prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
		}
		objects = append(objects, ObjectInfo{Name: attrs.Name, Size: attrs.Size})
	}
	return objects, nil
}

// Read returns the full contents of one object.
func (b *Bucket) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.handle.Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open reader for %q: %w", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", name, err)
	}
	return data, nil
}

// Archive copies a processed source object under the archive prefix.
// The copy only happens if the destination doesn't already exist, so
// rescans of the same object stay idempotent; a 412 precondition
// failure is not an error.
func (b *Bucket) Archive(ctx context.Context, name string) error {
	if b.archivePrefix == "" {
		return nil
	}
	src := b.handle.Object(name)
	dst := b.handle.Object(b.archivePrefix + name).If(storage.Conditions{DoesNotExist: true})
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 412 {
			slog.Info("SKIPPING: archive copy already exists.", "object", name)
			return nil
		}
		return fmt.Errorf("failed to archive %q: %w", name, err)
	}
	return nil
}
