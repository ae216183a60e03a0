// Package objectstore stores job text and synthesized audio in NATS JetStream
// object store buckets.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const wavContentType = "audio/wav"

// ErrNotFound is returned by Download for a key the bucket does not hold.
var ErrNotFound = errors.New("object not found")

// Bucket implements core.ObjectStore on one JetStream object store bucket.
type Bucket struct {
	name  string
	store nats.ObjectStore
}

// Open binds to bucketName, creating the bucket on first use.
func Open(jetstreamContext nats.JetStreamContext, bucketName string) (*Bucket, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: "tts-gateway " + bucketName,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to object store bucket '%s': %w", bucketName, err)
		}
	}

	return &Bucket{name: bucketName, store: store}, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Download reads the whole object stored under key.
func (b *Bucket) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.store.Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrNotFound, key, b.name)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, b.name, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous object.
func (b *Bucket) Upload(ctx context.Context, key string, data []byte) error {
	meta := &nats.ObjectMeta{Name: key}
	if bytes.HasPrefix(data, []byte("RIFF")) {
		meta.Headers = nats.Header{"Content-Type": []string{wavContentType}}
	}

	_, err := b.store.Put(meta, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, b.name, err)
	}

	return nil
}
