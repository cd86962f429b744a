// Package gcs persists the property collection as a single object in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	storagecodec "github.com/JakeFAU/listing-crawler/internal/storage"
)

const defaultMaxAttempts = 5

// Config captures the parameters required to locate the collection object.
type Config struct {
	Bucket string
	Object string
	// MaxAttempts bounds the compare-and-swap retries in Update.
	MaxAttempts int
}

// objectStore is the narrow view of GCS the store needs. A generation of 0
// means the object does not exist.
type objectStore interface {
	Read(ctx context.Context, name string) ([]byte, int64, error)
	Write(ctx context.Context, name string, data []byte, ifGeneration int64) error
}

// Store keeps the collection in one object and serializes writers with
// generation preconditions.
type Store struct {
	objects     objectStore
	object      string
	maxAttempts int
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return newStore(&bucketObjects{bucket: client.Bucket(cfg.Bucket)}, cfg)
}

func newStore(objects objectStore, cfg Config) (*Store, error) {
	object := strings.TrimSpace(cfg.Object)
	if object == "" {
		object = "properties.json"
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Store{objects: objects, object: object, maxAttempts: attempts}, nil
}

// Load reads the collection. A missing object is an empty collection.
func (s *Store) Load(ctx context.Context) ([]crawler.Property, error) {
	data, _, err := s.objects.Read(ctx, s.object)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.object, err)
	}
	return storagecodec.Unmarshal(data) //nolint:wrapcheck
}

// Update performs read-modify-write guarded by the object generation,
// retrying on conflict up to the configured attempts.
func (s *Store) Update(ctx context.Context, fn crawler.UpdateFunc) ([]crawler.Property, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		data, generation, err := s.objects.Read(ctx, s.object)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.object, err)
		}
		current, err := storagecodec.Unmarshal(data)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		next, err := storagecodec.Apply(current, fn)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		encoded, err := storagecodec.Marshal(next)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		err = s.objects.Write(ctx, s.object, encoded, generation)
		if err == nil {
			return crawler.CloneAll(next), nil
		}
		if !errors.Is(err, storagecodec.ErrConflict) {
			return nil, fmt.Errorf("write %s: %w", s.object, err)
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr //nolint:wrapcheck
		}
	}
	return nil, fmt.Errorf("update %s after %d attempts: %w", s.object, s.maxAttempts, lastErr)
}

type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b *bucketObjects) Read(ctx context.Context, name string) ([]byte, int64, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open reader: %w", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("read object: %w", err)
	}
	return data, r.Attrs.Generation, nil
}

func (b *bucketObjects) Write(ctx context.Context, name string, data []byte, ifGeneration int64) error {
	obj := b.bucket.Object(name)
	if ifGeneration == 0 {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		obj = obj.If(storage.Conditions{GenerationMatch: ifGeneration})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return classifyWriteError(err)
	}
	if err := w.Close(); err != nil {
		return classifyWriteError(err)
	}
	return nil
}

func classifyWriteError(err error) error {
	if isPreconditionFailed(err) {
		return fmt.Errorf("%w: %v", storagecodec.ErrConflict, err)
	}
	return fmt.Errorf("write object: %w", err)
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
