package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore keeps account documents as objects namespaces/user_<uid>/<key>.json.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore wraps an existing client and bucket.
func NewGCSStore(client *gcs.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

func objectPrefix(ns Namespace) string {
	return path.Join("namespaces", ns.String()) + "/"
}

func objectName(ns Namespace, key Key) string {
	return objectPrefix(ns) + string(key) + ".json"
}

func (s *GCSStore) Load(ctx context.Context, ns Namespace, key Key) ([]byte, bool, error) {
	if ns.IsGuest() {
		return nil, false, ErrGuestNamespace
	}
	r, err := s.client.Bucket(s.bucket).Object(objectName(ns, key)).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("read object: %w", err)
	}
	return body, true, nil
}

func (s *GCSStore) Save(ctx context.Context, ns Namespace, key Key, data []byte) error {
	if ns.IsGuest() {
		return ErrGuestNamespace
	}
	w := s.client.Bucket(s.bucket).Object(objectName(ns, key)).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-store"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write to storage: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// LoadAll lists and reads every object under the account prefix.
func (s *GCSStore) LoadAll(ctx context.Context, ns Namespace) (map[Key][]byte, error) {
	if ns.IsGuest() {
		return nil, ErrGuestNamespace
	}
	prefix := objectPrefix(ns)
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})

	out := make(map[Key][]byte)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		key := Key(strings.TrimSuffix(strings.TrimPrefix(attrs.Name, prefix), ".json"))
		if !key.Valid() {
			continue
		}
		body, found, err := s.Load(ctx, ns, key)
		if err != nil {
			return nil, err
		}
		if found {
			out[key] = body
		}
	}
	return out, nil
}
