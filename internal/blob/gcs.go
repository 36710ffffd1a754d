package blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"
)

var _ Store = (*GCSStore)(nil)

// GCSStore writes objects to a Cloud Storage bucket.
type GCSStore struct {
	service *gcs.Service
	bucket  string
	prefix  string
}

// NewGCSStore uses application default credentials unless opts say
// otherwise.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	service, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSStore{service: service, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	key, err := cleanKey(key)
	if err != nil {
		return 0, err
	}
	name := key
	if s.prefix != "" {
		name = path.Join(s.prefix, key)
	}

	counter := &countingReader{r: r}
	object := &gcs.Object{Name: name, ContentType: contentType}
	_, err = s.service.Objects.Insert(s.bucket, object).
		Media(counter, googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("uploading %s: %w", name, err)
	}
	return counter.n, nil
}

// Ping reads the bucket metadata.
func (s *GCSStore) Ping(ctx context.Context) error {
	_, err := s.service.Buckets.Get(s.bucket).Context(ctx).Do()
	return err
}
