package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// GCSStorage uses application default credentials.
type GCSStorage struct {
	client *gcs.Client
}

func NewGCSStorage(ctx context.Context) (*GCSStorage, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStorage{client: client}, nil
}

func (s *GCSStorage) Upload(ctx context.Context, bucket, path string, data io.Reader, contentType string) error {
	w := s.client.Bucket(bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("gcs write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs finalize %s: %w", path, err)
	}
	return nil
}

func (s *GCSStorage) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("gcs read gs://%s/%s: %w", bucket, path, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs read gs://%s/%s: %w", bucket, path, err)
	}
	return r, nil
}

func (s *GCSStorage) Delete(ctx context.Context, bucket, path string) error {
	err := s.client.Bucket(bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", path, err)
	}
	return nil
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}
