package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/database"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// BlobStore attachment object storage
type BlobStore interface {
	Put(ctx context.Context, data []byte, meta domain.FileMeta) (string, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// objectKey attachments/<uuid>/<file name>
func objectKey(meta domain.FileMeta) string {
	name := path.Base(strings.ReplaceAll(meta.FileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return path.Join("attachments", uuid.NewString(), name)
}

// blobURL public URL when a base is configured, s3://bucket/key otherwise.
func blobURL(base, bucket, key string) string {
	if base != "" {
		return strings.TrimRight(base, "/") + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

func keyFromURL(base, bucket, url string) (string, error) {
	if base != "" {
		if prefix := strings.TrimRight(base, "/") + "/"; strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix), nil
		}
	}
	if prefix := fmt.Sprintf("s3://%s/", bucket); strings.HasPrefix(url, prefix) {
		return strings.TrimPrefix(url, prefix), nil
	}
	return "", domain.NewNotFoundError("blob.get", "url not served by this store")
}

type minioBlobStore struct {
	client  *database.MinIOClient
	baseURL string
}

// NewMinIOBlobStore BlobStore on a minio bucket
func NewMinIOBlobStore(client *database.MinIOClient, publicBaseURL string) BlobStore {
	return &minioBlobStore{client: client, baseURL: publicBaseURL}
}

func (s *minioBlobStore) Put(ctx context.Context, data []byte, meta domain.FileMeta) (string, error) {
	key := objectKey(meta)
	if err := s.client.PutBytes(ctx, key, data, meta.MimeType); err != nil {
		return "", domain.Transient("blob.put", err)
	}
	return blobURL(s.baseURL, s.client.BucketName, key), nil
}

func (s *minioBlobStore) Get(ctx context.Context, url string) ([]byte, error) {
	key, err := keyFromURL(s.baseURL, s.client.BucketName, url)
	if err != nil {
		return nil, err
	}
	data, err := s.client.GetBytes(ctx, key)
	return data, domain.Transient("blob.get", err)
}

type s3BlobStore struct {
	client  *database.S3Client
	baseURL string
}

// NewS3BlobStore BlobStore on an S3 bucket, uploads go through the
// multipart upload manager.
func NewS3BlobStore(client *database.S3Client, publicBaseURL string) BlobStore {
	return &s3BlobStore{client: client, baseURL: publicBaseURL}
}

func (s *s3BlobStore) Put(ctx context.Context, data []byte, meta domain.FileMeta) (string, error) {
	key := objectKey(meta)
	_, err := s.client.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.client.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(meta.MimeType),
	})
	if err != nil {
		return "", domain.Transient("blob.put", err)
	}
	return blobURL(s.baseURL, s.client.BucketName, key), nil
}

func (s *s3BlobStore) Get(ctx context.Context, url string) ([]byte, error) {
	key, err := keyFromURL(s.baseURL, s.client.BucketName, url)
	if err != nil {
		return nil, err
	}
	out, err := s.client.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.client.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, domain.Transient("blob.get", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	return data, domain.Transient("blob.get", err)
}

// MemoryBlobStore keeps blobs in a map, urls are mem://<key>
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	// FailNames file names whose Put fails, for degraded send paths
	FailNames map[string]bool
}

// NewMemoryBlobStore .
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte), FailNames: map[string]bool{}}
}

func (s *MemoryBlobStore) Put(_ context.Context, data []byte, meta domain.FileMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNames[meta.FileName] {
		return "", domain.Transient("blob.put", fmt.Errorf("upload of %s refused", meta.FileName))
	}
	url := "mem://" + objectKey(meta)
	s.blobs[url] = append([]byte(nil), data...)
	return url, nil
}

func (s *MemoryBlobStore) Get(_ context.Context, url string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[url]
	if !ok {
		return nil, domain.NewNotFoundError("blob.get", "blob not found")
	}
	return append([]byte(nil), data...), nil
}
