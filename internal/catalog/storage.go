package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Blob is a raw document source for a manifest or taxonomy
type Blob interface {
	Load(ctx context.Context) ([]byte, error)
}

// FileBlob reads a document from the local filesystem
type FileBlob struct {
	FilePath string
}

func NewFileBlob(filePath string) *FileBlob {
	return &FileBlob{FilePath: filePath}
}

func (f *FileBlob) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.FilePath, err)
	}
	return data, nil
}

// S3Blob reads a document from an S3 object
type S3Blob struct {
	bucket string
	key    string
	s3     *s3.Client
}

func NewS3Blob(s3Client *s3.Client, bucket, key string) *S3Blob {
	return &S3Blob{
		bucket: bucket,
		key:    key,
		s3:     s3Client,
	}
}

func (s *S3Blob) Load(ctx context.Context) ([]byte, error) {
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// StaticBlob is an in-memory document, used in tests and for embedded fixtures
type StaticBlob struct {
	data []byte
	err  error
}

func NewStaticBlob(data []byte) *StaticBlob {
	return &StaticBlob{data: data}
}

func NewStaticBlobWithError() *StaticBlob {
	return &StaticBlob{err: errors.New("not found")}
}

func (b *StaticBlob) Load(ctx context.Context) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.data, nil
}
