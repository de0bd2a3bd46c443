package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink stores finished batches.
type Sink interface {
	Put(ctx context.Context, key string, body []byte) error
}

// DirSink writes batches as files under Root, using the key as the
// relative path.
type DirSink struct {
	Root string
}

// Put writes body atomically via a temporary file and rename.
func (d DirSink) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(d.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".batch-*")
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

// PutObjectAPI is the part of *s3.Client the S3 sink uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads batches to a bucket.
type S3Sink struct {
	client PutObjectAPI
	bucket string
}

// NewS3Sink returns a sink writing to bucket through client.
func NewS3Sink(client PutObjectAPI, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

// NewS3SinkFromEnv builds an S3 client from the default AWS credential
// chain (environment, shared config, instance role).
func NewS3SinkFromEnv(ctx context.Context, bucket string) (*S3Sink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	return NewS3Sink(s3.NewFromConfig(cfg), bucket), nil
}

// Put uploads body under key.
func (s *S3Sink) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"archived-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

const contentType = "application/x-ndjson"
