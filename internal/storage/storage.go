package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/streambro/backend/internal/config"
)

// Storage archives broadcast process logs in object storage so crashed
// streams can be diagnosed after the fact
type Storage struct {
	client     *minio.Client
	bucketName string
}

// New creates a new storage client
func New(cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
	}, nil
}

// ArchiveProcessLog uploads the captured log tail for a finished
// broadcast process and returns the object name
func (s *Storage) ArchiveProcessLog(ctx context.Context, streamID string, exitedAt time.Time, logTail []byte) (string, error) {
	objectName := fmt.Sprintf("logs/%s/%s.log", streamID, exitedAt.UTC().Format("20060102T150405Z"))

	_, err := s.client.PutObject(ctx, s.bucketName, objectName,
		bytes.NewReader(logTail), int64(len(logTail)),
		minio.PutObjectOptions{ContentType: "text/plain"})
	if err != nil {
		return "", fmt.Errorf("failed to upload process log: %w", err)
	}

	return objectName, nil
}
