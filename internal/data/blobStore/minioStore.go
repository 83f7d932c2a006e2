package blobStore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/pkg/logger_i"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	minioInstance *MinioStore
	minioOnce     sync.Once
	minioLogger   *logger_i.Logger
)

type MinioStore struct {
	client *minio.Client
	bucket string
}

func GetMinioStore(ctx context.Context) *MinioStore {
	minioOnce.Do(func() {
		minioLogger = logger_i.NewLogger("Minio BlobStore")

		endpoint := os.Getenv("MINIO_ENDPOINT")
		if endpoint == "" {
			endpoint = config.MinioEndpoint
		}
		accessKey := os.Getenv("MINIO_ACCESS_KEY")
		if accessKey == "" {
			accessKey = config.MinioAccessKey
		}
		secretKey := os.Getenv("MINIO_SECRET_KEY")
		if secretKey == "" {
			secretKey = config.MinioSecretKey
		}

		client, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: config.MinioUseSSL,
		})
		if err != nil {
			minioLogger.Error("Could not create minio client", "error", err)
			return
		}

		bucket := config.MinioBucket
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			minioLogger.Error("Minio is offline", "error", err)
			return
		}
		if !exists {
			minioLogger.Info("Creating bucket", "bucket", bucket)
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				minioLogger.Error("Could not create bucket", "error", err)
				return
			}
		}

		minioLogger.Info("Minio blob store ready", "bucket", bucket)
		minioInstance = &MinioStore{client: client, bucket: bucket}
	})
	return minioInstance
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("%w: minio put: %v", kbModel.ErrTransientIO, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: minio get: %v", kbModel.ErrTransientIO, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, kbModel.ErrBlobUnavailable
		}
		return nil, fmt.Errorf("%w: minio read: %v", kbModel.ErrTransientIO, err)
	}
	return data, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return kbModel.ErrBlobUnavailable
		}
		return fmt.Errorf("%w: minio delete: %v", kbModel.ErrTransientIO, err)
	}
	return nil
}
