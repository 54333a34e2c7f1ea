package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/maneesh/smilewall/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// minioAPI is the subset of *minio.Client the store needs
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

var newMinioClient = func(endpoint string, opts *minio.Options) (minioAPI, error) {
	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// MinioStore keeps blobs as objects in a MinIO bucket
type MinioStore struct {
	client     minioAPI
	bucketName string
	names      *NameGenerator
	logger     zerolog.Logger
}

// NewMinioStore initializes a MinIO client and ensures the bucket exists
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool, logger zerolog.Logger) (*MinioStore, error) {
	client, err := newMinioClient(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return newMinioStore(ctx, client, bucketName, logger)
}

func newMinioStore(ctx context.Context, client minioAPI, bucketName string, logger zerolog.Logger) (*MinioStore, error) {
	ms := &MinioStore{
		client:     client,
		bucketName: bucketName,
		names:      NewNameGenerator(),
		logger:     logger.With().Str("component", "minio-store").Logger(),
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		ms.logger.Info().Str("bucket", bucketName).Msg("creating bucket")
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return ms, nil
}

// Store uploads data under a fresh name, skipping names already present
func (ms *MinioStore) Store(ctx context.Context, data []byte, ext string) (string, error) {
	ctx, span := tracer.Start(ctx, "minio.store",
		trace.WithAttributes(attribute.Int("size_bytes", len(data))),
	)
	defer span.End()

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := ms.names.Next(ext)

		if _, err := ms.client.StatObject(ctx, ms.bucketName, name, minio.StatObjectOptions{}); err == nil {
			continue
		}

		_, err := ms.client.PutObject(ctx, ms.bucketName, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: ContentTypeFor(name),
		})
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("failed to upload blob: %w", err)
		}

		span.SetAttributes(attribute.String("blob_name", name))
		return name, nil
	}

	return "", fmt.Errorf("failed to allocate a unique blob name after %d attempts", maxNameAttempts)
}

// Open returns the object; minio.Object is an io.ReadSeeker
func (ms *MinioStore) Open(ctx context.Context, name string) (*Blob, error) {
	ctx, span := tracer.Start(ctx, "minio.open",
		trace.WithAttributes(attribute.String("blob_name", name)),
	)
	defer span.End()

	if !ValidName(name) {
		return nil, ErrBlobNotFound
	}

	object, err := ms.client.GetObject(ctx, ms.bucketName, name, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	info, err := object.Stat()
	if err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrBlobNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(name)
	}

	return &Blob{
		Body:        object,
		Size:        info.Size,
		ModTime:     info.LastModified,
		ContentType: contentType,
	}, nil
}

// Delete removes the object. S3 semantics make a missing key a no-op.
func (ms *MinioStore) Delete(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "minio.delete",
		trace.WithAttributes(attribute.String("blob_name", name)),
	)
	defer span.End()

	err := ms.client.RemoveObject(ctx, ms.bucketName, name, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			ms.logger.Warn().Str("filename", name).Msg("blob already absent")
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// List enumerates the bucket
func (ms *MinioStore) List(ctx context.Context) ([]models.BlobInfo, error) {
	ctx, span := tracer.Start(ctx, "minio.list")
	defer span.End()

	var infos []models.BlobInfo
	for object := range ms.client.ListObjects(ctx, ms.bucketName, minio.ListObjectsOptions{}) {
		if object.Err != nil {
			span.RecordError(object.Err)
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		infos = append(infos, models.BlobInfo{
			Name:    object.Key,
			Size:    object.Size,
			ModTime: object.LastModified,
		})
	}

	span.SetAttributes(attribute.Int("object_count", len(infos)))
	return infos, nil
}
