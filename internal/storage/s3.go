package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// s3API is the subset of *s3.Client the store needs
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Options configures an S3Store
type S3Options struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Store keeps blobs as objects in an S3 bucket
type S3Store struct {
	client s3API
	bucket string
	region string
	names  *NameGenerator
	logger zerolog.Logger
}

// NewS3Store builds an S3 client from the default AWS chain, overridden by
// static credentials and a custom endpoint when given, and ensures the bucket
func NewS3Store(ctx context.Context, opts S3Options, logger zerolog.Logger) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return newS3Store(ctx, client, opts.Bucket, opts.Region, logger)
}

func newS3Store(ctx context.Context, client s3API, bucket, region string, logger zerolog.Logger) (*S3Store, error) {
	ss := &S3Store{
		client: client,
		bucket: bucket,
		region: region,
		names:  NewNameGenerator(),
		logger: logger.With().Str("component", "s3-store").Logger(),
	}
	if err := ss.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return ss, nil
}

func (ss *S3Store) ensureBucket(ctx context.Context) error {
	_, err := ss.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(ss.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	ss.logger.Info().Str("bucket", ss.bucket).Msg("creating bucket")
	in := &s3.CreateBucketInput{Bucket: aws.String(ss.bucket)}
	if ss.region != "" && ss.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(ss.region),
		}
	}
	if _, err := ss.client.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Store uploads data under a fresh name, skipping names already present
func (ss *S3Store) Store(ctx context.Context, data []byte, ext string) (string, error) {
	ctx, span := tracer.Start(ctx, "s3.store",
		trace.WithAttributes(attribute.Int("size_bytes", len(data))),
	)
	defer span.End()

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := ss.names.Next(ext)

		if _, err := ss.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(ss.bucket), Key: aws.String(name)}); err == nil {
			continue
		}

		_, err := ss.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(ss.bucket),
			Key:           aws.String(name),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(ContentTypeFor(name)),
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

// Open streams the object body; it is not seekable
func (ss *S3Store) Open(ctx context.Context, name string) (*Blob, error) {
	ctx, span := tracer.Start(ctx, "s3.open",
		trace.WithAttributes(attribute.String("blob_name", name)),
	)
	defer span.End()

	if !ValidName(name) {
		return nil, ErrBlobNotFound
	}

	out, err := ss.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(ss.bucket), Key: aws.String(name)})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrBlobNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	blob := &Blob{
		Body:        out.Body,
		Size:        aws.ToInt64(out.ContentLength),
		ModTime:     aws.ToTime(out.LastModified),
		ContentType: aws.ToString(out.ContentType),
	}
	if blob.ContentType == "" {
		blob.ContentType = ContentTypeFor(name)
	}
	return blob, nil
}

// Delete removes the object. DeleteObject on a missing key succeeds.
func (ss *S3Store) Delete(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "s3.delete",
		trace.WithAttributes(attribute.String("blob_name", name)),
	)
	defer span.End()

	_, err := ss.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(ss.bucket), Key: aws.String(name)})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			ss.logger.Warn().Str("filename", name).Msg("blob already absent")
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List pages through the bucket
func (ss *S3Store) List(ctx context.Context) ([]models.BlobInfo, error) {
	ctx, span := tracer.Start(ctx, "s3.list")
	defer span.End()

	var infos []models.BlobInfo
	paginator := s3.NewListObjectsV2Paginator(ss.client, &s3.ListObjectsV2Input{Bucket: aws.String(ss.bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, object := range page.Contents {
			infos = append(infos, models.BlobInfo{
				Name:    aws.ToString(object.Key),
				Size:    aws.ToInt64(object.Size),
				ModTime: aws.ToTime(object.LastModified),
			})
		}
	}

	span.SetAttributes(attribute.Int("object_count", len(infos)))
	return infos, nil
}
