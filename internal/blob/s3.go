package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	appconfig "ingest/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// S3Store implements Store on an S3 bucket. Expiry of abandoned uploads is
// delegated to a bucket lifecycle rule on the upload key prefix, since S3 has
// no per-object TTL.
type S3Store struct {
	s3     *s3.Client
	bucket string
	region string
}

// NewS3Store creates an S3-backed blob store
func NewS3Store(cfg appconfig.S3Config) (*S3Store, error) {
	// Create custom credentials
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg)

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Msg("S3 blob store initialized")

	return &S3Store{
		s3:     client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Store uploads the payload under the task's key
func (s *S3Store) Store(ctx context.Context, taskID string, data []byte) (string, error) {
	key := KeyForTask(taskID)

	uploader := manager.NewUploader(s.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to upload blob to S3")
		return "", err
	}

	log.Debug().Str("key", key).Int("size", len(data)).Msg("Stored blob in S3")
	return key, nil
}

// Get downloads the payload
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrBlobNotFound
		}
		log.Error().Err(err).Str("key", key).Msg("Failed to get blob from S3")
		return nil, err
	}
	defer output.Body.Close()

	return io.ReadAll(output.Body)
}

// Delete removes the payload; S3 DeleteObject on an absent key succeeds
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to delete blob from S3")
		return err
	}

	return nil
}

// Exists reports whether the object is present
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ping lists at most one key to verify connectivity and credentials
func (s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}

// Close is a no-op; the S3 client holds no persistent connection
func (s *S3Store) Close() error {
	return nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
