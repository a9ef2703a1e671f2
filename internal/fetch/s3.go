package fetch

import (
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bassnotion/assetcache/internal/config"
	"github.com/bassnotion/assetcache/pkg/errors"
	"github.com/bassnotion/assetcache/pkg/utils"
)

// s3API is the slice of the S3 client the fetcher needs. Tests substitute
// a fake.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher loads assets from an S3-compatible object store. It satisfies
// types.AssetFetcher; wrap it with NewGuardedFetcher for retry and
// circuit breaking.
type S3Fetcher struct {
	client    s3API
	bucket    string
	keyPrefix string
	logger    *utils.StructuredLogger
}

// S3Credentials optionally overrides the ambient AWS credential chain.
type S3Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Fetcher builds an S3 fetcher from the fetch configuration. The
// endpoint override and path-style addressing support MinIO and other
// S3-compatible stores.
func NewS3Fetcher(ctx context.Context, cfg config.S3Config, creds *S3Credentials, logger *utils.StructuredLogger) (*S3Fetcher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "s3 bucket cannot be empty")
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if creds != nil {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Fetcher{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.WithField("component", "s3-fetcher"),
	}, nil
}

// Fetch implements types.AssetFetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	objectKey := key
	if f.keyPrefix != "" {
		objectKey = path.Join(f.keyPrefix, key)
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeFetchTimeout, "s3 fetch canceled", err).
				WithContext("key", objectKey)
		}
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "s3 fetch failed", err).
			WithContext("bucket", f.bucket).
			WithContext("key", objectKey)
	}
	defer func() { _ = out.Body.Close() }()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "s3 body read failed", err).
			WithContext("key", objectKey)
	}
	if len(payload) == 0 {
		return nil, errors.New(errors.ErrCodeAssetNotFound, "s3 object is empty").
			WithContext("key", objectKey)
	}

	f.logger.Debug("fetched object", map[string]interface{}{
		"key":  objectKey,
		"size": len(payload),
	})
	return payload, nil
}
