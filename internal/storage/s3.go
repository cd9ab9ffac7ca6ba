package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// ProviderS3 is the provider name for S3-compatible object storage.
const ProviderS3 = "s3"

// S3Options configures the S3 provider. Endpoint and UsePathStyle support
// S3-compatible stores such as MinIO.
type S3Options struct {
	Bucket        string
	Region        string
	AccessKeyID   string
	SecretKey     string
	Endpoint      string
	UsePathStyle  bool
	PublicBaseURL string
}

// S3Store handles uploads and downloads to S3-compatible storage.
type S3Store struct {
	bucket    string
	publicURL string
	client    *s3.Client
	presigner *s3.PresignClient
	log       zerolog.Logger
}

// NewS3Store builds an S3 provider from static credentials.
func NewS3Store(ctx context.Context, opts S3Options, log zerolog.Logger) (*S3Store, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if opts.Endpoint != "" {
			return aws.Endpoint{
				URL:           opts.Endpoint,
				PartitionID:   "aws",
				SigningRegion: opts.Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
	})
	return &S3Store{
		bucket:    bucket,
		publicURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		client:    client,
		presigner: s3.NewPresignClient(client),
		log:       log.With().Str("component", "s3-storage").Logger(),
	}, nil
}

func (s *S3Store) Name() string { return ProviderS3 }

func (s *S3Store) objectURL(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *S3Store) Upload(ctx context.Context, key string, content []byte, contentType string, metadata map[string]string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", storageErr(ProviderS3, "upload", key, err)
	}
	return s.objectURL(key), nil
}

func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storageErr(ProviderS3, "download", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, storageErr(ProviderS3, "download", key, err)
	}
	return data, nil
}

func (s *S3Store) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedUpload, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, storageErr(ProviderS3, "presign-upload", key, err)
	}
	return &PresignedUpload{
		URL:       req.URL,
		Method:    req.Method,
		Fields:    map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

func (s *S3Store) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", storageErr(ProviderS3, "presign-download", key, err)
	}
	return req.URL, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	existed, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, storageErr(ProviderS3, "delete", key, err)
	}
	return true, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, storageErr(ProviderS3, "exists", key, err)
	}
	return true, nil
}

func (s *S3Store) Metadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storageErr(ProviderS3, "metadata", key, err)
	}
	meta := &ObjectMetadata{Key: key}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		meta.LastModified = out.LastModified.UTC()
	}
	return meta, nil
}

// Health performs a HeadBucket request, used by readiness probes.
func (s *S3Store) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

var _ Provider = (*S3Store)(nil)
