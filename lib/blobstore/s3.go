package blobstore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Store keeps artifacts in an S3 (or compatible, e.g. minio) bucket.
// Folders do not exist in a flat keyspace and publish is implicit: the
// public URL is a long-lived presigned GET.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string

	PresignExpiry time.Duration
}

type S3Options struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	Bucket       string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:        client,
		presign:       s3.NewPresignClient(client),
		bucket:        opts.Bucket,
		PresignExpiry: 7 * 24 * time.Hour,
	}, nil
}

func keyFromPath(path string) string {
	return strings.TrimPrefix(path, "/")
}

func (s *S3Store) Exists(ctx context.Context, path string) (bool, string, error) {
	key := keyFromPath(path)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return false, "", nil
		}
		return false, "", err
	}

	publicUrl, err := s.PublicURL(ctx, path)
	if err != nil {
		return true, "", err
	}
	return true, publicUrl, nil
}

func (s *S3Store) EnsureDir(ctx context.Context, dir string) error {
	return nil
}

func (s *S3Store) Upload(ctx context.Context, path string, contents []byte) error {
	key := keyFromPath(path)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(contents),
	})
	return err
}

func (s *S3Store) Publish(ctx context.Context, path string) error {
	return nil
}

func (s *S3Store) PublicURL(ctx context.Context, path string) (string, error) {
	key := keyFromPath(path)
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.PresignExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
