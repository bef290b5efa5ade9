package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/internal/util"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const DefaultPrefix = "processed"

type S3Params struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// S3ParamsFromEnv reads the AWS_* settings. Bucket and credentials are
// required.
func S3ParamsFromEnv() (S3Params, error) {
	env, err := util.RequireEnv("AWS_BUCKET", "AWS_ACCESS_KEY", "AWS_SECRET_KEY")
	if err != nil {
		return S3Params{}, err
	}
	return S3Params{
		Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
		Endpoint:  util.GetEnvString("AWS_ENDPOINT", ""),
		AccessKey: env["AWS_ACCESS_KEY"],
		SecretKey: env["AWS_SECRET_KEY"],
		Bucket:    env["AWS_BUCKET"],
		Prefix:    util.GetEnvString("AWS_PREFIX", DefaultPrefix),
	}, nil
}

func NewS3Client(ctx context.Context, params S3Params) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	}
	if params.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(params.Endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Archiver uploads consumed files to a bucket and removes the local
// copies once every upload succeeded.
type S3Archiver struct {
	client objectStore
	bucket string
	prefix string
}

func NewS3Archiver(client objectStore, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (a *S3Archiver) key(p string) string {
	return path.Join(a.prefix, filepath.Base(p))
}

// Archive implements loader.Archiver. Locations are returned as s3:// URIs.
// A failed upload deletes the objects already uploaded and leaves every
// local file in place.
func (a *S3Archiver) Archive(ctx context.Context, paths []string) ([]string, error) {
	moved := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := a.put(ctx, p); err != nil {
			a.rollback(paths[:len(moved)])
			return nil, err
		}
		moved = append(moved, fmt.Sprintf("s3://%s/%s", a.bucket, a.key(p)))
	}

	// Every file is in the bucket now; a leftover local copy is picked up
	// again by the next run and upserted in place.
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			logger.Warn("[Storage] Failed to remove archived file", "file", p, "err", err)
		}
	}
	logger.Debug("[Storage] Archived files", "bucket", a.bucket, "files", len(moved))
	return moved, nil
}

func (a *S3Archiver) rollback(uploaded []string) {
	// the request context may be what failed the upload
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, p := range uploaded {
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.key(p)),
		})
		if err != nil {
			logger.Error("[Storage] Failed to delete uploaded object", "bucket", a.bucket, "key", a.key(p), "err", err)
		}
	}
}

func (a *S3Archiver) put(ctx context.Context, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(p)),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", p, err)
	}
	return nil
}
