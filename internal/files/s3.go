// Package files resolves uploaded file ids for the submission workflow.
//
// Uploads themselves happen outside this service; by the time a submission
// references a file id the object is expected in a bucket (S3 or MinIO) or
// registered in the database. Both backends implement core.FileResolver.
package files

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// S3Config locates the bucket holding uploaded files.
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string
	Endpoint  string // Non-empty for MinIO or other S3-compatible stores.
	AccessKey string
	SecretKey string
}

// headObjectAPI is the part of *s3.Client the resolver uses.
type headObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Resolver answers file existence with HeadObject. Object keys are
// "<prefix>/<file id>".
type S3Resolver struct {
	client headObjectAPI
	bucket string
	prefix string
}

// NewS3Resolver builds an S3 client from cfg. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func NewS3Resolver(ctx context.Context, cfg S3Config) (*S3Resolver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("files: S3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Resolver(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Resolver(client headObjectAPI, bucket, prefix string) *S3Resolver {
	return &S3Resolver{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a file id.
func (r *S3Resolver) Key(id uuid.UUID) string {
	if r.prefix == "" {
		return id.String()
	}
	return path.Join(r.prefix, id.String())
}

// FileExists implements core.FileResolver. A missing object is (false, nil);
// any other failure is returned as an error.
func (r *S3Resolver) FileExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.Key(id)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s: %w", r.Key(id), err)
}

// isNotFound recognizes a missing object. HeadObject has no body, so the
// service reports a bare "NotFound" code rather than types.NoSuchKey.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
