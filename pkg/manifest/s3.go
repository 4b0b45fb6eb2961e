package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/lumaops/provisioner/pkg/engine"
)

// S3Options configures access to an S3-compatible bucket.
type S3Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the manifest in an S3 object and uses the ETag with
// If-Match / If-None-Match as the conditional write marker.
type S3Store struct {
	client s3API
	bucket string
	key    string
}

// NewS3Store creates an S3 client from opts and returns a store for bucket/key.
func NewS3Store(ctx context.Context, bucket, key string, opts S3Options) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &S3Store{client: client, bucket: bucket, key: key}, nil
}

// Read downloads the object together with its ETag.
func (s *S3Store) Read(ctx context.Context) (*Blob, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, classifyS3("GetObject", s.Location(), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, engine.NewTransientError("failed to read manifest object", err).WithResource(s.Location())
	}

	return &Blob{Data: data, Generation: aws.ToString(out.ETag)}, nil
}

// Write uploads data conditioned on the ETag.
func (s *S3Store) Write(ctx context.Context, data []byte, ifGeneration string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentType),
	}
	if ifGeneration == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(ifGeneration)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		if isS3PreconditionFailed(err) {
			return "", ErrPreconditionFailed
		}
		return "", classifyS3("PutObject", s.Location(), err)
	}

	return aws.ToString(out.ETag), nil
}

// Location returns the s3:// URI of the object.
func (s *S3Store) Location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func isS3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func classifyS3(op, resource string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
			return engine.NewPermanentError("manifest storage rejected request", err).
				WithCode(engine.ErrCodePermissionDenied).WithResource(resource).WithOperation(op)
		}
	}
	return engine.NewTransientError("manifest storage unavailable", err).
		WithCode(engine.ErrCodeUnavailable).WithResource(resource).WithOperation(op)
}
