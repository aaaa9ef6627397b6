package stream

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arcmill/arcmill/internal/events"
)

// S3API is the subset of the S3 client the source needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Source reads an S3 object through ranged GETs, so arbitrarily large
// archives never need a full download.
type S3Source struct {
	client S3API
	bucket string
	key    string
	size   int64
	logger *events.Logger
}

// NewS3Source sizes the object with a HEAD request and returns a source
// over it.
func NewS3Source(ctx context.Context, client S3API, bucket, key string, logger *events.Logger) (*S3Source, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 head object: %w", err)
	}

	return &S3Source{
		client: client,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
		logger: logger.WithField("component", "s3_source"),
	}, nil
}

// OpenS3Source builds a source using the default AWS credential chain.
func OpenS3Source(ctx context.Context, bucket, key string, logger *events.Logger) (*S3Source, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Source(ctx, s3.NewFromConfig(cfg), bucket, key, logger)
}

// ReadAt satisfies Source with a ranged GET per call.
func (s *S3Source) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	want := len(p)
	if end >= s.size {
		end = s.size - 1
		want = int(s.size - off)
	}

	result, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, fmt.Errorf("s3 get range %d-%d: %w", off, end, err)
	}
	defer result.Body.Close()

	n, err := io.ReadFull(result.Body, p[:want])
	if err != nil {
		return n, fmt.Errorf("s3 read body: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"offset": off,
		"bytes":  n,
	}).Debug("Read S3 range")

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *S3Source) Size() int64 { return s.size }

func (s *S3Source) Name() string { return path.Base(s.key) }
