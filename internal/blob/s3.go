// Package blob uploads chat attachments to an S3-compatible bucket.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrEmpty           = errors.New("blob: empty payload")
	ErrUnsupportedType = errors.New("blob: unsupported content type")
)

type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	PathStyle       bool
}

type UploadOptions struct {
	Folder       string
	ID           string
	ResourceType string
}

type Result struct {
	SecureURL   string
	Key         string
	ContentType string
	Size        int
}

type S3Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		// R2 and MinIO reject the streaming checksum trailer.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Upload stores data under <folder>/<id><ext> and returns its public URL.
// The extension and content type are sniffed from the payload; an "image"
// resource type only accepts image/* payloads.
func (s *S3Store) Upload(ctx context.Context, data []byte, opts UploadOptions) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	mtype := mimetype.Detect(data)
	if opts.ResourceType == "image" && !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	key := path.Join(opts.Folder, id+mtype.Extension())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mtype.String()),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &Result{
		SecureURL:   s.publicURL + "/" + key,
		Key:         key,
		ContentType: mtype.String(),
		Size:        len(data),
	}, nil
}
