// Package storage persists report and event photos.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/photo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/pkg/utilities"
)

// PhotoStore saves an image and returns a URL clients can render.
type PhotoStore interface {
	Put(ctx context.Context, prefix string, img photo.Image) (string, error)
}

type Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
}

// ConfigFromEnv reads S3_* variables. An empty bucket selects the inline store.
func ConfigFromEnv() Config {
	cfg := Config{
		Bucket:        os.Getenv("S3_BUCKET"),
		Region:        os.Getenv("S3_REGION"),
		Endpoint:      os.Getenv("S3_ENDPOINT"),
		PublicBaseURL: strings.TrimRight(os.Getenv("S3_PUBLIC_BASE_URL"), "/"),
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return cfg
}

// New returns an S3Store when a bucket is configured and an InlineStore
// otherwise.
func New(ctx context.Context, cfg Config) (PhotoStore, error) {
	if cfg.Bucket == "" {
		return InlineStore{}, nil
	}
	return NewS3Store(ctx, cfg)
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads photos under "<prefix>/<ksuid>.jpg".
type S3Store struct {
	client  putObjectAPI
	bucket  string
	baseURL string
}

func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO / LocalStack
		}
	})
	base := cfg.PublicBaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return &S3Store{client: client, bucket: cfg.Bucket, baseURL: base}, nil
}

func (s *S3Store) Put(ctx context.Context, prefix string, img photo.Image) (string, error) {
	key := path.Join(prefix, utilities.NewKSUID()+extFor(img.MIMEType))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(img.Data),
		ContentType:  aws.String(img.MIMEType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}

// InlineStore keeps the photo in the row itself as a data URL.
type InlineStore struct{}

func (InlineStore) Put(_ context.Context, _ string, img photo.Image) (string, error) {
	return img.DataURL(), nil
}

func extFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
