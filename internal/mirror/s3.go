// Package mirror copies promoted feed files to object storage.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror uploads a copy of every promoted feed file to a bucket. Object keys
// do not contain the feed secret.
type S3Mirror struct {
	client objectPutter
	bucket string
	prefix string
}

// New builds a mirror with static credentials when given, the default AWS
// credential chain otherwise.
func New(ctx context.Context, bucket, accessKey, secretKey, region string) (*S3Mirror, error) {
	if bucket == "" {
		return nil, errors.New("mirror: bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return &S3Mirror{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: "feeds"}, nil
}

// Key is the object key a feed type is mirrored to.
func (m *S3Mirror) Key(feedType string) string {
	return path.Join(m.prefix, feedType, feedType+"_feed.csv")
}

func (m *S3Mirror) Mirror(ctx context.Context, feedType, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open feed file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat feed file: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(m.Key(feedType)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("text/csv; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3: %w", feedType, err)
	}
	return nil
}
