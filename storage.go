package kpata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/marcdevi/kpata/config"
)

// ObjectStore abstracts the bucket that holds source uploads, exports and
// thumbnails. Keys are opaque; PublicURL turns a key into a user-servable
// link.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Bucket() string
	PublicURL(key string) string
}

// S3Store talks to an S3-compatible bucket (AWS or a MinIO-style endpoint).
type S3Store struct {
	client  *s3.S3
	bucket  string
	urlBase string
}

// NewS3Store builds the store from configuration. A custom endpoint switches
// the client to path-style addressing, which self-hosted gateways require.
func NewS3Store(conf *config.Configuration) (*S3Store, error) {
	awsConfig := &aws.Config{
		Region:      aws.String(conf.Storage.S3Region),
		Credentials: credentials.NewStaticCredentials(conf.Storage.AwsAccessKeyId, conf.Storage.AwsSecretAccessKey, ""),
	}
	if conf.Storage.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(conf.Storage.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create s3 session")
	}

	return &S3Store{
		client:  s3.New(sess),
		bucket:  conf.Storage.S3BucketName,
		urlBase: strings.TrimSuffix(conf.Storage.PublicUrlBase, "/"),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, contentType string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload object %s", key)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch object %s", key)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Bucket() string {
	return s.bucket
}

func (s *S3Store) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s", s.urlBase, key)
}
